package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mmdvmmon/broadcast"
	"mmdvmmon/engine"
	"mmdvmmon/qso"
	"mmdvmmon/stats"
)

func newTestServer(t *testing.T) (*Server, *engine.Engine, *broadcast.Hub, *httptest.Server) {
	t.Helper()
	hub := broadcast.NewHub()
	tracker := stats.NewTracker()
	e := engine.New(engine.Options{
		HistorySize:   16,
		Timeout:       30 * time.Second,
		SweepInterval: time.Second,
	}, hub, tracker)
	s := NewServer(":0", e, hub, tracker, 8)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	t.Cleanup(hub.Close)
	return s, e, hub, ts
}

func applyContact(e *engine.Engine, source string) {
	start := time.Date(2025, 1, 4, 10, 23, 45, 0, time.UTC)
	e.Apply(&qso.LogEvent{
		Mode: qso.ModeDMR, Kind: qso.KindContactStart, Direction: qso.DirectionRF,
		Slot: 1, Timestamp: start, Source: source, Destination: "TG 235",
	})
	e.Apply(&qso.LogEvent{
		Mode: qso.ModeDMR, Kind: qso.KindContactEnd, Direction: qso.DirectionRF,
		Slot: 1, Timestamp: start.Add(2 * time.Second), Duration: 2.0, HasDuration: true,
	})
}

func TestStatusEndpoint(t *testing.T) {
	_, e, _, ts := newTestServer(t)
	applyContact(e, "G4KLX")
	e.Apply(&qso.LogEvent{Kind: qso.KindModeChange, Mode: qso.ModeDMR, Timestamp: time.Now().UTC()})

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var snap engine.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Mode != qso.ModeDMR {
		t.Fatalf("expected mode DMR, got %s", snap.Mode)
	}
	if len(snap.History) != 1 || snap.History[0].Source != "G4KLX" {
		t.Fatalf("history wrong: %+v", snap.History)
	}
}

func TestHistoryEndpointLimit(t *testing.T) {
	_, e, _, ts := newTestServer(t)
	for _, call := range []string{"A1AA", "B2BB", "C3CC"} {
		applyContact(e, call)
	}

	resp, err := http.Get(ts.URL + "/api/qsos/history?limit=2")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	defer resp.Body.Close()

	var got []qso.QSO
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	// Newest first.
	if got[0].Source != "C3CC" || got[1].Source != "B2BB" {
		t.Fatalf("wrong order: %s, %s", got[0].Source, got[1].Source)
	}

	bad, err := http.Get(ts.URL + "/api/qsos/history?limit=zero")
	if err != nil {
		t.Fatalf("GET bad limit: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", bad.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, e, _, ts := newTestServer(t)
	applyContact(e, "G4KLX")
	s.tracker.LineMatched(string(qso.KindContactStart))

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !health.Healthy {
		t.Fatal("expected healthy")
	}
	if health.Totals.QSOsCompleted != 1 {
		t.Fatalf("expected 1 completed QSO, got %d", health.Totals.QSOsCompleted)
	}
	if health.EventCounts[string(qso.KindContactStart)] != 1 {
		t.Fatalf("expected event counts in health output, got %v", health.EventCounts)
	}
}

func TestWebSocketSnapshotThenLiveEvents(t *testing.T) {
	_, e, _, ts := newTestServer(t)
	applyContact(e, "G4KLX")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, first, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read snapshot frame: %v", err)
	}
	var frame struct {
		Type     string          `json:"type"`
		Snapshot engine.Snapshot `json:"snapshot"`
	}
	if err := json.Unmarshal(first, &frame); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if frame.Type != "snapshot" || len(frame.Snapshot.History) != 1 {
		t.Fatalf("bad snapshot frame: %s", first)
	}

	e.Apply(&qso.LogEvent{
		Mode: qso.ModeYSF, Kind: qso.KindContactStart, Direction: qso.DirectionRF,
		Timestamp: time.Now().UTC(), Source: "M0ABC", Destination: "ALL",
	})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, second, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read live frame: %v", err)
	}
	var n qso.Notification
	if err := json.Unmarshal(second, &n); err != nil {
		t.Fatalf("unmarshal notification: %v", err)
	}
	if n.Type != qso.NotifyContactStarted || n.QSO == nil || n.QSO.Source != "M0ABC" {
		t.Fatalf("bad live frame: %s", second)
	}
}
