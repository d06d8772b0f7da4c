// Package qso defines the canonical structures flowing through the monitor
// pipeline: the LogEvent produced per matched MMDVMHost log line, the QSO
// lifecycle record, and the notifications fanned out to push consumers.
package qso

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// Mode identifies a digital voice or data mode handled by MMDVMHost.
type Mode string

const (
	ModeDStar  Mode = "D-Star"
	ModeDMR    Mode = "DMR"
	ModeYSF    Mode = "YSF"
	ModeP25    Mode = "P25"
	ModeNXDN   Mode = "NXDN"
	ModePOCSAG Mode = "POCSAG"
	ModeFM     Mode = "FM"
	ModeIdle   Mode = "Idle"
)

// Direction records whether a transmission arrived over the air or from the
// linked network.
type Direction string

const (
	DirectionRF      Direction = "RF"
	DirectionNetwork Direction = "NET"
)

// EventKind classifies what a matched log line means to the lifecycle engine.
type EventKind string

const (
	KindContactStart EventKind = "contact-start"
	KindContactEnd   EventKind = "contact-end"
	KindModeChange   EventKind = "mode-change"
	KindError        EventKind = "error"
)

// Key is the natural key for an in-flight contact. DMR runs two independent
// time slots on one frequency, so the slot participates in identity; every
// other mode uses slot 0.
type Key struct {
	Mode Mode `json:"mode"`
	Slot int  `json:"slot"`
}

func (k Key) String() string {
	if k.Slot > 0 {
		return fmt.Sprintf("%s/%d", k.Mode, k.Slot)
	}
	return string(k.Mode)
}

// Hash32 returns a 32-bit hash of the key and a timestamp at millisecond
// precision (the log's own resolution), used for duplicate-line suppression.
// Fixed-layout buffer keeps the result deterministic across platforms.
func (k Key) Hash32(at time.Time) uint32 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(at.UnixMilli()))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(k.Slot))
	copy(buf[12:24], k.Mode)
	return uint32(xxh3.Hash(buf[:]))
}

// LogEvent is the structured result of matching one log line. It is produced
// by the parser, owned by the pipeline, and never mutated after creation.
type LogEvent struct {
	Mode      Mode
	Kind      EventKind
	Direction Direction
	Slot      int       // DMR slot (1 or 2), 0 otherwise
	Timestamp time.Time // parsed from the line, millisecond precision

	// Contact fields (start events).
	Source      string // originating callsign
	Destination string // talk group, reflector, or destination callsign

	// Metrics (end events). The Has* flags distinguish a parsed zero from
	// an absent or unparseable field.
	Duration    float64 // seconds
	HasDuration bool
	BER         float64 // percent
	HasBER      bool
	RSSI        int // dBm, negative
	HasRSSI     bool
	Loss        float64 // percent packet loss (network transmissions)
	HasLoss     bool

	// Error events carry the raw message for diagnostics.
	Message string

	// Raw is the line the event was extracted from, kept for diagnostics.
	Raw string
}

// Key derives the lifecycle key for a contact event.
func (e *LogEvent) Key() Key {
	return Key{Mode: e.Mode, Slot: e.Slot}
}

// Status tracks a QSO through its lifecycle.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timed-out"
)

// QSO is a single contact. It is mutable only while active and only by the
// lifecycle engine; once it reaches a terminal status the engine hands out
// copies and never touches it again.
type QSO struct {
	ID          uuid.UUID  `json:"id"`
	Mode        Mode       `json:"mode"`
	Slot        int        `json:"slot,omitempty"`
	Direction   Direction  `json:"direction"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	Status      Status     `json:"status"`

	// StartUnknown marks a record synthesized from an end event that had no
	// matching start (monitor came up mid-contact).
	StartUnknown bool `json:"start_unknown,omitempty"`

	Duration float64  `json:"duration_seconds"`
	BER      *float64 `json:"ber,omitempty"`
	RSSI     *int     `json:"rssi,omitempty"`
	Loss     *float64 `json:"loss,omitempty"`
}

// Key returns the natural key the engine tracks this QSO under.
func (q *QSO) Key() Key {
	return Key{Mode: q.Mode, Slot: q.Slot}
}

// NewQSO creates an active QSO from a contact-start event.
func NewQSO(e *LogEvent) *QSO {
	return &QSO{
		ID:          uuid.New(),
		Mode:        e.Mode,
		Slot:        e.Slot,
		Direction:   e.Direction,
		Source:      e.Source,
		Destination: e.Destination,
		Start:       e.Timestamp,
		Status:      StatusActive,
	}
}

// NotificationType labels state-change notifications for push consumers.
type NotificationType string

const (
	NotifyContactStarted NotificationType = "contact_started"
	NotifyContactEnded   NotificationType = "contact_ended"
	NotifyContactTimeout NotificationType = "contact_timed_out"
	NotifyModeChanged    NotificationType = "mode_changed"
)

// Notification is the unit published through the broadcast hub. The QSO
// pointer (when present) refers to a record the engine has finished writing;
// consumers must treat it as read-only.
type Notification struct {
	Type NotificationType `json:"type"`
	At   time.Time        `json:"at"`
	Mode Mode             `json:"mode,omitempty"`
	QSO  *QSO             `json:"qso,omitempty"`
}
