// Package parser extracts structured events from MMDVMHost log lines.
//
// MMDVMHost writes lines of the form
//
//	M: 2025-01-04 10:23:45.123 DMR Slot 1, received RF voice header from G4KLX to TG 235
//
// where the leading letter is the severity (D/M/I/W/E/F) and the timestamp
// carries millisecond precision. Each supported mode contributes its own set
// of line shapes for contact start, contact end, and loss; the shapes live in
// a table evaluated in fixed order so adding a mode is a data change.
//
// Parse never fails on malformed input: a line that matches no shape yields
// (nil, false), exactly like a line the monitor does not care about. All
// patterns are anchored with bounded quantifiers so a corrupted line cannot
// stall the pipeline.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"mmdvmmon/qso"
)

// timestampLayout matches MMDVMHost's log timestamp (always UTC).
const timestampLayout = "2006-01-02 15:04:05.000"

// header splits a log line into severity, timestamp, and body. Body length is
// bounded to keep the later per-mode matching linear on sane input.
var header = regexp.MustCompile(`^([DMIWEF]): (\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}) (.{1,500})$`)

// matcher binds one compiled line shape to the event it produces.
type matcher struct {
	mode qso.Mode
	kind qso.EventKind
	re   *regexp.Regexp
	// build fills the mode-specific payload from the submatches. The
	// event arrives with Mode, Kind, and Timestamp already set.
	build func(ev *qso.LogEvent, m []string)
}

// Parser matches log line bodies against the mode table.
type Parser struct {
	matchers []matcher
}

// New returns a parser covering all supported modes.
func New() *Parser {
	return &Parser{matchers: buildMatchers()}
}

// Parse extracts an event from one raw log line. It returns (nil, false) for
// lines that match no known shape; that covers malformed input as well as
// the many MMDVMHost lines the monitor has no use for.
func (p *Parser) Parse(line string) (*qso.LogEvent, bool) {
	h := header.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if h == nil {
		return nil, false
	}
	severity, stamp, body := h[1], h[2], h[3]

	ts, err := time.Parse(timestampLayout, stamp)
	if err != nil {
		return nil, false
	}
	ts = ts.UTC()

	for i := range p.matchers {
		mt := &p.matchers[i]
		m := mt.re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		ev := &qso.LogEvent{
			Mode:      mt.mode,
			Kind:      mt.kind,
			Timestamp: ts,
			Raw:       line,
		}
		if mt.build != nil {
			mt.build(ev, m)
		}
		return ev, true
	}

	// Error-severity lines carry no structured payload but still matter to
	// the engine's error counters.
	if severity == "E" || severity == "F" {
		return &qso.LogEvent{
			Kind:      qso.KindError,
			Timestamp: ts,
			Message:   body,
			Raw:       line,
		}, true
	}

	return nil, false
}

// direction maps the literal that appears in MMDVMHost lines.
func direction(s string) qso.Direction {
	if strings.EqualFold(s, "network") {
		return qso.DirectionNetwork
	}
	return qso.DirectionRF
}

// parseFloat fills a metric field, leaving it absent when the text does not
// parse. A bad secondary metric must not cost us the whole event.
func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// buildEndMetrics parses the trailing metrics of an end-of-transmission body:
// duration, optional packet loss, optional BER, optional RSSI.
func buildEndMetrics(ev *qso.LogEvent, duration, loss, ber, rssi string) {
	ev.Duration, ev.HasDuration = parseFloat(duration)
	if loss != "" {
		ev.Loss, ev.HasLoss = parseFloat(loss)
	}
	if ber != "" {
		ev.BER, ev.HasBER = parseFloat(ber)
	}
	if rssi != "" {
		if v, err := strconv.Atoi(rssi); err == nil {
			ev.RSSI, ev.HasRSSI = v, true
		}
	}
}
