package parser

import (
	"regexp"
	"strings"

	"mmdvmmon/qso"
)

// endTail is the metrics suffix shared by every end-of-transmission shape:
// duration, optional packet loss (network side), optional BER, optional RSSI
// (MMDVMHost logs min/max/avg; the first value is kept). All quantifiers are
// bounded.
// The numeric groups deliberately accept any digit/dot run: a mangled number
// ("2..3") still matches the shape, and the strconv failure downgrades that
// one metric to absent instead of discarding the whole event.
const endTail = `([0-9.]{1,10}) seconds` +
	`(?:, ([0-9.]{1,10})% packet loss)?` +
	`(?:, BER: ([0-9.]{1,10})%)?` +
	`(?:, RSSI: (-?\d{1,3})(?:/-?\d{1,3}){0,2} dBm)?$`

// fromTo captures the "from X to Y" remainder of a header line in one bounded
// group; splitFromTo pulls the parts back apart. MMDVMHost pads D-Star and
// YSF callsigns with spaces, so the split happens on the literal " to ".
const fromTo = `from (.{1,60})$`

// splitFromTo separates source and destination, dropping any trailing
// "via ..." routing note and collapsing the padding MMDVMHost inserts.
func splitFromTo(rest string) (source, dest string) {
	if i := strings.Index(rest, " via "); i >= 0 {
		rest = rest[:i]
	}
	source = rest
	if i := strings.Index(rest, " to "); i >= 0 {
		source, dest = rest[:i], rest[i+4:]
	}
	return collapse(source), collapse(dest)
}

// collapse trims a field and squeezes padded interior whitespace to single
// spaces ("TG  235" and "G4KLX  /ABCD" both come in padded).
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func startBuilder(dir string) func(*qso.LogEvent, []string) {
	return func(ev *qso.LogEvent, m []string) {
		ev.Direction = direction(dir)
		ev.Source, ev.Destination = splitFromTo(m[1])
	}
}

func endBuilder(dir string) func(*qso.LogEvent, []string) {
	return func(ev *qso.LogEvent, m []string) {
		ev.Direction = direction(dir)
		buildEndMetrics(ev, m[1], m[2], m[3], m[4])
	}
}

// dmrBuilder wraps another builder, pulling the slot number out of the first
// submatch so DMR events key on (mode, slot).
func dmrBuilder(inner func(*qso.LogEvent, []string)) func(*qso.LogEvent, []string) {
	return func(ev *qso.LogEvent, m []string) {
		ev.Slot = int(m[1][0] - '0')
		inner(ev, m[1:])
	}
}

// buildMatchers assembles the full (mode, kind) table. Order matters only
// within a mode: start shapes are tried before the more general end shapes.
func buildMatchers() []matcher {
	var t []matcher

	add := func(mode qso.Mode, kind qso.EventKind, expr string, build func(*qso.LogEvent, []string)) {
		t = append(t, matcher{mode: mode, kind: kind, re: regexp.MustCompile(expr), build: build})
	}

	// DMR: two independent slots, voice headers and late entries open a
	// contact, end-of-transmission and the loss/watchdog shapes close one.
	for _, dir := range []string{"RF", "network"} {
		add(qso.ModeDMR, qso.KindContactStart,
			`^DMR Slot ([12]), received `+dir+`(?: late entry| voice header| data header) `+fromTo,
			dmrBuilder(startBuilder(dir)))
		// Newer MMDVMHost builds repeat "from X to Y" on the end line; the
		// optional group absorbs it either way.
		add(qso.ModeDMR, qso.KindContactEnd,
			`^DMR Slot ([12]), received `+dir+` end of (?:voice |data )?transmission(?: from .{1,60}?)?, `+endTail,
			dmrBuilder(endBuilder(dir)))
	}
	add(qso.ModeDMR, qso.KindContactEnd,
		`^DMR Slot ([12]), RF voice transmission lost, `+endTail,
		dmrBuilder(endBuilder("RF")))
	add(qso.ModeDMR, qso.KindContactEnd,
		`^DMR Slot ([12]), network watchdog has expired, `+endTail,
		dmrBuilder(endBuilder("network")))

	// D-Star.
	for _, dir := range []string{"RF", "network"} {
		add(qso.ModeDStar, qso.KindContactStart,
			`^D-Star, received `+dir+` header `+fromTo, startBuilder(dir))
		add(qso.ModeDStar, qso.KindContactEnd,
			`^D-Star, received `+dir+` end of transmission, `+endTail, endBuilder(dir))
	}
	add(qso.ModeDStar, qso.KindContactEnd,
		`^D-Star, RF transmission lost, `+endTail, endBuilder("RF"))
	add(qso.ModeDStar, qso.KindContactEnd,
		`^D-Star, network watchdog has expired, `+endTail, endBuilder("network"))

	// YSF: network traffic announces itself with "data" rather than a header.
	add(qso.ModeYSF, qso.KindContactStart,
		`^YSF, received RF header `+fromTo, startBuilder("RF"))
	add(qso.ModeYSF, qso.KindContactStart,
		`^YSF, received network data `+fromTo, startBuilder("network"))
	add(qso.ModeYSF, qso.KindContactEnd,
		`^YSF, received RF end of transmission, `+endTail, endBuilder("RF"))
	add(qso.ModeYSF, qso.KindContactEnd,
		`^YSF, RF transmission lost, `+endTail, endBuilder("RF"))
	add(qso.ModeYSF, qso.KindContactEnd,
		`^YSF, network watchdog has expired, `+endTail, endBuilder("network"))

	// P25 and NXDN share their line shapes.
	for _, mode := range []qso.Mode{qso.ModeP25, qso.ModeNXDN} {
		name := string(mode)
		for _, dir := range []string{"RF", "network"} {
			add(mode, qso.KindContactStart,
				`^`+name+`, received `+dir+` (?:voice )?transmission `+fromTo, startBuilder(dir))
			add(mode, qso.KindContactEnd,
				`^`+name+`, received `+dir+` end of transmission, `+endTail, endBuilder(dir))
		}
		add(mode, qso.KindContactEnd,
			`^`+name+`, RF transmission lost, `+endTail, endBuilder("RF"))
		add(mode, qso.KindContactEnd,
			`^`+name+`, network watchdog has expired, `+endTail, endBuilder("network"))
	}

	// Mode changes come from the modem supervisor, not a per-mode handler.
	add("", qso.KindModeChange,
		`^Mode set to (D-Star|DMR|YSF|P25|NXDN|POCSAG|FM|Idle)$`,
		func(ev *qso.LogEvent, m []string) {
			ev.Mode = qso.Mode(m[1])
		})

	return t
}
