package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLogFileDate(t *testing.T) {
	parsed, ok := parseLogFileDate("mmdvmmon-2026-01-22.log")
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if parsed.Year() != 2026 || parsed.Month() != time.January || parsed.Day() != 22 {
		t.Fatalf("unexpected parsed date: %s", parsed.Format(time.RFC3339))
	}
	if _, ok := parseLogFileDate("notes.txt"); ok {
		t.Fatalf("expected non-log file to be rejected")
	}
	if _, ok := parseLogFileDate("mmdvmmon-garbage.log"); ok {
		t.Fatalf("expected malformed date to be rejected")
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"mmdvmmon-2026-01-20.log",
		"mmdvmmon-2026-01-21.log",
		"mmdvmmon-2026-01-22.log",
		"notes.txt",
	}
	for _, name := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	now := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if err := cleanupOldLogs(dir, now, 2); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "mmdvmmon-2026-01-20.log")); err == nil {
		t.Fatalf("expected oldest log to be removed")
	} else if !os.IsNotExist(err) {
		t.Fatalf("stat: %v", err)
	}
	expectPresent := []string{"mmdvmmon-2026-01-21.log", "mmdvmmon-2026-01-22.log", "notes.txt"}
	for _, name := range expectPresent {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to remain: %v", name, err)
		}
	}
}

func TestDailyFileSinkRollsOverAtMidnight(t *testing.T) {
	dir := t.TempDir()
	sink, err := newDailyFileSink(dir, 7)
	if err != nil {
		t.Fatalf("newDailyFileSink: %v", err)
	}
	defer sink.Close()

	day1 := time.Date(2026, time.January, 22, 23, 59, 59, 0, time.UTC)
	day2 := day1.Add(time.Second)

	sink.WriteLine("before midnight", day1)
	sink.WriteLine("after midnight", day2)

	first, err := os.ReadFile(filepath.Join(dir, "mmdvmmon-2026-01-22.log"))
	if err != nil {
		t.Fatalf("read day1 file: %v", err)
	}
	if !strings.Contains(string(first), "before midnight") {
		t.Fatalf("day1 file missing line: %q", first)
	}
	second, err := os.ReadFile(filepath.Join(dir, "mmdvmmon-2026-01-23.log"))
	if err != nil {
		t.Fatalf("read day2 file: %v", err)
	}
	if !strings.Contains(string(second), "after midnight") {
		t.Fatalf("day2 file missing line: %q", second)
	}
	if strings.Contains(string(first), "after midnight") {
		t.Fatalf("day1 file should not contain post-rollover line")
	}
}

func TestLogFanoutSplitsLines(t *testing.T) {
	var got []string
	sink := &captureSink{lines: &got}
	fanout := &logFanout{console: sink}

	// log.Logger writes one Write call per Print, but lines can also arrive
	// in fragments; both must come out as whole lines.
	fanout.Write([]byte("alpha\n"))
	fanout.Write([]byte("be"))
	fanout.Write([]byte("ta\ngamma\n"))

	want := []string{"alpha", "beta", "gamma"}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

type captureSink struct {
	lines *[]string
}

func (c *captureSink) WriteLine(line string, now time.Time) {
	*c.lines = append(*c.lines, line)
}

func (c *captureSink) Close() error { return nil }
