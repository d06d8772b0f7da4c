package tailer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mmdvmmon/stats"
)

func startTailer(t *testing.T, dir string) (*Tailer, context.CancelFunc) {
	t.Helper()
	tl := New(dir, "MMDVM-*.log", 20*time.Millisecond, stats.NewTracker())
	ctx, cancel := context.WithCancel(context.Background())
	go tl.Run(ctx)
	t.Cleanup(cancel)
	return tl, cancel
}

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func collect(t *testing.T, tl *Tailer, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	deadline := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case line, ok := <-tl.Lines():
			if !ok {
				t.Fatalf("lines channel closed after %d of %d lines", len(out), n)
			}
			out = append(out, line)
		case <-deadline:
			t.Fatalf("timed out after %d of %d lines: %v", len(out), n, out)
		}
	}
	return out
}

func expectNoLine(t *testing.T, tl *Tailer, wait time.Duration) {
	t.Helper()
	select {
	case line := <-tl.Lines():
		t.Fatalf("unexpected line: %q", line)
	case <-time.After(wait):
	}
}

func TestStartsAtEndOfFile(t *testing.T) {
	dir := t.TempDir()
	logA := filepath.Join(dir, "MMDVM-2025-01-04.log")
	appendLines(t, logA, "historical line 1", "historical line 2")

	tl, _ := startTailer(t, dir)
	// Give the tailer a moment to attach before appending.
	time.Sleep(100 * time.Millisecond)

	appendLines(t, logA, "live line")
	got := collect(t, tl, 1)
	if got[0] != "live line" {
		t.Fatalf("expected only the appended line, got %q", got[0])
	}
	expectNoLine(t, tl, 150*time.Millisecond)
}

// Purpose: Verify the rotation contract end to end.
// Key aspects: Every line from the old and new file arrives exactly once, in
// A-then-B order, with the old file drained before the switch.
// Upstream: go test execution.
// Downstream: Tailer.Run.
func TestRotationDeliversAllLinesInOrder(t *testing.T) {
	dir := t.TempDir()
	logA := filepath.Join(dir, "MMDVM-2025-01-04.log")
	appendLines(t, logA) // create empty

	tl, _ := startTailer(t, dir)
	time.Sleep(100 * time.Millisecond)

	appendLines(t, logA, "A1", "A2")
	if got := collect(t, tl, 2); got[0] != "A1" || got[1] != "A2" {
		t.Fatalf("pre-rotation lines wrong: %v", got)
	}

	// Final lines land in A just before the new day's file appears.
	appendLines(t, logA, "A3")
	logB := filepath.Join(dir, "MMDVM-2025-01-05.log")
	appendLines(t, logB, "B1", "B2")

	got := collect(t, tl, 3)
	want := []string{"A3", "B1", "B2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation order wrong: got %v want %v", got, want)
		}
	}

	appendLines(t, logB, "B3")
	if got := collect(t, tl, 1); got[0] != "B3" {
		t.Fatalf("post-rotation tailing broken: %v", got)
	}
}

func TestPartialLinesHeldUntilComplete(t *testing.T) {
	dir := t.TempDir()
	logA := filepath.Join(dir, "MMDVM-2025-01-04.log")
	appendLines(t, logA)

	tl, _ := startTailer(t, dir)
	time.Sleep(100 * time.Millisecond)

	f, err := os.OpenFile(logA, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("incomplete"); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectNoLine(t, tl, 150*time.Millisecond)

	if _, err := f.WriteString(" but finished\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	if got := collect(t, tl, 1); got[0] != "incomplete but finished" {
		t.Fatalf("partial line mangled: %q", got[0])
	}
}

func TestTruncationRestartsFromTop(t *testing.T) {
	dir := t.TempDir()
	logA := filepath.Join(dir, "MMDVM-2025-01-04.log")
	appendLines(t, logA)

	tl, _ := startTailer(t, dir)
	time.Sleep(100 * time.Millisecond)

	appendLines(t, logA, "before truncate")
	collect(t, tl, 1)

	if err := os.Truncate(logA, 0); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	// Give the tailer a poll cycle to observe the shrink before new content.
	time.Sleep(100 * time.Millisecond)
	appendLines(t, logA, "after truncate")

	if got := collect(t, tl, 1); got[0] != "after truncate" {
		t.Fatalf("expected line after truncation, got %q", got[0])
	}
}

func TestMissingDirectoryIsNotFatal(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "logs")

	tl, _ := startTailer(t, dir)
	time.Sleep(100 * time.Millisecond)

	// Directory and file appear only after the tailer is already running.
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	logA := filepath.Join(dir, "MMDVM-2025-01-04.log")
	appendLines(t, logA, "first line ever")

	// A file that appears after startup is read from the beginning.
	if got := collect(t, tl, 1); got[0] != "first line ever" {
		t.Fatalf("expected first line, got %q", got[0])
	}
}

func TestCancelClosesLines(t *testing.T) {
	dir := t.TempDir()
	appendLines(t, filepath.Join(dir, "MMDVM-2025-01-04.log"))

	tl, cancel := startTailer(t, dir)
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case _, ok := <-tl.Lines():
		if ok {
			return // drained a leftover line; channel close follows
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lines channel not closed after cancel")
	}
}
