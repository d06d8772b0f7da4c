// Package tailer follows the active MMDVMHost log file across daily rotation.
//
// MMDVMHost appends to a date-stamped file (MMDVM-2025-01-04.log) and opens a
// new one at midnight. The tailer identifies the current file as the
// lexicographically latest match of the configured pattern, reads appended
// bytes as they arrive (fsnotify when available, with a periodic poll as the
// fallback), and on rotation drains the outgoing file before switching to the
// new one so the last lines of the day are never lost.
//
// Startup begins at end-of-file: the monitor reflects current activity, not a
// historical replay. Files that appear later (rotation) are read from the
// beginning. Nothing here is fatal after startup; a missing directory or file
// is reported and polled until it shows up.
package tailer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"mmdvmmon/internal/ratelimit"
	"mmdvmmon/stats"
)

// maxBackoff caps the retry delay after repeated open/read failures.
const maxBackoff = 30 * time.Second

// Tailer follows the active log file and emits raw lines in file order,
// exactly once each, across any number of rotations.
type Tailer struct {
	dir     string
	pattern string
	poll    time.Duration
	lines   chan string
	tracker *stats.Tracker

	missingLog ratelimit.Counter
	errorLog   ratelimit.Counter

	// mutable state owned by the Run goroutine
	file    *os.File
	reader  *bufio.Reader
	path    string
	offset  int64
	partial []byte
	backoff time.Duration
	// skipExisting is true until the first file is acquired; it only forces
	// a seek to end-of-file when that file predates the tailer (startup is
	// not a replay). A file that appears after startup is new content.
	skipExisting bool
}

// New creates a tailer for dir/pattern with the given fallback poll interval.
func New(dir, pattern string, poll time.Duration, tracker *stats.Tracker) *Tailer {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Tailer{
		dir:        dir,
		pattern:    pattern,
		poll:       poll,
		lines:      make(chan string, 256),
		tracker:    tracker,
		missingLog: ratelimit.NewCounter(ratelimit.DefaultLogInterval),
		errorLog:   ratelimit.NewCounter(ratelimit.DefaultLogInterval),
	}
}

// Lines returns the output channel. It is closed when Run returns.
func (t *Tailer) Lines() <-chan string {
	return t.lines
}

// Run tails until ctx is cancelled. It closes the Lines channel and the
// current file handle on the way out.
func (t *Tailer) Run(ctx context.Context) {
	defer close(t.lines)
	defer t.closeFile()

	t.skipExisting = t.latest() != ""

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("Tailer: fsnotify unavailable (%v), using poll every %s", err, t.poll)
		watcher = nil
	}
	if watcher != nil {
		defer watcher.Close()
	}
	watching := false

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		if watcher != nil && !watching {
			if err := watcher.Add(t.dir); err == nil {
				watching = true
			}
		}

		if t.file == nil {
			if !t.acquire(ctx) {
				if ctx.Err() != nil {
					return
				}
				if !t.wait(ctx, ticker, watcher) {
					return
				}
				continue
			}
		}

		if !t.drain(ctx) {
			return
		}

		// Rotation: a later file matching the pattern exists. The drain
		// above already consumed everything written to the old file before
		// we looked, so closing now cannot drop lines.
		if latest := t.latest(); latest != "" && latest != t.path {
			if !t.drain(ctx) {
				return
			}
			log.Printf("Tailer: rotating %s -> %s", filepath.Base(t.path), filepath.Base(latest))
			t.closeFile()
			if t.tracker != nil {
				t.tracker.Rotation()
			}
			continue
		}

		t.checkTruncation()

		if !t.wait(ctx, ticker, watcher) {
			return
		}

		// The directory watch dies if the directory is removed; re-add on
		// the next pass.
		if watcher != nil && watching {
			if _, err := os.Stat(t.dir); err != nil {
				watcher.Remove(t.dir)
				watching = false
			}
		}
	}
}

// latest returns the newest file matching the pattern, or "" when none
// exists. Date-stamped names sort lexicographically in temporal order.
func (t *Tailer) latest() string {
	matches, err := filepath.Glob(filepath.Join(t.dir, t.pattern))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[len(matches)-1]
}

// acquire opens the current log file. The very first acquisition seeks to
// end-of-file; every later one (a rotated-in file) starts at the beginning.
// Returns false when no file could be opened.
func (t *Tailer) acquire(ctx context.Context) bool {
	path := t.latest()
	if path == "" {
		if total, allow := t.missingLog.Inc(); allow {
			log.Printf("Tailer: no file matching %s in %s yet (checked %d times)", t.pattern, t.dir, total)
		}
		t.bumpBackoff()
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		if _, allow := t.errorLog.Inc(); allow {
			log.Printf("Tailer: open %s: %v (will retry)", path, err)
		}
		t.bumpBackoff()
		return false
	}

	var offset int64
	if t.skipExisting {
		offset, err = f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			t.bumpBackoff()
			return false
		}
	}
	t.skipExisting = false
	t.file = f
	t.path = path
	t.offset = offset
	t.partial = t.partial[:0]
	t.reader = bufio.NewReader(f)
	t.backoff = 0
	log.Printf("Tailer: following %s from offset %d", path, offset)
	return true
}

// drain reads every complete line currently available and emits it. A
// trailing fragment without a newline stays buffered until the writer
// finishes it. Returns false only when ctx is cancelled.
func (t *Tailer) drain(ctx context.Context) bool {
	if t.reader == nil {
		return true
	}
	for {
		chunk, err := t.reader.ReadBytes('\n')
		if len(chunk) > 0 {
			t.offset += int64(len(chunk))
			t.partial = append(t.partial, chunk...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				if _, allow := t.errorLog.Inc(); allow {
					log.Printf("Tailer: read %s: %v (will retry)", t.path, err)
				}
			}
			return true
		}
		line := strings.TrimRight(string(t.partial), "\r\n")
		t.partial = t.partial[:0]
		if line == "" {
			continue
		}
		select {
		case t.lines <- line:
		case <-ctx.Done():
			return false
		}
	}
}

// checkTruncation restarts from the top of the current file if it shrank
// underneath us (copytruncate-style rotation).
func (t *Tailer) checkTruncation() {
	if t.file == nil {
		return
	}
	st, err := t.file.Stat()
	if err != nil {
		return
	}
	if st.Size() < t.offset {
		log.Printf("Tailer: %s truncated (%d -> %d), restarting from beginning", filepath.Base(t.path), t.offset, st.Size())
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			t.closeFile()
			return
		}
		t.offset = 0
		t.partial = t.partial[:0]
		t.reader.Reset(t.file)
	}
}

// wait blocks until something worth checking happens: a filesystem event in
// the watched directory, the fallback poll tick, or the retry backoff timer.
// Returns false when ctx is cancelled.
func (t *Tailer) wait(ctx context.Context, ticker *time.Ticker, watcher *fsnotify.Watcher) bool {
	var backoffC <-chan time.Time
	if t.backoff > 0 {
		timer := time.NewTimer(t.backoff)
		defer timer.Stop()
		backoffC = timer.C
	}

	var events chan fsnotify.Event
	var errs chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	select {
	case <-ctx.Done():
		return false
	case <-ticker.C:
	case <-backoffC:
	case <-events:
		// Any create or write in the directory is a reason to re-check;
		// filtering by name here would just duplicate latest().
	case err := <-errs:
		if err != nil {
			if _, allow := t.errorLog.Inc(); allow {
				log.Printf("Tailer: watcher error: %v", err)
			}
		}
	}
	return true
}

func (t *Tailer) bumpBackoff() {
	if t.backoff == 0 {
		t.backoff = t.poll
	} else {
		t.backoff *= 2
	}
	if t.backoff > maxBackoff {
		t.backoff = maxBackoff
	}
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
		t.reader = nil
		t.partial = t.partial[:0]
	}
}
