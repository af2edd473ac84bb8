package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eefei22/ser-engine/internal/clock"
	"github.com/eefei22/ser-engine/internal/queue"
	"github.com/rs/zerolog"
)

const testUser = "11111111-1111-1111-1111-111111111111"

func startWatcher(t *testing.T) (*Watcher, *queue.Queue, string) {
	t.Helper()
	watchDir := t.TempDir()
	q := queue.New(8)
	w := NewWatcher(watchDir, t.TempDir(), q, clock.NewFake(time.Now()), zerolog.Nop())
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w, q, watchDir
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestWatcherEnqueuesValidChunk(t *testing.T) {
	_, q, watchDir := startWatcher(t)

	path := filepath.Join(watchDir, testUser+"_chunk01.wav")
	if err := os.WriteFile(path, []byte("RIFF fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return q.Size() == 1 }, "watched file never enqueued")

	// Source file is consumed once enqueued.
	waitFor(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, "source file not removed after ingest")
}

func TestWatcherSkipsInvalidNames(t *testing.T) {
	w, q, watchDir := startWatcher(t)

	for _, name := range []string{
		"noprefix.wav",        // no <uuid>_ prefix
		"not-a-uuid_file.wav", // invalid uuid
		testUser + "_notes.txt", // wrong extension
	} {
		if err := os.WriteFile(filepath.Join(watchDir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, func() bool { return w.filesSkipped.Load() >= 2 }, "invalid files not evaluated")
	if q.Size() != 0 {
		t.Errorf("invalid files reached the queue: %d", q.Size())
	}
}
