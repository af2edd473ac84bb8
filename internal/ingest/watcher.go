// Package ingest provides the optional directory ingest mode: WAV chunks
// dropped into a watched directory are enqueued exactly like uploads.
package ingest

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eefei22/ser-engine/internal/queue"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Clock is the subset of clock.Clock the watcher needs.
type Clock interface {
	Now() time.Time
}

// Watcher monitors a directory for files named <user-uuid>_*.wav. Each
// file is copied into a fresh temp file (the queue's single-owner
// contract), enqueued, and the source removed.
type Watcher struct {
	dir    string
	tmpDir string
	queue  *queue.Queue
	clock  Clock
	log    zerolog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}

	// Debounce: coalesce rapid Create+Write events on the same file so a
	// chunk is only picked up once its writer has settled.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesEnqueued atomic.Int64
	filesSkipped  atomic.Int64
}

const settleDelay = 250 * time.Millisecond

func NewWatcher(dir, tmpDir string, q *queue.Queue, clk Clock, log zerolog.Logger) *Watcher {
	return &Watcher{
		dir:            dir,
		tmpDir:         tmpDir,
		queue:          q,
		clock:          clk,
		log:            log.With().Str("component", "watcher").Logger(),
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
	}
}

func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw
	go w.loop()
	w.log.Info().Str("watch_dir", w.dir).Msg("file watcher started")
	return nil
}

func (w *Watcher) Stop() {
	if w.watcher != nil {
		w.watcher.Close()
	}
	<-w.done
	w.log.Info().
		Int64("files_enqueued", w.filesEnqueued.Load()).
		Int64("files_skipped", w.filesSkipped.Load()).
		Msg("file watcher stopped")
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(strings.ToLower(event.Name), ".wav") {
				continue
			}
			w.debounce(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) debounce(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(settleDelay)
		return
	}
	w.debounceTimers[path] = time.AfterFunc(settleDelay, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()
		w.ingest(path)
	})
}

func (w *Watcher) ingest(path string) {
	base := filepath.Base(path)
	userID, _, found := strings.Cut(base, "_")
	if !found {
		w.filesSkipped.Add(1)
		w.log.Warn().Str("file", base).Msg("skipping file without <uuid>_ prefix")
		return
	}
	if _, err := uuid.Parse(userID); err != nil {
		w.filesSkipped.Add(1)
		w.log.Warn().Str("file", base).Msg("skipping file with invalid uuid prefix")
		return
	}

	src, err := os.Open(path)
	if err != nil {
		w.filesSkipped.Add(1)
		w.log.Warn().Err(err).Str("file", base).Msg("cannot open watched file")
		return
	}
	tmp, err := os.CreateTemp(w.tmpDir, "chunk-*.wav")
	if err != nil {
		src.Close()
		w.filesSkipped.Add(1)
		w.log.Error().Err(err).Msg("temp file creation failed")
		return
	}
	_, copyErr := io.Copy(tmp, src)
	src.Close()
	tmp.Close()
	if copyErr != nil {
		os.Remove(tmp.Name())
		w.filesSkipped.Add(1)
		w.log.Warn().Err(copyErr).Str("file", base).Msg("copying watched file failed")
		return
	}

	job := queue.Job{
		UserID:     userID,
		AudioPath:  tmp.Name(),
		ReceivedAt: w.clock.Now(),
		Filename:   base,
	}
	if err := w.queue.Enqueue(job); err != nil {
		os.Remove(tmp.Name())
		w.filesSkipped.Add(1)
		w.log.Error().Err(err).Str("file", base).Msg("enqueue failed, source file left in place")
		return
	}

	if err := os.Remove(path); err != nil {
		w.log.Warn().Err(err).Str("file", base).Msg("failed to remove ingested source file")
	}
	w.filesEnqueued.Add(1)
	w.log.Debug().Str("user_id", userID).Str("file", base).Msg("watched file enqueued")
}
