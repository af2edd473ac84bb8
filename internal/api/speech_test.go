package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/eefei22/ser-engine/internal/clock"
	"github.com/eefei22/ser-engine/internal/database"
	"github.com/eefei22/ser-engine/internal/emotion"
	"github.com/eefei22/ser-engine/internal/pipeline"
	"github.com/eefei22/ser-engine/internal/queue"
	"github.com/eefei22/ser-engine/internal/resultlog"
	"github.com/eefei22/ser-engine/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const testUser = "11111111-1111-1111-1111-111111111111"

// fakeStore satisfies Store for handler tests.
type fakeStore struct {
	speechRaw []struct {
		UserID string
		Label  string
		Conf   float64
		At     time.Time
	}
	face, vitals int

	signals     []emotion.Signal
	signalsErr  error
	lowWater    time.Time
	haveMark    bool
	lowWaterErr error
}

func (f *fakeStore) InsertSyntheticSpeechRaw(ctx context.Context, userID string, t time.Time, rawLabel string, conf float64) error {
	f.speechRaw = append(f.speechRaw, struct {
		UserID string
		Label  string
		Conf   float64
		At     time.Time
	}{userID, rawLabel, conf, t})
	return nil
}

func (f *fakeStore) InsertFaceEmotionSynthetic(ctx context.Context, userID string, t time.Time, label emotion.Label, conf float64) error {
	f.face++
	return nil
}

func (f *fakeStore) InsertVitalsEmotionSynthetic(ctx context.Context, userID string, t time.Time, label emotion.Label, conf float64) error {
	f.vitals++
	return nil
}

func (f *fakeStore) QueryVoiceEmotionSignals(ctx context.Context, userID string, start, end time.Time, includeSynthetic bool) ([]emotion.Signal, error) {
	return f.signals, f.signalsErr
}

func (f *fakeStore) LastDownstreamConsumption(ctx context.Context, userID string) (time.Time, bool, error) {
	return f.lowWater, f.haveMark, f.lowWaterErr
}

func (f *fakeStore) HealthCheck(ctx context.Context) error { return nil }

type noopAnalyzer struct{}

func (noopAnalyzer) Analyze(ctx context.Context, path string) (*pipeline.Analysis, error) {
	return nil, errors.New("not used")
}

type noopVoiceStore struct{}

func (noopVoiceStore) InsertVoiceEmotion(ctx context.Context, row *database.VoiceEmotionRow) (*database.VoiceEmotionRow, error) {
	return row, nil
}

func newSpeechFixture(t *testing.T, capacity int) (*SpeechHandler, *queue.Queue, string, *fakeStore) {
	t.Helper()
	q := queue.New(capacity)
	sessions := session.NewTracker(60*time.Second, zerolog.Nop())
	results := resultlog.New(500, 1000)
	worker := queue.NewWorker(queue.WorkerOptions{
		Queue:    q,
		Analyzer: noopAnalyzer{},
		Store:    noopVoiceStore{},
		Sessions: sessions,
		Results:  results,
		Clock:    clock.NewFake(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)),
		Log:      zerolog.Nop(),
	})
	store := &fakeStore{}
	tmpDir := t.TempDir()
	h := NewSpeechHandler(q, worker, sessions, results, store,
		clock.NewFake(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)), tmpDir, zerolog.Nop())
	return h, q, tmpDir, store
}

func uploadRequest(t *testing.T, userID, filename string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("user_id", userID)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("RIFF fake wav bytes"))
	w.Close()

	req := httptest.NewRequest("POST", "/ser/analyze-speech", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func tempFileCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestAnalyzeSpeechValidation(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		filename string
		wantCode int
	}{
		{"valid", testUser, "chunk.wav", http.StatusOK},
		{"uppercase_wav", testUser, "CHUNK.WAV", http.StatusOK},
		{"invalid_uuid", "not-a-uuid", "chunk.wav", http.StatusBadRequest},
		{"empty_uuid", "", "chunk.wav", http.StatusBadRequest},
		{"wrong_extension", testUser, "chunk.mp3", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, q, tmpDir, _ := newSpeechFixture(t, 8)
			rec := httptest.NewRecorder()
			h.AnalyzeSpeech(rec, uploadRequest(t, tt.userID, tt.filename))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body)
			}
			if tt.wantCode == http.StatusOK {
				var resp queuedResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatal(err)
				}
				if resp.Status != "queued" || resp.QueueSize != 1 {
					t.Errorf("response = %+v", resp)
				}
				if q.Size() != 1 {
					t.Errorf("queue size = %d, want 1", q.Size())
				}
				if tempFileCount(t, tmpDir) != 1 {
					t.Errorf("temp file not spooled")
				}
			} else {
				if q.Size() != 0 {
					t.Errorf("rejected upload reached the queue")
				}
				if tempFileCount(t, tmpDir) != 0 {
					t.Errorf("rejected upload left a temp file")
				}
			}
		})
	}
}

func TestAnalyzeSpeechQueueFull(t *testing.T) {
	h, q, tmpDir, _ := newSpeechFixture(t, 2)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.AnalyzeSpeech(rec, uploadRequest(t, testUser, "chunk.wav"))
		if rec.Code != http.StatusOK {
			t.Fatalf("upload %d status = %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.AnalyzeSpeech(rec, uploadRequest(t, testUser, "chunk.wav"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("overflow status = %d, want 503", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "Failed to enqueue audio chunk for processing" {
		t.Errorf("error = %q", resp.Error)
	}
	if q.Size() != 2 {
		t.Errorf("queue size = %d, want 2", q.Size())
	}
	// The rejected upload's temp file is unlinked; the two accepted remain.
	if got := tempFileCount(t, tmpDir); got != 2 {
		t.Errorf("temp files = %d, want 2", got)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h, _, _, _ := newSpeechFixture(t, 8)
	rec := httptest.NewRecorder()
	h.AnalyzeSpeech(rec, uploadRequest(t, testUser, "chunk.wav"))

	rec = httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest("GET", "/ser/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.QueueSize != 1 || len(resp.RecentRequests) != 1 {
		t.Errorf("status = %+v", resp)
	}
}

func TestSignalsLowWaterFiltering(t *testing.T) {
	h, _, _, store := newSpeechFixture(t, 8)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, clock.AppZone)
	store.signals = []emotion.Signal{
		{UserID: testUser, Timestamp: now.Add(-30 * time.Minute), Modality: emotion.Speech, Label: emotion.Happy, Confidence: 0.9},
		{UserID: testUser, Timestamp: now.Add(-10 * time.Minute), Modality: emotion.Speech, Label: emotion.Sad, Confidence: 0.8},
	}
	store.haveMark = true
	store.lowWater = now.Add(-20 * time.Minute)

	r := chi.NewRouter()
	r.Get("/ser/api/signals/{user_id}", h.Signals)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/ser/api/signals/"+testUser, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Signals []signalView `json:"signals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Signals) != 1 || resp.Signals[0].EmotionLabel != "Sad" {
		t.Errorf("signals = %+v, want only the post-low-water Sad signal", resp.Signals)
	}
}

func TestSignalsLowWaterFailureIsTolerated(t *testing.T) {
	h, _, _, store := newSpeechFixture(t, 8)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, clock.AppZone)
	store.signals = []emotion.Signal{
		{UserID: testUser, Timestamp: now.Add(-5 * time.Minute), Modality: emotion.Speech, Label: emotion.Fear, Confidence: 0.7},
	}
	store.lowWaterErr = errors.New("emotional_log unreachable")

	r := chi.NewRouter()
	r.Get("/ser/api/signals/{user_id}", h.Signals)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/ser/api/signals/"+testUser, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("low-water failure broke the read: %d", rec.Code)
	}
	var resp struct {
		Signals []signalView `json:"signals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Signals) != 1 {
		t.Errorf("signals = %+v, want all signals when the mark is unavailable", resp.Signals)
	}
}

func TestSessionsEndpointValidatesUUID(t *testing.T) {
	h, _, _, _ := newSpeechFixture(t, 8)
	r := chi.NewRouter()
	r.Get("/ser/api/sessions/{user_id}", h.Sessions)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/ser/api/sessions/bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
