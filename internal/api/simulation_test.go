package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eefei22/ser-engine/internal/control"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func newSimFixture(t *testing.T) (*chi.Mux, *control.Registries, *fakeStore) {
	t.Helper()
	reg := control.New(300, 30, "96975f52-5b05-4eb1-bfa5-530485112518")
	store := &fakeStore{}
	r := chi.NewRouter()
	r.Route("/simulation", func(r chi.Router) {
		NewSimulationHandler(reg, store, zerolog.Nop()).Routes(r)
	})
	return r, reg, store
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestDemoModeRoundTrip(t *testing.T) {
	r, reg, _ := newSimFixture(t)

	rec := doJSON(t, r, "GET", "/simulation/demo-mode", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"enabled":false`) {
		t.Fatalf("GET demo-mode = %d %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, r, "POST", "/simulation/demo-mode", `{"enabled":true}`)
	if rec.Code != http.StatusOK || !reg.Demo.Enabled() {
		t.Fatalf("POST demo-mode = %d, enabled=%v", rec.Code, reg.Demo.Enabled())
	}

	// Unknown fields are rejected, not ignored.
	rec = doJSON(t, r, "POST", "/simulation/demo-mode", `{"enabled":true,"extra":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field accepted: %d", rec.Code)
	}
	rec = doJSON(t, r, "POST", "/simulation/demo-mode", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing enabled accepted: %d", rec.Code)
	}
}

func TestEmotionBiasEndpoints(t *testing.T) {
	r, reg, _ := newSimFixture(t)

	rec := doJSON(t, r, "POST", "/simulation/emotion-bias", `{"modality":"speech","emotion":"Sad"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set bias = %d %s", rec.Code, rec.Body)
	}
	if l, ok := reg.Bias.Get("speech"); !ok || string(l) != "Sad" {
		t.Fatalf("bias not applied: %v %v", l, ok)
	}

	rec = doJSON(t, r, "GET", "/simulation/emotion-bias/speech", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"bias":"Sad"`) {
		t.Errorf("GET bias = %d %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, r, "GET", "/simulation/emotion-bias", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"speech":"Sad"`) {
		t.Errorf("GET all biases = %d %s", rec.Code, rec.Body)
	}

	// Clear with null.
	rec = doJSON(t, r, "POST", "/simulation/emotion-bias", `{"modality":"speech","emotion":null}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear bias = %d", rec.Code)
	}
	if _, ok := reg.Bias.Get("speech"); ok {
		t.Errorf("bias not cleared")
	}

	for _, body := range []string{
		`{"modality":"ser","emotion":"Sad"}`,
		`{"modality":"speech","emotion":"Joyful"}`,
	} {
		rec = doJSON(t, r, "POST", "/simulation/emotion-bias", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("invalid bias body %s accepted: %d", body, rec.Code)
		}
	}

	rec = doJSON(t, r, "GET", "/simulation/emotion-bias/ser", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid modality path accepted: %d", rec.Code)
	}

	// Path-addressed write variant.
	rec = doJSON(t, r, "POST", "/simulation/emotion-bias/face", `{"emotion":"Fear"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST bias by path = %d %s", rec.Code, rec.Body)
	}
	if l, ok := reg.Bias.Get("face"); !ok || string(l) != "Fear" {
		t.Errorf("path-addressed bias not applied: %v %v", l, ok)
	}
}

func TestGenerationIntervalBounds(t *testing.T) {
	r, reg, _ := newSimFixture(t)

	rec := doJSON(t, r, "POST", "/simulation/generation-interval", `{"seconds":5}`)
	if rec.Code != http.StatusOK || reg.GenInterval.Get() != 5 {
		t.Fatalf("set interval = %d, value %d", rec.Code, reg.GenInterval.Get())
	}

	for _, body := range []string{`{"seconds":4}`, `{"seconds":301}`, `{"seconds":0}`, `{}`} {
		rec = doJSON(t, r, "POST", "/simulation/generation-interval", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("out-of-range body %s accepted: %d", body, rec.Code)
		}
	}
	if reg.GenInterval.Get() != 5 {
		t.Errorf("rejected writes mutated interval: %d", reg.GenInterval.Get())
	}
}

func TestModalityToggleEndpoints(t *testing.T) {
	r, reg, _ := newSimFixture(t)

	rec := doJSON(t, r, "POST", "/simulation/modality-toggle", `{"modality":"vitals","enabled":false}`)
	if rec.Code != http.StatusOK || reg.Toggles.Enabled("vitals") {
		t.Fatalf("toggle = %d, vitals enabled %v", rec.Code, reg.Toggles.Enabled("vitals"))
	}

	rec = doJSON(t, r, "GET", "/simulation/modality-toggle", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"vitals":false`) {
		t.Errorf("GET toggles = %d %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, r, "POST", "/simulation/modality-toggle", `{"modality":"fer","enabled":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid modality accepted: %d", rec.Code)
	}
}

func TestUserIDEndpoints(t *testing.T) {
	r, reg, _ := newSimFixture(t)

	next := "22222222-2222-2222-2222-222222222222"
	rec := doJSON(t, r, "POST", "/simulation/user-id", `{"user_id":"`+next+`"}`)
	if rec.Code != http.StatusOK || reg.SynthUser.Get() != next {
		t.Fatalf("set user-id = %d, value %s", rec.Code, reg.SynthUser.Get())
	}

	rec = doJSON(t, r, "POST", "/simulation/user-id", `{"user_id":"garbage"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid uuid accepted: %d", rec.Code)
	}
	if reg.SynthUser.Get() != next {
		t.Errorf("rejected write mutated user id")
	}
}

func TestInjectSignals(t *testing.T) {
	r, _, store := newSimFixture(t)

	body := `{"modality":"speech","signals":[
		{"user_id":"` + testUser + `","timestamp":"2025-06-01T10:00:00+08:00","modality":"speech","emotion_label":"happy","confidence":0.9},
		{"user_id":"` + testUser + `","timestamp":"2025-06-01T10:00:10","modality":"speech","emotion_label":"Sad","confidence":0.8}
	]}`
	rec := doJSON(t, r, "POST", "/simulation/inject-signals", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("inject = %d %s", rec.Code, rec.Body)
	}
	var resp struct {
		SignalsInjected int `json:"signals_injected"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SignalsInjected != 2 || len(store.speechRaw) != 2 {
		t.Fatalf("injected %d, store has %d", resp.SignalsInjected, len(store.speechRaw))
	}
	// Raw nine-class labels pass through for the speech modality.
	if store.speechRaw[0].Label != "happy" {
		t.Errorf("raw label = %q, want happy", store.speechRaw[0].Label)
	}
	// Bare timestamps are interpreted as UTC+8.
	if _, offset := store.speechRaw[1].At.Zone(); offset != 8*3600 {
		t.Errorf("bare timestamp offset = %d, want UTC+8", offset)
	}

	rec = doJSON(t, r, "POST", "/simulation/inject-signals",
		`{"modality":"face","signals":[{"user_id":"`+testUser+`","timestamp":"2025-06-01T10:00:00+08:00","modality":"face","emotion_label":"Fear","confidence":0.6}]}`)
	if rec.Code != http.StatusOK || store.face != 1 {
		t.Errorf("face inject = %d, inserts %d", rec.Code, store.face)
	}

	// Face requires canonical labels.
	rec = doJSON(t, r, "POST", "/simulation/inject-signals",
		`{"modality":"face","signals":[{"user_id":"`+testUser+`","timestamp":"2025-06-01T10:00:00+08:00","modality":"face","emotion_label":"happy","confidence":0.6}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("lowercase face label accepted: %d", rec.Code)
	}

	for _, body := range []string{
		`{"modality":"ser","signals":[]}`,
		`{"modality":"speech","signals":[]}`,
	} {
		rec = doJSON(t, r, "POST", "/simulation/inject-signals", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s accepted: %d", body, rec.Code)
		}
	}
}
