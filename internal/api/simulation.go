package api

import (
	"net/http"
	"time"

	"github.com/eefei22/ser-engine/internal/clock"
	"github.com/eefei22/ser-engine/internal/control"
	"github.com/eefei22/ser-engine/internal/emotion"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// SimulationHandler serves the demo-mode control plane under /simulation.
type SimulationHandler struct {
	reg   *control.Registries
	store Store
	log   zerolog.Logger
}

func NewSimulationHandler(reg *control.Registries, store Store, log zerolog.Logger) *SimulationHandler {
	return &SimulationHandler{
		reg:   reg,
		store: store,
		log:   log.With().Str("handler", "simulation").Logger(),
	}
}

func (h *SimulationHandler) Routes(r chi.Router) {
	r.Get("/demo-mode", h.GetDemoMode)
	r.Post("/demo-mode", h.SetDemoMode)
	r.Get("/emotion-bias", h.GetAllBiases)
	r.Get("/emotion-bias/{modality}", h.GetBias)
	r.Post("/emotion-bias", h.SetBias)
	r.Post("/emotion-bias/{modality}", h.SetBiasForModality)
	r.Get("/generation-interval", h.GetGenerationInterval)
	r.Post("/generation-interval", h.SetGenerationInterval)
	r.Get("/modality-toggle", h.GetToggles)
	r.Post("/modality-toggle", h.SetToggle)
	r.Get("/user-id", h.GetUserID)
	r.Post("/user-id", h.SetUserID)
	r.Post("/inject-signals", h.InjectSignals)
}

func (h *SimulationHandler) GetDemoMode(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]bool{"enabled": h.reg.Demo.Enabled()})
}

func (h *SimulationHandler) SetDemoMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := DecodeJSON(r, &req); err != nil || req.Enabled == nil {
		WriteError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
		return
	}
	h.reg.Demo.SetEnabled(*req.Enabled)
	h.log.Info().Bool("enabled", *req.Enabled).Msg("demo mode changed")
	WriteJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

func biasView(all map[emotion.Modality]*emotion.Label) map[string]*string {
	out := make(map[string]*string, len(all))
	for m, l := range all {
		if l == nil {
			out[string(m)] = nil
		} else {
			s := string(*l)
			out[string(m)] = &s
		}
	}
	return out
}

func (h *SimulationHandler) GetAllBiases(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"biases": biasView(h.reg.Bias.All())})
}

func (h *SimulationHandler) GetBias(w http.ResponseWriter, r *http.Request) {
	m, ok := emotion.ParseModality(chi.URLParam(r, "modality"))
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid modality: must be speech, face, or vitals")
		return
	}
	label, set := h.reg.Bias.Get(m)
	resp := map[string]any{"modality": string(m), "bias": nil}
	if set {
		resp["bias"] = string(label)
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *SimulationHandler) SetBias(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Modality string  `json:"modality"`
		Emotion  *string `json:"emotion"` // null or "" clears the bias
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	m, ok := emotion.ParseModality(req.Modality)
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid modality: must be speech, face, or vitals")
		return
	}

	var label *emotion.Label
	if req.Emotion != nil && *req.Emotion != "" {
		l := emotion.Label(*req.Emotion)
		label = &l
	}
	if err := h.reg.Bias.Set(m, label); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Info().Str("modality", string(m)).Interface("emotion", req.Emotion).Msg("emotion bias changed")
	WriteJSON(w, http.StatusOK, map[string]any{"biases": biasView(h.reg.Bias.All())})
}

// SetBiasForModality is the path-addressed variant of SetBias.
func (h *SimulationHandler) SetBiasForModality(w http.ResponseWriter, r *http.Request) {
	m, ok := emotion.ParseModality(chi.URLParam(r, "modality"))
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid modality: must be speech, face, or vitals")
		return
	}
	var req struct {
		Emotion *string `json:"emotion"` // null or "" clears the bias
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	var label *emotion.Label
	if req.Emotion != nil && *req.Emotion != "" {
		l := emotion.Label(*req.Emotion)
		label = &l
	}
	if err := h.reg.Bias.Set(m, label); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Info().Str("modality", string(m)).Interface("emotion", req.Emotion).Msg("emotion bias changed")
	resp := map[string]any{"modality": string(m), "bias": nil}
	if label != nil {
		resp["bias"] = string(*label)
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *SimulationHandler) GetGenerationInterval(w http.ResponseWriter, r *http.Request) {
	min, max := h.reg.GenInterval.Bounds()
	WriteJSON(w, http.StatusOK, map[string]int{
		"seconds": h.reg.GenInterval.Get(), "min": min, "max": max,
	})
}

func (h *SimulationHandler) SetGenerationInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds *int `json:"seconds"`
	}
	if err := DecodeJSON(r, &req); err != nil || req.Seconds == nil {
		WriteError(w, http.StatusBadRequest, "body must be {\"seconds\": int}")
		return
	}
	if err := h.reg.GenInterval.Set(*req.Seconds); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Info().Int("seconds", *req.Seconds).Msg("generation interval changed")
	WriteJSON(w, http.StatusOK, map[string]int{"seconds": *req.Seconds})
}

func (h *SimulationHandler) GetToggles(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]bool, 3)
	for m, enabled := range h.reg.Toggles.All() {
		out[string(m)] = enabled
	}
	WriteJSON(w, http.StatusOK, map[string]any{"modalities": out})
}

func (h *SimulationHandler) SetToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Modality string `json:"modality"`
		Enabled  *bool  `json:"enabled"`
	}
	if err := DecodeJSON(r, &req); err != nil || req.Enabled == nil {
		WriteError(w, http.StatusBadRequest, "body must be {\"modality\": string, \"enabled\": bool}")
		return
	}
	m, ok := emotion.ParseModality(req.Modality)
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid modality: must be speech, face, or vitals")
		return
	}
	h.reg.Toggles.SetEnabled(m, *req.Enabled)
	h.log.Info().Str("modality", string(m)).Bool("enabled", *req.Enabled).Msg("modality toggle changed")
	WriteJSON(w, http.StatusOK, map[string]any{"modality": string(m), "enabled": *req.Enabled})
}

func (h *SimulationHandler) GetUserID(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"user_id": h.reg.SynthUser.Get()})
}

func (h *SimulationHandler) SetUserID(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := h.reg.SynthUser.Set(req.UserID); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Info().Str("user_id", req.UserID).Msg("synthetic user changed")
	WriteJSON(w, http.StatusOK, map[string]string{"user_id": req.UserID})
}

type injectSignal struct {
	UserID       string  `json:"user_id"`
	Timestamp    string  `json:"timestamp"`
	Modality     string  `json:"modality"`
	EmotionLabel string  `json:"emotion_label"`
	Confidence   float64 `json:"confidence"`
}

// InjectSignals handles POST /simulation/inject-signals: bulk insert of
// pre-formed signals straight into the store, for integration tests. The
// speech modality accepts raw nine-class labels (stored as-is, reader
// normalizes); face and vitals require canonical labels.
func (h *SimulationHandler) InjectSignals(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Modality string         `json:"modality"`
		Signals  []injectSignal `json:"signals"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	m, ok := emotion.ParseModality(req.Modality)
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid modality: must be speech, face, or vitals")
		return
	}
	if len(req.Signals) == 0 {
		WriteError(w, http.StatusBadRequest, "signals must be a non-empty list")
		return
	}

	inserted := 0
	for _, s := range req.Signals {
		ts, err := parseSignalTimestamp(s.Timestamp)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid timestamp "+s.Timestamp)
			return
		}
		switch m {
		case emotion.Speech:
			if s.EmotionLabel == "" {
				WriteError(w, http.StatusBadRequest, "emotion_label is required")
				return
			}
			err = h.store.InsertSyntheticSpeechRaw(r.Context(), s.UserID, ts, s.EmotionLabel, s.Confidence)
		case emotion.Face, emotion.Vitals:
			label := emotion.Label(s.EmotionLabel)
			if !label.Valid() {
				WriteError(w, http.StatusBadRequest, "invalid emotion_label "+s.EmotionLabel)
				return
			}
			if m == emotion.Face {
				err = h.store.InsertFaceEmotionSynthetic(r.Context(), s.UserID, ts, label, s.Confidence)
			} else {
				err = h.store.InsertVitalsEmotionSynthetic(r.Context(), s.UserID, ts, label, s.Confidence)
			}
		}
		if err != nil {
			h.log.Error().Err(err).Str("modality", string(m)).Msg("signal injection failed")
			WriteError(w, http.StatusInternalServerError, "failed to insert signal")
			return
		}
		inserted++
	}

	h.log.Info().Int("signals", inserted).Str("modality", string(m)).Msg("signals injected")
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":           "success",
		"modality":         string(m),
		"signals_injected": inserted,
	})
}

// parseSignalTimestamp accepts ISO 8601 with offset; a bare timestamp is
// interpreted as UTC+8.
func parseSignalTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", s, clock.AppZone)
}
