package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/fingerspell/internal/app"
	"github.com/ayusman/fingerspell/internal/recognition"
)

// Recognizer is the control surface of the running recognizer.
// *app.App implements it.
type Recognizer interface {
	Start() error
	Stop() error
	Reset()
	SetThreshold(theta float64) error
	State() recognition.StateSnapshot
	Metrics() recognition.Metrics
	SessionID() string
}

var _ Recognizer = (*app.App)(nil)

// ControlHandler serves /api/status, /api/control/* and /api/settings/threshold.
type ControlHandler struct {
	rec Recognizer
}

func NewControlHandler(rec Recognizer) *ControlHandler {
	return &ControlHandler{rec: rec}
}

type statusResponse struct {
	State     recognition.StateSnapshot `json:"state"`
	Metrics   recognition.Metrics       `json:"metrics"`
	SessionID string                    `json:"session_id,omitempty"`
}

type thresholdBody struct {
	Threshold *float64 `json:"threshold"`
}

func (h *ControlHandler) status() statusResponse {
	return statusResponse{
		State:     h.rec.State(),
		Metrics:   h.rec.Metrics(),
		SessionID: h.rec.SessionID(),
	}
}

// Status handles GET /api/status.
func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// Control handles POST /api/control/{start|stop|reset} and answers with the
// resulting status.
func (h *ControlHandler) Control(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var err error
	switch op := strings.TrimPrefix(r.URL.Path, "/api/control/"); op {
	case "start":
		err = h.rec.Start()
	case "stop":
		err = h.rec.Stop()
	case "reset":
		h.rec.Reset()
	default:
		writeError(w, http.StatusNotFound, "Unknown control operation")
		return
	}
	if err != nil {
		if errors.Is(err, app.ErrNoDetector) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		serverError(w, r, err.Error(), err)
		return
	}

	writeJSON(w, http.StatusOK, h.status())
}

// Threshold handles GET and PUT /api/settings/threshold.
func (h *ControlHandler) Threshold(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		theta := h.rec.State().Threshold
		writeJSON(w, http.StatusOK, thresholdBody{Threshold: &theta})

	case http.MethodPut:
		var body thresholdBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Threshold == nil {
			writeError(w, http.StatusBadRequest, "threshold is required")
			return
		}
		if *body.Threshold < 0 || *body.Threshold >= 1 {
			writeError(w, http.StatusBadRequest, "threshold must be in [0, 1)")
			return
		}
		if err := h.rec.SetThreshold(*body.Threshold); err != nil {
			serverError(w, r, err.Error(), err)
			return
		}
		writeJSON(w, http.StatusOK, body)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
