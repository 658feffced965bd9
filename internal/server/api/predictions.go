package api

import (
	"net/http"
	"strconv"

	"github.com/ayusman/fingerspell/internal/store"
)

// maxHistoryLimit caps ?limit= on /api/predictions.
const maxHistoryLimit = 500

// PredictionHandler serves the accepted-letter history.
type PredictionHandler struct {
	store        *store.Store
	defaultLimit int
}

// NewPredictionHandler creates a handler returning defaultLimit entries
// when the request does not ask for a number.
func NewPredictionHandler(s *store.Store, defaultLimit int) *PredictionHandler {
	if defaultLimit <= 0 {
		defaultLimit = store.DefaultHistoryLimit
	}
	return &PredictionHandler{store: s, defaultLimit: defaultLimit}
}

type predictionResponse struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"session_id,omitempty"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string  `json:"created_at"`
}

type listPredictionsResponse struct {
	Predictions []predictionResponse `json:"predictions"`
}

// ServeHTTP handles GET /api/predictions?limit=N and ?session=ID.
// Without session, the newest predictions come first; a session's
// predictions are returned in the order they were made.
func (h *PredictionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := h.defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	var (
		preds []*store.Prediction
		err   error
	)
	if session := r.URL.Query().Get("session"); session != "" {
		preds, err = h.store.Predictions().BySession(session)
	} else {
		preds, err = h.store.Predictions().Recent(limit)
	}
	if err != nil {
		serverError(w, r, "Failed to list predictions", err)
		return
	}

	response := listPredictionsResponse{
		Predictions: make([]predictionResponse, 0, len(preds)),
	}
	for _, p := range preds {
		response.Predictions = append(response.Predictions, predictionResponse{
			ID:         p.ID,
			SessionID:  p.SessionID,
			Label:      p.Label,
			Confidence: p.Confidence,
			CreatedAt:  formatTime(p.CreatedAt),
		})
	}

	writeJSON(w, http.StatusOK, response)
}
