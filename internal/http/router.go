package http

import (
	"encoding/json"
	"net/http"
	"time"

	"audio-authenticity-service/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// NewRouter constructs the HTTP router for the service. hub may be nil, in
// which case the live prediction feed is not served.
func NewRouter(application *app.Application, hub *Hub) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	h := &handlers{app: application}

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.ModelLoaded() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("model not loaded"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Get("/health", h.health)
	r.Get("/", h.index)

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/predict", h.predict)
		r.Get("/predictions", h.recent)
		r.Get("/statistics", h.statistics)
		if hub != nil {
			r.Get("/predictions/stream", hub.ServeWS)
		}
	})

	if hub != nil {
		application.OnCompleted(hub.Broadcast)
	}

	return r
}

type handlers struct {
	app *app.Application
}

type healthResponse struct {
	Status            string `json:"status"`
	ModelLoaded       bool   `json:"model_loaded"`
	DatabaseConnected bool   `json:"database_connected"`
	Timestamp         string `json:"timestamp"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:            "healthy",
		ModelLoaded:       h.app.ModelLoaded(),
		DatabaseConnected: h.app.StoreConnected(r.Context()),
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}
	if !resp.ModelLoaded {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":       h.app.Cfg.Service.Name,
		"model_version": h.app.ModelVersion(),
		"input_shape":   h.app.Pipeline.ExpectedShape().String(),
		"endpoints": map[string]string{
			"health":      "GET /health",
			"predict":     "POST /v1/predict",
			"predictions": "GET /v1/predictions?limit=N",
			"statistics":  "GET /v1/statistics",
			"stream":      "GET /v1/predictions/stream",
		},
	})
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, requestID, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: requestID})
}
