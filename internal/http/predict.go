package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"audio-authenticity-service/internal/app"
	"audio-authenticity-service/internal/observability/logging"
	"audio-authenticity-service/internal/service/audio"
	"audio-authenticity-service/internal/service/decision"
	"audio-authenticity-service/internal/service/pipeline"
)

const (
	multipartMemory  = 32 << 20
	defaultListLimit = 10
	maxListLimit     = 1000
)

type predictResponse struct {
	RequestID             string  `json:"request_id"`
	Prediction            string  `json:"prediction"`
	Probability           float64 `json:"probability"`
	Confidence            float64 `json:"confidence"`
	Filename              string  `json:"filename"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	Timestamp             string  `json:"timestamp"`
	ModelVersion          string  `json:"model_version"`
}

type pathRequest struct {
	AudioPath string `json:"audio_path"`
}

// requestError is a rejection decided before the pipeline runs.
type requestError struct {
	status int
	reason string // metrics label
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func requestID(r *http.Request) string {
	if r.Header.Get(middleware.RequestIDHeader) != "" {
		if id := middleware.GetReqID(r.Context()); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func (h *handlers) predict(w http.ResponseWriter, r *http.Request) {
	id := requestID(r)
	w.Header().Set(middleware.RequestIDHeader, id)

	if !h.app.ModelLoaded() {
		h.app.Metrics.RecordRejected("model_not_loaded")
		writeError(w, http.StatusServiceUnavailable, id, "Model not loaded")
		return
	}

	maxBytes := h.app.Cfg.Upload.MaxBytes
	var (
		src pipeline.Source
		err error
	)
	if r.ContentLength > maxBytes {
		err = uploadError(&http.MaxBytesError{Limit: maxBytes})
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		src, err = h.readSource(r)
	}
	if err != nil {
		var re *requestError
		if !errors.As(err, &re) {
			re = &requestError{status: http.StatusBadRequest, reason: "bad_request", msg: err.Error()}
		}
		h.app.Metrics.RecordRejected(re.reason)
		l := logging.WithRequest(id, "")
		l.Info().Int("status", re.status).Str("reason", re.reason).Msg("Upload rejected")
		writeError(w, re.status, id, re.msg)
		return
	}

	pred, err := h.app.Predict(r.Context(), id, src)
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, id, msg)
		return
	}

	res := pred.Result.Prediction.Rounded()
	writeJSON(w, http.StatusOK, predictResponse{
		RequestID:             id,
		Prediction:            res.Label,
		Probability:           res.Probability,
		Confidence:            res.Confidence,
		Filename:              pred.Result.Filename,
		ProcessingTimeSeconds: decision.Round4(pred.Result.Elapsed.Seconds()),
		Timestamp:             pred.Timestamp.Format(time.RFC3339Nano),
		ModelVersion:          pred.ModelVersion,
	})
}

// readSource extracts the audio source from a multipart upload or a JSON
// body naming a local path. Extensions are checked before any bytes are
// decoded.
func (h *handlers) readSource(r *http.Request) (pipeline.Source, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return pipeline.Source{}, uploadError(err)
		}
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			return pipeline.Source{}, &requestError{http.StatusBadRequest, "missing_file", "No audio file provided"}
		}
		defer file.Close()

		name := filepath.Base(header.Filename)
		if header.Filename == "" || name == "." || name == string(filepath.Separator) {
			return pipeline.Source{}, &requestError{http.StatusBadRequest, "empty_filename", "No file selected"}
		}
		if err := h.checkExtension(name); err != nil {
			return pipeline.Source{}, err
		}

		data, err := io.ReadAll(file)
		if err != nil {
			return pipeline.Source{}, uploadError(err)
		}
		h.app.Metrics.RecordUpload(len(data))
		return pipeline.FromBytes(data, name), nil

	case "application/json":
		var req pathRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return pipeline.Source{}, uploadError(err)
		}
		if strings.TrimSpace(req.AudioPath) == "" {
			return pipeline.Source{}, &requestError{http.StatusBadRequest, "empty_filename", "audio_path is required"}
		}
		if err := h.checkExtension(req.AudioPath); err != nil {
			return pipeline.Source{}, err
		}
		return pipeline.FromPath(req.AudioPath), nil

	default:
		return pipeline.Source{}, &requestError{http.StatusBadRequest, "bad_content_type", "Expected multipart/form-data or application/json"}
	}
}

func (h *handlers) checkExtension(name string) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if !slices.Contains(h.app.Cfg.Upload.AllowedExtensions, ext) || !audio.IsSupported(name) {
		return &requestError{
			status: http.StatusBadRequest,
			reason: "unsupported_format",
			msg:    "Unsupported file format. Allowed: " + strings.Join(h.app.Cfg.Upload.AllowedExtensions, ", "),
		}
	}
	return nil
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &requestError{
			status: http.StatusRequestEntityTooLarge,
			reason: "too_large",
			msg:    "File too large. Maximum size: " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
		}
	}
	return &requestError{http.StatusBadRequest, "bad_request", "Malformed request body"}
}

// statusFor maps pipeline and application errors to HTTP responses.
func statusFor(err error) (int, string) {
	var (
		unsupported *audio.UnsupportedFormatError
		decode      *audio.DecodeError
	)
	switch {
	case errors.Is(err, app.ErrModelNotLoaded):
		return http.StatusServiceUnavailable, "Model not loaded"
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, unsupported.Error()
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound, "File not found"
	case errors.As(err, &decode):
		return http.StatusUnprocessableEntity, "Could not decode audio: " + decode.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Prediction timed out"
	default:
		return http.StatusInternalServerError, "Prediction failed"
	}
}

func (h *handlers) recent(w http.ResponseWriter, r *http.Request) {
	if h.app.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "", "Result store unavailable")
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "", "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	records, err := h.app.Store.Recent(r.Context(), limit)
	if err != nil {
		h.app.Logger.Error().Err(err).Msg("Failed to list predictions")
		writeError(w, http.StatusInternalServerError, "", "Failed to list predictions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"predictions": records,
		"count":       len(records),
	})
}

func (h *handlers) statistics(w http.ResponseWriter, r *http.Request) {
	if h.app.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "", "Result store unavailable")
		return
	}
	stats, err := h.app.Store.Statistics(r.Context())
	if err != nil {
		h.app.Logger.Error().Err(err).Msg("Failed to compute statistics")
		writeError(w, http.StatusInternalServerError, "", "Failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
