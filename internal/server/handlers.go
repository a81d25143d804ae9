package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/tunewatch/internal/boundary"
	"github.com/maauso/tunewatch/internal/processor"
	"github.com/maauso/tunewatch/internal/tune"
)

// DefaultMatchLimit is used when GET /matches has no limit parameter.
const DefaultMatchLimit = 20

// Pipeline is the part of a capture session the API controls.
type Pipeline interface {
	Stats() processor.Stats
	BoundaryState() boundary.State
	Pause()
}

var _ Pipeline = (*processor.Processor)(nil)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	pipeline  Pipeline
	policy    string
	matches   tune.Repository
	validator *validator.Validate
	logger    *slog.Logger
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithPolicyName sets the policy name reported by GET /status.
func WithPolicyName(name string) HandlerOption {
	return func(h *Handlers) {
		h.policy = name
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(pipeline Pipeline, matches tune.Repository, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		pipeline:  pipeline,
		matches:   matches,
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Status handles GET /status requests.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status(r.Context()))
}

// Pause handles POST /pause requests. Queued audio is dropped and the
// boundary machine returns to idle.
func (h *Handlers) Pause(w http.ResponseWriter, r *http.Request) {
	h.pipeline.Pause()
	h.logger.Info("pipeline paused via API", slog.String("remote_addr", r.RemoteAddr))
	writeJSON(w, http.StatusOK, h.status(r.Context()))
}

// ListMatches handles GET /matches requests.
func (h *Handlers) ListMatches(w http.ResponseWriter, r *http.Request) {
	req := ListMatchesRequest{Limit: DefaultMatchLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer", "INVALID_LIMIT")
			return
		}
		req.Limit = limit
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	records, err := h.matches.List(r.Context(), req.Limit)
	if err != nil {
		h.logger.Error("failed to list matches",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list matches", "MATCH_FETCH_FAILED")
		return
	}
	if records == nil {
		records = []tune.Record{}
	}

	writeJSON(w, http.StatusOK, MatchesResponse{Matches: records, Count: len(records)})
}

func (h *Handlers) status(ctx context.Context) StatusResponse {
	resp := StatusResponse{
		Policy:    h.policy,
		Processor: h.pipeline.Stats(),
		Boundary:  toBoundaryResponse(h.pipeline.BoundaryState()),
	}

	latest, err := h.matches.Latest(ctx)
	switch {
	case err == nil:
		resp.LastMatch = &latest
	case !errors.Is(err, tune.ErrNoRecords):
		h.logger.Warn("failed to fetch latest match",
			slog.String("error", err.Error()),
		)
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
