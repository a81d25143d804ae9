// Package server provides the HTTP status and control API of a capture
// session. It includes handlers, middleware, routes, and DTOs separated
// from domain types.
package server

import (
	"github.com/maauso/tunewatch/internal/boundary"
	"github.com/maauso/tunewatch/internal/processor"
	"github.com/maauso/tunewatch/internal/tune"
)

// ListMatchesRequest holds the query parameters of GET /matches.
type ListMatchesRequest struct {
	// Limit is the maximum number of records returned, newest first.
	Limit int `validate:"gte=1,lte=1000"`
}

// StatusResponse is the HTTP response for the status endpoint.
type StatusResponse struct {
	// Policy is the name of the boundary policy preset in use.
	Policy string `json:"policy"`
	// Processor holds the queue and pipeline counters.
	Processor processor.Stats `json:"processor"`
	// Boundary is a snapshot of the boundary state machine.
	Boundary BoundaryResponse `json:"boundary"`
	// LastMatch is the most recent recorded tune, if any.
	LastMatch *tune.Record `json:"last_match,omitempty"`
}

// BoundaryResponse is the boundary state with durations in seconds.
type BoundaryResponse struct {
	Phase           string  `json:"phase"`
	SpeechActive    bool    `json:"speech_active"`
	PossibleTrigger bool    `json:"possible_trigger"`
	SpeechStartSec  float64 `json:"speech_start_sec,omitempty"`
	PositionSec     float64 `json:"position_sec"`
	PendingFrames   int     `json:"pending_frames"`
	PendingSec      float64 `json:"pending_sec"`
}

// MatchesResponse is the HTTP response for listing recorded tunes.
type MatchesResponse struct {
	// Matches are the recorded tunes, newest first.
	Matches []tune.Record `json:"matches"`
	// Count is len(Matches).
	Count int `json:"count"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func toBoundaryResponse(s boundary.State) BoundaryResponse {
	resp := BoundaryResponse{
		Phase:           string(s.Phase),
		SpeechActive:    s.SpeechActive,
		PossibleTrigger: s.PossibleTrigger,
		PositionSec:     s.Position.Seconds(),
		PendingFrames:   s.PendingFrames,
		PendingSec:      s.Pending.Seconds(),
	}
	if s.HasSpeechStart {
		resp.SpeechStartSec = s.SpeechStart.Seconds()
	}
	return resp
}
