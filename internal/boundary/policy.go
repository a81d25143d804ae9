// Package boundary decides, buffer by buffer, when the pending segment is
// committed for detection, reset, or kept accumulating.
package boundary

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidPolicy is returned when a Policy cannot be used.
var ErrInvalidPolicy = errors.New("boundary: invalid policy")

// Anchor selects what the trigger window and minimum duration are measured
// against.
type Anchor string

const (
	// AnchorSpeechRun measures from the start of the current speech run.
	AnchorSpeechRun Anchor = "speech_run"
	// AnchorSegment measures the accumulated segment duration.
	AnchorSegment Anchor = "segment"
)

// OverflowAction is taken when the pending segment exceeds MaxSegment.
type OverflowAction string

const (
	// OverflowReset discards the pending segment.
	OverflowReset OverflowAction = "reset"
	// OverflowCommit hands the pending segment to the encoder.
	OverflowCommit OverflowAction = "commit"
)

// Policy names.
const (
	PolicyStream  = "stream"
	PolicyCapture = "capture"
)

// Policy holds the thresholds and behavior switches of a Machine.
type Policy struct {
	Name string

	// MinSegment is the duration a triggered run must exceed to commit.
	MinSegment time.Duration
	// MaxSegment bounds the pending segment.
	MaxSegment time.Duration

	// TriggerMin and TriggerMax bound, exclusively, the speech-run length
	// that marks a possible trigger when followed by silence.
	TriggerMin time.Duration
	TriggerMax time.Duration

	Anchor   Anchor
	Overflow OverflowAction

	// EndRunOnSilence clears speech activity on every silent buffer, so the
	// next signal starts a new segment unless a trigger is pending.
	EndRunOnSilence bool
}

// StreamPolicy is tuned for streamed podcast audio: long segments, speech
// activity held across short pauses, and overflow discarded.
func StreamPolicy() Policy {
	return Policy{
		Name:       PolicyStream,
		MinSegment: 7 * time.Second,
		MaxSegment: 30 * time.Second,
		TriggerMin: time.Second,
		TriggerMax: 2 * time.Second,
		Anchor:     AnchorSpeechRun,
		Overflow:   OverflowReset,
	}
}

// CapturePolicy is tuned for live radio capture: shorter segments measured
// on accumulated audio, and overflow committed for detection.
func CapturePolicy() Policy {
	return Policy{
		Name:            PolicyCapture,
		MinSegment:      9 * time.Second,
		MaxSegment:      15 * time.Second,
		TriggerMin:      time.Second,
		TriggerMax:      2 * time.Second,
		Anchor:          AnchorSegment,
		Overflow:        OverflowCommit,
		EndRunOnSilence: true,
	}
}

// PolicyByName returns the named preset.
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyStream:
		return StreamPolicy(), nil
	case PolicyCapture:
		return CapturePolicy(), nil
	default:
		return Policy{}, fmt.Errorf("%w: unknown policy %q", ErrInvalidPolicy, name)
	}
}

// Validate checks that thresholds are positive and ordered.
func (p Policy) Validate() error {
	switch {
	case p.MinSegment <= 0 || p.MaxSegment <= 0:
		return fmt.Errorf("%w: segment durations must be positive", ErrInvalidPolicy)
	case p.MinSegment >= p.MaxSegment:
		return fmt.Errorf("%w: min segment %s must be below max segment %s", ErrInvalidPolicy, p.MinSegment, p.MaxSegment)
	case p.TriggerMin < 0 || p.TriggerMax <= p.TriggerMin:
		return fmt.Errorf("%w: empty trigger window (%s, %s)", ErrInvalidPolicy, p.TriggerMin, p.TriggerMax)
	}
	switch p.Anchor {
	case AnchorSpeechRun, AnchorSegment:
	default:
		return fmt.Errorf("%w: unknown anchor %q", ErrInvalidPolicy, p.Anchor)
	}
	switch p.Overflow {
	case OverflowReset, OverflowCommit:
	default:
		return fmt.Errorf("%w: unknown overflow action %q", ErrInvalidPolicy, p.Overflow)
	}
	return nil
}

// inTriggerWindow reports whether d lies strictly inside the window.
func (p Policy) inTriggerWindow(d time.Duration) bool {
	return d > p.TriggerMin && d < p.TriggerMax
}
