// Package capture produces audio buffers for the processing queue.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/maauso/tunewatch/internal/audio"
)

// DefaultFramesPerBuffer is 100ms at 44.1 kHz.
const DefaultFramesPerBuffer = 4410

// Static errors for capture sources.
var (
	// ErrInputRequired is returned when a source has no input URL.
	ErrInputRequired = errors.New("capture: input is required")
	// ErrUnknownDuration is returned by Probe for inputs without a duration, such as live streams.
	ErrUnknownDuration = errors.New("capture: duration unknown")
)

// Sink receives captured buffers.
type Sink interface {
	Enqueue(buf audio.Buffer) error
}

// Source pushes buffers into a Sink until the input ends, ctx is
// cancelled or the sink rejects a buffer.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

// Prober reports the length of a finite input. Live inputs return
// ErrUnknownDuration.
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// SinkFunc adapts an ordinary function to the Sink interface.
type SinkFunc func(buf audio.Buffer) error

// Enqueue implements Sink.
func (f SinkFunc) Enqueue(buf audio.Buffer) error { return f(buf) }
