package detector

import (
	"context"
	"errors"
)

// ErrDetectFailed is returned when the matcher could not process a segment.
var ErrDetectFailed = errors.New("detector: detection failed")

// Detector finds tunes in an encoded segment file. Detect may block for as
// long as the matcher takes; cancel ctx to abandon the call.
type Detector interface {
	Detect(ctx context.Context, path string) ([]Match, error)
}

// Func adapts an ordinary function to the Detector interface.
type Func func(ctx context.Context, path string) ([]Match, error)

// Detect implements Detector.
func (f Func) Detect(ctx context.Context, path string) ([]Match, error) {
	return f(ctx, path)
}

var _ Detector = Func(nil)
