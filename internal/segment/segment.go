// Package segment accumulates frame buffers into bounded clips and encodes
// committed clips to files for the match detector.
package segment

import (
	"time"

	"github.com/maauso/tunewatch/internal/audio"
)

// Segment is an ordered run of buffers that share a format.
type Segment struct {
	Format  audio.Format
	Buffers []audio.Buffer
	Frames  int
}

// Duration returns the stream time covered by the segment, without padding.
func (s *Segment) Duration() time.Duration {
	return s.Format.DurationOf(s.Frames)
}

// Accumulator collects buffers for the pending segment. It is not safe for
// concurrent use; the boundary machine owns it.
type Accumulator struct {
	format  audio.Format
	buffers []audio.Buffer
	frames  int
}

// NewAccumulator returns an empty accumulator for the given format.
func NewAccumulator(format audio.Format) *Accumulator {
	return &Accumulator{format: format}
}

// Add appends buf and advances the running frame count.
func (a *Accumulator) Add(buf audio.Buffer) {
	a.buffers = append(a.buffers, buf)
	a.frames += buf.Frames()
}

// Reset discards every pending buffer.
func (a *Accumulator) Reset() {
	a.buffers = nil
	a.frames = 0
}

// Take moves the pending buffers into a Segment and empties the accumulator.
func (a *Accumulator) Take() *Segment {
	seg := &Segment{
		Format:  a.format,
		Buffers: a.buffers,
		Frames:  a.frames,
	}
	a.buffers = nil
	a.frames = 0
	return seg
}

// Len returns the number of pending buffers.
func (a *Accumulator) Len() int { return len(a.buffers) }

// Frames returns the number of pending frames.
func (a *Accumulator) Frames() int { return a.frames }

// Duration returns the stream time of the pending frames.
func (a *Accumulator) Duration() time.Duration {
	return a.format.DurationOf(a.frames)
}
