// Package audio defines the frame buffer type that flows through the
// segmentation pipeline and the silence classifier applied to it.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedFormat is returned when a buffer carries a sample format
// the pipeline cannot inspect.
var ErrUnsupportedFormat = errors.New("audio: unsupported sample format")

// ErrInvalidFormat is returned by Format.Validate.
var ErrInvalidFormat = errors.New("audio: invalid format")

// SampleFormat identifies the in-memory representation of samples.
type SampleFormat int

const (
	// SampleFormatUnknown is the zero value and is never valid.
	SampleFormatUnknown SampleFormat = iota
	// Float32 samples are normalized to [-1, 1].
	Float32
	// Int16 samples span the full signed 16-bit range.
	Int16
)

// String implements fmt.Stringer.
func (f SampleFormat) String() string {
	switch f {
	case Float32:
		return "f32"
	case Int16:
		return "s16"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// BytesPerSample returns the encoded width of a single sample, or 0 for
// unsupported formats.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case Float32:
		return 4
	case Int16:
		return 2
	default:
		return 0
	}
}

// Format describes a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
	Sample     SampleFormat
}

// Validate reports whether the format can be processed.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("%w: channels %d", ErrInvalidFormat, f.Channels)
	}
	if f.Sample.BytesPerSample() == 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Sample)
	}
	return nil
}

// FramesIn returns the number of whole frames that fit in d.
func (f Format) FramesIn(d time.Duration) int {
	if f.SampleRate <= 0 || d <= 0 {
		return 0
	}
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second))
}

// DurationOf converts a frame count into stream time.
func (f Format) DurationOf(frames int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(f.SampleRate))
}

// Buffer is a block of interleaved PCM frames. Exactly one of F32 or I16
// is populated, matching Format.Sample. A buffer is not modified after it
// has been handed to the pipeline.
type Buffer struct {
	Format Format
	F32    []float32
	I16    []int16
}

// NewFloat32 wraps interleaved float32 samples.
func NewFloat32(sampleRate, channels int, samples []float32) Buffer {
	return Buffer{
		Format: Format{SampleRate: sampleRate, Channels: channels, Sample: Float32},
		F32:    samples,
	}
}

// NewInt16 wraps interleaved int16 samples.
func NewInt16(sampleRate, channels int, samples []int16) Buffer {
	return Buffer{
		Format: Format{SampleRate: sampleRate, Channels: channels, Sample: Int16},
		I16:    samples,
	}
}

// Silence returns a zero-valued buffer holding the given number of frames.
func Silence(format Format, frames int) Buffer {
	if frames < 0 {
		frames = 0
	}
	n := frames * format.Channels
	b := Buffer{Format: format}
	switch format.Sample {
	case Float32:
		b.F32 = make([]float32, n)
	case Int16:
		b.I16 = make([]int16, n)
	}
	return b
}

// Samples returns the number of interleaved samples in the buffer.
func (b Buffer) Samples() int {
	switch b.Format.Sample {
	case Float32:
		return len(b.F32)
	case Int16:
		return len(b.I16)
	default:
		return 0
	}
}

// Frames returns the number of frames, one sample per channel each.
func (b Buffer) Frames() int {
	if b.Format.Channels <= 0 {
		return 0
	}
	return b.Samples() / b.Format.Channels
}

// Duration returns the stream time covered by the buffer.
func (b Buffer) Duration() time.Duration {
	return b.Format.DurationOf(b.Frames())
}
