package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/maauso/tunewatch/internal/audio"
)

var _ Source = (*PCMReader)(nil)

// PCMReader slices raw little-endian interleaved PCM into fixed-size
// buffers. A trailing partial buffer is flushed; a trailing partial frame
// is discarded.
type PCMReader struct {
	r               io.Reader
	format          audio.Format
	framesPerBuffer int
}

// NewPCMReader creates a PCMReader. A framesPerBuffer <= 0 uses
// DefaultFramesPerBuffer.
func NewPCMReader(r io.Reader, format audio.Format, framesPerBuffer int) (*PCMReader, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	return &PCMReader{r: r, format: format, framesPerBuffer: framesPerBuffer}, nil
}

// Run implements Source. It returns nil at end of input.
func (p *PCMReader) Run(ctx context.Context, sink Sink) error {
	frameBytes := p.format.Channels * p.format.Sample.BytesPerSample()
	raw := make([]byte, p.framesPerBuffer*frameBytes)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := io.ReadFull(p.r, raw)
		eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !eof {
			return fmt.Errorf("capture: read: %w", err)
		}

		if whole := n - n%frameBytes; whole > 0 {
			if err := sink.Enqueue(p.decode(raw[:whole])); err != nil {
				return fmt.Errorf("capture: enqueue: %w", err)
			}
		}
		if eof {
			return nil
		}
	}
}

// decode copies raw into a new buffer so the read slice can be reused.
func (p *PCMReader) decode(raw []byte) audio.Buffer {
	if p.format.Sample == audio.Float32 {
		samples := make([]float32, len(raw)/4)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return audio.NewFloat32(p.format.SampleRate, p.format.Channels, samples)
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return audio.NewInt16(p.format.SampleRate, p.format.Channels, samples)
}
