package segment

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/maauso/tunewatch/internal/audio"
)

// DefaultPadding is the silence written before and after every segment.
const DefaultPadding = time.Second

// ErrEncodingFailed wraps every failure to produce a segment file.
var ErrEncodingFailed = errors.New("segment: encoding failed")

// Encoder writes a committed segment to a file.
type Encoder interface {
	// Encode removes any file already at path and writes the lead-in
	// silence, every buffer in order, then the trail-out silence.
	Encode(ctx context.Context, path string, seg *Segment) error

	// Extension is the file extension, with the dot, of produced files.
	Extension() string
}

// removeExisting deletes path when present.
func removeExisting(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing file: %w", err)
	}
	return nil
}

// checkSegment rejects segments whose buffers disagree with the segment format.
func checkSegment(seg *Segment) error {
	if seg == nil {
		return errors.New("nil segment")
	}
	if err := seg.Format.Validate(); err != nil {
		return err
	}
	for i, b := range seg.Buffers {
		if b.Format != seg.Format {
			return fmt.Errorf("buffer %d format %+v does not match segment format %+v", i, b.Format, seg.Format)
		}
	}
	return nil
}

// writePCM streams padding, buffers and padding as little-endian PCM.
func writePCM(w io.Writer, seg *Segment, padFrames int) error {
	pad := audio.Silence(seg.Format, padFrames)
	if err := writeBuffer(w, pad); err != nil {
		return err
	}
	for _, b := range seg.Buffers {
		if err := writeBuffer(w, b); err != nil {
			return err
		}
	}
	return writeBuffer(w, pad)
}

func writeBuffer(w io.Writer, b audio.Buffer) error {
	switch b.Format.Sample {
	case audio.Float32:
		return binary.Write(w, binary.LittleEndian, b.F32)
	case audio.Int16:
		return binary.Write(w, binary.LittleEndian, b.I16)
	default:
		return audio.ErrUnsupportedFormat
	}
}
