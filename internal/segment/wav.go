package segment

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/maauso/tunewatch/internal/audio"
)

const (
	wavHeaderSize   = 44
	wavFormatPCM    = 1
	wavFormatIEEE   = 3
	wavFmtChunkSize = 16
)

// ErrInvalidWAV is returned by ReadWAVInfo for files that are not RIFF/WAVE.
var ErrInvalidWAV = errors.New("segment: invalid WAV file")

// WAVEncoder writes segments as uncompressed RIFF/WAVE files: 16-bit PCM
// for Int16 input and 32-bit IEEE float for Float32 input.
type WAVEncoder struct {
	padding time.Duration
}

// NewWAVEncoder creates a WAVEncoder. A negative padding is treated as zero.
func NewWAVEncoder(padding time.Duration) *WAVEncoder {
	if padding < 0 {
		padding = 0
	}
	return &WAVEncoder{padding: padding}
}

// Extension implements Encoder.
func (e *WAVEncoder) Extension() string { return ".wav" }

// Encode implements Encoder.
func (e *WAVEncoder) Encode(ctx context.Context, path string, seg *Segment) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}
	if err := checkSegment(seg); err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}
	if err := removeExisting(path); err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) // #nosec G304 - path comes from the segment namer
	if err != nil {
		return fmt.Errorf("%w: create file: %w", ErrEncodingFailed, err)
	}

	padFrames := seg.Format.FramesIn(e.padding)
	if err := writeWAV(f, seg, padFrames); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("%w: close file: %w", ErrEncodingFailed, err)
	}
	return nil
}

func writeWAV(w io.Writer, seg *Segment, padFrames int) error {
	bw := bufio.NewWriter(w)
	totalFrames := seg.Frames + 2*padFrames
	if err := writeWAVHeader(bw, seg.Format, totalFrames); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := writePCM(bw, seg, padFrames); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	return bw.Flush()
}

func writeWAVHeader(w io.Writer, format audio.Format, frames int) error {
	bps := format.Sample.BytesPerSample() * 8
	blockAlign := format.Channels * format.Sample.BytesPerSample()
	byteRate := format.SampleRate * blockAlign
	dataSize := frames * blockAlign

	tag := uint16(wavFormatPCM)
	if format.Sample == audio.Float32 {
		tag = wavFormatIEEE
	}

	buf := make([]byte, wavHeaderSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], wavFmtChunkSize)
	binary.LittleEndian.PutUint16(buf[20:22], tag)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	_, err := w.Write(buf)
	return err
}

// WAVInfo describes the audio stored in a WAV file.
type WAVInfo struct {
	Format     audio.Format
	Frames     int
	DataOffset int64
}

// Duration returns the playback length of the file.
func (i WAVInfo) Duration() time.Duration {
	return i.Format.DurationOf(i.Frames)
}

// ReadWAVInfo walks the RIFF chunks of the file at path and returns its
// format and frame count.
func ReadWAVInfo(path string) (WAVInfo, error) {
	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return WAVInfo{}, fmt.Errorf("open wav: %w", err)
	}
	defer func() { _ = f.Close() }()

	return parseWAVInfo(bufio.NewReader(f))
}

func parseWAVInfo(r io.Reader) (WAVInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVInfo{}, fmt.Errorf("%w: short header", ErrInvalidWAV)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVInfo{}, fmt.Errorf("%w: missing RIFF/WAVE identifier", ErrInvalidWAV)
	}

	var (
		info     WAVInfo
		foundFmt bool
		offset   int64 = 12
		chunk    [8]byte
	)
	for {
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return WAVInfo{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))
		offset += 8

		switch id {
		case "fmt ":
			if size < wavFmtChunkSize {
				return WAVInfo{}, fmt.Errorf("%w: fmt chunk too small", ErrInvalidWAV)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return WAVInfo{}, fmt.Errorf("%w: truncated fmt chunk", ErrInvalidWAV)
			}
			tag := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			info.Format.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.Format.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			switch {
			case tag == wavFormatPCM && bits == 16:
				info.Format.Sample = audio.Int16
			case tag == wavFormatIEEE && bits == 32:
				info.Format.Sample = audio.Float32
			default:
				return WAVInfo{}, fmt.Errorf("%w: tag %d with %d bits", audio.ErrUnsupportedFormat, tag, bits)
			}
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAVInfo{}, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			info.DataOffset = offset
			blockAlign := int64(info.Format.Channels * info.Format.Sample.BytesPerSample())
			if blockAlign > 0 {
				info.Frames = int(size / blockAlign)
			}
			return info, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size); err != nil {
				return WAVInfo{}, fmt.Errorf("%w: truncated %q chunk", ErrInvalidWAV, id)
			}
		}

		offset += size
		if size%2 != 0 {
			if _, err := io.CopyN(io.Discard, r, 1); err != nil {
				return WAVInfo{}, fmt.Errorf("%w: missing pad byte", ErrInvalidWAV)
			}
			offset++
		}
	}
}

var _ Encoder = (*WAVEncoder)(nil)
