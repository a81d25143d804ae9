package segment

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/maauso/tunewatch/internal/ffmpeg"
)

// DefaultAACBitrate is the bitrate used by FFmpegEncoder.
const DefaultAACBitrate = "128k"

// FFmpegEncoder writes segments as AAC audio in an MPEG-4 container by
// piping raw PCM into the ffmpeg CLI.
type FFmpegEncoder struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	padding    time.Duration
	bitrate    string
}

// NewFFmpegEncoder creates a new FFmpegEncoder.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegEncoder(ffmpegPath string, padding time.Duration) *FFmpegEncoder {
	if ffmpegPath == "" {
		ffmpegPath = ffmpeg.DefaultPath
	}
	if padding < 0 {
		padding = 0
	}
	return &FFmpegEncoder{ffmpegPath: ffmpegPath, padding: padding, bitrate: DefaultAACBitrate}
}

// Extension implements Encoder.
func (e *FFmpegEncoder) Extension() string { return ".m4a" }

// Encode implements Encoder.
func (e *FFmpegEncoder) Encode(ctx context.Context, path string, seg *Segment) error {
	if err := checkSegment(seg); err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}
	if err := removeExisting(path); err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}

	var pcm bytes.Buffer
	padFrames := seg.Format.FramesIn(e.padding)
	pcm.Grow((seg.Frames + 2*padFrames) * seg.Format.Channels * seg.Format.Sample.BytesPerSample())
	if err := writePCM(&pcm, seg, padFrames); err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}

	args := []string{
		"-y",
		"-hide_banner",
		"-f", ffmpeg.RawFormat(seg.Format.Sample),
		"-ar", strconv.Itoa(seg.Format.SampleRate),
		"-ac", strconv.Itoa(seg.Format.Channels),
		"-i", "pipe:0",
		"-c:a", "aac",
		"-b:a", e.bitrate,
		"-f", "mp4",
		path,
	}

	if err := e.runFFmpeg(ctx, args, &pcm); err != nil {
		// ffmpeg may have opened the output before failing.
		_ = os.Remove(path)
		return fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}
	return nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (e *FFmpegEncoder) runFFmpeg(ctx context.Context, args []string, stdin *bytes.Buffer) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	cmd.Stdin = stdin

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &ffmpeg.Error{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return nil
}

var _ Encoder = (*FFmpegEncoder)(nil)
