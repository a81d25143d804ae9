// Package ffmpeg holds the pieces shared by every component that shells out
// to the ffmpeg CLI.
package ffmpeg

import (
	"fmt"

	"github.com/maauso/tunewatch/internal/audio"
)

// DefaultPath is the binary looked up in PATH when none is configured.
const DefaultPath = "ffmpeg"

// RawFormat maps a sample format to ffmpeg's raw PCM muxer/demuxer name.
func RawFormat(f audio.SampleFormat) string {
	if f == audio.Float32 {
		return "f32le"
	}
	return "s16le"
}

// Error represents an error from running ffmpeg, including the stderr output.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *Error) Unwrap() error {
	return e.Err
}
