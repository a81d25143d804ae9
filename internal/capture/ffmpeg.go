package capture

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/maauso/tunewatch/internal/audio"
	"github.com/maauso/tunewatch/internal/ffmpeg"
)

var (
	_ Source = (*FFmpegSource)(nil)
	_ Prober = (*FFmpegSource)(nil)
)

var durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)

// FFmpegSource decodes a file or stream URL with the ffmpeg CLI and feeds
// the decoded PCM to a Sink.
type FFmpegSource struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath      string
	input           string
	format          audio.Format
	framesPerBuffer int
	realtime        bool
	logger          *slog.Logger
}

// FFmpegOption configures an FFmpegSource.
type FFmpegOption func(*FFmpegSource)

// WithFFmpegPath sets the ffmpeg binary.
func WithFFmpegPath(path string) FFmpegOption {
	return func(s *FFmpegSource) {
		if path != "" {
			s.ffmpegPath = path
		}
	}
}

// WithRealtime reads the input at its native rate (ffmpeg -re).
func WithRealtime(realtime bool) FFmpegOption {
	return func(s *FFmpegSource) {
		s.realtime = realtime
	}
}

// WithFramesPerBuffer sets the size of emitted buffers.
func WithFramesPerBuffer(n int) FFmpegOption {
	return func(s *FFmpegSource) {
		if n > 0 {
			s.framesPerBuffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FFmpegOption {
	return func(s *FFmpegSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFFmpegSource creates a source decoding input to the given format.
// Only Int16 and Float32 formats are accepted.
func NewFFmpegSource(input string, format audio.Format, opts ...FFmpegOption) (*FFmpegSource, error) {
	if input == "" {
		return nil, ErrInputRequired
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	s := &FFmpegSource{
		ffmpegPath:      ffmpeg.DefaultPath,
		input:           input,
		format:          format,
		framesPerBuffer: DefaultFramesPerBuffer,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// args builds the decode command line.
func (s *FFmpegSource) args() []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	if s.realtime {
		args = append(args, "-re")
	}
	args = append(args,
		"-i", s.input,
		"-vn",
		"-f", ffmpeg.RawFormat(s.format.Sample),
		"-ar", strconv.Itoa(s.format.SampleRate),
		"-ac", strconv.Itoa(s.format.Channels),
		"pipe:1",
	)
	return args
}

// Run implements Source. It returns nil when the input ends.
func (s *FFmpegSource) Run(ctx context.Context, sink Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	args := s.args()
	// #nosec G204 - ffmpegPath and input come from configuration
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return &ffmpeg.Error{Args: args, Stderr: stderr.String(), Err: err}
	}

	s.logger.Info("capture started",
		slog.String("input", s.input),
		slog.Int("sample_rate", s.format.SampleRate),
		slog.Int("channels", s.format.Channels),
		slog.Bool("realtime", s.realtime),
	)

	reader, err := NewPCMReader(stdout, s.format, s.framesPerBuffer)
	if err != nil {
		cancel()
		_ = cmd.Wait()
		return err
	}
	readErr := reader.Run(ctx, sink)
	if readErr != nil {
		// Stop ffmpeg so Wait does not block on a full pipe.
		cancel()
	}
	waitErr := cmd.Wait()

	switch {
	case readErr != nil:
		return readErr
	case ctx.Err() != nil:
		return ctx.Err()
	case waitErr != nil:
		return &ffmpeg.Error{Args: args, Stderr: stderr.String(), Err: waitErr}
	}

	s.logger.Info("capture finished", slog.String("input", s.input))
	return nil
}

// Probe returns the duration of the input as reported by ffmpeg.
// Live streams return ErrUnknownDuration.
func (s *FFmpegSource) Probe(ctx context.Context) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-hide_banner",
		"-i", s.input,
		"-t", "0",
		"-f", "null", "-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg writes the input summary to stderr
	_ = cmd.Run()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return parseDuration(stderr.String())
}

// parseDuration extracts "Duration: HH:MM:SS.frac" from ffmpeg output.
func parseDuration(output string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(output)
	if len(m) < 5 {
		return 0, ErrUnknownDuration
	}

	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])
	frac, _ := strconv.ParseFloat("0."+m[4], 64)

	d := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(frac*float64(time.Second))
	return d, nil
}
