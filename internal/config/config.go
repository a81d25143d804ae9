// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/tunewatch/internal/audio"
	"github.com/maauso/tunewatch/internal/boundary"
	"github.com/maauso/tunewatch/internal/storage"
)

// Static errors for configuration validation.
var (
	// ErrInputURLRequired is returned when INPUT_URL is not set.
	ErrInputURLRequired = errors.New("config: INPUT_URL is required")
	// ErrDetectorURLRequired is returned when DETECTOR_URL is not set.
	ErrDetectorURLRequired = errors.New("config: DETECTOR_URL is required")
	// ErrInvalidConfig is returned when a value fails validation.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port" validate:"gte=1,lte=65535"`

	// Capture settings
	InputURL         string  `env:"INPUT_URL" json:"input_url"`
	FFmpegPath       string  `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	Realtime         bool    `env:"REALTIME, default=true" json:"realtime"`
	SampleRate       int     `env:"SAMPLE_RATE, default=44100" json:"sample_rate" validate:"gte=8000,lte=192000"`
	Channels         int     `env:"CHANNELS, default=1" json:"channels" validate:"gte=1,lte=8"`
	FramesPerBuffer  int     `env:"FRAMES_PER_BUFFER, default=4410" json:"frames_per_buffer" validate:"gte=1"`
	SilenceThreshold float32 `env:"SILENCE_THRESHOLD, default=0.0001" json:"silence_threshold" validate:"gt=0,lt=1"`

	// Boundary policy settings; zero durations keep the preset values
	Policy        string  `env:"POLICY, default=stream" json:"policy" validate:"oneof=stream capture"`
	MinSegmentSec float64 `env:"MIN_SEGMENT_SEC, default=0" json:"min_segment_sec" validate:"gte=0"`
	MaxSegmentSec float64 `env:"MAX_SEGMENT_SEC, default=0" json:"max_segment_sec" validate:"gte=0"`

	// Segment settings
	PaddingSec         float64 `env:"PADDING_SEC, default=1" json:"padding_sec" validate:"gte=0,lte=10"`
	SegmentDir         string  `env:"SEGMENT_DIR" json:"segment_dir"`
	SegmentName        string  `env:"SEGMENT_NAME, default=buffer" json:"segment_name" validate:"required"`
	SegmentFormat      string  `env:"SEGMENT_FORMAT, default=m4a" json:"segment_format" validate:"oneof=m4a wav"`
	UniqueSegmentNames bool    `env:"UNIQUE_SEGMENT_NAMES, default=false" json:"unique_segment_names"`
	IOWorkers          int     `env:"IO_WORKERS, default=2" json:"io_workers" validate:"gte=1,lte=16"`

	// Detector settings
	DetectorURL    string `env:"DETECTOR_URL" json:"detector_url"`
	DetectorAPIKey string `env:"DETECTOR_API_KEY" json:"-"` // Masked in JSON

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Match history kept for the HTTP API
	MatchHistory int `env:"MATCH_HISTORY, default=100" json:"match_history" validate:"gte=1"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and within range.
func (c *Config) Validate() error {
	if c.InputURL == "" {
		return ErrInputURLRequired
	}
	if c.DetectorURL == "" {
		return ErrDetectorURLRequired
	}

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s must satisfy %s %s (got %v)",
				ErrInvalidConfig, fe.Field(), fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if _, err := c.BoundaryPolicy(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Format returns the session audio format. Captured audio is decoded to
// 16-bit PCM.
func (c *Config) Format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: c.Channels, Sample: audio.Int16}
}

// BoundaryPolicy returns the named preset with any duration overrides.
func (c *Config) BoundaryPolicy() (boundary.Policy, error) {
	p, err := boundary.PolicyByName(c.Policy)
	if err != nil {
		return boundary.Policy{}, err
	}
	if c.MinSegmentSec > 0 {
		p.MinSegment = seconds(c.MinSegmentSec)
	}
	if c.MaxSegmentSec > 0 {
		p.MaxSegment = seconds(c.MaxSegmentSec)
	}
	if err := p.Validate(); err != nil {
		return boundary.Policy{}, err
	}
	return p, nil
}

// Padding returns the silence written around each encoded segment.
func (c *Config) Padding() time.Duration {
	return seconds(c.PaddingSec)
}

// S3Config returns the archive settings.
func (c *Config) S3Config() storage.S3Config {
	return storage.S3Config{
		Bucket:          c.S3Bucket,
		Region:          c.S3Region,
		Prefix:          c.S3Prefix,
		Endpoint:        c.S3Endpoint,
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccessKey,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, InputURL: %s, Policy: %s, SampleRate: %d, Channels: %d, SegmentFormat: %s, SegmentDir: %s, DetectorURL: %s, DetectorAPIKey: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.InputURL,
		c.Policy,
		c.SampleRate,
		c.Channels,
		c.SegmentFormat,
		c.SegmentDir,
		c.DetectorURL,
		mask(c.DetectorAPIKey),
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
