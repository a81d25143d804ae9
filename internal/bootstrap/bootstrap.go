// Package bootstrap builds a capture session from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/tunewatch/internal/boundary"
	"github.com/maauso/tunewatch/internal/capture"
	"github.com/maauso/tunewatch/internal/config"
	"github.com/maauso/tunewatch/internal/detector"
	"github.com/maauso/tunewatch/internal/metrics"
	"github.com/maauso/tunewatch/internal/processor"
	"github.com/maauso/tunewatch/internal/segment"
	"github.com/maauso/tunewatch/internal/storage"
	"github.com/maauso/tunewatch/internal/tune"
)

// probeTimeout bounds the input duration lookup at session start.
const probeTimeout = 10 * time.Second

// Session holds every collaborator of one capture session. It replaces
// process-wide singletons: build one per input and Close it when done.
type Session struct {
	Policy    boundary.Policy
	Storage   storage.Storage
	Encoder   segment.Encoder
	Detector  detector.Detector
	Matches   *tune.MemoryRepository
	Recorder  *tune.Recorder
	Processor *processor.Processor
	Source    capture.Source

	logger *slog.Logger
}

// NewSession creates and initializes all dependencies for a capture session.
// A nil m records nothing.
func NewSession(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	policy, err := cfg.BoundaryPolicy()
	if err != nil {
		return nil, fmt.Errorf("boundary policy: %w", err)
	}

	// Initialize storage
	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	enc := initEncoder(cfg)

	// Initialize detector client
	det, err := detector.NewHTTPDetector(cfg.DetectorURL,
		detector.WithAPIKey(cfg.DetectorAPIKey),
		detector.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create detector client: %w", err)
	}

	// Initialize match history
	matches := tune.NewMemoryRepository(cfg.MatchHistory)
	recorder := tune.NewRecorder(matches, logger)

	proc, err := processor.New(processor.Config{
		Format:           cfg.Format(),
		Policy:           policy,
		SilenceThreshold: cfg.SilenceThreshold,
		Encoder:          enc,
		Detector:         det,
		Storage:          store,
		Namer:            segment.NewNamer(store.Dir(), cfg.SegmentName, enc.Extension(), cfg.UniqueSegmentNames),
		Subscriber:       recorder,
		IOWorkers:        cfg.IOWorkers,
		Metrics:          m,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create processor: %w", err)
	}

	src, err := capture.NewFFmpegSource(cfg.InputURL, cfg.Format(),
		capture.WithFFmpegPath(cfg.FFmpegPath),
		capture.WithRealtime(cfg.Realtime),
		capture.WithFramesPerBuffer(cfg.FramesPerBuffer),
		capture.WithLogger(logger),
	)
	if err != nil {
		_ = proc.Close(ctx)
		return nil, fmt.Errorf("create capture source: %w", err)
	}

	logger.Info("capture session configured",
		slog.String("policy", policy.Name),
		slog.Duration("min_segment", policy.MinSegment),
		slog.Duration("max_segment", policy.MaxSegment),
		slog.String("segment_dir", store.Dir()),
		slog.String("segment_format", enc.Extension()),
		slog.Bool("archive_enabled", store.ArchiveEnabled()),
	)

	return &Session{
		Policy:    policy,
		Storage:   store,
		Encoder:   enc,
		Detector:  det,
		Matches:   matches,
		Recorder:  recorder,
		Processor: proc,
		Source:    src,
		logger:    logger,
	}, nil
}

// Run feeds the capture source into the processor until the input ends or
// ctx is cancelled. When the input ends, Run returns once every captured
// buffer has been processed and every detection has finished.
func (s *Session) Run(ctx context.Context) error {
	s.logInputDuration(ctx)

	if err := s.Source.Run(ctx, s.Processor); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	s.logger.Info("capture input ended")

	if err := s.Processor.Drain(ctx); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

// logInputDuration logs the length of finite inputs.
func (s *Session) logInputDuration(ctx context.Context) {
	prober, ok := s.Source.(capture.Prober)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	d, err := prober.Probe(ctx)
	switch {
	case err == nil:
		s.logger.Info("input duration", slog.Duration("duration", d))
	case errors.Is(err, capture.ErrUnknownDuration):
		s.logger.Info("input has no fixed duration")
	default:
		s.logger.Warn("failed to probe input", slog.String("error", err.Error()))
	}
}

// Close stops the processor and waits for in-flight work.
func (s *Session) Close(ctx context.Context) error {
	return s.Processor.Close(ctx)
}

// initEncoder selects the segment encoder for the configured format.
func initEncoder(cfg *config.Config) segment.Encoder {
	if cfg.SegmentFormat == "wav" {
		return segment.NewWAVEncoder(cfg.Padding())
	}
	return segment.NewFFmpegEncoder(cfg.FFmpegPath, cfg.Padding())
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Storage(ctx, cfg.SegmentDir, cfg.S3Config())
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 archive configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("segment_dir", s3Store.Dir()),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.SegmentDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("segment_dir", localStore.Dir()),
	)
	return localStore, nil
}
