package tune

import (
	"context"
	"log/slog"

	"github.com/maauso/tunewatch/internal/detector"
	"github.com/maauso/tunewatch/internal/processor"
)

var _ processor.Subscriber = (*Recorder)(nil)

// Recorder logs delivered matches and saves them to a Repository.
// It is meant to be registered as the pipeline subscriber.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRecorder creates a Recorder. A nil logger uses slog.Default().
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// TuneAvailable records every match in matches.
func (r *Recorder) TuneAvailable(matches []detector.Match) {
	for _, m := range matches {
		rec := NewRecord(m)
		r.logger.Info("tune available",
			slog.String("record_id", rec.ID),
			slog.Int("match_id", m.ID),
			slog.String("name", m.Name),
			slog.String("type", string(m.Type)),
			slog.Float64("match_percentage", m.MatchPercentage),
			slog.Float64("time", m.Time),
		)
		if err := r.repo.Save(context.Background(), rec); err != nil {
			r.logger.Error("failed to save tune record",
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Repository returns the backing repository.
func (r *Recorder) Repository() Repository { return r.repo }
