package processor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/maauso/tunewatch/internal/detector"
)

// detect archives the segment when enabled, runs the detector, deletes the
// file and forwards the first match. Detector errors count as no match.
func (p *Processor) detect(path string) {
	if p.storage.ArchiveEnabled() {
		p.archive(path)
	}

	start := time.Now()
	matches, err := p.detector.Detect(p.ctx, path)
	p.metrics.DetectDuration.Record(p.ctx, time.Since(start).Seconds())

	if rmErr := p.storage.Remove(context.WithoutCancel(p.ctx), path); rmErr != nil {
		p.logger.Warn("failed to remove segment file",
			slog.String("path", path),
			slog.String("error", rmErr.Error()),
		)
	}

	if err != nil {
		p.detectFailures.Add(1)
		p.metrics.DetectFailures.Add(p.ctx, 1)
		p.logger.Warn("detector failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}

	p.logger.Info("detection finished",
		slog.Int("matches", len(matches)),
		slog.Duration("elapsed", time.Since(start)),
	)
	if len(matches) == 0 {
		return
	}
	p.deliver(matches[:1])
}

// deliver hands matches to the subscriber unless the processor was closed.
func (p *Processor) deliver(matches []detector.Match) {
	p.mu.Lock()
	sub := p.subscriber
	p.mu.Unlock()
	if sub == nil {
		return
	}

	p.delivered.Add(uint64(len(matches)))
	p.metrics.MatchesDelivered.Add(p.ctx, int64(len(matches)))
	sub.TuneAvailable(matches)
}

// archive copies the segment to the configured bucket. Failures are logged.
func (p *Processor) archive(path string) {
	f, err := p.storage.Open(p.ctx, path)
	if err != nil {
		p.logger.Warn("failed to open segment for archive", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = f.Close() }()

	key := fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405.000Z"), filepath.Base(path))
	url, err := p.storage.Archive(p.ctx, key, f)
	if err != nil {
		p.logger.Warn("failed to archive segment",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	p.logger.Debug("segment archived", slog.String("url", url))
}
