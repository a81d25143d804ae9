package processor

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/maauso/tunewatch/internal/audio"
	"github.com/maauso/tunewatch/internal/boundary"
	"github.com/maauso/tunewatch/internal/segment"
)

var (
	kindSignal  = metric.WithAttributes(attribute.String("kind", "signal"))
	kindSilence = metric.WithAttributes(attribute.String("kind", "silence"))
)

// run is the worker goroutine: the only caller of machine.Process.
func (p *Processor) run() {
	defer close(p.done)

	for {
		buf, gen, ok := p.next()
		if !ok {
			return
		}
		p.process(buf, gen)
		p.pending.Done()
	}
}

// next blocks until a buffer is queued or the processor is closed.
func (p *Processor) next() (audio.Buffer, uint64, bool) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return audio.Buffer{}, 0, false
		}
		if len(p.tasks) > 0 {
			buf := p.tasks[0]
			p.tasks[0] = audio.Buffer{}
			p.tasks = p.tasks[1:]
			gen := p.generation
			p.mu.Unlock()

			p.metrics.QueueDepth.Add(p.ctx, -1)
			return buf, gen, true
		}
		p.mu.Unlock()

		select {
		case <-p.ctx.Done():
			return audio.Buffer{}, 0, false
		case <-p.notify:
		}
	}
}

// process classifies buf and applies it to the machine unless a pause
// happened after it was dequeued.
func (p *Processor) process(buf audio.Buffer, gen uint64) {
	silent, err := audio.Classify(buf, p.threshold)
	if err != nil {
		p.metrics.ClassificationFallbacks.Add(p.ctx, 1)
		p.logger.Warn("treating buffer as silent",
			slog.String("sample_format", buf.Format.Sample.String()),
			slog.String("error", err.Error()),
		)
	}

	p.stateMu.Lock()
	if p.currentGeneration() != gen {
		p.stateMu.Unlock()
		return
	}
	out := p.machine.Process(buf, silent)
	p.stateMu.Unlock()

	p.processed.Add(1)
	if silent {
		p.metrics.BuffersProcessed.Add(p.ctx, 1, kindSilence)
	} else {
		p.metrics.BuffersProcessed.Add(p.ctx, 1, kindSignal)
	}

	switch out.Action {
	case boundary.ActionReset:
		p.resets.Add(1)
		p.metrics.SegmentsReset.Add(p.ctx, 1, metric.WithAttributes(attribute.String("reason", string(out.Reason))))
		p.logger.Info("pending segment reset", slog.String("reason", string(out.Reason)))
	case boundary.ActionCommit:
		p.commit(out, gen)
	}
}

// commit waits for the previous segment's detection to finish, encodes the
// new segment and schedules its detection. Encoding runs on the I/O pool
// while the worker waits for it.
func (p *Processor) commit(out boundary.Outcome, gen uint64) {
	seg := out.Segment
	p.commits.Add(1)
	p.metrics.SegmentsCommitted.Add(p.ctx, 1, metric.WithAttributes(attribute.String("reason", string(out.Reason))))
	p.logger.Info("segment committed",
		slog.String("reason", string(out.Reason)),
		slog.Bool("possible_trigger", out.PossibleTrigger),
		slog.Duration("duration", seg.Duration()),
		slog.Int("frames", seg.Frames),
	)

	select {
	case p.slot <- struct{}{}:
	case <-p.ctx.Done():
		p.drop("closed")
		return
	}

	if p.currentGeneration() != gen {
		<-p.slot
		p.drop("paused")
		return
	}

	path := p.namer.Next()
	start := time.Now()
	errc := make(chan error, 1)
	p.io.Go(func() error {
		errc <- p.encoder.Encode(p.ctx, path, seg)
		return nil
	})
	if err := <-errc; err != nil {
		if rmErr := p.storage.Remove(context.WithoutCancel(p.ctx), path); rmErr != nil {
			p.logger.Warn("failed to remove partial segment file",
				slog.String("path", path),
				slog.String("error", rmErr.Error()),
			)
		}
		<-p.slot
		p.encodeFailures.Add(1)
		p.metrics.EncodeFailures.Add(p.ctx, 1)
		p.logger.Error("failed to encode segment",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	p.metrics.EncodeDuration.Record(p.ctx, time.Since(start).Seconds())

	p.logger.Debug("segment flushed", p.flushedAttrs(path, seg)...)

	p.pending.Add(1)
	p.io.Go(func() error {
		defer p.pending.Done()
		defer func() { <-p.slot }()
		p.detect(path)
		return nil
	})
}

// flushedAttrs describes a segment file after encoding. WAV files are read
// back so the logged duration is the one on disk, padding included.
func (p *Processor) flushedAttrs(path string, seg *segment.Segment) []any {
	attrs := []any{
		slog.String("path", path),
		slog.Duration("duration", seg.Duration()),
		slog.Int("frames", seg.Frames),
	}
	if size, err := p.storage.Size(path); err == nil {
		attrs = append(attrs, slog.Int64("size_bytes", size))
	}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		if info, err := segment.ReadWAVInfo(path); err == nil {
			attrs = append(attrs, slog.Duration("flushed_duration", info.Duration()))
		}
	}
	return attrs
}

// drop records a committed segment that will not be encoded.
func (p *Processor) drop(reason string) {
	p.dropped.Add(1)
	p.metrics.SegmentsDropped.Add(context.Background(), 1)
	p.logger.Info("committed segment dropped", slog.String("reason", reason))
}
