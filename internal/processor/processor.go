// Package processor runs the capture pipeline for one session: a
// single-consumer FIFO of audio buffers feeding the silence classifier and
// the boundary machine, with committed segments encoded and handed to the
// match detector one at a time.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/tunewatch/internal/audio"
	"github.com/maauso/tunewatch/internal/boundary"
	"github.com/maauso/tunewatch/internal/detector"
	"github.com/maauso/tunewatch/internal/metrics"
	"github.com/maauso/tunewatch/internal/segment"
	"github.com/maauso/tunewatch/internal/storage"
)

// DefaultIOWorkers bounds concurrent encode and detect jobs.
const DefaultIOWorkers = 2

// Static errors for processor operations.
var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("processor: closed")
	// ErrDraining is returned by Enqueue after Drain.
	ErrDraining = errors.New("processor: draining")
	// ErrFormatMismatch is returned when a buffer does not match the session format.
	ErrFormatMismatch = errors.New("processor: buffer format does not match session format")
	// ErrEncoderRequired is returned when Config.Encoder is nil.
	ErrEncoderRequired = errors.New("processor: encoder is required")
	// ErrDetectorRequired is returned when Config.Detector is nil.
	ErrDetectorRequired = errors.New("processor: detector is required")
	// ErrStorageRequired is returned when Config.Storage is nil.
	ErrStorageRequired = errors.New("processor: storage is required")
)

// Config holds the collaborators of a Processor.
type Config struct {
	Format           audio.Format
	Policy           boundary.Policy
	SilenceThreshold float32 // zero means audio.DefaultSilenceThreshold

	Encoder    segment.Encoder
	Detector   detector.Detector
	Storage    storage.Storage
	Namer      *segment.Namer // nil reuses <storage dir>/buffer<ext>
	Subscriber Subscriber     // may be nil

	IOWorkers int // zero means DefaultIOWorkers
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Stats is a snapshot of processor counters.
type Stats struct {
	Queued         int    `json:"queued"`
	Processed      uint64 `json:"processed"`
	Commits        uint64 `json:"commits"`
	Resets         uint64 `json:"resets"`
	Dropped        uint64 `json:"dropped"`
	EncodeFailures uint64 `json:"encode_failures"`
	DetectFailures uint64 `json:"detect_failures"`
	Delivered      uint64 `json:"delivered"`
	Detecting      bool   `json:"detecting"`
	Draining       bool   `json:"draining"`
	Closed         bool   `json:"closed"`
}

// Processor owns the boundary machine of one capture session. Enqueue,
// Pause, Stats and Close are safe for concurrent use.
type Processor struct {
	format    audio.Format
	threshold float32
	encoder   segment.Encoder
	detector  detector.Detector
	storage   storage.Storage
	namer     *segment.Namer
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu         sync.Mutex
	tasks      []audio.Buffer
	generation uint64
	subscriber Subscriber
	draining   bool
	closed     bool

	// pending counts queued buffers, the buffer being applied and
	// scheduled detections. Drain waits for it.
	pending sync.WaitGroup

	// stateMu guards machine. Held by the worker while a buffer is applied
	// and by Pause while the machine is reset.
	stateMu sync.Mutex
	machine *boundary.Machine

	// slot holds a token while a committed segment is being encoded or
	// detected; at most one segment file exists at a time.
	slot chan struct{}
	io   errgroup.Group

	notify    chan struct{}
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	processed      atomic.Uint64
	commits        atomic.Uint64
	resets         atomic.Uint64
	dropped        atomic.Uint64
	encodeFailures atomic.Uint64
	detectFailures atomic.Uint64
	delivered      atomic.Uint64
}

// New creates a Processor and starts its worker goroutine.
// Call Close to stop it.
func New(cfg Config) (*Processor, error) {
	switch {
	case cfg.Encoder == nil:
		return nil, ErrEncoderRequired
	case cfg.Detector == nil:
		return nil, ErrDetectorRequired
	case cfg.Storage == nil:
		return nil, ErrStorageRequired
	}

	machine, err := boundary.NewMachine(cfg.Policy, cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}

	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = audio.DefaultSilenceThreshold
	}
	if cfg.IOWorkers <= 0 {
		cfg.IOWorkers = DefaultIOWorkers
	}
	if cfg.Namer == nil {
		cfg.Namer = segment.NewNamer(cfg.Storage.Dir(), segment.DefaultBaseName, cfg.Encoder.Extension(), false)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		format:     cfg.Format,
		threshold:  cfg.SilenceThreshold,
		encoder:    cfg.Encoder,
		detector:   cfg.Detector,
		storage:    cfg.Storage,
		namer:      cfg.Namer,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With(slog.String("policy", cfg.Policy.Name)),
		subscriber: cfg.Subscriber,
		machine:    machine,
		slot:       make(chan struct{}, 1),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	p.io.SetLimit(cfg.IOWorkers)

	go p.run()
	return p, nil
}

// Format returns the session format buffers must match.
func (p *Processor) Format() audio.Format { return p.format }

// Enqueue appends buf to the FIFO and returns without waiting for it to be
// processed. The buffer must not be modified afterwards.
func (p *Processor) Enqueue(buf audio.Buffer) error {
	if err := p.checkFormat(buf.Format); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.draining {
		p.mu.Unlock()
		return ErrDraining
	}
	p.pending.Add(1)
	p.tasks = append(p.tasks, buf)
	p.mu.Unlock()

	p.metrics.QueueDepth.Add(p.ctx, 1)

	// Wake the worker.
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

// checkFormat accepts buffers of the session rate and channel count. An
// unsupported sample format passes through so the classifier can report it.
func (p *Processor) checkFormat(f audio.Format) error {
	if f.SampleRate != p.format.SampleRate || f.Channels != p.format.Channels {
		return fmt.Errorf("%w: got %d Hz x %d, want %d Hz x %d",
			ErrFormatMismatch, f.SampleRate, f.Channels, p.format.SampleRate, p.format.Channels)
	}
	if f.Sample != p.format.Sample && f.Sample.BytesPerSample() != 0 {
		return fmt.Errorf("%w: got %s, want %s", ErrFormatMismatch, f.Sample, p.format.Sample)
	}
	return nil
}

// Pause drops every queued buffer, including one the worker has dequeued
// but not yet applied, and returns the boundary machine to idle. When Pause
// returns no earlier buffer will reach the machine. A later Enqueue starts
// from a fresh idle state.
func (p *Processor) Pause() {
	p.mu.Lock()
	n := len(p.tasks)
	p.tasks = nil
	p.generation++
	p.pending.Add(-n)
	p.mu.Unlock()

	p.stateMu.Lock()
	p.machine.Reset()
	p.stateMu.Unlock()

	if n > 0 {
		p.metrics.QueueDepth.Add(p.ctx, -int64(n))
	}
	p.logger.Info("processor paused", slog.Int("dropped_buffers", n))
}

// Drain stops intake and waits until every queued buffer has been applied
// and every scheduled detection has delivered its match. It is used when
// the input ends; Close must still be called afterwards. A segment still
// pending in the boundary machine is not committed.
func (p *Processor) Drain(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.draining = true
	queued := len(p.tasks)
	p.mu.Unlock()

	p.logger.Info("draining processor", slog.Int("queued", queued))

	drained := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		p.logger.Info("processor drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("processor: drain: %w", ctx.Err())
	}
}

// Close stops intake, detaches the subscriber, cancels any in-flight
// detector call and waits for the worker and I/O jobs to finish or for ctx
// to expire. Close is idempotent.
func (p *Processor) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		n := len(p.tasks)
		p.tasks = nil
		p.generation++
		p.pending.Add(-n)
		p.subscriber = nil
		p.mu.Unlock()

		if n > 0 {
			p.metrics.QueueDepth.Add(context.Background(), -int64(n))
		}
		p.cancel()
	})

	finished := make(chan struct{})
	go func() {
		<-p.done
		_ = p.io.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		return fmt.Errorf("processor: close: %w", ctx.Err())
	}

	p.stateMu.Lock()
	p.machine.Reset()
	p.stateMu.Unlock()

	p.logger.Info("processor closed")
	return nil
}

// Stats returns a snapshot of the processor counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	queued := len(p.tasks)
	draining := p.draining
	closed := p.closed
	p.mu.Unlock()

	return Stats{
		Queued:         queued,
		Processed:      p.processed.Load(),
		Commits:        p.commits.Load(),
		Resets:         p.resets.Load(),
		Dropped:        p.dropped.Load(),
		EncodeFailures: p.encodeFailures.Load(),
		DetectFailures: p.detectFailures.Load(),
		Delivered:      p.delivered.Load(),
		Detecting:      len(p.slot) > 0,
		Draining:       draining,
		Closed:         closed,
	}
}

// BoundaryState returns a snapshot of the boundary machine.
func (p *Processor) BoundaryState() boundary.State {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.machine.State()
}

// currentGeneration returns the pause counter.
func (p *Processor) currentGeneration() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}
