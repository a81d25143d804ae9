package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/tunewatch/internal/audio"
	"github.com/maauso/tunewatch/internal/boundary"
	"github.com/maauso/tunewatch/internal/detector"
	"github.com/maauso/tunewatch/internal/segment"
	"github.com/maauso/tunewatch/internal/storage"
)

// testFormat makes every 100-frame buffer exactly 100ms long.
var testFormat = audio.Format{SampleRate: 1000, Channels: 1, Sample: audio.Int16}

const (
	step    = 100 * time.Millisecond
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

// mockDetector implements detector.Detector for testing.
type mockDetector struct {
	mock.Mock
}

func (m *mockDetector) Detect(ctx context.Context, path string) ([]detector.Match, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]detector.Match), args.Error(1)
}

// mockSubscriber implements Subscriber for testing.
type mockSubscriber struct {
	mock.Mock
}

func (m *mockSubscriber) TuneAvailable(matches []detector.Match) {
	m.Called(matches)
}

// encoderFunc wraps a function as a segment.Encoder writing WAV names.
type encoderFunc func(ctx context.Context, path string, seg *segment.Segment) error

func (f encoderFunc) Encode(ctx context.Context, path string, seg *segment.Segment) error {
	return f(ctx, path, seg)
}

func (f encoderFunc) Extension() string { return ".wav" }

type fixture struct {
	proc     *Processor
	detector *mockDetector
	sub      *mockSubscriber
	store    *storage.LocalStorage
}

func newFixture(t *testing.T, policy boundary.Policy, enc segment.Encoder) *fixture {
	t.Helper()

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	if enc == nil {
		enc = segment.NewWAVEncoder(segment.DefaultPadding)
	}

	f := &fixture{detector: &mockDetector{}, sub: &mockSubscriber{}, store: store}
	f.proc, err = New(Config{
		Format:     testFormat,
		Policy:     policy,
		Encoder:    enc,
		Detector:   f.detector,
		Storage:    store,
		Subscriber: f.sub,
		Logger:     slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.proc.Close(context.Background()) })
	return f
}

func (f *fixture) segmentPath() string {
	return filepath.Join(f.store.Dir(), "buffer.wav")
}

func buffer(silent bool) audio.Buffer {
	samples := make([]int16, testFormat.FramesIn(step))
	if !silent {
		for i := range samples {
			samples[i] = 1000
		}
	}
	return audio.NewInt16(testFormat.SampleRate, testFormat.Channels, samples)
}

// feed enqueues d worth of 100ms buffers and returns how many were queued.
func feed(t *testing.T, p *Processor, silent bool, d time.Duration) uint64 {
	t.Helper()
	n := uint64(d / step)
	for i := uint64(0); i < n; i++ {
		require.NoError(t, p.Enqueue(buffer(silent)))
	}
	return n
}

// feedTriggerScenario plays 2s silence, 1.5s speech, 0.3s pause, 8s speech.
func feedTriggerScenario(t *testing.T, p *Processor) uint64 {
	t.Helper()
	n := feed(t, p, true, 2*time.Second)
	n += feed(t, p, false, 1500*time.Millisecond)
	n += feed(t, p, true, 300*time.Millisecond)
	n += feed(t, p, false, 8*time.Second)
	return n
}

func processed(p *Processor, n uint64) func() bool {
	return func() bool { return p.Stats().Processed == n }
}

func TestNew_Validation(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	enc := segment.NewWAVEncoder(0)
	det := &mockDetector{}

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"no encoder", Config{Format: testFormat, Policy: boundary.StreamPolicy(), Detector: det, Storage: store}, ErrEncoderRequired},
		{"no detector", Config{Format: testFormat, Policy: boundary.StreamPolicy(), Encoder: enc, Storage: store}, ErrDetectorRequired},
		{"no storage", Config{Format: testFormat, Policy: boundary.StreamPolicy(), Encoder: enc, Detector: det}, ErrStorageRequired},
		{"bad policy", Config{Format: testFormat, Encoder: enc, Detector: det, Storage: store}, boundary.ErrInvalidPolicy},
		{"bad format", Config{Policy: boundary.StreamPolicy(), Encoder: enc, Detector: det, Storage: store}, audio.ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestProcessor_DeliversFirstMatchOnly(t *testing.T) {
	f := newFixture(t, boundary.StreamPolicy(), nil)

	first := detector.Match{ID: 1, Name: "first", Type: detector.TypeCoupon, MatchPercentage: 90, Time: 2}
	second := detector.Match{ID: 2, Name: "second", Type: detector.TypePoll, MatchPercentage: 80, Time: 5}

	f.detector.On("Detect", mock.Anything, f.segmentPath()).
		Run(func(args mock.Arguments) {
			info, err := segment.ReadWAVInfo(args.String(1))
			assert.NoError(t, err)
			// 1.5s kept before the pause plus 7.1s of the second run, padded.
			assert.Equal(t, 8600+2*testFormat.SampleRate, info.Frames)
		}).
		Return([]detector.Match{first, second}, nil).Once()
	f.sub.On("TuneAvailable", []detector.Match{first}).Once()

	n := feedTriggerScenario(t, f.proc)

	require.Eventually(t, func() bool { return f.proc.Stats().Delivered == 1 }, waitFor, tick)
	require.Eventually(t, processed(f.proc, n), waitFor, tick)

	stats := f.proc.Stats()
	assert.Equal(t, uint64(1), stats.Commits)
	assert.Zero(t, stats.Resets)
	f.detector.AssertExpectations(t)
	f.sub.AssertExpectations(t)

	require.Eventually(t, func() bool { return !f.proc.Stats().Detecting }, waitFor, tick)
	assert.NoFileExists(t, f.segmentPath())
}

func TestProcessor_DetectorOutcomes(t *testing.T) {
	tests := []struct {
		name         string
		matches      []detector.Match
		err          error
		wantFailures uint64
	}{
		{"no matches", []detector.Match{}, nil, 0},
		{"detector error", nil, errors.New("matcher unavailable"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, boundary.StreamPolicy(), nil)
			f.detector.On("Detect", mock.Anything, f.segmentPath()).Return(tt.matches, tt.err).Once()

			n := feedTriggerScenario(t, f.proc)
			require.Eventually(t, processed(f.proc, n), waitFor, tick)
			require.Eventually(t, func() bool {
				s := f.proc.Stats()
				return s.Commits == 1 && !s.Detecting
			}, waitFor, tick)

			assert.Equal(t, tt.wantFailures, f.proc.Stats().DetectFailures)
			assert.Zero(t, f.proc.Stats().Delivered)
			assert.NoFileExists(t, f.segmentPath())
			f.detector.AssertExpectations(t)
			f.sub.AssertNotCalled(t, "TuneAvailable", mock.Anything)
		})
	}
}

func TestProcessor_OverflowResetSkipsEncoding(t *testing.T) {
	f := newFixture(t, boundary.StreamPolicy(), nil)

	n := feed(t, f.proc, false, 35*time.Second)
	require.Eventually(t, processed(f.proc, n), waitFor, tick)

	stats := f.proc.Stats()
	assert.Equal(t, uint64(1), stats.Resets)
	assert.Zero(t, stats.Commits)
	assert.LessOrEqual(t, f.proc.BoundaryState().Pending, 30*time.Second)
	f.detector.AssertNotCalled(t, "Detect", mock.Anything, mock.Anything)
	assert.NoFileExists(t, f.segmentPath())
}

func TestProcessor_EncodeFailureReleasesSlot(t *testing.T) {
	var calls atomic.Int32
	wav := segment.NewWAVEncoder(segment.DefaultPadding)
	enc := encoderFunc(func(ctx context.Context, path string, seg *segment.Segment) error {
		if calls.Add(1) == 1 {
			return fmt.Errorf("%w: disk full", segment.ErrEncodingFailed)
		}
		return wav.Encode(ctx, path, seg)
	})

	f := newFixture(t, boundary.CapturePolicy(), enc)
	f.detector.On("Detect", mock.Anything, f.segmentPath()).Return([]detector.Match{}, nil).Once()

	// Two overflow commits at 15.1s each.
	n := feed(t, f.proc, false, 31*time.Second)
	require.Eventually(t, processed(f.proc, n), waitFor, tick)
	require.Eventually(t, func() bool {
		s := f.proc.Stats()
		return s.Commits == 2 && !s.Detecting
	}, waitFor, tick)

	assert.Equal(t, uint64(1), f.proc.Stats().EncodeFailures)
	assert.Equal(t, int32(2), calls.Load())
	f.detector.AssertExpectations(t)
}

func TestProcessor_SerializesDetection(t *testing.T) {
	f := newFixture(t, boundary.CapturePolicy(), nil)

	release := make(chan struct{})
	var inFlight, maxInFlight atomic.Int32
	var calls atomic.Int32
	f.detector.On("Detect", mock.Anything, f.segmentPath()).
		Run(func(args mock.Arguments) {
			cur := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				old := maxInFlight.Load()
				if cur <= old || maxInFlight.CompareAndSwap(old, cur) {
					break
				}
			}
			assert.FileExists(t, args.String(1))
			if calls.Add(1) == 1 {
				<-release
			}
		}).
		Return([]detector.Match{}, nil).Twice()

	n := feed(t, f.proc, false, 31*time.Second)

	// The second commit waits for the first detection to finish.
	require.Eventually(t, func() bool { return f.proc.Stats().Commits == 2 }, waitFor, tick)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, f.proc.Stats().Detecting)

	close(release)

	require.Eventually(t, processed(f.proc, n), waitFor, tick)
	require.Eventually(t, func() bool { return calls.Load() == 2 && !f.proc.Stats().Detecting }, waitFor, tick)
	assert.Equal(t, int32(1), maxInFlight.Load())
	f.detector.AssertExpectations(t)
	assert.NoFileExists(t, f.segmentPath())
}

func TestProcessor_PauseClearsTrigger(t *testing.T) {
	f := newFixture(t, boundary.StreamPolicy(), nil)

	n := feed(t, f.proc, false, 1500*time.Millisecond)
	n += feed(t, f.proc, true, 300*time.Millisecond)
	require.Eventually(t, processed(f.proc, n), waitFor, tick)
	require.True(t, f.proc.BoundaryState().PossibleTrigger)

	f.proc.Pause()

	assert.Equal(t, boundary.State{Phase: boundary.PhaseIdle}, f.proc.BoundaryState())

	n += feed(t, f.proc, false, 8*time.Second)
	require.Eventually(t, processed(f.proc, n), waitFor, tick)
	assert.Zero(t, f.proc.Stats().Commits)
	f.detector.AssertNotCalled(t, "Detect", mock.Anything, mock.Anything)
}

func TestProcessor_PauseDropsQueuedBuffers(t *testing.T) {
	release := make(chan struct{})
	wav := segment.NewWAVEncoder(segment.DefaultPadding)
	enc := encoderFunc(func(ctx context.Context, path string, seg *segment.Segment) error {
		<-release
		return wav.Encode(ctx, path, seg)
	})

	f := newFixture(t, boundary.CapturePolicy(), enc)
	f.detector.On("Detect", mock.Anything, f.segmentPath()).Return([]detector.Match{}, nil).Once()

	// 15.1s of speech commits on overflow; the worker then blocks in Encode.
	n := feed(t, f.proc, false, 15100*time.Millisecond)
	require.Eventually(t, func() bool { return f.proc.Stats().Commits == 1 }, waitFor, tick)

	feed(t, f.proc, false, 2*time.Second)
	assert.Equal(t, 20, f.proc.Stats().Queued)

	f.proc.Pause()
	assert.Zero(t, f.proc.Stats().Queued)

	close(release)
	require.Eventually(t, func() bool { return !f.proc.Stats().Detecting }, waitFor, tick)
	assert.Equal(t, n, f.proc.Stats().Processed)

	n += feed(t, f.proc, false, step)
	require.Eventually(t, processed(f.proc, n), waitFor, tick)
	assert.Equal(t, 100*time.Millisecond, f.proc.BoundaryState().Pending)
	f.detector.AssertExpectations(t)
}

func TestProcessor_Close(t *testing.T) {
	f := newFixture(t, boundary.StreamPolicy(), nil)

	started := make(chan struct{})
	f.detector.On("Detect", mock.Anything, f.segmentPath()).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return([]detector.Match{{ID: 1, Type: detector.TypeSMS}}, nil).Once()

	feedTriggerScenario(t, f.proc)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.proc.Close(ctx))
	require.NoError(t, f.proc.Close(ctx))

	assert.ErrorIs(t, f.proc.Enqueue(buffer(false)), ErrClosed)
	assert.True(t, f.proc.Stats().Closed)
	assert.Zero(t, f.proc.Stats().Delivered)
	assert.NoFileExists(t, f.segmentPath())
	f.sub.AssertNotCalled(t, "TuneAvailable", mock.Anything)
}

func TestProcessor_DrainFinishesQueuedWork(t *testing.T) {
	f := newFixture(t, boundary.StreamPolicy(), nil)

	match := detector.Match{ID: 4, Name: "jingle", Type: detector.TypeOpenPage, MatchPercentage: 97, Time: 1}
	f.detector.On("Detect", mock.Anything, f.segmentPath()).
		Run(func(mock.Arguments) { time.Sleep(50 * time.Millisecond) }).
		Return([]detector.Match{match}, nil).Once()
	f.sub.On("TuneAvailable", []detector.Match{match}).Once()

	n := feedTriggerScenario(t, f.proc)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.proc.Drain(ctx))

	stats := f.proc.Stats()
	assert.Equal(t, n, stats.Processed)
	assert.Zero(t, stats.Queued)
	assert.Equal(t, uint64(1), stats.Delivered)
	assert.False(t, stats.Detecting)
	assert.True(t, stats.Draining)
	assert.ErrorIs(t, f.proc.Enqueue(buffer(false)), ErrDraining)
	assert.NoFileExists(t, f.segmentPath())
	f.detector.AssertExpectations(t)
	f.sub.AssertExpectations(t)

	require.NoError(t, f.proc.Close(ctx))
}

func TestProcessor_DrainTimeout(t *testing.T) {
	f := newFixture(t, boundary.StreamPolicy(), nil)

	f.detector.On("Detect", mock.Anything, f.segmentPath()).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled).Once()

	feedTriggerScenario(t, f.proc)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.proc.Drain(ctx), context.DeadlineExceeded)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), waitFor)
	defer closeCancel()
	require.NoError(t, f.proc.Close(closeCtx))
	assert.ErrorIs(t, f.proc.Drain(closeCtx), ErrClosed)
	f.sub.AssertNotCalled(t, "TuneAvailable", mock.Anything)
}

func TestProcessor_EncodeFailureRemovesPartialFile(t *testing.T) {
	enc := encoderFunc(func(_ context.Context, path string, _ *segment.Segment) error {
		if err := os.WriteFile(path, []byte("partial"), 0600); err != nil {
			return err
		}
		return fmt.Errorf("%w: muxer failed", segment.ErrEncodingFailed)
	})
	f := newFixture(t, boundary.StreamPolicy(), enc)

	feedTriggerScenario(t, f.proc)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.proc.Drain(ctx))

	assert.Equal(t, uint64(1), f.proc.Stats().EncodeFailures)
	assert.NoFileExists(t, f.segmentPath())
	f.detector.AssertNotCalled(t, "Detect", mock.Anything, mock.Anything)
}

func attrValue(attrs []any, key string) (slog.Value, bool) {
	for _, a := range attrs {
		if attr, ok := a.(slog.Attr); ok && attr.Key == key {
			return attr.Value, true
		}
	}
	return slog.Value{}, false
}

func TestProcessor_FlushedAttrs(t *testing.T) {
	f := newFixture(t, boundary.StreamPolicy(), nil)

	acc := segment.NewAccumulator(testFormat)
	for range 5 {
		acc.Add(buffer(false))
	}
	seg := acc.Take()

	t.Run("wav reports duration on disk", func(t *testing.T) {
		path := f.segmentPath()
		require.NoError(t, segment.NewWAVEncoder(segment.DefaultPadding).Encode(context.Background(), path, seg))

		attrs := f.proc.flushedAttrs(path, seg)
		v, ok := attrValue(attrs, "flushed_duration")
		require.True(t, ok)
		want := testFormat.DurationOf(seg.Frames + 2*testFormat.FramesIn(segment.DefaultPadding))
		assert.Equal(t, want, v.Duration())

		size, ok := attrValue(attrs, "size_bytes")
		require.True(t, ok)
		assert.Positive(t, size.Int64())
	})

	t.Run("other containers skip the read back", func(t *testing.T) {
		path := filepath.Join(f.store.Dir(), "buffer.m4a")
		require.NoError(t, os.WriteFile(path, []byte("not a wav"), 0600))

		_, ok := attrValue(f.proc.flushedAttrs(path, seg), "flushed_duration")
		assert.False(t, ok)
	})
}

func TestProcessor_Enqueue(t *testing.T) {
	f := newFixture(t, boundary.StreamPolicy(), nil)

	t.Run("rejects other rates", func(t *testing.T) {
		err := f.proc.Enqueue(audio.NewInt16(48000, 1, make([]int16, 480)))
		assert.ErrorIs(t, err, ErrFormatMismatch)
	})

	t.Run("rejects other sample types", func(t *testing.T) {
		err := f.proc.Enqueue(audio.NewFloat32(1000, 1, make([]float32, 100)))
		assert.ErrorIs(t, err, ErrFormatMismatch)
	})

	t.Run("unsupported sample format is treated as silence", func(t *testing.T) {
		buf := audio.Buffer{Format: audio.Format{SampleRate: 1000, Channels: 1, Sample: audio.SampleFormat(9)}}
		require.NoError(t, f.proc.Enqueue(buf))
		require.Eventually(t, processed(f.proc, 1), waitFor, tick)
		assert.Equal(t, boundary.PhaseIdle, f.proc.BoundaryState().Phase)
	})
}

func TestSubscriberFunc(t *testing.T) {
	var got []detector.Match
	var s Subscriber = SubscriberFunc(func(m []detector.Match) { got = m })

	s.TuneAvailable([]detector.Match{{ID: 4}})
	assert.Equal(t, 4, got[0].ID)
}
