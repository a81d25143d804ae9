package bootstrap

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/tunewatch/internal/capture"
	"github.com/maauso/tunewatch/internal/config"
	"github.com/maauso/tunewatch/internal/segment"
	"github.com/maauso/tunewatch/internal/storage"
)

const sampleRate = 8000

func testConfig(t *testing.T, detectorURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Port:             8080,
		InputURL:         "unused.wav",
		FFmpegPath:       "ffmpeg",
		SampleRate:       sampleRate,
		Channels:         1,
		FramesPerBuffer:  sampleRate / 10,
		SilenceThreshold: 0.0001,
		Policy:           "stream",
		PaddingSec:       1,
		SegmentDir:       t.TempDir(),
		SegmentName:      "buffer",
		SegmentFormat:    "wav",
		IOWorkers:        2,
		DetectorURL:      detectorURL,
		DetectorAPIKey:   "detector-key",
		MatchHistory:     10,
		LogFormat:        "text",
		LogLevel:         "error",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// triggerStream returns s16le PCM for 2s silence, 1.5s tone, 0.3s silence
// and 8s tone: one triggered segment under the stream policy.
func triggerStream() io.Reader {
	var samples []int16
	add := func(d time.Duration, v int16) {
		for range int(d.Seconds() * sampleRate) {
			samples = append(samples, v)
		}
	}
	add(2*time.Second, 0)
	add(1500*time.Millisecond, 2000)
	add(300*time.Millisecond, 0)
	add(8*time.Second, 2000)

	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, samples)
	return &b
}

func newDetectorServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// Slow enough that a shutdown racing the detection would lose it.
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, "/detect", r.URL.Path)
		assert.Equal(t, "Bearer detector-key", r.Header.Get("Authorization"))
		assert.Equal(t, "buffer.wav", r.Header.Get("X-Segment-Name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.True(t, bytes.HasPrefix(body, []byte("RIFF")))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"matches":[
			{"id":7,"name":"spring sale","type":"coupon","info":"SAVE10","matchPercentage":93.5,"time":4.2},
			{"id":8,"name":"poll","type":"poll","matchPercentage":60,"time":6}
		]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fileSource reports a fixed duration, like a file input.
type fileSource struct {
	capture.Source
	durationRequested atomic.Bool
}

func (p *fileSource) Probe(context.Context) (time.Duration, error) {
	p.durationRequested.Store(true)
	return 11800 * time.Millisecond, nil
}

// runSession plays the trigger stream and shuts down as soon as the input
// ends, the same order the server uses.
func runSession(t *testing.T, s *Session) {
	t.Helper()
	src, err := capture.NewPCMReader(triggerStream(), s.Processor.Format(), sampleRate/10)
	require.NoError(t, err)
	s.Source = src

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	require.NoError(t, s.Close(ctx))
}

func TestSession_EndToEnd(t *testing.T) {
	var calls atomic.Int32
	det := newDetectorServer(t, &calls)
	cfg := testConfig(t, det.URL)

	s, err := NewSession(context.Background(), cfg, testLogger(), nil)
	require.NoError(t, err)

	assert.IsType(t, &segment.WAVEncoder{}, s.Encoder)
	assert.IsType(t, &storage.LocalStorage{}, s.Storage)
	assert.IsType(t, &capture.FFmpegSource{}, s.Source)
	assert.Equal(t, cfg.SegmentDir, s.Storage.Dir())

	runSession(t, s)

	latest, err := s.Matches.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, latest.Match.ID)
	assert.Equal(t, "SAVE10", latest.Match.Info)
	assert.Equal(t, int32(1), calls.Load())

	stats := s.Processor.Stats()
	assert.Equal(t, uint64(1), stats.Commits)
	assert.Equal(t, uint64(1), stats.Delivered)

	entries, err := os.ReadDir(cfg.SegmentDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "segment file removed after detection")
}

func TestSession_RunLogsInputDuration(t *testing.T) {
	var calls atomic.Int32
	det := newDetectorServer(t, &calls)

	s, err := NewSession(context.Background(), testConfig(t, det.URL), testLogger(), nil)
	require.NoError(t, err)

	pcm, err := capture.NewPCMReader(triggerStream(), s.Processor.Format(), sampleRate/10)
	require.NoError(t, err)
	src := &fileSource{Source: pcm}
	s.Source = src

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	require.NoError(t, s.Close(ctx))

	assert.True(t, src.durationRequested.Load())
	assert.Equal(t, 1, s.Matches.Len())
	assert.Equal(t, uint64(118), s.Processor.Stats().Processed)
}

func TestSession_ArchivesToS3(t *testing.T) {
	var calls atomic.Int32
	det := newDetectorServer(t, &calls)

	var uploads atomic.Int32
	s3srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.True(t, strings.HasPrefix(r.URL.Path, "/archive-bucket/segments/"), r.URL.Path)
		assert.True(t, strings.HasSuffix(r.URL.Path, "-buffer.wav"), r.URL.Path)
		uploads.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s3srv.Close)

	cfg := testConfig(t, det.URL)
	cfg.S3Bucket = "archive-bucket"
	cfg.S3Region = "us-east-1"
	cfg.S3Endpoint = s3srv.URL
	cfg.S3Prefix = "segments"
	cfg.AWSAccessKeyID = "test-access-key"
	cfg.AWSSecretAccessKey = "test-secret-key"

	s, err := NewSession(context.Background(), cfg, testLogger(), nil)
	require.NoError(t, err)
	assert.IsType(t, &storage.S3Storage{}, s.Storage)
	assert.True(t, s.Storage.ArchiveEnabled())

	runSession(t, s)

	assert.Equal(t, int32(1), uploads.Load())
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewSession_SelectsEncoder(t *testing.T) {
	cfg := testConfig(t, "http://detector.invalid")
	cfg.SegmentFormat = "m4a"
	cfg.UniqueSegmentNames = true

	s, err := NewSession(context.Background(), cfg, testLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	assert.IsType(t, &segment.FFmpegEncoder{}, s.Encoder)
	assert.Equal(t, ".m4a", s.Encoder.Extension())
}

func TestNewSession_Errors(t *testing.T) {
	t.Run("invalid policy", func(t *testing.T) {
		cfg := testConfig(t, "http://detector.invalid")
		cfg.Policy = "podcast"
		_, err := NewSession(context.Background(), cfg, testLogger(), nil)
		assert.Error(t, err)
	})

	t.Run("missing detector URL", func(t *testing.T) {
		cfg := testConfig(t, "")
		_, err := NewSession(context.Background(), cfg, testLogger(), nil)
		assert.Error(t, err)
	})

	t.Run("missing input", func(t *testing.T) {
		cfg := testConfig(t, "http://detector.invalid")
		cfg.InputURL = ""
		_, err := NewSession(context.Background(), cfg, testLogger(), nil)
		assert.ErrorIs(t, err, capture.ErrInputRequired)
	})
}
