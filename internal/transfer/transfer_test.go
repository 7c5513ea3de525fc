package transfer

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func serve(content []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(content))
	}
}

// slowWriter chops every write into flushed pieces so the client sees many
// small chunks.
type slowWriter struct {
	http.ResponseWriter
	piece int
	delay time.Duration
}

func (s slowWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(s.piece, len(p))
		m, err := s.ResponseWriter.Write(p[:n])
		written += m
		if err != nil {
			return written, err
		}
		s.ResponseWriter.(http.Flusher).Flush()
		time.Sleep(s.delay)
		p = p[n:]
	}
	return written, nil
}

// requestLog records what the loop asked for and how big the file was at
// that moment.
type requestLog struct {
	mu     sync.Mutex
	dest   string
	ranges []string
	sizes  []int64
}

func (l *requestLog) record(r *http.Request) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var size int64 = -1
	if info, err := os.Stat(l.dest); err == nil {
		size = info.Size()
	}
	l.ranges = append(l.ranges, r.Header.Get("Range"))
	l.sizes = append(l.sizes, size)
	return len(l.ranges)
}

func (l *requestLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ranges)
}

func fastOptions() []Option {
	return []Option{
		WithRetryDelay(10 * time.Millisecond),
		WithPauseInterval(5 * time.Millisecond),
		WithProbeTimeout(time.Second),
	}
}

func assertMonotonic(t *testing.T, states []State) {
	t.Helper()
	var last uint64
	for i, s := range states {
		assert.GreaterOrEqual(t, s.Downloaded, last, "snapshot %d went backwards", i)
		if s.Total > 0 {
			assert.LessOrEqual(t, s.Downloaded, s.Total, "snapshot %d exceeds total", i)
		}
		last = s.Downloaded
	}
}

func TestStartDownloadsKnownSize(t *testing.T) {
	content := payload(256 * 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serve(content)(slowWriter{w, 16 * 1024, time.Millisecond}, r)
	}))
	defer server.Close()
	dest := filepath.Join(t.TempDir(), "file.iso")

	var states []State
	err := Start(context.Background(), server.URL, dest, func(s State) { states = append(states, s) }, NewSignals(), fastOptions()...)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NotEmpty(t, states)
	assertMonotonic(t, states)
	final := states[len(states)-1]
	assert.Equal(t, State{Downloaded: uint64(len(content)), Total: uint64(len(content))}, final)
}

func TestStartResumesAfterMidStreamDrop(t *testing.T) {
	content := payload(64 * 1024)
	const cut = 10000
	dest := filepath.Join(t.TempDir(), "file.iso")
	reqs := &requestLog{dest: dest}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			serve(content)(w, r)
			return
		}
		if reqs.record(r) == 1 {
			w.Header().Set("Content-Length", "65536")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(content[:cut])
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
		serve(content)(w, r)
	}))
	defer server.Close()

	tr := New(server.URL, dest, nil, NewSignals(), fastOptions()...)
	require.NoError(t, tr.Run(context.Background()))

	reqs.mu.Lock()
	defer reqs.mu.Unlock()
	require.GreaterOrEqual(t, len(reqs.ranges), 2)
	assert.Empty(t, reqs.ranges[0])
	assert.Equal(t, "bytes=10000-", reqs.ranges[1])
	assert.Equal(t, int64(cut), reqs.sizes[1])

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, uint64(len(content)), tr.Downloaded())
}

func TestStartCompletesWithUnknownSize(t *testing.T) {
	content := payload(5000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		// flushing before the end forces chunked encoding, so no length
		_, _ = w.Write(content[:2000])
		w.(http.Flusher).Flush()
		_, _ = w.Write(content[2000:])
	}))
	defer server.Close()
	dest := filepath.Join(t.TempDir(), "file.bin")

	var states []State
	tr := New(server.URL, dest, func(s State) { states = append(states, s) }, NewSignals(), fastOptions()...)
	require.NoError(t, tr.Run(context.Background()))

	assert.Zero(t, tr.Total())
	require.NotEmpty(t, states)
	assert.Equal(t, State{Downloaded: 5000, Total: 0}, states[len(states)-1])
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestStartRetriesServerErrors(t *testing.T) {
	content := payload(4096)
	var gets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && gets.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		serve(content)(w, r)
	}))
	defer server.Close()
	dest := filepath.Join(t.TempDir(), "file.bin")

	require.NoError(t, Start(context.Background(), server.URL, dest, nil, nil, fastOptions()...))
	assert.Equal(t, int32(3), gets.Load())
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

type flakyDoer struct {
	failures atomic.Int32
	next     Doer
}

func (f *flakyDoer) Do(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodGet && f.failures.Add(-1) >= 0 {
		return nil, errors.New("dial tcp: connection refused")
	}
	return f.next.Do(req)
}

func TestStartRetriesConnectionFailures(t *testing.T) {
	content := payload(4096)
	server := httptest.NewServer(serve(content))
	defer server.Close()
	dest := filepath.Join(t.TempDir(), "file.bin")

	doer := &flakyDoer{next: server.Client()}
	doer.failures.Store(3)
	opts := append(fastOptions(), WithClient(doer))
	require.NoError(t, Start(context.Background(), server.URL, dest, nil, nil, opts...))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestStartRestartsWhenRangeIgnored(t *testing.T) {
	content := payload(32 * 1024)
	var gets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			serve(content)(w, r)
			return
		}
		if gets.Add(1) == 1 {
			w.Header().Set("Content-Length", "32768")
			_, _ = w.Write(content[:1000])
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
		// answer the range request with the whole body
		_, _ = w.Write(content)
	}))
	defer server.Close()
	dest := filepath.Join(t.TempDir(), "file.bin")

	require.NoError(t, Start(context.Background(), server.URL, dest, nil, nil, fastOptions()...))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestCancelBeforeRequestRemovesFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "file.bin")
	reqs := &requestLog{dest: dest}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			reqs.record(r)
		}
		serve(payload(1024))(w, r)
	}))
	defer server.Close()

	signals := NewSignals()
	signals.Cancel()
	err := Start(context.Background(), server.URL, dest, nil, signals, fastOptions()...)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, reqs.count())
	assert.NoFileExists(t, dest)
}

func TestCancelMidStreamRemovesFile(t *testing.T) {
	content := payload(64 * 1024)
	signals := NewSignals()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			serve(content)(w, r)
			return
		}
		w.Header().Set("Content-Length", "65536")
		for i := 0; i < 64; i++ {
			if _, err := w.Write(content[i*1024 : (i+1)*1024]); err != nil {
				return
			}
			w.(http.Flusher).Flush()
			if i == 2 {
				signals.Cancel()
			}
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer server.Close()
	dest := filepath.Join(t.TempDir(), "file.bin")

	tr := New(server.URL, dest, nil, signals, fastOptions()...)
	err := tr.Run(context.Background())
	require.ErrorIs(t, err, ErrCancelled)
	assert.NoFileExists(t, dest)
	assert.Less(t, tr.Downloaded(), uint64(len(content)))
}

func TestContextCancellationActsAsCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	dest := filepath.Join(t.TempDir(), "file.bin")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := Start(ctx, server.URL, dest, nil, nil, fastOptions()...)
	require.ErrorIs(t, err, ErrCancelled)
	assert.NoFileExists(t, dest)
}

func TestPauseBeforeRequestIdles(t *testing.T) {
	content := payload(8192)
	dest := filepath.Join(t.TempDir(), "file.bin")
	reqs := &requestLog{dest: dest}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			reqs.record(r)
		}
		serve(content)(w, r)
	}))
	defer server.Close()

	signals := NewSignals()
	signals.Pause()
	seenWhilePaused := make(chan int, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		seenWhilePaused <- reqs.count()
		signals.Resume()
	}()

	require.NoError(t, Start(context.Background(), server.URL, dest, nil, signals, fastOptions()...))
	assert.Zero(t, <-seenWhilePaused)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestPauseTogglingKeepsBytesIntact(t *testing.T) {
	content := payload(96 * 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serve(content)(slowWriter{w, 1024, 2 * time.Millisecond}, r)
	}))
	defer server.Close()
	dest := filepath.Join(t.TempDir(), "file.bin")

	signals := NewSignals()
	done := make(chan struct{})
	go func() {
		defer signals.Resume()
		for i := 0; i < 12; i++ {
			select {
			case <-done:
				return
			case <-time.After(15 * time.Millisecond):
				signals.TogglePause()
			}
		}
	}()

	var states []State
	tr := New(server.URL, dest, func(s State) { states = append(states, s) }, signals, fastOptions()...)
	err := tr.Run(context.Background())
	close(done)
	require.NoError(t, err)

	assertMonotonic(t, states)
	assert.Equal(t, uint64(len(content)), tr.Downloaded())
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestWriteFailureIsFatal(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("needs /dev/full")
	}
	f, err := os.OpenFile("/dev/full", os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		t.Skip("no writable /dev/full")
	}
	f.Close()
	server := httptest.NewServer(serve(payload(4096)))
	defer server.Close()

	err = Start(context.Background(), server.URL, "/dev/full", nil, nil, fastOptions()...)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.Contains(t, err.Error(), "error writing to output file")
}

func TestCreateFailureIsFatal(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "missing", "file.bin")
	err := Start(context.Background(), server.URL, dest, nil, nil, fastOptions()...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error creating destination file")
	assert.Zero(t, hits.Load())
}

func TestLimiterThrottlesThroughput(t *testing.T) {
	content := payload(32 * 1024)
	server := httptest.NewServer(serve(content))
	defer server.Close()
	dest := filepath.Join(t.TempDir(), "file.bin")

	limiter := rate.NewLimiter(rate.Limit(16*1024), 16*1024)
	opts := append(fastOptions(), WithLimiter(limiter), WithBufferSize(4096))
	started := time.Now()
	require.NoError(t, Start(context.Background(), server.URL, dest, nil, nil, opts...))
	assert.GreaterOrEqual(t, time.Since(started), 700*time.Millisecond)
}

func TestRangeNotSatisfiableWithUnknownTotalKeepsRetrying(t *testing.T) {
	var gets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		gets.Add(1)
		if r.Header.Get("Range") == "" {
			_, _ = w.Write(payload(1000))
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))
	defer server.Close()
	dest := filepath.Join(t.TempDir(), "file.bin")

	var logs bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	opts := append(fastOptions(), WithLogger(zerolog.New(&logs)))
	err := Start(ctx, server.URL, dest, nil, NewSignals(), opts...)

	assert.ErrorIs(t, err, ErrCancelled)
	assert.GreaterOrEqual(t, gets.Load(), int32(3))
	assert.Contains(t, logs.String(), "Range rejected with unknown total size")
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestKnownSizeSkipsProbe(t *testing.T) {
	content := payload(8192)
	var heads atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			heads.Add(1)
		}
		serve(content)(w, r)
	}))
	defer server.Close()
	dest := filepath.Join(t.TempDir(), "file.bin")

	opts := append(fastOptions(), WithKnownSize(uint64(len(content))))
	tr := New(server.URL, dest, nil, NewSignals(), opts...)
	require.NoError(t, tr.Run(context.Background()))
	assert.Zero(t, heads.Load())
	assert.Equal(t, uint64(len(content)), tr.Total())
}

func TestContextCancelStopsStalledRead(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(payload(1000))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)
	dest := filepath.Join(t.TempDir(), "file.bin")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Start(ctx, server.URL, dest, nil, NewSignals(), fastOptions()...)
	}()
	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("stalled transfer did not stop after context cancel")
	}
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}
