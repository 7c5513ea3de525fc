package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrCancelled is returned by Run when the cancel signal (or the context)
// stops a transfer. The destination file has been removed by then.
var ErrCancelled = errors.New("download cancelled")

const (
	DefaultRetryDelay     = 2 * time.Second
	DefaultPauseInterval  = 100 * time.Millisecond
	DefaultProbeTimeout   = 30 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	DefaultBufferSize     = 32 * 1024
)

// Doer is the subset of *http.Client the loop needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transfer streams one URL into one file, resuming with range requests after
// connection drops and honouring the pause and cancel signals.
type Transfer struct {
	url     string
	dest    string
	client  Doer
	signals *Signals
	limiter *rate.Limiter
	log     zerolog.Logger

	retryDelay     time.Duration
	pauseInterval  time.Duration
	reportInterval time.Duration
	probeTimeout   time.Duration
	bufferSize     int
	sink           func(State)

	file       *os.File
	reporter   *reporter
	downloaded uint64
	total      uint64
}

type Option func(*Transfer)

func WithClient(c Doer) Option {
	return func(t *Transfer) {
		if c != nil {
			t.client = c
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(t *Transfer) { t.retryDelay = d }
}

func WithPauseInterval(d time.Duration) Option {
	return func(t *Transfer) {
		if d > 0 {
			t.pauseInterval = d
		}
	}
}

func WithReportInterval(d time.Duration) Option {
	return func(t *Transfer) { t.reportInterval = d }
}

func WithProbeTimeout(d time.Duration) Option {
	return func(t *Transfer) { t.probeTimeout = d }
}

// WithKnownSize seeds the total from an earlier lookup and skips the HEAD
// probe. Zero keeps the probe.
func WithKnownSize(n uint64) Option {
	return func(t *Transfer) { t.total = n }
}

func WithBufferSize(n int) Option {
	return func(t *Transfer) {
		if n > 0 {
			t.bufferSize = n
		}
	}
}

// WithLimiter caps throughput. Chunks larger than the limiter's burst are
// charged in burst-sized steps.
func WithLimiter(l *rate.Limiter) Option {
	return func(t *Transfer) { t.limiter = l }
}

func WithLogger(l zerolog.Logger) Option {
	return func(t *Transfer) { t.log = l }
}

// NewDefaultClient returns a client that bounds connection setup but never
// times out an in-progress body read.
func NewDefaultClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: DefaultConnectTimeout,
			DisableCompression:  true,
		},
	}
}

func New(url, dest string, sink func(State), signals *Signals, opts ...Option) *Transfer {
	if signals == nil {
		signals = NewSignals()
	}
	t := &Transfer{
		url:            url,
		dest:           dest,
		signals:        signals,
		sink:           sink,
		log:            log.With().Str("op", "transfer").Logger(),
		retryDelay:     DefaultRetryDelay,
		pauseInterval:  DefaultPauseInterval,
		reportInterval: DefaultSampleInterval,
		probeTimeout:   DefaultProbeTimeout,
		bufferSize:     DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		t.client = NewDefaultClient()
	}
	return t
}

// Start runs a transfer to completion. It returns nil on success, ErrCancelled
// on cancellation and a wrapped error for local I/O failures. Network failures
// are retried until one of those happens.
func Start(ctx context.Context, url, dest string, sink func(State), signals *Signals, opts ...Option) error {
	return New(url, dest, sink, signals, opts...).Run(ctx)
}

func (t *Transfer) Downloaded() uint64 { return t.downloaded }
func (t *Transfer) Total() uint64      { return t.total }

func (t *Transfer) Run(ctx context.Context) error {
	t.log.Info().Msgf("Starting download from %s to %s", t.url, t.dest)
	file, err := os.Create(t.dest)
	if err != nil {
		return fmt.Errorf("error creating destination file: %w", err)
	}
	t.file = file

	if t.total > 0 {
		t.log.Debug().Msgf("Total size already known: %d", t.total)
	} else if size, err := probeSize(ctx, t.client, t.url, t.probeTimeout); err != nil {
		t.log.Debug().Err(err).Msg("Size probe failed, total unknown until first response")
	} else if size > 0 {
		t.total = size
		t.log.Debug().Msgf("Total size determined via HEAD: %d", size)
	}
	t.reporter = newReporter(t.sink, t.reportInterval)

	for {
		if t.cancelled(ctx) {
			return t.abort()
		}
		if t.signals.Paused() {
			t.sleep(ctx, t.pauseInterval)
			continue
		}
		if t.total > 0 && t.downloaded >= t.total {
			break
		}
		done, err := t.attempt(ctx)
		if errors.Is(err, ErrCancelled) {
			return t.abort()
		}
		if err != nil {
			t.file.Close()
			return err
		}
		if done {
			break
		}
	}

	if err := t.file.Sync(); err != nil {
		t.file.Close()
		return fmt.Errorf("error flushing output file: %w", err)
	}
	if err := t.file.Close(); err != nil {
		return fmt.Errorf("error closing output file: %w", err)
	}
	t.reporter.final(t.downloaded, t.total)
	t.log.Info().Msgf("Download completed: %s (%d bytes)", t.dest, t.downloaded)
	return nil
}

// attempt issues one GET and streams its body. done reports completion;
// a nil error with done=false means the outer loop should go round again.
func (t *Transfer) attempt(ctx context.Context) (bool, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, t.url, nil)
	if err != nil {
		return false, fmt.Errorf("error creating GET request: %w", err)
	}
	if t.downloaded > 0 {
		t.log.Info().Msgf("Resuming download from byte %d", t.downloaded)
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", t.downloaded))
	}
	resp, err := t.client.Do(req)
	if err != nil {
		t.log.Warn().Err(err).Msg("Connection failed")
		t.sleep(ctx, t.retryDelay)
		return false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.log.Warn().Msgf("Request failed with status: %d", resp.StatusCode)
		if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			if t.total > 0 && t.downloaded >= t.total {
				return true, nil
			}
			if t.total == 0 {
				t.log.Warn().Msg("Range rejected with unknown total size, retrying")
			}
		}
		t.sleep(ctx, t.retryDelay)
		return false, nil
	}

	if t.downloaded > 0 && resp.StatusCode != http.StatusPartialContent {
		t.log.Warn().Msgf("Server does not support resume (status %d). Restarting download.", resp.StatusCode)
		if err := t.rewind(); err != nil {
			return false, err
		}
	}
	if t.total == 0 && resp.ContentLength > 0 {
		t.total = t.downloaded + uint64(resp.ContentLength)
		t.log.Debug().Msgf("Total size determined via GET: %d", t.total)
	}
	return t.stream(ctx, resp.Body)
}

func (t *Transfer) stream(ctx context.Context, body io.Reader) (bool, error) {
	buffer := make([]byte, t.bufferSize)
	for {
		n, readErr := body.Read(buffer)
		if n > 0 {
			if t.cancelled(ctx) {
				return false, ErrCancelled
			}
			if t.signals.Paused() {
				t.log.Info().Msg("Download paused. Dropping connection.")
				return false, nil
			}
			if err := t.throttle(ctx, n); err != nil {
				return false, nil
			}
			if _, err := t.file.Write(buffer[:n]); err != nil {
				return false, fmt.Errorf("error writing to output file: %w", err)
			}
			t.downloaded += uint64(n)
			t.reporter.observe(time.Now(), t.downloaded, t.total)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			t.log.Warn().Err(readErr).Msgf("Error reading chunk at byte %d", t.downloaded)
			return false, nil
		}
	}
	if t.total > 0 {
		return t.downloaded >= t.total, nil
	}
	return true, nil
}

// rewind discards everything written so far. Used when a server answers a
// range request with the full body.
func (t *Transfer) rewind() error {
	if err := t.file.Truncate(0); err != nil {
		return fmt.Errorf("error truncating output file: %w", err)
	}
	if _, err := t.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("error rewinding output file: %w", err)
	}
	t.downloaded = 0
	t.reporter.rebase(time.Now(), 0)
	return nil
}

func (t *Transfer) throttle(ctx context.Context, n int) error {
	if t.limiter == nil {
		return nil
	}
	burst := t.limiter.Burst()
	if burst <= 0 {
		return nil
	}
	for n > 0 {
		step := min(n, burst)
		if err := t.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

func (t *Transfer) cancelled(ctx context.Context) bool {
	return t.signals.Cancelled() || ctx.Err() != nil
}

func (t *Transfer) abort() error {
	t.log.Info().Msg("Download cancelled")
	t.file.Close()
	if err := os.Remove(t.dest); err != nil {
		t.log.Debug().Err(err).Msg("Could not remove partial file")
	}
	return ErrCancelled
}

func (t *Transfer) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
