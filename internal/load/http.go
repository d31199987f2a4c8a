package load

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	Rate       rate.Limit // initial requests/sec against the export host, default 5
	Burst      int
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.UserAgent == "" {
		o.UserAgent = "reconcile-cli/1.0"
	}
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.Rate == 0 {
		o.Rate = 5
	}
	if o.Burst == 0 {
		o.Burst = 5
	}
	return o
}

// AdaptiveLimiter self-tunes around an export host's tolerance. Steady
// successes raise the request rate by 20% up to twice the configured base;
// a 429 halves it, never below a quarter of the base.
type AdaptiveLimiter struct {
	mu      sync.Mutex
	rl      *rate.Limiter
	base    rate.Limit
	current rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter around a base rate.
func NewAdaptiveLimiter(base rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		rl:      rate.NewLimiter(base, burst),
		base:    base,
		current: base,
	}
}

// Wait blocks until the next request slot opens.
func (l *AdaptiveLimiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// OnSuccess raises the rate by 20%, capped at twice the base.
func (l *AdaptiveLimiter) OnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current *= 1.2
	if l.current > l.base*2 {
		l.current = l.base * 2
	}
	l.rl.SetLimit(l.current)
}

// OnRateLimit halves the rate after a 429, floored at a quarter of the base.
func (l *AdaptiveLimiter) OnRateLimit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current /= 2
	if l.current < l.base/4 {
		l.current = l.base / 4
	}
	l.rl.SetLimit(l.current)
	zap.L().Warn("export host rate limited, slowing down",
		zap.Float64("requests_per_sec", float64(l.current)))
}

// Limit reports the rate currently in effect.
func (l *AdaptiveLimiter) Limit() rate.Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// HTTPFetcher downloads export files over HTTP with retry and adaptive rate
// limiting. Imports hit a single export host per run, so one limiter covers
// the fetcher.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *AdaptiveLimiter
}

// NewHTTPFetcher builds a fetcher, filling unset options with defaults.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	opts = opts.withDefaults()
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:    opts,
		limiter: NewAdaptiveLimiter(opts.Rate, opts.Burst),
	}
}

// doWithRetry sends the request up to MaxRetries times. Transport errors,
// 429s, and 5xx responses back off and retry; any other response is handed
// back to the caller as-is.
func (f *HTTPFetcher) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := range f.opts.MaxRetries {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		switch {
		case err != nil:
			lastErr = err
			zap.L().Warn("export request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		case resp.StatusCode == http.StatusTooManyRequests:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("export host returned 429 for %s", req.URL)
			f.limiter.OnRateLimit()
		case resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("export host returned %d for %s", resp.StatusCode, req.URL)
			zap.L().Warn("export host error, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1))
		default:
			f.limiter.OnSuccess()
			return resp, nil
		}
		f.sleep(ctx, retryDelay(attempt))
	}

	return nil, eris.Wrap(lastErr, "all retries exhausted")
}

// retryDelay doubles from one second per attempt, capped at thirty seconds,
// plus up to half the delay again as jitter.
func retryDelay(attempt int) time.Duration {
	d := 30 * time.Second
	if attempt < 5 {
		d = time.Second << attempt
	}
	return d + time.Duration(rand.Int64N(int64(d)/2))
}

func (f *HTTPFetcher) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Download fetches the URL and returns the response body. The caller owns
// the close.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "build request for %s", rawURL)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.doWithRetry(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "download %s", rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("download %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	return resp.Body, nil
}

// DownloadToFile fetches the URL into a local file and reports the bytes
// written.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL, path string) (int64, error) {
	rc, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck

	dst, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "create %s", path)
	}
	defer dst.Close() //nolint:errcheck

	n, err := io.Copy(dst, rc)
	if err != nil {
		return n, eris.Wrapf(err, "write %s", path)
	}
	return n, nil
}
