package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/lab-inventory/internal/resilience"
)

// DownloadOptions configures the image downloader.
type DownloadOptions struct {
	UserAgent  string
	Timeout    time.Duration
	RatePerSec float64 // per host
	MaxBytes   int64
}

// Downloaded is a fetched image.
type Downloaded struct {
	Data        []byte
	ContentType string
}

// Downloader fetches images over HTTP with a per-host adaptive rate limit.
// It makes a single attempt per call: network failures, 429 and 5xx
// responses are returned as *resilience.TransientError, everything else is
// permanent.
type Downloader struct {
	client   *http.Client
	opts     DownloadOptions
	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewDownloader creates a Downloader with the given options.
func NewDownloader(opts DownloadOptions) *Downloader {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "labinv/1.0"
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 << 20
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Downloader{
		client:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

func (d *Downloader) limiterFor(host string) *AdaptiveLimiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(rate.Limit(d.opts.RatePerSec), 1)
		d.limiters[host] = lim
	}
	return lim
}

// Get downloads rawURL. The response must be an image no larger than
// MaxBytes.
func (d *Downloader) Get(ctx context.Context, rawURL string) (*Downloaded, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, eris.Errorf("download: not an http(s) url: %q", rawURL)
	}

	lim := d.limiterFor(u.Host)
	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "download: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "download: create request")
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, resilience.NewTransientError(eris.Wrapf(err, "download %s", rawURL), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		lim.OnRateLimit(u.Host)
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("download: unexpected status %d from %s", resp.StatusCode, rawURL)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "image/") {
		return nil, eris.Errorf("download: %s is %q, not an image", rawURL, ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.opts.MaxBytes+1))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "download: read body of %s", rawURL), 0)
	}
	if int64(len(data)) > d.opts.MaxBytes {
		return nil, eris.Errorf("download: %s exceeds %d bytes", rawURL, d.opts.MaxBytes)
	}

	lim.OnSuccess()
	return &Downloaded{Data: data, ContentType: ct}, nil
}
