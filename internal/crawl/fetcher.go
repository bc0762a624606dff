package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Fetcher fetches a URL and returns the raw page body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (RawPage, error)
}

// FetcherConfig controls collector behavior.
type FetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// PageFetcher implements Fetcher using the Colly collector. Every attempt
// passes the shared rate limiter first; transient failures are retried per
// the declared policy.
type PageFetcher struct {
	cfg     FetcherConfig
	limiter *RateLimiter
	policy  RetryPolicy
	logger  *zap.Logger
}

// NewPageFetcher builds a PageFetcher.
func NewPageFetcher(cfg FetcherConfig, limiter *RateLimiter, policy RetryPolicy, logger *zap.Logger) *PageFetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageFetcher{cfg: cfg, limiter: limiter, policy: policy, logger: logger}
}

// Fetch executes a rate-limited HTTP GET with bounded retries.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (RawPage, error) {
	if u, err := url.ParseRequestURI(rawURL); err != nil || u.Hostname() == "" {
		return RawPage{}, &FetchError{URL: rawURL, Attempts: 1, Err: fmt.Errorf("malformed url %q", rawURL)}
	}

	var lastErr error
	attempts := 0
	for {
		if err := f.limiter.Acquire(ctx); err != nil {
			return RawPage{}, err
		}
		attempts++
		page, err := f.attempt(ctx, rawURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !f.policy.ShouldRetry(err, attempts) {
			break
		}
		delay := f.policy.Backoff(attempts - 1)
		f.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay),
		)
		if err := pause(ctx, delay); err != nil {
			break
		}
	}

	var fetchErr *FetchError
	if errors.As(lastErr, &fetchErr) {
		fetchErr.Attempts = attempts
		return RawPage{}, fetchErr
	}
	return RawPage{}, &FetchError{URL: rawURL, Attempts: attempts, Err: lastErr}
}

func (f *PageFetcher) attempt(ctx context.Context, rawURL string) (RawPage, error) {
	collector := colly.NewCollector(colly.AllowURLRevisit())
	collector.IgnoreRobotsTxt = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		page       RawPage
		statusCode int
		fetchErr   error
	)
	collector.OnResponse(func(r *colly.Response) {
		page = RawPage{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return RawPage{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr == nil {
			fetchErr = err
		}
		if fetchErr != nil {
			return RawPage{}, &FetchError{URL: rawURL, StatusCode: statusCode, Attempts: 1, Err: fetchErr}
		}
		return page, nil
	}
}

func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
