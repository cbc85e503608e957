package bbref

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type FailureReason int

const (
	// the page did not render in time on every attempt
	Timeout FailureReason = iota
	// the page rendered but the selector matched nothing
	EmptyResult
	NotFound
	// connection errors, rate limiting and server errors that outlived the retry budget
	Transient
	// malformed url or a client error status, never retried
	Invalid
)

func (r FailureReason) String() string {
	switch r {
	case Timeout:
		return "timeout"
	case EmptyResult:
		return "empty_result"
	case NotFound:
		return "not_found"
	case Transient:
		return "transient"
	case Invalid:
		return "invalid"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// FetchFailure is returned by Fetch once a url is given up on.
type FetchFailure struct {
	Url      string
	Reason   FailureReason
	Attempts int
	Err      error
}

func (f *FetchFailure) Error() string {
	msg := fmt.Sprintf("fetch %s: %s after %d attempt(s)", f.Url, f.Reason, f.Attempts)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *FetchFailure) Unwrap() error {
	return f.Err
}

var errEmptyResult = errors.New("selector matched nothing")

type FetcherOptions struct {
	// attempts per url, defaults to 3
	MaxRetries int
	// the wait before retry i is BaseBackoff * i, defaults to 5s
	BaseBackoff time.Duration
	// also waits BaseBackoff before the first attempt, shifting every
	// later wait up by one step
	ThrottleFirst bool
	// spaces out attempts across every caller of the fetcher, optional
	Limiter *rate.Limiter
	// bounds in-flight renders across every caller of the fetcher, optional
	Concurrency *semaphore.Weighted
}

// Fetcher renders pages and extracts a region out of them, retrying
// transient failures with linearly escalating backoff. a Fetcher is
// safe for concurrent use, waits of one call never block another.
type Fetcher struct {
	renderer Renderer
	opts     FetcherOptions
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewFetcher(renderer Renderer, opts FetcherOptions) *Fetcher {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseBackoff < 0 {
		opts.BaseBackoff = 0
	}
	return &Fetcher{
		renderer: renderer,
		opts:     opts,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff is the wait before the given (1-indexed) attempt.
func (f *Fetcher) backoff(attempt int) time.Duration {
	step := attempt - 1
	if f.opts.ThrottleFirst {
		step = attempt
	}
	return f.opts.BaseBackoff * time.Duration(step)
}

func classify(err error) (FailureReason, bool) {
	if errors.Is(err, ErrRenderTimeout) {
		return Timeout, true
	}
	if errors.Is(err, errEmptyResult) {
		return EmptyResult, false
	}
	var status *StatusError
	if errors.As(err, &status) {
		switch {
		case status.Code == http.StatusNotFound:
			return NotFound, false
		case status.Code == http.StatusTooManyRequests || status.Code >= 500:
			return Transient, true
		}
		return Invalid, false
	}
	return Transient, true
}

func validateUrl(rawUrl string) error {
	link, err := url.Parse(rawUrl)
	if err != nil {
		return err
	}
	if link.Scheme != "http" && link.Scheme != "https" || link.Host == "" {
		return fmt.Errorf("not an absolute http(s) url: %q", rawUrl)
	}
	return nil
}

// Fetch returns the inner html of the first node matching selector on
// the rendered page at url. failures are reported as *FetchFailure,
// cancellation as the context's error.
func (f *Fetcher) Fetch(ctx context.Context, rawUrl, selector string) (string, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("url", rawUrl),
		attribute.String("selector", selector),
	)

	fail := func(reason FailureReason, attempts int, err error) error {
		failure := &FetchFailure{Url: rawUrl, Reason: reason, Attempts: attempts, Err: err}
		failureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason.String())))
		span.RecordError(failure)
		span.SetStatus(codes.Error, "fetch failed")
		return failure
	}

	err := validateUrl(rawUrl)
	if err != nil {
		return "", fail(Invalid, 0, err)
	}

	var lastErr error
	lastReason := Transient
	for attempt := 1; attempt <= f.opts.MaxRetries; attempt++ {
		wait := f.backoff(attempt)
		if wait > 0 {
			slog.DebugContext(ctx, "waiting before fetch", "url", rawUrl, "attempt", attempt, "wait", wait)
			err := f.sleep(ctx, wait)
			if err != nil {
				return "", err
			}
		}

		content, err := f.attempt(ctx, rawUrl, selector)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt))
			return content, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		reason, retryable := classify(err)
		lastErr, lastReason = err, reason
		if !retryable {
			return "", fail(reason, attempt, err)
		}
		slog.WarnContext(
			ctx, "fetch attempt failed",
			"url", rawUrl,
			"attempt", attempt,
			"max_retries", f.opts.MaxRetries,
			"reason", reason.String(),
			"err", err,
		)
	}

	return "", fail(lastReason, f.opts.MaxRetries, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, rawUrl, selector string) (string, error) {
	if f.opts.Limiter != nil {
		err := f.opts.Limiter.Wait(ctx)
		if err != nil {
			return "", err
		}
	}
	if f.opts.Concurrency != nil {
		err := f.opts.Concurrency.Acquire(ctx, 1)
		if err != nil {
			return "", err
		}
		defer f.opts.Concurrency.Release(1)
	}

	attemptCounter.Add(ctx, 1)

	doc, err := f.renderer.Render(ctx, rawUrl)
	if err != nil {
		return "", err
	}
	region := doc.Find(selector).First()
	if region.Length() == 0 {
		return "", errEmptyResult
	}
	content, err := region.Html()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", errEmptyResult
	}
	return content, nil
}
