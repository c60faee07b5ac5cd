/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package httpratelimit

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Rate limit header names shared by GitHub and Bitbucket.
// https://docs.github.com/en/rest/using-the-rest-api/rate-limits-for-the-rest-api#checking-the-status-of-your-rate-limit
// https://support.atlassian.com/bitbucket-cloud/docs/api-request-limits/
// NOTE: Use the Go canonical form (capitals) for these headers, even though they are lowercase in the docs.
const (
	// HeaderRetryAfter indicates how many seconds to wait before retrying
	HeaderRetryAfter = "Retry-After"
	// HeaderXRateLimitReset is the time at which the current rate limit window resets, in UTC epoch seconds
	HeaderXRateLimitReset = "X-Ratelimit-Reset"
	// HeaderXRateLimitRemaining is the number of requests remaining in the current rate limit window
	HeaderXRateLimitRemaining = "X-Ratelimit-Remaining"
)

const (
	defaultRetryAfter = 5 * time.Second
	defaultMaxWait    = 30 * time.Second
	defaultMaxRetries = 2
)

// Transport wraps an http.RoundTripper and waits out explicit rate limit
// responses before retrying. Waits are bounded: a response asking for a longer
// pause than the maximum, or one arriving after the retry budget is spent, is
// returned to the caller unchanged.
type Transport struct {
	base              http.RoundTripper
	clock             clockwork.Clock
	limiter           *limiter
	defaultRetryAfter time.Duration
	maxWait           time.Duration
	maxRetries        int
}

// Option configures a Transport.
type Option func(*Transport)

// WithDefaultRetryAfter sets the pause used when a rate limit response
// carries no usable headers.
func WithDefaultRetryAfter(d time.Duration) Option {
	return func(t *Transport) { t.defaultRetryAfter = d }
}

// WithMaxWait bounds how long a single rate limit response may pause requests.
func WithMaxWait(d time.Duration) Option {
	return func(t *Transport) { t.maxWait = d }
}

// WithMaxRetries bounds how many times a single request is retried.
func WithMaxRetries(n int) Option {
	return func(t *Transport) { t.maxRetries = n }
}

// WithClock replaces the wall clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(t *Transport) { t.clock = c }
}

// NewTransport creates a new rate limiting transport wrapper.
func NewTransport(base http.RoundTripper, opts ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{
		base:              base,
		clock:             clockwork.NewRealClock(),
		defaultRetryAfter: defaultRetryAfter,
		maxWait:           defaultMaxWait,
		maxRetries:        defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.limiter = &limiter{
		clock: t.clock,
		base:  rate.NewLimiter(rate.Inf, 100),
	}
	return t
}

// NewClient creates a new HTTP client with rate limiting enabled.
// This is a convenience function that wraps the given base transport.
func NewClient(base http.RoundTripper, opts ...Option) *http.Client {
	return &http.Client{
		Transport: NewTransport(base, opts...),
	}
}

// RoundTrip implements http.RoundTripper and adds rate limiting logic.
func (rt *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	log := clog.FromContext(ctx)

	for attempt := 0; ; attempt++ {
		// Wait if we're currently paused due to rate limiting
		if err := rt.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		if attempt > 0 {
			r, err := rewind(req)
			if err != nil {
				return nil, err
			}
			req = r
		}

		resp, err := rt.base.RoundTrip(req)
		if err != nil {
			return resp, err
		}

		wait, limited := rt.retryAfter(ctx, resp)
		if !limited {
			return resp, nil
		}
		switch {
		case attempt >= rt.maxRetries:
			log.With("attempts", attempt+1).Warn("Rate limit persists, giving up")
			return resp, nil
		case wait > rt.maxWait:
			log.With("retry_after", wait, "max_wait", rt.maxWait).Warn("Rate limit pause exceeds the maximum wait, giving up")
			return resp, nil
		case !canRewind(req):
			log.Warn("Rate limited request body cannot be replayed, giving up")
			return resp, nil
		}

		// Drain so the connection can be reused.
		if resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		rt.limiter.PauseFor(wait)
	}
}

func canRewind(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	r := req.Clone(req.Context())
	r.Body = body
	return r, nil
}

// retryAfter reports whether the response is a rate limit response and how
// long to pause before retrying.
//
// GitHub signals primary limits with 403 or 429 and an exhausted
// x-ratelimit-remaining, and secondary limits with retry-after. Bitbucket
// answers 429. A 403 without either header is a permission error.
//
// https://docs.github.com/en/rest/using-the-rest-api/rate-limits-for-the-rest-api#exceeding-the-rate-limit
func (rt *Transport) retryAfter(ctx context.Context, resp *http.Response) (time.Duration, bool) {
	log := clog.FromContext(ctx)

	if resp.StatusCode != http.StatusForbidden &&
		resp.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}

	var (
		retryAfter   time.Duration
		reset        time.Time
		remaining    = -1
		hasRetryHint bool
	)

	// Parse retry-after header (in seconds)
	if v := resp.Header.Get(HeaderRetryAfter); v != "" {
		hasRetryHint = true
		seconds, err := strconv.Atoi(v)
		if err != nil {
			log.Warnf("Failed to parse retry-after header: %v", err)
		} else {
			retryAfter = time.Duration(seconds) * time.Second
		}
	}

	// Parse x-ratelimit-remaining header
	if v := resp.Header.Get(HeaderXRateLimitRemaining); v != "" {
		r, err := strconv.Atoi(v)
		if err != nil {
			log.Warnf("Failed to parse x-ratelimit-remaining header: %v", err)
		} else {
			remaining = r
		}
	}

	// Parse x-ratelimit-reset header (Unix timestamp)
	if v := resp.Header.Get(HeaderXRateLimitReset); v != "" {
		seconds, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Warnf("Failed to parse x-ratelimit-reset header: %v", err)
		} else {
			reset = time.Unix(seconds, 0)
		}
	}

	if resp.StatusCode == http.StatusForbidden && !hasRetryHint && remaining != 0 {
		return 0, false
	}

	if retryAfter > 0 {
		log.With("retry_after", retryAfter).Warn("Rate limit hit, pausing requests")
		return retryAfter, true
	}

	// If remaining is 0 and reset time is provided, wait until reset
	if remaining == 0 && !reset.IsZero() {
		if d := rt.clock.Until(reset); d > 0 {
			log.With("reset_at", reset, "retry_after", d).Warn("Rate limit exhausted, pausing until reset")
			return d, true
		}
	}

	// Default fallback if we got a rate limit status but no helpful headers
	log.With("retry_after", rt.defaultRetryAfter).Warn("Rate limit hit (no headers), using default pause")
	return rt.defaultRetryAfter, true
}

// limiter provides a pausable rate limiter that can temporarily block all requests.
type limiter struct {
	clock      clockwork.Clock
	base       *rate.Limiter
	mu         sync.Mutex
	pauseUntil time.Time
	pauseCh    chan struct{}
	generation int
}

// Wait blocks until the limiter allows a request to proceed.
// It respects both the underlying rate limiter and any active pause.
func (l *limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	pauseCh := l.pauseCh
	l.mu.Unlock()

	// If we're paused, wait for the pause to end
	if pauseCh != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pauseCh:
		}
	}

	// Wait for rate limiter to allow the request
	return l.base.Wait(ctx)
}

// PauseFor pauses all requests for the specified duration.
// If already paused, extends the pause only if the new duration is longer.
func (l *limiter) PauseFor(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until := l.clock.Now().Add(d)
	if !until.After(l.pauseUntil) {
		return
	}
	l.pauseUntil = until
	if l.pauseCh == nil {
		l.pauseCh = make(chan struct{})
	}

	// Only the latest pause may release waiters; earlier timers become no-ops.
	l.generation++
	gen := l.generation
	l.clock.AfterFunc(d, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if gen != l.generation || l.pauseCh == nil {
			return
		}
		close(l.pauseCh)
		l.pauseCh = nil
		l.pauseUntil = time.Time{}
	})
}
