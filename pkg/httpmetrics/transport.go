package httpmetrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

const (
	CeTypeHeader string = "ce-type"
)

var (
	mReqCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_client_request_count",
			Help: "The total number of HTTP requests",
		},
		[]string{"code", "method", "host", "path", "function_name", "function_version", "ce_type"},
	)
	mReqInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_client_request_in_flight",
			Help: "The number of outgoing HTTP requests currently inflight",
		},
		[]string{"method", "host", "path", "function_name", "function_version", "ce_type"},
	)
	mReqDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_client_request_duration_seconds",
			Help:    "The duration of HTTP requests",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"code", "method", "host", "path", "function_name", "function_version", "ce_type"},
	)
	seenHostMap = sync.Map{}
)

var buckets = map[string]string{
	"api.github.com":    "GitHub API",
	"github.com":        "GitHub",
	"api.bitbucket.org": "Bitbucket API",
	"bitbucket.org":     "Bitbucket",
}

var bucketSuffixes = map[string]string{
	"amazonaws.com": "AWS",
}

func SetBuckets(b map[string]string)         { buckets = b }
func SetBucketSuffixes(bs map[string]string) { bucketSuffixes = bs }

// Transport is an http.RoundTripper that records metrics for each request.
var Transport = WrapTransport(http.DefaultTransport)

type MetricsTransport struct {
	http.RoundTripper

	inner http.RoundTripper
}

type transportOptions struct {
	skipBucketize bool
}

// TransportOption configures WrapTransport.
type TransportOption func(*transportOptions)

// WithSkipBucketize labels every request with the "unbucketized" host
// instead of looking the host up, for clients that talk to arbitrary hosts.
func WithSkipBucketize(skip bool) TransportOption {
	return func(o *transportOptions) { o.skipBucketize = skip }
}

// WrapTransport wraps an http.RoundTripper with instrumentation.
func WrapTransport(t http.RoundTripper, opts ...TransportOption) http.RoundTripper {
	o := &transportOptions{}
	for _, opt := range opts {
		opt(o)
	}
	hostLabel := func(ctx context.Context, host string) string {
		if o.skipBucketize {
			return "unbucketized"
		}
		return bucketize(ctx, host)
	}
	return &MetricsTransport{
		RoundTripper: instrumentAPIPath(
			instrumentRoundTripperCounter(hostLabel,
				instrumentRoundTripperInFlight(hostLabel,
					instrumentRoundTripperDuration(hostLabel,
						instrumentGitHubRateLimits(
							otelhttp.NewTransport(t)))))),
		inner: t,
	}
}

func ExtractInnerTransport(rt http.RoundTripper) http.RoundTripper {
	if mt, ok := rt.(*MetricsTransport); ok {
		return mt.inner
	}
	return rt
}

func mapErrorToLabel(err error) string {
	if strings.Contains(err.Error(), "no route to host") {
		return "no-route-to_host"
	}
	if strings.Contains(err.Error(), "i/o timeout") {
		return "io-timeout"
	}
	if strings.Contains(err.Error(), "TLS handshake timeout") {
		return "tls-handshake-timeout"
	}
	if strings.Contains(err.Error(), "TLS handshake error") {
		return "tls-handshake-error"
	}
	if strings.Contains(err.Error(), "unexpected EOF") {
		return "unexpected-eof"
	}
	if strings.Contains(err.Error(), "context deadline exceeded") {
		return "deadline-exceeded"
	}
	return "unknown-error"
}

// These instrument methods based on promhttp, with bucketized host and Lambda labels added:
// https://pkg.go.dev/github.com/prometheus/client_golang/prometheus/promhttp

type hostLabeler func(context.Context, string) string

func instrumentRoundTripperCounter(hostLabel hostLabeler, next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		tracer := otel.Tracer("httpmetrics")
		host := hostLabel(r.Context(), r.URL.Host)
		ctx, span := tracer.Start(r.Context(), fmt.Sprintf("http-%s-%s", r.Method, host))
		// Ensure that outgoing requests are nested under this span.
		r = r.WithContext(ctx)
		defer span.End()

		resp, err := next.RoundTrip(r)
		code := ""
		if err == nil {
			code = strconv.Itoa(resp.StatusCode)
		} else {
			code = mapErrorToLabel(err)
		}
		mReqCount.With(prometheus.Labels{
			"code":             code,
			"method":           r.Method,
			"host":             host,
			"path":             getPath(r.Context()),
			"function_name":    env.FunctionName,
			"function_version": env.FunctionVersion,
			"ce_type":          r.Header.Get(CeTypeHeader),
		}).Inc()
		return resp, err
	}
}

func instrumentRoundTripperInFlight(hostLabel hostLabeler, next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		g := mReqInFlight.With(prometheus.Labels{
			"method":           r.Method,
			"host":             hostLabel(r.Context(), r.URL.Host),
			"path":             getPath(r.Context()),
			"function_name":    env.FunctionName,
			"function_version": env.FunctionVersion,
			"ce_type":          r.Header.Get(CeTypeHeader),
		})
		g.Inc()
		defer g.Dec()
		return next.RoundTrip(r)
	}
}

func instrumentRoundTripperDuration(hostLabel hostLabeler, next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(r)
		if err == nil {
			mReqDuration.With(prometheus.Labels{
				"code":             strconv.Itoa(resp.StatusCode),
				"method":           r.Method,
				"host":             hostLabel(r.Context(), r.URL.Host),
				"path":             getPath(r.Context()),
				"function_name":    env.FunctionName,
				"function_version": env.FunctionVersion,
				"ce_type":          r.Header.Get(CeTypeHeader),
			}).Observe(time.Since(start).Seconds())
		}
		return resp, err
	}
}

func bucketize(ctx context.Context, host string) string {
	// Check the exact matches first.
	if b, ok := buckets[host]; ok {
		return b
	}
	// Then check the suffixes.
	for k, v := range bucketSuffixes {
		if strings.HasSuffix(host, "."+k) {
			return v
		}
	}

	v, _ := seenHostMap.LoadOrStore(host, &atomic.Int64{})
	vInt := v.(*atomic.Int64)

	if seen := vInt.Add(1); (seen-1)%10 == 0 {
		clog.WarnContext(ctx, `bucketing host as "other", use httpmetrics.SetBucket{Suffixe}s`, "host", host, "seen", seen)
	}
	return "other"
}

var (
	mGitHubRateLimitRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit_remaining",
			Help: "The number of requests remaining in the current rate limit window",
		},
		[]string{"resource"},
	)
	mGitHubRateLimit = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit",
			Help: "The number of requests allowed during the rate limit window",
		},
		[]string{"resource"},
	)
	mGitHubRateLimitReset = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit_reset",
			Help: "The timestamp at which the current rate limit window resets",
		},
		[]string{"resource"},
	)
	mGitHubRateLimitUsed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit_used",
			Help: "The fraction of the rate limit window used",
		},
		[]string{"resource"},
	)
	mGitHubRateLimitTimeToReset = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit_time_to_reset",
			Help: "The number of minutes until the current rate limit window resets",
		},
		[]string{"resource"},
	)
)

// instrumentGitHubRateLimits is a promhttp.RoundTripperFunc that records GitHub rate limit metrics.
// See https://docs.github.com/en/rest/using-the-rest-api/rate-limits-for-the-rest-api?apiVersion=2022-11-28
func instrumentGitHubRateLimits(next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		resp, err := next.RoundTrip(r)
		if err != nil {
			return resp, err
		}
		if r.URL.Host == "api.github.com" {
			resource := resp.Header.Get("X-RateLimit-Resource")
			if resource == "" {
				resource = "unknown"
			}

			val := func(key string) float64 {
				val := resp.Header.Get(key)
				if val == "" {
					return 0
				}
				i, err := strconv.Atoi(val)
				if err != nil {
					return 0
				}
				return float64(i)
			}
			remaining := val("X-RateLimit-Remaining")
			mGitHubRateLimitRemaining.With(prometheus.Labels{"resource": resource}).Set(remaining)

			limit := val("X-RateLimit-Limit")
			mGitHubRateLimit.With(prometheus.Labels{"resource": resource}).Set(limit)

			reset := val("X-RateLimit-Reset")
			mGitHubRateLimitReset.With(prometheus.Labels{"resource": resource}).Set(reset)

			if limit > 0 {
				used := (limit - remaining) / limit
				mGitHubRateLimitUsed.With(prometheus.Labels{"resource": resource}).Set(used)
			}

			if reset > 0 {
				timeToReset := time.Until(time.Unix(int64(reset), 0)).Minutes()
				mGitHubRateLimitTimeToReset.With(prometheus.Labels{"resource": resource}).Set(timeToReset)
			}
		}
		return resp, err
	}
}
