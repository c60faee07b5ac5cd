// Copyright 2025 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package httpmetrics

import (
	"context"
	"net/http"
	"regexp"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type pathPattern struct {
	pattern *regexp.Regexp
	bucket  string
}

// Repository host API endpoints called by this module, keyed by API host.
// Paths outside these patterns are recorded with an empty path label to keep
// cardinality bounded.
var apiPatterns = map[string][]pathPattern{
	"api.github.com": {{
		// https://docs.github.com/en/rest/commits/statuses#create-a-commit-status
		pattern: regexp.MustCompile(`^/repos/[^/]+/[^/]+/statuses/[^/]+$`),
		bucket:  "/repos/{org}/{repo}/statuses/{sha}",
	}, {
		// https://docs.github.com/en/rest/repos/webhooks#create-a-repository-webhook
		pattern: regexp.MustCompile(`^/repos/[^/]+/[^/]+/hooks$`),
		bucket:  "/repos/{org}/{repo}/hooks",
	}, {
		// https://docs.github.com/en/rest/repos/webhooks#delete-a-repository-webhook
		pattern: regexp.MustCompile(`^/repos/[^/]+/[^/]+/hooks/\d+$`),
		bucket:  "/repos/{org}/{repo}/hooks/{id}",
	}},
	"api.bitbucket.org": {{
		// https://developer.atlassian.com/cloud/bitbucket/rest/api-group-commit-statuses/#api-repositories-workspace-repo-slug-commit-commit-statuses-build-post
		pattern: regexp.MustCompile(`^/2\.0/repositories/[^/]+/[^/]+/commit/[^/]+/statuses/build$`),
		bucket:  "/2.0/repositories/{workspace}/{repo}/commit/{sha}/statuses/build",
	}, {
		// https://developer.atlassian.com/cloud/bitbucket/rest/api-group-repositories/#api-repositories-workspace-repo-slug-hooks-post
		pattern: regexp.MustCompile(`^/2\.0/repositories/[^/]+/[^/]+/hooks$`),
		bucket:  "/2.0/repositories/{workspace}/{repo}/hooks",
	}, {
		// https://developer.atlassian.com/cloud/bitbucket/rest/api-group-repositories/#api-repositories-workspace-repo-slug-hooks-uid-delete
		pattern: regexp.MustCompile(`^/2\.0/repositories/[^/]+/[^/]+/hooks/[^/]+$`),
		bucket:  "/2.0/repositories/{workspace}/{repo}/hooks/{uid}",
	}},
}

func bucketizePath(host, path string) string {
	for _, p := range apiPatterns[host] {
		if p.pattern.MatchString(path) {
			return p.bucket
		}
	}
	return ""
}

type pathKey struct{}

func withPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, pathKey{}, path)
}

func getPath(ctx context.Context) string {
	if p, ok := ctx.Value(pathKey{}).(string); ok {
		return p
	}
	return ""
}

// instrumentAPIPath records the templated API path of repository host
// requests so the client metrics can be labeled with it.
func instrumentAPIPath(next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		if path := bucketizePath(r.URL.Host, r.URL.Path); path != "" {
			r = r.WithContext(withPath(r.Context(), path))
		}
		return next.RoundTrip(r)
	}
}
