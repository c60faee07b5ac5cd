/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package repohost

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/chainguard-dev/pipeline-hooks/pkg/httpmetrics"
	"github.com/chainguard-dev/pipeline-hooks/pkg/httpratelimit"
)

// CommitStatus is a translated build status to attach to a commit.
type CommitStatus struct {
	// Repository is the full repository name, e.g. "owner/repo" or "workspace/slug".
	Repository string
	CommitSHA  string
	State      Status
	BuildName  string
	BuildURL   string
	// Description is sent to Bitbucket only.
	Description string
}

// Webhook describes a push webhook registration.
type Webhook struct {
	// ID is assigned by the host once the webhook is created.
	ID          string
	Repository  string
	CallbackURL string
	Description string
}

// Host is a repository hosting service that can receive commit statuses and
// push webhook registrations. Tokens are passed on every call and never
// retained.
//
// Implementations make a single attempt per call and surface the first
// failure. The only resending happens below them in the transport: a request
// answered with a rate-limit response is replayed after the advertised wait,
// bounded by httpratelimit's retry and wait limits. Other failures, including
// 5xx responses, are never retried.
type Host interface {
	Kind() Kind

	// TranslateStatus maps a platform state onto the host's vocabulary.
	TranslateStatus(State) (Status, bool)

	// PostCommitStatus attaches a status to a commit.
	PostCommitStatus(ctx context.Context, token string, status CommitStatus) error

	// CreateWebhook registers a push webhook and returns its host-assigned id.
	CreateWebhook(ctx context.Context, token string, hook Webhook) (string, error)

	// DeleteWebhook removes a webhook. A webhook that no longer exists is not an error.
	DeleteWebhook(ctx context.Context, token, repository, id string) error
}

// Registry maps host kinds to their implementation.
type Registry struct {
	hosts map[Kind]Host
}

// NewRegistry creates a registry of the given hosts. Later hosts replace
// earlier ones of the same kind.
func NewRegistry(hosts ...Host) *Registry {
	r := &Registry{hosts: make(map[Kind]Host, len(hosts))}
	for _, h := range hosts {
		r.hosts[h.Kind()] = h
	}
	return r
}

// NewDefaultRegistry returns a registry with GitHub and Bitbucket talking to
// their public APIs over DefaultTransport.
func NewDefaultRegistry() *Registry {
	rt := DefaultTransport()
	return NewRegistry(NewGitHub(rt), NewBitbucket(rt))
}

// Lookup returns the host for the given kind name, matched case-insensitively.
func (r *Registry) Lookup(name string) (Host, error) {
	kind, ok := ParseKind(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedHost, name)
	}
	h, ok := r.hosts[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedHost, name)
	}
	return h, nil
}

// DefaultTransport is the instrumented, rate-limit aware transport for host
// API calls. It replays only requests rejected by a rate limit.
func DefaultTransport() http.RoundTripper {
	return httpratelimit.NewTransport(httpmetrics.Transport)
}

// Option configures a Host.
type Option func(*options)

type options struct {
	baseURL string
}

// WithBaseURL points a host at a different API root, e.g. an enterprise
// server or a test server. The URL must end with a slash.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

func authorizedClient(base http.RoundTripper, token string) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   base,
		},
	}
}

func splitRepository(name string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(name, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repository name %q, expected owner/name", name)
	}
	return owner, repo, nil
}
