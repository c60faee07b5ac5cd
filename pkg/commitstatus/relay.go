/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package commitstatus relays build and pipeline state changes to the
// repository host as commit statuses.
package commitstatus

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"

	"github.com/chainguard-dev/pipeline-hooks/pkg/buildevent"
	"github.com/chainguard-dev/pipeline-hooks/pkg/repohost"
)

// DefaultDescription is attached to statuses when none is configured.
const DefaultDescription = "Feature branch deployment on AWS CodeBuild"

// TokenSource fetches the repository access token. Implementations must not
// cache the token across calls.
type TokenSource interface {
	Get(ctx context.Context, name string) (string, error)
}

// RevisionResolver finds the commit a pipeline execution is building.
type RevisionResolver interface {
	ResolveRevision(ctx context.Context, pipeline, executionID string) (string, error)
}

// Config identifies the repository statuses are sent to.
type Config struct {
	HostKind       string
	Repository     string
	TokenParamName string
	Description    string
	// Region is used for console links when the event carries none.
	Region string
}

// Relay posts a commit status for every mapped build event.
type Relay struct {
	host     repohost.Host
	cfg      Config
	tokens   TokenSource
	resolver RevisionResolver
}

// Option configures a Relay.
type Option func(*Relay)

// WithRevisionResolver resolves the commit of pipeline events that lack one.
func WithRevisionResolver(r RevisionResolver) Option {
	return func(rl *Relay) { rl.resolver = r }
}

// NewRelay looks up the configured host and returns a Relay for it.
func NewRelay(registry *repohost.Registry, tokens TokenSource, cfg Config, opts ...Option) (*Relay, error) {
	host, err := registry.Lookup(cfg.HostKind)
	if err != nil {
		return nil, err
	}
	if cfg.Description == "" {
		cfg.Description = DefaultDescription
	}
	r := &Relay{host: host, cfg: cfg, tokens: tokens}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Handle decodes a raw EventBridge event and relays it. Stage and action
// events are logged and dropped.
func (r *Relay) Handle(ctx context.Context, raw []byte) error {
	ev, err := buildevent.Parse(raw, r.cfg.Region)
	if errors.Is(err, buildevent.ErrIgnoredEvent) {
		clog.FromContext(ctx).Warnf("Ignoring event: %v", err)
		return nil
	}
	if err != nil {
		return err
	}
	return r.Relay(ctx, ev)
}

// Relay translates ev and posts it. Events whose state has no status on the
// host are logged and dropped without contacting the host.
func (r *Relay) Relay(ctx context.Context, ev *buildevent.Event) error {
	log := clog.FromContext(ctx).With("source", ev.Source, "build", ev.BuildName, "state", ev.State)

	status, ok := r.host.TranslateStatus(repohost.State(ev.State))
	if !ok {
		log.Warn("Ignoring unsupported status change")
		return nil
	}

	sha := ev.CommitSHA
	if sha == "" && ev.Source == buildevent.CodePipeline && r.resolver != nil {
		resolved, err := r.resolver.ResolveRevision(ctx, ev.BuildName, ev.ExecutionID)
		if err != nil {
			return fmt.Errorf("resolving commit of %s execution %s: %w", ev.BuildName, ev.ExecutionID, err)
		}
		sha = resolved
	}
	if sha == "" {
		log.Warn("Commit hash not found, skipping status")
		return nil
	}

	token, err := r.tokens.Get(ctx, r.cfg.TokenParamName)
	if err != nil {
		return fmt.Errorf("fetching repository token: %w", err)
	}

	return r.host.PostCommitStatus(ctx, token, repohost.CommitStatus{
		Repository:  r.cfg.Repository,
		CommitSHA:   sha,
		State:       status,
		BuildName:   ev.BuildName,
		BuildURL:    ev.BuildURL,
		Description: r.cfg.Description,
	})
}
