/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package repohost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
)

// githubMediaType is the media type GitHub recommends for REST calls.
// https://docs.github.com/en/rest/using-the-rest-api/getting-started-with-the-rest-api#media-types
const githubMediaType = "application/vnd.github+json"

// GitHubHost talks to the GitHub REST API.
type GitHubHost struct {
	base    http.RoundTripper
	baseURL *url.URL
	// urlErr is returned by every call when WithBaseURL was not a usable URL.
	urlErr error
}

var _ Host = (*GitHubHost)(nil)

// NewGitHub creates a GitHub host sending requests over base.
func NewGitHub(base http.RoundTripper, opts ...Option) *GitHubHost {
	if base == nil {
		base = http.DefaultTransport
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	g := &GitHubHost{base: base}
	if o.baseURL != "" {
		u, err := url.Parse(o.baseURL)
		switch {
		case err != nil:
			g.urlErr = fmt.Errorf("invalid GitHub base URL %q: %w", o.baseURL, err)
		case u.Scheme == "" || u.Host == "":
			g.urlErr = fmt.Errorf("invalid GitHub base URL %q: scheme and host are required", o.baseURL)
		default:
			if !strings.HasSuffix(u.Path, "/") {
				u.Path += "/"
			}
			g.baseURL = u
		}
	}
	return g
}

func (g *GitHubHost) Kind() Kind { return GitHub }

func (g *GitHubHost) TranslateStatus(s State) (Status, bool) { return GitHub.Translate(s) }

func (g *GitHubHost) client(token string) (*github.Client, error) {
	if g.urlErr != nil {
		return nil, g.urlErr
	}
	c := github.NewClient(authorizedClient(acceptTransport{next: g.base}, token))
	if g.baseURL != nil {
		c.BaseURL = g.baseURL
	}
	return c, nil
}

// PostCommitStatus implements Host. The body carries state, target_url and
// context only.
// https://docs.github.com/en/rest/commits/statuses#create-a-commit-status
func (g *GitHubHost) PostCommitStatus(ctx context.Context, token string, s CommitStatus) error {
	owner, repo, err := splitRepository(s.Repository)
	if err != nil {
		return err
	}
	status := &github.RepoStatus{
		State:   github.Ptr(string(s.State)),
		Context: github.Ptr(s.BuildName),
	}
	if s.BuildURL != "" {
		status.TargetURL = github.Ptr(s.BuildURL)
	}
	c, err := g.client(token)
	if err != nil {
		return err
	}
	if _, _, err := c.Repositories.CreateStatus(ctx, owner, repo, s.CommitSHA, status); err != nil {
		return githubError("send commit status", err)
	}
	clog.FromContext(ctx).With("sha", s.CommitSHA, "state", s.State).Info("Commit status sent to GitHub")
	return nil
}

// CreateWebhook implements Host.
// https://docs.github.com/en/rest/repos/webhooks#create-a-repository-webhook
func (g *GitHubHost) CreateWebhook(ctx context.Context, token string, hook Webhook) (string, error) {
	owner, repo, err := splitRepository(hook.Repository)
	if err != nil {
		return "", err
	}
	c, err := g.client(token)
	if err != nil {
		return "", err
	}
	created, _, err := c.Repositories.CreateHook(ctx, owner, repo, &github.Hook{
		Active: github.Ptr(true),
		Events: []string{"push"},
		Config: &github.HookConfig{
			URL:         github.Ptr(hook.CallbackURL),
			ContentType: github.Ptr("json"),
		},
	})
	if err != nil {
		return "", githubError("create webhook", err)
	}
	if created.GetID() == 0 {
		return "", fmt.Errorf("github create webhook: response did not include an id")
	}
	id := strconv.FormatInt(created.GetID(), 10)
	clog.FromContext(ctx).With("webhookId", id).Info("Webhook created")
	return id, nil
}

// DeleteWebhook implements Host.
// https://docs.github.com/en/rest/repos/webhooks#delete-a-repository-webhook
func (g *GitHubHost) DeleteWebhook(ctx context.Context, token, repository, id string) error {
	log := clog.FromContext(ctx).With("webhookId", id)
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return err
	}
	hookID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || hookID <= 0 {
		return fmt.Errorf("%w: %q is not a GitHub hook id", ErrInvalidWebhookID, id)
	}
	c, err := g.client(token)
	if err != nil {
		return err
	}
	if _, err := c.Repositories.DeleteHook(ctx, owner, repo, hookID); err != nil {
		err = githubError("delete webhook", err)
		if IsNotFound(err) {
			log.Info("Webhook not found")
			return nil
		}
		return err
	}
	log.Info("Webhook deleted")
	return nil
}

// githubError converts go-github's error responses into an APIError.
func githubError(op string, err error) error {
	var (
		errResp  *github.ErrorResponse
		rateErr  *github.RateLimitError
		abuseErr *github.AbuseRateLimitError
		resp     *http.Response
		body     any
	)
	switch {
	case errors.As(err, &errResp):
		resp, body = errResp.Response, errResp
	case errors.As(err, &rateErr):
		resp, body = rateErr.Response, githubMessage{Message: rateErr.Message}
	case errors.As(err, &abuseErr):
		resp, body = abuseErr.Response, githubMessage{Message: abuseErr.Message}
	}
	if resp == nil {
		return fmt.Errorf("github %s: %w", op, err)
	}
	b, merr := json.Marshal(body)
	if merr != nil {
		b = []byte(err.Error())
	}
	return &APIError{
		Host:       GitHub,
		Operation:  op,
		StatusCode: resp.StatusCode,
		Body:       string(b),
	}
}

type githubMessage struct {
	Message string `json:"message"`
}

// acceptTransport replaces go-github's legacy v3 media type.
type acceptTransport struct {
	next http.RoundTripper
}

func (t acceptTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Accept", githubMediaType)
	return t.next.RoundTrip(r)
}
