/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package repohost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/chainguard-dev/clog"
)

const (
	bitbucketAPI = "https://api.bitbucket.org/2.0/"

	// Bounds how much of an error response is kept for diagnostics.
	maxResponseBody = 64 << 10
)

// BitbucketHost talks to the Bitbucket Cloud REST API.
type BitbucketHost struct {
	base    http.RoundTripper
	baseURL string
}

var _ Host = (*BitbucketHost)(nil)

// NewBitbucket creates a Bitbucket host sending requests over base.
func NewBitbucket(base http.RoundTripper, opts ...Option) *BitbucketHost {
	if base == nil {
		base = http.DefaultTransport
	}
	o := &options{baseURL: bitbucketAPI}
	for _, opt := range opts {
		opt(o)
	}
	if !strings.HasSuffix(o.baseURL, "/") {
		o.baseURL += "/"
	}
	return &BitbucketHost{base: base, baseURL: o.baseURL}
}

func (b *BitbucketHost) Kind() Kind { return Bitbucket }

func (b *BitbucketHost) TranslateStatus(s State) (Status, bool) { return Bitbucket.Translate(s) }

type bitbucketCommitStatus struct {
	Key         string `json:"key"`
	State       string `json:"state"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// PostCommitStatus implements Host.
// https://developer.atlassian.com/cloud/bitbucket/rest/api-group-commit-statuses/#api-repositories-workspace-repo-slug-commit-commit-statuses-build-post
func (b *BitbucketHost) PostCommitStatus(ctx context.Context, token string, s CommitStatus) error {
	if _, _, err := splitRepository(s.Repository); err != nil {
		return err
	}
	path := fmt.Sprintf("repositories/%s/commit/%s/statuses/build", s.Repository, url.PathEscape(s.CommitSHA))
	code, body, err := b.do(ctx, token, http.MethodPost, path, bitbucketCommitStatus{
		Key:         BuildKey(s.BuildName),
		State:       string(s.State),
		Name:        s.BuildName,
		Description: s.Description,
		URL:         s.BuildURL,
	})
	if err != nil {
		return err
	}
	if code < 200 || code >= 300 {
		return b.apiError("send commit status", code, body)
	}
	clog.FromContext(ctx).With("sha", s.CommitSHA, "state", s.State).Info("Commit status sent to Bitbucket")
	return nil
}

type bitbucketWebhook struct {
	UUID        string   `json:"uuid,omitempty"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Active      bool     `json:"active"`
	Events      []string `json:"events"`
}

// CreateWebhook implements Host.
// https://developer.atlassian.com/cloud/bitbucket/rest/api-group-repositories/#api-repositories-workspace-repo-slug-hooks-post
func (b *BitbucketHost) CreateWebhook(ctx context.Context, token string, hook Webhook) (string, error) {
	if _, _, err := splitRepository(hook.Repository); err != nil {
		return "", err
	}
	code, body, err := b.do(ctx, token, http.MethodPost, fmt.Sprintf("repositories/%s/hooks", hook.Repository), bitbucketWebhook{
		Description: hook.Description,
		URL:         hook.CallbackURL,
		Active:      true,
		Events:      []string{"repo:push"},
	})
	if err != nil {
		return "", err
	}
	if code != http.StatusCreated {
		return "", b.apiError("create webhook", code, body)
	}
	var created bitbucketWebhook
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("decoding bitbucket webhook: %w", err)
	}
	if created.UUID == "" {
		return "", fmt.Errorf("bitbucket create webhook: response did not include a uuid")
	}
	clog.FromContext(ctx).With("webhookId", created.UUID).Info("Webhook created")
	return created.UUID, nil
}

// DeleteWebhook implements Host.
// https://developer.atlassian.com/cloud/bitbucket/rest/api-group-repositories/#api-repositories-workspace-repo-slug-hooks-uid-delete
func (b *BitbucketHost) DeleteWebhook(ctx context.Context, token, repository, id string) error {
	log := clog.FromContext(ctx).With("webhookId", id)
	if _, _, err := splitRepository(repository); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: %q is not a Bitbucket hook uuid", ErrInvalidWebhookID, id)
	}
	code, body, err := b.do(ctx, token, http.MethodDelete, fmt.Sprintf("repositories/%s/hooks/%s", repository, url.PathEscape(id)), nil)
	if err != nil {
		return err
	}
	switch {
	case code == http.StatusNotFound:
		log.Info("Webhook not found")
		return nil
	case code >= 200 && code < 300:
		log.Info("Webhook deleted")
		return nil
	default:
		return b.apiError("delete webhook", code, body)
	}
}

func (b *BitbucketHost) do(ctx context.Context, token, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := authorizedClient(b.base, token).Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("bitbucket %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, fmt.Errorf("reading bitbucket response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (b *BitbucketHost) apiError(op string, code int, body []byte) error {
	return &APIError{
		Host:       Bitbucket,
		Operation:  op,
		StatusCode: code,
		Body:       string(body),
	}
}
