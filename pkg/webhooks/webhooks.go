/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package webhooks keeps a push webhook on the repository host in step with
// a CloudFormation custom resource.
//
// The webhook id is the resource's physical id: Create registers a webhook
// and returns its id, Update replaces the webhook and returns the new id, and
// Delete removes it. Deleting a webhook that is already gone succeeds, so
// CloudFormation retries and rollbacks converge.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/chainguard-dev/clog"

	"github.com/chainguard-dev/pipeline-hooks/pkg/repohost"
)

// ErrUnsupportedRequest is returned for request types other than Create,
// Update and Delete.
var ErrUnsupportedRequest = errors.New("unsupported request type")

// TokenSource fetches the repository access token.
type TokenSource interface {
	Get(ctx context.Context, name string) (string, error)
}

// Properties are the custom resource's properties.
type Properties struct {
	StackName                string `json:"StackName"`
	RepositoryHost           string `json:"RepositoryHost"`
	RepositoryName           string `json:"RepositoryName"`
	RepositoryTokenParamName string `json:"RepositoryTokenParamName"`
	WebhookURL               string `json:"WebhookUrl"`
}

// Response is returned to the custom resource provider.
type Response struct {
	PhysicalResourceID string `json:"PhysicalResourceId"`
}

// Manager handles the custom resource lifecycle.
type Manager struct {
	registry *repohost.Registry
	tokens   TokenSource
}

// NewManager creates a Manager dispatching to the hosts in registry.
func NewManager(registry *repohost.Registry, tokens TokenSource) *Manager {
	return &Manager{registry: registry, tokens: tokens}
}

// Handle applies a lifecycle request and reports the resulting webhook id.
func (m *Manager) Handle(ctx context.Context, event cfn.Event) (Response, error) {
	log := clog.FromContext(ctx).With("requestType", event.RequestType, "stack", event.StackID)

	props, err := decodeProperties(event.ResourceProperties)
	if err != nil {
		return Response{}, err
	}
	host, err := m.registry.Lookup(props.RepositoryHost)
	if err != nil {
		return Response{}, err
	}
	token, err := m.tokens.Get(ctx, props.RepositoryTokenParamName)
	if err != nil {
		return Response{}, fmt.Errorf("unable to retrieve repository token %q: %w", props.RepositoryTokenParamName, err)
	}
	ctx = clog.WithLogger(ctx, log.With("repository", props.RepositoryName))

	switch event.RequestType {
	case cfn.RequestCreate:
		return m.create(ctx, host, token, props)
	case cfn.RequestUpdate:
		return m.update(ctx, host, token, event.PhysicalResourceID, props)
	case cfn.RequestDelete:
		return m.delete(ctx, host, token, event.PhysicalResourceID, props)
	default:
		return Response{}, fmt.Errorf("%w: %q", ErrUnsupportedRequest, event.RequestType)
	}
}

func (m *Manager) create(ctx context.Context, host repohost.Host, token string, props Properties) (Response, error) {
	clog.FromContext(ctx).Info("Creating webhook")
	if props.WebhookURL == "" {
		return Response{}, errors.New("WebhookUrl property is required")
	}
	id, err := host.CreateWebhook(ctx, token, repohost.Webhook{
		Repository:  props.RepositoryName,
		CallbackURL: props.WebhookURL,
		Description: fmt.Sprintf("%s Mirror to AWS CodePipeline", props.StackName),
	})
	if err != nil {
		return Response{}, err
	}
	return Response{PhysicalResourceID: id}, nil
}

func (m *Manager) update(ctx context.Context, host repohost.Host, token, oldID string, props Properties) (Response, error) {
	log := clog.FromContext(ctx).With("webhookId", oldID)
	log.Info("Updating webhook")

	// The old webhook may belong to a repository that changed with this
	// update, so its removal is best effort.
	if _, err := m.delete(ctx, host, token, oldID, props); err != nil {
		log.Warnf("Failed to delete webhook: %v", err)
	}
	return m.create(ctx, host, token, props)
}

func (m *Manager) delete(ctx context.Context, host repohost.Host, token, id string, props Properties) (Response, error) {
	log := clog.FromContext(ctx).With("webhookId", id)
	log.Info("Deleting webhook")

	err := host.DeleteWebhook(ctx, token, props.RepositoryName, id)
	if errors.Is(err, repohost.ErrInvalidWebhookID) {
		// Left behind by a Create that failed before the host assigned an id.
		log.Infof("Physical id does not name a webhook, nothing to delete: %v", err)
		return Response{PhysicalResourceID: id}, nil
	}
	if err != nil {
		return Response{}, err
	}
	return Response{PhysicalResourceID: id}, nil
}

func decodeProperties(raw map[string]interface{}) (Properties, error) {
	var props Properties
	b, err := json.Marshal(raw)
	if err != nil {
		return props, fmt.Errorf("encoding resource properties: %w", err)
	}
	if err := json.Unmarshal(b, &props); err != nil {
		return props, fmt.Errorf("decoding resource properties: %w", err)
	}
	if props.RepositoryName == "" || props.RepositoryTokenParamName == "" {
		return props, errors.New("RepositoryName and RepositoryTokenParamName properties are required")
	}
	return props, nil
}
