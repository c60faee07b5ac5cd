/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package pipelinestatus enriches CodePipeline execution state changes with
// the commit being built and republishes them to EventBridge, where the
// commit status relay picks them up.
package pipelinestatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/chainguard-dev/clog"

	"github.com/chainguard-dev/pipeline-hooks/pkg/buildevent"
	"github.com/chainguard-dev/pipeline-hooks/pkg/repohost"
)

// EventsAPI is the subset of the EventBridge client used here.
type EventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Config controls where enriched events are published.
type Config struct {
	// HostKind selects the status vocabulary; states it cannot express are dropped.
	HostKind string
	// Source is the EventBridge source of republished events.
	Source string
	// EventBus defaults to the account's default bus.
	EventBus string
}

// Detail is the payload of a republished event. It keeps the field names of
// the CodePipeline execution event so consumers can decode either.
type Detail struct {
	Pipeline    string `json:"pipeline"`
	ExecutionID string `json:"execution-id"`
	// State is the CodePipeline state.
	State     string `json:"state"`
	CommitSHA string `json:"commit-sha,omitempty"`
	// Status is State in the repository host's vocabulary.
	Status string `json:"status"`
}

// Republisher handles CodePipeline execution state changes.
type Republisher struct {
	kind     repohost.Kind
	cfg      Config
	resolver *Resolver
	events   EventsAPI
}

// NewRepublisher validates cfg and returns a Republisher.
func NewRepublisher(resolver *Resolver, events EventsAPI, cfg Config) (*Republisher, error) {
	kind, ok := repohost.ParseKind(cfg.HostKind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", repohost.ErrUnsupportedHost, cfg.HostKind)
	}
	if cfg.Source == "" {
		return nil, errors.New("event source is required")
	}
	if resolver == nil || events == nil {
		return nil, errors.New("revision resolver and events client are required")
	}
	return &Republisher{kind: kind, cfg: cfg, resolver: resolver, events: events}, nil
}

// Handle republishes ev with its commit attached. States without a status on
// the configured host are logged and dropped.
func (r *Republisher) Handle(ctx context.Context, ev events.CloudWatchEvent) error {
	be, err := buildevent.Parse(ev.Detail, ev.Region)
	if errors.Is(err, buildevent.ErrIgnoredEvent) {
		clog.FromContext(ctx).Warnf("Ignoring event: %v", err)
		return nil
	}
	if err != nil {
		return err
	}
	if be.Source != buildevent.CodePipeline {
		return fmt.Errorf("%w: expected a pipeline execution event, got %s", buildevent.ErrUnrecognizedEvent, be.Source)
	}
	log := clog.FromContext(ctx).With("pipeline", be.BuildName, "executionId", be.ExecutionID, "state", be.State)

	status, ok := r.kind.Translate(repohost.State(be.State))
	if !ok {
		log.Warn("Ignoring unsupported state change")
		return nil
	}

	sha := be.CommitSHA
	if sha == "" {
		if sha, err = r.resolver.ResolveRevision(ctx, be.BuildName, be.ExecutionID); err != nil {
			return err
		}
	}
	if sha == "" {
		log.Warn("Commit hash not found")
	}

	detail, err := json.Marshal(Detail{
		Pipeline:    be.BuildName,
		ExecutionID: be.ExecutionID,
		State:       be.State,
		CommitSHA:   sha,
		Status:      string(status),
	})
	if err != nil {
		return fmt.Errorf("encoding event detail: %w", err)
	}

	entry := types.PutEventsRequestEntry{
		Source:     aws.String(r.cfg.Source),
		DetailType: aws.String(ev.DetailType),
		Detail:     aws.String(string(detail)),
	}
	if r.cfg.EventBus != "" {
		entry.EventBusName = aws.String(r.cfg.EventBus)
	}
	out, err := r.events.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: []types.PutEventsRequestEntry{entry}})
	if err != nil {
		return fmt.Errorf("publishing pipeline status: %w", err)
	}
	if out.FailedEntryCount > 0 && len(out.Entries) > 0 {
		failed := out.Entries[0]
		return fmt.Errorf("publishing pipeline status: %s: %s", aws.ToString(failed.ErrorCode), aws.ToString(failed.ErrorMessage))
	}
	log.With("commit", sha, "status", status).Info("Republished pipeline status")
	return nil
}
