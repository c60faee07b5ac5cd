/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package commitstatus

import (
	"context"
	"errors"
	"net/http"

	"github.com/chainguard-dev/clog"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/chainguard-dev/pipeline-hooks/pkg/buildevent"
)

// Receive relays the EventBridge event carried as a CloudEvent's data.
// Malformed events are rejected with 400 so they are not redelivered.
func (r *Relay) Receive(ctx context.Context, event cloudevents.Event) cloudevents.Result {
	log := clog.FromContext(ctx).With("ce-id", event.ID(), "ce-type", event.Type())
	ctx = clog.WithLogger(ctx, log)

	err := r.Handle(ctx, event.Data())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, buildevent.ErrUnrecognizedEvent):
		log.Warnf("Rejecting event: %v", err)
		return cloudevents.NewHTTPResult(http.StatusBadRequest, "%v", err)
	default:
		log.Errorf("failed to relay status: %v", err)
		return cloudevents.NewHTTPResult(http.StatusInternalServerError, "%v", err)
	}
}
