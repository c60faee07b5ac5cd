/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/chainguard-dev/clog"
)

// Trigger starts a CodeBuild project whenever it is invoked, whatever the
// payload.
type Trigger struct {
	project string
	builds  BuildAPI
}

// NewTrigger returns a Trigger for project.
func NewTrigger(project string, builds BuildAPI) *Trigger {
	return &Trigger{project: project, builds: builds}
}

// Handle starts the project.
func (t *Trigger) Handle(ctx context.Context, event json.RawMessage) error {
	log := clog.FromContext(ctx).With("project", t.project)
	log.Debug("Event", "event", string(event))

	out, err := t.builds.StartBuild(ctx, &codebuild.StartBuildInput{ProjectName: aws.String(t.project)})
	if err != nil {
		return fmt.Errorf("starting build %s: %w", t.project, err)
	}
	if out.Build != nil {
		log = log.With("buildId", aws.ToString(out.Build.Id))
	}
	log.Info("Started build")
	return nil
}
