/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pipelinestatus

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/smithy-go"
	"github.com/chainguard-dev/clog"

	"github.com/chainguard-dev/pipeline-hooks/pkg/buildevent"
)

// ErrExecutionNotFound is returned when the pipeline or execution does not exist.
var ErrExecutionNotFound = errors.New("pipeline execution not found")

// PipelineAPI is the subset of the CodePipeline client used here.
type PipelineAPI interface {
	GetPipelineExecution(ctx context.Context, params *codepipeline.GetPipelineExecutionInput, optFns ...func(*codepipeline.Options)) (*codepipeline.GetPipelineExecutionOutput, error)
}

// Resolver finds the source commit of a pipeline execution.
type Resolver struct {
	api PipelineAPI
}

// NewResolver wraps a CodePipeline client.
func NewResolver(api PipelineAPI) *Resolver {
	return &Resolver{api: api}
}

// ResolveRevision returns the commit of the execution's first source
// artifact, or "" when none is known. Repository sources report the commit as
// the revision id. S3 sources report an object version there, so the commit
// is taken from the revision summary the mirror stores with the archive.
func (r *Resolver) ResolveRevision(ctx context.Context, pipeline, executionID string) (string, error) {
	out, err := r.api.GetPipelineExecution(ctx, &codepipeline.GetPipelineExecutionInput{
		PipelineName:        aws.String(pipeline),
		PipelineExecutionId: aws.String(executionID),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "PipelineNotFoundException", "PipelineExecutionNotFoundException":
				return "", fmt.Errorf("%w: %s/%s", ErrExecutionNotFound, pipeline, executionID)
			}
		}
		return "", fmt.Errorf("getting pipeline execution %s/%s: %w", pipeline, executionID, err)
	}

	if out.PipelineExecution == nil || len(out.PipelineExecution.ArtifactRevisions) == 0 {
		clog.FromContext(ctx).With("pipeline", pipeline, "executionId", executionID).Warn("Pipeline execution has no artifact revisions")
		return "", nil
	}
	rev := out.PipelineExecution.ArtifactRevisions[0]
	for _, candidate := range []string{aws.ToString(rev.RevisionId), aws.ToString(rev.RevisionSummary)} {
		if buildevent.IsCommitSHA(candidate) {
			return candidate, nil
		}
	}
	clog.FromContext(ctx).With("pipeline", pipeline, "executionId", executionID, "revisionId", aws.ToString(rev.RevisionId)).
		Warn("Pipeline source revision is not a commit")
	return "", nil
}
