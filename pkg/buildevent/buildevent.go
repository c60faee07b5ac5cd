/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package buildevent decodes CodeBuild and CodePipeline state change events
// delivered by EventBridge.
package buildevent

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// ErrUnrecognizedEvent is returned for payloads that are neither a CodeBuild
// build state change nor a CodePipeline execution state change.
var ErrUnrecognizedEvent = errors.New("unrecognized build event")

// ErrIgnoredEvent is returned for well-formed events that never produce a
// status, such as CodePipeline stage and action state changes. Callers should
// skip them rather than fail.
var ErrIgnoredEvent = errors.New("ignored build event")

// Source is the AWS service that emitted an event.
type Source string

const (
	CodeBuild    Source = "codebuild"
	CodePipeline Source = "codepipeline"
)

// CommitSHAVariable is the build environment variable carrying the commit
// when the build source is not the repository itself.
const CommitSHAVariable = "COMMIT_SHA"

// Event is a build or pipeline state change, reduced to what a commit status needs.
type Event struct {
	Source Source
	// State is the platform state, e.g. IN_PROGRESS or SUCCEEDED.
	State string
	// CommitSHA may be empty, e.g. for pipeline events before resolution.
	CommitSHA string
	// BuildName is the CodeBuild project or CodePipeline pipeline name.
	BuildName string
	BuildURL  string
	Region    string

	// ExecutionID identifies the pipeline execution of CodePipeline events.
	ExecutionID string
}

// codeBuildDetail follows
// https://docs.aws.amazon.com/codebuild/latest/userguide/sample-build-notifications.html#sample-build-notifications-ref
type codeBuildDetail struct {
	BuildStatus           string `json:"build-status"`
	ProjectName           string `json:"project-name"`
	BuildID               string `json:"build-id"`
	AdditionalInformation struct {
		SourceVersion string `json:"source-version"`
		Environment   struct {
			Variables []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"environment-variables"`
		} `json:"environment"`
	} `json:"additional-information"`
}

// codePipelineDetail follows
// https://docs.aws.amazon.com/codepipeline/latest/userguide/detect-state-changes-cloudwatch-events.html
// CommitSHA is only present on events republished by the pipeline status function.
type codePipelineDetail struct {
	Pipeline    string `json:"pipeline"`
	ExecutionID string `json:"execution-id"`
	State       string `json:"state"`
	Stage       string `json:"stage"`
	Action      string `json:"action"`
	CommitSHA   string `json:"commit-sha"`
}

var commitSHA = regexp.MustCompile(`^[0-9a-f]{40}$`)

// IsCommitSHA reports whether s is a full hex git commit id.
func IsCommitSHA(s string) bool { return commitSHA.MatchString(s) }

// Parse decodes an EventBridge envelope, or a bare event detail, into an
// Event. defaultRegion is used when neither the envelope nor the build ARN
// carries one.
func Parse(raw []byte, defaultRegion string) (*Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnrecognizedEvent, err)
	}

	region := defaultRegion
	detail := raw
	if _, ok := fields["detail"]; ok {
		var envelope events.CloudWatchEvent
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnrecognizedEvent, err)
		}
		if envelope.Region != "" {
			region = envelope.Region
		}
		detail = envelope.Detail
		fields = nil
		if err := json.Unmarshal(detail, &fields); err != nil {
			return nil, fmt.Errorf("%w: detail: %w", ErrUnrecognizedEvent, err)
		}
	}

	switch {
	case has(fields, "build-status", "project-name", "build-id"):
		return parseCodeBuild(detail, region)
	case has(fields, "pipeline", "execution-id", "state"):
		return parseCodePipeline(detail, region)
	default:
		return nil, ErrUnrecognizedEvent
	}
}

func has(fields map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if _, ok := fields[k]; !ok {
			return false
		}
	}
	return true
}

func parseCodeBuild(raw []byte, region string) (*Event, error) {
	var d codeBuildDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnrecognizedEvent, err)
	}

	// arn:aws:codebuild:us-east-1:123456789012:build/my-project:b1e6661e-e4f2-4156-9ab9-82a19EXAMPLE
	resource, buildID, ok := strings.Cut(d.BuildID, "/")
	if !ok || buildID == "" {
		return nil, fmt.Errorf("%w: malformed build id %q", ErrUnrecognizedEvent, d.BuildID)
	}
	if arnParts := strings.Split(resource, ":"); len(arnParts) > 3 && arnParts[3] != "" {
		region = arnParts[3]
	}

	sha := d.AdditionalInformation.SourceVersion
	if !commitSHA.MatchString(sha) {
		sha = ""
		for _, v := range d.AdditionalInformation.Environment.Variables {
			if v.Name == CommitSHAVariable {
				sha = v.Value
			}
		}
	}

	return &Event{
		Source:    CodeBuild,
		State:     d.BuildStatus,
		CommitSHA: sha,
		BuildName: d.ProjectName,
		BuildURL:  fmt.Sprintf("https://%s.console.aws.amazon.com/codesuite/codebuild/projects/%s/build/%s", region, d.ProjectName, buildID),
		Region:    region,
	}, nil
}

func parseCodePipeline(raw []byte, region string) (*Event, error) {
	var d codePipelineDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnrecognizedEvent, err)
	}
	// Stage and action events share the pipeline fields but do not describe
	// the outcome of the whole execution.
	if d.Stage != "" || d.Action != "" {
		return nil, fmt.Errorf("%w: stage or action event", ErrIgnoredEvent)
	}
	if d.Pipeline == "" || d.ExecutionID == "" {
		return nil, fmt.Errorf("%w: missing pipeline or execution id", ErrUnrecognizedEvent)
	}

	return &Event{
		Source:      CodePipeline,
		State:       d.State,
		CommitSHA:   d.CommitSHA,
		BuildName:   d.Pipeline,
		BuildURL:    PipelineExecutionURL(region, d.Pipeline, d.ExecutionID),
		Region:      region,
		ExecutionID: d.ExecutionID,
	}, nil
}

// PipelineExecutionURL links to the console timeline of a pipeline execution.
func PipelineExecutionURL(region, pipeline, executionID string) string {
	return fmt.Sprintf("https://%s.console.aws.amazon.com/codesuite/codepipeline/pipelines/%s/executions/%s/timeline", region, pipeline, executionID)
}
