/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package buildevent

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sha = "0123456789abcdef0123456789abcdef01234567"

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *Event
	}{{
		name: "codebuild envelope",
		raw: `{
			"version": "0",
			"id": "bfdc1220-60ff-44bd-ac1c-5c4d1b2f0e10",
			"detail-type": "CodeBuild Build State Change",
			"source": "aws.codebuild",
			"account": "123456789012",
			"time": "2026-01-01T00:00:00Z",
			"region": "eu-west-1",
			"resources": [],
			"detail": {
				"build-status": "SUCCEEDED",
				"project-name": "feature-deploy",
				"build-id": "arn:aws:codebuild:eu-west-1:123456789012:build/feature-deploy:1b2c3d4e",
				"additional-information": {"source-version": "` + sha + `"}
			}
		}`,
		want: &Event{
			Source:    CodeBuild,
			State:     "SUCCEEDED",
			CommitSHA: sha,
			BuildName: "feature-deploy",
			BuildURL:  "https://eu-west-1.console.aws.amazon.com/codesuite/codebuild/projects/feature-deploy/build/feature-deploy:1b2c3d4e",
			Region:    "eu-west-1",
		},
	}, {
		name: "codebuild bare detail takes the region from the build arn",
		raw: `{
			"build-status": "IN_PROGRESS",
			"project-name": "p",
			"build-id": "arn:aws:codebuild:us-west-2:123456789012:build/p:abc",
			"additional-information": {"source-version": "` + sha + `"}
		}`,
		want: &Event{
			Source:    CodeBuild,
			State:     "IN_PROGRESS",
			CommitSHA: sha,
			BuildName: "p",
			BuildURL:  "https://us-west-2.console.aws.amazon.com/codesuite/codebuild/projects/p/build/p:abc",
			Region:    "us-west-2",
		},
	}, {
		name: "codebuild s3 source falls back to the commit variable",
		raw: `{
			"region": "us-east-1",
			"detail-type": "CodeBuild Build State Change",
			"detail": {
				"build-status": "FAILED",
				"project-name": "branch-deploy",
				"build-id": "arn:aws:codebuild:us-east-1:123456789012:build/branch-deploy:42",
				"additional-information": {
					"source-version": "3HL4kqtJlcpXroDTDmjVBH40Nrjfkd",
					"environment": {"environment-variables": [
						{"name": "BRANCH_NAME", "value": "feature/x", "type": "PLAINTEXT"},
						{"name": "COMMIT_SHA", "value": "` + sha + `", "type": "PLAINTEXT"}
					]}
				}
			}
		}`,
		want: &Event{
			Source:    CodeBuild,
			State:     "FAILED",
			CommitSHA: sha,
			BuildName: "branch-deploy",
			BuildURL:  "https://us-east-1.console.aws.amazon.com/codesuite/codebuild/projects/branch-deploy/build/branch-deploy:42",
			Region:    "us-east-1",
		},
	}, {
		name: "codepipeline envelope",
		raw: `{
			"detail-type": "CodePipeline Pipeline Execution State Change",
			"source": "aws.codepipeline",
			"region": "us-east-1",
			"detail": {"pipeline": "main", "execution-id": "exec-1", "state": "STARTED", "version": 1}
		}`,
		want: &Event{
			Source:      CodePipeline,
			State:       "STARTED",
			BuildName:   "main",
			BuildURL:    "https://us-east-1.console.aws.amazon.com/codesuite/codepipeline/pipelines/main/executions/exec-1/timeline",
			Region:      "us-east-1",
			ExecutionID: "exec-1",
		},
	}, {
		name: "republished pipeline event carries the commit",
		raw:  `{"detail-type": "x", "detail": {"pipeline": "main", "execution-id": "exec-2", "state": "SUCCEEDED", "commit-sha": "` + sha + `"}}`,
		want: &Event{
			Source:      CodePipeline,
			State:       "SUCCEEDED",
			CommitSHA:   sha,
			BuildName:   "main",
			BuildURL:    "https://eu-central-1.console.aws.amazon.com/codesuite/codepipeline/pipelines/main/executions/exec-2/timeline",
			Region:      "eu-central-1",
			ExecutionID: "exec-2",
		},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.raw), "eu-central-1")
			if err != nil {
				t.Fatalf("Parse() = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse() (-want +got): %s", diff)
			}
		})
	}
}

func TestParseUnrecognized(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":        `nope`,
		"array":           `[1, 2]`,
		"empty object":    `{}`,
		"unrelated event": `{"detail-type": "EC2 Instance State-change Notification", "detail": {"instance-id": "i-1", "state": "running"}}`,
		"bad build id":    `{"build-status": "SUCCEEDED", "project-name": "p", "build-id": "not-an-arn"}`,
		"detail string":   `{"detail": "SUCCEEDED"}`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(raw), "us-east-1"); !errors.Is(err, ErrUnrecognizedEvent) {
				t.Errorf("Parse() = %v, want ErrUnrecognizedEvent", err)
			}
		})
	}
}

func TestParseIgnored(t *testing.T) {
	for name, raw := range map[string]string{
		"stage event":  `{"detail": {"pipeline": "main", "execution-id": "e", "state": "SUCCEEDED", "stage": "Build"}}`,
		"action event": `{"detail": {"pipeline": "main", "execution-id": "e", "state": "STARTED", "stage": "Source", "action": "Source"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw), "us-east-1")
			if !errors.Is(err, ErrIgnoredEvent) {
				t.Errorf("Parse() = %v, want ErrIgnoredEvent", err)
			}
			if errors.Is(err, ErrUnrecognizedEvent) {
				t.Errorf("Parse() = %v, must not be ErrUnrecognizedEvent", err)
			}
		})
	}
}
