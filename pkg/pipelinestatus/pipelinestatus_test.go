/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pipelinestatus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	cptypes "github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/smithy-go"
	"github.com/chainguard-dev/clog/slogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainguard-dev/pipeline-hooks/pkg/buildevent"
	"github.com/chainguard-dev/pipeline-hooks/pkg/repohost"
)

const sha = "0123456789abcdef0123456789abcdef01234567"

// mockPipelineAPI implements PipelineAPI for testing
type mockPipelineAPI struct {
	getPipelineExecutionFunc func(ctx context.Context, params *codepipeline.GetPipelineExecutionInput, optFns ...func(*codepipeline.Options)) (*codepipeline.GetPipelineExecutionOutput, error)
	calls                    int
}

func (m *mockPipelineAPI) GetPipelineExecution(ctx context.Context, params *codepipeline.GetPipelineExecutionInput, optFns ...func(*codepipeline.Options)) (*codepipeline.GetPipelineExecutionOutput, error) {
	m.calls++
	return m.getPipelineExecutionFunc(ctx, params, optFns...)
}

// mockEventsAPI implements EventsAPI for testing
type mockEventsAPI struct {
	putEventsFunc func(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
	inputs        []*eventbridge.PutEventsInput
}

func (m *mockEventsAPI) PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.putEventsFunc == nil {
		return &eventbridge.PutEventsOutput{}, nil
	}
	return m.putEventsFunc(ctx, params, optFns...)
}

func executionWith(revisions ...string) *mockPipelineAPI {
	return &mockPipelineAPI{
		getPipelineExecutionFunc: func(_ context.Context, _ *codepipeline.GetPipelineExecutionInput, _ ...func(*codepipeline.Options)) (*codepipeline.GetPipelineExecutionOutput, error) {
			exec := &cptypes.PipelineExecution{}
			for _, r := range revisions {
				exec.ArtifactRevisions = append(exec.ArtifactRevisions, cptypes.ArtifactRevision{RevisionId: aws.String(r)})
			}
			return &codepipeline.GetPipelineExecutionOutput{PipelineExecution: exec}, nil
		},
	}
}

func pipelineEvent(state string) events.CloudWatchEvent {
	return events.CloudWatchEvent{
		DetailType: "CodePipeline Pipeline Execution State Change",
		Source:     "aws.codepipeline",
		Region:     "eu-west-1",
		Detail:     json.RawMessage(`{"pipeline": "main", "execution-id": "exec-1", "state": "` + state + `", "version": 3}`),
	}
}

func TestResolveRevision(t *testing.T) {
	api := executionWith(sha, "ffff")
	api.getPipelineExecutionFunc = func(ctx context.Context, params *codepipeline.GetPipelineExecutionInput, optFns ...func(*codepipeline.Options)) (*codepipeline.GetPipelineExecutionOutput, error) {
		assert.Equal(t, "main", aws.ToString(params.PipelineName))
		assert.Equal(t, "exec-1", aws.ToString(params.PipelineExecutionId))
		return executionWith(sha, "ffff").GetPipelineExecution(ctx, params, optFns...)
	}

	got, err := NewResolver(api).ResolveRevision(slogtest.Context(t), "main", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, sha, got)
}

func TestResolveRevisionNoArtifacts(t *testing.T) {
	got, err := NewResolver(executionWith()).ResolveRevision(slogtest.Context(t), "main", "exec-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolveRevisionS3Source(t *testing.T) {
	tests := []struct {
		name     string
		revision cptypes.ArtifactRevision
		want     string
	}{{
		name: "summary from archive metadata",
		revision: cptypes.ArtifactRevision{
			Name:            aws.String("Source"),
			RevisionId:      aws.String("3sL4kqtJlcpXroDTDmJ.Ae8rZzVp8a7"),
			RevisionSummary: aws.String(sha),
		},
		want: sha,
	}, {
		name: "no commit anywhere",
		revision: cptypes.ArtifactRevision{
			RevisionId:      aws.String("3sL4kqtJlcpXroDTDmJ.Ae8rZzVp8a7"),
			RevisionSummary: aws.String("Amazon S3 version id: 3sL4kqtJlcpXroDTDmJ.Ae8rZzVp8a7"),
		},
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockPipelineAPI{
				getPipelineExecutionFunc: func(context.Context, *codepipeline.GetPipelineExecutionInput, ...func(*codepipeline.Options)) (*codepipeline.GetPipelineExecutionOutput, error) {
					return &codepipeline.GetPipelineExecutionOutput{PipelineExecution: &cptypes.PipelineExecution{
						ArtifactRevisions: []cptypes.ArtifactRevision{tt.revision},
					}}, nil
				},
			}
			got, err := NewResolver(api).ResolveRevision(slogtest.Context(t), "main", "exec-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveRevisionErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{{
		name:    "execution not found",
		err:     &smithy.GenericAPIError{Code: "PipelineExecutionNotFoundException", Message: "nope"},
		wantErr: ErrExecutionNotFound,
	}, {
		name:    "pipeline not found",
		err:     &smithy.GenericAPIError{Code: "PipelineNotFoundException", Message: "nope"},
		wantErr: ErrExecutionNotFound,
	}, {
		name: "throttled",
		err:  &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"},
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockPipelineAPI{
				getPipelineExecutionFunc: func(context.Context, *codepipeline.GetPipelineExecutionInput, ...func(*codepipeline.Options)) (*codepipeline.GetPipelineExecutionOutput, error) {
					return nil, tt.err
				},
			}
			_, err := NewResolver(api).ResolveRevision(slogtest.Context(t), "main", "exec-1")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestHandle(t *testing.T) {
	tests := []struct {
		host       string
		state      string
		wantStatus string
	}{
		{"github", "STARTED", "pending"},
		{"github", "SUCCEEDED", "success"},
		{"bitbucket", "FAILED", "FAILED"},
		{"bitbucket", "STOPPED", "STOPPED"},
	}
	for _, tt := range tests {
		t.Run(tt.host+"/"+tt.state, func(t *testing.T) {
			eb := &mockEventsAPI{}
			r, err := NewRepublisher(NewResolver(executionWith(sha)), eb, Config{
				HostKind: tt.host,
				Source:   "pipeline-hooks.status",
				EventBus: "ci",
			})
			require.NoError(t, err)

			require.NoError(t, r.Handle(slogtest.Context(t), pipelineEvent(tt.state)))
			require.Len(t, eb.inputs, 1)
			require.Len(t, eb.inputs[0].Entries, 1)

			entry := eb.inputs[0].Entries[0]
			assert.Equal(t, "pipeline-hooks.status", aws.ToString(entry.Source))
			assert.Equal(t, "ci", aws.ToString(entry.EventBusName))
			assert.Equal(t, "CodePipeline Pipeline Execution State Change", aws.ToString(entry.DetailType))

			var got Detail
			require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &got))
			assert.Equal(t, Detail{
				Pipeline:    "main",
				ExecutionID: "exec-1",
				State:       tt.state,
				CommitSHA:   sha,
				Status:      tt.wantStatus,
			}, got)
		})
	}
}

// Republished events must decode as pipeline events carrying the commit.
func TestHandleOutputParses(t *testing.T) {
	eb := &mockEventsAPI{}
	r, err := NewRepublisher(NewResolver(executionWith(sha)), eb, Config{HostKind: "github", Source: "s"})
	require.NoError(t, err)
	require.NoError(t, r.Handle(slogtest.Context(t), pipelineEvent("SUCCEEDED")))

	ev, err := buildevent.Parse([]byte(aws.ToString(eb.inputs[0].Entries[0].Detail)), "eu-west-1")
	require.NoError(t, err)
	assert.Equal(t, buildevent.CodePipeline, ev.Source)
	assert.Equal(t, sha, ev.CommitSHA)
	assert.Equal(t, "exec-1", ev.ExecutionID)
	assert.Nil(t, eb.inputs[0].Entries[0].EventBusName)
}

func TestHandleSkipsUnmappedState(t *testing.T) {
	cp := executionWith(sha)
	eb := &mockEventsAPI{}
	r, err := NewRepublisher(NewResolver(cp), eb, Config{HostKind: "github", Source: "s"})
	require.NoError(t, err)

	require.NoError(t, r.Handle(slogtest.Context(t), pipelineEvent("SUPERSEDED")))
	assert.Zero(t, cp.calls)
	assert.Empty(t, eb.inputs)
}

func TestHandleWithoutRevision(t *testing.T) {
	eb := &mockEventsAPI{}
	r, err := NewRepublisher(NewResolver(executionWith()), eb, Config{HostKind: "github", Source: "s"})
	require.NoError(t, err)

	require.NoError(t, r.Handle(slogtest.Context(t), pipelineEvent("FAILED")))
	require.Len(t, eb.inputs, 1)
	assert.NotContains(t, aws.ToString(eb.inputs[0].Entries[0].Detail), "commit-sha")
}

func TestHandleErrors(t *testing.T) {
	ctx := slogtest.Context(t)

	t.Run("put events fails", func(t *testing.T) {
		boom := errors.New("boom")
		eb := &mockEventsAPI{putEventsFunc: func(context.Context, *eventbridge.PutEventsInput, ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
			return nil, boom
		}}
		r, err := NewRepublisher(NewResolver(executionWith(sha)), eb, Config{HostKind: "github", Source: "s"})
		require.NoError(t, err)
		assert.ErrorIs(t, r.Handle(ctx, pipelineEvent("SUCCEEDED")), boom)
	})

	t.Run("entry rejected", func(t *testing.T) {
		eb := &mockEventsAPI{putEventsFunc: func(context.Context, *eventbridge.PutEventsInput, ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
			return &eventbridge.PutEventsOutput{
				FailedEntryCount: 1,
				Entries:          []ebtypes.PutEventsResultEntry{{ErrorCode: aws.String("InternalFailure"), ErrorMessage: aws.String("try again")}},
			}, nil
		}}
		r, err := NewRepublisher(NewResolver(executionWith(sha)), eb, Config{HostKind: "github", Source: "s"})
		require.NoError(t, err)
		err = r.Handle(ctx, pipelineEvent("SUCCEEDED"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "InternalFailure")
	})

	t.Run("build event", func(t *testing.T) {
		eb := &mockEventsAPI{}
		r, err := NewRepublisher(NewResolver(executionWith(sha)), eb, Config{HostKind: "github", Source: "s"})
		require.NoError(t, err)
		err = r.Handle(ctx, events.CloudWatchEvent{Detail: json.RawMessage(`{
			"build-status": "SUCCEEDED",
			"project-name": "p",
			"build-id": "arn:aws:codebuild:us-east-1:123456789012:build/p:1"}`)})
		assert.ErrorIs(t, err, buildevent.ErrUnrecognizedEvent)
		assert.Empty(t, eb.inputs)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewRepublisher(nil, nil, Config{HostKind: "gitlab", Source: "s"})
		assert.ErrorIs(t, err, repohost.ErrUnsupportedHost)
		_, err = NewRepublisher(nil, nil, Config{HostKind: "github"})
		assert.Error(t, err)
		_, err = NewRepublisher(nil, &mockEventsAPI{}, Config{HostKind: "github", Source: "s"})
		assert.Error(t, err)
		_, err = NewRepublisher(NewResolver(executionWith(sha)), nil, Config{HostKind: "github", Source: "s"})
		assert.Error(t, err)
	})

	t.Run("stage event skipped", func(t *testing.T) {
		eb := &mockEventsAPI{}
		api := executionWith(sha)
		r, err := NewRepublisher(NewResolver(api), eb, Config{HostKind: "github", Source: "s"})
		require.NoError(t, err)
		err = r.Handle(ctx, events.CloudWatchEvent{
			DetailType: "CodePipeline Stage Execution State Change",
			Region:     "eu-west-1",
			Detail:     json.RawMessage(`{"pipeline": "main", "execution-id": "exec-1", "stage": "Build", "state": "FAILED"}`),
		})
		require.NoError(t, err)
		assert.Empty(t, eb.inputs)
		assert.Zero(t, api.calls)
	})
}
