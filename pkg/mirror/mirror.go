/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package mirror copies the externally hosted repository into the source
// bucket on every push and starts the pipeline or feature branch build that
// consumes it.
package mirror

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/codebuild/types"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/chainguard-dev/clog"
	"gocloud.dev/blob"

	"github.com/chainguard-dev/pipeline-hooks/pkg/pushevent"
	"github.com/chainguard-dev/pipeline-hooks/pkg/repohost"
)

const (
	// MainArchiveKey is the object the main pipeline's source action reads.
	MainArchiveKey = "repository-mirror.zip"

	// Build environment variables set on feature branch builds.
	BranchNameVariable = "BRANCH_NAME"
	CommitSHAVariable  = "COMMIT_SHA"
)

// TokenSource fetches the repository access token.
type TokenSource interface {
	Get(ctx context.Context, name string) (string, error)
}

// PipelineAPI is the subset of the CodePipeline client used here.
type PipelineAPI interface {
	StartPipelineExecution(ctx context.Context, params *codepipeline.StartPipelineExecutionInput, optFns ...func(*codepipeline.Options)) (*codepipeline.StartPipelineExecutionOutput, error)
}

// BuildAPI is the subset of the CodeBuild client used here.
type BuildAPI interface {
	StartBuild(ctx context.Context, params *codebuild.StartBuildInput, optFns ...func(*codebuild.Options)) (*codebuild.StartBuildOutput, error)
}

// Config describes the source repository and what its pushes start.
type Config struct {
	HostKind string
	// Domain serves git over HTTPS; it defaults to the host's public domain.
	Domain         string
	Repository     string
	TokenParamName string
	DefaultBranch  string

	// Secret must match the secret query parameter of webhook calls.
	Secret string

	// BucketName is the source bucket, used for CodeBuild source overrides.
	BucketName     string
	MainPipeline   string
	DeployProject  string
	DestroyProject string
}

// Mirror handles push webhooks.
type Mirror struct {
	cfg       Config
	kind      repohost.Kind
	tokens    TokenSource
	bucket    *blob.Bucket
	pipelines PipelineAPI
	builds    BuildAPI
	clone     cloneFunc
}

// New validates cfg and returns a Mirror writing archives to bucket.
func New(cfg Config, tokens TokenSource, bucket *blob.Bucket, pipelines PipelineAPI, builds BuildAPI) (*Mirror, error) {
	kind, ok := repohost.ParseKind(cfg.HostKind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", repohost.ErrUnsupportedHost, cfg.HostKind)
	}
	if cfg.Secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	if cfg.Domain == "" {
		cfg.Domain = defaultDomain(kind)
	}
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = "main"
	}
	return &Mirror{
		cfg:       cfg,
		kind:      kind,
		tokens:    tokens,
		bucket:    bucket,
		pipelines: pipelines,
		builds:    builds,
		clone:     plainClone,
	}, nil
}

func defaultDomain(k repohost.Kind) string {
	if k == repohost.Bitbucket {
		return "bitbucket.org"
	}
	return "github.com"
}

// BranchArchiveKey is the object holding the mirror for a feature branch.
func BranchArchiveKey(branch string) string {
	return "branch-" + EnvironmentName(branch) + ".zip"
}

// EnvironmentName derives a feature environment name from a branch, the
// same way the feature branch builds do.
func EnvironmentName(branch string) string {
	return strings.ToLower(strings.ReplaceAll(branch, "/", "-"))
}

// ServeURL handles a push webhook delivered to the function URL.
func (m *Mirror) ServeURL(ctx context.Context, req events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error) {
	log := clog.FromContext(ctx)

	if !m.validSecret(req.QueryStringParameters["secret"]) {
		log.Warn("Invalid secret")
		return events.LambdaFunctionURLResponse{StatusCode: http.StatusUnauthorized, Body: "Invalid secret"}, nil
	}

	if ev := eventName(req.Headers); ev != "" && ev != "push" && ev != "repo:push" {
		log.With("event", ev).Info("Ignoring non-push event")
		return events.LambdaFunctionURLResponse{StatusCode: http.StatusAccepted}, nil
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return events.LambdaFunctionURLResponse{StatusCode: http.StatusBadRequest, Body: "Malformed body"}, nil
		}
		body = decoded
	}
	push, err := pushevent.Parse(string(m.kind), body)
	if err != nil {
		log.Warnf("Unable to parse push: %v", err)
		return events.LambdaFunctionURLResponse{StatusCode: http.StatusBadRequest, Body: "Malformed push event"}, nil
	}

	if err := m.Dispatch(ctx, push); err != nil {
		return events.LambdaFunctionURLResponse{}, err
	}
	return events.LambdaFunctionURLResponse{StatusCode: http.StatusAccepted}, nil
}

func (m *Mirror) validSecret(got string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(m.cfg.Secret)) == 1
}

// eventName returns the GitHub or Bitbucket event type header, if any.
func eventName(headers map[string]string) string {
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "x-github-event", "x-event-key":
			return v
		}
	}
	return ""
}

// Dispatch mirrors push and starts the work it calls for.
func (m *Mirror) Dispatch(ctx context.Context, push pushevent.Push) error {
	log := clog.FromContext(ctx).With("branch", push.Branch, "commit", push.CommitSHA)
	ctx = clog.WithLogger(ctx, log)

	switch {
	case !push.IsBranch():
		log.Info("Ignoring push without a branch")
		return nil

	case push.Deleted:
		if push.Branch == m.cfg.DefaultBranch {
			log.Warn("Ignoring deletion of the default branch")
			return nil
		}
		return m.startBuild(ctx, m.cfg.DestroyProject, push)

	case push.CommitSHA == "":
		log.Info("Ignoring push with CI skipped")
		return nil

	case push.Branch == m.cfg.DefaultBranch:
		if err := m.snapshot(ctx, MainArchiveKey, push.CommitSHA); err != nil {
			return err
		}
		out, err := m.pipelines.StartPipelineExecution(ctx, &codepipeline.StartPipelineExecutionInput{
			Name: aws.String(m.cfg.MainPipeline),
		})
		if err != nil {
			return fmt.Errorf("starting pipeline %s: %w", m.cfg.MainPipeline, err)
		}
		log.With("executionId", aws.ToString(out.PipelineExecutionId)).Info("Started main pipeline")
		return nil

	default:
		if err := m.snapshot(ctx, BranchArchiveKey(push.Branch), push.CommitSHA); err != nil {
			return err
		}
		return m.startBuild(ctx, m.cfg.DeployProject, push)
	}
}

func (m *Mirror) startBuild(ctx context.Context, project string, push pushevent.Push) error {
	out, err := m.builds.StartBuild(ctx, &codebuild.StartBuildInput{
		ProjectName:            aws.String(project),
		SourceTypeOverride:     types.SourceTypeS3,
		SourceLocationOverride: aws.String(m.cfg.BucketName + "/" + BranchArchiveKey(push.Branch)),
		EnvironmentVariablesOverride: []types.EnvironmentVariable{{
			Name:  aws.String(BranchNameVariable),
			Value: aws.String(push.Branch),
			Type:  types.EnvironmentVariableTypePlaintext,
		}, {
			Name:  aws.String(CommitSHAVariable),
			Value: aws.String(push.CommitSHA),
			Type:  types.EnvironmentVariableTypePlaintext,
		}},
	})
	if err != nil {
		return fmt.Errorf("starting build %s: %w", project, err)
	}
	var id string
	if out.Build != nil {
		id = aws.ToString(out.Build.Id)
	}
	clog.FromContext(ctx).With("project", project, "buildId", id).Info("Started build")
	return nil
}
