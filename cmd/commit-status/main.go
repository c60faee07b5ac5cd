/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// commit-status reports CodeBuild and CodePipeline state changes delivered
// by EventBridge as commit statuses on the source repository.
package main

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"

	"github.com/chainguard-dev/pipeline-hooks/pkg/awsclient"
	"github.com/chainguard-dev/pipeline-hooks/pkg/commitstatus"
	"github.com/chainguard-dev/pipeline-hooks/pkg/logging"
	"github.com/chainguard-dev/pipeline-hooks/pkg/paramstore"
	"github.com/chainguard-dev/pipeline-hooks/pkg/pipelinestatus"
	"github.com/chainguard-dev/pipeline-hooks/pkg/repohost"
)

var env = envconfig.MustProcess(context.Background(), &struct {
	RepositoryHost string `env:"REPOSITORY_HOST, required"`
	RepositoryName string `env:"REPOSITORY_NAME, required"`
	TokenParamName string `env:"REPOSITORY_TOKEN_PARAM_NAME, required"`
	Description    string `env:"STATUS_DESCRIPTION"`
	// Look up the commit of pipeline events that do not carry one.
	ResolveRevisions bool   `env:"RESOLVE_PIPELINE_REVISIONS, default=true"`
	Region           string `env:"AWS_REGION"`
	LogLevel         string `env:"LOG_LEVEL, default=info"`
}{})

func main() {
	ctx := logging.Setup(context.Background(), env.LogLevel)

	cfg, err := awsclient.LoadConfig(ctx)
	if err != nil {
		clog.FatalContextf(ctx, "%v", err)
	}

	var opts []commitstatus.Option
	if env.ResolveRevisions {
		opts = append(opts, commitstatus.WithRevisionResolver(pipelinestatus.NewResolver(codepipeline.NewFromConfig(cfg))))
	}
	relay, err := commitstatus.NewRelay(repohost.NewDefaultRegistry(), paramstore.NewFromConfig(cfg), commitstatus.Config{
		HostKind:       env.RepositoryHost,
		Repository:     env.RepositoryName,
		TokenParamName: env.TokenParamName,
		Description:    env.Description,
		Region:         env.Region,
	}, opts...)
	if err != nil {
		clog.FatalContextf(ctx, "failed to create relay: %v", err)
	}

	lambda.StartWithOptions(func(ctx context.Context, event json.RawMessage) error {
		ctx = logging.WithInvocation(ctx)
		if err := relay.Handle(ctx, event); err != nil {
			clog.FromContext(ctx).Errorf("failed to relay status: %v", err)
			return err
		}
		return nil
	}, lambda.WithContext(ctx))
}
