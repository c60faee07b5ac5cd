/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// pipeline-status republishes CodePipeline execution state changes with the
// commit being built attached.
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"

	"github.com/chainguard-dev/pipeline-hooks/pkg/awsclient"
	"github.com/chainguard-dev/pipeline-hooks/pkg/logging"
	"github.com/chainguard-dev/pipeline-hooks/pkg/pipelinestatus"
)

var env = envconfig.MustProcess(context.Background(), &struct {
	RepositoryType string `env:"REPOSITORY_TYPE, required"`
	EventSource    string `env:"EVENT_SOURCE_NAME, required"`
	EventBus       string `env:"EVENT_BUS_NAME"`
	LogLevel       string `env:"LOG_LEVEL, default=info"`
}{})

func main() {
	ctx := logging.Setup(context.Background(), env.LogLevel)

	cfg, err := awsclient.LoadConfig(ctx)
	if err != nil {
		clog.FatalContextf(ctx, "%v", err)
	}
	republisher, err := pipelinestatus.NewRepublisher(
		pipelinestatus.NewResolver(codepipeline.NewFromConfig(cfg)),
		eventbridge.NewFromConfig(cfg),
		pipelinestatus.Config{
			HostKind: env.RepositoryType,
			Source:   env.EventSource,
			EventBus: env.EventBus,
		})
	if err != nil {
		clog.FatalContextf(ctx, "failed to create republisher: %v", err)
	}

	lambda.StartWithOptions(func(ctx context.Context, event events.CloudWatchEvent) error {
		ctx = logging.WithInvocation(ctx)
		if err := republisher.Handle(ctx, event); err != nil {
			clog.FromContext(ctx).Errorf("failed to republish pipeline status: %v", err)
			return err
		}
		return nil
	}, lambda.WithContext(ctx))
}
