/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// mirror-trigger starts the repository mirroring build on any invocation.
package main

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"

	"github.com/chainguard-dev/pipeline-hooks/pkg/awsclient"
	"github.com/chainguard-dev/pipeline-hooks/pkg/logging"
	"github.com/chainguard-dev/pipeline-hooks/pkg/mirror"
)

var env = envconfig.MustProcess(context.Background(), &struct {
	Project  string `env:"CODEBUILD_PROJECT_NAME, required"`
	LogLevel string `env:"LOG_LEVEL, default=info"`
}{})

func main() {
	ctx := logging.Setup(context.Background(), env.LogLevel)

	cfg, err := awsclient.LoadConfig(ctx)
	if err != nil {
		clog.FatalContextf(ctx, "%v", err)
	}
	trigger := mirror.NewTrigger(env.Project, codebuild.NewFromConfig(cfg))

	lambda.StartWithOptions(func(ctx context.Context, event json.RawMessage) error {
		return trigger.Handle(logging.WithInvocation(ctx), event)
	}, lambda.WithContext(ctx))
}
