/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// webhook-provider is the onEvent handler of the custom resource that keeps
// the source repository's push webhook registered.
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"

	"github.com/chainguard-dev/pipeline-hooks/pkg/awsclient"
	"github.com/chainguard-dev/pipeline-hooks/pkg/logging"
	"github.com/chainguard-dev/pipeline-hooks/pkg/paramstore"
	"github.com/chainguard-dev/pipeline-hooks/pkg/repohost"
	"github.com/chainguard-dev/pipeline-hooks/pkg/webhooks"
)

var env = envconfig.MustProcess(context.Background(), &struct {
	LogLevel string `env:"LOG_LEVEL, default=info"`
}{})

func main() {
	ctx := logging.Setup(context.Background(), env.LogLevel)

	cfg, err := awsclient.LoadConfig(ctx)
	if err != nil {
		clog.FatalContextf(ctx, "%v", err)
	}
	manager := webhooks.NewManager(repohost.NewDefaultRegistry(), paramstore.NewFromConfig(cfg))

	lambda.StartWithOptions(func(ctx context.Context, event cfn.Event) (webhooks.Response, error) {
		ctx = logging.WithInvocation(ctx)
		resp, err := manager.Handle(ctx, event)
		if err != nil {
			clog.FromContext(ctx).Errorf("failed to %s webhook: %v", event.RequestType, err)
		}
		return resp, err
	}, lambda.WithContext(ctx))
}
