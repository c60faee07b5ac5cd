/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// repository-mirror receives push webhooks on its function URL, mirrors the
// source repository into the source bucket and starts the matching
// pipeline or feature branch build.
package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
	"gocloud.dev/blob"

	// Add s3blob support that we need to support s3:// prefixes
	_ "gocloud.dev/blob/s3blob"

	"github.com/chainguard-dev/pipeline-hooks/pkg/awsclient"
	"github.com/chainguard-dev/pipeline-hooks/pkg/logging"
	"github.com/chainguard-dev/pipeline-hooks/pkg/mirror"
	"github.com/chainguard-dev/pipeline-hooks/pkg/paramstore"
)

var env = envconfig.MustProcess(context.Background(), &struct {
	Secret         string `env:"SECRET, required"`
	BucketName     string `env:"BUCKET_NAME, required"`
	Domain         string `env:"SOURCE_REPO_DOMAIN"`
	Host           string `env:"SOURCE_REPO_HOST, required"`
	Repository     string `env:"SOURCE_REPO_NAME, required"`
	TokenParamName string `env:"SOURCE_REPO_TOKEN_PARAM, required"`
	DefaultBranch  string `env:"DEFAULT_BRANCH_NAME"`
	MainPipeline   string `env:"MAIN_PIPELINE_NAME, required"`
	DeployProject  string `env:"BRANCH_DEPLOY_PROJECT_NAME, required"`
	DestroyProject string `env:"BRANCH_DESTROY_PROJECT_NAME, required"`
	Region         string `env:"AWS_REGION, required"`
	LogLevel       string `env:"LOG_LEVEL, default=info"`
}{})

func main() {
	ctx := logging.Setup(context.Background(), env.LogLevel)

	cfg, err := awsclient.LoadConfig(ctx)
	if err != nil {
		clog.FatalContextf(ctx, "%v", err)
	}

	bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("s3://%s?region=%s", env.BucketName, env.Region))
	if err != nil {
		clog.FatalContextf(ctx, "failed to open bucket %s: %v", env.BucketName, err)
	}
	defer bucket.Close()

	m, err := mirror.New(mirror.Config{
		HostKind:       env.Host,
		Domain:         env.Domain,
		Repository:     env.Repository,
		TokenParamName: env.TokenParamName,
		DefaultBranch:  env.DefaultBranch,
		Secret:         env.Secret,
		BucketName:     env.BucketName,
		MainPipeline:   env.MainPipeline,
		DeployProject:  env.DeployProject,
		DestroyProject: env.DestroyProject,
	}, paramstore.NewFromConfig(cfg), bucket, codepipeline.NewFromConfig(cfg), codebuild.NewFromConfig(cfg))
	if err != nil {
		clog.FatalContextf(ctx, "failed to create mirror: %v", err)
	}

	lambda.StartWithOptions(func(ctx context.Context, req events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error) {
		ctx = logging.WithInvocation(ctx)
		resp, err := m.ServeURL(ctx, req)
		if err != nil {
			clog.FromContext(ctx).Errorf("failed to mirror repository: %v", err)
		}
		return resp, err
	}, lambda.WithContext(ctx))
}
