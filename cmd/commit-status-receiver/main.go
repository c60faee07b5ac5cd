/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// commit-status-receiver is the long-running variant of commit-status: it
// receives the same EventBridge events as CloudEvents over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/chainguard-dev/clog"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/sync/errgroup"

	"github.com/chainguard-dev/pipeline-hooks/pkg/awsclient"
	"github.com/chainguard-dev/pipeline-hooks/pkg/commitstatus"
	"github.com/chainguard-dev/pipeline-hooks/pkg/httpmetrics"
	mce "github.com/chainguard-dev/pipeline-hooks/pkg/httpmetrics/cloudevents"
	"github.com/chainguard-dev/pipeline-hooks/pkg/logging"
	"github.com/chainguard-dev/pipeline-hooks/pkg/paramstore"
	"github.com/chainguard-dev/pipeline-hooks/pkg/pipelinestatus"
	"github.com/chainguard-dev/pipeline-hooks/pkg/prober"
	"github.com/chainguard-dev/pipeline-hooks/pkg/repohost"
)

var env = envconfig.MustProcess(context.Background(), &struct {
	Port             int    `env:"PORT, default=8080"`
	RepositoryHost   string `env:"REPOSITORY_HOST, required"`
	RepositoryName   string `env:"REPOSITORY_NAME, required"`
	TokenParamName   string `env:"REPOSITORY_TOKEN_PARAM_NAME, required"`
	Description      string `env:"STATUS_DESCRIPTION"`
	ResolveRevisions bool   `env:"RESOLVE_PIPELINE_REVISIONS, default=true"`
	Region           string `env:"AWS_REGION"`
	LogLevel         string `env:"LOG_LEVEL, default=info"`

	// The probe checks that the repository token can be read.
	ProbePort     int    `env:"PROBE_PORT, default=8081"`
	Authorization string `env:"AUTHORIZATION"`
}{})

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = logging.Setup(ctx, env.LogLevel)

	defer httpmetrics.SetupTracer(ctx)()

	cfg, err := awsclient.LoadConfig(ctx)
	if err != nil {
		clog.FatalContextf(ctx, "%v", err)
	}

	var opts []commitstatus.Option
	if env.ResolveRevisions {
		opts = append(opts, commitstatus.WithRevisionResolver(pipelinestatus.NewResolver(codepipeline.NewFromConfig(cfg))))
	}
	tokens := paramstore.NewFromConfig(cfg)
	relay, err := commitstatus.NewRelay(repohost.NewDefaultRegistry(), tokens, commitstatus.Config{
		HostKind:       env.RepositoryHost,
		Repository:     env.RepositoryName,
		TokenParamName: env.TokenParamName,
		Description:    env.Description,
		Region:         env.Region,
	}, opts...)
	if err != nil {
		clog.FatalContextf(ctx, "failed to create relay: %v", err)
	}

	c, err := mce.NewClientHTTP("commit-status", cloudevents.WithPort(env.Port))
	if err != nil {
		clog.FatalContextf(ctx, "failed to create event client, %v", err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return httpmetrics.ServeMetricsContext(ctx)
	})
	eg.Go(func() error {
		return c.StartReceiver(ctx, relay.Receive)
	})
	if env.Authorization != "" {
		eg.Go(func() error {
			return prober.Serve(ctx, env.ProbePort, env.Authorization, prober.Func(func(ctx context.Context) error {
				_, err := tokens.Get(ctx, env.TokenParamName)
				return err
			}))
		})
	}
	if err := eg.Wait(); err != nil {
		clog.FatalContextf(ctx, "Error group failed: %v", err)
	}
}
