/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package logging configures structured logging for the Lambda handlers.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/chainguard-dev/clog"
)

// ParseLevel maps LOG_LEVEL values onto slog levels, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler returns a handler writing JSON lines to w, which CloudWatch
// Logs indexes field by field.
func NewHandler(w io.Writer, level string) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
}

// Setup installs a JSON logger on stdout as the process default and on ctx.
func Setup(ctx context.Context, level string) context.Context {
	h := NewHandler(os.Stdout, level)
	slog.SetDefault(slog.New(h))
	return clog.WithLogger(ctx, clog.New(h))
}

// WithInvocation tags the context logger with the Lambda request id and
// function ARN, when ctx belongs to a Lambda invocation.
func WithInvocation(ctx context.Context) context.Context {
	lc, ok := lambdacontext.FromContext(ctx)
	if !ok {
		return ctx
	}
	return clog.WithLogger(ctx, clog.FromContext(ctx).With(
		"aws_request_id", lc.AwsRequestID,
		"function_arn", lc.InvokedFunctionArn,
	))
}
