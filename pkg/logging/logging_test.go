/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-cmp/cmp"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	} {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithInvocation(t *testing.T) {
	var buf bytes.Buffer
	ctx := clog.WithLogger(t.Context(), clog.New(NewHandler(&buf, "info")))
	ctx = lambdacontext.NewContext(ctx, &lambdacontext.LambdaContext{
		AwsRequestID:       "c6af9ac6-7b61-11e6-9a41-93e8deadbeef",
		InvokedFunctionArn: "arn:aws:lambda:us-east-1:123456789012:function:commit-status",
	})

	clog.FromContext(WithInvocation(ctx)).Info("hello")

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decoding log line %q: %v", buf.String(), err)
	}
	delete(got, "time")
	want := map[string]any{
		"level":          "INFO",
		"msg":            "hello",
		"aws_request_id": "c6af9ac6-7b61-11e6-9a41-93e8deadbeef",
		"function_arn":   "arn:aws:lambda:us-east-1:123456789012:function:commit-status",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("log line (-want +got): %s", diff)
	}
}

func TestWithInvocationOutsideLambda(t *testing.T) {
	ctx := t.Context()
	if got := WithInvocation(ctx); got != ctx {
		t.Error("WithInvocation() changed a context without Lambda metadata")
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := clog.New(NewHandler(&buf, "warn"))
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info line written at warn level: %s", buf.String())
	}
	log.Warn("kept")
	if buf.Len() == 0 {
		t.Error("warn line not written at warn level")
	}
}
