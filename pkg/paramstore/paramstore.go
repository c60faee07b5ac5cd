/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package paramstore reads repository access tokens from AWS Systems Manager
// Parameter Store. Values are fetched on every call and never cached or
// logged, so a rotated token takes effect on the next invocation.
package paramstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
	"github.com/chainguard-dev/clog"
)

// SSM error codes mapped onto sentinel errors.
const (
	codeParameterNotFound = "ParameterNotFound"
	codeAccessDenied      = "AccessDeniedException"
)

var (
	// ErrParameterNotFound is returned when the named parameter does not exist.
	ErrParameterNotFound = errors.New("parameter not found")

	// ErrParameterEmpty is returned when the parameter exists but holds no value.
	ErrParameterEmpty = errors.New("parameter value is empty")

	// ErrAccessDenied is returned when the function role may not read or
	// decrypt the parameter.
	ErrAccessDenied = errors.New("access denied to parameter")
)

// API is the subset of the SSM client used here.
type API interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Store reads SecureString parameters.
type Store struct {
	api API
}

// New wraps an SSM client.
func New(api API) *Store {
	return &Store{api: api}
}

// NewFromConfig creates a Store with an SSM client built from cfg.
func NewFromConfig(cfg aws.Config) *Store {
	return New(ssm.NewFromConfig(cfg))
}

// Get returns the decrypted value of the named parameter.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("parameter name cannot be empty")
	}
	log := clog.FromContext(ctx).With("parameter", name)

	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case codeParameterNotFound:
				return "", fmt.Errorf("%w: %s", ErrParameterNotFound, name)
			case codeAccessDenied:
				return "", fmt.Errorf("%w: %s", ErrAccessDenied, name)
			}
		}
		log.Errorf("Failed to read parameter: %v", err)
		return "", fmt.Errorf("reading parameter %s: %w", name, err)
	}

	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("%w: %s", ErrParameterEmpty, name)
	}
	log.Debug("Read parameter")
	return aws.ToString(out.Parameter.Value), nil
}
