/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package repohost

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnsupportedHost is returned whenever a host kind has no implementation.
	ErrUnsupportedHost = errors.New("unsupported repository host")

	// ErrInvalidWebhookID is returned when an id cannot name a webhook on the host.
	ErrInvalidWebhookID = errors.New("invalid webhook id")
)

// APIError describes a non-2xx response from a repository host.
type APIError struct {
	Host       Kind
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unable to %s on %s. Status: %d, response: %s", e.Operation, e.Host, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is an APIError carrying a 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
