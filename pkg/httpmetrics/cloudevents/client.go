/*
Copyright 2022 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package cloudevents

import (
	"net/http"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"

	metrics "github.com/chainguard-dev/pipeline-hooks/pkg/httpmetrics"
)

// NewClientHTTP creates a CloudEvents HTTP client whose outbound requests
// and inbound handler are both instrumented under the given handler name.
func NewClientHTTP(name string, opts ...cehttp.Option) (cloudevents.Client, error) {
	// If we don't specify a client, NewClientHTTP will use http.DefaultClient
	// and may clobber its Transport. To avoid so, we pass a client with the
	// the metrics transport instead.
	metricsClient := http.Client{
		Transport: metrics.Transport,
	}
	copt := append([]cehttp.Option{
		cehttp.WithClient(metricsClient),
		cloudevents.WithMiddleware(func(next http.Handler) http.Handler {
			return metrics.Handler(name, next)
		})}, opts...)
	return cloudevents.NewClientHTTP(copt...)
}
