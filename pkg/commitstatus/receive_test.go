/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package commitstatus

import (
	"errors"
	"net/http"
	"testing"

	"github.com/chainguard-dev/clog/slogtest"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
)

func cloudEvent(t *testing.T, data []byte) cloudevents.Event {
	t.Helper()
	ev := cloudevents.NewEvent()
	ev.SetID("evt-1")
	ev.SetType("aws.codebuild.state-change")
	ev.SetSource("aws.codebuild")
	if err := ev.SetData(cloudevents.ApplicationJSON, data); err != nil {
		t.Fatalf("SetData() = %v", err)
	}
	return ev
}

func TestReceive(t *testing.T) {
	for _, tc := range []struct {
		name       string
		status     int
		data       []byte
		wantPosts  int
		wantStatus int
	}{{
		name:      "relayed",
		status:    http.StatusCreated,
		data:      codeBuildEvent("IN_PROGRESS"),
		wantPosts: 1,
	}, {
		name:      "unmapped state",
		status:    http.StatusCreated,
		data:      codeBuildEvent("TIMED_OUT"),
		wantPosts: 0,
	}, {
		name:      "pipeline stage event",
		status:    http.StatusCreated,
		data:      []byte(`{"detail": {"pipeline": "main", "execution-id": "e", "stage": "Deploy", "state": "FAILED"}}`),
		wantPosts: 0,
	}, {
		name:       "unrecognized event",
		status:     http.StatusCreated,
		data:       []byte(`{"hello": "world"}`),
		wantStatus: http.StatusBadRequest,
	}, {
		name:       "host failure",
		status:     http.StatusBadGateway,
		data:       codeBuildEvent("SUCCEEDED"),
		wantPosts:  1,
		wantStatus: http.StatusInternalServerError,
	}} {
		t.Run(tc.name, func(t *testing.T) {
			srv := newHostServer(t, tc.status)
			r := newRelay(t, "github", srv, &fakeTokens{token: "t"})

			res := r.Receive(slogtest.Context(t), cloudEvent(t, tc.data))
			if tc.wantStatus == 0 {
				if !cloudevents.IsACK(res) {
					t.Errorf("Receive() = %v, want ACK", res)
				}
			} else {
				var httpResult *cehttp.Result
				if !errors.As(res, &httpResult) || httpResult.StatusCode != tc.wantStatus {
					t.Errorf("Receive() = %v, want status %d", res, tc.wantStatus)
				}
			}
			if n := len(srv.requests()); n != tc.wantPosts {
				t.Errorf("got %d posts, want %d", n, tc.wantPosts)
			}
		})
	}
}
