/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package pushevent reduces GitHub and Bitbucket push webhook payloads to the
// branch, deletion and commit a mirror needs.
package pushevent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/go-github/v75/github"

	"github.com/chainguard-dev/pipeline-hooks/pkg/repohost"
)

const (
	branchRefPrefix = "refs/heads/"
	zeroSHA         = "0000000000000000000000000000000000000000"
)

var skipMarkers = []string{"[skip ci]", "[ci skip]", "[no ci]", "[skip-ci]", "[ci-skip]", "[no-ci]"}

// Push is a push to a repository.
type Push struct {
	// Branch is empty when the push did not touch a branch, e.g. a tag.
	Branch  string
	Deleted bool
	// CommitSHA is the newest pushed commit that does not ask to skip CI.
	// It is empty for deletions and for pushes where every commit skips CI.
	CommitSHA string
}

// IsBranch reports whether the push created, updated or deleted a branch.
func (p Push) IsBranch() bool { return p.Branch != "" }

// SkipsCI reports whether a commit message opts out of CI.
func SkipsCI(message string) bool {
	for _, m := range skipMarkers {
		if strings.Contains(message, m) {
			return true
		}
	}
	return false
}

// Parse decodes a push webhook body delivered by the named host.
func Parse(host string, body []byte) (Push, error) {
	kind, ok := repohost.ParseKind(host)
	if !ok {
		return Push{}, fmt.Errorf("%w: %q", repohost.ErrUnsupportedHost, host)
	}
	switch kind {
	case repohost.GitHub:
		return parseGitHub(body)
	case repohost.Bitbucket:
		return parseBitbucket(body)
	default:
		return Push{}, fmt.Errorf("%w: %q", repohost.ErrUnsupportedHost, host)
	}
}

// https://docs.github.com/en/webhooks/webhook-events-and-payloads#push
func parseGitHub(body []byte) (Push, error) {
	var ev github.PushEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Push{}, fmt.Errorf("decoding github push: %w", err)
	}
	branch, ok := strings.CutPrefix(ev.GetRef(), branchRefPrefix)
	if !ok {
		return Push{}, nil
	}
	p := Push{Branch: branch, Deleted: ev.GetDeleted()}
	if p.Deleted {
		return p, nil
	}

	// Commits are listed oldest first.
	for i := len(ev.Commits) - 1; i >= 0; i-- {
		if c := ev.Commits[i]; !SkipsCI(c.GetMessage()) {
			p.CommitSHA = c.GetID()
			return p, nil
		}
	}
	// A new branch pointing at an existing commit carries no commits.
	if len(ev.Commits) == 0 && ev.GetAfter() != zeroSHA {
		p.CommitSHA = ev.GetAfter()
	}
	return p, nil
}

// https://support.atlassian.com/bitbucket-cloud/docs/event-payloads/#Push
type bitbucketPush struct {
	Push struct {
		Changes []bitbucketChange `json:"changes"`
	} `json:"push"`
}

type bitbucketChange struct {
	New     *bitbucketRef `json:"new"`
	Old     *bitbucketRef `json:"old"`
	Closed  bool          `json:"closed"`
	Commits []struct {
		Hash    string `json:"hash"`
		Message string `json:"message"`
	} `json:"commits"`
}

type bitbucketRef struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

func (c bitbucketChange) newBranch() bool { return c.New != nil && c.New.Type == "branch" }

func (c bitbucketChange) closedBranch() bool {
	return c.Closed && c.Old != nil && c.Old.Type == "branch"
}

func parseBitbucket(body []byte) (Push, error) {
	var ev bitbucketPush
	if err := json.Unmarshal(body, &ev); err != nil {
		return Push{}, fmt.Errorf("decoding bitbucket push: %w", err)
	}
	for _, c := range ev.Push.Changes {
		if !c.newBranch() {
			continue
		}
		p := Push{Branch: c.New.Name}
		// Commits are listed newest first.
		for _, commit := range c.Commits {
			if !SkipsCI(commit.Message) {
				p.CommitSHA = commit.Hash
				break
			}
		}
		return p, nil
	}
	for _, c := range ev.Push.Changes {
		if c.closedBranch() {
			return Push{Branch: c.Old.Name, Deleted: true}, nil
		}
	}
	return Push{}, nil
}
