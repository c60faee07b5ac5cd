/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package repohost

import "strings"

// Kind identifies an externally hosted code repository service.
type Kind string

const (
	GitHub    Kind = "github"
	Bitbucket Kind = "bitbucket"
)

// ParseKind matches s case-insensitively against the supported hosts.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case GitHub, Bitbucket:
		return k, true
	default:
		return "", false
	}
}

func (k Kind) String() string { return string(k) }
