/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package repohost

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"
)

const (
	// Bitbucket rejects build status keys longer than this.
	maxBuildKeyLength = 40
	keyDigestLength   = 16

	defaultBuildKey = "AWS-PIPELINE-BUILD"
)

// BuildKey derives the Bitbucket build status key for a build name.
//
// Names that fit are used verbatim. Longer names keep a readable prefix and
// are suffixed with a SHA-256 digest of the full name, so two builds that
// only differ after the first 40 characters still get distinct keys.
func BuildKey(buildName string) string {
	if buildName == "" {
		return defaultBuildKey
	}
	if len(buildName) <= maxBuildKeyLength {
		return buildName
	}

	sum := sha256.Sum256([]byte(buildName))
	digest := hex.EncodeToString(sum[:])[:keyDigestLength]

	prefix := buildName[:maxBuildKeyLength-keyDigestLength-1]
	for !utf8.ValidString(prefix) {
		prefix = prefix[:len(prefix)-1]
	}
	return prefix + "-" + digest
}
