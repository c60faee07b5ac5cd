/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package repohost

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBuildKey(t *testing.T) {
	exact := strings.Repeat("a", 40)
	long := "feature-branch-deployment-for-a-very-long-project-name"

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: "AWS-PIPELINE-BUILD"},
		{name: "short", in: "my-build", want: "my-build"},
		{name: "exactly the limit", in: exact, want: exact},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildKey(tt.in); got != tt.want {
				t.Errorf("BuildKey(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	t.Run("long", func(t *testing.T) {
		got := BuildKey(long)
		if len(got) != 40 {
			t.Errorf("len(BuildKey(%q)) = %d, want 40", long, len(got))
		}
		if !strings.HasPrefix(got, long[:23]+"-") {
			t.Errorf("BuildKey(%q) = %q, want readable prefix %q", long, got, long[:23])
		}
		if again := BuildKey(long); again != got {
			t.Errorf("BuildKey is not deterministic: %q != %q", again, got)
		}
	})

	t.Run("shared prefix", func(t *testing.T) {
		base := strings.Repeat("x", 40)
		a, b := BuildKey(base+"-one"), BuildKey(base+"-two")
		if a == b {
			t.Errorf("BuildKey collided for names sharing a 40 character prefix: %q", a)
		}
	})

	t.Run("multibyte", func(t *testing.T) {
		name := strings.Repeat("é", 30)
		got := BuildKey(name)
		if !utf8.ValidString(got) {
			t.Errorf("BuildKey(%q) = %q is not valid UTF-8", name, got)
		}
		if len(got) > 40 {
			t.Errorf("len(BuildKey(%q)) = %d, want <= 40", name, len(got))
		}
	})
}
