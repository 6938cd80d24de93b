package lanceserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeProjectSlug(t *testing.T) {
	cases := map[string]string{
		"Big Buck Bunny":  "big_buck_bunny",
		"Foo/Bar::Baz":    "foo_bar_baz",
		"  leading space": "leading_space",
		"already_safe":    "already_safe",
		"!!!":              "project",
	}
	for in, want := range cases {
		require.Equal(t, want, SafeProjectSlug(in), "input %q", in)
	}
}

func TestSafeProjectSlug_Deterministic(t *testing.T) {
	require.Equal(t, SafeProjectSlug("Same Name"), SafeProjectSlug("Same Name"))
}
