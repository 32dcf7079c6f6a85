package index_test

import (
	"testing"

	"github.com/jpl-au/memd/internal/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "default"},
		{"default", "default"},
		{"My Docs", "my-docs"},
		{"a/b\\c.d_e:f|g", "a-b-c-d-e-f-g"},
		{"  spaced   out  ", "spaced-out"},
		{"UPPER", "upper"},
		{"already-normal-1", "already-normal-1"},
		{"...dots...", "dots"},
	}
	for _, c := range cases {
		got, err := index.Normalize(c.in, "")
		require.NoError(t, err, "input %q", c.in)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"My Docs", "a/b/c", "  x  ", "", "plain"}
	for _, in := range inputs {
		once, err := index.Normalize(in, "")
		require.NoError(t, err)
		twice, err := index.Normalize(once, "")
		require.NoError(t, err)
		assert.Equal(t, once, twice)
		assert.Regexp(t, `^[a-z0-9-]+$`, once)
	}
}

func TestNormalize_Fallback(t *testing.T) {
	got, err := index.Normalize("", "My Default")
	require.NoError(t, err)
	assert.Equal(t, "my-default", got)
}

func TestNormalize_Invalid(t *testing.T) {
	for _, in := range []string{"no,commas", "émoji", "bad!", "---"} {
		_, err := index.Normalize(in, "")
		assert.ErrorIs(t, err, index.ErrInvalidName, "input %q", in)
	}
}
