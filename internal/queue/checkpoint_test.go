package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointOrdering(t *testing.T) {
	first := First()
	assert.Equal(t, Checkpoint{}, first)

	// Next and NextMajor both move strictly forward.
	assert.Equal(t, 1, first.Next().Compare(first))
	assert.Equal(t, 1, first.NextMajor().Compare(first))
	assert.Equal(t, 1, first.NextMajor().Compare(first.Next()))

	// Minor resets when a new major cycle opens.
	c := Checkpoint{Major: 2, Minor: 9}
	assert.Equal(t, Checkpoint{Major: 3}, c.NextMajor())
	assert.Equal(t, Checkpoint{Major: 2, Minor: 10}, c.Next())

	assert.Equal(t, 0, c.Compare(Checkpoint{Major: 2, Minor: 9}))
	assert.Equal(t, -1, c.Compare(Checkpoint{Major: 3}))
	assert.Equal(t, 1, c.Compare(Checkpoint{Major: 2, Minor: 8}))
	assert.Equal(t, -1, Checkpoint{Major: 1, Minor: 500}.Compare(Checkpoint{Major: 2}))
}

func TestTokenRoundTrip(t *testing.T) {
	for _, c := range []Checkpoint{
		First(),
		{Major: 1, Minor: 0},
		{Major: 42, Minor: 7},
	} {
		parsed, err := ParseToken(c.Token())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "bogus", "{major:}", "42"} {
		_, err := ParseToken(token)
		assert.Error(t, err, "token %q", token)
	}
}
