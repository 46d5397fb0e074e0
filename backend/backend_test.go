package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgumentsNamedWins(t *testing.T) {
	args := NewArguments([]any{"positional"}, map[string]any{"org": "named"})

	org, err := args.RequiredString(0, "org")
	require.NoError(t, err)
	assert.Equal(t, "named", org)
}

func TestArgumentsPositionalFallback(t *testing.T) {
	args := NewArguments([]any{"x"}, nil)

	org, err := args.RequiredString(0, "org")
	require.NoError(t, err)
	assert.Equal(t, "x", org)

	_, ok := args.Lookup(-1, "org")
	assert.False(t, ok)
}

func TestArgumentsErrors(t *testing.T) {
	_, err := Arguments{}.RequiredString(0, "org")
	assert.ErrorContains(t, err, `missing argument "org"`)

	_, err = NewArguments([]any{42}, nil).RequiredString(0, "org")
	assert.ErrorContains(t, err, "of type int")

	_, err = NewArguments([]any{""}, nil).RequiredString(0, "org")
	assert.ErrorContains(t, err, "empty argument")

	login, err := Arguments{}.OptionalString(0, "login")
	require.NoError(t, err)
	assert.Empty(t, login)
}
