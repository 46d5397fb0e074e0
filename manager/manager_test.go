package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conn-proxy/backend"
	"conn-proxy/backend/backendtest"
)

func newInitialized(t *testing.T, fake *backendtest.Backend) *Manager {
	t.Helper()
	m := New(fake.Factory, nil)
	envelope := m.Initialize(context.Background(), "good")
	require.False(t, envelope.Failed(), "initialize: %v", envelope.Errors)
	return m
}

func TestInitializeSuccess(t *testing.T) {
	m := New(backendtest.New("good").Factory, nil)

	envelope := m.Initialize(context.Background(), "good")
	assert.Empty(t, envelope.Errors)
	assert.Nil(t, envelope.Result)
	assert.Contains(t, envelope.Messages, "backend client initialized")
	assert.NotNil(t, m.Adapter())
}

func TestInitializeFailure(t *testing.T) {
	m := New(backendtest.New("good").Factory, nil)

	envelope := m.Initialize(context.Background(), "bad")
	require.Len(t, envelope.Errors, 1)
	assert.Contains(t, envelope.Errors[0], "unavailable")
	assert.Nil(t, envelope.Result)
	assert.Nil(t, m.Adapter())
}

func TestOrgReposSortedAndQualified(t *testing.T) {
	fake := backendtest.New("good")
	fake.Orgs["x"] = []string{"b", "a", "c"}
	m := newInitialized(t, fake)

	envelope := m.Invoke(context.Background(), "org_repos", backend.NewArguments(nil, map[string]any{"org": "x"}))
	require.Empty(t, envelope.Errors)
	assert.Equal(t, []string{"x/a", "x/b", "x/c"}, envelope.Result)
	assert.Equal(t, []string{"get_organization", "get_organization_repos"}, fake.Calls())
}

func TestIndirectPassthroughUnchanged(t *testing.T) {
	fake := backendtest.New("good")
	m := newInitialized(t, fake)

	envelope := m.Invoke(context.Background(), "get_user", backend.Arguments{})
	require.Empty(t, envelope.Errors)
	assert.Equal(t, fake.User, envelope.Result)
	assert.Equal(t, []string{"operation manager ready", "invoking get_user"}, envelope.Messages)
}

func TestUnknownMethodCaptured(t *testing.T) {
	m := newInitialized(t, backendtest.New("good"))

	envelope := m.Invoke(context.Background(), "get_nothing", backend.Arguments{})
	require.Len(t, envelope.Errors, 1)
	assert.Contains(t, envelope.Errors[0], `"get_nothing"`)
	assert.Nil(t, envelope.Result)
}

func TestBackendErrorCaptured(t *testing.T) {
	m := newInitialized(t, backendtest.New("good"))

	envelope := m.Invoke(context.Background(), "org_repos", backend.NewArguments([]any{"missing"}, nil))
	require.Len(t, envelope.Errors, 1)
	assert.Contains(t, envelope.Errors[0], "missing")
	assert.Nil(t, envelope.Result)
}

func TestEnvelopeResetBetweenCalls(t *testing.T) {
	m := newInitialized(t, backendtest.New("good"))

	failed := m.Invoke(context.Background(), "get_nothing", backend.Arguments{})
	require.True(t, failed.Failed())

	ok := m.Invoke(context.Background(), "whoami", backend.Arguments{})
	assert.False(t, ok.Failed())
	assert.Equal(t, "octocat", ok.Result)
}

func TestInvokeWithoutInitialize(t *testing.T) {
	m := New(backendtest.New("good").Factory, nil)

	envelope := m.Invoke(context.Background(), "get_user", backend.Arguments{})
	assert.True(t, envelope.Failed())
}

func TestRegisterOverridesPassthrough(t *testing.T) {
	m := newInitialized(t, backendtest.New("good"))
	m.Register("get_user", func(context.Context, backend.Adapter, backend.Arguments) (any, error) {
		return "local", nil
	})

	assert.True(t, m.IsDirect("get_user"))
	envelope := m.Invoke(context.Background(), "get_user", backend.Arguments{})
	assert.Equal(t, "local", envelope.Result)
}
