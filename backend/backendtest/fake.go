// Package backendtest provides an in-memory backend for exercising the
// session and endpoint without network access.
package backendtest

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"

	"conn-proxy/backend"
	"conn-proxy/proxyerr"
)

// Backend is a scripted dataset plus counters. Its Factory hands out
// adapters that serve the dataset to tokens listed in ValidTokens.
type Backend struct {
	mu sync.Mutex

	// ValidTokens lists the credentials the factory accepts. Any other
	// token fails initialization with proxyerr.ErrBackendUnavailable.
	ValidTokens map[string]bool

	// User is returned by get_user.
	User map[string]any

	// Orgs maps an organization login to its repository names.
	Orgs map[string][]string

	// Delay is applied to every call, honoring ctx.
	Delay time.Duration

	// LogoutErr is returned by Logout.
	LogoutErr error

	inits   []string
	calls   []string
	logouts int
}

// New returns a Backend that accepts the given tokens.
func New(tokens ...string) *Backend {
	valid := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		valid[token] = true
	}
	return &Backend{
		ValidTokens: valid,
		User:        map[string]any{"login": "octocat", "id": 1, "type": "User"},
		Orgs:        map[string][]string{},
	}
}

// Factory is the backend.Factory for this Backend.
func (b *Backend) Factory(_ context.Context, credentials string) (backend.Adapter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inits = append(b.inits, credentials)
	if !b.ValidTokens[credentials] {
		return nil, errors.Annotatef(proxyerr.ErrBackendUnavailable, "token %q rejected", credentials)
	}
	return &Adapter{backend: b, token: credentials}, nil
}

// Inits returns the credentials of every initialization attempt, in order.
func (b *Backend) Inits() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.inits...)
}

// Calls returns the method names invoked on any adapter, in order.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// SetDelay changes Delay while adapters may be in use.
func (b *Backend) SetDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Delay = d
}

// Logouts returns how many times an adapter was logged out.
func (b *Backend) Logouts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logouts
}

// Adapter serves a Backend's dataset.
type Adapter struct {
	backend *Backend
	token   string
}

// Token returns the credentials the adapter was initialized with.
func (a *Adapter) Token() string {
	return a.token
}

func (a *Adapter) Call(ctx context.Context, method string, args backend.Arguments) (any, error) {
	b := a.backend
	b.mu.Lock()
	b.calls = append(b.calls, method)
	delay := b.Delay
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch method {
	case "get_user":
		return b.User, nil
	case "get_organization":
		org, err := args.RequiredString(0, "org")
		if err != nil {
			return nil, proxyerr.WrapRemoteCall(method, err)
		}
		if _, ok := b.Orgs[org]; !ok {
			return nil, proxyerr.WrapRemoteCall(method, errors.NotFoundf("organization %q", org))
		}
		return map[string]any{"login": org, "type": "Organization"}, nil
	case "get_organization_repos":
		org, err := args.RequiredString(0, "org")
		if err != nil {
			return nil, proxyerr.WrapRemoteCall(method, err)
		}
		repos, ok := b.Orgs[org]
		if !ok {
			return nil, proxyerr.WrapRemoteCall(method, errors.NotFoundf("organization %q", org))
		}
		result := make([]any, 0, len(repos))
		for _, name := range repos {
			result = append(result, map[string]any{"name": name, "full_name": org + "/" + name})
		}
		return result, nil
	}
	return nil, errors.Annotatef(proxyerr.ErrUnsupportedMethod, "fake backend has no method %q", method)
}

func (a *Adapter) Logout(context.Context) error {
	b := a.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logouts++
	return b.LogoutErr
}
