// Package backend defines the Remote Client Adapter contract: a thin
// capability wrapper around a third-party service, exposed as named
// operations that return raw structured data.
//
// Implementations perform network I/O but never retry; retry policy, if
// any, belongs to the caller.
package backend

import (
	"context"
	"fmt"

	"github.com/juju/errors"
)

// Adapter invokes named operations against an initialized backend.
//
// Call returns the raw structured value (maps, slices, scalars, nil) as
// produced by the backend. It fails with an error satisfying
// errors.Is(err, proxyerr.ErrUnsupportedMethod) when method is not part of
// the capability surface, and with a *proxyerr.RemoteCallError when the
// backend itself reports a failure.
type Adapter interface {
	Call(ctx context.Context, method string, args Arguments) (any, error)
}

// Logouter is implemented by adapters that hold server-side state worth
// releasing when the persistent connection closes.
type Logouter interface {
	Logout(ctx context.Context) error
}

// Factory initializes an Adapter with credentials. Failures wrap
// proxyerr.ErrBackendUnavailable.
type Factory func(ctx context.Context, credentials string) (Adapter, error)

// Arguments are the positional and named arguments of one call.
type Arguments struct {
	Positional []any
	Named      map[string]any
}

// NewArguments bundles positional and named arguments.
func NewArguments(positional []any, named map[string]any) Arguments {
	return Arguments{Positional: positional, Named: named}
}

// Lookup returns the argument called name, falling back to the positional
// argument at position. Named arguments win when both are present; a
// negative position disables the fallback.
func (a Arguments) Lookup(position int, name string) (any, bool) {
	if v, ok := a.Named[name]; ok {
		return v, true
	}
	if position >= 0 && position < len(a.Positional) {
		return a.Positional[position], true
	}
	return nil, false
}

// RequiredString returns a required, non-empty string argument.
func (a Arguments) RequiredString(position int, name string) (string, error) {
	v, ok := a.Lookup(position, name)
	if !ok || v == nil {
		return "", errors.NotValidf("missing argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.NotValidf("argument %q of type %T", name, v)
	}
	if s == "" {
		return "", errors.NotValidf("empty argument %q", name)
	}
	return s, nil
}

// OptionalString returns a string argument, or "" when it is absent.
func (a Arguments) OptionalString(position int, name string) (string, error) {
	v, ok := a.Lookup(position, name)
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.NotValidf("argument %q of type %T", name, v)
	}
	return s, nil
}

func (a Arguments) String() string {
	return fmt.Sprintf("args=%v kwargs=%v", a.Positional, a.Named)
}
