// Package manager implements the operation manager: it owns the backend
// adapter, dispatches each call either to a locally registered (direct)
// operation or straight to the adapter (indirect passthrough), and reports
// every outcome in a uniform Envelope.
package manager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/juju/errors"

	"conn-proxy/backend"
	"conn-proxy/proxyerr"
)

// Envelope is the outcome of one manager call.
//
// When Errors is non-empty the call failed and Result must be ignored.
// When Errors is empty Result is authoritative, including a nil Result.
type Envelope struct {
	Errors   []string
	Messages []string
	Result   any
}

// Failed reports whether the envelope carries errors.
func (e Envelope) Failed() bool {
	return len(e.Errors) > 0
}

// DirectFunc is a locally implemented operation. It may make several
// adapter calls and post-process their results.
type DirectFunc func(ctx context.Context, adapter backend.Adapter, args backend.Arguments) (any, error)

// Manager dispatches operations against one adapter. It is not safe for
// concurrent use; the session serializes calls.
type Manager struct {
	factory backend.Factory
	direct  map[string]DirectFunc
	logger  *slog.Logger

	adapter  backend.Adapter
	envelope Envelope
}

// New creates a Manager that builds adapters with factory. The built-in
// direct operations are registered.
func New(factory backend.Factory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		factory: factory,
		direct:  make(map[string]DirectFunc),
		logger:  logger,
	}
	for name, fn := range builtins {
		m.direct[name] = fn
	}
	return m
}

// Register adds or replaces the direct operation called name.
func (m *Manager) Register(name string, fn DirectFunc) {
	m.direct[name] = fn
}

// IsDirect reports whether name resolves to a direct operation.
func (m *Manager) IsDirect(name string) bool {
	_, ok := m.direct[name]
	return ok
}

// Adapter returns the live adapter, or nil before a successful Initialize.
func (m *Manager) Adapter() backend.Adapter {
	return m.adapter
}

// Reset drops the adapter so the next call requires Initialize.
func (m *Manager) Reset() {
	m.adapter = nil
}

func (m *Manager) reset() {
	m.envelope = Envelope{
		Errors:   []string{},
		Messages: []string{"operation manager ready"},
	}
}

// Initialize builds a fresh adapter from credentials. On failure the
// envelope carries one error and the previous adapter is dropped.
func (m *Manager) Initialize(ctx context.Context, credentials string) Envelope {
	m.reset()
	m.adapter = nil

	adapter, err := m.factory(ctx, credentials)
	if err != nil {
		if errors.Is(err, proxyerr.ErrBackendUnavailable) {
			m.envelope.Errors = append(m.envelope.Errors,
				fmt.Sprintf("backend library unavailable for connection: %v", err))
		} else {
			m.envelope.Errors = append(m.envelope.Errors,
				fmt.Sprintf("backend initialization failed: %v", err))
		}
		return m.envelope
	}

	m.adapter = adapter
	m.envelope.Messages = append(m.envelope.Messages, "backend client initialized")
	return m.envelope
}

// Invoke runs method. A registered direct operation takes precedence;
// anything else is forwarded to the adapter by name. Backend errors and
// unknown methods are recorded in the envelope, never returned.
func (m *Manager) Invoke(ctx context.Context, method string, args backend.Arguments) Envelope {
	m.reset()
	m.envelope.Messages = append(m.envelope.Messages, "invoking "+method)

	if m.adapter == nil {
		m.envelope.Errors = append(m.envelope.Errors, "backend client is not initialized")
		return m.envelope
	}

	var (
		result any
		err    error
	)
	if fn, ok := m.direct[method]; ok {
		m.logger.Debug("dispatching direct operation", "method", method)
		result, err = fn(ctx, m.adapter, args)
	} else {
		m.logger.Debug("forwarding operation to backend", "method", method)
		result, err = m.adapter.Call(ctx, method, args)
	}

	if err != nil {
		if errors.Is(err, proxyerr.ErrUnsupportedMethod) {
			m.envelope.Errors = append(m.envelope.Errors,
				fmt.Sprintf("method %q is not available on the backend", method))
		} else {
			m.envelope.Errors = append(m.envelope.Errors, err.Error())
		}
		return m.envelope
	}

	m.envelope.Result = result
	return m.envelope
}
