// Package session implements the persistent connection: one backend
// adapter held open across many client calls, lazily established,
// re-established when the configured credentials change, and torn down
// on close or command timeout.
//
// A Session is driven by a single goroutine (the endpoint's dispatcher).
// Its mutex only protects the fields read by Status and Drain.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"conn-proxy/backend"
	"conn-proxy/config"
	"conn-proxy/logbridge"
	"conn-proxy/manager"
	"conn-proxy/message"
	"conn-proxy/proxyerr"
)

// CredentialsFunc returns the credentials a connection should use under
// opts. It is consulted at the top of every call.
type CredentialsFunc func(opts config.Options) (string, error)

// OptionCredentials reads credentials_token from the options.
func OptionCredentials(opts config.Options) (string, error) {
	if opts.CredentialsToken == "" {
		return "", errors.New("credentials_token is not set")
	}
	return opts.CredentialsToken, nil
}

// Config configures a Session.
type Config struct {
	// Factory initializes the backend adapter. Required.
	Factory backend.Factory

	// Direct registers additional direct operations on top of the
	// manager's built-ins.
	Direct map[string]manager.DirectFunc

	// Options are the initial options. Defaults are used when nil.
	Options *config.Options

	// Credentials defaults to OptionCredentials.
	Credentials CredentialsFunc

	// Queue, when set, receives a copy of every bridged message as it is
	// produced, in addition to the per-call buffer returned by Drain.
	Queue logbridge.Queue
}

// Status is a point-in-time snapshot of a Session.
type Status struct {
	ID          string
	State       State
	ConnectedAt time.Time
	Calls       int
}

// Map renders the snapshot as a wire value.
func (st Status) Map() map[string]any {
	out := map[string]any{
		"id":    st.ID,
		"state": st.State.String(),
		"calls": st.Calls,
	}
	if !st.ConnectedAt.IsZero() {
		out["connected_at"] = st.ConnectedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// Session is the persistent connection state machine.
type Session struct {
	id          string
	manager     *manager.Manager
	bridge      *logbridge.Bridge
	logger      *slog.Logger
	credentials CredentialsFunc
	mirror      logbridge.Queue

	options config.Options
	token   string

	mu          sync.Mutex
	state       State
	connectedAt time.Time
	calls       int
	pending     []message.LogMessage
}

// New creates a disconnected Session.
func New(cfg Config) (*Session, error) {
	if cfg.Factory == nil {
		return nil, errors.NotValidf("nil backend factory")
	}
	opts := config.Default()
	if cfg.Options != nil {
		opts = cfg.Options
	}
	credentials := cfg.Credentials
	if credentials == nil {
		credentials = OptionCredentials
	}

	s := &Session{
		id:          uuid.NewString(),
		credentials: credentials,
		mirror:      cfg.Queue,
		options:     *opts,
	}
	s.bridge = logbridge.New(logbridge.QueueFunc(s.queueMessage), s.bridgeSettings())
	s.logger = s.bridge.Logger().With("session", s.id[:8])
	s.manager = manager.New(cfg.Factory, s.logger)
	for name, fn := range cfg.Direct {
		s.manager.Register(name, fn)
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Logger returns the session-owned logger. Records written to it reach
// the message queue.
func (s *Session) Logger() *slog.Logger { return s.logger }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot for the status endpoint method.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:          s.id,
		State:       s.state,
		ConnectedAt: s.connectedAt,
		Calls:       s.calls,
	}
}

// Options returns a copy of the current options.
func (s *Session) Options() config.Options { return s.options }

// SetOptions replaces the current options and reconfigures the session
// logger. New credentials take effect on the next call.
func (s *Session) SetOptions(opts config.Options) {
	s.options = opts
	s.bridge.Configure(s.bridgeSettings())
	s.logger.Debug("options updated", "verbosity", opts.Verbosity, "log_file_only", opts.LogFileOnly)
}

// Drain returns and clears the messages queued since the last Drain.
func (s *Session) Drain() []message.LogMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// Connect establishes the backend connection if it is not already
// established with the current credentials.
func (s *Session) Connect(ctx context.Context) error {
	token, err := s.currentCredentials(ctx)
	if err != nil {
		return err
	}
	return s.ensureConnected(ctx, token)
}

// Exec runs method on the connected backend, connecting first when
// needed. Envelope errors become a *proxyerr.RemoteCallError. When the
// command timeout expires the session is closed and a
// *proxyerr.ConnectionFailure is returned.
func (s *Session) Exec(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error) {
	token, err := s.currentCredentials(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ensureConnected(ctx, token); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.options.LogMessages {
		s.logger.Debug("request received", "method", method, "args", args, "kwargs", kwargs)
	}

	cctx, cancel := context.WithTimeout(ctx, s.options.CommandTimeoutDuration())
	defer cancel()
	envelope := s.manager.Invoke(cctx, method, backend.NewArguments(args, kwargs))
	s.relay(envelope)

	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		s.logger.Error("command timeout triggered", "method", method, "timeout", s.options.CommandTimeout)
		if err := s.Close(ctx); err != nil {
			s.logger.Warn("closing after timeout", "err", err)
		}
		return nil, proxyerr.NewConnectionFailure("command timeout triggered")
	}
	if envelope.Failed() {
		return nil, proxyerr.NewRemoteCallError(method, envelope.Errors...)
	}
	if s.options.LogMessages {
		s.logger.Debug("response ready", "method", method,
			"response", logbridge.Truncate(fmt.Sprintf("%v", envelope.Result), s.options.LogMessageMaxLength))
	}
	return envelope.Result, nil
}

// Close tears the connection down. Logout failures are logged, not
// returned. Closing a session that holds no backend adapter does nothing
// beyond settling the state to Disconnected.
func (s *Session) Close(ctx context.Context) error {
	if s.manager.Adapter() == nil {
		s.setState(Disconnected)
		return nil
	}
	s.setState(Closing)
	s.release(ctx)

	s.setState(Disconnected)
	s.logger.Info("connection closed")
	return nil
}

// release logs out of the live adapter (best effort) and drops it.
func (s *Session) release(ctx context.Context) {
	if lo, ok := s.manager.Adapter().(backend.Logouter); ok {
		if err := lo.Logout(ctx); err != nil {
			s.logger.Warn("backend logout failed", "err", err)
		}
	}
	s.manager.Reset()
	s.token = ""
	s.mu.Lock()
	s.connectedAt = time.Time{}
	s.mu.Unlock()
}

// currentCredentials reads the configured credentials and drops a live
// connection that was established with different ones. When no
// credentials can be read, a live connection is released before the
// session fails.
func (s *Session) currentCredentials(ctx context.Context) (string, error) {
	token, err := s.credentials(s.options)
	if err != nil {
		if s.manager.Adapter() != nil {
			s.release(ctx)
		}
		s.setState(Failed)
		s.logger.Error("reading credentials", "err", err)
		return "", proxyerr.NewConnectionFailure(err.Error())
	}
	if s.State() == Connected && token != s.token {
		s.manager.Reset()
		s.token = ""
		s.setState(Disconnected)
		s.logger.Info("credentials changed, connection reset")
	}
	return token, nil
}

func (s *Session) ensureConnected(ctx context.Context, token string) error {
	if s.State() == Connected {
		return nil
	}
	s.setState(Connecting)

	cctx, cancel := context.WithTimeout(ctx, s.options.ConnectTimeoutDuration())
	defer cancel()
	envelope := s.manager.Initialize(cctx, token)
	s.relay(envelope)
	if envelope.Failed() {
		s.setState(Failed)
		return proxyerr.NewConnectionFailure(envelope.Errors...)
	}

	s.token = token
	s.mu.Lock()
	s.state = Connected
	s.connectedAt = time.Now()
	s.mu.Unlock()
	s.logger.Info("connection established")
	return nil
}

func (s *Session) relay(envelope manager.Envelope) {
	for _, msg := range envelope.Messages {
		s.logger.Debug(msg)
	}
	for _, msg := range envelope.Errors {
		s.logger.Error(msg)
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) queueMessage(tag, text string) {
	s.mu.Lock()
	s.pending = append(s.pending, message.LogMessage{Tag: tag, Text: text})
	s.mu.Unlock()
	if s.mirror != nil {
		s.mirror.QueueMessage(tag, text)
	}
}

func (s *Session) bridgeSettings() logbridge.Settings {
	return logbridge.Settings{
		Verbosity:  s.options.Verbosity,
		FileOnly:   s.options.LogFileOnly,
		MaxLength:  s.options.LogMessageMaxLength,
		LoggerName: fmt.Sprintf("pid=%d", os.Getpid()),
	}
}
