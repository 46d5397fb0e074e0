// Package server implements the persistent endpoint: it owns the session
// and serves it on a unix socket to short-lived client invocations.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine reads frames per connection)
//	  → calls queue → dispatchLoop (one goroutine for the whole endpoint)
//	    → middleware chain → handle (session method) → write response
//
// Calls from every connection are run one at a time in arrival order. The
// session is created lazily by the first call and closed on shutdown.
package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"

	"conn-proxy/backend"
	"conn-proxy/codec"
	"conn-proxy/config"
	"conn-proxy/logbridge"
	"conn-proxy/manager"
	"conn-proxy/message"
	"conn-proxy/middleware"
	"conn-proxy/protocol"
	"conn-proxy/proxyerr"
	"conn-proxy/registry"
	"conn-proxy/session"
)

// RegistryTTL is the lease, in seconds, of a registry advertisement.
const RegistryTTL = 10

// Config configures a Server.
type Config struct {
	// SocketPath is where the endpoint listens. Required.
	SocketPath string

	// Connection names the connection in the registry.
	Connection string

	// Options seed the session. Defaults are used when nil.
	Options *config.Options

	// Factory initializes the backend adapter. Required.
	Factory backend.Factory

	// Direct adds direct operations to the session's manager.
	Direct map[string]manager.DirectFunc

	// Registry, when set, advertises the endpoint while it serves.
	Registry registry.Registry

	// Queue, when set, receives a copy of every session message.
	Queue logbridge.Queue

	// IdleTimeout stops Serve when no call arrives for this long. Zero
	// uses the connect timeout from the current options; negative
	// disables idle shutdown.
	IdleTimeout time.Duration

	// ShutdownTimeout bounds the wait for queued calls on shutdown.
	// Defaults to 10s.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// call is one decoded request waiting for the dispatcher.
type call struct {
	header  *protocol.Header
	req     *message.Request
	conn    net.Conn
	writeMu *sync.Mutex
}

// Server is the socket endpoint.
type Server struct {
	cfg    Config
	logger *slog.Logger

	listener    net.Listener
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	// Owned by the dispatcher goroutine.
	session *session.Session
	options config.Options

	calls    chan *call
	stop     chan struct{}
	stopped  chan struct{}
	idle     chan struct{}
	idleOnce sync.Once
	quit     chan struct{}
	quitOnce sync.Once

	// admitMu orders admission of calls against the shutdown flag.
	admitMu  sync.Mutex
	wg       sync.WaitGroup // queued and running calls
	shutdown atomic.Bool

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewServer validates cfg and returns an unstarted Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, errors.NotValidf("empty socket path")
	}
	if cfg.Factory == nil {
		return nil, errors.NotValidf("nil backend factory")
	}
	if cfg.Connection == "" {
		cfg.Connection = "default"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := config.Default()
	if cfg.Options != nil {
		opts = cfg.Options
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.With("socket", cfg.SocketPath),
		options: *opts,
		calls:   make(chan *call, 64),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		idle:    make(chan struct{}),
		quit:    make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// Use registers a middleware. Middlewares apply in the order added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// RequestTimeout is the hard cap for one call under the current options:
// a full connect plus a full command.
func (svr *Server) RequestTimeout() time.Duration {
	return svr.options.ConnectTimeoutDuration() + svr.options.CommandTimeoutDuration()
}

// Serve listens on the socket and handles calls until ctx is done, the
// endpoint has been idle for the idle timeout, or Shutdown is called. A
// stale socket file is replaced; the file is removed on return.
func (svr *Server) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(svr.cfg.SocketPath), 0o700); err != nil {
		return errors.Annotate(err, "creating socket directory")
	}
	if err := os.Remove(svr.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return errors.Annotatef(err, "removing stale socket %s", svr.cfg.SocketPath)
	}
	listener, err := net.Listen("unix", svr.cfg.SocketPath)
	if err != nil {
		return errors.Annotatef(err, "listening on %s", svr.cfg.SocketPath)
	}
	svr.listener = listener

	// Chain(A, B)(handle) → A(B(handle))
	svr.handler = middleware.Chain(svr.middlewares...)(svr.handle)

	if svr.cfg.Registry != nil {
		instance := registry.Instance{
			Connection: svr.cfg.Connection,
			SocketPath: svr.cfg.SocketPath,
			PID:        os.Getpid(),
			Codec:      svr.options.Codec,
		}
		if err := svr.cfg.Registry.Register(ctx, instance, RegistryTTL); err != nil {
			svr.logger.Warn("registry advertisement failed", "connection", svr.cfg.Connection, "error", err)
		}
	}

	go svr.dispatchLoop()
	acceptErr := make(chan error, 1)
	go func() { acceptErr <- svr.acceptLoop() }()

	svr.logger.Info("endpoint listening", "connection", svr.cfg.Connection)

	var serveErr error
	select {
	case <-ctx.Done():
		svr.logger.Info("endpoint stopping", "reason", "context done")
	case <-svr.idle:
		svr.logger.Info("endpoint stopping", "reason", "idle timeout")
	case <-svr.quit:
	case serveErr = <-acceptErr:
		svr.logger.Error("accept failed", "error", serveErr)
	}

	if err := svr.Shutdown(svr.cfg.ShutdownTimeout); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

func (svr *Server) acceptLoop() error {
	for {
		conn, err := svr.listener.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected.
			if svr.shutdown.Load() {
				return nil
			}
			return errors.Trace(err)
		}
		svr.connsMu.Lock()
		svr.conns[conn] = struct{}{}
		svr.connsMu.Unlock()
		go svr.handleConn(conn)
	}
}

// handleConn reads frames from one client connection and queues each
// request for the dispatcher. Responses share the connection's write lock.
func (svr *Server) handleConn(conn net.Conn) {
	defer func() {
		conn.Close()
		svr.connsMu.Lock()
		delete(svr.conns, conn)
		svr.connsMu.Unlock()
	}()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !svr.shutdown.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				svr.logger.Debug("closing client connection", "error", err)
			}
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		if header.MsgType != protocol.MsgTypeRequest {
			continue
		}

		var req message.Request
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, &req); err != nil {
			svr.writeResponse(conn, writeMu, header, message.ErrorResponse("", proxyerr.CodeBadRequest,
				errors.Annotate(err, "decoding request").Error()))
			continue
		}
		if req.Method == "" {
			svr.writeResponse(conn, writeMu, header, message.ErrorResponse("", proxyerr.CodeBadRequest, "missing method"))
			continue
		}

		if !svr.admit(&call{header: header, req: &req, conn: conn, writeMu: writeMu}) {
			svr.writeResponse(conn, writeMu, header, shuttingDown(req.Method))
		}
	}
}

// admit queues c for the dispatcher unless shutdown has begun. The send
// happens under admitMu, so once doShutdown has set the flag every
// admitted call is already counted and queued.
func (svr *Server) admit(c *call) bool {
	svr.admitMu.Lock()
	defer svr.admitMu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(1)
	svr.calls <- c
	return true
}

func shuttingDown(method string) *message.Response {
	return message.ErrorResponse(method, proxyerr.CodeConnectionFailure, "endpoint shutting down")
}

// dispatchLoop runs calls one at a time. It also owns the idle timer and
// the session, which it closes on exit.
func (svr *Server) dispatchLoop() {
	defer close(svr.stopped)

	idle := time.NewTimer(time.Hour)
	idle.Stop()
	if d := svr.idleTimeout(); d > 0 {
		idle.Reset(d)
	}
	defer idle.Stop()

	for {
		select {
		case c := <-svr.calls:
			idle.Stop()
			svr.runCall(c)
			if d := svr.idleTimeout(); d > 0 {
				idle.Reset(d)
			}
		case <-idle.C:
			svr.idleOnce.Do(func() { close(svr.idle) })
		case <-svr.stop:
			svr.rejectQueued()
			if svr.session != nil {
				ctx, cancel := context.WithTimeout(context.Background(), svr.options.CommandTimeoutDuration())
				if err := svr.session.Close(ctx); err != nil {
					svr.logger.Warn("closing session", "error", err)
				}
				cancel()
			}
			return
		}
	}
}

// rejectQueued answers calls still queued when the dispatcher stops.
func (svr *Server) rejectQueued() {
	for {
		select {
		case c := <-svr.calls:
			svr.writeResponse(c.conn, c.writeMu, c.header, shuttingDown(c.req.Method))
			svr.wg.Done()
		default:
			return
		}
	}
}

func (svr *Server) runCall(c *call) {
	defer svr.wg.Done()
	resp := svr.handler(context.Background(), c.req)
	if svr.session != nil {
		resp.Messages = append(resp.Messages, svr.session.Drain()...)
	}
	svr.writeResponse(c.conn, c.writeMu, c.header, resp)
}

func (svr *Server) idleTimeout() time.Duration {
	if svr.cfg.IdleTimeout != 0 {
		return svr.cfg.IdleTimeout
	}
	return svr.options.ConnectTimeoutDuration()
}

// writeResponse encodes resp with the request's codec and echoes its seq.
func (svr *Server) writeResponse(conn net.Conn, writeMu *sync.Mutex, header *protocol.Header, resp *message.Response) {
	c := codec.GetCodec(codec.CodecType(header.CodecType))
	body, err := c.Encode(resp)
	if err != nil {
		svr.logger.Error("encoding response", "method", resp.Method, "error", err)
		body, err = c.Encode(message.ErrorResponse(resp.Method, proxyerr.CodeInternal, "response not encodable"))
		if err != nil {
			return
		}
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
	}
	if err := protocol.Encode(conn, &replyHeader, body); err != nil {
		svr.logger.Debug("writing response", "method", resp.Method, "error", err)
	}
}

// Shutdown stops the endpoint:
//  1. Deregister from the registry so new clients stop finding it
//  2. Close the listener
//  3. Wait up to timeout for queued calls
//  4. Stop the dispatcher, which closes the session
//  5. Close client connections and remove the socket file
//
// It is safe to call more than once and from any goroutine.
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.quitOnce.Do(func() { close(svr.quit) })
	svr.shutdownOnce.Do(func() {
		svr.shutdownErr = svr.doShutdown(timeout)
	})
	return svr.shutdownErr
}

func (svr *Server) doShutdown(timeout time.Duration) error {
	if svr.cfg.Registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := svr.cfg.Registry.Deregister(ctx, svr.cfg.Connection, svr.cfg.SocketPath); err != nil {
			svr.logger.Warn("registry deregistration failed", "error", err)
		}
		cancel()
	}

	// Set the flag before closing, so acceptLoop sees it on its error.
	svr.admitMu.Lock()
	svr.shutdown.Store(true)
	svr.admitMu.Unlock()
	if svr.listener == nil {
		return nil
	}
	svr.listener.Close()

	var err error
	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.Errorf("timeout waiting for queued calls to finish")
	}

	close(svr.stop)
	<-svr.stopped

	svr.connsMu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.connsMu.Unlock()

	if rmErr := os.Remove(svr.cfg.SocketPath); rmErr != nil && !os.IsNotExist(rmErr) {
		svr.logger.Debug("removing socket", "error", rmErr)
	}
	svr.logger.Info("endpoint stopped")
	return err
}
