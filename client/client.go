// Package client is used by short-lived task invocations to reach the
// persistent endpoint for their connection.
//
// Every operation request carries the client's resolved options, which the
// endpoint applies in the same dispatch step as the call, so the call runs
// with the invocation's current credentials even when other clients share
// the endpoint. Messages the session queued while handling a call are
// relayed to the invocation's own message queue.
package client

import (
	"context"
	"time"

	"github.com/juju/errors"

	"conn-proxy/codec"
	"conn-proxy/config"
	"conn-proxy/logbridge"
	"conn-proxy/message"
	"conn-proxy/proxyerr"
	"conn-proxy/registry"
	"conn-proxy/transport"
)

// dialInterval is the pause between attempts while waiting for the
// endpoint socket to appear.
const dialInterval = 50 * time.Millisecond

// Config configures a Client.
type Config struct {
	// SocketPath of the endpoint. When empty, Registry resolves
	// Connection to a socket.
	SocketPath string
	Connection string
	Registry   registry.Registry

	Codec codec.CodecType

	// Options are forwarded before each call. Nil sends nothing and the
	// endpoint keeps whatever options it has.
	Options *config.Options

	// Queue receives relayed session messages. Nil drops them.
	Queue logbridge.Queue

	// DialTimeout bounds the wait for the socket. Defaults to the
	// options' connect timeout, or 30s without options.
	DialTimeout time.Duration
}

// Client talks to one endpoint.
type Client struct {
	cfg       Config
	transport *transport.ClientTransport
}

// Dial resolves the endpoint socket and connects to it, waiting up to the
// dial timeout for the endpoint to start listening.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
		if cfg.Options != nil {
			timeout = cfg.Options.ConnectTimeoutDuration()
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path, err := resolve(ctx, cfg)
	if err != nil {
		return nil, err
	}

	for {
		t, err := transport.Dial(ctx, path, cfg.Codec)
		if err == nil {
			return &Client{cfg: cfg, transport: t}, nil
		}
		select {
		case <-ctx.Done():
			return nil, proxyerr.NewConnectionFailure(
				errors.Annotatef(err, "endpoint %s not reachable", path).Error())
		case <-time.After(dialInterval):
		}
	}
}

func resolve(ctx context.Context, cfg Config) (string, error) {
	if cfg.SocketPath != "" {
		return cfg.SocketPath, nil
	}
	if cfg.Registry == nil {
		return "", errors.NotValidf("client config without socket path or registry")
	}
	instances, err := cfg.Registry.Discover(ctx, cfg.Connection)
	if err != nil {
		return "", errors.Annotatef(err, "resolving connection %q", cfg.Connection)
	}
	if len(instances) == 0 {
		return "", errors.NotFoundf("endpoint for connection %q", cfg.Connection)
	}
	return instances[0].SocketPath, nil
}

// Exec runs method on the endpoint's backend and returns its result. The
// client's options travel with the request.
func (c *Client) Exec(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error) {
	return c.call(ctx, &message.Request{Method: method, Args: args, Kwargs: kwargs, Options: c.options()})
}

// Connect establishes the backend connection without running anything.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.call(ctx, &message.Request{Method: message.MethodConnect, Options: c.options()})
	return err
}

// Close closes the endpoint's backend connection. The endpoint keeps
// running and reconnects on the next call.
func (c *Client) Close(ctx context.Context) error {
	_, err := c.call(ctx, &message.Request{Method: message.MethodClose})
	return err
}

// SetOptions replaces the options the client forwards and sends them now.
func (c *Client) SetOptions(ctx context.Context, opts *config.Options) error {
	c.cfg.Options = opts
	return c.syncOptions(ctx)
}

// Status returns the endpoint's session snapshot.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	result, err := c.call(ctx, &message.Request{Method: message.MethodStatus})
	if err != nil {
		return nil, err
	}
	status, ok := result.(map[string]any)
	if !ok {
		return nil, errors.Errorf("unexpected status of type %T", result)
	}
	return status, nil
}

// Dispose releases the socket connection. The endpoint is unaffected.
func (c *Client) Dispose() error {
	return c.transport.Close()
}

func (c *Client) syncOptions(ctx context.Context) error {
	if c.cfg.Options == nil {
		return nil
	}
	_, err := c.call(ctx, &message.Request{Method: message.MethodSetOptions, Kwargs: c.options()})
	return err
}

func (c *Client) options() map[string]any {
	if c.cfg.Options == nil {
		return nil
	}
	return c.cfg.Options.ToMap()
}

func (c *Client) call(ctx context.Context, req *message.Request) (any, error) {
	resp, err := c.transport.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if c.cfg.Queue != nil {
		for _, msg := range resp.Messages {
			c.cfg.Queue.QueueMessage(msg.Tag, msg.Text)
		}
	}
	if resp.Failed() {
		return nil, proxyerr.FromWire(req.Method, resp.ErrorCode, resp.Error)
	}
	return resp.Result, nil
}
