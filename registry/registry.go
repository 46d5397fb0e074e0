// Package registry maps connection names to the sockets of the endpoints
// serving them, so a client invocation can find the persistent process
// for its connection without recomputing the socket path.
package registry

import "context"

// Instance describes one running endpoint.
type Instance struct {
	Connection string `json:"connection"`
	SocketPath string `json:"socket_path"`
	PID        int    `json:"pid"`
	Codec      string `json:"codec,omitempty"`
}

type Registry interface {
	// Register advertises instance until Deregister is called or the
	// ttl (seconds) lapses without renewal. Renewal is the registry's job.
	Register(ctx context.Context, instance Instance, ttl int64) error
	Deregister(ctx context.Context, connection, socketPath string) error
	Discover(ctx context.Context, connection string) ([]Instance, error)
	// Watch emits the full instance list for connection after every
	// change, until ctx is done.
	Watch(ctx context.Context, connection string) <-chan []Instance
}
