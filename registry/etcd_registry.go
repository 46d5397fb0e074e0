package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/juju/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// KeyPrefix roots every key written by EtcdRegistry:
//
//	/conn-proxy/{connection}/{socketPath} -> JSON Instance
const KeyPrefix = "/conn-proxy/"

// EtcdRegistry implements Registry on etcd v3. Registrations hold a
// lease that is kept alive until Deregister or Close; if the endpoint
// dies the entry expires with the lease.
type EtcdRegistry struct {
	client *clientv3.Client
	logger *slog.Logger
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, logger *slog.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Annotate(err, "connecting to etcd")
	}
	return &EtcdRegistry{client: c, logger: logger}, nil
}

func instanceKey(connection, socketPath string) string {
	return KeyPrefix + connection + "/" + socketPath
}

func connectionPrefix(connection string) string {
	return KeyPrefix + connection + "/"
}

// Register puts instance under a fresh lease of ttl seconds and keeps the
// lease alive in the background.
func (r *EtcdRegistry) Register(ctx context.Context, instance Instance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Annotate(err, "granting lease")
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return errors.Trace(err)
	}

	key := instanceKey(instance.Connection, instance.SocketPath)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Annotatef(err, "registering %s", key)
	}

	// The keepalive must outlive the registering call, so it is bound to
	// the client rather than ctx.
	ch, err := r.client.KeepAlive(r.client.Ctx(), lease.ID)
	if err != nil {
		return errors.Annotate(err, "keeping lease alive")
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", "key", key)
	}()
	return nil
}

// Deregister removes the entry for socketPath.
func (r *EtcdRegistry) Deregister(ctx context.Context, connection, socketPath string) error {
	_, err := r.client.Delete(ctx, instanceKey(connection, socketPath))
	return errors.Annotate(err, "deregistering")
}

// Discover lists the instances registered for connection. Malformed
// entries are skipped.
func (r *EtcdRegistry) Discover(ctx context.Context, connection string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, connectionPrefix(connection), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Annotatef(err, "discovering %q", connection)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed registry entry", "key", string(kv.Key), "error", err)
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch re-lists the connection's instances on every change under its
// prefix. The channel closes when ctx is done.
func (r *EtcdRegistry) Watch(ctx context.Context, connection string) <-chan []Instance {
	ch := make(chan []Instance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, connectionPrefix(connection), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, connection)
			if err != nil {
				r.logger.Warn("re-listing after watch event", "connection", connection, "error", err)
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close releases the etcd client, which also stops lease renewal.
func (r *EtcdRegistry) Close() error {
	return errors.Trace(r.client.Close())
}
