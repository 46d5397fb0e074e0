package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is an in-process Registry. TTLs are ignored.
type MemoryRegistry struct {
	mu        sync.Mutex
	instances map[string]map[string]Instance
	watchers  map[string][]chan []Instance
}

// NewMemoryRegistry returns an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		instances: make(map[string]map[string]Instance),
		watchers:  make(map[string][]chan []Instance),
	}
}

func (r *MemoryRegistry) Register(_ context.Context, instance Instance, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byPath, ok := r.instances[instance.Connection]
	if !ok {
		byPath = make(map[string]Instance)
		r.instances[instance.Connection] = byPath
	}
	byPath[instance.SocketPath] = instance
	r.notifyLocked(instance.Connection)
	return nil
}

func (r *MemoryRegistry) Deregister(_ context.Context, connection, socketPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances[connection], socketPath)
	r.notifyLocked(connection)
	return nil
}

func (r *MemoryRegistry) Discover(_ context.Context, connection string) ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(connection), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, connection string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	r.mu.Lock()
	r.watchers[connection] = append(r.watchers[connection], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		watchers := r.watchers[connection]
		for i, w := range watchers {
			if w == ch {
				r.watchers[connection] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (r *MemoryRegistry) listLocked(connection string) []Instance {
	instances := make([]Instance, 0, len(r.instances[connection]))
	for _, instance := range r.instances[connection] {
		instances = append(instances, instance)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].SocketPath < instances[j].SocketPath
	})
	return instances
}

// notifyLocked delivers the latest list to every watcher, replacing an
// undelivered older list.
func (r *MemoryRegistry) notifyLocked(connection string) {
	if len(r.watchers[connection]) == 0 {
		return
	}
	list := r.listLocked(connection)
	for _, ch := range r.watchers[connection] {
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}
