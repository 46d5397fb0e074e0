package client

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conn-proxy/backend/backendtest"
	"conn-proxy/codec"
	"conn-proxy/config"
	"conn-proxy/logbridge"
	"conn-proxy/proxyerr"
	"conn-proxy/registry"
	"conn-proxy/server"
)

type recorder struct {
	mu   sync.Mutex
	tags []string
}

func (r *recorder) QueueMessage(tag, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = append(r.tags, tag)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tags)
}

func serve(t *testing.T, fake *backendtest.Backend, reg registry.Registry) string {
	t.Helper()
	path := server.SocketPath(t.TempDir(), "github")
	svr, err := server.NewServer(server.Config{
		SocketPath:  path,
		Connection:  "github",
		Factory:     fake.Factory,
		Registry:    reg,
		IdleTimeout: -1,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svr.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return path
}

func options(token string) *config.Options {
	opts := config.Default()
	opts.CredentialsToken = token
	return opts
}

func dial(t *testing.T, cfg Config) *Client {
	t.Helper()
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Dispose() })
	return c
}

func TestExecRelaysMessages(t *testing.T) {
	fake := backendtest.New("good")
	fake.Orgs["x"] = []string{"b", "a", "c"}
	path := serve(t, fake, nil)

	queue := &recorder{}
	c := dial(t, Config{SocketPath: path, Codec: codec.CodecTypeCBOR, Options: options("good"), Queue: queue})

	result, err := c.Exec(context.Background(), "org_repos", []any{"x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"x/a", "x/b", "x/c"}, result)
	assert.NotZero(t, queue.count())
}

func TestTypedErrors(t *testing.T) {
	path := serve(t, backendtest.New("good"), nil)

	bad := dial(t, Config{SocketPath: path, Options: options("bad")})
	err := bad.Connect(context.Background())
	var failure *proxyerr.ConnectionFailure
	require.True(t, errors.As(err, &failure), "got %v", err)

	good := dial(t, Config{SocketPath: path, Codec: codec.CodecTypeJSON, Options: options("good")})
	_, err = good.Exec(context.Background(), "get_nothing", nil, nil)
	var remote *proxyerr.RemoteCallError
	require.True(t, errors.As(err, &remote), "got %v", err)
	assert.Equal(t, "get_nothing", remote.Method)
}

func TestEachCallForwardsCredentials(t *testing.T) {
	fake := backendtest.New("c1", "c2")
	path := serve(t, fake, nil)

	c := dial(t, Config{SocketPath: path, Options: options("c1")})
	_, err := c.Exec(context.Background(), "whoami", nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.SetOptions(context.Background(), options("c2")))
	_, err = c.Exec(context.Background(), "whoami", nil, nil)
	require.NoError(t, err)
	_, err = c.Exec(context.Background(), "whoami", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"c1", "c2"}, fake.Inits())
}

func TestSharedEndpointKeepsCallerCredentials(t *testing.T) {
	fake := backendtest.New("good", "other")
	path := serve(t, fake, nil)
	ctx := context.Background()

	a := dial(t, Config{SocketPath: path, Options: options("good")})
	b := dial(t, Config{SocketPath: path, Options: options("other")})

	require.NoError(t, b.SetOptions(ctx, options("other")))
	_, err := a.Exec(ctx, "whoami", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, fake.Inits())

	_, err = b.Exec(ctx, "whoami", nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.SetOptions(ctx, options("other")))
	_, err = a.Exec(ctx, "whoami", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"good", "other", "good"}, fake.Inits())
}

func TestStatusAndClose(t *testing.T) {
	fake := backendtest.New("good")
	path := serve(t, fake, nil)
	c := dial(t, Config{SocketPath: path, Options: options("good")})

	require.NoError(t, c.Connect(context.Background()))
	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "connected", status["state"])

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	status, err = c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "disconnected", status["state"])
	assert.Equal(t, 1, fake.Logouts())
}

func TestDialThroughRegistry(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	serve(t, backendtest.New("good"), reg)

	// The endpoint registers right after it starts listening.
	require.Eventually(t, func() bool {
		instances, _ := reg.Discover(context.Background(), "github")
		return len(instances) == 1
	}, 5*time.Second, 10*time.Millisecond)

	c := dial(t, Config{Connection: "github", Registry: reg, Options: options("good")})
	result, err := c.Exec(context.Background(), "whoami", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "octocat", result)
}

func TestDialUnknownConnection(t *testing.T) {
	_, err := Dial(context.Background(), Config{Connection: "none", Registry: registry.NewMemoryRegistry()})
	assert.True(t, errors.Is(err, errors.NotFound), "got %v", err)
}

func TestDialTimesOut(t *testing.T) {
	_, err := Dial(context.Background(), Config{
		SocketPath:  filepath.Join(t.TempDir(), "absent.sock"),
		DialTimeout: 100 * time.Millisecond,
	})
	var failure *proxyerr.ConnectionFailure
	assert.True(t, errors.As(err, &failure), "got %v", err)
}

func TestRelayHonorsFileOnly(t *testing.T) {
	path := serve(t, backendtest.New("good"), nil)
	var tags []string
	var mu sync.Mutex
	queue := logbridge.QueueFunc(func(tag, _ string) {
		mu.Lock()
		tags = append(tags, tag)
		mu.Unlock()
	})

	opts := options("good")
	opts.LogFileOnly = true
	c := dial(t, Config{SocketPath: path, Options: opts, Queue: queue})
	_, err := c.Exec(context.Background(), "get_user", nil, nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, tags)
	for _, tag := range tags {
		assert.Equal(t, logbridge.LogFileTag, tag)
	}
}
