package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	opts := Default()

	assert.Empty(t, opts.CredentialsToken)
	assert.Equal(t, 30*time.Second, opts.ConnectTimeoutDuration())
	assert.Equal(t, 60*time.Second, opts.CommandTimeoutDuration())
	assert.True(t, opts.LogMessages)
	assert.Equal(t, 1000, opts.LogMessageMaxLength)
	assert.False(t, opts.LogFileOnly)
	assert.Equal(t, "cbor", opts.Codec)
	assert.Equal(t, "github", opts.Connection)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "conn-proxy.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
credentials_token: from-file
command_timeout: 5
log_file_only: true
etcd_endpoints:
  - 127.0.0.1:2379
`), 0o600))

	t.Setenv("CONNPROXY_CREDENTIALS_TOKEN", "from-env")
	t.Setenv("CONNPROXY_VERBOSITY", "2")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("command-timeout", 0, "")
	flags.Int("verbosity", 0, "")
	require.NoError(t, flags.Parse([]string{"--command-timeout=9"}))

	opts, err := Load(cfgFile, flags)
	require.NoError(t, err)

	assert.Equal(t, "from-env", opts.CredentialsToken)
	assert.Equal(t, 9, opts.CommandTimeout, "explicit flag wins")
	assert.Equal(t, 2, opts.Verbosity, "unset flag does not clobber env")
	assert.True(t, opts.LogFileOnly)
	assert.Equal(t, []string{"127.0.0.1:2379"}, opts.EtcdEndpoints)
	assert.Equal(t, 30, opts.ConnectTimeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("CONNPROXY_COMMAND_TIMEOUT", "0")
	_, err := Load("", nil)
	assert.ErrorContains(t, err, "command_timeout")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestFromMapRoundTrip(t *testing.T) {
	original := Default()
	original.CredentialsToken = "tok"
	original.Verbosity = 3
	original.LogMessageMaxLength = 20

	// Values arrive over the wire with codec-specific number types.
	values := original.ToMap()
	values["verbosity"] = uint64(3)
	values["command_timeout"] = float64(60)

	decoded, err := FromMap(values)
	require.NoError(t, err)
	assert.Equal(t, "tok", decoded.CredentialsToken)
	assert.Equal(t, 3, decoded.Verbosity)
	assert.Equal(t, 20, decoded.LogMessageMaxLength)
	assert.Equal(t, 60, decoded.CommandTimeout)
}

func TestFromMapValidates(t *testing.T) {
	_, err := FromMap(map[string]any{"log_message_max_length": -1})
	assert.ErrorContains(t, err, "log_message_max_length")
}

func TestUpdateKeepsUnsentOptions(t *testing.T) {
	current := Default()
	current.CredentialsToken = "old"
	current.Verbosity = 2
	current.Codec = "json"
	current.SocketDir = "/run/conn-proxy"

	next, err := current.Update(map[string]any{"credentials_token": "new", "codec": "cbor"})
	require.NoError(t, err)

	assert.Equal(t, "new", next.CredentialsToken)
	assert.Equal(t, 2, next.Verbosity, "unsent option keeps its value")
	assert.Equal(t, "json", next.Codec, "endpoint-only option is not changed")
	assert.Equal(t, "/run/conn-proxy", next.SocketDir)
	assert.Equal(t, "old", current.CredentialsToken, "receiver is not modified")
}

func TestUpdateRejectsInvalid(t *testing.T) {
	_, err := Default().Update(map[string]any{"command_timeout": 0})
	assert.ErrorContains(t, err, "command_timeout")
}
