// Package config loads the proxy's options.
//
// Options come from, lowest to highest precedence: built-in defaults, a
// YAML file, CONNPROXY_* environment variables, and explicitly set
// command-line flags. A client invocation forwards its resolved options to
// the persistent endpoint with every call (set_options), so the endpoint
// always sees the current credentials.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CONNPROXY_"

// Options is the full option set. Durations are whole seconds, matching
// the persistent-connection settings they replace.
type Options struct {
	CredentialsToken    string   `koanf:"credentials_token"`
	ConnectTimeout      int      `koanf:"connect_timeout"`
	CommandTimeout      int      `koanf:"command_timeout"`
	LogMessages         bool     `koanf:"log_messages"`
	LogMessageMaxLength int      `koanf:"log_message_max_length"`
	LogFileOnly         bool     `koanf:"log_file_only"`
	LogPath             string   `koanf:"log_path"`
	Verbosity           int      `koanf:"verbosity"`
	Connection          string   `koanf:"connection"`
	SocketDir           string   `koanf:"socket_dir"`
	Codec               string   `koanf:"codec"`
	GitHubBaseURL       string   `koanf:"github_base_url"`
	RateLimit           float64  `koanf:"rate_limit"`
	RateBurst           int      `koanf:"rate_burst"`
	MetricsAddr         string   `koanf:"metrics_addr"`
	EtcdEndpoints       []string `koanf:"etcd_endpoints"`
}

// Defaults returns the default option values as a koanf map.
func Defaults() map[string]any {
	return map[string]any{
		"connect_timeout":        30,
		"command_timeout":        60,
		"log_messages":           true,
		"log_message_max_length": 1000,
		"log_file_only":          false,
		"verbosity":              0,
		"connection":             "github",
		"socket_dir":             filepath.Join(os.TempDir(), "conn-proxy"),
		"codec":                  "cbor",
		"github_base_url":        "https://api.github.com",
		"rate_limit":             0.0,
		"rate_burst":             1,
	}
}

// Default returns Options populated with Defaults.
func Default() *Options {
	opts, err := FromMap(nil)
	if err != nil {
		panic("config: defaults do not decode: " + err.Error())
	}
	return opts
}

// Load resolves options from defaults, cfgFile (optional), the
// environment, and flags that were explicitly set.
func Load(cfgFile string, flags *pflag.FlagSet) (*Options, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, errors.Annotate(err, "loading defaults")
	}

	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, errors.Annotatef(err, "reading config file %s", cfgFile)
		}
	}

	// CONNPROXY_COMMAND_TIMEOUT -> command_timeout
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, errors.Annotate(err, "loading environment")
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, errors.Annotate(err, "loading flags")
		}
	}

	var opts Options
	if err := k.Unmarshal("", &opts); err != nil {
		return nil, errors.Annotate(err, "decoding options")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// FromMap decodes options sent over the socket, layered on the defaults.
// Unknown keys are ignored.
func FromMap(values map[string]any) (*Options, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, errors.Annotate(err, "loading defaults")
	}
	if len(values) > 0 {
		if err := k.Load(confmap.Provider(values, ""), nil); err != nil {
			return nil, errors.Annotate(err, "loading options")
		}
	}
	var opts Options
	if err := k.Unmarshal("", &opts); err != nil {
		return nil, errors.Annotate(err, "decoding options")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// ToMap renders the options that matter to the endpoint for set_options.
func (o *Options) ToMap() map[string]any {
	return map[string]any{
		"credentials_token":      o.CredentialsToken,
		"connect_timeout":        o.ConnectTimeout,
		"command_timeout":        o.CommandTimeout,
		"log_messages":           o.LogMessages,
		"log_message_max_length": o.LogMessageMaxLength,
		"log_file_only":          o.LogFileOnly,
		"verbosity":              o.Verbosity,
	}
}

// Update returns a copy of o with the option values received over the
// socket applied. Keys missing from values keep their current value;
// options that ToMap does not render are never changed.
func (o *Options) Update(values map[string]any) (*Options, error) {
	merged := o.ToMap()
	for key, value := range values {
		merged[key] = value
	}
	decoded, err := FromMap(merged)
	if err != nil {
		return nil, err
	}

	next := *o
	next.CredentialsToken = decoded.CredentialsToken
	next.ConnectTimeout = decoded.ConnectTimeout
	next.CommandTimeout = decoded.CommandTimeout
	next.LogMessages = decoded.LogMessages
	next.LogMessageMaxLength = decoded.LogMessageMaxLength
	next.LogFileOnly = decoded.LogFileOnly
	next.Verbosity = decoded.Verbosity
	return &next, nil
}

// Validate checks ranges. A missing credentials token is not an error
// here: it surfaces as a connection failure on first use.
func (o *Options) Validate() error {
	if o.ConnectTimeout <= 0 {
		return errors.NotValidf("connect_timeout %d", o.ConnectTimeout)
	}
	if o.CommandTimeout <= 0 {
		return errors.NotValidf("command_timeout %d", o.CommandTimeout)
	}
	if o.LogMessageMaxLength <= 0 {
		return errors.NotValidf("log_message_max_length %d", o.LogMessageMaxLength)
	}
	if o.Verbosity < 0 {
		return errors.NotValidf("verbosity %d", o.Verbosity)
	}
	if o.RateLimit < 0 || o.RateBurst < 0 {
		return errors.NotValidf("rate limit %v/%d", o.RateLimit, o.RateBurst)
	}
	return nil
}

// ConnectTimeoutDuration is ConnectTimeout as a time.Duration.
func (o *Options) ConnectTimeoutDuration() time.Duration {
	return time.Duration(o.ConnectTimeout) * time.Second
}

// CommandTimeoutDuration is CommandTimeout as a time.Duration.
func (o *Options) CommandTimeoutDuration() time.Duration {
	return time.Duration(o.CommandTimeout) * time.Second
}
