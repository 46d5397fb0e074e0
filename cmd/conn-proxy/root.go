package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"conn-proxy/config"
	"conn-proxy/server"
)

// Version is set at build time.
var Version = "0.1.0"

type optionsKey struct{}

func newRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "conn-proxy",
		Short: "Persistent GitHub connection endpoint",
		Long: `conn-proxy keeps one authenticated GitHub API session open in a
background endpoint and serves it over a unix socket, so that many
short-lived invocations share a single connection.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			opts, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), optionsKey{}, opts))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML)")
	flags.String("credentials-token", "", "GitHub access token")
	flags.Int("connect-timeout", 0, "seconds to wait for the connection, and idle seconds before the endpoint exits")
	flags.Int("command-timeout", 0, "seconds one operation may take before the connection is closed")
	flags.Bool("log-messages", true, "log requests and responses at debug level")
	flags.Int("log-message-max-length", 0, "truncate queued messages to this many bytes")
	flags.Bool("log-file-only", false, "send all messages to the log file only")
	flags.String("log-path", "", "append endpoint logs to this file instead of stderr")
	flags.IntP("verbosity", "v", 0, "message verbosity (1 error .. 4 debug)")
	flags.String("connection", "", "connection name")
	flags.String("socket-dir", "", "directory for endpoint sockets")
	flags.String("codec", "", "wire codec (cbor|json)")
	flags.String("github-base-url", "", "GitHub API base URL")
	flags.Float64("rate-limit", 0, "calls per second accepted by the endpoint (0 disables)")
	flags.Int("rate-burst", 0, "burst size for --rate-limit")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address")
	flags.StringSlice("etcd-endpoints", nil, "advertise and discover endpoints in etcd")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newCallCommand())
	rootCmd.AddCommand(newSocketPathCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

// optionsFrom returns the options resolved by the root command.
func optionsFrom(ctx context.Context) *config.Options {
	if opts, ok := ctx.Value(optionsKey{}).(*config.Options); ok {
		return opts
	}
	return config.Default()
}

// connectionKey identifies the endpoint for opts. Credentials are not
// part of it: a changed token reaches the same endpoint, which reconnects.
func connectionKey(opts *config.Options) string {
	return opts.Connection + "|" + opts.GitHubBaseURL
}

func socketPathFor(opts *config.Options) string {
	return server.SocketPath(opts.SocketDir, connectionKey(opts))
}

// newLogger builds the process logger: text to stderr, or to log_path.
// The returned func releases the log file.
func newLogger(opts *config.Options, stderr io.Writer) (*slog.Logger, func() error, error) {
	out := stderr
	closer := func() error { return nil }
	if opts.LogPath != "" {
		f, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, errors.Annotate(err, "opening log file")
		}
		out, closer = f, f.Close
	}
	level := slog.LevelInfo
	if opts.Verbosity >= 4 {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return logger.With("connection", opts.Connection), closer, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "conn-proxy %s\n", Version)
		},
	}
}

func newSocketPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "socket-path",
		Short: "Print the endpoint socket for the configured connection",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), socketPathFor(optionsFrom(cmd.Context())))
		},
	}
}
