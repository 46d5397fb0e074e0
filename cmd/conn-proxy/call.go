package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"conn-proxy/client"
	"conn-proxy/codec"
	"conn-proxy/config"
	"conn-proxy/logbridge"
	"conn-proxy/registry"
)

func newCallCommand() *cobra.Command {
	var (
		socketPath string
		kwargs     []string
	)

	cmd := &cobra.Command{
		Use:   "call METHOD [ARG...]",
		Short: "Run one operation through the endpoint",
		Long: `Run one operation through the endpoint and print its result as JSON.

Arguments that parse as JSON are sent as such; anything else is sent as
a string. Reserved methods connect, close and status act on the
endpoint's connection itself.`,
		Example: `  conn-proxy call whoami
  conn-proxy call org_repos acme
  conn-proxy call get_repo --kwarg full_name=acme/widgets`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := optionsFrom(cmd.Context())
			codecType, err := codec.ParseCodecType(opts.Codec)
			if err != nil {
				return err
			}

			named, err := parseKwargs(kwargs)
			if err != nil {
				return err
			}
			positional := make([]any, 0, len(args)-1)
			for _, arg := range args[1:] {
				positional = append(positional, parseValue(arg))
			}

			logger, closeLog, err := newLogger(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			cfg := client.Config{
				SocketPath: socketPath,
				Connection: opts.Connection,
				Codec:      codecType,
				Options:    opts,
				Queue:      hostQueue(opts, cmd.ErrOrStderr(), logger),
			}
			if cfg.SocketPath == "" {
				if len(opts.EtcdEndpoints) > 0 {
					reg, err := registry.NewEtcdRegistry(opts.EtcdEndpoints, logger)
					if err != nil {
						return err
					}
					defer reg.Close()
					cfg.Registry = reg
				} else {
					cfg.SocketPath = socketPathFor(opts)
				}
			}

			c, err := client.Dial(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Dispose()

			result, err := c.Exec(cmd.Context(), args[0], positional, named)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return errors.Annotate(err, "rendering result")
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket-path", "", "endpoint socket (default: derived from the connection)")
	cmd.Flags().StringArrayVar(&kwargs, "kwarg", nil, "named argument as key=value (repeatable)")
	return cmd
}

// parseValue decodes s as JSON when it is valid JSON, and keeps it as a
// string otherwise.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func parseKwargs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	named := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errors.NotValidf("kwarg %q (want key=value)", pair)
		}
		named[key] = parseValue(value)
	}
	return named, nil
}

// hostQueue shows relayed messages the way the invoking host would: a
// message tagged with n "v"s is printed at verbosity n or above, and
// log-file-only messages go to the log.
func hostQueue(opts *config.Options, stderr io.Writer, logger *slog.Logger) logbridge.Queue {
	return logbridge.QueueFunc(func(tag, text string) {
		if tag == logbridge.LogFileTag {
			logger.Debug(text)
			return
		}
		if len(tag) <= opts.Verbosity {
			fmt.Fprintln(stderr, text)
		}
	})
}
