package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"conn-proxy/registry"
)

func newListCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List endpoints advertised in etcd for the connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := optionsFrom(cmd.Context())
			if len(opts.EtcdEndpoints) == 0 {
				return errors.NotValidf("list without etcd_endpoints")
			}
			logger, closeLog, err := newLogger(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			reg, err := registry.NewEtcdRegistry(opts.EtcdEndpoints, logger)
			if err != nil {
				return err
			}
			defer reg.Close()

			instances, err := reg.Discover(cmd.Context(), opts.Connection)
			if err != nil {
				return err
			}
			printInstances(cmd.OutOrStdout(), instances)
			if !watch {
				return nil
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			for instances := range reg.Watch(ctx, opts.Connection) {
				fmt.Fprintln(cmd.OutOrStdout(), "--")
				printInstances(cmd.OutOrStdout(), instances)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep printing the list after every change")
	return cmd
}

func printInstances(w io.Writer, instances []registry.Instance) {
	for _, instance := range instances {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", instance.Connection, instance.PID, instance.Codec, instance.SocketPath)
	}
}
