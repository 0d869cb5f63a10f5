package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// options are the flags shared by every subcommand.
type options struct {
	addr    string
	timeout time.Duration
}

func (o *options) url(path string) string {
	return strings.TrimRight(o.addr, "/") + path
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Inspect and configure a chapter relay",
		Long: `relayctl talks to a running relay over HTTP.

It shows connected clients and the translation queue, reads and writes
persisted settings, and lists the books in the configured books directory.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", getenv("RELAY_ADDR", "http://localhost:3001"), "Relay base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "Request timeout")

	root.AddCommand(newStatusCmd(opts), newSettingsCmd(opts), newBooksCmd(opts))
	return root
}
