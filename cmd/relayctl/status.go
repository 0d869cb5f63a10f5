package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dreamware/chapterrelay/internal/coordinator"
	"github.com/dreamware/chapterrelay/internal/protocol"
	"github.com/dreamware/chapterrelay/internal/storage"
)

type statusResponse struct {
	coordinator.Status
	Settings storage.StoreStats `json:"settings"`
}

func newStatusCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connected clients and the translation queue",
		Long: `Show connected clients and the translation queue.

Examples:
  relayctl status
  relayctl status --json --addr http://localhost:4001`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			var st statusResponse
			if err := protocol.GetJSON(ctx, opts.url("/status"), &st); err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			return printStatus(cmd, st)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status document")
	return cmd
}

func printStatus(cmd *cobra.Command, st statusResponse) error {
	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROLE\tNAME\tALIVE")
	for _, c := range st.Connections {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", c.ID, c.Role, c.Name, c.Alive)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	if st.InFlight != nil {
		fmt.Fprintf(out, "in flight: %s (%s) on %s, attempt %d\n",
			st.InFlight.Title, st.InFlight.Key, st.InFlight.Assignee, st.InFlight.Attempts)
	} else {
		fmt.Fprintln(out, "in flight: none")
	}
	if st.RetryPending {
		fmt.Fprintln(out, "retry backoff pending")
	}
	fmt.Fprintf(out, "queued: %d\n", len(st.Queue))
	for i, w := range st.Queue {
		fmt.Fprintf(out, "  %d. %s (%s)\n", i+1, w.Title, w.Key)
	}
	fmt.Fprintf(out, "settings: %d keys\n", st.Settings.Keys)
	return nil
}
