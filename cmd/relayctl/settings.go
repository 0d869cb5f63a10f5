package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/dreamware/chapterrelay/internal/protocol"
)

func newSettingsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and write persisted settings",
	}
	cmd.AddCommand(newSettingsGetCmd(opts), newSettingsSetCmd(opts))
	return cmd
}

func newSettingsGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print a setting as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			var resp map[string]json.RawMessage
			if err := protocol.GetJSON(ctx, opts.url("/storage/"+url.PathEscape(args[0])), &resp); err != nil {
				return err
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, resp[args[0]], "", "  "); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
			return nil
		},
	}
}

func newSettingsSetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store a setting",
		Long: `Store a setting. VALUE is stored as JSON when it parses as JSON and as a
string otherwise.

Examples:
  relayctl settings set booksDirectoryPath /home/me/novels
  relayctl settings set translationSettings '{"model":"flash"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			body := struct {
				Key   string          `json:"key"`
				Value json.RawMessage `json:"value"`
			}{Key: args[0], Value: settingValue(args[1])}
			return protocol.PostJSON(ctx, opts.url("/storage"), body, nil)
		},
	}
}

// settingValue keeps valid JSON as is and quotes anything else.
func settingValue(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}
