package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"

	"github.com/dreamware/chapterrelay/internal/library"
	"github.com/dreamware/chapterrelay/internal/protocol"
	"github.com/dreamware/chapterrelay/internal/storage"
)

func newBooksCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "Work with the books directory",
	}
	cmd.AddCommand(newBooksListCmd(opts))
	return cmd
}

func newBooksListCmd(opts *options) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List books with chapter and glossary counts",
		Long: `List books with chapter and glossary counts.

Without --dir the relay's configured books directory is used. Listing runs
an import, which also converts legacy glossary.txt files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			if dir == "" {
				var resp map[string]*string
				if err := protocol.GetJSON(ctx, opts.url("/storage/"+storage.KeyBooksDirectory), &resp); err != nil {
					return err
				}
				if p := resp[storage.KeyBooksDirectory]; p != nil {
					dir = *p
				}
			}
			if dir == "" {
				return fmt.Errorf("no books directory configured; pass --dir")
			}

			var books map[string]library.Book
			req := map[string]string{"booksDirPath": dir}
			if err := protocol.PostJSON(ctx, opts.url("/fs/import-books"), req, &books); err != nil {
				return err
			}

			names := make([]string, 0, len(books))
			for name := range books {
				names = append(names, name)
			}
			slices.Sort(names)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BOOK\tCHAPTERS\tGLOSSARY")
			for _, name := range names {
				b := books[name]
				fmt.Fprintf(tw, "%s\t%d\t%d\n", name, len(b.Chapters), len(b.Glossary))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Books directory (defaults to the relay's setting)")
	return cmd
}
