package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRoutesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the branch mount table and consumer bindings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			h, err := buildHost(cfg, logger)
			if err != nil {
				return err
			}
			defer h.Shutdown(cmd.Context()) //nolint:errcheck // nothing to report after printing

			consumers := map[string][]string{}
			for _, b := range h.Bus().Bindings() {
				consumers[b.Branch] = append(consumers[b.Branch], fmt.Sprintf("%s -> %s", b.Message, b.Consumer))
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BRANCH\tPATHS\tCONSUMERS")

			for _, d := range h.Branches() {
				paths := make([]string, len(d.Paths))
				for i, p := range d.Paths {
					if p == "" {
						p = "/"
					}

					paths[i] = p
				}

				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, strings.Join(paths, ","), strings.Join(consumers[d.Name], ", "))
			}

			return tw.Flush()
		},
	}
}
