package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentsquad/store"
)

func newGroupsCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List configured groups and, with a store, the persisted ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tNAME\tMODE\tMEMBERS")
			for _, g := range cfg.Groups {
				fmt.Fprintf(tw, "config\t%s\t%s\t%d\n", g.Name, g.Mode, len(g.Members))
			}

			if cfg.Store.Path != "" {
				snap, err := store.Load(cfg.Store.Path)
				if err != nil {
					return err
				}
				for _, g := range snap.Groups {
					fmt.Fprintf(tw, "store\t%s\t%s\t%d\n", g.Name, g.Mode, len(g.Members))
				}
			}

			return tw.Flush()
		},
	}
}
