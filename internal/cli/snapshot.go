package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect snapshots",
	}
	cmd.AddCommand(newSnapshotListCommand(rootOpts))
	return cmd
}

func newSnapshotListCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list <project>",
		Short: "List a project's snapshots, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, stop, err := start(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer stop()

			project, err := a.ResolveProject(ctx, args[0])
			if err != nil {
				return err
			}
			snapshots, err := a.Snapshots.ListByProject(ctx, project.ID, limit)
			if err != nil {
				return err
			}

			return output(rootOpts, cmd.OutOrStdout(), snapshots, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tOBJECTS\tROOT\tCREATED")
				for _, s := range snapshots {
					root := "-"
					if s.RootHash != nil {
						root = (*s.RootHash)[:12]
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.ID, s.Status, s.TotalObjects, root, s.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				_ = tw.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum snapshots to list, 0 for all")
	return cmd
}
