package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		branch string
		types  []string
	)

	cmd := &cobra.Command{
		Use:   "sync <project>",
		Short: "Snapshot the project's source",
		Long: `Extract every object type from the project's source, store a snapshot,
advance the branch and merge the records into the staging cache.`,
		Args: cobra.ExactArgs(1),
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
			result, err := a.Sync(ctx, project.ID, branch, types)
			if err != nil {
				return err
			}

			return output(rootOpts, cmd.OutOrStdout(), result, func(w io.Writer) {
				snap := result.Snapshot
				fmt.Fprintf(w, "Snapshot %s %s\n", snap.ID, snap.Status)
				if snap.RootHash != nil {
					fmt.Fprintf(w, "  root      %s\n", *snap.RootHash)
				}
				fmt.Fprintf(w, "  objects   %d (%d failed)\n", result.Stats.Ingested, result.Stats.Failed)
				fmt.Fprintf(w, "  blobs     %d written, %d reused\n", result.Stats.BlobsWritten, result.Stats.BlobsReused)
				fmt.Fprintf(w, "  staged    %d\n", result.Merged)
				counts := result.Stats.Counts
				names := make([]string, 0, len(counts))
				for t := range counts {
					names = append(names, t)
				}
				sort.Strings(names)
				for _, t := range names {
					fmt.Fprintf(w, "  %-9s %d\n", t, counts[t])
				}
			})
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "main", "branch to advance")
	cmd.Flags().StringSliceVar(&types, "types", nil, "object types to extract (default all)")
	return cmd
}
