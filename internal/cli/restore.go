package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Bafix001/zibridge/pkg/restore"
)

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dryRun   bool
		planOnly bool
	)

	cmd := &cobra.Command{
		Use:   "restore <project> <snapshot>",
		Short: "Restore a snapshot onto the project's source",
		Long: `Compare a completed snapshot with the live source and recreate missing
objects, revert changed fields and re-link relationships. Live objects absent
from the snapshot are reported and never deleted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[1])
			if err != nil {
				return err
			}

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
			engine, err := a.Restorer(ctx, project.ID)
			if err != nil {
				return err
			}

			plan, err := engine.Plan(ctx, project.ID, ids[0])
			if err != nil {
				return err
			}
			if planOnly {
				return output(rootOpts, cmd.OutOrStdout(), plan, func(w io.Writer) {
					printPlan(w, plan)
				})
			}

			result, err := engine.Execute(ctx, plan, dryRun)
			if err != nil {
				return err
			}
			return output(rootOpts, cmd.OutOrStdout(), result, func(w io.Writer) {
				printPlan(w, plan)
				printResult(w, result)
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate every phase without writing to the source")
	cmd.Flags().BoolVar(&planOnly, "plan", false, "print the plan and stop")
	return cmd
}

func printPlan(w io.Writer, p *restore.Plan) {
	s := p.Summary
	fmt.Fprintf(w, "Plan for snapshot %s\n", p.SnapshotID)
	fmt.Fprintf(w, "  order       %v\n", p.Order())
	fmt.Fprintf(w, "  create      %d\n", s.Create)
	fmt.Fprintf(w, "  update      %d\n", s.Update)
	fmt.Fprintf(w, "  suture      %d\n", s.Suture)
	fmt.Fprintf(w, "  unchanged   %d\n", s.Unchanged)
	fmt.Fprintf(w, "  extraneous  %d\n", s.Extraneous)
	for _, warning := range p.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}

func printResult(w io.Writer, r *restore.Result) {
	mode := "applied"
	if r.DryRun {
		mode = "simulated"
	}
	fmt.Fprintf(w, "Run %s %s (%s)\n", r.RunID, mode, r.Phase)
	fmt.Fprintf(w, "  created %d, updated %d, sutured %d, failed %d\n", r.Created, r.Updated, r.Sutured, r.Failed)
	for _, m := range r.Mappings {
		fmt.Fprintf(w, "  %s %s -> %s\n", m.Type, m.OldID, m.NewID)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  ! %s %s/%s: %s\n", f.Phase, f.Type, f.ID, f.Error)
	}
}
