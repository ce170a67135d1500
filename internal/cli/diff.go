package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Bafix001/zibridge/pkg/diff"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
)

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <old-snapshot> <new-snapshot>",
		Short: "Compare two snapshots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args...)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, stop, err := start(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer stop()

			report, err := a.Diff.GenerateReport(ctx, ids[0], ids[1])
			if err != nil {
				return err
			}
			return output(rootOpts, cmd.OutOrStdout(), report, func(w io.Writer) {
				printReport(w, report)
			})
		},
	}
}

func printReport(w io.Writer, r *diff.Report) {
	s := r.Summary
	fmt.Fprintf(w, "%s: %d created, %d updated, %d deleted, %d unchanged\n", r.Status, s.Created, s.Updated, s.Deleted, s.Unchanged)
	for _, e := range r.Created {
		fmt.Fprintf(w, "+ %s/%s\n", e.Type, e.ID)
	}
	for _, e := range r.Updated {
		fmt.Fprintf(w, "~ %s/%s\n", e.Type, e.ID)
		if e.Changes == nil {
			continue
		}
		fields := make([]string, 0, len(e.Changes.Fields))
		for f := range e.Changes.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			c := e.Changes.Fields[f]
			fmt.Fprintf(w, "    %s: %v -> %v\n", f, c.Old, c.New)
		}
		for _, l := range e.Changes.Relationships.Added {
			fmt.Fprintf(w, "    + link %s\n", l)
		}
		for _, l := range e.Changes.Relationships.Removed {
			fmt.Fprintf(w, "    - link %s\n", l)
		}
	}
	for _, e := range r.Deleted {
		fmt.Fprintf(w, "- %s/%s\n", e.Type, e.ID)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "! %s/%s: %s\n", f.ObjectType, f.ObjectID, f.Error)
	}
}

func parseIDs(raw ...string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, apperrors.Invalidf("%q is not a snapshot id", r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
