package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/validation"
)

// NewProjectCommand creates the project command group.
func NewProjectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(newProjectCreateCommand(rootOpts))
	cmd.AddCommand(newProjectListCommand(rootOpts))
	cmd.AddCommand(newBranchListCommand(rootOpts))
	return cmd
}

func newProjectCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		sourceType string
		sourceName string
		ignored    []string
		uniqueIDs  map[string]string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project and its main branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateValue(sourceType, "required,oneof=hubspot csv file memory"); err != nil {
				return err
			}
			pc := models.ProjectConfig{SourceType: sourceType, SourceName: sourceName, IgnoredFields: ignored}
			if len(uniqueIDs) > 0 {
				pc.Mappings = map[string]models.ObjectMapping{}
				for objectType, field := range uniqueIDs {
					pc.Mappings[objectType] = models.ObjectMapping{UniqueID: field}
				}
			}

			a, stop, err := start(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer stop()

			project, err := a.CreateProject(cmd.Context(), args[0], pc)
			if err != nil {
				return err
			}
			return output(rootOpts, cmd.OutOrStdout(), project, func(w io.Writer) {
				fmt.Fprintf(w, "Created project %s (%s)\n", project.Name, project.ID)
			})
		},
	}

	cmd.Flags().StringVar(&sourceType, "source", "", "source type (hubspot|csv|file|memory)")
	cmd.Flags().StringVar(&sourceName, "source-name", "", "display name of the source")
	cmd.Flags().StringSliceVar(&ignored, "ignore", nil, "extra fields left out of content hashes")
	cmd.Flags().StringToStringVar(&uniqueIDs, "unique-id", nil, "merge key per type, e.g. contacts=email")
	return cmd
}

func newProjectListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, stop, err := start(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer stop()

			projects, err := a.Projects.List(cmd.Context())
			if err != nil {
				return err
			}
			return output(rootOpts, cmd.OutOrStdout(), projects, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tSOURCE\tCREATED")
				for _, p := range projects {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Config.Data.SourceType, p.CreatedAt.Format("2006-01-02 15:04"))
				}
				_ = tw.Flush()
			})
		},
	}
}

func newBranchListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "branches <project>",
		Short: "List a project's branches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, stop, err := start(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer stop()

			project, err := a.ResolveProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			branches, err := a.Branches.List(cmd.Context(), project.ID)
			if err != nil {
				return err
			}
			return output(rootOpts, cmd.OutOrStdout(), branches, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSNAPSHOT")
				for _, b := range branches {
					head := "-"
					if b.CurrentSnapshotID != nil {
						head = b.CurrentSnapshotID.String()
					}
					fmt.Fprintf(tw, "%s\t%s\n", b.Name, head)
				}
				_ = tw.Flush()
			})
		},
	}
}
