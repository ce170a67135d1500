package cli

import (
	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply metadata store migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, stop, err := start(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer stop()
			return a.Migrate(cmd.Context())
		},
	}
}
