package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/platformsync/releaseflow/cmd/branch"
	"github.com/platformsync/releaseflow/cmd/bump"
	"github.com/platformsync/releaseflow/cmd/check"
	"github.com/platformsync/releaseflow/cmd/diff"
	"github.com/platformsync/releaseflow/cmd/run"
	"github.com/platformsync/releaseflow/cmd/setup"
	"github.com/platformsync/releaseflow/cmd/version"
)

// Execute runs the root command. This is called by main.main().
func Execute() {
	err := New().Execute()
	if err != nil {
		os.Exit(1)
	}
}

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "releaseflow [sub-command]",
		Short: "Keep platform release branches up to date with their components",
		Long: `releaseflow resolves newer versions of the components and applications listed
  in a platform descriptor, increments the release version and proposes the
  result as a review request against the release branch of every target.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: setup.PreRunE,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	setup.RegisterGlobalFlags(cmd)
	cmd.AddCommand(check.New())
	cmd.AddCommand(diff.New())
	cmd.AddCommand(bump.New())
	cmd.AddCommand(branch.New())
	cmd.AddCommand(run.New())
	cmd.AddCommand(version.New())
	return cmd
}
