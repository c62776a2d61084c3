package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platformsync/releaseflow/cmd/global"
	"github.com/platformsync/releaseflow/internal/flags/enum"
	"github.com/platformsync/releaseflow/internal/render"
	"github.com/platformsync/releaseflow/internal/version"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Retrieve the version of releaseflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, err := enum.Get(cmd.Flags(), global.OutputFlag)
			if err != nil {
				return fmt.Errorf("getting output flag failed: %w", err)
			}
			info, err := version.Get()
			if err != nil {
				return err
			}
			return render.Encode(cmd.OutOrStdout(), info, render.OutputFormat(output))
		},
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	enum.VarP(cmd.Flags(), global.OutputFlag, global.OutputFlagShort, render.Formats(render.OutputFormatJSON, render.OutputFormatYAML), "output format of the version information")
	return cmd
}
