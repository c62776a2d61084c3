package bump

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/platformsync/releaseflow/cmd/global"
	"github.com/platformsync/releaseflow/internal/bump"
	"github.com/platformsync/releaseflow/internal/flags/enum"
	"github.com/platformsync/releaseflow/internal/render"
)

const (
	FlagChanges       = "changes"
	FlagPattern       = "pattern"
	FlagIncrementType = "increment-type"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bump {version}",
		Short: "Increment the patch segment of a release version",
		Long: `Increment the numeric patch segment of a composite release version such as "R1-2025.5".

A version that cannot be incremented is printed unchanged together with the reason.
The command only fails for invalid flags.`,
		Example: strings.TrimSpace(`
releaseflow bump R1-2025.5
releaseflow bump R1-2025.5 --changes=false
releaseflow bump 2.0.19 --pattern '^(\d+\.\d+\.)(\d+)$' -o yaml
`),
		Args:              cobra.ExactArgs(1),
		RunE:              BumpVersion,
		DisableAutoGenTag: true,
	}

	cmd.Flags().Bool(FlagChanges, true, "whether the release has changes; without changes the version is kept")
	cmd.Flags().String(FlagPattern, bump.DefaultPattern, "regular expression with two capture groups: the base prefix and the numeric patch segment")
	enum.Var(cmd.Flags(), FlagIncrementType, []string{string(bump.IncrementPatch)}, "segment to increment")
	enum.VarP(cmd.Flags(), global.OutputFlag, global.OutputFlagShort, render.Formats(render.OutputFormatJSON, render.OutputFormatYAML), "output format of the result")
	return cmd
}

func BumpVersion(cmd *cobra.Command, args []string) error {
	changes, err := cmd.Flags().GetBool(FlagChanges)
	if err != nil {
		return fmt.Errorf("getting changes flag failed: %w", err)
	}
	pattern, err := cmd.Flags().GetString(FlagPattern)
	if err != nil {
		return fmt.Errorf("getting pattern flag failed: %w", err)
	}
	incrementType, err := enum.Get(cmd.Flags(), FlagIncrementType)
	if err != nil {
		return fmt.Errorf("getting increment-type flag failed: %w", err)
	}
	output, err := enum.Get(cmd.Flags(), global.OutputFlag)
	if err != nil {
		return fmt.Errorf("getting output flag failed: %w", err)
	}

	result := bump.Increment(args[0], changes, pattern, bump.IncrementType(incrementType))
	return render.Encode(cmd.OutOrStdout(), result, render.OutputFormat(output))
}
