package check

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/platformsync/releaseflow/cmd/global"
	"github.com/platformsync/releaseflow/cmd/setup"
	"github.com/platformsync/releaseflow/internal/descriptor"
	"github.com/platformsync/releaseflow/internal/diff"
	"github.com/platformsync/releaseflow/internal/flags/enum"
	"github.com/platformsync/releaseflow/internal/pipeline"
	"github.com/platformsync/releaseflow/internal/report"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check {descriptor}",
		Short: "Update a local platform descriptor to the newest versions in scope",
		Long: `Resolve the newest version in scope for every component and application of a
local platform descriptor and write the updated descriptor back to the file.

Components whose new version has no published artifact keep their current version.
The file is left untouched with --dry-run or when nothing changed.`,
		Example: strings.TrimSpace(`
releaseflow check platform-descriptor.json
releaseflow check platform-descriptor.json --dry-run -o markdown
releaseflow check platform-descriptor.json --scope minor
`),
		Args:              cobra.ExactArgs(1),
		RunE:              CheckDescriptor,
		DisableAutoGenTag: true,
	}

	setup.RegisterResolutionFlags(cmd)
	cmd.Flags().Bool(global.DryRunFlag, false, "print the changes without writing the descriptor")
	formats := make([]string, len(report.Formats))
	for i, f := range report.Formats {
		formats[i] = string(f)
	}
	enum.VarP(cmd.Flags(), global.OutputFlag, global.OutputFlagShort, formats, "output format of the change report")
	return cmd
}

func CheckDescriptor(cmd *cobra.Command, args []string) error {
	dryRun, err := cmd.Flags().GetBool(global.DryRunFlag)
	if err != nil {
		return fmt.Errorf("getting dry-run flag failed: %w", err)
	}
	output, err := enum.Get(cmd.Flags(), global.OutputFlag)
	if err != nil {
		return fmt.Errorf("getting output flag failed: %w", err)
	}

	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("reading descriptor %s failed: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading descriptor %s failed: %w", path, err)
	}
	original, err := descriptor.Parse(data)
	if err != nil {
		return err
	}
	updated, err := descriptor.Parse(data)
	if err != nil {
		return err
	}

	resolver, err := setup.Resolver(cmd)
	if err != nil {
		return err
	}
	results, err := pipeline.Update(cmd.Context(), resolver, updated)
	if err != nil {
		return fmt.Errorf("resolving versions failed: %w", err)
	}
	for _, r := range results {
		if !r.Updated {
			slog.DebugContext(cmd.Context(), "version kept", "component", r.Component, "group", r.Group, "version", r.Current, "reason", r.Reason, "error", r.Err)
		}
	}

	components, applications := original.Counts()
	slog.InfoContext(cmd.Context(), fmt.Sprintf("Finished checking %d components and %d applications", components, applications))

	r := report.Render(diff.Descriptors(original, updated))
	if r.HasChanges && !dryRun {
		out, err := updated.Bytes()
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
			return fmt.Errorf("writing descriptor %s failed: %w", path, err)
		}
		slog.InfoContext(cmd.Context(), "descriptor updated", "path", path, "changes", r.ChangeCount)
	}

	encoded, err := report.Encode(r, report.Format(output))
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(encoded)
	return err
}
