package diff

import (
	"context"
	"fmt"
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
	"github.com/platformsync/releaseflow/internal/scm"
)

const (
	FlagRepository = "repository"
	FlagPath       = "path"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff {base} {head}",
		Short: "Report the version changes between two platform descriptors",
		Long: `Report the version changes between two platform descriptors.

Without --repository both arguments are paths to local descriptor files.
With --repository they are branches or commits of that repository and the
descriptor is read from --path at each of them.`,
		Example: strings.TrimSpace(`
releaseflow diff old/platform-descriptor.json platform-descriptor.json
releaseflow diff R1-2025 R1-2025-update --repository folio-org/platform-lsp -o markdown
`),
		Args:              cobra.ExactArgs(2),
		RunE:              DiffDescriptors,
		DisableAutoGenTag: true,
	}

	cmd.Flags().String(FlagRepository, "", "repository (owner/name) to read both descriptors from")
	cmd.Flags().String(FlagPath, pipeline.DefaultDescriptorPath, "descriptor path within the repository, used with --repository")
	formats := make([]string, len(report.Formats))
	for i, f := range report.Formats {
		formats[i] = string(f)
	}
	enum.VarP(cmd.Flags(), global.OutputFlag, global.OutputFlagShort, formats, "output format of the report")
	return cmd
}

func DiffDescriptors(cmd *cobra.Command, args []string) error {
	output, err := enum.Get(cmd.Flags(), global.OutputFlag)
	if err != nil {
		return fmt.Errorf("getting output flag failed: %w", err)
	}
	repository, err := cmd.Flags().GetString(FlagRepository)
	if err != nil {
		return fmt.Errorf("getting repository flag failed: %w", err)
	}
	path, err := cmd.Flags().GetString(FlagPath)
	if err != nil {
		return fmt.Errorf("getting path flag failed: %w", err)
	}

	read := readFile
	if repository != "" {
		repo, err := scm.ParseRepository(repository)
		if err != nil {
			return err
		}
		reader, err := setup.SCM(cmd)
		if err != nil {
			return err
		}
		read = func(ctx context.Context, ref string) ([]byte, error) {
			return reader.FileAtRef(ctx, repo, ref, path)
		}
	}

	base, err := load(cmd.Context(), read, args[0])
	if err != nil {
		return err
	}
	head, err := load(cmd.Context(), read, args[1])
	if err != nil {
		return err
	}

	r := report.Render(diff.Descriptors(base, head))
	data, err := report.Encode(r, report.Format(output))
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func readFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

func load(ctx context.Context, read func(context.Context, string) ([]byte, error), source string) (*descriptor.Descriptor, error) {
	data, err := read(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor %s failed: %w", source, err)
	}
	d, err := descriptor.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing descriptor %s failed: %w", source, err)
	}
	return d, nil
}
