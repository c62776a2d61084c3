package branch

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/platformsync/releaseflow/cmd/global"
	"github.com/platformsync/releaseflow/cmd/setup"
	"github.com/platformsync/releaseflow/internal/branch"
	"github.com/platformsync/releaseflow/internal/flags/enum"
	"github.com/platformsync/releaseflow/internal/render"
	"github.com/platformsync/releaseflow/internal/scm"
)

const (
	FlagReleaseBranch = "release-branch"
	FlagUpdateBranch  = "update-branch"
)

// Status is the printed branch state of a repository.
type Status struct {
	Repository          string `json:"repository"`
	ReleaseBranch       string `json:"releaseBranch"`
	UpdateBranch        string `json:"updateBranch"`
	SourceBranch        string `json:"sourceBranch"`
	UpdateBranchExists  bool   `json:"updateBranchExists"`
	ReviewRequestExists bool   `json:"reviewRequestExists"`
	ReviewRequestID     int    `json:"reviewRequestId,omitempty"`
	ReviewRequestURL    string `json:"reviewRequestUrl,omitempty"`
	State               string `json:"state"`
}

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch {owner/name}",
		Short: "Show the update branch and review request state of a repository",
		Long: `Show which branch the next update of a release branch is based on.

The update branch is used as the source when it exists, the release branch otherwise.
An open review request from the update branch into the release branch is reported as well.`,
		Example: strings.TrimSpace(`
releaseflow branch folio-org/platform-lsp --release-branch R1-2025
releaseflow branch folio-org/platform-lsp --release-branch R1-2025 --update-branch R1-2025-next -o json
`),
		Args:              cobra.ExactArgs(1),
		RunE:              ShowBranch,
		DisableAutoGenTag: true,
	}

	cmd.Flags().String(FlagReleaseBranch, "", "release branch the updates are proposed to")
	cmd.Flags().String(FlagUpdateBranch, "", `branch carrying the updates (default "<release-branch>-update")`)
	_ = cmd.MarkFlagRequired(FlagReleaseBranch)
	enum.VarP(cmd.Flags(), global.OutputFlag, global.OutputFlagShort, render.Formats(render.OutputFormatTable, render.OutputFormatJSON, render.OutputFormatYAML), "output format of the branch state")
	return cmd
}

func ShowBranch(cmd *cobra.Command, args []string) error {
	releaseBranch, err := cmd.Flags().GetString(FlagReleaseBranch)
	if err != nil {
		return fmt.Errorf("getting release-branch flag failed: %w", err)
	}
	updateBranch, err := cmd.Flags().GetString(FlagUpdateBranch)
	if err != nil {
		return fmt.Errorf("getting update-branch flag failed: %w", err)
	}
	if updateBranch == "" {
		updateBranch = releaseBranch + "-update"
	}
	if updateBranch == releaseBranch {
		return fmt.Errorf("update branch must differ from release branch %q", releaseBranch)
	}
	output, err := enum.Get(cmd.Flags(), global.OutputFlag)
	if err != nil {
		return fmt.Errorf("getting output flag failed: %w", err)
	}

	repo, err := scm.ParseRepository(args[0])
	if err != nil {
		return err
	}
	reader, err := setup.SCM(cmd)
	if err != nil {
		return err
	}

	st, err := branch.Resolve(cmd.Context(), reader, repo, releaseBranch, updateBranch)
	if err != nil {
		return fmt.Errorf("resolving branch state of %s failed: %w", repo, err)
	}
	status := Status{
		Repository:          repo.String(),
		ReleaseBranch:       releaseBranch,
		UpdateBranch:        updateBranch,
		SourceBranch:        st.SourceBranch,
		UpdateBranchExists:  st.UpdateBranchExists,
		ReviewRequestExists: st.ReviewRequestExists,
		ReviewRequestID:     st.ReviewRequestID,
		ReviewRequestURL:    st.ReviewRequestURL,
		State:               st.State.String(),
	}

	format := render.OutputFormat(output)
	if format != render.OutputFormatTable {
		return render.Encode(cmd.OutOrStdout(), status, format)
	}
	t := render.NewTable(cmd.OutOrStdout(), table.Row{"Repository", "Source branch", "Update branch", "Review request", "State"})
	request := "-"
	if status.ReviewRequestExists {
		request = fmt.Sprintf("#%d %s", status.ReviewRequestID, status.ReviewRequestURL)
	}
	t.AppendRow(table.Row{status.Repository, status.SourceBranch, status.UpdateBranch, request, status.State})
	t.Render()
	return nil
}
