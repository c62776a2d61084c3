package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v75/github"

	"github.com/platformsync/releaseflow/internal/gh"
)

const DefaultGitHubPerPage = 50

// GitHubTags lists the tags of the repository named after the component in
// the configured organization.
type GitHubTags struct {
	Organization string
	PerPage      int
	Client       *github.Client
}

var _ Lister = (*GitHubTags)(nil)

// ListVersions returns the tag names with a leading "v" removed.
func (g *GitHubTags) ListVersions(ctx context.Context, component string, query Query) ([]string, error) {
	perPage := query.Limit
	if perPage <= 0 {
		perPage = g.PerPage
	}
	if perPage <= 0 {
		perPage = DefaultGitHubPerPage
	}

	tags, _, err := g.Client.Repositories.ListTags(ctx, g.Organization, component, &github.ListOptions{PerPage: perPage})
	if err != nil {
		op := fmt.Sprintf("listing tags of %s/%s", g.Organization, component)
		switch {
		case gh.IsNotFound(err):
			return nil, fmt.Errorf("github: %s: %w", op, ErrNotFound)
		case gh.IsTransient(err):
			return nil, &NetworkError{Registry: "github", Op: op, Err: err}
		default:
			return nil, fmt.Errorf("github: %s: %w", op, err)
		}
	}

	versions := make([]string, 0, len(tags))
	for _, tag := range tags {
		if name := tag.GetName(); name != "" {
			versions = append(versions, strings.TrimPrefix(name, "v"))
		}
	}
	return Window(versions, query), nil
}
