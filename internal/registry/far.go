package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultFARBaseURL = "https://far.ci.folio.org"
	DefaultFARLimit   = 500
)

// FAR lists application versions from an application descriptor registry.
type FAR struct {
	BaseURL string
	Limit   int
	Client  *http.Client
}

var _ Lister = (*FAR)(nil)

type farApplications struct {
	ApplicationDescriptors []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"applicationDescriptors"`
	TotalRecords int `json:"totalRecords"`
}

// ListVersions queries the registry for all descriptors of the application.
func (f *FAR) ListVersions(ctx context.Context, component string, query Query) ([]string, error) {
	base := f.BaseURL
	if base == "" {
		base = DefaultFARBaseURL
	}
	limit := query.Limit
	if limit <= 0 {
		limit = f.Limit
	}
	if limit <= 0 {
		limit = DefaultFARLimit
	}
	client := f.Client
	if client == nil {
		client = NewHTTPClient()
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("query", "name="+component)
	u := strings.TrimSuffix(base, "/") + "/applications?" + params.Encode()

	var resp farApplications
	if err := getJSON(ctx, client, "far", u, &resp); err != nil {
		return nil, err
	}

	versions := make([]string, 0, len(resp.ApplicationDescriptors))
	for _, app := range resp.ApplicationDescriptors {
		// the query is a search, make sure the name matches exactly
		if app.Name != "" && app.Name != component {
			continue
		}
		if app.Version != "" {
			versions = append(versions, app.Version)
		}
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("far: no versions for application %q: %w", component, ErrNotFound)
	}
	return Window(versions, query), nil
}
