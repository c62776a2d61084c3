package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	DefaultDockerHubBaseURL   = "https://hub.docker.com/v2"
	DefaultDockerHubNamespace = "folioorg"
)

// DockerHub checks for container image tags as the deployable artifact of a
// component version.
type DockerHub struct {
	BaseURL   string
	Namespace string
	Client    *http.Client
}

var _ ArtifactChecker = (*DockerHub)(nil)

// ArtifactExists reports whether the image <namespace>/<component>:<version>
// is published.
func (d *DockerHub) ArtifactExists(ctx context.Context, component, version string) (bool, error) {
	base := d.BaseURL
	if base == "" {
		base = DefaultDockerHubBaseURL
	}
	namespace := d.Namespace
	if namespace == "" {
		namespace = DefaultDockerHubNamespace
	}
	client := d.Client
	if client == nil {
		client = NewHTTPClient()
	}

	u := fmt.Sprintf("%s/repositories/%s/%s/tags/%s/",
		strings.TrimSuffix(base, "/"), url.PathEscape(namespace), url.PathEscape(component), url.PathEscape(version))

	resp, err := get(ctx, client, "dockerhub", u)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return true, nil
}
