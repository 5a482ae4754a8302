// Package remote pulls package metadata and readme files from a napp's git
// remote by building raw-file URLs against its configured branch.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"napps/internal/models"
)

const (
	metadataFilename = "kytos.json"
	readmeFilename   = "README.rst"
)

// Client fetches raw files over HTTP. Requests are bounded by the client
// timeout and the caller's context; failures are reported, never retried
// here. Retrying is a caller decision.
type Client struct {
	http *resty.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "napps-server/1.0")

	return &Client{http: client}
}

// RawURL derives the raw-file URL for a file of the napp:
// the git remote minus its .git suffix, then /raw/<branch>/<author>/<name>/.
func RawURL(napp *models.Napp, filename string) string {
	base := strings.TrimSuffix(napp.Git, "/")
	base = strings.TrimSuffix(base, ".git")
	base = strings.TrimSuffix(base, "/")

	return base + "/raw/" + napp.Branch + "/" + napp.Author + "/" + napp.Name + "/" + filename
}

// FetchMetadata retrieves and parses the napp's kytos.json. Any fetch or
// parse failure reports the repository as unreachable.
func (c *Client) FetchMetadata(ctx context.Context, napp *models.Napp) (map[string]any, error) {
	url := RawURL(napp, metadataFilename)

	body, err := c.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	var attrs map[string]any
	if err := json.Unmarshal(body, &attrs); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", models.ErrRepositoryUnreachable, url, err)
	}

	return attrs, nil
}

// FetchReadme retrieves the napp's README.rst as text.
func (c *Client) FetchReadme(ctx context.Context, napp *models.Napp) (string, error) {
	body, err := c.fetch(ctx, RawURL(napp, readmeFilename))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", models.ErrRepositoryUnreachable, url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: fetching %s: status %d", models.ErrRepositoryUnreachable, url, resp.StatusCode())
	}

	return resp.Body(), nil
}
