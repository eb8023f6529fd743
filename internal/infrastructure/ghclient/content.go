package ghclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"

	"ghchrono/internal/errs"
)

// GetContent fetches one file at ref through the contents API. A missing
// file returns found=false without error.
func (c *Client) GetContent(ctx context.Context, owner, repo, path, ref string) (*github.RepositoryContent, bool, error) {
	endpoint := "repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/contents/" + escapePath(path)
	params := url.Values{}
	if ref != "" {
		params.Set("ref", ref)
	}

	resp, err := c.Request(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		if StatusOf(err) == http.StatusNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}

	var content github.RepositoryContent
	if err := json.Unmarshal(resp.Body, &content); err != nil {
		// directories come back as arrays
		return nil, false, errs.Wrapf(err, "decode content %s", path)
	}
	if content.GetType() != "" && content.GetType() != "file" {
		return nil, false, nil
	}
	return &content, true, nil
}

func escapePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
