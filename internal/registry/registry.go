// Package registry asks rubygems.org whether a requested gem version is
// published before any container resources are provisioned. The in-container
// gem fetch stays authoritative; the preflight only saves a doomed image
// build when the answer is a definitive no.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const defaultBaseURL = "https://rubygems.org/api/v1"

// NotFoundError reports that the registry definitively does not serve the
// requested gem or version.
type NotFoundError struct {
	Name    string
	Version string
}

// Error returns the error message.
func (e *NotFoundError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("gem %s is not published on the registry", e.Name)
	}
	return fmt.Sprintf("gem %s has no published version %s", e.Name, e.Version)
}

// Client queries the RubyGems registry API.
type Client struct {
	// BaseURL is the API root, the public rubygems.org API when empty.
	BaseURL string
	// HTTP is the transport, http.DefaultClient when nil.
	HTTP   *http.Client
	Logger *slog.Logger
}

func (c *Client) baseURL() string {
	if c != nil && c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBaseURL
}

func (c *Client) httpClient() *http.Client {
	if c != nil && c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) logger() *slog.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

type versionEntry struct {
	Number   string `json:"number"`
	Platform string `json:"platform"`
}

// CheckVersion confirms that the named gem publishes the requested version.
// A definitive absence returns *NotFoundError; transport and server trouble
// return ordinary errors the caller can downgrade to a warning.
func (c *Client) CheckVersion(ctx context.Context, name, version string) error {
	url := fmt.Sprintf("%s/versions/%s.json", c.baseURL(), name)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build registry request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", "gemkiln")

	response, err := c.httpClient().Do(request)
	if err != nil {
		return fmt.Errorf("query registry: %w", err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNotFound:
		return &NotFoundError{Name: name}
	case response.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return fmt.Errorf("registry returned %s: %s", response.Status, string(body))
	}

	var entries []versionEntry
	if err := json.NewDecoder(response.Body).Decode(&entries); err != nil {
		return fmt.Errorf("decode registry response: %w", err)
	}

	for _, entry := range entries {
		if entry.Number == version {
			c.logger().Debug("registry lists requested version",
				"gem", name,
				"version", version,
				"platform", entry.Platform,
			)
			return nil
		}
	}

	return &NotFoundError{Name: name, Version: version}
}
