package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/goccy/go-json"
)

// HTTPTransport talks to a remote that serves a directory listing on /ls and
// file contents on /fetch, both keyed by a path query parameter.
type HTTPTransport struct {
	target    string
	directory string
	user      string
	secret    string
	client    http.Client
}

type ListDirectoryResponse struct {
	Entries []DirEntry
}

func NewHTTPTransport(target, directory, user, secret string) *HTTPTransport {
	return &HTTPTransport{
		target:    target,
		directory: directory,
		user:      user,
		secret:    secret,
	}
}

func (h *HTTPTransport) request(ctx context.Context, endpoint, p string) (*http.Response, error) {
	u := h.target + endpoint + "?path=" + url.QueryEscape(p)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if h.user != "" {
		req.SetBasicAuth(h.user, h.secret)
	}
	return h.client.Do(req)
}

func (h *HTTPTransport) List(ctx context.Context) ([]DirEntry, error) {
	resp, err := h.request(ctx, "/ls", h.directory)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status code: %v (%v)", resp.StatusCode, h.directory)
	}

	var result ListDirectoryResponse
	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode json response: %v", err)
	}

	return result.Entries, nil
}

// Stat is served from a fresh listing since the remote protocol has no
// dedicated endpoint for it.
func (h *HTTPTransport) Stat(ctx context.Context, name string) (DirEntry, error) {
	entries, err := h.List(ctx)
	if err != nil {
		return DirEntry{}, err
	}
	for _, entry := range entries {
		if entry.Name == name {
			return entry, nil
		}
	}
	return DirEntry{}, fmt.Errorf("stat %s: %w", name, ErrNotFound)
}

func (h *HTTPTransport) Fetch(ctx context.Context, name string, dst io.Writer) (int64, error) {
	resp, err := h.request(ctx, "/fetch", path.Join(h.directory, name))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return 0, fmt.Errorf("fetch %s: %w", name, ErrNotFound)
	default:
		return 0, fmt.Errorf("fetch %s: bad status code: %v", name, resp.StatusCode)
	}

	n, _, err := copyContext(ctx, dst, resp.Body, func() { resp.Body.Close() })
	return n, err
}

func (h *HTTPTransport) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
