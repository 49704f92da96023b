// Package drive syncs a shared drive folder into a local scratch directory.
// Native cloud-document formats are exported to portable formats before
// download; form-style files that must never be parsed are reported as
// reference-only entries instead of downloads.
package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/councilkb/councilkb/internal/adapters"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/domain"
)

// File is one materialized remote file.
type File struct {
	LocalPath  string
	DriveID    string
	Name       string // real remote name, not the local export name
	MIMEType   string
	Size       int64
	WebURL     string
	ModifiedAt *time.Time
	// ReferenceOnly marks files that were intentionally not downloaded
	// (online forms and similar); LocalPath is empty for these.
	ReferenceOnly bool
}

// Downloader is the per-run scratch sink files are written into.
type Downloader interface {
	WriteFile(name string, body io.Reader) (string, error)
}

// Syncer mirrors a remote folder into a download sink.
type Syncer interface {
	Sync(ctx context.Context, folderID string, into Downloader) ([]File, error)
}

// mimeTypes that are never downloaded; they become Reference rows upstream.
var referenceOnlyMIMEs = map[string]bool{
	"application/vnd.google-apps.form": true,
	"application/vnd.google-apps.site": true,
	"application/vnd.google-apps.map":  true,
}

type remoteEntry struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	MIMEType     string     `json:"mimeType"`
	Size         int64      `json:"size"`
	WebViewLink  string     `json:"webViewLink"`
	ModifiedTime *time.Time `json:"modifiedTime"`
}

type listResponse struct {
	Files         []remoteEntry `json:"files"`
	NextPageToken string        `json:"nextPageToken"`
}

// Client talks to the drive gateway over HTTP.
type Client struct {
	baseURL string
	token   string
	include []string
	exclude []string
	exports map[string]string // source mime prefix -> export extension
	http    *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Client) { d.http = c }
}

// NewClient builds a drive client from settings.
func NewClient(cfg config.DriveSettings, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		include: cfg.IncludePatterns,
		exclude: cfg.ExcludePatterns,
		exports: cfg.ExportFormats,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sync lists the remote folder, downloads every accepted file (exporting
// native formats first) and returns the materialized set. Files matching an
// exclude pattern are dropped; reference-only MIME types are returned with
// ReferenceOnly set and no local path.
func (c *Client) Sync(ctx context.Context, folderID string, into Downloader) ([]File, error) {
	entries, err := c.listFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}

	var out []File
	for _, e := range entries {
		if !c.accepted(e.Name) {
			continue
		}

		f := File{
			DriveID:    e.ID,
			Name:       e.Name,
			MIMEType:   e.MIMEType,
			Size:       e.Size,
			WebURL:     e.WebViewLink,
			ModifiedAt: e.ModifiedTime,
		}

		if referenceOnlyMIMEs[e.MIMEType] {
			f.ReferenceOnly = true
			out = append(out, f)
			continue
		}

		local, err := c.fetch(ctx, e, into)
		if err != nil {
			return out, fmt.Errorf("failed to fetch %q; %w", e.Name, err)
		}
		f.LocalPath = local
		out = append(out, f)
	}
	return out, nil
}

func (c *Client) listFolder(ctx context.Context, folderID string) ([]remoteEntry, error) {
	var all []remoteEntry
	pageToken := ""

	for {
		var page listResponse
		err := adapters.Retry(ctx, func() error {
			q := url.Values{"folder": {folderID}}
			if pageToken != "" {
				q.Set("pageToken", pageToken)
			}
			return c.getJSON(ctx, "/files?"+q.Encode(), &page)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list folder %s; %w", folderID, err)
		}

		all = append(all, page.Files...)
		if page.NextPageToken == "" {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

// fetch downloads (or exports) one entry into the scratch directory and
// returns the local path.
func (c *Client) fetch(ctx context.Context, e remoteEntry, into Downloader) (string, error) {
	endpoint := fmt.Sprintf("/files/%s/download", url.PathEscape(e.ID))
	localName := e.Name

	if ext, ok := c.exportFor(e.MIMEType); ok {
		endpoint = fmt.Sprintf("/files/%s/export?format=%s", url.PathEscape(e.ID), url.QueryEscape(ext))
		if path.Ext(localName) == "" {
			localName += "." + ext
		}
	}

	var local string
	err := adapters.Retry(ctx, func() error {
		resp, err := c.do(ctx, endpoint)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		p, err := into.WriteFile(localName, resp.Body)
		if err != nil {
			// Disk errors are not the remote's fault; do not retry.
			return domain.Permanent(err)
		}
		local = p
		return nil
	})
	return local, err
}

// exportFor maps a native MIME type to its export extension. Matching is by
// prefix so one rule covers versioned MIME strings.
func (c *Client) exportFor(mimeType string) (string, bool) {
	if ext, ok := c.exports[mimeType]; ok {
		return ext, true
	}
	for prefix, ext := range c.exports {
		if strings.HasPrefix(mimeType, prefix) {
			return ext, true
		}
	}
	return "", false
}

// accepted applies include then exclude glob patterns to the file name.
func (c *Client) accepted(name string) bool {
	if len(c.include) > 0 {
		hit := false
		for _, p := range c.include {
			if ok, _ := path.Match(p, name); ok {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, p := range c.exclude {
		if ok, _ := path.Match(p, name); ok {
			return false
		}
	}
	return true
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	resp, err := c.do(ctx, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return domain.Permanent(fmt.Errorf("malformed drive response; %w", err))
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, domain.Permanent(err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, adapters.MapHTTPError(0, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("drive %s; %w", endpoint, adapters.MapHTTPError(resp.StatusCode, nil))
	}
	return resp, nil
}
