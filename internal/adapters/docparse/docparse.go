// Package docparse converts office files to markdown through an external
// parser service. The service's response schema is not authoritative, so the
// decoder accepts every shape observed in the wild and rejects anything else
// as a permanent failure.
package docparse

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/councilkb/councilkb/internal/adapters"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/domain"
)

// AssetKind is the type of an extracted asset.
type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetTable AssetKind = "table"
)

// Asset is one image or table extracted during parsing. Placeholder is the
// marker inside the markdown where the asset sits.
type Asset struct {
	ID          string
	Kind        AssetKind
	Page        int
	BBox        [4]float64
	Bytes       []byte
	Placeholder string
}

// Result is a successful parse: one markdown string plus extracted assets.
type Result struct {
	Markdown string
	Assets   []Asset
}

// Parser converts a local file to markdown.
type Parser interface {
	Parse(ctx context.Context, localPath string) (*Result, error)
}

// Client calls the parser service over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Client) { p.http = c }
}

// NewClient builds a parser client from settings.
func NewClient(cfg config.ParserSettings, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Parse uploads the file and decodes whichever response shape comes back.
func (c *Client) Parse(ctx context.Context, localPath string) (*Result, error) {
	var raw []byte
	err := adapters.Retry(ctx, func() error {
		body, err := c.upload(ctx, localPath)
		if err != nil {
			return err
		}
		raw = body
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q; %w", filepath.Base(localPath), err)
	}

	return decodeResponse(raw)
}

func (c *Client) upload(ctx context.Context, localPath string) ([]byte, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("failed to open %q; %w", localPath, err))
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return nil, domain.Permanent(err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, domain.Permanent(err)
	}
	if err := mw.Close(); err != nil {
		return nil, domain.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse", &buf)
	if err != nil {
		return nil, domain.Permanent(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, adapters.MapHTTPError(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("parser returned %d; %w", resp.StatusCode, adapters.MapHTTPError(resp.StatusCode, nil))
	}
	return io.ReadAll(resp.Body)
}

// dictShape covers the object variants: markdown, text, or html, with
// optional asset listings.
type dictShape struct {
	Markdown string      `json:"markdown"`
	Text     string      `json:"text"`
	HTML     string      `json:"html"`
	Assets   []assetJSON `json:"assets"`
}

type assetJSON struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Page        int        `json:"page"`
	BBox        [4]float64 `json:"bbox"`
	Data        string     `json:"data"` // base64
	Placeholder string     `json:"placeholder"`
}

// partShape covers the list-of-parts variant: each part contributes markdown
// or text in order.
type partShape struct {
	Type     string `json:"type"`
	Markdown string `json:"markdown"`
	Text     string `json:"text"`
	Content  string `json:"content"`
}

// decodeResponse normalizes the observed response shapes to one Result:
// object with markdown, object with text, object with html only (converted),
// array of parts, or a bare JSON string. Everything else is permanent.
func decodeResponse(raw []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, domain.Permanent(fmt.Errorf("empty parser response"))
	}

	switch trimmed[0] {
	case '{':
		var d dictShape
		if err := json.Unmarshal(trimmed, &d); err != nil {
			return nil, domain.Permanent(fmt.Errorf("malformed parser object; %w", err))
		}
		return fromDict(d)

	case '[':
		var parts []partShape
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return nil, domain.Permanent(fmt.Errorf("malformed parser list; %w", err))
		}
		var b strings.Builder
		for _, p := range parts {
			s := p.Markdown
			if s == "" {
				s = p.Text
			}
			if s == "" {
				s = p.Content
			}
			if s == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(s)
		}
		return &Result{Markdown: b.String()}, nil

	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, domain.Permanent(fmt.Errorf("malformed parser string; %w", err))
		}
		return &Result{Markdown: s}, nil

	default:
		return nil, domain.Permanent(fmt.Errorf("unrecognized parser response shape"))
	}
}

func fromDict(d dictShape) (*Result, error) {
	md := d.Markdown
	if md == "" {
		md = d.Text
	}
	if md == "" && d.HTML != "" {
		converted, err := htmltomarkdown.ConvertString(d.HTML)
		if err != nil {
			return nil, domain.Permanent(fmt.Errorf("failed to convert parser html; %w", err))
		}
		md = converted
	}

	res := &Result{Markdown: md}
	for _, a := range d.Assets {
		kind := AssetKind(a.Kind)
		if kind != AssetImage && kind != AssetTable {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return nil, domain.Permanent(fmt.Errorf("malformed asset %q; %w", a.ID, err))
		}
		res.Assets = append(res.Assets, Asset{
			ID:          a.ID,
			Kind:        kind,
			Page:        a.Page,
			BBox:        a.BBox,
			Bytes:       data,
			Placeholder: a.Placeholder,
		})
	}
	return res, nil
}
