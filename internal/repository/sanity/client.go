// Package sanity implements docstore.Store on the Sanity HTTP API: GROQ for
// reads and the mutations endpoint for writes.
package sanity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/recruit-cdp/internal/docstore"
	"github.com/ignite/recruit-cdp/internal/pkg/httpretry"
)

// Config identifies a dataset.
type Config struct {
	ProjectID  string
	Dataset    string
	Token      string
	APIVersion string
	// BaseURL overrides https://<project>.api.sanity.io (tests).
	BaseURL string
}

// Client is a Sanity-backed document store.
type Client struct {
	cfg     Config
	baseURL string
	http    httpretry.HTTPDoer
}

var _ docstore.Store = (*Client)(nil)

// NewClient creates a Sanity client. If doer is nil a retrying client is used.
func NewClient(cfg Config, doer httpretry.HTTPDoer) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-01-01"
	}
	if doer == nil {
		doer = httpretry.NewRetryClient(nil, 3)
	}
	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.api.sanity.io", cfg.ProjectID)
	}
	return &Client{cfg: cfg, baseURL: strings.TrimRight(base, "/"), http: doer}
}

// APIError is a non-2xx response from Sanity.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sanity: HTTP %d: %s", e.StatusCode, e.Body)
}

// Fetch implements docstore.Store.
func (c *Client) Fetch(ctx context.Context, q docstore.Query, dst any) error {
	groq, params, err := BuildGROQ(q)
	if err != nil {
		return err
	}
	raw, err := c.query(ctx, groq, params)
	if err != nil {
		return err
	}
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("[]")
	}
	return json.Unmarshal(raw, dst)
}

// Get implements docstore.Store.
func (c *Client) Get(ctx context.Context, id string, dst any) error {
	raw, err := c.query(ctx, `*[_id == $id][0]`, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return docstore.ErrNotFound
	}
	return json.Unmarshal(raw, dst)
}

// Create implements docstore.Store.
func (c *Client) Create(ctx context.Context, doc any) error {
	m, err := docstore.ToMap(doc)
	if err != nil {
		return err
	}
	if _, _, err := docstore.Identity(m); err != nil {
		return err
	}
	err = c.mutate(ctx, map[string]any{"create": m})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		return fmt.Errorf("create %v: %w", m["_id"], docstore.ErrConflict)
	}
	return err
}

// Apply implements docstore.Store using Sanity's native set/inc/unset.
func (c *Client) Apply(ctx context.Context, p *docstore.Patch) error {
	set := map[string]any{}
	inc := map[string]int{}
	var unset []string
	for _, op := range p.Ops {
		switch op.Kind {
		case docstore.PatchSet:
			set[op.Path] = op.Value
		case docstore.PatchInc:
			inc[op.Path] += op.Delta
		case docstore.PatchUnset:
			unset = append(unset, op.Path)
		default:
			return fmt.Errorf("unknown patch op %q", op.Kind)
		}
	}

	patch := map[string]any{"id": p.ID}
	if len(set) > 0 {
		patch["set"] = set
	}
	if len(inc) > 0 {
		// Missing counters must exist before inc applies.
		zero := map[string]int{}
		for path := range inc {
			zero[path] = 0
		}
		patch["setIfMissing"] = zero
		patch["inc"] = inc
	}
	if len(unset) > 0 {
		patch["unset"] = unset
	}

	err := c.mutate(ctx, map[string]any{"patch": patch})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return docstore.ErrNotFound
	}
	return err
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (c *Client) query(ctx context.Context, groq string, params map[string]any) (json.RawMessage, error) {
	values := url.Values{}
	values.Set("query", groq)
	for k, v := range params {
		enc, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode param %s: %w", k, err)
		}
		values.Set("$"+k, string(enc))
	}
	endpoint := fmt.Sprintf("%s/v%s/data/query/%s?%s", c.baseURL, c.cfg.APIVersion, c.cfg.Dataset, values.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// mutate posts one mutation under a fresh transaction id. Mutations are not
// replayable, so the retrying client only retries them on 429.
func (c *Client) mutate(ctx context.Context, mutation map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"mutations":     []any{mutation},
		"transactionId": uuid.NewString(),
	})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/v%s/data/mutate/%s?returnIds=true", c.baseURL, c.cfg.APIVersion, c.cfg.Dataset)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sanity request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read sanity response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
