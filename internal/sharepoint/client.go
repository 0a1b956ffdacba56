// Package sharepoint reads tryout registrations from a SharePoint list
// through Microsoft Graph and maps them to submissions for batch intake.
package sharepoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ignite/recruit-cdp/internal/config"
	"github.com/ignite/recruit-cdp/internal/domain"
	"github.com/ignite/recruit-cdp/internal/pkg/httpretry"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

// ErrNotConfigured is returned when tenant, app or list settings are missing.
var ErrNotConfigured = errors.New("sharepoint: not configured")

const graphScope = "https://graph.microsoft.com/.default"

// maxPages bounds pagination in case Graph keeps returning the same link.
const maxPages = 500

// Item is one list item with its column values.
type Item struct {
	ID                   string         `json:"id"`
	CreatedDateTime      time.Time      `json:"createdDateTime"`
	LastModifiedDateTime time.Time      `json:"lastModifiedDateTime"`
	Fields               map[string]any `json:"fields"`
}

type itemsPage struct {
	Value    []Item `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// Client is a Microsoft Graph list reader
type Client struct {
	graphURL   string
	siteID     string
	listID     string
	fieldMap   map[string]string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a Graph client authenticated with the app's client
// credentials against the tenant's token endpoint.
func NewClient(ctx context.Context, cfg config.SharePointConfig) (*Client, error) {
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	return newClient(ctx, cfg, tokenURL)
}

func newClient(ctx context.Context, cfg config.SharePointConfig, tokenURL string) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	base := &http.Client{Timeout: timeout}
	authed := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	authed.Timeout = timeout

	return &Client{
		graphURL:   strings.TrimRight(cfg.GraphURL, "/"),
		siteID:     cfg.SiteID,
		listID:     cfg.ListID,
		fieldMap:   cfg.FieldMap,
		httpClient: httpretry.NewRetryClient(authed, 3),
	}, nil
}

// ListItems returns every item of the configured list, following
// @odata.nextLink until the last page.
func (c *Client) ListItems(ctx context.Context) ([]Item, error) {
	next := fmt.Sprintf("%s/sites/%s/lists/%s/items?expand=fields&$top=200",
		c.graphURL, url.PathEscape(c.siteID), url.PathEscape(c.listID))

	var items []Item
	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return items, fmt.Errorf("sharepoint: more than %d pages", maxPages)
		}
		var p itemsPage
		if err := c.get(ctx, next, &p); err != nil {
			return items, err
		}
		items = append(items, p.Value...)
		next = p.NextLink
	}
	return items, nil
}

func (c *Client) get(ctx context.Context, fullURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("graph API error (status %d): %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Submissions lists the items and maps them through the field map.
// Items without an email still come back so the batch report counts them
// as failures.
func (c *Client) Submissions(ctx context.Context) ([]domain.Submission, error) {
	items, err := c.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	subs := make([]domain.Submission, 0, len(items))
	for _, it := range items {
		subs = append(subs, c.toSubmission(it))
	}
	logger.Info("sharepoint items fetched", "list_id", c.listID, "items", len(items))
	return subs, nil
}

func (c *Client) toSubmission(it Item) domain.Submission {
	sub := domain.Submission{Source: domain.SourceSharePoint, SourceID: it.ID}
	if !it.CreatedDateTime.IsZero() {
		at := it.CreatedDateTime
		sub.SubmittedAt = &at
	}
	for column, name := range c.fieldMap {
		raw, ok := it.Fields[column]
		if !ok || raw == nil {
			continue
		}
		if !sub.SetField(name, stringify(raw)) {
			logger.Debug("sharepoint column not mapped", "column", column, "field", name)
		}
	}
	return sub
}

// stringify flattens Graph column values: text, numbers, booleans and
// multi-choice arrays.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := stringify(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		// Lookup and person columns.
		for _, k := range []string{"LookupValue", "Email", "Title"} {
			if s, ok := t[k].(string); ok {
				return s
			}
		}
	}
	return ""
}
