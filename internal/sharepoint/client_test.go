package sharepoint

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/recruit-cdp/internal/config"
	"github.com/ignite/recruit-cdp/internal/domain"
)

func setupGraph(t *testing.T) (*Client, *int32) {
	t.Helper()
	var tokenCalls int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, graphScope, r.Form.Get("scope"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "graph-token", "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/v1.0/sites/site-1/lists/list-1/items", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer graph-token", r.Header.Get("Authorization"))
		assert.Equal(t, "fields", r.URL.Query().Get("expand"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("$skiptoken") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{{
					"id":              "1",
					"createdDateTime": "2026-02-20T10:00:00Z",
					"fields": map[string]any{
						"Title":     "Ana",
						"Email":     "ana@example.com",
						"Positions": []any{"QB", "WR"},
						"Years":     float64(4),
					},
				}},
				"@odata.nextLink": "http://" + r.Host + "/v1.0/sites/site-1/lists/list-1/items?expand=fields&$skiptoken=p2",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{{
				"id":     "2",
				"fields": map[string]any{"Title": "Ben", "Coach": map[string]any{"LookupValue": "Coach Kim"}},
			}},
		})
	})

	cfg := config.SharePointConfig{
		TenantID:     "tenant",
		ClientID:     "app",
		ClientSecret: "secret",
		SiteID:       "site-1",
		ListID:       "list-1",
		GraphURL:     srv.URL + "/v1.0",
		FieldMap: map[string]string{
			"Title":     "firstName",
			"Email":     "email",
			"Positions": "preferredPositions",
			"Years":     "experience",
			"Coach":     "notAField",
		},
		TimeoutSeconds: 5,
	}
	c, err := newClient(context.Background(), cfg, srv.URL+"/token")
	require.NoError(t, err)
	return c, &tokenCalls
}

func TestSubmissions_FollowsNextLink(t *testing.T) {
	c, tokenCalls := setupGraph(t)

	subs, err := c.Submissions(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 2)

	first := subs[0]
	assert.Equal(t, "ana@example.com", first.Email)
	assert.Equal(t, "Ana", first.FirstName)
	assert.Equal(t, []string{"QB", "WR"}, first.PreferredPositions)
	assert.Equal(t, "4", first.Experience)
	assert.Equal(t, domain.SourceSharePoint, first.Source)
	assert.Equal(t, "1", first.SourceID)
	require.NotNil(t, first.SubmittedAt)

	second := subs[1]
	assert.Equal(t, "Ben", second.FirstName)
	assert.Empty(t, second.Email)
	assert.Nil(t, second.SubmittedAt)

	assert.Equal(t, int32(1), atomic.LoadInt32(tokenCalls), "token is cached across pages")
}

func TestNewClient_NotConfigured(t *testing.T) {
	_, err := NewClient(context.Background(), config.SharePointConfig{TenantID: "t"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "x", stringify("x"))
	assert.Equal(t, "2.5", stringify(2.5))
	assert.Equal(t, "true", stringify(true))
	assert.Equal(t, "a, b", stringify([]any{"a", "", "b"}))
	assert.Equal(t, "kim@example.com", stringify(map[string]any{"Email": "kim@example.com"}))
	assert.Equal(t, "", stringify(nil))
}
