package sanity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/recruit-cdp/internal/docstore"
	"github.com/ignite/recruit-cdp/internal/pkg/httpretry"
)

func TestBuildGROQ(t *testing.T) {
	q := docstore.OfType("draftApplicant", "newsletterSubscriber").
		Where(docstore.EqFold("email", "P@X.com"), docstore.References("seg-1"), docstore.Defined("flowEnrollments")).
		Order("submittedAt", true).
		First(10)

	groq, params, err := BuildGROQ(q)
	require.NoError(t, err)
	assert.Equal(t,
		`*[_type in $types && lower(email) == lower($p0) && references($p1) && defined(flowEnrollments)] | order(submittedAt desc)[0...10]`,
		groq)
	assert.Equal(t, "P@X.com", params["p0"])
	assert.Equal(t, "seg-1", params["p1"])
	assert.Equal(t, []string{"draftApplicant", "newsletterSubscriber"}, params["types"])
}

func TestBuildGROQRejectsInjectedPaths(t *testing.T) {
	_, _, err := BuildGROQ(docstore.OfType("segment").Where(docstore.Eq("name] | *[true", "x")))
	assert.Error(t, err)
}

func TestClientFetchAndGet(t *testing.T) {
	var lastQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/v2024-01-01/data/query/production", r.URL.Path)
		lastQuery = r.URL.Query().Get("query")
		switch r.URL.Query().Get("$id") {
		case `"a1"`:
			w.Write([]byte(`{"result":{"_id":"a1","_type":"draftApplicant","email":"p@x.com"}}`))
		case `"missing"`:
			w.Write([]byte(`{"result":null}`))
		default:
			w.Write([]byte(`{"result":[{"_id":"s1","_type":"segment","name":"Goalies"}]}`))
		}
	}))
	defer srv.Close()

	c := NewClient(Config{Dataset: "production", Token: "tok", BaseURL: srv.URL}, srv.Client())
	ctx := context.Background()

	var segs []struct {
		ID   string `json:"_id"`
		Name string `json:"name"`
	}
	require.NoError(t, c.Fetch(ctx, docstore.OfType("segment").Where(docstore.Eq("isActive", true)), &segs))
	require.Len(t, segs, 1)
	assert.Equal(t, "Goalies", segs[0].Name)
	assert.Equal(t, `*[_type in $types && isActive == $p0]`, lastQuery)

	var doc struct {
		Email string `json:"email"`
	}
	require.NoError(t, c.Get(ctx, "a1", &doc))
	assert.Equal(t, "p@x.com", doc.Email)

	err := c.Get(ctx, "missing", &doc)
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
}

func TestClientApplyBuildsNativePatch(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2024-01-01/data/mutate/production", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"transactionId":"t1","results":[{"id":"f1","operation":"update"}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Dataset: "production", BaseURL: srv.URL}, srv.Client())
	err := docstore.Edit(c, "f1").
		Inc("stats.completed", 1).
		Inc("stats.currentlyActive", -1).
		Set("name", "Welcome").
		Unset("draft").
		Commit(context.Background())
	require.NoError(t, err)

	mutations := got["mutations"].([]any)
	patch := mutations[0].(map[string]any)["patch"].(map[string]any)
	assert.Equal(t, "f1", patch["id"])
	assert.Equal(t, map[string]any{"stats.completed": float64(1), "stats.currentlyActive": float64(-1)}, patch["inc"])
	assert.Equal(t, map[string]any{"name": "Welcome"}, patch["set"])
	assert.Equal(t, []any{"draft"}, patch["unset"])
	assert.Contains(t, patch, "setIfMissing")
	assert.NotEmpty(t, got["transactionId"])
}

func TestClientMutationNotReplayedOnGatewayError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			atomic.AddInt32(&calls, 1)
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	doer := httpretry.NewRetryClient(srv.Client(), 3).WithBackoff(time.Millisecond, 5*time.Millisecond)
	c := NewClient(Config{Dataset: "production", BaseURL: srv.URL}, doer)

	err := docstore.Edit(c, "f1").Inc("stats.completed", 1).Commit(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "an inc must not be sent twice")
}

func TestClientCreateConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"description":"Document by ID \"a1\" already exists"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Dataset: "production", BaseURL: srv.URL}, srv.Client())
	err := c.Create(context.Background(), map[string]any{"_id": "a1", "_type": "draftApplicant"})
	assert.True(t, errors.Is(err, docstore.ErrConflict))
}
