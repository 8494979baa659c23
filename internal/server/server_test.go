package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/metaui/internal/catalog"
	"github.com/matthewbaird/metaui/internal/expr"
	"github.com/matthewbaird/metaui/internal/fixture"
	"github.com/matthewbaird/metaui/internal/pagecache"
	"github.com/matthewbaird/metaui/internal/represent"
	"github.com/matthewbaird/metaui/internal/session"
	"github.com/matthewbaird/metaui/internal/view"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	fx, err := fixture.Open(ctx, filepath.Join(t.TempDir(), "fixture.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { fx.Close() })
	require.NoError(t, fx.SeedDemo(ctx))

	compiler, err := expr.NewCompiler()
	require.NoError(t, err)
	views := view.NewService(view.Config{
		Catalog:   catalog.New(fx, nil),
		Source:    fx,
		Registry:  represent.NewRegistry(compiler, nil),
		Evaluator: compiler,
		Options:   represent.DefaultOptions(),
	})
	newStore := func() *pagecache.Store { return pagecache.NewStore(fx) }
	srv := httptest.NewServer(NewRouter(Config{
		PageSize: 2,
		Views:    views,
		Sessions: session.NewManager(newStore, time.Hour, time.Hour, nil),
		Shared:   newStore(),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, header http.Header, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

type table struct {
	Columns []struct {
		Name string `json:"name"`
	} `json:"columns"`
	Rows []struct {
		Key   string         `json:"key"`
		Cells map[string]any `json:"cells"`
	} `json:"rows"`
	Total    int  `json:"total"`
	Cached   bool `json:"cached"`
	Complete bool `json:"complete"`
}

type apiError struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func TestHealthzAndRequestID(t *testing.T) {
	srv := newTestServer(t)

	var body map[string]string
	resp := do(t, http.MethodGet, srv.URL+"/healthz", nil, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	resp = do(t, http.MethodGet, srv.URL+"/healthz", http.Header{RequestIDHeader: {"req-1"}}, nil)
	assert.Equal(t, "req-1", resp.Header.Get(RequestIDHeader))
}

func TestCatalogAndColumns(t *testing.T) {
	srv := newTestServer(t)

	var groups []catalog.Group
	resp := do(t, http.MethodGet, srv.URL+"/v1/catalog", nil, &groups)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Items, 2)

	var cols table
	do(t, http.MethodGet, srv.URL+"/v1/collections/shop/orders/columns", nil, &cols)
	names := make([]string, len(cols.Columns))
	for i, c := range cols.Columns {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"number", "customer", "status", "placed", "total", "lines"}, names)

	do(t, http.MethodGet, srv.URL+"/v1/collections/shop/orders/columns?fields=total,%20number", nil, &cols)
	require.Len(t, cols.Columns, 2)
	assert.Equal(t, "total", cols.Columns[0].Name)

	var meta map[string]any
	resp = do(t, http.MethodGet, srv.URL+"/v1/collections/shop/orders/metadata", nil, &meta)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, meta, "layout")

	var e apiError
	resp = do(t, http.MethodGet, srv.URL+"/v1/collections/shop/nope/columns", nil, &e)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", e.Code)

	resp = do(t, http.MethodPost, srv.URL+"/v1/catalog/reload", nil, &groups)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Items, 2)
}

func TestRows(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v1/collections/shop/orders/rows"

	var tbl table
	resp := do(t, http.MethodGet, base, nil, &tbl)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4, tbl.Total)
	require.Len(t, tbl.Rows, 2)
	assert.False(t, tbl.Cached)
	assert.Equal(t, "101", tbl.Rows[0].Key)
	assert.Equal(t, "Open", tbl.Rows[0].Cells["status"])
	assert.Equal(t, "Acme Corp", tbl.Rows[0].Cells["customer"])

	do(t, http.MethodGet, base, nil, &tbl)
	assert.True(t, tbl.Cached)

	var row struct {
		Key   string         `json:"key"`
		Cells map[string]any `json:"cells"`
	}
	resp = do(t, http.MethodGet, base+"/102", nil, &row)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Shipped", row.Cells["status"])

	var e apiError
	resp = do(t, http.MethodGet, base+"/104", nil, &e)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "ROW_NOT_LOADED", e.Code)

	resp = do(t, http.MethodPost, srv.URL+"/v1/collections/shop/orders/invalidate", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	do(t, http.MethodGet, base, nil, &tbl)
	assert.False(t, tbl.Cached)

	do(t, http.MethodGet, base+"?status=open&limit=10", nil, &tbl)
	assert.Equal(t, 2, tbl.Total)
	assert.True(t, tbl.Complete)

	resp = do(t, http.MethodGet, base+"?total=42", nil, &e)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "FILTER_NOT_ALLOWED", e.Code)
}

func TestSessions(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v1/collections/shop/customers/rows"

	var sess struct {
		ID string `json:"id"`
	}
	resp := do(t, http.MethodPost, srv.URL+"/v1/sessions", nil, &sess)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, sess.ID)
	header := http.Header{SessionHeader: {sess.ID}}

	var tbl table
	do(t, http.MethodGet, base, nil, &tbl)
	assert.False(t, tbl.Cached)

	do(t, http.MethodGet, base, header, &tbl)
	assert.False(t, tbl.Cached, "sessions do not share the default cache")
	do(t, http.MethodGet, base, header, &tbl)
	assert.True(t, tbl.Cached)

	resp = do(t, http.MethodDelete, srv.URL+"/v1/sessions/"+sess.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var e apiError
	resp = do(t, http.MethodGet, base, header, &e)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "SESSION_NOT_FOUND", e.Code)
}

func TestParseHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet,
		"/x?offset=10&limit=900&fields=a,,b&status=open&n=3&flag=true&quoted=%22101%22&tag=a&tag=b", nil)

	p := parsePagination(r, 50, MaxPageSize)
	assert.Equal(t, Pagination{Limit: MaxPageSize, Offset: 10}, p)
	assert.Equal(t, []string{"a", "b"}, parseFields(r))
	assert.Equal(t, map[string]any{
		"status": "open",
		"n":      float64(3),
		"flag":   true,
		"quoted": "101",
		"tag":    []any{"a", "b"},
	}, parseFilters(r))

	bare := httptest.NewRequest(http.MethodGet, "/x?offset=-3", nil)
	assert.Equal(t, Pagination{Limit: 50}, parsePagination(bare, 50, MaxPageSize))
	assert.Nil(t, parseFilters(bare))
}
