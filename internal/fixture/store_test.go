package fixture

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/metaui/internal/catalog"
	"github.com/matthewbaird/metaui/internal/layout"
	"github.com/matthewbaird/metaui/internal/pagecache"
	"github.com/matthewbaird/metaui/internal/schemacheck"
)

func openDemo(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "fixture.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.SeedDemo(ctx))
	return s
}

func fetch(t *testing.T, s *Store, name string, offset, limit int, filters map[string]any) *pagecache.Page {
	t.Helper()
	page, err := s.FetchPage(context.Background(), pagecache.PageRequest{
		ApplName: "shop", Name: name, Offset: offset, Limit: limit, Filters: filters,
	})
	require.NoError(t, err)
	return page
}

func TestStore_Catalog(t *testing.T) {
	s := openDemo(t)
	ctx := context.Background()

	groups, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Sales", groups[0].Name)
	require.Len(t, groups[0].Items, 2)
	assert.Equal(t, "customers", groups[0].Items[0].Name)
	assert.Equal(t, []string{"GET", "OPTIONS", "POST"}, groups[0].Items[1].Methods)

	require.NoError(t, s.SeedDemo(ctx))
	again, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, again[0].Items, 2, "seeding twice is a no-op")
}

func TestStore_Metadata(t *testing.T) {
	s := openDemo(t)
	ctx := context.Background()

	doc, err := s.LoadMetadata(ctx, catalog.Item{ApplName: "SHOP", Name: "Orders"})
	require.NoError(t, err)
	assert.True(t, doc.Filterable("status"))
	assert.Empty(t, doc.Validate())

	_, err = s.LoadMetadata(ctx, catalog.Item{ApplName: "shop", Name: "nope"})
	assert.True(t, errors.Is(err, catalog.ErrNotFound))

	require.NoError(t, s.PutCollection(ctx, "Misc", catalog.Item{ApplName: "shop", Name: "bare", Href: "/bare/"}, nil))
	_, err = s.LoadMetadata(ctx, catalog.Item{ApplName: "shop", Name: "bare"})
	assert.True(t, errors.Is(err, ErrNoMetadata))

	err = s.PutCollection(ctx, "Misc", catalog.Item{ApplName: "shop", Name: "bad", Href: "/bad/"}, []byte(`{"permitted_actions": []}`))
	assert.Error(t, err)
}

func TestStore_FetchPage(t *testing.T) {
	s := openDemo(t)

	first := fetch(t, s, "orders", 0, 2, nil)
	assert.Equal(t, 4, first.Count)
	require.Len(t, first.Results, 2)
	assert.Equal(t, "SO-101", first.Results[0]["number"])
	assert.Equal(t, float64(101), first.Results[0]["id"])
	require.NotNil(t, first.Next)
	assert.Equal(t, "/api/shop/orders/?offset=2&limit=2", *first.Next)
	assert.Nil(t, first.Previous)

	last := fetch(t, s, "orders", 2, 2, nil)
	require.Len(t, last.Results, 2)
	assert.Nil(t, last.Next)
	require.NotNil(t, last.Previous)
	assert.Equal(t, "/api/shop/orders/?offset=0&limit=2", *last.Previous)

	past := fetch(t, s, "orders", 10, 2, nil)
	assert.Empty(t, past.Results)
	assert.Equal(t, 4, past.Count)
}

func TestStore_FetchPageFilters(t *testing.T) {
	s := openDemo(t)

	tests := []struct {
		name    string
		coll    string
		filters map[string]any
		want    int
	}{
		{"string", "orders", map[string]any{"status": "open"}, 2},
		{"list", "orders", map[string]any{"status": []any{"shipped", "cancelled"}}, 2},
		{"empty list", "orders", map[string]any{"status": []any{}}, 0},
		{"nested number", "orders", map[string]any{"customer.id": float64(1)}, 2},
		{"combined", "orders", map[string]any{"status": "open", "customer.id": float64(3)}, 1},
		{"bool", "customers", map[string]any{"active": true}, 2},
		{"null", "orders", map[string]any{"note": nil}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := fetch(t, s, tt.coll, 0, 10, tt.filters)
			assert.Equal(t, tt.want, page.Count)
			assert.Len(t, page.Results, tt.want)
		})
	}
}

func TestStore_FetchPageErrors(t *testing.T) {
	s := openDemo(t)
	ctx := context.Background()

	_, err := s.FetchPage(ctx, pagecache.PageRequest{ApplName: "shop", Name: "nope", Limit: 5})
	assert.True(t, errors.Is(err, catalog.ErrNotFound))

	_, err = s.FetchPage(ctx, pagecache.PageRequest{ApplName: "shop", Name: "orders", Limit: 5,
		Filters: map[string]any{"status') OR 1=1 --": "x"}})
	assert.ErrorContains(t, err, "invalid filter key")
}

func TestStore_AppendRowsThroughCache(t *testing.T) {
	s := openDemo(t)
	ctx := context.Background()

	rows := make([]layout.Row, 0, 5)
	for i := range 5 {
		rows = append(rows, layout.Row{"id": float64(200 + i), "number": "SO-2" + strings.Repeat("0", 2) + string(rune('0'+i)), "status": "open"})
	}
	require.NoError(t, s.AppendRows(ctx, "shop", "orders", rows))

	store := pagecache.NewStore(s)
	entry, err := store.Collection("shop", "orders").Entry(map[string]any{"status": "open"})
	require.NoError(t, err)

	w, err := entry.Fetch(ctx, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 7, w.Total)
	_, err = entry.Fetch(ctx, 5, 5)
	require.NoError(t, err)
	assert.True(t, entry.Complete())

	row, ok := entry.Row("204")
	require.True(t, ok)
	assert.Equal(t, "SO-2004", row["number"])
}

func TestImport_BadBundle(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "f.db"), nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Error(t, s.Import(context.Background(), strings.NewReader(`{"groups": [`)))
}

func TestStore_Checker(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "f.db"), nil)
	require.NoError(t, err)
	defer s.Close()

	checker, err := schemacheck.New()
	require.NoError(t, err)
	s.SetChecker(checker)

	err = s.PutCollection(context.Background(), "Misc", catalog.Item{ApplName: "a", Name: "b", Href: "/b/"},
		[]byte(`{"layout": {"class": "Section", "elements": [{"name": "classless"}]}}`))
	assert.True(t, errors.Is(err, schemacheck.ErrMismatch))

	require.NoError(t, s.SeedDemo(context.Background()))
}
