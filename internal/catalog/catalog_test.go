package catalog

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLoader struct {
	groups []Group
	err    error
	calls  int
}

func (l *staticLoader) LoadCatalog(context.Context) ([]Group, error) {
	l.calls++
	return l.groups, l.err
}

var testGroups = []Group{
	{Name: "Sales", Items: []Item{
		{Name: "Orders", ApplName: "Shop", Href: "/api/shop/orders/", Methods: []string{"GET", "POST"}},
		{Name: "customers", ApplName: "shop", Href: "/api/shop/customers/", Methods: []string{"GET"}},
	}},
	{Name: "Legacy", Items: []Item{
		{Name: "orders", ApplName: "shop", Href: "/api/legacy/orders/"},
	}},
}

func TestCatalog_LookupBeforeLoad(t *testing.T) {
	c := New(&staticLoader{groups: testGroups}, nil)

	_, err := c.Lookup("shop", "orders")
	assert.True(t, errors.Is(err, ErrNotLoaded))
	_, err = c.Groups()
	assert.True(t, errors.Is(err, ErrNotLoaded))
	assert.False(t, c.Loaded())
}

func TestCatalog_Lookup(t *testing.T) {
	l := &staticLoader{groups: testGroups}
	c := New(l, nil)
	require.NoError(t, c.Load(context.Background()))
	require.NoError(t, c.Load(context.Background()))
	assert.Equal(t, 1, l.calls)

	url, err := c.URL("SHOP", "orders")
	require.NoError(t, err)
	assert.Equal(t, "/api/shop/orders/", url, "first listed item wins")

	ok, err := c.Allows("shop", "Orders", "post")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Allows("shop", "customers", "DELETE")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, testGroups[1].Items[0].Allows("DELETE"), "no methods listed")

	_, err = c.Lookup("shop", "invoices")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "shop/invoices")
}

func TestCatalog_LoadError(t *testing.T) {
	boom := errors.New("unreachable")
	c := New(&staticLoader{err: boom}, nil)

	err := c.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.False(t, c.Loaded())
}

func TestCatalog_Reload(t *testing.T) {
	l := &staticLoader{groups: testGroups}
	c := New(l, nil)
	require.NoError(t, c.Load(context.Background()))

	l.groups = []Group{{Name: "Sales", Items: []Item{{Name: "orders", ApplName: "shop", Href: "/v2/orders/"}}}}
	require.NoError(t, c.Reload(context.Background()))

	url, err := c.URL("shop", "orders")
	require.NoError(t, err)
	assert.Equal(t, "/v2/orders/", url)
	_, err = c.Lookup("shop", "customers")
	assert.True(t, errors.Is(err, ErrNotFound))
}
