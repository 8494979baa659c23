// Package catalog resolves (application, collection) pairs to collection URLs
// through the backend's two-level collection directory.
package catalog

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotLoaded is returned by lookups made before the directory was loaded.
	ErrNotLoaded = errors.New("catalog not loaded")
	// ErrNotFound is returned for a pair the directory does not list.
	ErrNotFound = errors.New("collection not found in catalog")
	// ErrMethodNotAllowed is returned when a collection's methods exclude the
	// request a caller is about to make.
	ErrMethodNotAllowed = errors.New("method not allowed on collection")
)

// Item is one collection of the directory.
type Item struct {
	Name     string   `json:"name"`
	ApplName string   `json:"appl_name"`
	Href     string   `json:"href"`
	Methods  []string `json:"methods"`
}

// Allows reports whether method is among the item's HTTP methods. An item
// that lists no methods places no restriction.
func (it Item) Allows(method string) bool {
	if len(it.Methods) == 0 {
		return true
	}
	for _, m := range it.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Group is a named set of items.
type Group struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// Loader fetches the directory.
type Loader interface {
	LoadCatalog(ctx context.Context) ([]Group, error)
}

// Catalog caches the directory of one module for its lifetime.
type Catalog struct {
	loader Loader
	log    *slog.Logger

	loadMu sync.Mutex

	mu     sync.RWMutex
	groups []Group
	index  map[string]Item
}

// New returns an unloaded catalog.
func New(loader Loader, log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{loader: loader, log: log.With("module", "catalog")}
}

// Load fetches the directory unless it is already loaded.
func (c *Catalog) Load(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if c.Loaded() {
		return nil
	}
	return c.load(ctx)
}

// Reload fetches the directory again, replacing the cached one on success.
func (c *Catalog) Reload(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	return c.load(ctx)
}

func (c *Catalog) load(ctx context.Context) error {
	groups, err := c.loader.LoadCatalog(ctx)
	if err != nil {
		return errors.Wrap(err, "loading catalog")
	}
	index := Index(groups)

	c.mu.Lock()
	c.groups = groups
	c.index = index
	c.mu.Unlock()

	c.log.Info("catalog loaded", "groups", len(groups), "collections", len(index))
	return nil
}

// Index builds the lookup map keyed by lower-cased application and name.
// The first item listed for a pair wins.
func Index(groups []Group) map[string]Item {
	index := make(map[string]Item)
	for _, g := range groups {
		for _, it := range g.Items {
			k := key(it.ApplName, it.Name)
			if _, dup := index[k]; !dup {
				index[k] = it
			}
		}
	}
	return index
}

func key(applName, name string) string {
	return strings.ToLower(applName) + "\x00" + strings.ToLower(name)
}

// Loaded reports whether the directory has been loaded.
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index != nil
}

// Groups returns the loaded directory.
func (c *Catalog) Groups() ([]Group, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.index == nil {
		return nil, ErrNotLoaded
	}
	return c.groups, nil
}

// Lookup returns the item for an (application, collection) pair.
func (c *Catalog) Lookup(applName, name string) (Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.index == nil {
		return Item{}, ErrNotLoaded
	}
	it, ok := c.index[key(applName, name)]
	if !ok {
		return Item{}, errors.Wrapf(ErrNotFound, "%s/%s", applName, name)
	}
	return it, nil
}

// URL returns the fetch URL of a collection.
func (c *Catalog) URL(applName, name string) (string, error) {
	it, err := c.Lookup(applName, name)
	if err != nil {
		return "", err
	}
	return it.Href, nil
}

// Allows reports whether the collection accepts method.
func (c *Catalog) Allows(applName, name, method string) (bool, error) {
	it, err := c.Lookup(applName, name)
	if err != nil {
		return false, err
	}
	return it.Allows(method), nil
}
