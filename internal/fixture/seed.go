package fixture

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"io"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/matthewbaird/metaui/internal/catalog"
	"github.com/matthewbaird/metaui/internal/layout"
)

//go:embed demo.json
var demoBundle []byte

// Bundle is the file format fixtures are imported from: the catalog, with
// each item carrying its metadata document and rows.
type Bundle struct {
	Groups []BundleGroup `json:"groups"`
}

// BundleGroup is one catalog group of a bundle.
type BundleGroup struct {
	Name  string       `json:"name"`
	Items []BundleItem `json:"items"`
}

// BundleItem is one collection of a bundle.
type BundleItem struct {
	catalog.Item
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Rows     []layout.Row    `json:"rows,omitempty"`
}

// Import reads a bundle from r and stores every collection in it.
func (s *Store) Import(ctx context.Context, r io.Reader) error {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return errors.Wrap(err, "decoding fixture bundle")
	}
	collections, rows := 0, 0
	for _, g := range b.Groups {
		for _, it := range g.Items {
			if err := s.PutCollection(ctx, g.Name, it.Item, it.Metadata); err != nil {
				return err
			}
			if err := s.AppendRows(ctx, it.ApplName, it.Name, it.Rows); err != nil {
				return err
			}
			collections++
			rows += len(it.Rows)
		}
	}
	s.log.Info("fixture imported", "collections", collections, "rows", rows)
	return nil
}

// ImportFile imports the bundle stored at path.
func (s *Store) ImportFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading fixture bundle")
	}
	return s.Import(ctx, bytes.NewReader(data))
}

// Empty reports whether no collection is stored.
func (s *Store) Empty(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections`).Scan(&n); err != nil {
		return false, errors.Wrap(err, "counting collections")
	}
	return n == 0, nil
}

// SeedDemo stores the built-in demo shop unless the store already holds
// collections.
func (s *Store) SeedDemo(ctx context.Context) error {
	empty, err := s.Empty(ctx)
	if err != nil || !empty {
		return err
	}
	return s.Import(ctx, bytes.NewReader(demoBundle))
}
