// Package view assembles rendered table windows from collection metadata and
// cached pages.
package view

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"

	"github.com/matthewbaird/metaui/internal/catalog"
	"github.com/matthewbaird/metaui/internal/layout"
	"github.com/matthewbaird/metaui/internal/metadata"
	"github.com/matthewbaird/metaui/internal/pagecache"
	"github.com/matthewbaird/metaui/internal/represent"
)

var (
	// ErrFilterNotAllowed is returned for a filter on a field the collection
	// does not list in filterset_fields.
	ErrFilterNotAllowed = errors.New("filter not allowed")
	// ErrNotPermitted is returned when the collection does not permit listing.
	ErrNotPermitted = errors.New("action not permitted")
)

// ListAction is the permitted action a table window requires.
const ListAction = "list"

// MetadataSource loads the metadata document of a catalog item.
type MetadataSource interface {
	LoadMetadata(ctx context.Context, item catalog.Item) (*metadata.Document, error)
}

// Query selects one window of a collection.
type Query struct {
	ApplName string         `json:"appl_name"`
	Name     string         `json:"name"`
	Fields   []string       `json:"fields,omitempty"`
	Filters  map[string]any `json:"filters,omitempty"`
	Offset   int            `json:"offset"`
	Limit    int            `json:"limit"`
}

// Row is one rendered record.
type Row struct {
	Key   string                     `json:"key,omitempty"`
	Cells map[string]represent.Value `json:"cells"`
}

// Table is a rendered window.
type Table struct {
	Columns  []layout.Column `json:"columns"`
	Rows     []Row           `json:"rows"`
	Offset   int             `json:"offset"`
	Total    int             `json:"total"`
	Cached   bool            `json:"cached"`
	Complete bool            `json:"complete"`
}

// Config holds the Service dependencies.
type Config struct {
	Catalog  *catalog.Catalog
	Source   MetadataSource
	Registry *represent.Registry
	// Evaluator runs expression visibility predicates. Optional.
	Evaluator layout.BoolEvaluator
	// Options left zero fall back to represent.DefaultOptions.
	Options       represent.Options
	ColumnOptions layout.ColumnOptions
	Logger        *slog.Logger
}

// Service renders collections. Metadata documents are loaded once per
// collection and kept for the life of the service.
type Service struct {
	catalog  *catalog.Catalog
	source   MetadataSource
	registry *represent.Registry
	eval     layout.BoolEvaluator
	opts     represent.Options
	colOpts  layout.ColumnOptions
	log      *slog.Logger

	loads singleflight.Group
	mu    sync.RWMutex
	docs  map[string]*metadata.Document
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = represent.NewRegistry(nil, log)
	}
	opts := cfg.Options
	if opts.IsZero() {
		fns := opts.Functions
		opts = represent.DefaultOptions()
		opts.Functions = fns
	}
	return &Service{
		catalog:  cfg.Catalog,
		source:   cfg.Source,
		registry: reg,
		eval:     cfg.Evaluator,
		opts:     opts,
		colOpts:  cfg.ColumnOptions,
		log:      log.With("module", "view"),
		docs:     make(map[string]*metadata.Document),
	}
}

// Catalog returns the loaded directory, loading it on first use.
func (s *Service) Catalog(ctx context.Context) ([]catalog.Group, error) {
	if err := s.catalog.Load(ctx); err != nil {
		return nil, err
	}
	return s.catalog.Groups()
}

// ReloadCatalog fetches the directory again and drops every memoized
// metadata document.
func (s *Service) ReloadCatalog(ctx context.Context) error {
	if err := s.catalog.Reload(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.docs = make(map[string]*metadata.Document)
	s.mu.Unlock()
	return nil
}

// Metadata returns the metadata document of a collection.
func (s *Service) Metadata(ctx context.Context, applName, name string) (*metadata.Document, error) {
	if err := s.catalog.Load(ctx); err != nil {
		return nil, err
	}
	item, err := s.catalog.Lookup(applName, name)
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(item.ApplName) + "/" + strings.ToLower(item.Name)

	s.mu.RLock()
	doc, ok := s.docs[key]
	s.mu.RUnlock()
	if ok {
		return doc, nil
	}

	v, err, _ := s.loads.Do(key, func() (any, error) {
		doc, err := s.source.LoadMetadata(context.WithoutCancel(ctx), item)
		if err != nil {
			return nil, errors.Wrapf(err, "loading metadata of %s", key)
		}
		for _, d := range doc.Validate() {
			s.log.Warn("layout diagnostic", "collection", key, "code", d.Code, "path", d.Path, "error", d.Message)
		}
		s.mu.Lock()
		s.docs[key] = doc
		s.mu.Unlock()
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*metadata.Document), nil
}

// Forget drops the cached metadata document of a collection.
func (s *Service) Forget(applName, name string) {
	s.mu.Lock()
	delete(s.docs, strings.ToLower(applName)+"/"+strings.ToLower(name))
	s.mu.Unlock()
}

// Columns returns the column projection of a collection.
func (s *Service) Columns(ctx context.Context, applName, name string, fields []string) ([]layout.Column, error) {
	doc, err := s.Metadata(ctx, applName, name)
	if err != nil {
		return nil, err
	}
	return doc.Columns(fields, s.colOpts), nil
}

// Window fetches one window through store and renders it.
func (s *Service) Window(ctx context.Context, store *pagecache.Store, q Query) (*Table, error) {
	doc, err := s.Metadata(ctx, q.ApplName, q.Name)
	if err != nil {
		return nil, err
	}
	if !doc.Allows(ListAction) {
		return nil, errors.Wrapf(ErrNotPermitted, "%s on %s/%s", ListAction, q.ApplName, q.Name)
	}
	readable, err := s.catalog.Allows(q.ApplName, q.Name, http.MethodGet)
	if err != nil {
		return nil, err
	}
	if !readable {
		return nil, errors.Wrapf(catalog.ErrMethodNotAllowed, "%s on %s/%s", http.MethodGet, q.ApplName, q.Name)
	}
	for field := range q.Filters {
		if !doc.Filterable(field) {
			return nil, errors.Wrapf(ErrFilterNotAllowed, "%q", field)
		}
	}

	entry, err := store.Collection(q.ApplName, q.Name).Entry(q.Filters)
	if err != nil {
		return nil, err
	}
	w, err := entry.Fetch(ctx, q.Offset, q.Limit)
	if err != nil {
		return nil, err
	}

	cols := doc.Columns(q.Fields, s.colOpts)
	t := &Table{
		Columns:  cols,
		Rows:     make([]Row, 0, len(w.Rows)),
		Offset:   w.Offset,
		Total:    w.Total,
		Cached:   w.Cached,
		Complete: entry.Complete(),
	}
	for _, raw := range w.Rows {
		r := Row{Cells: s.Render(cols, raw)}
		if k, ok := store.RowKey(raw); ok {
			r.Key = k
		}
		t.Rows = append(t.Rows, r)
	}
	return t, nil
}

// Render formats the cells of one row. Cells hidden by a visibility
// predicate render empty; a predicate that fails to evaluate is logged and
// leaves the cell visible.
func (s *Service) Render(cols []layout.Column, row layout.Row) map[string]represent.Value {
	cells := make(map[string]represent.Value, len(cols))
	if row == nil {
		for _, c := range cols {
			cells[c.Name] = represent.Empty{}
		}
		return cells
	}
	for _, c := range cols {
		visible, err := layout.Visible(c.Element, row, s.eval)
		if err != nil {
			s.log.Warn("visibility predicate failed", "field", c.Name, "error", err)
			visible = true
		}
		if !visible {
			cells[c.Name] = represent.Empty{}
			continue
		}
		v := s.registry.Format(c.Element, row, s.opts)
		if m, ok := v.(represent.ErrorMarker); ok {
			s.log.Debug("cell carries an error", "field", c.Name, "error", m.ErrorMessage)
		}
		cells[c.Name] = v
	}
	return cells
}

// ErrorCode classifies err for clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return "not_found"
	case errors.Is(err, catalog.ErrNotLoaded):
		return "catalog_unavailable"
	case errors.Is(err, ErrFilterNotAllowed):
		return "filter_not_allowed"
	case errors.Is(err, ErrNotPermitted), errors.Is(err, catalog.ErrMethodNotAllowed):
		return "not_permitted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "backend_error"
	}
}
