// Package metadata decodes a collection's metadata document and memoizes
// what is derived from its layout.
package metadata

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/matthewbaird/metaui/internal/extension"
	"github.com/matthewbaird/metaui/internal/layout"
)

// Document is the metadata a backend publishes for one collection.
//
// Derived data (columns, index, extension registry) is computed on first use
// and kept on the document; the layout tree itself is never modified.
type Document struct {
	Layout           layout.Node
	PermittedActions []string
	// DisplayList is nil when the document does not declare one, in which
	// case the root layout's own display_list applies.
	DisplayList     []string
	FilterSetFields []string
	Extensions      []extension.Descriptor

	mu         sync.Mutex
	columns    map[int][]layout.Column
	index      layout.Index
	indexDiags layout.Diagnostics
	indexed    bool
	registry   *extension.Registry
}

// wireDocument is the JSON shape. "extentions" is spelled as the backend
// spells it.
type wireDocument struct {
	Layout           json.RawMessage        `json:"layout"`
	PermittedActions []string               `json:"permitted_actions"`
	DisplayList      []string               `json:"display_list,omitempty"`
	FilterSetFields  []string               `json:"filterset_fields"`
	Extensions       []extension.Descriptor `json:"extentions,omitempty"`
}

// Parse decodes a metadata document.
func Parse(data []byte) (*Document, error) {
	var w wireDocument
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.Wrap(err, "decoding metadata document")
	}
	if len(w.Layout) == 0 || string(w.Layout) == "null" {
		return nil, errors.New("metadata document has no layout")
	}
	root, err := layout.DecodeNode(w.Layout)
	if err != nil {
		return nil, errors.Wrap(err, "decoding metadata layout")
	}
	return &Document{
		Layout:           root,
		PermittedActions: w.PermittedActions,
		DisplayList:      w.DisplayList,
		FilterSetFields:  w.FilterSetFields,
		Extensions:       w.Extensions,
	}, nil
}

// MarshalJSON writes the document in the shape Parse reads.
func (d *Document) MarshalJSON() ([]byte, error) {
	root, err := json.Marshal(d.Layout)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireDocument{
		Layout:           root,
		PermittedActions: d.PermittedActions,
		DisplayList:      d.DisplayList,
		FilterSetFields:  d.FilterSetFields,
		Extensions:       d.Extensions,
	})
}

// Columns projects the layout into columns. The default projection (no
// requested names and no caller display list) is computed once per threshold
// and reused.
func (d *Document) Columns(requested []string, opts layout.ColumnOptions) []layout.Column {
	if len(requested) > 0 || opts.DisplayList != nil {
		if opts.DisplayList == nil {
			opts.DisplayList = d.DisplayList
		}
		return layout.ComputeColumns(d.Layout, requested, opts)
	}
	opts.DisplayList = d.DisplayList

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.columns == nil {
		d.columns = make(map[int][]layout.Column)
	}
	cols, ok := d.columns[opts.MinimizeThreshold]
	if !ok {
		cols = layout.ComputeColumns(d.Layout, nil, opts)
		d.columns[opts.MinimizeThreshold] = cols
	}
	return cols
}

// Index returns the name index over the layout's top-level elements, with
// the diagnostics found while building it.
func (d *Document) Index() (layout.Index, layout.Diagnostics) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.indexed {
		d.index, d.indexDiags = layout.BuildElementsIndex(layout.Children(d.Layout), layout.ColumnOptions{})
		d.indexed = true
	}
	return d.index, d.indexDiags
}

// Validate checks the layout's structure.
func (d *Document) Validate() layout.Diagnostics {
	return layout.Validate(d.Layout)
}

// ExtensionRegistry returns the indexed extensions.
func (d *Document) ExtensionRegistry() *extension.Registry {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.registry == nil {
		d.registry = extension.NewRegistry(d.Extensions)
	}
	return d.registry
}

// Permits reports whether the backend permits action on the collection.
func (d *Document) Permits(action string) bool {
	for _, a := range d.PermittedActions {
		if strings.EqualFold(a, action) {
			return true
		}
	}
	return false
}

// Allows reports whether action may be offered. A document that declares no
// permitted actions places no restriction.
func (d *Document) Allows(action string) bool {
	return len(d.PermittedActions) == 0 || d.Permits(action)
}

// Filterable reports whether field can be used as a filter.
func (d *Document) Filterable(field string) bool {
	for _, f := range d.FilterSetFields {
		if f == field {
			return true
		}
	}
	return false
}
