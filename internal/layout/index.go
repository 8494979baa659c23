package layout

import (
	"fmt"

	"github.com/matthewbaird/metaui/internal/fieldkind"
)

// Entry is one indexed schema node with its derived data.
type Entry struct {
	Key      string
	Node     Node
	Category fieldkind.Category
	// Unnamed is set for elements keyed by a synthesised unnamed_<n> key.
	// They are not valid data-binding targets.
	Unnamed bool

	// Columns and Index are populated for inline layouts only: the sub-table
	// shown for the embedded records and a lookup over its elements.
	Columns []Column
	Index   Index
}

// Index maps element names to entries.
type Index map[string]*Entry

// Lookup returns the entry for name, or nil.
func (ix Index) Lookup(name string) *Entry {
	if ix == nil {
		return nil
	}
	return ix[name]
}

// Field returns the leaf field bound to name, or nil if name is unknown or
// not a plain field.
func (ix Index) Field(name string) *Field {
	e := ix.Lookup(name)
	if e == nil {
		return nil
	}
	f, _ := e.Node.(*Field)
	return f
}

// BuildElementsIndex indexes elements by name. Groups are transparent: their
// children are indexed into the same map. Inline layouts receive a nested
// sub-table (their own column projection) and a nested index.
//
// Elements without a name are keyed unnamed_<position>, where position counts
// every visited element. Unnamed fields and inline layouts are reported in
// the returned diagnostics.
func BuildElementsIndex(elements []Node, opts ColumnOptions) (Index, Diagnostics) {
	b := indexBuilder{opts: opts, index: make(Index)}
	b.add(elements, "")
	return b.index, b.diags
}

type indexBuilder struct {
	opts     ColumnOptions
	index    Index
	diags    Diagnostics
	position int
}

func (b *indexBuilder) add(elements []Node, path string) {
	for i, n := range elements {
		at := fmt.Sprintf("%selements[%d]", path, i)
		base := n.Base()

		key := base.Name
		unnamed := key == ""
		if unnamed {
			key = fmt.Sprintf("unnamed_%d", b.position)
		}
		b.position++

		entry := &Entry{Key: key, Node: n, Category: Category(n), Unnamed: unnamed}

		switch v := n.(type) {
		case *Group:
			b.put(entry)
			b.add(v.Elements, at+".")
			continue
		case *Inline:
			entry.Columns = ComputeColumns(v, nil, ColumnOptions{MinimizeThreshold: b.opts.MinimizeThreshold})
			sub, diags := BuildElementsIndex(v.Elements, b.opts)
			entry.Index = sub
			for _, d := range diags {
				d.Path = at + "." + d.Path
				b.diags = append(b.diags, d)
			}
		}

		if unnamed {
			b.diags = append(b.diags, &ShapeError{
				Code:      CodeUnnamedElement,
				ElementID: base.ElementID,
				Path:      at,
				Message:   fmt.Sprintf("%s element has no name and cannot bind data", classLabel(n)),
			})
		}
		b.put(entry)
	}
}

// put keeps the first entry for a name, mirroring column dedup.
func (b *indexBuilder) put(e *Entry) {
	if _, exists := b.index[e.Key]; exists {
		return
	}
	b.index[e.Key] = e
}

func classLabel(n Node) string {
	if tag := n.Base().ClassTag; tag != "" {
		return tag
	}
	return "untagged"
}
