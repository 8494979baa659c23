package layout

import (
	"github.com/matthewbaird/metaui/internal/fieldkind"
)

// DefaultMinimizeThreshold is the max_length below which char columns are
// rendered minimised.
const DefaultMinimizeThreshold = 30

// ColumnOptions tunes the column projection.
type ColumnOptions struct {
	// MinimizeThreshold defaults to DefaultMinimizeThreshold when zero.
	MinimizeThreshold int
	// DisplayList, when non-nil, replaces the display order declared on the
	// root node. Collection metadata documents use it to carry their
	// document-level display_list.
	DisplayList []string
}

func (o ColumnOptions) threshold() int {
	if o.MinimizeThreshold <= 0 {
		return DefaultMinimizeThreshold
	}
	return o.MinimizeThreshold
}

// Column is one leaf field projected for tabular display.
type Column struct {
	Name       string             `json:"name"`
	Label      string             `json:"label"`
	Element    Node               `json:"element"`
	Category   fieldkind.Category `json:"category"`
	Minimize   bool               `json:"minimize"`
	IsListView bool               `json:"is_list_view"`
	IsHuge     bool               `json:"is_huge"`
}

// ComputeColumns flattens the children of root into display columns.
//
// Leaves are discovered depth-first, left to right; the first node carrying a
// given name wins. Singleton inline layouts are not columns themselves: their
// children are walked in place. Any other inline layout is a single column.
//
// Selection: a non-empty requested list picks those names in requested order;
// otherwise a non-empty display list does the same; otherwise every
// discovered leaf is returned in discovery order. Unknown names are dropped.
func ComputeColumns(root Node, requested []string, opts ColumnOptions) []Column {
	leaves := Leaves(root)

	byName := make(map[string]Node, len(leaves))
	discovered := make([]string, 0, len(leaves))
	for _, n := range leaves {
		name := n.Base().Name
		byName[name] = n
		discovered = append(discovered, name)
	}

	order := discovered
	if len(requested) > 0 {
		order = requested
	} else if dl := displayList(root, opts); len(dl) > 0 {
		order = dl
	}

	cols := make([]Column, 0, len(order))
	emitted := make(map[string]bool, len(order))
	for _, name := range order {
		n, ok := byName[name]
		if !ok || emitted[name] {
			continue
		}
		emitted[name] = true
		cols = append(cols, newColumn(n, opts))
	}
	return cols
}

func displayList(root Node, opts ColumnOptions) []string {
	if opts.DisplayList != nil {
		return opts.DisplayList
	}
	return DeclaredDisplayList(root)
}

// Leaves returns the named, deduplicated leaf nodes reachable from root's
// children in traversal order, drilling through singleton inline layouts.
func Leaves(root Node) []Node {
	var out []Node
	seen := make(map[string]bool)
	var walk func(nodes []Node)
	walk = func(nodes []Node) {
		for _, n := range nodes {
			switch v := n.(type) {
			case *Group:
				walk(v.Elements)
				continue
			case *Inline:
				if v.Singleton() {
					walk(v.Elements)
					continue
				}
			}
			name := n.Base().Name
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, n)
		}
	}
	walk(Children(root))
	return out
}

func newColumn(n Node, opts ColumnOptions) Column {
	base := n.Base()
	cat := Category(n)
	col := Column{
		Name:     base.Name,
		Label:    base.Label,
		Element:  n,
		Category: cat,
		IsHuge:   cat == fieldkind.RichEdit,
	}
	if col.Label == "" {
		col.Label = Humanize(base.Name)
	}

	switch v := n.(type) {
	case *Field:
		col.Minimize = v.Minimize ||
			(cat.IsCharLike() && v.MaxLength != nil && *v.MaxLength < opts.threshold())
		col.IsListView = IsMultiValued(v) && v.ListViewItems > 0
	case *Inline:
		col.IsListView = !v.Singleton() && v.ListViewItems > 0
	}
	return col
}

// IsMultiValued reports whether a field's value is a list of relations.
func IsMultiValued(f *Field) bool {
	cat := Category(f)
	if cat == fieldkind.ManyRelated {
		return true
	}
	return f.Multiple && cat.IsRelation()
}
