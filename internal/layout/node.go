// Package layout models the self-describing layout schema a backend publishes
// for each collection, and walks it to produce column projections and
// name-keyed element indices.
//
// The schema is a closed sum type: every node is a *Group, a *Field or an
// *Inline. Trees are treated as immutable once decoded; anything derived from
// them (columns, indices, compiled expressions, choice maps) is kept in side
// tables owned by the caller.
package layout

import (
	"github.com/matthewbaird/metaui/internal/fieldkind"
)

// Class is the closed set of node "class" tags the walker understands.
type Class int

const (
	ClassUnknown Class = iota
	ClassSection
	ClassRow
	ClassTabControl
	ClassTabPanel
	ClassField
	ClassCharField
	ClassIntegerField
	ClassRichEditField
	ClassChoiceField
	ClassRelatedField
	ClassComputedField
	ClassReverseReferenceField
	ClassChartField
	ClassInlineLayout
	ClassInlineDynamicLayout
	ClassInlineDynamicModelLayout
)

var classNames = map[Class]string{
	ClassSection:                  "Section",
	ClassRow:                      "Row",
	ClassTabControl:               "TabControl",
	ClassTabPanel:                 "TabPanel",
	ClassField:                    "Field",
	ClassCharField:                "CharField",
	ClassIntegerField:             "IntegerField",
	ClassRichEditField:            "RichEditField",
	ClassChoiceField:              "ChoiceField",
	ClassRelatedField:             "RelatedField",
	ClassComputedField:            "ComputedField",
	ClassReverseReferenceField:    "ReverseReferenceField",
	ClassChartField:               "ChartField",
	ClassInlineLayout:             "ViewSetInlineLayout",
	ClassInlineDynamicLayout:      "ViewSetInlineDynamicLayout",
	ClassInlineDynamicModelLayout: "ViewSetInlineDynamicModelLayout",
}

var classByName = func() map[string]Class {
	m := make(map[string]Class, len(classNames))
	for c, n := range classNames {
		m[n] = c
	}
	return m
}()

func (c Class) String() string {
	if n, ok := classNames[c]; ok {
		return n
	}
	return "unknown"
}

// ParseClass maps a class tag to its Class. Unrecognised tags return ClassUnknown.
func ParseClass(tag string) Class {
	return classByName[tag]
}

// IsGroup reports whether the class is a pure container.
func (c Class) IsGroup() bool {
	switch c {
	case ClassSection, ClassRow, ClassTabControl, ClassTabPanel:
		return true
	default:
		return false
	}
}

// IsInline reports whether the class is a nested sub-resource layout.
func (c Class) IsInline() bool {
	switch c {
	case ClassInlineLayout, ClassInlineDynamicLayout, ClassInlineDynamicModelLayout:
		return true
	default:
		return false
	}
}

// Row is one record as delivered by the backend.
type Row = map[string]any

// Node is a layout schema node. Implementations are *Group, *Field and *Inline.
type Node interface {
	// Base returns the attributes every node shares.
	Base() *Common
	// Kind returns the parsed class tag.
	Kind() Class
	// Tags returns the classifier inputs for the node.
	Tags() fieldkind.Tags
	node()
}

// Common holds the attributes shared by every node.
type Common struct {
	ClassTag  string         `json:"class"`
	ElementID string         `json:"element_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Label     string         `json:"label,omitempty"`
	HelpText  string         `json:"help_text,omitempty"`
	Visible   *Predicate     `json:"visible,omitempty"`
	Enabled   *Predicate     `json:"enabled,omitempty"`
	Grid      map[string]any `json:"grid,omitempty"`
}

// Group is a container node (Section, Row, TabControl, TabPanel). It carries
// no value of its own.
type Group struct {
	Common
	DisplayList []string `json:"display_list,omitempty"`
	Elements    []Node   `json:"elements"`
}

// Choice is one entry of a choice field's value list.
type Choice struct {
	Value       any    `json:"value"`
	DisplayName string `json:"display_name"`
}

// Endpoint describes where a related field's target records live.
type Endpoint struct {
	ApplName     string `json:"appl_name,omitempty"`
	Name         string `json:"name,omitempty"`
	Href         string `json:"href,omitempty"`
	ValueField   string `json:"value_field,omitempty"`
	DisplayField string `json:"display_field,omitempty"`
}

// Field is a leaf node bound to one row key.
type Field struct {
	Common
	FieldClass    string    `json:"field_class,omitempty"`
	InputType     string    `json:"input_type,omitempty"`
	Choices       []Choice  `json:"choices,omitempty"`
	Related       *Endpoint `json:"related,omitempty"`
	MinValue      *float64  `json:"min_value,omitempty"`
	MaxValue      *float64  `json:"max_value,omitempty"`
	MinLength     *int      `json:"min_length,omitempty"`
	MaxLength     *int      `json:"max_length,omitempty"`
	Multiple      bool      `json:"multiple,omitempty"`
	ListViewItems int       `json:"list_view_items,omitempty"`
	Minimize      bool      `json:"minimize,omitempty"`
	Expression    string    `json:"expression,omitempty"`
	Default       any       `json:"default,omitempty"`
}

// Inline is a nested, self-describing layout for embedded records.
type Inline struct {
	Common
	MinCardinality     int      `json:"min_cardinality,omitempty"`
	MaxCardinality     *int     `json:"max_cardinality,omitempty"`
	DisplayList        []string `json:"display_list,omitempty"`
	ItemRepresentation string   `json:"item_representation,omitempty"`
	NaturalKey         []string `json:"natural_key,omitempty"`
	ItemExpression     string   `json:"item_expression,omitempty"`
	ListViewItems      int      `json:"list_view_items,omitempty"`
	Elements           []Node   `json:"elements"`
}

func (g *Group) Base() *Common  { return &g.Common }
func (f *Field) Base() *Common  { return &f.Common }
func (i *Inline) Base() *Common { return &i.Common }

func (g *Group) Kind() Class  { return ParseClass(g.ClassTag) }
func (f *Field) Kind() Class  { return ParseClass(f.ClassTag) }
func (i *Inline) Kind() Class { return ParseClass(i.ClassTag) }

func (g *Group) Tags() fieldkind.Tags { return fieldkind.Tags{Class: g.ClassTag} }
func (i *Inline) Tags() fieldkind.Tags {
	// Inline layouts always present as inline collections, whatever their
	// class spelling.
	return fieldkind.Tags{Class: ClassInlineLayout.String()}
}
func (f *Field) Tags() fieldkind.Tags {
	return fieldkind.Tags{Class: f.ClassTag, FieldClass: f.FieldClass, InputType: f.InputType}
}

func (*Group) node()  {}
func (*Field) node()  {}
func (*Inline) node() {}

// Singleton reports whether the inline layout holds exactly one embedded
// record, in which case its fields are flattened into the parent.
func (i *Inline) Singleton() bool {
	return i.MaxCardinality != nil && *i.MaxCardinality == 1
}

// Children returns the ordered child list of a container node, or nil for a
// leaf field.
func Children(n Node) []Node {
	switch v := n.(type) {
	case *Group:
		return v.Elements
	case *Inline:
		return v.Elements
	default:
		return nil
	}
}

// DeclaredDisplayList returns the preferred display order a node declares.
func DeclaredDisplayList(n Node) []string {
	switch v := n.(type) {
	case *Group:
		return v.DisplayList
	case *Inline:
		return v.DisplayList
	default:
		return nil
	}
}

// Category classifies a node.
func Category(n Node) fieldkind.Category {
	return fieldkind.Classify(n.Tags())
}
