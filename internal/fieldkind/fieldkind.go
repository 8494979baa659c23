// Package fieldkind classifies layout nodes into the semantic field categories
// used by the representation registry.
//
// Classification is a total function over the three tags a node can carry.
// Tags are consulted in order (field_class, then class, then input_type) and the
// first recognised one decides. Anything unrecognised resolves to Char so a
// schema that grows new field types still renders as text.
package fieldkind

import "strings"

// Category is the semantic value kind of a field, independent of how the
// schema spells its tags.
type Category int

const (
	Char Category = iota
	Integer
	Decimal
	Boolean
	Date
	Time
	DateTime
	Choice
	RichEdit
	Computed
	Related
	PrimaryKeyRelated
	ManyRelated
	WeakRelated
	InlineLayout
)

// String returns the category name as it appears in diagnostics and API output.
func (c Category) String() string {
	switch c {
	case Char:
		return "Char"
	case Integer:
		return "Integer"
	case Decimal:
		return "Decimal"
	case Boolean:
		return "Boolean"
	case Date:
		return "Date"
	case Time:
		return "Time"
	case DateTime:
		return "DateTime"
	case Choice:
		return "Choice"
	case RichEdit:
		return "RichEdit"
	case Computed:
		return "Computed"
	case Related:
		return "Related"
	case PrimaryKeyRelated:
		return "PrimaryKeyRelated"
	case ManyRelated:
		return "ManyRelated"
	case WeakRelated:
		return "WeakRelated"
	case InlineLayout:
		return "InlineLayout"
	default:
		return "unknown"
	}
}

// MarshalText lets categories serialise by name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// IsCharLike reports whether values of the category are free text and
// therefore candidates for column minimisation.
func (c Category) IsCharLike() bool {
	return c == Char
}

// IsRelation reports whether the category dereferences other records.
func (c Category) IsRelation() bool {
	switch c {
	case Related, PrimaryKeyRelated, ManyRelated, WeakRelated:
		return true
	default:
		return false
	}
}

// IsTemporal reports whether the category formats through the locale date layouts.
func (c Category) IsTemporal() bool {
	return c == Date || c == Time || c == DateTime
}

// Tags are the classification inputs a layout node exposes.
type Tags struct {
	Class      string // node "class" tag, e.g. "ChoiceField"
	FieldClass string // "field_class" sub-tag, e.g. "DecimalField"
	InputType  string // widget hint, e.g. "checkbox"
}

// byTypeName covers both the detailed schema-class spelling ("IntegerField")
// and the legacy flat spelling ("Integer"); keys are normalised by typeKey.
var byTypeName = map[string]Category{
	"integer":              Integer,
	"biginteger":           Integer,
	"smallinteger":         Integer,
	"positiveinteger":      Integer,
	"positivesmallinteger": Integer,
	"auto":                 Integer,
	"bigauto":              Integer,
	"decimal":              Decimal,
	"float":                Decimal,
	"char":                 Char,
	"text":                 Char,
	"string":               Char,
	"email":                Char,
	"url":                  Char,
	"slug":                 Char,
	"uuid":                 Char,
	"ipaddress":            Char,
	"genericipaddress":     Char,
	"chart":                Char,
	"boolean":              Boolean,
	"nullboolean":          Boolean,
	"date":                 Date,
	"time":                 Time,
	"datetime":             DateTime,
	"choice":               Choice,
	"multiplechoice":       Choice,
	"richedit":             RichEdit,
	"html":                 RichEdit,
	"computed":             Computed,
	"related":              Related,
	"slugrelated":          Related,
	"hyperlinkedrelated":   Related,
	"primarykeyrelated":    PrimaryKeyRelated,
	"manyrelated":          ManyRelated,
	"reversereference":     ManyRelated,
	"weakrelated":          WeakRelated,

	"viewsetinlinelayout":             InlineLayout,
	"viewsetinlinedynamiclayout":      InlineLayout,
	"viewsetinlinedynamicmodellayout": InlineLayout,
}

var byInputType = map[string]Category{
	"checkbox":       Boolean,
	"number":         Decimal,
	"date":           Date,
	"time":           Time,
	"datetime":       DateTime,
	"datetime-local": DateTime,
	"select":         Choice,
}

// typeKey lower-cases a tag and strips a trailing "field", so "IntegerField",
// "integer_field" and "Integer" share a key. The bare "Field" class yields ""
// which is never a known key.
func typeKey(tag string) string {
	k := strings.ToLower(strings.TrimSpace(tag))
	k = strings.ReplaceAll(k, "_", "")
	return strings.TrimSuffix(k, "field")
}

// Lookup resolves a single class or field_class tag.
func Lookup(tag string) (Category, bool) {
	if tag == "" {
		return Char, false
	}
	c, ok := byTypeName[typeKey(tag)]
	return c, ok
}

// Classify maps node tags to a category. It never fails.
func Classify(t Tags) Category {
	if c, ok := Lookup(t.FieldClass); ok {
		return c
	}
	if c, ok := Lookup(t.Class); ok {
		return c
	}
	if t.InputType != "" {
		if c, ok := byInputType[strings.ToLower(t.InputType)]; ok {
			return c
		}
	}
	return Char
}
