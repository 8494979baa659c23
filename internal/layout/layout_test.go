package layout

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/metaui/internal/fieldkind"
)

func mustDecode(t *testing.T, src string) Node {
	t.Helper()
	n, err := DecodeNode([]byte(src))
	require.NoError(t, err)
	return n
}

func columnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

const nestedLayout = `{
	"class": "Section",
	"elements": [
		{"class": "Row", "elements": [
			{"class": "Field", "name": "a", "field_class": "CharField"},
			{"class": "IntegerField", "name": "b"}
		]},
		{"class": "TabControl", "elements": [
			{"class": "TabPanel", "elements": [
				{"class": "Field", "name": "a", "field_class": "IntegerField", "label": "Second A"},
				{"class": "ChoiceField", "name": "c"}
			]}
		]}
	]
}`

func TestDecodeNode_ConcreteTypes(t *testing.T) {
	root := mustDecode(t, nestedLayout)
	g, ok := root.(*Group)
	require.True(t, ok)
	assert.Equal(t, ClassSection, g.Kind())
	require.Len(t, g.Elements, 2)

	row, ok := g.Elements[0].(*Group)
	require.True(t, ok)
	f, ok := row.Elements[1].(*Field)
	require.True(t, ok)
	assert.Equal(t, "b", f.Name)
	assert.Equal(t, ClassIntegerField, f.Kind())
}

func TestDecodeNode_UnknownClass(t *testing.T) {
	leaf := mustDecode(t, `{"class": "SparklineField", "name": "spark"}`)
	_, ok := leaf.(*Field)
	assert.True(t, ok)
	assert.Equal(t, ClassUnknown, leaf.Kind())
	assert.Equal(t, fieldkind.Char, Category(leaf))

	container := mustDecode(t, `{"class": "Accordion", "elements": [{"class": "Field", "name": "x"}]}`)
	_, ok = container.(*Group)
	assert.True(t, ok)
}

func TestDecodeNode_Predicates(t *testing.T) {
	n := mustDecode(t, `{"class": "Field", "name": "x",
		"visible": {"status": ["open", "held"]},
		"enabled": "row.locked == false"}`)
	base := n.Base()
	require.NotNil(t, base.Visible)
	assert.Equal(t, []any{"open", "held"}, base.Visible.Constraints["status"])
	require.NotNil(t, base.Enabled)
	assert.Equal(t, "row.locked == false", base.Enabled.Expression)

	out, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"enabled":"row.locked == false"`)
}

func TestDecodeNode_BadJSON(t *testing.T) {
	_, err := DecodeNode([]byte(`{"class": "Section", "elements": [{"class": 5}]}`))
	assert.Error(t, err)
}

func TestComputeColumns_DedupFirstOccurrence(t *testing.T) {
	root := mustDecode(t, nestedLayout)
	cols := ComputeColumns(root, nil, ColumnOptions{})

	assert.Equal(t, []string{"a", "b", "c"}, columnNames(cols))
	// The first "a" (a CharField) wins over the later IntegerField.
	assert.Equal(t, fieldkind.Char, cols[0].Category)
	assert.Equal(t, "A", cols[0].Label)
}

func TestComputeColumns_RequestedNamesWin(t *testing.T) {
	root := mustDecode(t, `{"class": "Section", "display_list": ["a", "c"], "elements": [
		{"class": "Field", "name": "a"},
		{"class": "Field", "name": "b"},
		{"class": "Field", "name": "c"}
	]}`)

	cols := ComputeColumns(root, []string{"b", "a", "zzz", "b"}, ColumnOptions{})
	assert.Equal(t, []string{"b", "a"}, columnNames(cols))

	cols = ComputeColumns(root, nil, ColumnOptions{})
	assert.Equal(t, []string{"a", "c"}, columnNames(cols))

	cols = ComputeColumns(root, nil, ColumnOptions{DisplayList: []string{"c", "b"}})
	assert.Equal(t, []string{"c", "b"}, columnNames(cols))
}

func TestComputeColumns_EmptyDisplayListFallsThrough(t *testing.T) {
	root := mustDecode(t, `{"class": "Section", "display_list": [], "elements": [
		{"class": "Field", "name": "first"},
		{"class": "Row", "elements": [{"class": "Field", "name": "second"}]},
		{"class": "Field", "name": "third"}
	]}`)
	cols := ComputeColumns(root, nil, ColumnOptions{})
	assert.Equal(t, []string{"first", "second", "third"}, columnNames(cols))
}

func TestComputeColumns_SingletonInlineDrillThrough(t *testing.T) {
	root := mustDecode(t, `{"class": "Section", "elements": [
		{"class": "Field", "name": "id"},
		{"class": "ViewSetInlineLayout", "name": "address", "max_cardinality": 1, "elements": [
			{"class": "Field", "name": "x"},
			{"class": "Field", "name": "y"}
		]},
		{"class": "ViewSetInlineDynamicLayout", "name": "lines", "max_cardinality": 10, "list_view_items": 3, "elements": [
			{"class": "Field", "name": "qty"}
		]}
	]}`)
	cols := ComputeColumns(root, nil, ColumnOptions{})
	require.Equal(t, []string{"id", "x", "y", "lines"}, columnNames(cols))

	lines := cols[3]
	assert.Equal(t, fieldkind.InlineLayout, lines.Category)
	assert.True(t, lines.IsListView)
	_, ok := lines.Element.(*Inline)
	assert.True(t, ok)
}

func TestComputeColumns_DerivedFlags(t *testing.T) {
	root := mustDecode(t, `{"class": "Section", "elements": [
		{"class": "CharField", "name": "code", "max_length": 8},
		{"class": "CharField", "name": "title", "max_length": 200},
		{"class": "Field", "name": "flagged", "field_class": "IntegerField", "minimize": true},
		{"class": "IntegerField", "name": "qty", "max_length": 4},
		{"class": "RichEditField", "name": "body"},
		{"class": "RelatedField", "name": "tags", "field_class": "ManyRelatedField", "list_view_items": 3},
		{"class": "RelatedField", "name": "owners", "field_class": "PrimaryKeyRelatedField", "multiple": true, "list_view_items": 2},
		{"class": "RelatedField", "name": "parent", "field_class": "PrimaryKeyRelatedField", "list_view_items": 2},
		{"class": "RelatedField", "name": "refs", "field_class": "ManyRelatedField"}
	]}`)
	cols := ComputeColumns(root, nil, ColumnOptions{})
	byName := make(map[string]Column)
	for _, c := range cols {
		byName[c.Name] = c
	}

	assert.True(t, byName["code"].Minimize)
	assert.False(t, byName["title"].Minimize)
	assert.True(t, byName["flagged"].Minimize)
	assert.False(t, byName["qty"].Minimize)
	assert.True(t, byName["body"].IsHuge)
	assert.False(t, byName["title"].IsHuge)
	assert.True(t, byName["tags"].IsListView)
	assert.True(t, byName["owners"].IsListView)
	assert.False(t, byName["parent"].IsListView)
	assert.False(t, byName["refs"].IsListView)

	custom := ComputeColumns(root, nil, ColumnOptions{MinimizeThreshold: 500})
	assert.True(t, custom[1].Minimize)
}

func TestComputeColumns_Idempotent(t *testing.T) {
	root := mustDecode(t, nestedLayout)
	before, err := json.Marshal(root)
	require.NoError(t, err)

	first := ComputeColumns(root, nil, ColumnOptions{})
	second := ComputeColumns(root, nil, ColumnOptions{})
	assert.Equal(t, columnNames(first), columnNames(second))

	after, err := json.Marshal(root)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestBuildElementsIndex(t *testing.T) {
	root := mustDecode(t, `{"class": "Section", "elements": [
		{"class": "Row", "elements": [
			{"class": "ChoiceField", "name": "status"},
			{"class": "Field", "label": "orphan"}
		]},
		{"class": "ViewSetInlineLayout", "name": "lines", "display_list": ["qty"], "elements": [
			{"class": "Field", "name": "sku"},
			{"class": "IntegerField", "name": "qty"}
		]}
	]}`)
	ix, diags := BuildElementsIndex(Children(root), ColumnOptions{})

	require.NotNil(t, ix.Lookup("status"))
	assert.Equal(t, fieldkind.Choice, ix["status"].Category)
	assert.NotNil(t, ix.Field("status"))
	assert.Nil(t, ix.Field("lines"))

	// Row (position 0), status (1), orphan (2).
	assert.True(t, ix["unnamed_0"].Unnamed)
	orphan := ix["unnamed_2"]
	require.NotNil(t, orphan)
	assert.True(t, orphan.Unnamed)

	lines := ix["lines"]
	require.NotNil(t, lines)
	assert.Equal(t, fieldkind.InlineLayout, lines.Category)
	assert.Equal(t, []string{"qty"}, columnNames(lines.Columns))
	assert.NotNil(t, lines.Index.Field("sku"))

	require.Len(t, diags, 1)
	assert.Equal(t, CodeUnnamedElement, diags[0].Code)
	assert.Equal(t, "elements[0].elements[1]", diags[0].Path)
}

func TestValidate(t *testing.T) {
	root := mustDecode(t, `{"class": "Section", "display_list": ["a", "ghost"], "elements": [
		{"class": "Field", "name": "a", "element_id": "e1"},
		{"class": "Field", "name": "b", "element_id": "e1"},
		{"class": "Row", "elements": [{"class": "Field", "name": "a"}]},
		{"class": "Field"},
		{"class": "Hologram", "name": "h"},
		{"class": "WeakRelatedField", "name": "w"},
		{"class": "ViewSetInlineLayout", "name": "lines", "elements": [
			{"class": "Field", "name": "a"}
		]}
	]}`)
	diags := Validate(root)

	codes := make(map[string]int)
	for _, d := range diags {
		codes[d.Code]++
	}
	assert.Equal(t, 1, codes[CodeDuplicateElementID])
	assert.Equal(t, 1, codes[CodeDuplicateName], "inline scope may reuse a parent name")
	assert.Equal(t, 1, codes[CodeUnnamedElement])
	assert.Equal(t, 1, codes[CodeUnknownClass])
	assert.Equal(t, 1, codes[CodeUnknownDisplayName])

	err := diags.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), CodeDuplicateName)

	var shape *ShapeError
	require.True(t, errors.As(errors.Wrap(diags[0], "validate"), &shape))
	assert.Equal(t, CodeDuplicateElementID, shape.Code)

	clean := mustDecode(t, `{"class": "Section", "display_list": ["x"], "elements": [
		{"class": "Field", "name": "x", "element_id": "e1"},
		{"class": "ViewSetInlineLayout", "name": "lines", "element_id": "e2", "elements": [
			{"class": "Field", "name": "x", "element_id": "e3"}
		]}
	]}`)
	assert.NoError(t, Validate(clean).Err())
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Int Enum", Humanize("int_enum"))
	assert.Equal(t, "Int Enum", Humanize("intEnum"))
	assert.Equal(t, "Customer VAT ID", Humanize("customer.vat_id"))
	assert.Equal(t, "", Humanize(""))
}

type stubEvaluator struct {
	result bool
	seen   string
}

func (s *stubEvaluator) EvalBool(src string, _ Row) (bool, error) {
	s.seen = src
	return s.result, nil
}

func TestPredicate_Eval(t *testing.T) {
	n := mustDecode(t, `{"class": "Field", "name": "x", "visible": {"status": ["open", "held"], "kind": 2}}`)

	ok, err := Visible(n, Row{"status": "open", "kind": "2"}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Visible(n, Row{"status": "closed", "kind": 2.0}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Visible(n, Row{"status": "held"}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Enabled(n, Row{}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	expr := mustDecode(t, `{"class": "Field", "name": "y", "visible": "row.qty > 1"}`)
	_, err = Visible(expr, Row{}, nil)
	assert.ErrorIs(t, err, ErrNoEvaluator)

	ev := &stubEvaluator{result: true}
	ok, err = Visible(expr, Row{}, ev)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "row.qty > 1", ev.seen)
}
