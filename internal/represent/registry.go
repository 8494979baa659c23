package represent

import (
	"log/slog"
	"sync"

	"github.com/matthewbaird/metaui/internal/expr"
	"github.com/matthewbaird/metaui/internal/fieldkind"
	"github.com/matthewbaird/metaui/internal/layout"
)

// Options carries the formatting settings for one call. Per-field settings
// (Multiple, ListViewItems) are filled in from the field by Registry.Format.
type Options struct {
	// Locale is a BCP 47 tag such as "en-US". Empty means ISO dates.
	Locale string
	// RoundDecimals is the number of fractional digits decimals render with.
	RoundDecimals int
	// MaximumLength cuts char values longer than this many runes. Zero
	// disables truncation.
	MaximumLength int
	// Multiple allows list values for relation fields.
	Multiple bool
	// EmptyArrayValue is rendered for an empty relation list.
	EmptyArrayValue string
	// ListViewItems caps list summaries. Zero shows every item as text.
	ListViewItems int
	// Functions is handed to snippets as their "fn" bundle.
	Functions expr.Functions
}

// DefaultOptions returns the settings used when nothing is configured. A
// zero Options renders decimals without fractional digits and empty lists as
// "", so callers start from DefaultOptions rather than Options{}.
func DefaultOptions() Options {
	return Options{
		RoundDecimals:   2,
		EmptyArrayValue: "[]",
	}
}

// IsZero reports whether no formatting setting was chosen. Functions is not
// a formatting setting and is ignored.
func (o Options) IsZero() bool {
	return o.Locale == "" && o.RoundDecimals == 0 && o.MaximumLength == 0 &&
		!o.Multiple && o.EmptyArrayValue == "" && o.ListViewItems == 0
}

// Formatter renders the raw value v of node n taken from row.
type Formatter func(n layout.Node, v any, row layout.Row, o Options) Value

// Registry maps field categories to formatters. Derived per-field state
// (choice maps) lives in side tables keyed by node, so schema trees are never
// written to. A Registry is safe for concurrent use.
type Registry struct {
	formatters map[fieldkind.Category]Formatter
	compiler   *expr.Compiler
	log        *slog.Logger

	mu      sync.RWMutex
	choices map[*layout.Field]map[string]string
}

// NewRegistry returns a registry with a formatter for every category.
// Snippets of computed fields and inline item expressions are compiled with
// compiler; a nil compiler renders them as errors.
func NewRegistry(compiler *expr.Compiler, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		compiler: compiler,
		log:      log.With("module", "represent"),
		choices:  make(map[*layout.Field]map[string]string),
	}
	r.formatters = map[fieldkind.Category]Formatter{
		fieldkind.Char:              formatChar,
		fieldkind.Integer:           formatInteger,
		fieldkind.Decimal:           formatDecimal,
		fieldkind.Boolean:           formatBoolean,
		fieldkind.Date:              formatDate,
		fieldkind.Time:              formatTime,
		fieldkind.DateTime:          formatDateTime,
		fieldkind.Choice:            r.formatChoice,
		fieldkind.RichEdit:          formatChar,
		fieldkind.Computed:          r.formatComputed,
		fieldkind.Related:           formatRelated,
		fieldkind.PrimaryKeyRelated: formatRelated,
		fieldkind.ManyRelated:       formatRelated,
		fieldkind.WeakRelated:       formatWeakRelated,
		fieldkind.InlineLayout:      r.formatInline,
	}
	return r
}

// Lookup returns the formatter for cat, falling back to the char formatter.
func (r *Registry) Lookup(cat fieldkind.Category) Formatter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.formatters[cat]; ok {
		return fn
	}
	return formatChar
}

// Format renders the cell of row bound to n.
func (r *Registry) Format(n layout.Node, row layout.Row, o Options) Value {
	var v any
	if name := n.Base().Name; name != "" {
		v = row[name]
	}
	switch x := n.(type) {
	case *layout.Field:
		o.Multiple = o.Multiple || layout.IsMultiValued(x)
		if x.ListViewItems > 0 {
			o.ListViewItems = x.ListViewItems
		}
	case *layout.Inline:
		if x.ListViewItems > 0 {
			o.ListViewItems = x.ListViewItems
		}
	}
	return r.Lookup(layout.Category(n))(n, v, row, o)
}

// AsString renders the cell of row bound to n as display text.
func (r *Registry) AsString(n layout.Node, row layout.Row, o Options) string {
	return Flatten(r.Format(n, row, o), o.Locale)
}

// choiceMap returns the value to label map of a choice field, building it on
// first use.
func (r *Registry) choiceMap(f *layout.Field) map[string]string {
	r.mu.RLock()
	m, ok := r.choices[f]
	r.mu.RUnlock()
	if ok {
		return m
	}

	m = make(map[string]string, len(f.Choices))
	for _, c := range f.Choices {
		key := scalarKey(c.Value)
		if _, dup := m[key]; !dup {
			m[key] = c.DisplayName
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.choices[f]; ok {
		return existing
	}
	r.choices[f] = m
	return m
}
