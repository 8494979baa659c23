package represent

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"github.com/matthewbaird/metaui/internal/layout"
)

var integerPattern = regexp.MustCompile(`^-?\d+$`)

func formatInteger(_ layout.Node, v any, _ layout.Row, _ Options) Value {
	switch x := v.(type) {
	case nil:
		return Empty{}
	case bool:
		if x {
			return Text("1")
		}
		return Text("0")
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return Empty{}
		}
		if !integerPattern.MatchString(s) {
			return Text(InvalidType)
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Text(strconv.FormatInt(n, 10))
		}
		// Beyond int64: the digits are already canonical enough to show.
		return Text(s)
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return Text(InvalidType)
	}
	r := math.Round(f)
	if r == 0 {
		r = 0 // drop the sign of -0
	}
	return Text(strconv.FormatFloat(r, 'f', 0, 64))
}

func formatDecimal(_ layout.Node, v any, _ layout.Row, o Options) Value {
	var f float64
	switch x := v.(type) {
	case nil:
		return Empty{}
	case bool:
		return Text(InvalidType)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return Empty{}
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Text(InvalidType)
		}
		f = parsed
	default:
		n, ok := toFloat(v)
		if !ok {
			return Text(InvalidType)
		}
		f = n
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Text(InvalidType)
	}
	digits := o.RoundDecimals
	if digits < 0 {
		digits = -1
	}
	return Text(strconv.FormatFloat(f, 'f', digits, 64))
}

func formatBoolean(_ layout.Node, v any, _ layout.Row, _ Options) Value {
	switch x := v.(type) {
	case nil:
		return Empty{}
	case bool:
		return Text(strconv.FormatBool(x))
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return Text(InvalidType)
		}
		return Text(strconv.FormatBool(b))
	}
	if f, ok := toFloat(v); ok {
		return Text(strconv.FormatBool(f != 0))
	}
	return Text(InvalidType)
}

func formatChar(_ layout.Node, v any, _ layout.Row, o Options) Value {
	if v == nil {
		return Empty{}
	}
	return Text(truncate(stringify(v), o.MaximumLength))
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + Ellipsis
}

func (r *Registry) formatChoice(n layout.Node, v any, _ layout.Row, o Options) Value {
	if v == nil {
		return Empty{}
	}
	f, ok := n.(*layout.Field)
	if !ok {
		return Text(stringify(v))
	}
	labels := r.choiceMap(f)
	label := func(item any) string {
		if l, hit := labels[scalarKey(item)]; hit {
			return l
		}
		return "<value: " + stringify(item) + ">"
	}

	if list, isList := v.([]any); isList {
		if len(list) == 0 {
			return Text(o.EmptyArrayValue)
		}
		return summarize(list, o, label)
	}
	return Text(label(v))
}

func temporal(pick func(dateLayouts) string) Formatter {
	return func(_ layout.Node, v any, _ layout.Row, o Options) Value {
		if v == nil {
			return Empty{}
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return Empty{}
		}
		t, ok := parseTime(v)
		if !ok {
			switch v.(type) {
			case string, float64, float32, int, int64, json.Number:
				return Text("<invalid date: " + stringify(v) + ">")
			}
			return Text(InvalidType)
		}
		return Text(t.Format(pick(resolveLocale(o.Locale).layouts)))
	}
}

var (
	formatDate     = temporal(func(l dateLayouts) string { return l.date })
	formatTime     = temporal(func(l dateLayouts) string { return l.time })
	formatDateTime = temporal(func(l dateLayouts) string { return l.dateTime })
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"15:04:05.999999999",
	"15:04:05",
	"15:04",
}

// parseTime accepts a time.Time, an ISO-like string or epoch milliseconds.
func parseTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, true
	case string:
		s := strings.TrimSpace(x)
		for _, l := range timeLayouts {
			if t, err := time.Parse(l, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
	if ms, ok := toFloat(v); ok && !math.IsNaN(ms) && !math.IsInf(ms, 0) {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}

func formatRelated(_ layout.Node, v any, _ layout.Row, o Options) Value {
	switch x := v.(type) {
	case nil:
		return Empty{}
	case []any:
		if !o.Multiple {
			return Text(InvalidType)
		}
		if len(x) == 0 {
			return Text(o.EmptyArrayValue)
		}
		return summarize(x, o, relatedText)
	}
	return Text(relatedText(v))
}

// relatedText renders one relation: its name, else <id: id>, else <id: v>.
func relatedText(v any) string {
	if v == nil {
		return ""
	}
	if m, ok := v.(map[string]any); ok {
		if name := m["name"]; name != nil {
			return stringify(name)
		}
		if id := m["id"]; id != nil {
			return "<id: " + stringify(id) + ">"
		}
	}
	return "<id: " + stringify(v) + ">"
}

func formatWeakRelated(_ layout.Node, v any, _ layout.Row, o Options) Value {
	switch x := v.(type) {
	case nil:
		return Empty{}
	case []any:
		if !o.Multiple {
			return Text(InvalidType)
		}
		if len(x) == 0 {
			return Text(o.EmptyArrayValue)
		}
		return summarize(x, o, weakText)
	case map[string]any:
		if e := x["error"]; e != nil {
			return WeakError{Error: stringify(e)}
		}
	}
	return Text(weakText(v))
}

func weakText(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return stringify(v)
	}
	if e := m["error"]; e != nil {
		return errorText(stringify(e))
	}
	if name := m["name"]; name != nil {
		return stringify(name)
	}
	if ref := m["refid"]; ref != nil {
		return stringify(ref)
	}
	return stringify(v)
}

func (r *Registry) formatComputed(n layout.Node, v any, row layout.Row, o Options) Value {
	f, _ := n.(*layout.Field)
	if f == nil || f.Expression == "" {
		if m, ok := v.(map[string]any); ok {
			if msg, ok := m["error_message"]; ok {
				return ErrorMarker{ErrorMessage: stringify(msg)}
			}
		}
		return formatChar(n, v, row, o)
	}

	out, err := r.evaluate(f.Expression, row, o)
	if err != nil {
		return Text(errorText(err.Error()))
	}
	return formatChar(n, out, row, o)
}

func (r *Registry) formatInline(n layout.Node, v any, _ layout.Row, o Options) Value {
	in, _ := n.(*layout.Inline)
	item := func(v any) string { return r.itemText(in, v, o) }

	switch x := v.(type) {
	case nil:
		return Empty{}
	case []any:
		if len(x) == 0 {
			return Text(o.EmptyArrayValue)
		}
		return summarize(x, o, item)
	case map[string]any:
		return Text(item(x))
	}
	return Text(InvalidType)
}

// itemText renders one embedded record of an inline layout. It tries, in
// order: the item expression, the item path, the natural key, then the
// record's own name, code or id.
func (r *Registry) itemText(in *layout.Inline, item any, o Options) string {
	m, ok := item.(map[string]any)
	if !ok {
		return stringify(item)
	}
	if in != nil {
		if in.ItemExpression != "" {
			out, err := r.evaluate(in.ItemExpression, m, o)
			if err != nil {
				return errorText(err.Error())
			}
			return stringify(out)
		}
		if in.ItemRepresentation != "" {
			if val, found := lookupPath(m, in.ItemRepresentation); found && val != nil {
				if obj, isObj := val.(map[string]any); isObj && obj["name"] != nil {
					return stringify(obj["name"])
				}
				return stringify(val)
			}
		}
		if len(in.NaturalKey) > 0 {
			parts := make([]string, len(in.NaturalKey))
			for i, key := range in.NaturalKey {
				val, _ := lookupPath(m, key)
				parts[i] = stringify(val)
			}
			return strings.Join(parts, ":")
		}
	}
	for _, key := range []string{"name", "code", "id"} {
		if val := m[key]; val != nil {
			return stringify(val)
		}
	}
	return stringify(m)
}

// evaluate compiles and runs a snippet. Failures are logged and returned so
// the caller can render them in place.
func (r *Registry) evaluate(src string, row layout.Row, o Options) (any, error) {
	if r.compiler == nil {
		return nil, errors.New("no expression compiler configured")
	}
	p, err := r.compiler.Compile(src)
	if err != nil {
		// The compiler reports each failing snippet once.
		r.log.Debug("skipping snippet that does not compile", "source", src)
		return nil, err
	}
	out, err := p.EvaluateWith(row, o.Functions)
	if err != nil {
		r.log.Warn("snippet evaluation failed", "source", src, "error", err)
		return nil, err
	}
	return out, nil
}

// summarize renders a list through text, capped at o.ListViewItems. Without
// a cap the items are joined into plain text.
func summarize(items []any, o Options, text func(any) string) Value {
	shown := items
	if o.ListViewItems > 0 && len(items) > o.ListViewItems {
		shown = items[:o.ListViewItems]
	}
	values := make([]string, len(shown))
	for i, item := range shown {
		values[i] = text(item)
	}
	if o.ListViewItems <= 0 {
		return Text(strings.Join(values, ", "))
	}
	return TruncatedList{Total: len(items), Values: values}
}

func lookupPath(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// stringify renders a raw value as plain text: lists comma-joined, objects
// as JSON.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339)
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		out, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(out)
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// scalarKey normalises a value for choice lookups so that 2, 2.0 and "2"
// address the same entry.
func scalarKey(v any) string {
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return s
	}
	return stringify(v)
}
