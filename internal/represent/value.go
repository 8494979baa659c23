// Package represent turns raw row values into display values, one formatter
// per field category.
package represent

import (
	"encoding/json"
	"strings"
)

// InvalidType is rendered when a value does not have a shape the field's
// category accepts.
const InvalidType = "<invalid type>"

// Ellipsis is appended to char values cut at the maximum length.
const Ellipsis = "…"

// Value is a cell's display value: Text, Empty, TruncatedList, ErrorMarker or
// WeakError.
type Value interface {
	value()
}

// Text is a plain display string.
type Text string

// Empty is the absence of a value.
type Empty struct{}

// TruncatedList is a bounded summary of a list value. Total counts every
// item, Values holds the ones shown.
type TruncatedList struct {
	Total  int      `json:"total"`
	Values []string `json:"values"`
}

// ErrorMarker is an error value reported by the backend in place of a cell.
type ErrorMarker struct {
	ErrorMessage string `json:"error_message"`
}

// WeakError is a weak reference the backend could not resolve.
type WeakError struct {
	Error string `json:"error"`
}

func (Text) value()          {}
func (Empty) value()         {}
func (TruncatedList) value() {}
func (ErrorMarker) value()   {}
func (WeakError) value()     {}

// MarshalJSON renders Empty as null.
func (Empty) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// More returns how many items the summary leaves out.
func (l TruncatedList) More() int {
	if n := l.Total - len(l.Values); n > 0 {
		return n
	}
	return 0
}

// Flatten renders any value as display text. The "N more" suffix of a
// truncated list is printed for locale.
func Flatten(v Value, locale string) string {
	switch x := v.(type) {
	case nil, Empty:
		return ""
	case Text:
		return string(x)
	case TruncatedList:
		s := strings.Join(x.Values, ", ")
		if more := x.More(); more > 0 {
			suffix := moreSuffix(locale, more)
			if s == "" {
				return suffix
			}
			return s + " (" + suffix + ")"
		}
		return s
	case ErrorMarker:
		return errorText(x.ErrorMessage)
	case WeakError:
		return errorText(x.Error)
	default:
		out, _ := json.Marshal(x)
		return string(out)
	}
}

func errorText(msg string) string {
	return "<Error: " + msg + ">"
}
