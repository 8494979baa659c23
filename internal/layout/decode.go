package layout

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// DecodeNode decodes one schema node, choosing the concrete type from its
// "class" tag. Unknown classes decode as leaf fields unless they carry child
// elements, in which case they are treated as plain groups.
func DecodeNode(data []byte) (Node, error) {
	var probe struct {
		Class    string          `json:"class"`
		Elements json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.Wrap(err, "decoding layout node")
	}

	class := ParseClass(probe.Class)
	var n Node
	switch {
	case class.IsGroup():
		n = &Group{}
	case class.IsInline():
		n = &Inline{}
	case class == ClassUnknown && hasElements(probe.Elements):
		n = &Group{}
	default:
		n = &Field{}
	}
	if err := json.Unmarshal(data, n); err != nil {
		return nil, errors.Wrapf(err, "decoding %s node", probe.Class)
	}
	return n, nil
}

func hasElements(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func decodeElements(raws []json.RawMessage) ([]Node, error) {
	nodes := make([]Node, 0, len(raws))
	for i, raw := range raws {
		n, err := DecodeNode(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "elements[%d]", i)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// UnmarshalJSON decodes a group and its child elements.
func (g *Group) UnmarshalJSON(data []byte) error {
	var aux struct {
		Common
		DisplayList []string          `json:"display_list"`
		Elements    []json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	elems, err := decodeElements(aux.Elements)
	if err != nil {
		return err
	}
	g.Common = aux.Common
	g.DisplayList = aux.DisplayList
	g.Elements = elems
	return nil
}

// UnmarshalJSON decodes an inline layout and its child elements.
func (i *Inline) UnmarshalJSON(data []byte) error {
	type plain Inline
	var aux struct {
		plain
		Elements []json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	elems, err := decodeElements(aux.Elements)
	if err != nil {
		return err
	}
	*i = Inline(aux.plain)
	i.Elements = elems
	return nil
}

// Predicate is a visibility or enablement rule. It is either a literal
// constraint map (row key → expected value or list of accepted values) or an
// opaque boolean expression evaluated against the row.
type Predicate struct {
	Constraints map[string]any
	Expression  string
}

// UnmarshalJSON accepts either a JSON object or a JSON string.
func (p *Predicate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &p.Expression)
	}
	return json.Unmarshal(data, &p.Constraints)
}

// MarshalJSON writes the predicate back in the form it was declared.
func (p Predicate) MarshalJSON() ([]byte, error) {
	if p.Expression != "" {
		return json.Marshal(p.Expression)
	}
	return json.Marshal(p.Constraints)
}
