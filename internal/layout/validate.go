package layout

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/matthewbaird/metaui/internal/fieldkind"
)

// Shape error codes.
const (
	CodeUnnamedElement     = "UNNAMED_ELEMENT"
	CodeDuplicateElementID = "DUPLICATE_ELEMENT_ID"
	CodeDuplicateName      = "DUPLICATE_NAME"
	CodeUnknownClass       = "UNKNOWN_CLASS"
	CodeUnknownDisplayName = "UNKNOWN_DISPLAY_NAME"
)

// ErrSchemaShape marks every ShapeError so callers can test with errors.Is.
var ErrSchemaShape = errors.New("schema shape error")

// ShapeError describes a node that violates a structural expectation of the
// schema. The walker skips or tolerates such nodes; they are collected so
// strict callers can surface them.
type ShapeError struct {
	Code      string `json:"code"`
	ElementID string `json:"element_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Path      string `json:"path"`
	Message   string `json:"message"`
}

func (e *ShapeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Path)
	if e.ElementID != "" {
		fmt.Fprintf(&b, " (%s)", e.ElementID)
	}
	fmt.Fprintf(&b, ": %s: %s", e.Code, e.Message)
	return b.String()
}

// Is lets errors.Is(err, ErrSchemaShape) match any ShapeError.
func (e *ShapeError) Is(target error) bool {
	return target == ErrSchemaShape
}

// Diagnostics is a collected list of shape errors.
type Diagnostics []*ShapeError

// Err returns nil when there are no diagnostics, otherwise one error
// combining all of them.
func (d Diagnostics) Err() error {
	if len(d) == 0 {
		return nil
	}
	errs := make([]error, len(d))
	for i, e := range d {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Validate walks the whole tree and reports duplicate element ids, unnamed
// leaves, leaf names bound twice after singleton drill-through, unknown
// class tags, and display_list entries naming no field.
func Validate(root Node) Diagnostics {
	v := validator{ids: make(map[string]string)}
	v.visit(root, "root")
	v.checkScope(root, "root")
	return v.diags
}

type validator struct {
	ids   map[string]string
	diags Diagnostics
}

func (v *validator) visit(n Node, path string) {
	base := n.Base()
	if base.ElementID != "" {
		if first, dup := v.ids[base.ElementID]; dup {
			v.diags = append(v.diags, &ShapeError{
				Code:      CodeDuplicateElementID,
				ElementID: base.ElementID,
				Name:      base.Name,
				Path:      path,
				Message:   "element_id already used at " + first,
			})
		} else {
			v.ids[base.ElementID] = path
		}
	}
	if n.Kind() == ClassUnknown && base.ClassTag != "" {
		if _, known := fieldkind.Lookup(base.ClassTag); !known {
			v.diags = append(v.diags, &ShapeError{
				Code:      CodeUnknownClass,
				ElementID: base.ElementID,
				Name:      base.Name,
				Path:      path,
				Message:   fmt.Sprintf("class %q is not recognised, rendering as text", base.ClassTag),
			})
		}
	}
	if _, isGroup := n.(*Group); !isGroup && base.Name == "" && path != "root" {
		v.diags = append(v.diags, &ShapeError{
			Code:      CodeUnnamedElement,
			ElementID: base.ElementID,
			Path:      path,
			Message:   fmt.Sprintf("%s element has no name and cannot bind data", classLabel(n)),
		})
	}
	for i, c := range Children(n) {
		v.visit(c, fmt.Sprintf("%s.elements[%d]", path, i))
	}
}

// checkScope reports names bound twice within one data scope, then recurses
// into each non-singleton inline layout, which opens a new scope.
func (v *validator) checkScope(scope Node, path string) {
	seen := make(map[string]bool)
	var walk func(nodes []Node, path string)
	walk = func(nodes []Node, path string) {
		for i, n := range nodes {
			at := fmt.Sprintf("%s.elements[%d]", path, i)
			switch c := n.(type) {
			case *Group:
				walk(c.Elements, at)
				continue
			case *Inline:
				if c.Singleton() {
					walk(c.Elements, at)
					continue
				}
				v.checkScope(c, at)
			}
			name := n.Base().Name
			if name == "" {
				continue
			}
			if seen[name] {
				v.diags = append(v.diags, &ShapeError{
					Code:      CodeDuplicateName,
					ElementID: n.Base().ElementID,
					Name:      name,
					Path:      at,
					Message:   fmt.Sprintf("name %q is already bound earlier in the layout", name),
				})
				continue
			}
			seen[name] = true
		}
	}
	walk(Children(scope), path)

	for _, name := range DeclaredDisplayList(scope) {
		if !seen[name] {
			v.diags = append(v.diags, &ShapeError{
				Code:    CodeUnknownDisplayName,
				Name:    name,
				Path:    path,
				Message: fmt.Sprintf("display_list names %q but no field binds it", name),
			})
		}
	}
}
