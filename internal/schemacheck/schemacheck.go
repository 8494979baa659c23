// Package schemacheck validates raw metadata documents against a CUE schema
// before they are decoded.
package schemacheck

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/cockroachdb/errors"
)

// Definition is the CUE definition documents are checked against.
const Definition = "#Metadata"

// ErrMismatch marks documents the schema rejects.
var ErrMismatch = errors.New("metadata does not match schema")

const builtin = `
#Node: {
	class:         string & !=""
	element_id?:   string
	name?:         string
	label?:        string
	help_text?:    string
	display_list?: [...string]
	elements?:     [...#Node]
	max_cardinality?: int & >=0 | null
	min_cardinality?: int & >=0
	list_view_items?: int & >=0
	...
}

#Extension: {
	class:        string & !=""
	instance_id?: string
	action?:      string
	slot?:        string
	label?:       string
	icon?:        string
	...
}

#Metadata: {
	layout:             #Node
	permitted_actions?: [...string]
	display_list?:      [...string] | null
	filterset_fields?:  [...string]
	extentions?:        [...#Extension]
	...
}
`

// Checker validates documents. It is safe for concurrent use once built.
type Checker struct {
	ctx *cue.Context
	def cue.Value
}

// New returns a checker for the built-in schema.
func New() (*Checker, error) {
	return compile(builtin, "builtin.cue")
}

// Load returns a checker for the built-in schema extended by every .cue file
// in dir. Files are merged into one package, so a file may narrow the
// definition by declaring it again. An empty dir yields New().
func Load(dir string) (*Checker, error) {
	if dir == "" {
		return New()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "reading schema dir")
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".cue") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var src strings.Builder
	src.WriteString(builtin)
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return nil, errors.Wrap(err, "reading schema file")
		}
		src.WriteString("\n// " + f + "\n")
		src.Write(packageClause.ReplaceAll(data, nil))
	}
	return compile(src.String(), filepath.Join(dir, "schema.cue"))
}

var packageClause = regexp.MustCompile(`(?m)^package\s+\w+\s*$`)

func compile(src, filename string) (*Checker, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, errors.Wrap(err, "compiling metadata schema")
	}
	def := val.LookupPath(cue.ParsePath(Definition))
	if err := def.Err(); err != nil {
		return nil, errors.Wrap(err, "compiling metadata schema")
	}
	return &Checker{ctx: ctx, def: def}, nil
}

// Check validates one JSON document.
func (c *Checker) Check(data []byte) error {
	val := c.ctx.CompileBytes(data, cue.Filename("metadata.json"))
	if err := val.Err(); err != nil {
		return errors.Wrap(err, "parsing metadata")
	}
	if err := c.def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return errors.Mark(errors.Wrap(err, ErrMismatch.Error()), ErrMismatch)
	}
	return nil
}
