// Package expr compiles schema-supplied representation snippets.
//
// Snippets are CEL expressions evaluated in a sandbox: they can read the row
// they are given and call the functions registered on the Compiler, nothing
// else. Every top-level row key is in scope as an identifier, the whole row
// is bound to "row", and the per-call data bundle to "fn".
package expr

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	rowVar    = "row"
	bundleVar = "fn"

	defaultCacheSize = 256
	// costLimit bounds the work a single evaluation may do.
	costLimit = 100_000
)

// ErrCompileFailed marks every error returned for a snippet that does not
// compile. The failure is remembered; later Compile calls for the same
// snippet return it without re-parsing.
var ErrCompileFailed = errors.New("expression does not compile")

// Functions is a bundle handed to snippets. Entries of type func(any) any or
// func(any, any) any registered on a Compiler become callable CEL functions;
// every other entry is plain data reachable as fn.<key>.
type Functions map[string]any

// Evaluator runs a compiled snippet against one row.
type Evaluator interface {
	Evaluate(row map[string]any) (any, error)
}

// Compiler turns snippets into Programs and memoizes the result per snippet.
// It is safe for concurrent use.
type Compiler struct {
	env *cel.Env
	log *slog.Logger

	programs *lru.Cache[uint64, *Program]

	mu       sync.Mutex
	failed   map[uint64]failure
	compiles int
}

type failure struct {
	src string
	err error
}

// Option configures a Compiler.
type Option func(*compilerOptions)

type compilerOptions struct {
	log       *slog.Logger
	functions Functions
	cacheSize int
}

// WithLogger sets the logger used to report compile failures.
func WithLogger(log *slog.Logger) Option {
	return func(o *compilerOptions) { o.log = log }
}

// WithFunctions registers host functions callable from every snippet.
func WithFunctions(fns Functions) Option {
	return func(o *compilerOptions) { o.functions = fns }
}

// WithCacheSize bounds the number of compiled programs kept.
func WithCacheSize(n int) Option {
	return func(o *compilerOptions) { o.cacheSize = n }
}

// NewCompiler builds the CEL environment shared by every snippet.
func NewCompiler(opts ...Option) (*Compiler, error) {
	o := compilerOptions{cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}

	envOpts := []cel.EnvOption{
		cel.Variable(rowVar, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(bundleVar, cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),

		ext.Encoders(),
		ext.Math(),
		ext.Strings(),
	}
	hostFns, err := hostFunctions(o.functions)
	if err != nil {
		return nil, err
	}
	envOpts = append(envOpts, hostFns...)

	env, err := cel.NewEnv(envOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating expression environment")
	}

	programs, err := lru.New[uint64, *Program](o.cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "creating program cache")
	}

	return &Compiler{
		env:      env,
		log:      o.log.With("module", "expr"),
		programs: programs,
		failed:   make(map[uint64]failure),
	}, nil
}

func hostFunctions(fns Functions) ([]cel.EnvOption, error) {
	var out []cel.EnvOption
	for name, v := range fns {
		switch fn := v.(type) {
		case func(any) any:
			out = append(out, cel.Function(name,
				cel.Overload(name+"_dyn", []*cel.Type{cel.DynType}, cel.DynType,
					cel.UnaryBinding(func(arg ref.Val) ref.Val {
						return types.DefaultTypeAdapter.NativeToValue(fn(toNative(arg)))
					}))))
		case func(any, any) any:
			out = append(out, cel.Function(name,
				cel.Overload(name+"_dyn_dyn", []*cel.Type{cel.DynType, cel.DynType}, cel.DynType,
					cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
						return types.DefaultTypeAdapter.NativeToValue(fn(toNative(lhs), toNative(rhs)))
					}))))
		case func(...any) any:
			return nil, errors.Newf("function %q: variadic host functions are not supported", name)
		}
	}
	return out, nil
}

// Compile returns the program for src, compiling it on first use.
func (c *Compiler) Compile(src string) (*Program, error) {
	key := xxhash.Sum64String(src)

	if p, ok := c.programs.Get(key); ok && p.src == src {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.failed[key]; ok && f.src == src {
		return nil, f.err
	}

	c.compiles++
	// Parsed, unchecked ASTs resolve identifiers at evaluation time, which
	// lets snippets name row keys directly.
	ast, iss := c.env.Parse(src)
	if iss != nil && iss.Err() != nil {
		return nil, c.remember(key, src, iss.Err())
	}
	prg, err := c.env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, c.remember(key, src, err)
	}

	p := &Program{src: src, prg: prg}
	c.programs.Add(key, p)
	return p, nil
}

func (c *Compiler) remember(key uint64, src string, cause error) error {
	err := errors.Mark(errors.Wrapf(cause, "compiling %q", src), ErrCompileFailed)
	c.failed[key] = failure{src: src, err: err}
	c.log.Warn("expression compile failed", "source", src, "error", cause)
	return err
}

// Compiles reports how many snippets have been compiled, failures included.
func (c *Compiler) Compiles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compiles
}

// EvalBool compiles src and evaluates it as a predicate.
func (c *Compiler) EvalBool(src string, row map[string]any) (bool, error) {
	p, err := c.Compile(src)
	if err != nil {
		return false, err
	}
	v, err := p.Evaluate(row)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.Newf("expression %q produced %T, not bool", src, v)
	}
	return b, nil
}

// Program is a compiled snippet.
type Program struct {
	src string
	prg cel.Program
}

var _ Evaluator = (*Program)(nil)

// Source returns the snippet the program was compiled from.
func (p *Program) Source() string { return p.src }

// Evaluate runs the program with an empty data bundle.
func (p *Program) Evaluate(row map[string]any) (any, error) {
	return p.EvaluateWith(row, nil)
}

// EvaluateWith runs the program against row, exposing bundle as "fn".
// Runtime errors are returned per call.
func (p *Program) EvaluateWith(row map[string]any, bundle Functions) (any, error) {
	vars := make(map[string]any, len(row)+2)
	for k, v := range row {
		vars[k] = v
	}
	if row == nil {
		row = map[string]any{}
	}
	data := make(map[string]any, len(bundle))
	for k, v := range bundle {
		switch v.(type) {
		case func(any) any, func(any, any) any:
			continue
		}
		data[k] = v
	}
	vars[rowVar] = row
	vars[bundleVar] = data

	out, _, err := p.prg.Eval(vars)
	if err != nil {
		return nil, errors.Wrapf(err, "evaluating %q", p.src)
	}
	return toNative(out), nil
}

// toNative converts a CEL value into plain Go values: nil, bool, int64,
// uint64, float64, string, []byte, []any and map[string]any.
func toNative(v ref.Val) any {
	if v == nil || v == types.NullValue {
		return nil
	}
	switch x := v.(type) {
	case traits.Lister:
		var out []any
		it := x.Iterator()
		for it.HasNext() == types.True {
			out = append(out, toNative(it.Next()))
		}
		if out == nil {
			out = []any{}
		}
		return out
	case traits.Mapper:
		out := make(map[string]any)
		it := x.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			out[fmt.Sprint(toNative(k))] = toNative(x.Get(k))
		}
		return out
	}
	return v.Value()
}
