// cmd/layoutcheck lints collection metadata documents.
//
// For each file it checks the raw document against the CUE metadata schema,
// runs the layout shape checks, and prints the default column projection.
// With -rows it also renders sample rows the way list views would.
//
// Usage:
//
//	layoutcheck [-strict] [-schema-dir dir] [-fields a,b] [-rows rows.json] metadata.json...
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cockroachdb/errors"

	"github.com/matthewbaird/metaui/internal/expr"
	"github.com/matthewbaird/metaui/internal/layout"
	"github.com/matthewbaird/metaui/internal/metadata"
	"github.com/matthewbaird/metaui/internal/represent"
	"github.com/matthewbaird/metaui/internal/schemacheck"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("layoutcheck: ")

	strict := flag.Bool("strict", false, "exit non-zero when any diagnostic is reported")
	schemaDir := flag.String("schema-dir", "", "directory of extra CUE constraints on #Metadata")
	fields := flag.String("fields", "", "comma separated column request")
	rowsPath := flag.String("rows", "", "list data JSON to render with the first document")
	locale := flag.String("locale", "en-US", "locale for dates and numbers")
	threshold := flag.Int("minimize-threshold", layout.DefaultMinimizeThreshold, "max_length below which char columns minimise")
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatal("usage: layoutcheck [flags] metadata.json...")
	}

	checker, err := schemacheck.Load(*schemaDir)
	if err != nil {
		log.Fatalf("loading schema: %v", err)
	}

	var requested []string
	if *fields != "" {
		requested = strings.Split(*fields, ",")
	}
	opts := layout.ColumnOptions{MinimizeThreshold: *threshold}

	problems := 0
	var first *metadata.Document
	for _, path := range flag.Args() {
		fmt.Printf("%s\n", path)
		rep, err := check(path, checker, requested, opts)
		if err != nil {
			fmt.Printf("  %v\n", err)
			problems++
			continue
		}
		if first == nil {
			first = rep.doc
		}
		for _, d := range rep.Diagnostics {
			fmt.Printf("  %v\n", d)
		}
		problems += len(rep.Diagnostics)
		printColumns(rep.Columns)
		if len(rep.Actions) > 0 {
			fmt.Printf("  actions: %s\n", strings.Join(rep.Actions, ", "))
		}
	}

	if *rowsPath != "" && first != nil {
		if err := renderRows(first, requested, opts, *rowsPath, *locale); err != nil {
			log.Fatalf("rendering rows: %v", err)
		}
	}

	if problems > 0 {
		fmt.Printf("\n%d problem(s) found\n", problems)
		if *strict {
			os.Exit(1)
		}
		return
	}
	fmt.Println("\nlayoutcheck: OK")
}

type report struct {
	Diagnostics layout.Diagnostics
	Columns     []layout.Column
	Actions     []string

	doc *metadata.Document
}

// check lints one metadata file. Schema and decode failures are returned as
// errors; layout problems are collected in the report.
func check(path string, checker *schemacheck.Checker, requested []string, opts layout.ColumnOptions) (*report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if err := checker.Check(data); err != nil {
		return nil, errors.Wrap(err, "schema")
	}
	doc, err := metadata.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	return &report{
		Diagnostics: doc.Validate(),
		Columns:     doc.Columns(requested, opts),
		Actions:     doc.ExtensionRegistry().Filter(doc.Allows).Actions(),
		doc:         doc,
	}, nil
}

func printColumns(cols []layout.Column) {
	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  COLUMN\tLABEL\tCATEGORY\tFLAGS")
	for _, c := range cols {
		var flags []string
		if c.Minimize {
			flags = append(flags, "minimize")
		}
		if c.IsListView {
			flags = append(flags, "list-view")
		}
		if c.IsHuge {
			flags = append(flags, "huge")
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", c.Name, c.Label, c.Category, strings.Join(flags, ","))
	}
	tw.Flush()
}

func renderRows(doc *metadata.Document, requested []string, opts layout.ColumnOptions, path, locale string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var rows []layout.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		var page struct {
			Results []layout.Row `json:"results"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return errors.Wrapf(err, "%s holds neither a row list nor list data", path)
		}
		rows = page.Results
	}

	compiler, err := expr.NewCompiler()
	if err != nil {
		return err
	}
	reg := represent.NewRegistry(compiler, nil)
	ro := represent.DefaultOptions()
	ro.Locale = locale

	cols := doc.Columns(requested, opts)
	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Println()
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Label
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			cells[i] = reg.AsString(c.Element, row, ro)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}
