// Package orchestrator drives the per-file pipeline (parse, walk,
// validate, analyze, emit) across a bounded pool of file workers with
// deterministic, input-ordered output.
package orchestrator

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"sqlxts/internal/analyzer"
	"sqlxts/internal/annotation"
	"sqlxts/internal/config"
	"sqlxts/internal/diagnostic"
	"sqlxts/internal/emitter"
	"sqlxts/internal/jsast"
	"sqlxts/internal/logging"
	"sqlxts/internal/span"
	"sqlxts/internal/sqlparse"
	"sqlxts/internal/validator"
	"sqlxts/internal/walker"
)

// FileReader abstracts reading a source file's bytes, so core code
// never imports os directly.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// FileWriter abstracts writing a generated .d.ts file's bytes.
type FileWriter interface {
	WriteFile(path string, contents []byte) error
}

// SourceParser abstracts the external TypeScript/JavaScript parser
// collaborator: given a file's raw bytes, it returns the jsast.Module
// the Walker traverses.
type SourceParser interface {
	Parse(filename string, src []byte) (*jsast.Module, error)
}

// SQLParser parses one dialect's SQL text into the shared IR.
// mysqlsql.Parser and pgsql.Parser both satisfy this.
type SQLParser interface {
	Parse(sql string) (*sqlparse.Query, error)
}

// FileResult is one input file's complete output: the rendered
// TypeScript declarations (in source order) and every diagnostic
// raised while processing it.
type FileResult struct {
	Path         string
	Declarations []string
	Diagnostics  []diagnostic.Diagnostic
	Err          error
}

// Orchestrator wires every per-file collaborator together and runs the
// bounded worker pool.
type Orchestrator struct {
	Config    config.Config
	Reader    FileReader
	Parser    SourceParser
	SQLParser SQLParser
	Analyzer  *analyzer.Analyzer
	Validator *validator.Validator
	Collector *diagnostic.Collector
	Log       *logging.Logger

	// Mode selects how the Walker splits an interpolated template into
	// SQL values; the zero value is walker.PerQuasi.
	Mode walker.Mode

	// MaxWorkers bounds the file worker pool; 0 means
	// runtime.GOMAXPROCS(0).
	MaxWorkers int
}

// Run processes every path in files, in a bounded worker pool, and
// returns results aligned 1:1 with files regardless of which worker
// finished first or in what order.
func (o *Orchestrator) Run(ctx context.Context, files []string) ([]FileResult, error) {
	results := make([]FileResult, len(files))

	workers := o.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(files) {
		workers = len(files)
	}
	if workers == 0 {
		return results, nil
	}

	type job struct {
		idx  int
		path string
	}
	jobs := make(chan job)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					// A panic in one file's pipeline must not take down
					// the other workers or leak the pooled connection;
					// it surfaces as a Fatal diagnostic on that file only.
					o.Collector.Add(diagnostic.New(diagnostic.Fatal, emptySpan(), fmt.Sprintf("panic processing file: %v", r)))
				}
			}()
			for j := range jobs {
				select {
				case <-ctx.Done():
					results[j.idx] = FileResult{Path: j.path, Err: ctx.Err()}
					continue
				default:
				}
				results[j.idx] = o.processFile(ctx, j.path)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, path := range files {
			select {
			case jobs <- job{idx: i, path: path}:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func (o *Orchestrator) processFile(ctx context.Context, path string) FileResult {
	res := FileResult{Path: path}

	src, err := o.Reader.ReadFile(path)
	if err != nil {
		d := diagnostic.New(diagnostic.SourceParse, spanFor(path), fmt.Sprintf("read file: %v", err))
		res.Diagnostics = append(res.Diagnostics, d)
		o.Collector.Add(d)
		return res
	}

	mod, err := o.Parser.Parse(path, src)
	if err != nil {
		d := diagnostic.New(diagnostic.SourceParse, spanFor(path), fmt.Sprintf("parse source: %v", err))
		res.Diagnostics = append(res.Diagnostics, d)
		o.Collector.Add(d)
		return res
	}

	alias, ok := resolveImportAlias(mod, o.Config.ImportAlias)
	if !ok {
		o.Log.Debugf("%s: tag module not imported, skipping", path)
		return res
	}

	w := walker.New(alias, o.Mode)
	sqls := w.Walk(mod)
	o.Log.Debugf("%s: found %d tagged queries", path, len(sqls))

	for _, s := range sqls {
		decl, diags := o.processSQL(ctx, s)
		res.Diagnostics = append(res.Diagnostics, diags...)
		o.Collector.AddAll(diags)
		if decl != "" {
			res.Declarations = append(res.Declarations, decl)
		}
	}
	return res
}

// resolveImportAlias scans a module's top-level import declarations for
// the local name the SQL tag function is bound to. A module with
// imports but no matching binding is skipped entirely; a module whose
// parser adapter reports no import declarations at all falls back to
// the configured alias, since not every backend surfaces imports.
func resolveImportAlias(mod *jsast.Module, configured string) (string, bool) {
	sawImports := false
	for _, s := range mod.Body {
		imp, ok := s.(*jsast.ImportDeclStmt)
		if !ok {
			continue
		}
		sawImports = true
		for _, local := range imp.Locals {
			if strings.Contains(local, configured) {
				return local, true
			}
		}
	}
	if sawImports {
		return "", false
	}
	return configured, true
}

func (o *Orchestrator) processSQL(ctx context.Context, s walker.SQL) (string, []diagnostic.Diagnostic) {
	var diags []diagnostic.Diagnostic

	if s.Dynamic {
		return "", []diagnostic.Diagnostic{diagnostic.Warningf(diagnostic.AnnotationUnrecognized, s.Span,
			"dynamic query fragment could not be statically analyzed")}
	}

	ann, annDiags := annotation.Parse(s.Query, s.Span)
	diags = append(diags, annDiags...)

	q, err := o.SQLParser.Parse(s.Query)
	if err != nil {
		diags = append(diags, diagnostic.New(diagnostic.SqlParse, s.Span, err.Error()))
		return "", diags
	}

	if o.Validator != nil {
		if d := o.Validator.Validate(ctx, s.Query, s.Span); d != nil {
			diags = append(diags, *d)
		}
	}

	name := ""
	if s.BindingName != nil && *s.BindingName != "" {
		name = emitter.Name(*s.BindingName)
	}

	shape, analysisDiags := o.Analyzer.Analyze(ctx, q, ann, name, s.Span, s.Query)
	diags = append(diags, analysisDiags...)

	// A query not bound to a plain variable name has nothing to name
	// its declarations after; it was still validated and analyzed above.
	if name == "" {
		o.Log.Warnf("%s: query has no binding name, skipping type generation", s.Span)
		return "", diags
	}

	decl := emitter.Emit(shape, emitter.Options{CamelCaseColumnNames: o.Config.ConvertToCamelCaseColumnName})
	return decl, diags
}

func spanFor(path string) span.Span {
	return span.Span{File: path}
}

func emptySpan() span.Span {
	return span.Span{}
}
