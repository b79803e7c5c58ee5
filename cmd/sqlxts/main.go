// Package main contains the sqlxts CLI: a cobra root command,
// per-subcommand flag structs, and thin RunE functions that delegate to
// the core packages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sqlxts/internal/analyzer"
	"sqlxts/internal/catalog"
	"sqlxts/internal/catalog/mysqlcatalog"
	"sqlxts/internal/catalog/pgcatalog"
	"sqlxts/internal/config"
	"sqlxts/internal/diagnostic"
	"sqlxts/internal/emitter"
	"sqlxts/internal/jsast"
	"sqlxts/internal/logging"
	"sqlxts/internal/orchestrator"
	"sqlxts/internal/sqlparse/mysqlsql"
	"sqlxts/internal/sqlparse/pgsql"
	"sqlxts/internal/typelattice"
	"sqlxts/internal/validator"
)

type runFlags struct {
	configPath  string
	envFile     string
	importAlias string
	camelCase   bool
	databaseURL string
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "sqlxts",
		Short: "Compile-time SQL type checker and TypeScript type generator",
	}

	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(generateTypesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(2)
	}
	os.Exit(exitCode)
}

// exitCode carries the diagnostic-derived exit status (0/1/2) out of
// run, since cobra's RunE only distinguishes "errored" from "didn't".
var exitCode int

func checkCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "check <files...|globs...>",
		Short: "Type-check every SQL tagged template found in the given files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return run(args, flags, false)
		},
	}
	bindRunFlags(cmd, flags)
	return cmd
}

func generateTypesCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "generate-types <files...|globs...>",
		Short: "Type-check and emit a .d.ts file of generated types alongside each input file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return run(args, flags, true)
		},
	}
	bindRunFlags(cmd, flags)
	return cmd
}

func bindRunFlags(cmd *cobra.Command, flags *runFlags) {
	cmd.Flags().StringVar(&flags.configPath, "config", "", "Path to an sqlxts.toml project file")
	cmd.Flags().StringVar(&flags.envFile, "env-file", "", "Path to a .env file that augments the environment (default: ./.env if present)")
	cmd.Flags().StringVar(&flags.importAlias, "import-alias", "", "Local binding name the SQL tag function was imported as (default: sql)")
	cmd.Flags().BoolVar(&flags.camelCase, "camel-case", false, "Convert emitted result column names to camelCase")
	cmd.Flags().StringVar(&flags.databaseURL, "database-url", "", "Database connection URL used for schema lookups and EXPLAIN validation")
}

func run(patterns []string, flags *runFlags, emit bool) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sqlxts:", err)
		return err
	}

	files, err := expandGlobs(patterns)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sqlxts:", err)
		return err
	}

	if cfg.DatabaseKind == "" {
		fmt.Fprintln(os.Stderr, "sqlxts: database_kind must be set via --database-url, DATABASE_URL, DB_TYPE, or the project file")
		return fmt.Errorf("missing database_kind")
	}

	log := logging.New(os.Stderr, logging.ParseLevel(string(cfg.LogLevel)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, val, err := openBackends(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sqlxts:", err)
		return err
	}
	defer cat.Close()
	defer val.Close()

	mapper := typelattice.FromMySQL
	var sqlParser orchestrator.SQLParser = mysqlsql.New()
	if cfg.DatabaseKind == config.KindPostgres {
		mapper = typelattice.FromPostgres
		sqlParser = pgsql.New()
	}

	collector := diagnostic.NewCollector()
	orch := &orchestrator.Orchestrator{
		Config:     cfg,
		Reader:     osFileReader{},
		Parser:     unavailableSourceParser{},
		SQLParser:  sqlParser,
		Analyzer:   analyzer.New(cat, mapper),
		Validator:  val,
		Collector:  collector,
		Log:        log,
		MaxWorkers: cfg.MaxWorkers,
	}

	log.Infof("checking %d files against %s", len(files), cfg.DatabaseKind)

	results, err := orch.Run(ctx, files)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sqlxts:", err)
		return err
	}

	if emit {
		writer := osFileWriter{}
		for _, r := range results {
			if len(r.Declarations) == 0 {
				continue
			}
			if err := writeDeclarationFile(writer, r.Path, r.Declarations); err != nil {
				fmt.Fprintln(os.Stderr, "sqlxts:", err)
			}
		}
	}

	for _, d := range collector.All() {
		fmt.Fprintln(os.Stderr, d.Severity.String()+": "+d.Error())
	}

	exitCode = collector.ExitCode()
	return nil
}

func loadConfig(flags *runFlags) (config.Config, error) {
	var fc *config.FileConfig
	if flags.configPath != "" {
		f, err := os.Open(flags.configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("open project file: %w", err)
		}
		defer f.Close()
		parsed, err := config.ParseFile(f)
		if err != nil {
			return config.Config{}, err
		}
		fc = parsed
	}

	env, err := resolveEnv(flags.envFile)
	if err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(env, fc)
	if err != nil {
		return config.Config{}, err
	}

	if flags.databaseURL != "" {
		if err := cfg.ApplyDatabaseURL(flags.databaseURL); err != nil {
			return config.Config{}, err
		}
	}
	if flags.importAlias != "" {
		cfg.ImportAlias = flags.importAlias
	}
	if flags.camelCase {
		cfg.ConvertToCamelCaseColumnName = true
	}
	return cfg, nil
}

// resolveEnv snapshots the variables config.Load recognizes, layering a
// .env file underneath the real environment: a variable already set in
// the process environment always wins over the file.
func resolveEnv(envFile string) (map[string]string, error) {
	env := map[string]string{}

	path := envFile
	if path == "" {
		path = ".env"
	}
	if fileEnv, err := godotenv.Read(path); err == nil {
		for k, v := range fileEnv {
			env[k] = v
		}
	} else if envFile != "" {
		// An explicitly named file that cannot be read is a
		// configuration error; a missing default .env is not.
		return nil, fmt.Errorf("read env file %s: %w", envFile, err)
	}

	for _, key := range []string{
		"DATABASE_URL", "DB_TYPE", "DB_HOST", "DB_PORT",
		"DB_USER", "DB_PASS", "DB_NAME", "PG_SEARCH_PATH",
	} {
		if v := os.Getenv(key); v != "" {
			env[key] = v
		}
	}
	return env, nil
}

func openBackends(ctx context.Context, cfg config.Config) (*catalog.Catalog, *validator.Validator, error) {
	dsn := cfg.DSN()
	if cfg.DatabaseKind == config.KindPostgres {
		src, err := pgcatalog.Open(ctx, dsn, cfg.SearchPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres catalog: %w", err)
		}
		val, err := validator.OpenPostgres(ctx, dsn)
		if err != nil {
			_ = src.Close()
			return nil, nil, fmt.Errorf("open postgres validator: %w", err)
		}
		return catalog.New(src), val, nil
	}

	src, err := mysqlcatalog.Open(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open mysql catalog: %w", err)
	}
	val, err := validator.OpenMySQL(ctx, dsn)
	if err != nil {
		_ = src.Close()
		return nil, nil, fmt.Errorf("open mysql validator: %w", err)
	}
	return catalog.New(src), val, nil
}

func expandGlobs(patterns []string) ([]string, error) {
	var files []string
	seen := map[string]bool{}
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", p, err)
		}
		if len(matches) == 0 {
			matches = []string{p}
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}

func writeDeclarationFile(w orchestrator.FileWriter, srcPath string, decls []string) error {
	out := srcPath + ".d.ts"
	body := emitter.Header + "\n"
	for _, d := range decls {
		body += d + "\n"
	}
	return w.WriteFile(out, []byte(body))
}

type osFileReader struct{}

func (osFileReader) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

type osFileWriter struct{}

func (osFileWriter) WriteFile(path string, contents []byte) error {
	return os.WriteFile(path, contents, 0o644)
}

// unavailableSourceParser satisfies orchestrator.SourceParser until a
// real TypeScript/JavaScript parser binding is wired in; the concrete
// parser is an external collaborator deliberately out of this module's
// scope.
type unavailableSourceParser struct{}

func (unavailableSourceParser) Parse(filename string, src []byte) (*jsast.Module, error) {
	return nil, fmt.Errorf("no SourceParser configured: wire a TypeScript/JavaScript parser adapter for %s", filename)
}
