package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"strings"
	"text/tabwriter"

	"github.com/acksell/entities/schema"
	"github.com/acksell/entities/store"
)

// session is what every command works with: the loaded config and schema,
// and the store opened on the schema's tables.
type session struct {
	cfg    Config
	schema *schema.Schema
	store  store.Store
}

func (s *session) Close() error { return s.store.Close() }

// open loads the config, the schema and the backend.
func open(ctx context.Context, configPath string, logger *log.Logger) (*session, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	sch, err := cfg.LoadSchema()
	if err != nil {
		return nil, err
	}
	st, err := openStore(ctx, cfg.Backend, logger, sch.Names())
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, schema: sch, store: st}, nil
}

// table returns the named table, guarded so that only the configured service
// can write to it.
func (s *session) table(name string) (store.Table, error) {
	if name == "" {
		return nil, errors.New("-table is required")
	}
	return store.Guard(s.store, s.schema.Owners(), s.cfg.Service).Table(name)
}

// rowJSON is the printed form of a row.
type rowJSON struct {
	PartitionKey string      `json:"partitionKey"`
	RowKey       string      `json:"rowKey"`
	ETag         string      `json:"etag"`
	Version      int         `json:"version"`
	Value        store.Value `json:"value"`
}

func printRow(w io.Writer, row store.Row) error {
	return json.NewEncoder(w).Encode(rowJSON{
		PartitionKey: row.PartitionKey,
		RowKey:       row.RowKey,
		ETag:         row.ETag,
		Version:      row.Version,
		Value:        row.Value,
	})
}

func runMigrate(ctx context.Context, args []string, stdout io.Writer, logger *log.Logger) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to "+configFileName)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := open(ctx, *configPath, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	m, ok := s.store.(store.Migrator)
	if !ok {
		fmt.Fprintf(stdout, "backend %s needs no migration\n", s.cfg.Backend.Kind)
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "migrated %d tables on %s\n", len(s.schema.Tables), s.cfg.Backend.Kind)
	return nil
}

func runTables(_ context.Context, args []string, stdout io.Writer, _ *log.Logger) error {
	fs := flag.NewFlagSet("tables", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "path to "+configFileName)
		methods    = fs.Bool("methods", false, "list the <table>_<op> methods instead of tables")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}
	sch, err := cfg.LoadSchema()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	if *methods {
		fmt.Fprintln(tw, "METHOD\tMODE\tSERVICE")
		for _, m := range sch.Methods() {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, m.Mode, m.Service)
		}
	} else {
		fmt.Fprintln(tw, "TABLE\tSERVICE\tVERSION")
		for _, t := range sch.Tables {
			fmt.Fprintf(tw, "%s\t%s\t%d\n", t.Name, t.Service, t.Version)
		}
	}
	return tw.Flush()
}

func runLoad(ctx context.Context, args []string, stdout io.Writer, logger *log.Logger) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "path to "+configFileName)
		tableName  = fs.String("table", "", "table name (required)")
		pk         = fs.String("pk", "", "partition key")
		rk         = fs.String("rk", "", "row key")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := open(ctx, *configPath, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := s.table(*tableName)
	if err != nil {
		return err
	}
	row, err := t.Load(ctx, *pk, *rk)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("no row (%q, %q) in %s", *pk, *rk, *tableName)
	}
	return printRow(stdout, *row)
}

// whereFlags collects repeated -where clauses.
type whereFlags store.Condition

func (w *whereFlags) String() string { return store.Condition(*w).String() }

func (w *whereFlags) Set(s string) error {
	c, err := parseClause(s)
	if err != nil {
		return err
	}
	*w = append(*w, c)
	return nil
}

// parseClause parses "property<op>operand". The operand is read as JSON when
// it is valid JSON (numbers, booleans, quoted strings) and as a string otherwise.
func parseClause(s string) (store.Clause, error) {
	i := strings.IndexAny(s, "=<>!")
	if i <= 0 {
		return store.Clause{}, fmt.Errorf("invalid clause %q: want property<op>value", s)
	}
	var op string
	for _, candidate := range []string{">=", "<=", "<>", "!=", "=", "<", ">"} {
		if strings.HasPrefix(s[i:], candidate) {
			op = candidate
			break
		}
	}
	if op == "" {
		return store.Clause{}, fmt.Errorf("invalid clause %q: unknown operator", s)
	}
	raw := s[i+len(op):]
	var operand any = raw
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		if _, isObject := decoded.(map[string]any); !isObject {
			if _, isArray := decoded.([]any); !isArray && decoded != nil {
				operand = decoded
			}
		}
	}
	return store.Clause{Property: strings.TrimSpace(s[:i]), Operator: op, Operand: operand}, nil
}

func runScan(ctx context.Context, args []string, stdout io.Writer, logger *log.Logger) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "path to "+configFileName)
		tableName  = fs.String("table", "", "table name (required)")
		pk         = fs.String("pk", "", "only rows with this partition key")
		rk         = fs.String("rk", "", "only rows with this row key")
		limit      = fs.Int("limit", store.DefaultPageSize, "page size")
		page       = fs.Int("page", 1, "page number, starting at 1")
		where      whereFlags
	)
	fs.Var(&where, "where", "condition property<op>value, repeatable (ops: = <> != < <= > >=)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := open(ctx, *configPath, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := s.table(*tableName)
	if err != nil {
		return err
	}
	req := store.ScanRequest{Condition: store.Condition(where), PageSize: *limit, Page: *page}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "pk":
			req.PartitionKey = pk
		case "rk":
			req.RowKey = rk
		}
	})
	rows, err := t.Scan(ctx, req)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := printRow(stdout, row); err != nil {
			return err
		}
	}
	return nil
}

func runRemove(ctx context.Context, args []string, stdout io.Writer, logger *log.Logger) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "path to "+configFileName)
		tableName  = fs.String("table", "", "table name (required)")
		pk         = fs.String("pk", "", "partition key")
		rk         = fs.String("rk", "", "row key")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := open(ctx, *configPath, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := s.table(*tableName)
	if err != nil {
		return err
	}
	row, err := t.Remove(ctx, *pk, *rk)
	if err != nil {
		return err
	}
	if row == nil {
		fmt.Fprintf(stdout, "no row (%q, %q) in %s\n", *pk, *rk, *tableName)
		return nil
	}
	logger.Printf("removed (%q, %q) from %s", *pk, *rk, *tableName)
	return printRow(stdout, *row)
}
