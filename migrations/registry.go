package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"

	payhooks "github.com/goliatone/go-payhooks"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	// SourceLabel tags the payhooks schema in the persistence client.
	SourceLabel = "go-payhooks"

	rootPath = "data/sql/migrations"
)

// PipelineTables back ingress, the work queue and aggregate locks. Every
// deployment needs them.
var PipelineTables = []string{"processed_events", "webhook_jobs", "webhook_locks"}

// DomainTables back the reference handlers.
var DomainTables = []string{
	"payhooks_leases",
	"payhooks_subscriptions",
	"payhooks_checkouts",
	"payhooks_payments",
	"payhooks_connected_accounts",
	"payhooks_payouts",
	"payhooks_balance_entries",
	"payhooks_notifications",
}

var createTablePattern = regexp.MustCompile(`(?i)create\s+table\s+(?:if\s+not\s+exists\s+)?([a-z_][a-z0-9_]*)`)

// Migration is one versioned up/down pair.
type Migration struct {
	Version string
	Up      string
	Down    string
	Tables  []string
}

// Catalog is the ordered migration set for one dialect.
type Catalog struct {
	Dialect    string
	Path       string
	FS         fs.FS
	Migrations []Migration
}

// Versions returns the catalog versions in apply order.
func (c Catalog) Versions() []string {
	versions := make([]string, 0, len(c.Migrations))
	for _, migration := range c.Migrations {
		versions = append(versions, migration.Version)
	}
	return versions
}

// Tables returns every table the catalog creates.
func (c Catalog) Tables() []string {
	var tables []string
	for _, migration := range c.Migrations {
		for _, table := range migration.Tables {
			if !slices.Contains(tables, table) {
				tables = append(tables, table)
			}
		}
	}
	return tables
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type registerOptions struct {
	root     fs.FS
	dialects []string
}

type Option func(*registerOptions)

// WithDialects limits registration to the given dialects.
func WithDialects(dialects ...string) Option {
	return func(o *registerOptions) {
		next := make([]string, 0, len(dialects))
		for _, dialect := range dialects {
			dialect = normalizeDialect(dialect)
			if dialect != "" && !slices.Contains(next, dialect) {
				next = append(next, dialect)
			}
		}
		if len(next) > 0 {
			o.dialects = next
		}
	}
}

// WithRoot reads migrations from root instead of the embedded schema.
func WithRoot(root fs.FS) Option {
	return func(o *registerOptions) {
		if root != nil {
			o.root = root
		}
	}
}

// Load reads the postgres and sqlite catalogs. Both dialects must ship the
// same versions, every up must have a down, and together they must create
// the pipeline tables.
func Load(root fs.FS) ([]Catalog, error) {
	if root == nil {
		root = payhooks.GetCoreMigrationsFS()
	}
	base, basePath, err := migrationsRoot(root)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	catalogs := []Catalog{
		{Dialect: DialectPostgres, Path: basePath, FS: base},
		{Dialect: DialectSQLite, Path: pathJoin(basePath, "sqlite"), FS: sqliteFS},
	}
	for i := range catalogs {
		migrations, err := readMigrations(catalogs[i])
		if err != nil {
			return nil, err
		}
		catalogs[i].Migrations = migrations
		tables := catalogs[i].Tables()
		for _, required := range PipelineTables {
			if !slices.Contains(tables, required) {
				return nil, fmt.Errorf("migrations: %s schema does not create %s", catalogs[i].Dialect, required)
			}
		}
	}

	postgres, sqlite := catalogs[0].Versions(), catalogs[1].Versions()
	if !slices.Equal(postgres, sqlite) {
		return nil, fmt.Errorf("migrations: postgres versions %v do not match sqlite versions %v", postgres, sqlite)
	}
	return catalogs, nil
}

func readMigrations(catalog Catalog) ([]Migration, error) {
	ups, err := fs.Glob(catalog.FS, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s %s: %w", catalog.Dialect, catalog.Path, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", catalog.Dialect, catalog.Path)
	}
	downs, err := fs.Glob(catalog.FS, "*.down.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s %s: %w", catalog.Dialect, catalog.Path, err)
	}
	slices.Sort(ups)

	migrations := make([]Migration, 0, len(ups))
	for _, up := range ups {
		version := strings.TrimSuffix(up, ".up.sql")
		down := version + ".down.sql"
		if !slices.Contains(downs, down) {
			return nil, fmt.Errorf("migrations: %s %s has no down migration", catalog.Dialect, version)
		}
		content, err := fs.ReadFile(catalog.FS, up)
		if err != nil {
			return nil, fmt.Errorf("migrations: read %s %s: %w", catalog.Dialect, up, err)
		}
		migrations = append(migrations, Migration{
			Version: version,
			Up:      up,
			Down:    down,
			Tables:  createdTables(string(content)),
		})
	}
	for _, down := range downs {
		version := strings.TrimSuffix(down, ".down.sql")
		if !slices.Contains(ups, version+".up.sql") {
			return nil, fmt.Errorf("migrations: %s %s has no up migration", catalog.Dialect, version)
		}
	}
	return migrations, nil
}

func createdTables(sql string) []string {
	var tables []string
	for _, match := range createTablePattern.FindAllStringSubmatch(sql, -1) {
		table := strings.ToLower(match[1])
		if !slices.Contains(tables, table) {
			tables = append(tables, table)
		}
	}
	return tables
}

// Register validates the catalogs and hands each selected dialect's
// filesystem to registerFn.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) ([]Catalog, error) {
	options := registerOptions{dialects: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	for _, dialect := range options.dialects {
		if dialect != DialectPostgres && dialect != DialectSQLite {
			return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
		}
	}

	catalogs, err := Load(options.root)
	if err != nil {
		return nil, err
	}
	registered := make([]Catalog, 0, len(options.dialects))
	for _, catalog := range catalogs {
		if !slices.Contains(options.dialects, catalog.Dialect) {
			continue
		}
		if err := registerFn(ctx, catalog.Dialect, SourceLabel, catalog.FS); err != nil {
			return nil, fmt.Errorf("migrations: register %s (%s): %w", catalog.Dialect, catalog.Path, err)
		}
		registered = append(registered, catalog)
	}
	return registered, nil
}

// Versions lists the migration versions for a dialect in apply order.
func Versions(root fs.FS, dialect string) ([]string, error) {
	catalogs, err := Load(root)
	if err != nil {
		return nil, err
	}
	dialect = normalizeDialect(dialect)
	for _, catalog := range catalogs {
		if catalog.Dialect == dialect {
			return catalog.Versions(), nil
		}
	}
	return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
}

func migrationsRoot(root fs.FS) (fs.FS, string, error) {
	sub, err := fs.Sub(root, rootPath)
	if err == nil {
		if _, statErr := fs.Stat(sub, "."); statErr == nil {
			return sub, rootPath, nil
		}
	}
	entries, readErr := fs.ReadDir(root, ".")
	if readErr == nil {
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
				return root, ".", nil
			}
		}
	}
	return nil, "", fmt.Errorf("migrations: %s not found", rootPath)
}

func normalizeDialect(dialect string) string {
	return strings.TrimSpace(strings.ToLower(dialect))
}

func pathJoin(base string, suffix string) string {
	if base == "." {
		return suffix
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(suffix, "/")
}
