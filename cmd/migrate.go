package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratedatabase "github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"github.com/spf13/cobra"
)

const (
	defaultMigrationsTable = "procureauth.schema_migrations"
	defaultMigrationsPath  = "pkg/credstore/postgres/migrations"
)

type migrateConfig struct {
	DatabaseURL     string
	MigrationsTable string
	MigrationsPath  string
}

// tableName is a migrations table reference, optionally schema qualified.
type tableName struct {
	Schema string
	Table  string
}

func (t tableName) quoted() string {
	target := pq.QuoteIdentifier(t.Table)
	if t.Schema != "" {
		target = pq.QuoteIdentifier(t.Schema) + "." + target
	}
	return target
}

func newMigrateCommand() *cobra.Command {
	cfg := migrateConfig{MigrationsTable: defaultMigrationsTable}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres credential store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := migrateCmd.PersistentFlags()
	flags.StringVar(&cfg.DatabaseURL, "database-url", "", "Postgres connection URL. Can also be set via PROCUREAUTH_MIGRATE_DATABASE_URL or PROCUREAUTH_DATABASE_URL.")
	flags.StringVar(&cfg.MigrationsTable, "migrations-table", cfg.MigrationsTable, "Migrations version table, as table or schema.table. Can also be set via PROCUREAUTH_MIGRATE_MIGRATIONS_TABLE.")
	flags.StringVar(&cfg.MigrationsPath, "migrations-path", "", "Path or source URL for migration files. Defaults to "+defaultMigrationsPath+".")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up [steps]",
		Short: "Apply pending credential store migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, hasSteps, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, sourceURL string) error {
				var runErr error
				if hasSteps {
					runErr = runner.Steps(steps)
				} else {
					runErr = runner.Up()
				}

				applied, done, err := interpretStepResult(runErr, steps, hasSteps)
				switch {
				case err != nil:
					return fmt.Errorf("apply migrations: %w", err)
				case done && applied == 0:
					cmd.Println("No schema changes to apply.")
				case hasSteps && applied < steps:
					cmd.Printf("Applied %d migration step(s) from %s (requested %d step(s), reached migration boundary)\n", applied, sourceURL, steps)
				case hasSteps:
					cmd.Printf("Applied %d migration step(s) from %s\n", steps, sourceURL)
				default:
					cmd.Printf("Applied all pending migrations from %s\n", sourceURL)
				}
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back credential store migrations by step count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}
			table, err := parseTableName(resolveMigrationsTable(cfg.MigrationsTable))
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, sourceURL string) error {
				runErr := runner.Steps(-steps)
				if isDroppedMigrationsTableError(runErr, table) {
					cmd.Printf("Rolled back %d migration step(s) from %s\n", steps, sourceURL)
					cmd.Println("Migration tracking table was removed by rollback and will be recreated on the next run.")
					return nil
				}

				rolledBack, done, err := interpretStepResult(runErr, steps, true)
				switch {
				case err != nil:
					return fmt.Errorf("rollback migrations: %w", err)
				case done && rolledBack == 0:
					cmd.Println("No schema changes to rollback.")
				case rolledBack < steps:
					cmd.Printf("Rolled back %d migration step(s) from %s (requested %d step(s), reached migration boundary)\n", rolledBack, sourceURL, steps)
				default:
					cmd.Printf("Rolled back %d migration step(s) from %s\n", steps, sourceURL)
				}
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force-set migration version (-1 for nil version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersionArg(args[0])
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, _ string) error {
				if err := runner.Force(version); err != nil {
					return fmt.Errorf("force migration version: %w", err)
				}
				if version == -1 {
					cmd.Println("Forced migration version to -1 (no version).")
					return nil
				}
				cmd.Printf("Forced migration version to %d.\n", version)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied credential store schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, _ string) error {
				version, dirty, err := runner.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					cmd.Println("No migrations applied.")
					return nil
				}
				if err != nil {
					return fmt.Errorf("read migration version: %w", err)
				}
				if dirty {
					cmd.Printf("%d (dirty)\n", version)
					return nil
				}
				cmd.Printf("%d\n", version)
				return nil
			})
		},
	})

	return migrateCmd
}

func withMigrationRunner(cmd *cobra.Command, cfg migrateConfig, fn func(runner *migrate.Migrate, sourceURL string) error) error {
	runner, sourceURL, err := newMigrationRunner(cfg)
	if err != nil {
		return err
	}
	defer func() {
		sourceErr, databaseErr := runner.Close()
		if closeErr := errors.Join(sourceErr, databaseErr); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migration runner cleanly: %v\n", closeErr)
		}
	}()
	return fn(runner, sourceURL)
}

// interpretStepResult maps a step or up error to the number of steps that
// ran. done reports that the boundary was reached.
func interpretStepResult(err error, requested int, hasSteps bool) (int, bool, error) {
	if err == nil {
		return requested, false, nil
	}
	if isNoChangeBoundaryError(err) {
		return 0, true, nil
	}

	var shortLimit migrate.ErrShortLimit
	if hasSteps && errors.As(err, &shortLimit) {
		ran := requested - int(shortLimit.Short)
		if ran < 0 {
			ran = 0
		}
		return ran, true, nil
	}
	return 0, false, err
}

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func resolveDatabaseURL(databaseURLFlag string) (string, error) {
	databaseURL := strings.TrimSpace(databaseURLFlag)
	for _, key := range []string{"PROCUREAUTH_MIGRATE_DATABASE_URL", "PROCUREAUTH_DATABASE_URL"} {
		if databaseURL != "" {
			break
		}
		databaseURL = lookupEnv(key)
	}
	if databaseURL == "" {
		return "", errors.New("missing database URL: set --database-url or PROCUREAUTH_MIGRATE_DATABASE_URL")
	}
	return databaseURL, nil
}

func parseMigrationStepsArg(args []string) (int, bool, error) {
	if len(args) == 0 {
		return 0, false, nil
	}

	steps, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || steps <= 0 {
		return 0, false, fmt.Errorf("invalid migration steps %q: expected a positive integer", args[0])
	}
	return steps, true, nil
}

func parseForceVersionArg(arg string) (int, error) {
	version, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || version < -1 {
		return 0, fmt.Errorf("invalid force version %q: expected an integer >= -1", arg)
	}
	return version, nil
}

func newMigrationRunner(cfg migrateConfig) (*migrate.Migrate, string, error) {
	databaseURL, err := resolveDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, "", err
	}
	table, err := parseTableName(resolveMigrationsTable(cfg.MigrationsTable))
	if err != nil {
		return nil, "", err
	}
	if err := ensureMigrationsSchemaExists(databaseURL, table); err != nil {
		return nil, "", err
	}
	databaseURL, err = applyMigrationsTable(databaseURL, table)
	if err != nil {
		return nil, "", err
	}

	sourceURL, err := resolveMigrationsSourceURL(cfg.MigrationsPath)
	if err != nil {
		return nil, "", err
	}

	runner, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("create migrate runner: %w", err)
	}
	return runner, sourceURL, nil
}

func resolveMigrationsTable(flagValue string) string {
	value := strings.TrimSpace(flagValue)
	if value == "" {
		value = lookupEnv("PROCUREAUTH_MIGRATE_MIGRATIONS_TABLE")
	}
	if value == "" {
		value = defaultMigrationsTable
	}
	return value
}

func applyMigrationsTable(databaseURL string, table tableName) (string, error) {
	if table.Table == "" {
		return databaseURL, nil
	}

	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse --database-url: %w", err)
	}

	query := parsed.Query()
	if strings.TrimSpace(query.Get("x-migrations-table")) != "" {
		return databaseURL, nil
	}

	if table.Schema != "" {
		query.Set("x-migrations-table", table.quoted())
		query.Set("x-migrations-table-quoted", "true")
	} else {
		query.Set("x-migrations-table", table.Table)
	}

	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

var quotedIdentifierRegexp = regexp.MustCompile(`"(.*?)"`)

// parseTableName accepts table, schema.table and their double-quoted forms.
func parseTableName(value string) (tableName, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return tableName{}, nil
	}

	var parts []string
	if strings.Contains(raw, `"`) {
		for _, match := range quotedIdentifierRegexp.FindAllStringSubmatch(raw, -1) {
			parts = append(parts, match[1])
		}
	} else {
		parts = strings.Split(raw, ".")
	}

	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return tableName{}, fmt.Errorf("invalid migrations table %q", value)
		}
	}

	switch len(parts) {
	case 1:
		return tableName{Table: parts[0]}, nil
	case 2:
		return tableName{Schema: parts[0], Table: parts[1]}, nil
	default:
		return tableName{}, fmt.Errorf("invalid migrations table %q: expected table or schema.table", value)
	}
}

func ensureMigrationsSchemaExists(databaseURL string, table tableName) error {
	if table.Schema == "" {
		return nil
	}

	parsedURL, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse --database-url: %w", err)
	}
	sanitized := migrate.FilterCustomQuery(parsedURL)

	db, err := sql.Open("postgres", sanitized.String())
	if err != nil {
		return fmt.Errorf("open database for schema bootstrap: %w", err)
	}
	defer db.Close()

	query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(table.Schema))
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("ensure migrations schema %q exists: %w", table.Schema, err)
	}
	return nil
}

func resolveMigrationsSourceURL(migrationsPath string) (string, error) {
	pathOrURL := strings.TrimSpace(migrationsPath)
	if pathOrURL == "" {
		pathOrURL = defaultMigrationsPath
	}
	if strings.Contains(pathOrURL, "://") {
		return pathOrURL, nil
	}

	absPath, err := filepath.Abs(pathOrURL)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path %q: %w", pathOrURL, err)
	}
	return "file://" + filepath.ToSlash(absPath), nil
}

func isNoChangeBoundaryError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return true
	}
	// Steps returns a bare os.ErrNotExist at the first or last migration.
	return err == os.ErrNotExist
}

func isDroppedMigrationsTableError(err error, table tableName) bool {
	var dbErr *migratedatabase.Error
	if !errors.As(err, &dbErr) || dbErr == nil || table.Table == "" {
		return false
	}

	query := strings.TrimSpace(string(dbErr.Query))
	if !strings.HasPrefix(strings.ToUpper(query), "TRUNCATE ") || !strings.Contains(query, table.quoted()) {
		return false
	}

	var pqErr *pq.Error
	if errors.As(dbErr.OrigErr, &pqErr) && string(pqErr.Code) == "3F000" {
		return true
	}

	message := strings.ToLower(dbErr.Error())
	return strings.Contains(message, "schema") && strings.Contains(message, "does not exist")
}
