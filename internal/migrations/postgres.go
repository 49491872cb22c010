package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

const schemaTable = "kv_schema_migrations"

// Status describes where a database sits relative to the embedded schema.
type Status struct {
	Current uint
	Latest  uint
	Dirty   bool
}

// Pending reports whether Up would change anything.
func (s Status) Pending() bool { return s.Current < s.Latest }

// Runner applies the embedded kv_store migrations to one database.
type Runner struct {
	m      *migrate.Migrate
	latest uint
}

func embeddedSource() (source.Driver, uint, error) {
	src, err := iofs.New(sqlMigrations, "sql")
	if err != nil {
		return nil, 0, fmt.Errorf("load embedded migrations: %w", err)
	}
	v, err := src.First()
	if err != nil {
		return nil, 0, fmt.Errorf("empty migration set: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return src, v, nil
		}
		if err != nil {
			return nil, 0, err
		}
		v = next
	}
}

// NewPostgresRunner binds a runner to db. Closing the runner closes db.
func NewPostgresRunner(db *sql.DB) (*Runner, error) {
	src, latest, err := embeddedSource()
	if err != nil {
		return nil, err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: schemaTable})
	if err != nil {
		return nil, fmt.Errorf("postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, err
	}
	return &Runner{m: m, latest: latest}, nil
}

// OpenPostgres dials dsn on a dedicated pool owned by the runner.
func OpenPostgres(dsn string) (*Runner, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	r, err := NewPostgresRunner(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runner) Close() error {
	if r == nil || r.m == nil {
		return nil
	}
	return errors.Join(r.m.Close())
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	return ignoreNoChange(r.m.Up())
}

// Down rolls back steps migrations; anything below one means one.
func (r *Runner) Down(steps int) error {
	return ignoreNoChange(r.m.Steps(-max(steps, 1)))
}

// Goto migrates up or down to version.
func (r *Runner) Goto(version uint) error {
	if version == 0 {
		return ignoreNoChange(r.m.Down())
	}
	if version > r.latest {
		return fmt.Errorf("version %d is beyond the latest embedded migration %d", version, r.latest)
	}
	return ignoreNoChange(r.m.Migrate(version))
}

// Status reads the applied version. A fresh database reports zero.
func (r *Runner) Status() (Status, error) {
	st := Status{Latest: r.latest}
	v, dirty, err := r.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return st, nil
	case err != nil:
		return st, err
	}
	st.Current, st.Dirty = v, dirty
	return st, nil
}

// PostgresUp brings dsn to the latest schema on a short-lived pool.
func PostgresUp(dsn string) error {
	r, err := OpenPostgres(dsn)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Up(); err != nil {
		return fmt.Errorf("migrate kv_store: %w", err)
	}
	return nil
}
