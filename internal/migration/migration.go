package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// versionTable records the applied ledger schema version.
const versionTable = "affiliate_schema_migrations"

// ErrDirtySchema means an earlier migration stopped halfway. The ledger must
// not start on a half-applied schema; an operator repairs it and forces the
// version with the migrate CLI.
var ErrDirtySchema = errors.New("schema_dirty")

// Result describes one Apply call.
type Result struct {
	From    uint
	To      uint
	Applied int
}

// Apply brings the ledger schema up to the newest embedded version.
func Apply(db *sql.DB, log *zap.Logger) (Result, error) {
	if db == nil {
		return Result{}, errors.New("migration database handle is required")
	}
	known, err := versions()
	if err != nil {
		return Result{}, err
	}

	source, err := iofs.New(embeddedMigrations, migrationsDir)
	if err != nil {
		return Result{}, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: versionTable})
	if err != nil {
		return Result{}, fmt.Errorf("open schema version table: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return Result{}, fmt.Errorf("create migrator: %w", err)
	}
	// migrator.Close would close the pool shared with gorm.

	from, dirty, err := schemaVersion(migrator)
	if err != nil {
		return Result{}, err
	}
	res := Result{From: from, To: from}
	if dirty {
		return res, fmt.Errorf("%w at version %d", ErrDirtySchema, from)
	}
	if latest := known[len(known)-1]; from >= latest {
		log.Info("ledger schema up to date", zap.Uint("version", from))
		return res, nil
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return res, fmt.Errorf("migrate ledger schema from version %d: %w", from, err)
	}
	if res.To, _, err = schemaVersion(migrator); err != nil {
		return res, err
	}
	res.Applied = pending(known, res.From, res.To)
	log.Info("ledger schema migrated",
		zap.Uint("from", res.From),
		zap.Uint("to", res.To),
		zap.Int("applied", res.Applied),
	)
	return res, nil
}

func schemaVersion(m *migrate.Migrate) (uint, bool, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}

// versions lists the embedded up-migration versions in ascending order.
func versions() ([]uint, error) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	var out []uint
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		version, err := strconv.ParseUint(prefix, 10, 32)
		if !ok || err != nil {
			return nil, fmt.Errorf("migration %q has no numeric version", name)
		}
		if slices.Contains(out, uint(version)) {
			return nil, fmt.Errorf("migration version %d is embedded twice", version)
		}
		out = append(out, uint(version))
	}
	if len(out) == 0 {
		return nil, errors.New("no embedded migrations")
	}
	slices.Sort(out)
	return out, nil
}

// pending counts the known versions in (from, to].
func pending(known []uint, from, to uint) int {
	n := 0
	for _, v := range known {
		if v > from && v <= to {
			n++
		}
	}
	return n
}
