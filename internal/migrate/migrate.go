// Package migrate tracks and applies the SQL files that build and tear down
// the resource/search-parameter schema, the same filename-prefix convention
// the teacher's one-way migrator used, extended with an explicit down side.
package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/fhirstore/internal/apperror"
)

// Migration is one version loaded from the migrations directory. Up is
// required; Down is empty when the version carries no reverse script, which
// makes that version irreversible.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// Applied describes a migration row already recorded in _migrations.
type Applied struct {
	Version     int
	Description string
	AppliedAt   time.Time
}

// Status is the structured view returned by Migrator.Status.
type Status struct {
	Current   int
	Applied   []Applied
	Available []Migration
	Pending   []Migration
}

// Migrator reads versioned SQL pairs from a directory and applies or reverts
// them against a single _migrations tracking table.
type Migrator struct {
	pool *pgxpool.Pool
	dir  string
}

func NewMigrator(pool *pgxpool.Pool, migrationsDir string) *Migrator {
	return &Migrator{pool: pool, dir: migrationsDir}
}

// EnsureTrackingTable creates _migrations if it does not already exist.
func (m *Migrator) EnsureTrackingTable(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS _migrations (
    version INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at TIMESTAMPTZ DEFAULT NOW()
)`
	if _, err := m.pool.Exec(ctx, ddl); err != nil {
		return apperror.Wrap(apperror.DatabaseError, "create _migrations table", err)
	}
	return nil
}

// LoadMigrations reads every "NNN_description.up.sql" file in the migrations
// directory and pairs it with its optional "NNN_description.down.sql"
// sibling, returning the set sorted ascending by version. A file whose name
// doesn't start with a numeric version prefix is skipped, matching the
// teacher's original behavior for stray, non-migration files in the same
// directory.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, apperror.Wrap(apperror.DatabaseError, "read migrations directory", err)
	}

	byVersion := make(map[int]*Migration)
	var order []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		direction, description, ok := splitMigrationName(name)
		if !ok {
			continue
		}

		version, desc, ok := parseVersionPrefix(description)
		if !ok {
			continue
		}

		content, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			return nil, apperror.Wrap(apperror.DatabaseError, "read migration file "+name, err)
		}

		mig, seen := byVersion[version]
		if !seen {
			mig = &Migration{Version: version, Description: desc}
			byVersion[version] = mig
			order = append(order, version)
		}
		switch direction {
		case "up":
			mig.Up = string(content)
		case "down":
			mig.Down = string(content)
		}
	}

	sort.Ints(order)
	migrations := make([]Migration, 0, len(order))
	for _, v := range order {
		migrations = append(migrations, *byVersion[v])
	}
	return migrations, nil
}

// splitMigrationName splits "003_medications.up.sql" into ("up",
// "003_medications"). Files without a recognized ".up.sql"/".down.sql"
// suffix are reported as not-ok so callers skip them.
func splitMigrationName(name string) (direction, rest string, ok bool) {
	switch {
	case strings.HasSuffix(name, ".up.sql"):
		return "up", strings.TrimSuffix(name, ".up.sql"), true
	case strings.HasSuffix(name, ".down.sql"):
		return "down", strings.TrimSuffix(name, ".down.sql"), true
	default:
		return "", "", false
	}
}

// parseVersionPrefix splits "003_medications" into (3, "medications").
func parseVersionPrefix(stem string) (version int, description string, ok bool) {
	parts := strings.SplitN(stem, "_", 2)
	if len(parts) < 2 {
		return 0, "", false
	}
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return v, parts[1], true
}

// AppliedVersions returns every row currently recorded in _migrations.
func (m *Migrator) AppliedVersions(ctx context.Context) (map[int]Applied, error) {
	rows, err := m.pool.Query(ctx, `SELECT version, description, applied_at FROM _migrations`)
	if err != nil {
		return nil, apperror.Wrap(apperror.DatabaseError, "query applied migrations", err)
	}
	defer rows.Close()

	applied := make(map[int]Applied)
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Version, &a.Description, &a.AppliedAt); err != nil {
			return nil, apperror.Wrap(apperror.DatabaseError, "scan applied migration", err)
		}
		applied[a.Version] = a
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Wrap(apperror.DatabaseError, "iterate applied migrations", err)
	}
	return applied, nil
}

// Up applies every pending migration whose version is <= target, ascending.
// target == 0 means no cap: apply everything pending. Returns the count of
// migrations applied. Each migration's up script runs in its own
// transaction; a single migration is atomic only for its own statements, no
// transaction spans more than one migration.
func (m *Migrator) Up(ctx context.Context, target int) (int, error) {
	if err := m.EnsureTrackingTable(ctx); err != nil {
		return 0, err
	}
	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}
	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range migrations {
		if target > 0 && mig.Version > target {
			break
		}
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if mig.Up == "" {
			return count, apperror.Invalidf("migration %d (%s) has no up script", mig.Version, mig.Description)
		}
		if err := m.applyUp(ctx, mig); err != nil {
			return count, fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Description, err)
		}
		count++
	}
	return count, nil
}

// Down reverts applied migrations in descending order while version >
// target, stopping as soon as it reaches target. target defaults to 0,
// meaning revert everything applied. A migration with no down script halts
// the revert rather than silently skipping it, since skipping would leave
// _migrations out of sync with the actual schema.
func (m *Migrator) Down(ctx context.Context, target int) (int, error) {
	if err := m.EnsureTrackingTable(ctx); err != nil {
		return 0, err
	}
	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}
	byVersion := make(map[int]Migration, len(migrations))
	for _, mig := range migrations {
		byVersion[mig.Version] = mig
	}
	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	var versions []int
	for v := range applied {
		versions = append(versions, v)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))

	count := 0
	for _, v := range versions {
		if v <= target {
			break
		}
		mig, ok := byVersion[v]
		if !ok || mig.Down == "" {
			return count, apperror.Invalidf("migration %d has no down script to revert", v)
		}
		if err := m.applyDown(ctx, mig); err != nil {
			return count, fmt.Errorf("revert migration %d (%s): %w", mig.Version, mig.Description, err)
		}
		count++
	}
	return count, nil
}

func (m *Migrator) applyUp(ctx context.Context, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return apperror.Wrap(apperror.DatabaseError, "begin migration transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, mig.Up); err != nil {
		return apperror.Wrap(apperror.DatabaseError, "execute up script", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO _migrations (version, description) VALUES ($1, $2)`,
		mig.Version, mig.Description,
	); err != nil {
		return apperror.Wrap(apperror.DatabaseError, "record migration", err)
	}
	return tx.Commit(ctx)
}

func (m *Migrator) applyDown(ctx context.Context, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return apperror.Wrap(apperror.DatabaseError, "begin migration transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, mig.Down); err != nil {
		return apperror.Wrap(apperror.DatabaseError, "execute down script", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM _migrations WHERE version = $1`, mig.Version); err != nil {
		return apperror.Wrap(apperror.DatabaseError, "unrecord migration", err)
	}
	return tx.Commit(ctx)
}

// Status reports the current version, every applied row, every migration
// available on disk, and every migration still pending.
func (m *Migrator) Status(ctx context.Context) (*Status, error) {
	if err := m.EnsureTrackingTable(ctx); err != nil {
		return nil, err
	}
	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}
	appliedMap, err := m.AppliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{Available: migrations}
	for _, mig := range migrations {
		a, ok := appliedMap[mig.Version]
		if !ok {
			st.Pending = append(st.Pending, mig)
			continue
		}
		st.Applied = append(st.Applied, a)
		if mig.Version > st.Current {
			st.Current = mig.Version
		}
	}
	sort.Slice(st.Applied, func(i, j int) bool { return st.Applied[i].Version < st.Applied[j].Version })
	return st, nil
}
