package core

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"

	"github.com/shrek82/dbo/sqlstate"
)

// MigrationTable records applied migration versions.
const MigrationTable = "dbo_migrations"

// Migration is one schema change with the SQL to apply and revert it.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

var migrationFile = regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

// LoadMigrations reads NNN_description.up.sql and NNN_description.down.sql
// files from the root of fsys, ordered by version. Other files are ignored.
func LoadMigrations(fsys fs.FS) ([]*Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	byVersion := make(map[int]*Migration)
	for _, e := range entries {
		m := migrationFile.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		version, _ := strconv.Atoi(m[1])
		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, err
		}
		mig := byVersion[version]
		if mig == nil {
			mig = &Migration{Version: version, Description: m[2]}
			byVersion[version] = mig
		} else if mig.Description != m[2] {
			return nil, fmt.Errorf("migration %d has two descriptions: %q and %q", version, mig.Description, m[2])
		}
		if m[3] == "up" {
			mig.Up = string(body)
		} else {
			mig.Down = string(body)
		}
	}

	out := make([]*Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.Up == "" {
			return nil, fmt.Errorf("migration %d (%s) has no up script", mig.Version, mig.Description)
		}
		out = append(out, mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrator applies migrations and keeps their history in MigrationTable.
// It reports failures whatever the connection's error mode.
type Migrator struct {
	db      *DB
	history map[int]bool
}

// NewMigrator creates a Migrator on db.
func NewMigrator(db *DB) *Migrator {
	return &Migrator{
		db:      db,
		history: make(map[int]bool),
	}
}

// Init creates the history table when missing and loads applied versions.
func (m *Migrator) Init() error {
	const createTableSQL = `CREATE TABLE IF NOT EXISTS ` + MigrationTable + ` (
		version INTEGER PRIMARY KEY,
		description VARCHAR(255),
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := m.db.exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to initialize migration table: %w", err)
	}

	s, err := m.db.prepare("SELECT version FROM "+MigrationTable, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch migration history: %w", err)
	}
	defer s.close()
	if err := s.execute(nil); err != nil {
		return fmt.Errorf("failed to fetch migration history: %w", err)
	}
	rows, err := s.fetchAll()
	if err != nil {
		return fmt.Errorf("failed to fetch migration history: %w", err)
	}
	m.history = make(map[int]bool, len(rows))
	for _, row := range rows {
		v, err := row[0].Int()
		if err != nil {
			return err
		}
		m.history[int(v)] = true
	}
	return nil
}

// Applied lists applied versions in ascending order.
func (m *Migrator) Applied() []int {
	out := make([]int, 0, len(m.history))
	for v := range m.history {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Pending returns the migrations not applied yet, in version order.
func (m *Migrator) Pending(migrations []*Migration) []*Migration {
	var out []*Migration
	for _, mig := range sorted(migrations) {
		if !m.history[mig.Version] {
			out = append(out, mig)
		}
	}
	return out
}

// Migrate applies every pending migration, each in its own transaction, and
// returns how many ran.
func (m *Migrator) Migrate(migrations ...*Migration) (int, error) {
	if err := m.Init(); err != nil {
		return 0, err
	}

	n := 0
	for _, mig := range m.Pending(migrations) {
		err := m.db.Transaction(func(db *DB) error {
			if _, err := db.exec(mig.Up); err != nil {
				return err
			}
			return m.record("INSERT INTO "+MigrationTable+" (version, description) VALUES (:version, :description)",
				Named("version", mig.Version), Named("description", mig.Description))
		})
		if err != nil {
			return n, fmt.Errorf("failed to apply migration %d (%s): %w", mig.Version, mig.Description, err)
		}
		m.history[mig.Version] = true
		n++
	}
	return n, nil
}

// Rollback reverts mig, which must have been applied.
func (m *Migrator) Rollback(mig *Migration) error {
	if !m.history[mig.Version] {
		return fmt.Errorf("migration %d not applied", mig.Version)
	}
	if mig.Down == "" {
		return sqlstate.Newf(sqlstate.General, "migration %d (%s) has no down script", mig.Version, mig.Description)
	}

	err := m.db.Transaction(func(db *DB) error {
		if _, err := db.exec(mig.Down); err != nil {
			return err
		}
		return m.record("DELETE FROM "+MigrationTable+" WHERE version = :version", Named("version", mig.Version))
	})
	if err != nil {
		return fmt.Errorf("failed to rollback migration %d (%s): %w", mig.Version, mig.Description, err)
	}

	delete(m.history, mig.Version)
	return nil
}

// RollbackLast reverts the most recently applied migration found in
// migrations and returns it, or nil when nothing is applied.
func (m *Migrator) RollbackLast(migrations []*Migration) (*Migration, error) {
	if err := m.Init(); err != nil {
		return nil, err
	}
	ordered := sorted(migrations)
	for i := len(ordered) - 1; i >= 0; i-- {
		if mig := ordered[i]; m.history[mig.Version] {
			return mig, m.Rollback(mig)
		}
	}
	return nil, nil
}

func (m *Migrator) record(q string, args ...any) error {
	s, err := m.db.prepare(q, nil)
	if err != nil {
		return err
	}
	defer s.close()
	return s.execute(args)
}

func sorted(migrations []*Migration) []*Migration {
	out := append([]*Migration(nil), migrations...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}
