// Package cache is the engine's local configuration store: config keys,
// provision scripts, and virtual parameter scripts in SQLite. Sessions pin
// a snapshot token at init so that a mid-session edit never changes what a
// running session sees.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/joestump/cwmp-acs/internal/sandbox"
)

// Store wraps a sql.DB connection to the SQLite cache.
type Store struct {
	conn *sql.DB

	mu        sync.RWMutex
	snapshots map[string]*snapshot
}

type snapshot struct {
	config            map[string]string
	provisions        map[string]*sandbox.Script
	virtualParameters map[string]*sandbox.Script
}

// ConfigEntry is one stored configuration key.
type ConfigEntry struct {
	Key       string
	Value     string
	UpdatedAt string
}

// ScriptEntry is one stored provision or virtual parameter script.
type ScriptEntry struct {
	Name      string
	Script    string
	UpdatedAt string
}

// Open creates a new Store connection and runs all pending migrations.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{conn: conn, snapshots: make(map[string]*snapshot)}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// --- Migrations ---

type migration struct {
	version int
	fn      func(tx *sql.Tx) error
}

var migrations = []migration{
	{version: 1, fn: migrate001},
}

func (s *Store) migrate() error {
	// Ensure schema_migrations table exists.
	_, err := s.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}

		if err := m.fn(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

func migrate001(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE TABLE provisions (
			name TEXT PRIMARY KEY,
			script TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE TABLE virtual_parameters (
			name TEXT PRIMARY KEY,
			script TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE TABLE cache_version (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		)`,

		`INSERT INTO cache_version (id, version) VALUES (1, 1)`,
	}

	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// --- Snapshots ---

// Snapshot returns a token identifying the current cache generation,
// loading its contents into memory on first use. The loaded data is
// immutable; every mutation bumps the generation so later sessions get a
// fresh token.
func (s *Store) Snapshot(ctx context.Context) (string, error) {
	var version int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT version FROM cache_version WHERE id = 1`).Scan(&version)
	if err != nil {
		return "", fmt.Errorf("read cache version: %w", err)
	}

	token := fmt.Sprintf("v%d", version)

	s.mu.RLock()
	_, loaded := s.snapshots[token]
	s.mu.RUnlock()
	if loaded {
		return token, nil
	}

	snap, err := s.load(ctx)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	// Drop older generations; sessions started before a bump keep working
	// because their token stays in the map until replaced twice.
	if len(s.snapshots) > 2 {
		s.snapshots = make(map[string]*snapshot)
	}
	s.snapshots[token] = snap
	s.mu.Unlock()

	return token, nil
}

func (s *Store) load(ctx context.Context) (*snapshot, error) {
	snap := &snapshot{
		config:            make(map[string]string),
		provisions:        make(map[string]*sandbox.Script),
		virtualParameters: make(map[string]*sandbox.Script),
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		snap.config[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for table, dst := range map[string]map[string]*sandbox.Script{
		"provisions":         snap.provisions,
		"virtual_parameters": snap.virtualParameters,
	} {
		rows, err := s.conn.QueryContext(ctx, `SELECT name, script FROM `+table)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", table, err)
		}
		for rows.Next() {
			var name, script string
			if err := rows.Scan(&name, &script); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan %s: %w", table, err)
			}
			dst[name] = &sandbox.Script{Name: name, Source: script}
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}

	return snap, nil
}

func (s *Store) snapshot(token string) *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshots[token]
}

// Config returns the value of key within the given snapshot.
func (s *Store) Config(token, key string) (string, bool) {
	snap := s.snapshot(token)
	if snap == nil {
		return "", false
	}
	v, ok := snap.config[key]
	return v, ok
}

// Provisions returns the provision scripts of the given snapshot.
func (s *Store) Provisions(token string) map[string]*sandbox.Script {
	snap := s.snapshot(token)
	if snap == nil {
		return nil
	}
	return snap.provisions
}

// VirtualParameters returns the virtual parameter scripts of the given
// snapshot.
func (s *Store) VirtualParameters(token string) map[string]*sandbox.Script {
	snap := s.snapshot(token)
	if snap == nil {
		return nil
	}
	return snap.virtualParameters
}

func (s *Store) bump(tx *sql.Tx) error {
	if _, err := tx.Exec(`UPDATE cache_version SET version = version + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("bump cache version: %w", err)
	}
	return nil
}

func (s *Store) mutate(fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := s.bump(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- Config Methods ---

// SetConfig upserts a configuration key-value pair.
func (s *Store) SetConfig(key, value string) error {
	return s.mutate(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO config (key, value, updated_at) VALUES (?, ?, datetime('now'))
			 ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = datetime('now')`,
			key, value, value,
		)
		if err != nil {
			return fmt.Errorf("set config %q: %w", key, err)
		}
		return nil
	})
}

// DeleteConfig removes a configuration key.
func (s *Store) DeleteConfig(key string) error {
	return s.mutate(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM config WHERE key = ?`, key); err != nil {
			return fmt.Errorf("delete config %q: %w", key, err)
		}
		return nil
	})
}

// ListConfig returns all configuration entries ordered by key.
func (s *Store) ListConfig() ([]ConfigEntry, error) {
	rows, err := s.conn.Query(`SELECT key, value, updated_at FROM config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list config: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []ConfigEntry
	for rows.Next() {
		var e ConfigEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Script Methods ---

// PutProvision upserts a provision script.
func (s *Store) PutProvision(name, script string) error {
	return s.putScript("provisions", name, script)
}

// DeleteProvision removes a provision script.
func (s *Store) DeleteProvision(name string) error {
	return s.deleteScript("provisions", name)
}

// ListProvisions returns all provision scripts ordered by name.
func (s *Store) ListProvisions() ([]ScriptEntry, error) {
	return s.listScripts("provisions")
}

// PutVirtualParameter upserts a virtual parameter script.
func (s *Store) PutVirtualParameter(name, script string) error {
	return s.putScript("virtual_parameters", name, script)
}

// DeleteVirtualParameter removes a virtual parameter script.
func (s *Store) DeleteVirtualParameter(name string) error {
	return s.deleteScript("virtual_parameters", name)
}

// ListVirtualParameters returns all virtual parameter scripts ordered by
// name.
func (s *Store) ListVirtualParameters() ([]ScriptEntry, error) {
	return s.listScripts("virtual_parameters")
}

func (s *Store) putScript(table, name, script string) error {
	return s.mutate(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO `+table+` (name, script, updated_at) VALUES (?, ?, datetime('now'))
			 ON CONFLICT(name) DO UPDATE SET script = ?, updated_at = datetime('now')`,
			name, script, script,
		)
		if err != nil {
			return fmt.Errorf("put %s %q: %w", table, name, err)
		}
		return nil
	})
}

func (s *Store) deleteScript(table, name string) error {
	return s.mutate(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE name = ?`, name); err != nil {
			return fmt.Errorf("delete %s %q: %w", table, name, err)
		}
		return nil
	})
}

func (s *Store) listScripts(table string) ([]ScriptEntry, error) {
	rows, err := s.conn.Query(`SELECT name, script, updated_at FROM ` + table + ` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []ScriptEntry
	for rows.Next() {
		var e ScriptEntry
		if err := rows.Scan(&e.Name, &e.Script, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
