package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
)

// SQLiteStore implements SQLite-based snapshot storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore creates a SQLite state store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_state_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS snapshots (
        server TEXT PRIMARY KEY,
        active_id TEXT,
        saved_at TIMESTAMP NOT NULL,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS profiles (
        server TEXT NOT NULL,
        id TEXT NOT NULL,
        name TEXT NOT NULL DEFAULT '',
        metadata TEXT,
        position INTEGER NOT NULL,
        PRIMARY KEY (server, id),
        FOREIGN KEY (server) REFERENCES snapshots(server) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_profiles_server ON profiles(server);

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Load retrieves the snapshot for server.
func (s *SQLiteStore) Load(server string) (*models.ProfileSnapshot, error) {
	s.logger.WithField("server", server).Debug("Loading profile snapshot from SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var snap models.ProfileSnapshot
	var activeID sql.NullString
	err = tx.QueryRow(`
        SELECT active_id, saved_at
        FROM snapshots
        WHERE server = ?
    `, server).Scan(&activeID, &snap.SavedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	snap.ActiveID = activeID.String

	rows, err := tx.Query(`
        SELECT id, name, metadata
        FROM profiles
        WHERE server = ?
        ORDER BY position
    `, server)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	snap.Profiles = []models.Profile{}
	for rows.Next() {
		var p models.Profile
		var meta sql.NullString
		if err := rows.Scan(&p.ID, &p.DisplayName, &meta); err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &p.Metadata); err != nil {
				return nil, fmt.Errorf("%w: profile %s metadata: %v", ErrStateCorrupt, p.ID, err)
			}
		}
		snap.Profiles = append(snap.Profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}

	return &snap, nil
}

// Save replaces the snapshot for server in one transaction.
func (s *SQLiteStore) Save(server string, snap *models.ProfileSnapshot) error {
	s.logger.WithFields(map[string]interface{}{
		"server":   server,
		"profiles": len(snap.Profiles),
	}).Debug("Saving profile snapshot to SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	_, err = tx.Exec(`
        INSERT INTO snapshots (server, active_id, saved_at, updated_at)
        VALUES (?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(server) DO UPDATE SET
            active_id = excluded.active_id,
            saved_at = excluded.saved_at,
            updated_at = CURRENT_TIMESTAMP
    `, server, snap.ActiveID, savedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM profiles WHERE server = ?", server); err != nil {
		return fmt.Errorf("delete old profiles: %w", err)
	}

	stmt, err := tx.Prepare(`
        INSERT INTO profiles (server, id, name, metadata, position)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(server, id) DO UPDATE SET
            name = excluded.name,
            metadata = excluded.metadata
    `)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, p := range snap.Profiles {
		var meta interface{}
		if len(p.Metadata) > 0 {
			data, err := json.Marshal(p.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata for %s: %w", p.ID, err)
			}
			meta = string(data)
		}
		if _, err := stmt.Exec(server, p.ID, p.DisplayName, meta, i); err != nil {
			return fmt.Errorf("insert profile %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// Reset removes the snapshot for server.
func (s *SQLiteStore) Reset(server string) error {
	s.logger.WithField("server", server).Info("Resetting profile snapshot in SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM profiles WHERE server = ?", server); err != nil {
		return fmt.Errorf("delete profiles: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM snapshots WHERE server = ?", server); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return tx.Commit()
}

// List returns all servers with a snapshot.
func (s *SQLiteStore) List() ([]string, error) {
	rows, err := s.db.Query("SELECT server FROM snapshots ORDER BY server")
	if err != nil {
		return nil, fmt.Errorf("query servers: %w", err)
	}
	defer rows.Close()

	var servers []string
	for rows.Next() {
		var server string
		if err := rows.Scan(&server); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		servers = append(servers, server)
	}

	return servers, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
