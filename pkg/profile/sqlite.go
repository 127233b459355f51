package profile

import (
	"context"
	"database/sql"
	"fmt"

	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite"

	"github.com/NatureBlueee/towow/pkg/models"
)

// SQLiteStore is a Repository backed by SQLite. It is the default
// persistent profile store for single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ Repository = (*SQLiteStore)(nil)
	_ Writer     = (*SQLiteStore)(nil)
)

// OpenSQLite opens (creating if needed) the SQLite database at path and
// applies migrations. Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent access.
	db.SetMaxOpenConns(1)

	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite migration driver: %w", err)
	}
	if err := runMigrations(driver, "sqlite"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the handle for tests and tooling.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// ListActive implements Repository.
func (s *SQLiteStore) ListActive(ctx context.Context) ([]models.AgentProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, location, capabilities, interests, availability, bio
		FROM agent_profiles WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.AgentProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get implements Repository.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (*models.AgentProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, location, capabilities, interests, availability, bio
		FROM agent_profiles WHERE id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	p, err := scanProfile(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert implements Writer.
func (s *SQLiteStore) Upsert(ctx context.Context, p models.AgentProfile, active bool) error {
	caps, ints, err := encodeLists(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_profiles (id, display_name, location, capabilities, interests, availability, bio, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			location = excluded.location,
			capabilities = excluded.capabilities,
			interests = excluded.interests,
			availability = excluded.availability,
			bio = excluded.bio,
			active = excluded.active`,
		p.ID, p.DisplayName, p.Location, caps, ints, p.Availability, p.Bio, active)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.ID, err)
	}
	return nil
}

// SetActive implements Writer.
func (s *SQLiteStore) SetActive(ctx context.Context, userID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_profiles SET active = ? WHERE id = ?`, active, userID)
	if err != nil {
		return fmt.Errorf("set active for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
