package profile

import (
	"context"
	"database/sql"
	"fmt"

	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/NatureBlueee/towow/pkg/models"
)

// PostgresStore is a Repository backed by PostgreSQL via pgx. Used when
// profiles are shared across replicas.
type PostgresStore struct {
	db *sql.DB
}

var (
	_ Repository = (*PostgresStore)(nil)
	_ Writer     = (*PostgresStore)(nil)
)

// OpenPostgres connects with the given DSN and applies migrations.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init pgx migration driver: %w", err)
	}
	if err := runMigrations(driver, "pgx"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// ListActive implements Repository.
func (s *PostgresStore) ListActive(ctx context.Context) ([]models.AgentProfile, error) {
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
func (s *PostgresStore) Get(ctx context.Context, userID string) (*models.AgentProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, location, capabilities, interests, availability, bio
		FROM agent_profiles WHERE id = $1`, userID)
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
func (s *PostgresStore) Upsert(ctx context.Context, p models.AgentProfile, active bool) error {
	caps, ints, err := encodeLists(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_profiles (id, display_name, location, capabilities, interests, availability, bio, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			location = EXCLUDED.location,
			capabilities = EXCLUDED.capabilities,
			interests = EXCLUDED.interests,
			availability = EXCLUDED.availability,
			bio = EXCLUDED.bio,
			active = EXCLUDED.active`,
		p.ID, p.DisplayName, p.Location, caps, ints, p.Availability, p.Bio, active)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.ID, err)
	}
	return nil
}

// SetActive implements Writer.
func (s *PostgresStore) SetActive(ctx context.Context, userID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_profiles SET active = $1 WHERE id = $2`, active, userID)
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
