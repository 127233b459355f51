package profile

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/NatureBlueee/towow/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// runMigrations applies the embedded schema migrations through the
// given database driver.
func runMigrations(driver database.Driver, databaseName string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, databaseName, driver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// scanProfile reads one agent_profiles row. Capability and interest
// lists are stored as JSON text for portability across backends.
func scanProfile(rows *sql.Rows) (models.AgentProfile, error) {
	var p models.AgentProfile
	var capsJSON, intsJSON string
	if err := rows.Scan(&p.ID, &p.DisplayName, &p.Location, &capsJSON, &intsJSON, &p.Availability, &p.Bio); err != nil {
		return p, fmt.Errorf("scan profile row: %w", err)
	}
	if err := json.Unmarshal([]byte(capsJSON), &p.Capabilities); err != nil {
		return p, fmt.Errorf("decode capabilities for %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(intsJSON), &p.Interests); err != nil {
		return p, fmt.Errorf("decode interests for %s: %w", p.ID, err)
	}
	return p, nil
}

// encodeLists marshals the capability and interest lists for storage.
func encodeLists(p models.AgentProfile) (caps, ints string, err error) {
	c, err := json.Marshal(emptyIfNil(p.Capabilities))
	if err != nil {
		return "", "", fmt.Errorf("encode capabilities: %w", err)
	}
	i, err := json.Marshal(emptyIfNil(p.Interests))
	if err != nil {
		return "", "", fmt.Errorf("encode interests: %w", err)
	}
	return string(c), string(i), nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
