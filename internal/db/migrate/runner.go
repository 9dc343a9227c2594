// Package migrate applies the embedded schema with golang-migrate.
package migrate

import (
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"site-scheduler/backend/internal/db"
)

// Direction selects which way Run migrates.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection accepts exactly "up" or "down".
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Up, Down:
		return d, nil
	}
	return "", fmt.Errorf("direction must be up or down, got %q", s)
}

// Run migrates all the way up or down. Being at the target version already is not an error.
func Run(dsn string, dir Direction) error {
	if _, err := ParseDirection(string(dir)); err != nil {
		return err
	}
	return withMigrator(dsn, func(m *migrate.Migrate) error {
		if dir == Up {
			return m.Up()
		}
		return m.Down()
	})
}

// Steps applies n migrations: forward when n > 0, backward when n < 0.
func Steps(dsn string, n int) error {
	if n == 0 {
		return errors.New("steps must not be zero")
	}
	return withMigrator(dsn, func(m *migrate.Migrate) error { return m.Steps(n) })
}

// Version reports the applied schema version. ok is false on an empty database.
func Version(dsn string) (version uint, dirty, ok bool, err error) {
	err = withMigrator(dsn, func(m *migrate.Migrate) error {
		v, d, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		if verr != nil {
			return verr
		}
		version, dirty, ok = v, d, true
		return nil
	})
	return version, dirty, ok, err
}

func withMigrator(dsn string, op func(*migrate.Migrate) error) error {
	if dsn == "" {
		return db.ErrEmptyDSN
	}
	src, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := op(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	if v, dirty, verr := m.Version(); verr == nil {
		log.Printf("migrate: at version=%d dirty=%v", v, dirty)
	}
	return nil
}
