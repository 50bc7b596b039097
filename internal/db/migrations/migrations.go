// Package migrations embeds the goose schema migrations for the sessions/
// steps/artifacts tables and exposes a single Run entrypoint.
//
// Grounded on NeboLoop-nebo's internal/db/sqlite.go, which calls a sibling
// migrations.Run(db) — that package's contents were not present in the
// retrieved reference pack, so the migration files themselves are authored
// fresh here, in the same goose/embed.FS idiom, one file per table group
// named in the specification's persisted-state section.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var files embed.FS

// Run applies every pending migration against db.
func Run(db *sql.DB) error {
	goose.SetBaseFS(files)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}
