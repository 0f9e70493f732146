// Package migrations embeds the Postgres schema migrations and applies
// them with goose. Grounded on the reference platform's embed.FS
// migration-runner pattern, adapted to drive goose.Up instead of a bare
// sql.DB.ExecContext loop so migrations gain goose's versioning and
// up/down support.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var embedFS embed.FS

// Apply runs every pending migration against db in lexical order.
func Apply(db *sql.DB) error {
	goose.SetBaseFS(embedFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
