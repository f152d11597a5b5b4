// Package migrations holds the schema for quizzes, the user directory and
// live sessions.
package migrations

import (
	"context"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

// execSplit runs each statement of a file separated by --bun:split.
func execSplit(ctx context.Context, db *bun.DB, sql string) error {
	for _, stmt := range strings.Split(sql, "--bun:split") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
