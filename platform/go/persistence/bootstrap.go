package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/mutare-labs/fleetpay-saas/database"
)

// BootstrapSchema applies the embedded DDL in a single transaction, platform
// tables first and tenant-space tables (with their row-level-security
// policies) after. SQL is embedded at build time so binaries stay
// self-contained. The helper is idempotent and intended for startup and tests.
func BootstrapSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("bootstrap schema: pool is required")
	}

	var statements []string
	statements = append(statements, splitStatements(sqlassets.PlatformSQL)...)
	statements = append(statements, splitStatements(sqlassets.TenantSpaceSQL)...)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// splitStatements breaks a DDL asset into individual statements. The embedded
// files keep one statement per semicolon, with no procedural bodies, so a
// plain split is enough.
func splitStatements(ddl string) []string {
	raw := strings.Split(ddl, ";")
	statements := make([]string, 0, len(raw))
	for _, r := range raw {
		stmt := strings.TrimSpace(r)
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt)
	}
	return statements
}
