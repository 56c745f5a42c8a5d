package sink

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
)

// ApplySQLitePragmas applies archive tuning when CHATCORE_SQLITE_TUNING=1.
func ApplySQLitePragmas(ctx context.Context, db *sql.DB) {
	if os.Getenv("CHATCORE_SQLITE_TUNING") != "1" {
		return
	}

	for _, pragma := range []string{
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA wal_autocheckpoint=1000;",
	} {
		value, err := applyPragma(ctx, db, pragma)
		if err != nil {
			slog.Warn("sink: pragma failed", "pragma", pragma, "err", err)
			continue
		}
		slog.Debug("sink: pragma applied", "pragma", pragma, "value", value)
	}
}

func applyPragma(ctx context.Context, db *sql.DB, pragma string) (any, error) {
	var value any
	err := db.QueryRowContext(ctx, pragma).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, err
		}
		return "ok", nil
	}
	return value, err
}
