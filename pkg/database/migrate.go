package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	"steward/pkg/logging"
)

// ApplySchema executes every *.sql file in dir of fsys, in lexical order.
// Files are written to be idempotent (IF NOT EXISTS), so re-running is safe.
func ApplySchema(ctx context.Context, db PostgresConn, fsys fs.FS, dir string, logger logging.Logger) ([]string, error) {
	names, err := fs.Glob(fsys, dir+"/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list schema files: %w", err)
	}
	sort.Strings(names)

	applied := make([]string, 0, len(names))
	for _, name := range names {
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return applied, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return applied, fmt.Errorf("failed to apply %s: %w", name, err)
		}
		logger.WithField("file", name).Info("Applied schema file")
		applied = append(applied, name)
	}
	return applied, nil
}
