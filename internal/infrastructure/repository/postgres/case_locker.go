package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"log/slog"
)

// CaseLocker serializes case recomputation across api and worker processes
// with session-level advisory locks held on a dedicated connection.
type CaseLocker struct {
	db *sql.DB
}

func NewCaseLocker(db *sql.DB) *CaseLocker {
	return &CaseLocker{db: db}
}

func (l *CaseLocker) Lock(ctx context.Context, caseID string) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	key := caseLockKey(caseID)
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("advisory lock case %s: %w", caseID, err)
	}

	unlock := func() {
		// The caller's context may already be done; the lock must still be released.
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, key); err != nil {
			slog.Warn("case_unlock_failed", "case_id", caseID, "error", err)
		}
		_ = conn.Close()
	}
	return unlock, nil
}

func caseLockKey(caseID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("case:" + caseID))
	return int64(h.Sum64())
}
