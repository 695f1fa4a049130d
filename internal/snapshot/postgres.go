package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ignite/inboxbench/internal/domain"
	"github.com/lib/pq"
)

// DefaultTable is the snapshot table name.
const DefaultTable = "email_accounts"

const snapshotColumns = "workspace, id, email, status, tags, warmup_score, daily_limit, last_updated_at"

// PostgresStore implements Store against PostgreSQL.
type PostgresStore struct {
	db    *sql.DB
	table string
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over table, or DefaultTable when empty.
func NewPostgresStore(db *sql.DB, table string) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStore{db: db, table: pq.QuoteIdentifier(table)}
}

// Migrate creates the snapshot table when it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			workspace       TEXT NOT NULL,
			id              TEXT NOT NULL,
			email           TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'UNKNOWN',
			tags            TEXT[] NOT NULL DEFAULT '{}',
			warmup_score    INTEGER NOT NULL DEFAULT 0,
			daily_limit     INTEGER NOT NULL DEFAULT 0,
			last_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (workspace, id)
		)`, s.table))
	if err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

// Upsert writes rows in a single multi-row statement.
func (s *PostgresStore) Upsert(ctx context.Context, rows []domain.SnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}
	const cols = 8
	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*cols)
	for i, r := range rows {
		n := i * cols
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8))
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		args = append(args, r.Workspace, r.ID, r.Email, string(r.Status), pq.Array(tags),
			r.WarmupScore, r.DailyLimit, r.LastUpdatedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES %s
		ON CONFLICT (workspace, id) DO UPDATE SET
			email = EXCLUDED.email,
			status = EXCLUDED.status,
			tags = EXCLUDED.tags,
			warmup_score = EXCLUDED.warmup_score,
			daily_limit = EXCLUDED.daily_limit,
			last_updated_at = EXCLUDED.last_updated_at`,
		s.table, snapshotColumns, strings.Join(values, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert snapshot rows: %w", err)
	}
	return nil
}

func (s *PostgresStore) SendingVolume(ctx context.Context, workspace string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(SUM(daily_limit), 0) FROM %s WHERE workspace = $1 AND status = $2`, s.table),
		workspace, string(domain.StatusSending),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sending volume: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, workspace string, status domain.Status) ([]domain.SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE workspace = $1 AND ($2 = '' OR status = $2)
		ORDER BY id`, snapshotColumns, s.table),
		workspace, string(status))
	if err != nil {
		return nil, fmt.Errorf("list snapshot rows: %w", err)
	}
	defer rows.Close()

	var out []domain.SnapshotRow
	for rows.Next() {
		var r domain.SnapshotRow
		var st string
		if err := rows.Scan(&r.Workspace, &r.ID, &r.Email, &st, pq.Array(&r.Tags),
			&r.WarmupScore, &r.DailyLimit, &r.LastUpdatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		r.Status = domain.Status(st)
		out = append(out, r)
	}
	return out, rows.Err()
}
