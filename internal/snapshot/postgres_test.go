package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ignite/inboxbench/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, ""), mock
}

func TestPostgresStore_UpsertMultiRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO "email_accounts" \(workspace, id, email, status, tags, warmup_score, daily_limit, last_updated_at\) VALUES \(\$1, .*\), \(\$9, .*\) ON CONFLICT \(workspace, id\) DO UPDATE SET`).
		WithArgs("ws", "a", "a@example.com", "SENDING", sqlmock.AnyArg(), 99, 10, at,
			"ws", "b", "b@example.com", "SICK", sqlmock.AnyArg(), 99, 20, at).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := store.Upsert(context.Background(), []domain.SnapshotRow{
		row("ws", "a", domain.StatusSending, 10),
		row("ws", "b", domain.StatusSick, 20),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertEmptyIsNoop(t *testing.T) {
	store, mock := newMockStore(t)
	require.NoError(t, store.Upsert(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("deadlock detected")
	mock.ExpectExec(`INSERT INTO "email_accounts"`).WillReturnError(boom)

	err := store.Upsert(context.Background(), []domain.SnapshotRow{row("ws", "a", domain.StatusSending, 10)})
	assert.ErrorIs(t, err, boom)
}

func TestPostgresStore_SendingVolume(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(daily_limit\), 0\) FROM "email_accounts" WHERE workspace = \$1 AND status = \$2`).
		WithArgs("ws", "SENDING").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1250))

	vol, err := store.SendingVolume(context.Background(), "ws")
	require.NoError(t, err)
	assert.Equal(t, 1250, vol)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListByStatus(t *testing.T) {
	store, mock := newMockStore(t)
	cols := []string{"workspace", "id", "email", "status", "tags", "warmup_score", "daily_limit", "last_updated_at"}
	mock.ExpectQuery(`FROM "email_accounts"`).
		WithArgs("ws", "BENCH").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("ws", "a", "a@example.com", "BENCH", "{bench,vip}", 100, 30, at).
			AddRow("ws", "b", "b@example.com", "BENCH", "{bench}", 99, 40, at))

	rows, err := store.ListByStatus(context.Background(), "ws", domain.StatusBench)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"bench", "vip"}, rows[0].Tags)
	assert.Equal(t, domain.StatusBench, rows[1].Status)
	assert.Equal(t, 40, rows[1].DailyLimit)
	assert.Equal(t, at, rows[0].LastUpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "snapshots"`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewPostgresStore(db, "snapshots").Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
