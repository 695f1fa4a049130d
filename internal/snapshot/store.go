// Package snapshot persists each run's end-of-run account state so that
// dashboards and the next run can read it.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/pkg/logger"
)

// DefaultBatchSize is the number of rows written per upsert.
const DefaultBatchSize = 100

// Store is the state store. Rows are keyed by (workspace, id).
type Store interface {
	Upsert(ctx context.Context, rows []domain.SnapshotRow) error
	// SendingVolume sums daily_limit over a workspace's SENDING rows.
	SendingVolume(ctx context.Context, workspace string) (int, error)
	// ListByStatus returns a workspace's rows with status, ordered by id.
	// An empty status lists every row.
	ListByStatus(ctx context.Context, workspace string, status domain.Status) ([]domain.SnapshotRow, error)
}

// SyncReport summarizes one Sync call.
type SyncReport struct {
	Written       int     `json:"written"`
	Total         int     `json:"total"`
	FailedBatches int     `json:"failed_batches"`
	Errors        []error `json:"-"`
}

// Syncer writes snapshots to a Store in batches.
type Syncer struct {
	store     Store
	batchSize int
	log       *logger.Entry
}

// SyncerOption customizes a Syncer.
type SyncerOption func(*Syncer)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) SyncerOption {
	return func(s *Syncer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithLogger routes logs through a run-scoped entry.
func WithLogger(l *logger.Entry) SyncerOption {
	return func(s *Syncer) { s.log = l }
}

func NewSyncer(store Store, opts ...SyncerOption) *Syncer {
	s := &Syncer{store: store, batchSize: DefaultBatchSize, log: logger.With()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync upserts rows batch by batch. A failed batch is recorded and the
// remaining batches are still attempted.
func (s *Syncer) Sync(ctx context.Context, rows []domain.SnapshotRow) SyncReport {
	report := SyncReport{Total: len(rows)}
	for start := 0; start < len(rows); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]
		if err := s.store.Upsert(ctx, batch); err != nil {
			s.log.Error("snapshot batch failed", "offset", start, "rows", len(batch), "error", err)
			report.FailedBatches++
			report.Errors = append(report.Errors, fmt.Errorf("rows %d-%d: %w", start, end-1, err))
			continue
		}
		report.Written += len(batch)
	}
	s.log.Info("snapshot sync complete", "written", report.Written, "total", report.Total,
		"failed_batches", report.FailedBatches)
	return report
}

// MemoryStore keeps rows in process. It backs single-node deployments with
// no database and the tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]map[string]domain.SnapshotRow
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]map[string]domain.SnapshotRow)}
}

func (m *MemoryStore) Upsert(ctx context.Context, rows []domain.SnapshotRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		ws, ok := m.rows[r.Workspace]
		if !ok {
			ws = make(map[string]domain.SnapshotRow)
			m.rows[r.Workspace] = ws
		}
		r.Tags = append([]string(nil), r.Tags...)
		ws[r.ID] = r
	}
	return nil
}

func (m *MemoryStore) SendingVolume(ctx context.Context, workspace string) (int, error) {
	rows, _ := m.ListByStatus(ctx, workspace, domain.StatusSending)
	total := 0
	for _, r := range rows {
		total += r.DailyLimit
	}
	return total, nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, workspace string, status domain.Status) ([]domain.SnapshotRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.SnapshotRow
	for _, r := range m.rows[workspace] {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
