package deliverability

import (
	"sync"

	"github.com/ignite/inboxbench/internal/domain"
)

// Fleet is the run's in-memory view of a workspace's accounts. Executor
// workers record successful tag changes here so the end-of-run snapshot is
// accurate without listing the provider again.
type Fleet struct {
	mu       sync.Mutex
	order    []string
	accounts map[string]domain.Account
}

// NewFleet copies accounts into a fleet. Later duplicates of an id are ignored.
func NewFleet(accounts []domain.Account) *Fleet {
	f := &Fleet{accounts: make(map[string]domain.Account, len(accounts))}
	for _, a := range accounts {
		if _, dup := f.accounts[a.ID]; dup {
			continue
		}
		c := a.Clone()
		if c.Tags == nil {
			c.Tags = domain.NewTagSet()
		}
		f.order = append(f.order, a.ID)
		f.accounts[a.ID] = c
	}
	return f
}

// Apply records that add and remove were applied to id. It reports false
// for an id the fleet does not hold.
func (f *Fleet) Apply(id string, add, remove []string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[id]
	if !ok {
		return false
	}
	for _, name := range remove {
		acc.Tags.Remove(name)
	}
	for _, name := range add {
		acc.Tags.Add(name)
	}
	return true
}

// Snapshot returns copies of every account in listing order.
func (f *Fleet) Snapshot() []domain.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Account, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.accounts[id].Clone())
	}
	return out
}
