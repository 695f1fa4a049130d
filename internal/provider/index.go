package provider

import (
	"sync"

	"github.com/ignite/inboxbench/internal/domain"
)

// AccountIndex remembers the tags each account carried at the last listing,
// updated as mutations succeed. Adapters use it to skip no-op tag calls.
type AccountIndex struct {
	mu   sync.Mutex
	tags map[string]domain.TagSet
}

// NewAccountIndex returns an empty index.
func NewAccountIndex() *AccountIndex {
	return &AccountIndex{tags: make(map[string]domain.TagSet)}
}

// Reset replaces the index with the given listing.
func (x *AccountIndex) Reset(accounts []domain.Account) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.tags = make(map[string]domain.TagSet, len(accounts))
	for _, a := range accounts {
		x.tags[a.ID] = a.Tags.Clone()
	}
}

// Delta narrows add and remove to the names that would change the account's
// tags. Unknown accounts get the request unchanged.
func (x *AccountIndex) Delta(id string, add, remove []string) (toAdd, toRemove []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	current, ok := x.tags[id]
	if !ok {
		return add, remove
	}
	for _, name := range add {
		if !current.Has(name) {
			toAdd = append(toAdd, name)
		}
	}
	for _, name := range remove {
		if current.Has(name) {
			toRemove = append(toRemove, name)
		}
	}
	return toAdd, toRemove
}

// Apply records a successful mutation.
func (x *AccountIndex) Apply(id string, add, remove []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	current, ok := x.tags[id]
	if !ok {
		current = domain.NewTagSet()
		x.tags[id] = current
	}
	for _, name := range remove {
		current.Remove(name)
	}
	for _, name := range add {
		current.Add(name)
	}
}
