// Package providertest provides an in-memory provider.Provider for tests.
package providertest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/provider"
)

// Fake holds accounts and campaign memberships in memory and records every
// mutating call. Errors can be queued per account to simulate failures.
type Fake struct {
	mu        sync.Mutex
	name      string
	order     []string
	accounts  map[string]domain.Account
	campaigns map[string]map[string]bool
	tagErrs   map[string][]error
	campErrs  map[string]error
	calls     []string
	listErr   error

	// WarmupErr, when set, is returned by every EnableWarmup call.
	WarmupErr error
	// OnUpdateTags runs before each UpdateTags call, outside the lock.
	OnUpdateTags func(accountID string)
	// OnCampaignEdit runs before each campaign add or remove, outside the lock.
	OnCampaignEdit func(campaignID, accountID string)
}

var _ provider.Provider = (*Fake)(nil)

// New returns a fake holding copies of accounts.
func New(accounts ...domain.Account) *Fake {
	f := &Fake{
		name:      "fake",
		accounts:  make(map[string]domain.Account),
		campaigns: make(map[string]map[string]bool),
		tagErrs:   make(map[string][]error),
		campErrs:  make(map[string]error),
	}
	for _, a := range accounts {
		f.order = append(f.order, a.ID)
		c := a.Clone()
		if c.Tags == nil {
			c.Tags = domain.NewTagSet()
		}
		f.accounts[a.ID] = c
	}
	return f
}

func (f *Fake) Name() string { return f.name }

// FailList makes ListAccounts return err.
func (f *Fake) FailList(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

// FailTags queues errors returned by successive UpdateTags calls for accountID.
func (f *Fake) FailTags(accountID string, errs ...error) {
	f.mu.Lock()
	f.tagErrs[accountID] = append(f.tagErrs[accountID], errs...)
	f.mu.Unlock()
}

// FailCampaign makes op ("add" or "remove") fail for accountID.
func (f *Fake) FailCampaign(op, accountID string, err error) {
	f.mu.Lock()
	f.campErrs[op+":"+accountID] = err
	f.mu.Unlock()
}

// SetMembers replaces a campaign's member list.
func (f *Fake) SetMembers(campaignID string, accountIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		m[id] = true
	}
	f.campaigns[campaignID] = m
}

// Members returns a campaign's members in sorted order.
func (f *Fake) Members(campaignID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.campaigns[campaignID])
}

// Account returns the stored state of one account.
func (f *Fake) Account(id string) domain.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id].Clone()
}

// Calls returns the recorded mutating calls, e.g. "tags:7", "warmup:7",
// "add:c1:7", "remove:c1:7".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount counts recorded calls starting with prefix.
func (f *Fake) CallCount(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *Fake) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.Account, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.accounts[id].Clone())
	}
	return out, nil
}

func (f *Fake) UpdateTags(ctx context.Context, accountID string, add, remove []string) error {
	if f.OnUpdateTags != nil {
		f.OnUpdateTags(accountID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "tags:"+accountID)
	if q := f.tagErrs[accountID]; len(q) > 0 {
		f.tagErrs[accountID] = q[1:]
		return q[0]
	}
	acc, ok := f.accounts[accountID]
	if !ok {
		return &provider.APIError{Provider: f.name, Op: "update tags", StatusCode: 404, Body: "no such account"}
	}
	for _, name := range remove {
		acc.Tags.Remove(name)
	}
	for _, name := range add {
		acc.Tags.Add(name)
	}
	return nil
}

func (f *Fake) EnableWarmup(ctx context.Context, accountID string, settings domain.WarmupSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "warmup:"+accountID)
	return f.WarmupErr
}

func (f *Fake) ListCampaignMembers(ctx context.Context, campaignID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.campaigns[campaignID]
	if !ok {
		return nil, &provider.APIError{Provider: f.name, Op: "list campaign accounts", StatusCode: 404, Body: "no such campaign"}
	}
	return sortedKeys(m), nil
}

func (f *Fake) AddToCampaign(ctx context.Context, campaignID, accountID string) error {
	return f.editCampaign("add", campaignID, accountID, true)
}

func (f *Fake) RemoveFromCampaign(ctx context.Context, campaignID, accountID string) error {
	return f.editCampaign("remove", campaignID, accountID, false)
}

func (f *Fake) editCampaign(op, campaignID, accountID string, member bool) error {
	if f.OnCampaignEdit != nil {
		f.OnCampaignEdit(campaignID, accountID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%s:%s", op, campaignID, accountID))
	if err := f.campErrs[op+":"+accountID]; err != nil {
		return err
	}
	m, ok := f.campaigns[campaignID]
	if !ok {
		m = make(map[string]bool)
		f.campaigns[campaignID] = m
	}
	if member {
		m[accountID] = true
	} else {
		delete(m, accountID)
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
