package plusvibe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ignite/inboxbench/internal/config"
	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/pkg/httpretry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlusvibe struct {
	mu             sync.Mutex
	workspaceCalls int
	workspaces     string
	accounts       []map[string]interface{}
	tagOps         []bulkTagOp
	warmup         map[string]interface{}
	members        map[string]bool
	apiKey         string
	serverErrors   int
}

func (f *fakePlusvibe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKey = r.Header.Get("X-API-KEY")

	switch {
	case r.URL.Path == "/workspaces":
		f.workspaceCalls++
		w.Write([]byte(f.workspaces))

	case r.Method == http.MethodGet && r.URL.Path == "/workspaces/ws1/email-accounts":
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		start := (page - 1) * limit
		items := []map[string]interface{}{}
		for i := start; i < len(f.accounts) && i < start+limit; i++ {
			items = append(items, f.accounts[i])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": items})

	case r.URL.Path == "/workspaces/ws1/email-accounts/bulk-tag-ops":
		if f.serverErrors > 0 {
			f.serverErrors--
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var op bulkTagOp
		json.NewDecoder(r.Body).Decode(&op)
		f.tagOps = append(f.tagOps, op)
		w.Write([]byte(`{"status":"ok"}`))

	case r.URL.Path == "/workspaces/ws1/email-accounts/warmup":
		json.NewDecoder(r.Body).Decode(&f.warmup)
		w.Write([]byte(`{"status":"ok"}`))

	case r.URL.Path == "/workspaces/ws1/campaigns/cmp/email-accounts":
		switch r.Method {
		case http.MethodGet:
			out := []map[string]string{}
			for id := range f.members {
				out = append(out, map[string]string{"id": id})
			}
			json.NewEncoder(w).Encode(out)
		case http.MethodPost, http.MethodDelete:
			var body map[string][]string
			json.NewDecoder(r.Body).Decode(&body)
			for _, id := range body["email_account_ids"] {
				if r.Method == http.MethodPost {
					f.members[id] = true
				} else {
					delete(f.members, id)
				}
			}
			w.Write([]byte(`{}`))
		}

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestAdapter(t *testing.T, fake *fakePlusvibe, pageSize int) *Adapter {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	doer := httpretry.NewRetryClient(nil, 5, httpretry.WithBaseDelay(time.Millisecond))
	return New(config.WorkspaceConfig{APIKey: "pv-key", BaseURL: server.URL, PageSize: pageSize}, doer)
}

func TestListAccounts(t *testing.T) {
	fake := &fakePlusvibe{
		workspaces: `{"data":[{"id":"ws1"},{"id":"ws2"}]}`,
		accounts: []map[string]interface{}{
			{"id": "acc-1", "email": "a@example.com", "daily_limit": 40, "created_at": "2026-01-02T00:00:00Z",
				"warmup_status": map[string]interface{}{"reputation": 98}, "tags": []map[string]string{{"name": "Sending"}}},
			{"id": "acc-2", "email": "b@example.com", "created_at": "2026-01-03T00:00:00Z"},
			{"id": "", "email": "c@example.com"},
		},
	}
	a := newTestAdapter(t, fake, 2)

	accounts, err := a.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "pv-key", fake.apiKey)
	assert.Equal(t, 98, accounts[0].Reputation)
	assert.True(t, accounts[0].Tags.Has("sending"))
	assert.Equal(t, 0, accounts[1].Reputation, "missing warmup status reads as unknown")

	_, err = a.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.workspaceCalls, "workspace id is cached")
}

func TestNoWorkspace(t *testing.T) {
	fake := &fakePlusvibe{workspaces: `[]`}
	a := newTestAdapter(t, fake, 100)

	_, err := a.ListAccounts(context.Background())
	assert.ErrorIs(t, err, ErrNoWorkspace)
}

func TestUpdateTags_ByName(t *testing.T) {
	fake := &fakePlusvibe{
		workspaces: `[{"id":"ws1"}]`,
		accounts: []map[string]interface{}{
			{"id": "acc-1", "email": "a@example.com", "tags": []string{"Warming", "vip"}},
		},
	}
	a := newTestAdapter(t, fake, 100)
	ctx := context.Background()
	_, err := a.ListAccounts(ctx)
	require.NoError(t, err)

	fake.serverErrors = 2
	require.NoError(t, a.UpdateTags(ctx, "acc-1", []string{"Bench"}, []string{"Warming", "Sick", "Sending"}))
	assert.Equal(t, []bulkTagOp{
		{EmailAccountIDs: []string{"acc-1"}, Tags: []string{"Warming"}, Operation: "remove"},
		{EmailAccountIDs: []string{"acc-1"}, Tags: []string{"Bench"}, Operation: "add"},
	}, fake.tagOps)

	require.NoError(t, a.UpdateTags(ctx, "acc-1", []string{"Bench"}, []string{"Warming", "Sick", "Sending"}))
	assert.Len(t, fake.tagOps, 2)
}

func TestEnableWarmup(t *testing.T) {
	fake := &fakePlusvibe{workspaces: `[{"id":"ws1"}]`}
	a := newTestAdapter(t, fake, 100)

	require.NoError(t, a.EnableWarmup(context.Background(), "acc-1", domain.DefaultWarmupSettings()))
	assert.Equal(t, []interface{}{"acc-1"}, fake.warmup["email_account_ids"])
	assert.Equal(t, float64(5), fake.warmup["daily_rampup"])
	assert.Equal(t, float64(38), fake.warmup["reply_rate_percentage"])
}

func TestCampaignMembers(t *testing.T) {
	fake := &fakePlusvibe{workspaces: `[{"id":"ws1"}]`, members: map[string]bool{"acc-1": true}}
	a := newTestAdapter(t, fake, 100)
	ctx := context.Background()

	require.NoError(t, a.AddToCampaign(ctx, "cmp", "acc-2"))
	require.NoError(t, a.RemoveFromCampaign(ctx, "cmp", "acc-1"))

	members, err := a.ListCampaignMembers(ctx, "cmp")
	require.NoError(t, err)
	assert.Equal(t, []string{"acc-2"}, members)
}
