package smartlead

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ignite/inboxbench/internal/config"
	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/pkg/httpretry"
	"github.com/ignite/inboxbench/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSmartlead struct {
	mu           sync.Mutex
	accounts     []map[string]interface{}
	tags         []map[string]interface{}
	mappingCalls []string
	created      []string
	warmups      map[string]map[string]interface{}
	members      map[string][]int
	failMapping  int // respond 429 to this many mapping calls first
	apiKeys      []string
}

func newFakeSmartlead() *fakeSmartlead {
	return &fakeSmartlead{
		tags: []map[string]interface{}{
			{"id": 11, "name": "Warming"},
			{"id": 12, "name": "Sick"},
			{"id": 13, "name": "Bench"},
		},
		warmups: make(map[string]map[string]interface{}),
		members: make(map[string][]int),
	}
}

func (f *fakeSmartlead) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, r.URL.Query().Get("api_key"))

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/email-accounts":
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := offset + limit
		if end > len(f.accounts) {
			end = len(f.accounts)
		}
		page := []map[string]interface{}{}
		if offset < len(f.accounts) {
			page = f.accounts[offset:end]
		}
		json.NewEncoder(w).Encode(page)

	case r.Method == http.MethodGet && r.URL.Path == "/tags":
		json.NewEncoder(w).Encode(f.tags)

	case r.Method == http.MethodPost && r.URL.Path == "/tags":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		id := 100 + len(f.created)
		f.created = append(f.created, body["name"])
		f.tags = append(f.tags, map[string]interface{}{"id": id, "name": body["name"]})
		json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "name": body["name"]})

	case r.URL.Path == "/email-accounts/tag-mapping":
		if f.failMapping > 0 {
			f.failMapping--
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var body tagMapping
		json.NewDecoder(r.Body).Decode(&body)
		f.mappingCalls = append(f.mappingCalls, r.Method+" "+toJSON(body.TagIDs))
		w.Write([]byte(`{"ok":true}`))

	case r.Method == http.MethodPost && r.URL.Path == "/email-accounts/7/warmup":
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		f.warmups["7"] = body
		w.Write([]byte(`{"ok":true}`))

	case r.Method == http.MethodGet && r.URL.Path == "/campaigns/55/email-accounts":
		limit := 100
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
			limit = l
		}
		out := []map[string]int{}
		for i, id := range f.members["55"] {
			if i == limit {
				break
			}
			out = append(out, map[string]int{"id": id})
		}
		json.NewEncoder(w).Encode(out)

	case r.Method == http.MethodPost && r.URL.Path == "/campaigns/55/email-accounts":
		var body map[string][]int
		json.NewDecoder(r.Body).Decode(&body)
		f.members["55"] = append(f.members["55"], body["email_account_ids"]...)
		w.Write([]byte(`{"ok":true}`))

	case r.Method == http.MethodDelete && r.URL.Path == "/campaigns/55/email-accounts/2":
		kept := f.members["55"][:0]
		for _, id := range f.members["55"] {
			if id != 2 {
				kept = append(kept, id)
			}
		}
		f.members["55"] = kept
		w.Write([]byte(`{"ok":true}`))

	case r.URL.Path == "/email-accounts/404/warmup":
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"account not found"}`))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func toJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func newTestAdapter(t *testing.T, fake *fakeSmartlead, pageSize int) *Adapter {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	doer := httpretry.NewRetryClient(nil, 5, httpretry.WithBaseDelay(time.Millisecond))
	return New(config.WorkspaceConfig{APIKey: "sl-key", BaseURL: server.URL, PageSize: pageSize}, doer)
}

func TestListAccounts_PaginatesAndNormalizes(t *testing.T) {
	fake := newFakeSmartlead()
	fake.accounts = []map[string]interface{}{
		{"id": 1, "from_email": "a@example.com", "message_per_day": 40, "created_at": "2026-01-01T10:00:00.000Z",
			"warmup_details": map[string]interface{}{"warmup_reputation": "98%"},
			"tags":           []map[string]interface{}{{"id": 13, "name": "Bench"}}},
		{"id": 2, "from_email": "b@example.com", "message_per_day": "25", "created_at": "2026-02-01T10:00:00Z",
			"warmup_details": map[string]interface{}{"warmup_reputation": 100}},
		{"id": 3, "from_email": "", "created_at": "2026-02-01T10:00:00Z"},
		{"id": 4, "from_email": "d@example.com", "created_at": "not a date", "tags": []string{"VIP"}},
	}
	a := newTestAdapter(t, fake, 2)

	accounts, err := a.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 3, "account without an email is dropped")

	assert.Equal(t, "1", accounts[0].ID)
	assert.Equal(t, 98, accounts[0].Reputation)
	assert.Equal(t, 40, accounts[0].DailyLimit)
	assert.True(t, accounts[0].Tags.Has("bench"))
	assert.Equal(t, time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), accounts[0].CreatedAt)

	assert.Equal(t, 100, accounts[1].Reputation)
	assert.Equal(t, 25, accounts[1].DailyLimit)

	assert.True(t, accounts[2].CreatedAt.IsZero(), "unparseable timestamps stay zero")
	assert.True(t, accounts[2].Tags.Has("vip"))

	for _, key := range fake.apiKeys {
		assert.Equal(t, "sl-key", key)
	}
}

func TestUpdateTags_CreatesMissingTagAndIsIdempotent(t *testing.T) {
	fake := newFakeSmartlead()
	fake.accounts = []map[string]interface{}{
		{"id": 7, "from_email": "g@example.com", "created_at": "2026-01-01T00:00:00Z",
			"tags": []map[string]interface{}{{"id": 13, "name": "Bench"}}},
	}
	a := newTestAdapter(t, fake, 50)
	ctx := context.Background()

	_, err := a.ListAccounts(ctx)
	require.NoError(t, err)

	require.NoError(t, a.UpdateTags(ctx, "7", []string{"Sending"}, []string{"Warming", "Sick", "Bench"}))
	assert.Equal(t, []string{"Sending"}, fake.created)
	assert.Equal(t, []string{"DELETE [13]", "POST [100]"}, fake.mappingCalls,
		"only the tag the account carries is unmapped")

	require.NoError(t, a.UpdateTags(ctx, "7", []string{"sending"}, []string{"Warming", "Sick", "Bench"}))
	assert.Len(t, fake.mappingCalls, 2, "converged account makes no further calls")
	assert.Len(t, fake.created, 1)
}

func TestUpdateTags_RetriesRateLimit(t *testing.T) {
	fake := newFakeSmartlead()
	fake.failMapping = 1
	a := newTestAdapter(t, fake, 50)

	err := a.UpdateTags(context.Background(), "7", []string{"Bench"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"POST [13]"}, fake.mappingCalls)
}

func TestUpdateTags_ExhaustedRetriesIsRetryableAPIError(t *testing.T) {
	fake := newFakeSmartlead()
	fake.failMapping = 10
	a := newTestAdapter(t, fake, 50)

	err := a.UpdateTags(context.Background(), "7", []string{"Bench"}, nil)
	require.Error(t, err)
	var apiErr *provider.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.True(t, apiErr.Retryable())
}

func TestEnableWarmup(t *testing.T) {
	fake := newFakeSmartlead()
	a := newTestAdapter(t, fake, 50)

	require.NoError(t, a.EnableWarmup(context.Background(), "7", domain.DefaultWarmupSettings()))
	assert.Equal(t, float64(35), fake.warmups["7"]["total_warmup_per_day"])
	assert.Equal(t, true, fake.warmups["7"]["warmup_enabled"])

	err := a.EnableWarmup(context.Background(), "404", domain.DefaultWarmupSettings())
	var apiErr *provider.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.False(t, apiErr.Retryable())
	assert.Contains(t, apiErr.Body, "account not found")
}

func TestCampaignMembership(t *testing.T) {
	fake := newFakeSmartlead()
	fake.members["55"] = []int{1, 2}
	a := newTestAdapter(t, fake, 50)
	ctx := context.Background()

	members, err := a.ListCampaignMembers(ctx, "55")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, members)

	require.NoError(t, a.AddToCampaign(ctx, "55", "4"))
	require.NoError(t, a.RemoveFromCampaign(ctx, "55", "2"))
	assert.Equal(t, []int{1, 4}, fake.members["55"])
}

func TestInvalidAccountID(t *testing.T) {
	a := newTestAdapter(t, newFakeSmartlead(), 50)

	err := a.UpdateTags(context.Background(), "a@example.com", []string{"Bench"}, nil)
	assert.ErrorIs(t, err, provider.ErrInvalidAccountID)
	assert.ErrorIs(t, a.AddToCampaign(context.Background(), "55", "x"), provider.ErrInvalidAccountID)
}

func TestRegisteredWithFactory(t *testing.T) {
	p, err := provider.New(config.WorkspaceConfig{Platform: config.PlatformSmartlead, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "smartlead", p.Name())
}

func TestCampaignMembers_BeyondDefaultPage(t *testing.T) {
	fake := newFakeSmartlead()
	for id := 1; id <= 150; id++ {
		fake.members["55"] = append(fake.members["55"], id)
	}
	a := newTestAdapter(t, fake, 50)

	members, err := a.ListCampaignMembers(context.Background(), "55")
	require.NoError(t, err)
	assert.Len(t, members, 150)
	assert.Equal(t, "150", members[149])
}

func TestListAccounts_ReloadsRenamedTags(t *testing.T) {
	fake := newFakeSmartlead()
	fake.accounts = []map[string]interface{}{{"id": 1, "from_email": "a@example.com"}}
	a := newTestAdapter(t, fake, 50)
	ctx := context.Background()

	_, err := a.ListAccounts(ctx)
	require.NoError(t, err)
	require.NoError(t, a.UpdateTags(ctx, "1", []string{"Bench"}, nil))
	assert.Equal(t, []string{"POST [13]"}, fake.mappingCalls)

	fake.mu.Lock()
	fake.tags[2] = map[string]interface{}{"id": 31, "name": "Bench"}
	fake.mu.Unlock()

	_, err = a.ListAccounts(ctx)
	require.NoError(t, err)
	require.NoError(t, a.UpdateTags(ctx, "1", []string{"Bench"}, nil))
	assert.Equal(t, []string{"POST [13]", "POST [31]"}, fake.mappingCalls)
	assert.Empty(t, fake.created, "the new id is found, not recreated")
}
