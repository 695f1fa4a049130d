package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ignite/inboxbench/internal/config"
	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/pkg/distlock"
	"github.com/ignite/inboxbench/internal/provider/providertest"
	"github.com/ignite/inboxbench/internal/report"
	"github.com/ignite/inboxbench/internal/snapshot"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Reconciler: config.ReconcilerConfig{
			SickThreshold:    98,
			WarmupPeriodDays: 14,
			BenchRatio:       0.20,
			Workers:          2,
		},
		Workspaces: []config.WorkspaceConfig{
			{Name: "acme", Platform: config.PlatformSmartlead, APIKey: "k", CampaignIDs: []string{"c1"}, DashboardURL: "https://dash.example.com"},
		},
		Redis:  config.RedisConfig{LockTTLSeconds: 60},
		Report: config.ReportConfig{InstanceName: "Acme Outbound", WebURL: "https://bench.example.com/"},
	}
}

func acct(id string, ageDays, reputation, limit int, tags ...string) domain.Account {
	return domain.Account{
		ID:         id,
		Email:      id + "@example.com",
		Reputation: reputation,
		DailyLimit: limit,
		CreatedAt:  now.AddDate(0, 0, -ageDays),
		Tags:       domain.NewTagSet(tags...),
	}
}

func sampleFleet() []domain.Account {
	accounts := []domain.Account{
		acct("w", 3, 100, 30),
		acct("s", 40, 50, 30, "Sending"),
	}
	for i := 1; i <= 5; i++ {
		accounts = append(accounts, acct(fmt.Sprintf("h%d", i), 40, 100, 40))
	}
	return accounts
}

type captured struct {
	summaries []report.Summary
}

func (c *captured) Name() string { return "capture" }
func (c *captured) Notify(_ context.Context, s report.Summary, _ string) error {
	c.summaries = append(c.summaries, s)
	return nil
}

type harness struct {
	runner  *Runner
	fake    *providertest.Fake
	store   *snapshot.MemoryStore
	archive *report.MemoryArchive
	sent    *captured
}

func newHarness(t *testing.T, cfg *config.Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		fake:    providertest.New(sampleFleet()...),
		store:   snapshot.NewMemoryStore(),
		archive: report.NewMemoryArchive(),
		sent:    &captured{},
	}
	h.fake.SetMembers("c1", "s", "h1", "h2")
	renderer, err := report.NewRenderer()
	require.NoError(t, err)

	opts = append([]Option{
		WithProvider("acme", h.fake),
		WithStore(h.store),
		WithReporter(report.NewReporter(renderer, h.archive, h.sent)),
		WithClock(func() time.Time { return now }),
	}, opts...)
	h.runner, err = NewRunner(cfg, opts...)
	require.NoError(t, err)
	return h
}

func TestRun_EndToEnd(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.store.Upsert(context.Background(), []domain.SnapshotRow{
		{Workspace: "acme", ID: "old", Email: "old@example.com", Status: domain.StatusSending, DailyLimit: 200},
	}))

	res, err := h.runner.Run(context.Background(), "acme")
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.Stats.Warming)
	assert.Equal(t, 1, res.Stats.Sick)
	assert.Equal(t, 1, res.Stats.Bench)
	assert.Equal(t, 4, res.Stats.Sending)
	assert.Equal(t, "7 of 7 actions applied", res.Summary)
	assert.Empty(t, res.Errors)

	assert.Equal(t, []string{"warming"}, h.fake.Account("w").Tags.Sorted())
	assert.Equal(t, []string{"sick"}, h.fake.Account("s").Tags.Sorted())
	assert.Equal(t, []string{"bench"}, h.fake.Account("h1").Tags.Sorted())
	assert.Equal(t, []string{"sending"}, h.fake.Account("h5").Tags.Sorted())

	require.NotNil(t, res.Campaign)
	assert.Equal(t, 3, res.Campaign.Added)
	assert.Equal(t, 2, res.Campaign.Removed)
	assert.Equal(t, []string{"h2", "h3", "h4", "h5"}, h.fake.Members("c1"))

	assert.Equal(t, 200, res.Volume.Previous, "previous volume is read before the sync")
	assert.Equal(t, 160, res.Volume.Current)
	assert.True(t, res.Volume.Known)

	require.NotNil(t, res.Sync)
	assert.Equal(t, 7, res.Sync.Written)
	sick, err := h.store.ListByStatus(context.Background(), "acme", domain.StatusSick)
	require.NoError(t, err)
	require.Len(t, sick, 1)
	assert.Equal(t, "s", sick[0].ID)

	latest, ok := h.runner.Latest("acme")
	require.True(t, ok)
	assert.Equal(t, res.RunID, latest.RunID)

	html, err := h.archive.Latest(context.Background(), "acme")
	require.NoError(t, err)
	assert.Contains(t, html, "Inbox Bench Report: Acme Outbound")
	require.Len(t, h.sent.summaries, 1)
	s := h.sent.summaries[0]
	assert.Equal(t, "https://bench.example.com/reports/acme", s.WebURL)
	assert.Equal(t, "https://dash.example.com", s.DashboardURL)
	assert.Contains(t, s.SlackText(), "• Sending Volume: 160 (-40)")
}

func TestRun_SecondRunIsNoop(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.runner.Run(context.Background(), "acme")
	require.NoError(t, err)
	calls := len(h.fake.Calls())

	res, err := h.runner.Run(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, res.Actions)
	assert.Zero(t, res.Campaign.Added+res.Campaign.Removed)
	assert.Len(t, h.fake.Calls(), calls, "converged fleet makes no mutating calls")
	assert.Equal(t, 160, res.Volume.Previous)
	assert.Equal(t, "+0", res.Volume.Signed())
}

func TestRun_DryRunMutatesNothing(t *testing.T) {
	cfg := testConfig()
	cfg.Reconciler.DryRun = true
	h := newHarness(t, cfg)

	res, err := h.runner.Run(context.Background(), "acme")
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Len(t, res.Actions, 7)
	assert.Empty(t, h.fake.Calls())
	assert.Nil(t, res.Sync)
	rows, _ := h.store.ListByStatus(context.Background(), "acme", "")
	assert.Empty(t, rows)
	require.Len(t, h.sent.summaries, 1)
	assert.Equal(t, "DRY RUN", h.sent.summaries[0].Status())
}

func TestRun_ListFailureIsReported(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fake.FailList(errors.New("status 401"))

	res, err := h.runner.Run(context.Background(), "acme")
	require.Error(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "list accounts")
	assert.Equal(t, []string{"h1", "h2", "s"}, h.fake.Members("c1"), "campaigns untouched")
	require.Len(t, h.sent.summaries, 1)
	assert.Equal(t, "COMPLETED WITH ERRORS", h.sent.summaries[0].Status())
}

func TestRun_LockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	other := distlock.NewRedisLock(client, "inboxbench:run:acme", time.Minute)
	ok, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	h := newHarness(t, testConfig(), WithLockBackends(client, nil))
	_, err = h.runner.Run(context.Background(), "acme")
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, h.fake.Calls())

	require.NoError(t, other.Release(context.Background()))
	_, err = h.runner.Run(context.Background(), "acme")
	assert.NoError(t, err)
}

func TestRun_UnknownWorkspace(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.runner.Run(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownWorkspace)
	_, err = h.runner.Start("nope")
	assert.ErrorIs(t, err, ErrUnknownWorkspace)
}

func TestStart_RunsInBackground(t *testing.T) {
	h := newHarness(t, testConfig())

	runID, err := h.runner.Start("acme")
	require.NoError(t, err)
	h.runner.Wait()

	latest, ok := h.runner.Latest("acme")
	require.True(t, ok)
	assert.Equal(t, runID, latest.RunID)
}

func TestRunAll(t *testing.T) {
	h := newHarness(t, testConfig())
	results := h.runner.RunAll(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, []string{"acme"}, h.runner.Workspaces())
}

type failingNotifier struct{ delay time.Duration }

func (f failingNotifier) Name() string { return "failing" }
func (f failingNotifier) Notify(context.Context, report.Summary, string) error {
	time.Sleep(f.delay)
	return errors.New("webhook returned 500")
}

func TestStart_LatestIsCompleteWhenVisible(t *testing.T) {
	renderer, err := report.NewRenderer()
	require.NoError(t, err)
	h := newHarness(t, testConfig(),
		WithReporter(report.NewReporter(renderer, report.NewMemoryArchive(), failingNotifier{delay: 20 * time.Millisecond})))

	done := make(chan struct{})
	seen := make(chan []string, 1)
	go func() {
		defer close(seen)
		for {
			if res, ok := h.runner.Latest("acme"); ok {
				_, err := json.Marshal(res)
				assert.NoError(t, err)
				seen <- append([]string(nil), res.Errors...)
				return
			}
			select {
			case <-done:
				return
			default:
				time.Sleep(time.Millisecond)
			}
		}
	}()

	_, err = h.runner.Start("acme")
	require.NoError(t, err)
	h.runner.Wait()
	close(done)

	errs, ok := <-seen
	if ok {
		require.Len(t, errs, 1, "the first visible result already carries the report error")
		assert.Contains(t, errs[0], "report")
	}
	latest, ok := h.runner.Latest("acme")
	require.True(t, ok)
	require.Len(t, latest.Errors, 1)
	assert.Contains(t, latest.Errors[0], "webhook returned 500")
}

func TestStart_LockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	other := distlock.NewRedisLock(client, "inboxbench:run:acme", time.Minute)
	ok, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	h := newHarness(t, testConfig(), WithLockBackends(client, nil))
	_, err = h.runner.Start("acme")
	assert.ErrorIs(t, err, ErrRunInProgress)
	h.runner.Wait()
	assert.Empty(t, h.fake.Calls())
}

func TestRun_LostLockSkipsCampaigns(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h := newHarness(t, testConfig(), WithLockBackends(client, nil))
	h.fake.OnUpdateTags = func(string) { mr.Del("inboxbench:run:acme") }

	res, err := h.runner.Run(context.Background(), "acme")
	require.NoError(t, err)
	assert.Nil(t, res.Campaign)
	assert.Equal(t, []string{"h1", "h2", "s"}, h.fake.Members("c1"), "campaigns untouched")
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "lock")
}

func TestRun_ExtendsLockBeforeCampaigns(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h := newHarness(t, testConfig(), WithLockBackends(client, nil))
	var ttlAfterExtend time.Duration
	h.fake.OnUpdateTags = func(string) { mr.FastForward(5 * time.Second) }
	h.fake.OnCampaignEdit = func(string, string) { ttlAfterExtend = mr.TTL("inboxbench:run:acme") }

	res, err := h.runner.Run(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, time.Minute, ttlAfterExtend)
}
