// Package reconciler drives one reconciliation run per workspace: list,
// classify, plan, execute, reconcile campaigns, persist and report.
package reconciler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/inboxbench/internal/campaign"
	"github.com/ignite/inboxbench/internal/config"
	"github.com/ignite/inboxbench/internal/deliverability"
	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/metrics"
	"github.com/ignite/inboxbench/internal/pkg/distlock"
	"github.com/ignite/inboxbench/internal/pkg/logger"
	"github.com/ignite/inboxbench/internal/provider"
	"github.com/ignite/inboxbench/internal/report"
	"github.com/ignite/inboxbench/internal/snapshot"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrRunInProgress is returned when another run holds the workspace lock.
	ErrRunInProgress = errors.New("a run is already in progress for this workspace")
	// ErrUnknownWorkspace is returned for a workspace missing from the config.
	ErrUnknownWorkspace = errors.New("unknown workspace")
)

// finalizeTimeout bounds the store sync and report delivery, which run
// even after the run deadline has passed.
const finalizeTimeout = 2 * time.Minute

// RunResult is the outcome of one run.
type RunResult struct {
	RunID      string                         `json:"run_id"`
	Workspace  string                         `json:"workspace"`
	Platform   string                         `json:"platform"`
	StartedAt  time.Time                      `json:"started_at"`
	FinishedAt time.Time                      `json:"finished_at"`
	DryRun     bool                           `json:"dry_run"`
	Stats      deliverability.Stats           `json:"stats"`
	Actions    []domain.Action                `json:"actions"`
	Execution  deliverability.ExecutionReport `json:"-"`
	Summary    string                         `json:"summary"`
	Campaign   *campaign.Stats                `json:"campaign,omitempty"`
	Volume     campaign.Drift                 `json:"volume"`
	Sync       *snapshot.SyncReport           `json:"sync,omitempty"`
	Errors     []string                       `json:"errors,omitempty"`
	Result     deliverability.Result          `json:"-"`
}

func (r *RunResult) addError(stage string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", stage, err))
}

// Runner executes runs for the configured workspaces.
type Runner struct {
	cfg       *config.Config
	providers map[string]provider.Provider
	store     snapshot.Store
	reporter  *report.Reporter
	redis     *redis.Client
	db        *sql.DB
	now       func() time.Time

	mu      sync.RWMutex
	latest  map[string]*RunResult
	running sync.WaitGroup
}

// Option customizes a Runner.
type Option func(*Runner)

// WithProvider installs a ready-made provider for a workspace instead of
// building one from its config.
func WithProvider(workspace string, p provider.Provider) Option {
	return func(r *Runner) { r.providers[workspace] = p }
}

// WithStore persists snapshots and reads the previous sending volume.
func WithStore(s snapshot.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithReporter delivers a report after each run.
func WithReporter(rep *report.Reporter) Option {
	return func(r *Runner) { r.reporter = rep }
}

// WithLockBackends selects the run lock backend: Redis, else the Postgres
// advisory lock, else an in-process lock.
func WithLockBackends(client *redis.Client, db *sql.DB) Option {
	return func(r *Runner) {
		r.redis = client
		r.db = db
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner builds a provider for every workspace without one.
func NewRunner(cfg *config.Config, opts ...Option) (*Runner, error) {
	r := &Runner{
		cfg:       cfg,
		providers: make(map[string]provider.Provider),
		now:       time.Now,
		latest:    make(map[string]*RunResult),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, ws := range cfg.Workspaces {
		if _, ok := r.providers[ws.Name]; ok {
			continue
		}
		p, err := provider.New(ws)
		if err != nil {
			return nil, fmt.Errorf("workspace %s: %w", ws.Name, err)
		}
		r.providers[ws.Name] = p
	}
	return r, nil
}

// Workspaces returns the configured workspace names.
func (r *Runner) Workspaces() []string {
	names := make([]string, 0, len(r.cfg.Workspaces))
	for _, ws := range r.cfg.Workspaces {
		names = append(names, ws.Name)
	}
	return names
}

// Latest returns the most recent finished run for a workspace.
func (r *Runner) Latest(workspace string) (*RunResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.latest[workspace]
	return res, ok
}

// Start takes the workspace's run lock, then runs in the background and
// returns the run id. It fails with ErrRunInProgress while another run
// holds the lock.
func (r *Runner) Start(workspace string) (string, error) {
	ws, ok := r.cfg.Workspace(workspace)
	if !ok {
		return "", ErrUnknownWorkspace
	}
	runID := uuid.New().String()
	log := logger.With("run_id", runID, "workspace", ws.Name)
	lock, err := r.acquire(context.Background(), log, ws)
	if err != nil {
		return "", err
	}
	r.running.Add(1)
	go func() {
		defer r.running.Done()
		if _, err := r.runLocked(context.Background(), log, ws, runID, lock); err != nil {
			logger.Error("triggered run failed", "run_id", runID, "workspace", workspace, "error", err)
		}
	}()
	return runID, nil
}

// Wait blocks until every run started with Start has finished.
func (r *Runner) Wait() { r.running.Wait() }

// RunAll runs every workspace in turn. A failing workspace does not stop
// the others.
func (r *Runner) RunAll(ctx context.Context) []*RunResult {
	var results []*RunResult
	for _, ws := range r.cfg.Workspaces {
		res, err := r.Run(ctx, ws.Name)
		if err != nil {
			logger.Error("workspace run failed", "workspace", ws.Name, "error", err)
		}
		if res != nil {
			results = append(results, res)
		}
	}
	return results
}

// Run executes one reconciliation for workspace under its run lock.
func (r *Runner) Run(ctx context.Context, workspace string) (*RunResult, error) {
	ws, ok := r.cfg.Workspace(workspace)
	if !ok {
		return nil, ErrUnknownWorkspace
	}
	runID := uuid.New().String()
	log := logger.With("run_id", runID, "workspace", ws.Name)
	lock, err := r.acquire(ctx, log, ws)
	if err != nil {
		return nil, err
	}
	return r.runLocked(ctx, log, ws, runID, lock)
}

func (r *Runner) acquire(ctx context.Context, log *logger.Entry, ws config.WorkspaceConfig) (distlock.DistLock, error) {
	lock := distlock.NewLock(r.redis, r.db, "inboxbench:run:"+ws.Name, r.cfg.Redis.LockTTL())
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		log.Warn("run skipped, lock held elsewhere")
		metrics.ObserveRun(ws.Name, "locked", 0)
		return nil, ErrRunInProgress
	}
	return lock, nil
}

// renewLock extends a leased lock before the campaign pass. It reports
// false when the lease was lost.
func (r *Runner) renewLock(ctx context.Context, log *logger.Entry, lock distlock.DistLock, res *RunResult) bool {
	ext, ok := lock.(distlock.Extender)
	if !ok {
		return true
	}
	err := ext.Extend(ctx, r.cfg.Redis.LockTTL())
	switch {
	case err == nil:
		return true
	case errors.Is(err, distlock.ErrNotHeld):
		log.Error("run lock lost, skipping campaign reconciliation")
		res.addError("lock", err)
		return false
	default:
		log.Warn("extending run lock failed", "error", err)
		res.addError("lock", err)
		return true
	}
}

// runLocked runs with the workspace lock held and releases it on return.
func (r *Runner) runLocked(ctx context.Context, log *logger.Entry, ws config.WorkspaceConfig, runID string, lock distlock.DistLock) (*RunResult, error) {
	p := r.providers[ws.Name]
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			log.Warn("releasing run lock failed", "error", err)
		}
	}()

	rc := r.cfg.Reconciler
	res := &RunResult{
		RunID:     runID,
		Workspace: ws.Name,
		Platform:  p.Name(),
		StartedAt: r.now().UTC(),
		DryRun:    rc.DryRun,
	}
	log.Info("run started", "platform", p.Name(), "dry_run", rc.DryRun)

	runCtx := ctx
	if d := rc.RunTimeout(); d > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	accounts, err := p.ListAccounts(runCtx)
	if err != nil {
		log.Error("listing accounts failed", "error", err)
		res.addError("list accounts", err)
		r.finish(ctx, log, ws, res, nil)
		metrics.ObserveRun(ws.Name, "failed", 0)
		return res, fmt.Errorf("list accounts: %w", err)
	}

	tags := rc.TagNames()
	rules := rulesFrom(rc)
	result := deliverability.NewClassifier(rules, tags, deliverability.WithClock(r.now)).Classify(accounts)
	for _, ex := range result.Excluded {
		log.Warn("account excluded from classification",
			"account_id", ex.AccountID, "email", ex.Email, "error", ex.Err)
	}
	res.Result = result
	res.Stats = result.Stats
	log.Info("classification complete", "total", result.Stats.Total,
		"warming", result.Stats.Warming, "sick", result.Stats.Sick,
		"bench", result.Stats.Bench, "sending", result.Stats.Sending, "excluded", result.Stats.Excluded)

	res.Actions = deliverability.NewPlanner(tags, rules).Plan(result)
	fleet := deliverability.NewFleet(accounts)
	executor := deliverability.NewExecutor(deliverability.ExecutorConfig{
		Workers: rc.Workers,
		Delay:   rc.ActionDelay(),
		DryRun:  rc.DryRun,
		Warmup:  rc.Warmup,
		Tags:    tags,
	}, deliverability.WithLogger(log))
	res.Execution = executor.Execute(runCtx, p, fleet, res.Actions)
	res.Summary = res.Execution.Summary()
	for _, o := range res.Execution.Outcomes {
		metrics.ObserveAction(ws.Name, string(o.Action.Type), string(o.Status))
	}
	metrics.ObserveWarmupFailures(ws.Name, res.Execution.WarmupFailed)
	log.Info("execution complete", "summary", res.Summary)

	if len(ws.CampaignIDs) > 0 && r.renewLock(runCtx, log, lock, res) {
		stats := campaign.NewReconciler(campaign.WithLogger(log), campaign.WithDryRun(rc.DryRun)).
			Reconcile(runCtx, p, ws.CampaignIDs, result)
		res.Campaign = &stats
		metrics.ObserveCampaign(ws.Name, stats.Added, stats.Removed, stats.Failed)
	}

	r.finish(ctx, log, ws, res, fleet)

	counts := map[string]int{
		string(domain.StatusWarming): res.Stats.Warming,
		string(domain.StatusSick):    res.Stats.Sick,
		string(domain.StatusBench):   res.Stats.Bench,
		string(domain.StatusSending): res.Stats.Sending,
	}
	metrics.SetFleet(ws.Name, counts, res.Volume.Current)
	metrics.ObserveRun(ws.Name, "completed", res.FinishedAt.Sub(res.StartedAt))
	return res, nil
}

// finish reads the previous volume, syncs the snapshot, records the result
// and publishes the report. It ignores the run deadline.
func (r *Runner) finish(parent context.Context, log *logger.Entry, ws config.WorkspaceConfig, res *RunResult, fleet *deliverability.Fleet) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), finalizeTimeout)
	defer cancel()

	if fleet != nil {
		res.Volume.Current = campaign.SendingVolume(res.Result)
		if r.store != nil {
			prev, err := r.store.SendingVolume(ctx, ws.Name)
			if err != nil {
				log.Warn("reading previous sending volume failed", "error", err)
				res.addError("previous volume", err)
			} else {
				res.Volume.Previous = prev
				res.Volume.Known = true
			}
		}

		switch {
		case r.store == nil:
		case res.DryRun:
			log.Info("dry run, snapshot not written")
		default:
			tags := r.cfg.Reconciler.TagNames()
			at := r.now()
			accounts := fleet.Snapshot()
			rows := make([]domain.SnapshotRow, 0, len(accounts))
			for _, a := range accounts {
				rows = append(rows, domain.NewSnapshotRow(ws.Name, a, tags, at))
			}
			synced := snapshot.NewSyncer(r.store,
				snapshot.WithBatchSize(r.cfg.Store.BatchSize), snapshot.WithLogger(log)).Sync(ctx, rows)
			res.Sync = &synced
			metrics.ObserveSync(ws.Name, synced.Written, synced.Total)
		}
	}
	res.FinishedAt = r.now().UTC()

	// res is shared with Latest readers once recorded, so report errors
	// are appended first.
	if r.reporter != nil {
		_, errs := r.reporter.Publish(ctx, r.summary(ws, res))
		for _, err := range errs {
			res.addError("report", err)
		}
	}

	r.mu.Lock()
	r.latest[ws.Name] = res
	r.mu.Unlock()
}

func (r *Runner) summary(ws config.WorkspaceConfig, res *RunResult) report.Summary {
	instance := r.cfg.Report.InstanceName
	if len(r.cfg.Workspaces) > 1 {
		instance = fmt.Sprintf("%s: %s", instance, ws.Name)
	}
	webURL := ""
	if base := strings.TrimRight(r.cfg.Report.WebURL, "/"); base != "" {
		webURL = base + "/reports/" + ws.Name
	}
	return report.Summary{
		RunID:        res.RunID,
		Workspace:    ws.Name,
		Platform:     res.Platform,
		Instance:     instance,
		GeneratedAt:  res.FinishedAt,
		Rules:        rulesFrom(r.cfg.Reconciler),
		Stats:        res.Stats,
		Execution:    res.Execution,
		Campaign:     res.Campaign,
		Volume:       res.Volume,
		Sync:         res.Sync,
		DashboardURL: ws.DashboardURL,
		WebURL:       webURL,
		Errors:       append([]string(nil), res.Errors...),
	}
}

func rulesFrom(rc config.ReconcilerConfig) deliverability.Rules {
	return deliverability.Rules{
		WarmupPeriodDays: rc.WarmupPeriodDays,
		SickThreshold:    rc.SickThreshold,
		BenchRatio:       rc.BenchRatio,
	}
}
