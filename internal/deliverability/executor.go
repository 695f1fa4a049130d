package deliverability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/pkg/logger"
	"github.com/ignite/inboxbench/internal/provider"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the executor pool size when none is configured.
const DefaultWorkers = 3

// ExecutorConfig holds executor tunables.
type ExecutorConfig struct {
	// Workers bounds concurrent provider calls. It sits below the platforms'
	// per-key rate limits and is not a throughput knob.
	Workers int
	// Delay is the pause each worker takes after every action.
	Delay  time.Duration
	DryRun bool
	Warmup domain.WarmupSettings
	Tags   domain.TagNames
}

// Executor applies planned actions against a provider.
type Executor struct {
	cfg   ExecutorConfig
	log   *logger.Entry
	sleep func(ctx context.Context, d time.Duration)
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithLogger routes executor logs through a run-scoped entry.
func WithLogger(l *logger.Entry) ExecutorOption {
	return func(e *Executor) { e.log = l }
}

// NewExecutor creates an executor. Zero Workers selects DefaultWorkers.
func NewExecutor(cfg ExecutorConfig, opts ...ExecutorOption) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.Warmup == (domain.WarmupSettings{}) {
		cfg.Warmup = domain.DefaultWarmupSettings()
	}
	cfg.Tags = cfg.Tags.WithDefaults()
	e := &Executor{cfg: cfg, log: logger.With(), sleep: sleepCtx}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecutionReport is the outcome of one Execute call. Outcomes line up with
// the actions passed in.
type ExecutionReport struct {
	Outcomes     []domain.ActionOutcome
	Total        int
	Applied      int
	Failed       int
	Skipped      int
	WarmupFailed int
	DryRun       bool
}

// Summary renders the report as "N of M actions applied".
func (r ExecutionReport) Summary() string {
	s := fmt.Sprintf("%d of %d actions applied", r.Applied, r.Total)
	if r.Failed > 0 {
		s += fmt.Sprintf(", %d failed", r.Failed)
	}
	if r.Skipped > 0 {
		s += fmt.Sprintf(", %d skipped", r.Skipped)
	}
	return s
}

// Errors returns every tag and warm-up error, in action order.
func (r ExecutionReport) Errors() []error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", o.Action.Type, o.Action.AccountID, o.Err))
		}
		if o.WarmupErr != nil {
			errs = append(errs, fmt.Errorf("enable warmup %s: %w", o.Action.AccountID, o.WarmupErr))
		}
	}
	return errs
}

// Execute applies actions with at most Workers in flight. Each action
// replaces the account's classification tag and, for Warming and Sick,
// re-enables warm-up. A failed action is recorded and never stops its
// siblings.
//
// Once ctx is done no further action is started; those left are reported
// as skipped. Calls already in flight run to completion on a context that
// ignores ctx's cancellation.
func (e *Executor) Execute(ctx context.Context, p provider.Provider, fleet *Fleet, actions []domain.Action) ExecutionReport {
	report := ExecutionReport{
		Outcomes: make([]domain.ActionOutcome, len(actions)),
		Total:    len(actions),
		DryRun:   e.cfg.DryRun,
	}
	for i, a := range actions {
		report.Outcomes[i] = domain.ActionOutcome{Action: a, Status: domain.ActionSkipped}
	}
	if e.cfg.DryRun || len(actions) == 0 {
		report.Skipped = len(actions)
		return report
	}

	inflight := context.WithoutCancel(ctx)
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)

	for i, action := range actions {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			report.Outcomes[i] = e.apply(inflight, p, fleet, action)
			e.sleep(ctx, e.cfg.Delay)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range report.Outcomes {
		switch o.Status {
		case domain.ActionApplied:
			report.Applied++
		case domain.ActionFailed:
			report.Failed++
		default:
			report.Skipped++
		}
		if o.WarmupErr != nil {
			report.WarmupFailed++
		}
	}
	if ctx.Err() != nil && report.Skipped > 0 {
		e.log.Warn("run deadline reached, remaining actions skipped", "skipped", report.Skipped)
	}
	return report
}

func (e *Executor) apply(ctx context.Context, p provider.Provider, fleet *Fleet, action domain.Action) domain.ActionOutcome {
	out := domain.ActionOutcome{Action: action}
	target := action.Type.Target()
	if target == domain.Unclassified {
		out.Status = domain.ActionFailed
		out.Err = fmt.Errorf("unknown action type %q", action.Type)
		return out
	}

	add, remove := Changes(action, e.cfg.Tags)
	if err := p.UpdateTags(ctx, action.AccountID, add, remove); err != nil {
		e.log.Error("tag update failed",
			"account_id", action.AccountID, "email", action.Email, "action", action.Type,
			"retryable", provider.IsRetryable(err), "error", err)
		out.Status = domain.ActionFailed
		out.Err = err
		return out
	}
	fleet.Apply(action.AccountID, add, remove)
	out.Status = domain.ActionApplied

	if target.NeedsWarmup() {
		err := p.EnableWarmup(ctx, action.AccountID, e.cfg.Warmup)
		switch {
		case errors.Is(err, provider.ErrUnsupported):
			e.log.Debug("warmup not supported by provider", "provider", p.Name())
		case err != nil:
			e.log.Warn("enable warmup failed", "account_id", action.AccountID, "email", action.Email, "error", err)
			out.WarmupErr = err
		}
	}

	e.log.Info("action applied", "account_id", action.AccountID, "email", action.Email,
		"action", action.Type, "reason", action.Reason)
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
