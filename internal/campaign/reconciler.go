// Package campaign keeps outreach campaigns' sender lists equal to the set
// of accounts classified Sending.
package campaign

import (
	"context"
	"fmt"
	"sort"

	"github.com/ignite/inboxbench/internal/deliverability"
	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/pkg/logger"
	"github.com/ignite/inboxbench/internal/provider"
)

// Stats aggregates one reconciliation pass over every managed campaign.
type Stats struct {
	Campaigns  int                      `json:"campaigns"`
	Added      int                      `json:"added"`
	Removed    int                      `json:"removed"`
	Failed     int                      `json:"failed"`
	Deltas     []domain.MembershipDelta `json:"deltas"`
	Errors     []error                  `json:"-"`
	Skipped    bool                     `json:"skipped"`
	SkipReason string                   `json:"skip_reason,omitempty"`
	DryRun     bool                     `json:"dry_run"`
}

// Reconciler diffs and applies campaign membership.
type Reconciler struct {
	log    *logger.Entry
	dryRun bool
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithLogger routes logs through a run-scoped entry.
func WithLogger(l *logger.Entry) Option {
	return func(r *Reconciler) { r.log = l }
}

// WithDryRun computes deltas without applying them.
func WithDryRun(dryRun bool) Option {
	return func(r *Reconciler) { r.dryRun = dryRun }
}

// NewReconciler creates a reconciler.
func NewReconciler(opts ...Option) *Reconciler {
	r := &Reconciler{log: logger.With()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Diff computes the change set for one campaign: sending accounts the
// campaign lacks, and members that are not sending. Accounts in keep are
// never removed. Both lists are sorted.
func Diff(campaignID string, members, sending []string, keep map[string]bool) domain.MembershipDelta {
	want := make(map[string]bool, len(sending))
	for _, id := range sending {
		want[id] = true
	}
	have := make(map[string]bool, len(members))
	for _, id := range members {
		have[id] = true
	}

	d := domain.MembershipDelta{CampaignID: campaignID}
	for id := range want {
		if !have[id] {
			d.ToAdd = append(d.ToAdd, id)
		}
	}
	for id := range have {
		if !want[id] && !keep[id] {
			d.ToRemove = append(d.ToRemove, id)
		}
	}
	sort.Strings(d.ToAdd)
	sort.Strings(d.ToRemove)
	return d
}

// Reconcile converges every campaign in campaignIDs to the accounts result
// classifies as Sending. Additions and removals are applied one account at
// a time and independently, so one failure never blocks the rest.
//
// Accounts excluded from classification keep their memberships. When the
// classification covers no accounts at all the pass is skipped: an empty
// listing is far more likely a bad fetch than an empty fleet, and acting on
// it would strip every campaign.
func (r *Reconciler) Reconcile(ctx context.Context, p provider.Provider, campaignIDs []string, result deliverability.Result) Stats {
	stats := Stats{DryRun: r.dryRun}
	if len(campaignIDs) == 0 {
		return stats
	}
	if len(result.Assignments) == 0 {
		stats.Skipped = true
		stats.SkipReason = "no classified accounts; refusing to empty campaigns"
		r.log.Warn("skipping campaign reconciliation", "reason", stats.SkipReason)
		return stats
	}

	sending := result.IDs(domain.Sending)
	keep := make(map[string]bool, len(result.Excluded))
	for _, ex := range result.Excluded {
		if ex.AccountID != "" {
			keep[ex.AccountID] = true
		}
	}

	for _, campaignID := range campaignIDs {
		if ctx.Err() != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("campaign %s: %w", campaignID, ctx.Err()))
			stats.Failed++
			continue
		}
		stats.Campaigns++

		members, err := p.ListCampaignMembers(ctx, campaignID)
		if err != nil {
			r.log.Error("listing campaign members failed", "campaign_id", campaignID, "error", err)
			stats.Errors = append(stats.Errors, fmt.Errorf("campaign %s: listing members: %w", campaignID, err))
			stats.Failed++
			continue
		}

		delta := Diff(campaignID, members, sending, keep)
		stats.Deltas = append(stats.Deltas, delta)
		if delta.Empty() {
			r.log.Debug("campaign already converged", "campaign_id", campaignID, "members", len(members))
			continue
		}
		r.log.Info("campaign membership delta", "campaign_id", campaignID,
			"to_add", len(delta.ToAdd), "to_remove", len(delta.ToRemove), "dry_run", r.dryRun)
		if r.dryRun {
			continue
		}

		for _, id := range delta.ToAdd {
			if err := p.AddToCampaign(ctx, campaignID, id); err != nil {
				r.log.Error("adding account to campaign failed", "campaign_id", campaignID, "account_id", id, "error", err)
				stats.Errors = append(stats.Errors, fmt.Errorf("campaign %s: adding %s: %w", campaignID, id, err))
				stats.Failed++
				continue
			}
			stats.Added++
		}
		for _, id := range delta.ToRemove {
			if err := p.RemoveFromCampaign(ctx, campaignID, id); err != nil {
				r.log.Error("removing account from campaign failed", "campaign_id", campaignID, "account_id", id, "error", err)
				stats.Errors = append(stats.Errors, fmt.Errorf("campaign %s: removing %s: %w", campaignID, id, err))
				stats.Failed++
				continue
			}
			stats.Removed++
		}
	}
	return stats
}

// SendingVolume is the total daily limit of the accounts result classifies
// as Sending.
func SendingVolume(result deliverability.Result) int {
	total := 0
	for _, a := range result.Assignments {
		if a.Target == domain.Sending {
			total += a.Account.DailyLimit
		}
	}
	return total
}

// Drift is the change in sending volume since the previous run.
type Drift struct {
	Previous int  `json:"previous"`
	Current  int  `json:"current"`
	Known    bool `json:"known"`
}

// Delta returns current minus previous.
func (d Drift) Delta() int { return d.Current - d.Previous }

// Signed renders the delta with an explicit sign, e.g. "+120" or "-50".
func (d Drift) Signed() string {
	if d.Delta() >= 0 {
		return fmt.Sprintf("+%d", d.Delta())
	}
	return fmt.Sprintf("%d", d.Delta())
}
