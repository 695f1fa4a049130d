package deliverability

import (
	"fmt"
	"math"

	"github.com/ignite/inboxbench/internal/domain"
)

// Planner turns a classification into the tag actions needed to converge.
type Planner struct {
	tags  domain.TagNames
	rules Rules
}

// NewPlanner creates a planner for the given tag names.
func NewPlanner(tags domain.TagNames, rules Rules) *Planner {
	return &Planner{tags: tags.WithDefaults(), rules: rules}
}

// Plan emits one action per account whose tags do not already say exactly
// its target bucket: either the target tag is missing or another
// classification tag is present. A converged fleet yields no actions.
// Actions follow the order of result.Assignments.
func (p *Planner) Plan(result Result) []domain.Action {
	var actions []domain.Action
	for _, a := range result.Assignments {
		if p.tags.Converged(a.Account.Tags, a.Target) {
			continue
		}
		actions = append(actions, domain.Action{
			AccountID: a.Account.ID,
			Email:     a.Account.Email,
			Type:      a.Target.ActionType(),
			Reason:    p.reason(a),
		})
	}
	return actions
}

func (p *Planner) reason(a Assignment) string {
	switch a.Target {
	case domain.Warming:
		return fmt.Sprintf("New Account (%dd)", a.AgeDays)
	case domain.Sick:
		return fmt.Sprintf("Low Reputation (%d%%)", a.Account.Reputation)
	case domain.Bench:
		return fmt.Sprintf("Healthy Reserve (Top %d%%)", int(math.Round(p.rules.BenchRatio*100)))
	case domain.Sending:
		return "Active Sender (Healthy)"
	default:
		return "Classified as " + a.Target.String()
	}
}

// Changes returns the tag names an action adds and removes.
func Changes(action domain.Action, tags domain.TagNames) (add, remove []string) {
	target := action.Type.Target()
	return []string{tags.For(target)}, tags.Others(target)
}
