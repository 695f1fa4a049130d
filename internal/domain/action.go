package domain

// ActionType names a tag transition planned for one account.
type ActionType string

const (
	ActionSetWarming ActionType = "SET_WARMING"
	ActionSetSick    ActionType = "SET_SICK"
	ActionSetBench   ActionType = "SET_BENCH"
	ActionSetSending ActionType = "SET_SENDING"
)

// Target returns the classification an action moves its account into.
func (t ActionType) Target() Classification {
	switch t {
	case ActionSetWarming:
		return Warming
	case ActionSetSick:
		return Sick
	case ActionSetBench:
		return Bench
	case ActionSetSending:
		return Sending
	default:
		return Unclassified
	}
}

// Action is one planned tag mutation. It lives for a single run.
type Action struct {
	AccountID string     `json:"account_id"`
	Email     string     `json:"email"`
	Type      ActionType `json:"action_type"`
	Reason    string     `json:"reason"`
}

// ActionStatus is how the executor left an action.
type ActionStatus string

const (
	ActionApplied ActionStatus = "applied"
	ActionFailed  ActionStatus = "failed"
	// ActionSkipped covers dry runs and actions never started because the
	// run's deadline passed.
	ActionSkipped ActionStatus = "skipped"
)

// ActionOutcome records the result of executing one Action.
// WarmupErr is set when the tags were applied but re-enabling warm-up failed.
type ActionOutcome struct {
	Action    Action       `json:"action"`
	Status    ActionStatus `json:"status"`
	Err       error        `json:"-"`
	WarmupErr error        `json:"-"`
}

// MembershipDelta is the change set computed for one campaign.
type MembershipDelta struct {
	CampaignID string   `json:"campaign_id"`
	ToAdd      []string `json:"to_add"`
	ToRemove   []string `json:"to_remove"`
}

// Empty reports whether the campaign is already converged.
func (d MembershipDelta) Empty() bool { return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 }
