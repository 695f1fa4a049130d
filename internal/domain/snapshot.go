package domain

import "time"

// Status is the persisted form of an account's classification.
type Status string

const (
	StatusWarming Status = "WARMING"
	StatusSick    Status = "SICK"
	StatusBench   Status = "BENCH"
	StatusSending Status = "SENDING"
	StatusUnknown Status = "UNKNOWN"
)

// StatusOf maps a classification to its persisted status.
func StatusOf(c Classification) Status {
	switch c {
	case Warming:
		return StatusWarming
	case Sick:
		return StatusSick
	case Bench:
		return StatusBench
	case Sending:
		return StatusSending
	default:
		return StatusUnknown
	}
}

// StatusFromTags derives the status from an account's current tags. When
// several classification tags coexist (a partially applied run) the most
// active one wins: Sending, then Bench, Warming, Sick.
func StatusFromTags(tags TagSet, names TagNames) Status {
	for _, c := range []Classification{Sending, Bench, Warming, Sick} {
		if tags.Has(names.For(c)) {
			return StatusOf(c)
		}
	}
	return StatusUnknown
}

// SnapshotRow is one account's end-of-run state as written to the state store.
type SnapshotRow struct {
	Workspace     string    `json:"workspace"`
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Status        Status    `json:"status"`
	Tags          []string  `json:"tags"`
	WarmupScore   int       `json:"warmup_score"`
	DailyLimit    int       `json:"daily_limit"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// NewSnapshotRow builds the row for an account as it stands now.
func NewSnapshotRow(workspace string, a Account, names TagNames, at time.Time) SnapshotRow {
	return SnapshotRow{
		Workspace:     workspace,
		ID:            a.ID,
		Email:         a.Email,
		Status:        StatusFromTags(a.Tags, names),
		Tags:          a.Tags.Sorted(),
		WarmupScore:   a.Reputation,
		DailyLimit:    a.DailyLimit,
		LastUpdatedAt: at.UTC(),
	}
}

// WarmupSettings is the warm-up configuration applied to Warming and Sick accounts.
type WarmupSettings struct {
	TotalPerDay      int  `json:"total_warmup_per_day" yaml:"total_per_day"`
	DailyRampup      int  `json:"daily_rampup" yaml:"daily_rampup"`
	ReplyRatePercent int  `json:"reply_rate_percentage" yaml:"reply_rate_percent"`
	Enabled          bool `json:"warmup_enabled" yaml:"enabled"`
}

// DefaultWarmupSettings ramps to 35/day in steps of 5 with a 38% reply rate.
func DefaultWarmupSettings() WarmupSettings {
	return WarmupSettings{TotalPerDay: 35, DailyRampup: 5, ReplyRatePercent: 38, Enabled: true}
}
