// Package deliverability decides which lifecycle bucket every account
// belongs in and converges provider tags to match.
//
// A run is Classify, then Plan, then Execute. Classification is a pure
// function of the fleet listing and the clock; it is re-derived from
// scratch each run.
package deliverability

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/pkg/logger"
)

// ErrDuplicateID marks the second and later accounts listed under one id.
var ErrDuplicateID = errors.New("duplicate account id")

// Rules are the classification tunables.
type Rules struct {
	WarmupPeriodDays int
	SickThreshold    int
	BenchRatio       float64
}

// DefaultRules returns a 14-day warm-up, a 98% sick threshold and a 20% bench.
func DefaultRules() Rules {
	return Rules{WarmupPeriodDays: 14, SickThreshold: 98, BenchRatio: 0.20}
}

// TargetBenchCount is the bench size for a healthy pool of n accounts:
// BenchRatio × n rounded half up.
func (r Rules) TargetBenchCount(n int) int {
	if n <= 0 || r.BenchRatio <= 0 {
		return 0
	}
	c := int(math.Floor(r.BenchRatio*float64(n) + 0.5))
	if c > n {
		c = n
	}
	return c
}

// Assignment is one account's target bucket.
type Assignment struct {
	Account domain.Account
	Target  domain.Classification
	AgeDays int
}

// Exclusion is an account left out of classification this run.
type Exclusion struct {
	AccountID string
	Email     string
	Err       error
}

// Stats counts accounts per bucket.
type Stats struct {
	Total       int `json:"total"`
	Warming     int `json:"warming"`
	Sick        int `json:"sick"`
	Bench       int `json:"bench"`
	Sending     int `json:"sending"`
	Excluded    int `json:"excluded"`
	TargetBench int `json:"target_bench"`
}

// Result is the output of one classification pass. Assignments are ordered
// Warming, Sick, Bench, Sending; within Warming and Sick input order is kept,
// within Bench and Sending the stability order is.
type Result struct {
	Assignments []Assignment
	Excluded    []Exclusion
	Stats       Stats

	targets map[string]domain.Classification
}

// Target returns the bucket assigned to id, or Unclassified.
func (r Result) Target(id string) domain.Classification {
	return r.targets[id]
}

// IDs returns the ids assigned to c in assignment order.
func (r Result) IDs(c domain.Classification) []string {
	var ids []string
	for _, a := range r.Assignments {
		if a.Target == c {
			ids = append(ids, a.Account.ID)
		}
	}
	return ids
}

// Classifier partitions a fleet listing into lifecycle buckets.
type Classifier struct {
	rules Rules
	tags  domain.TagNames
	now   func() time.Time
}

// ClassifierOption customizes a Classifier.
type ClassifierOption func(*Classifier)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ClassifierOption {
	return func(c *Classifier) { c.now = now }
}

// NewClassifier creates a classifier. Zero-valued rules fall back to DefaultRules.
func NewClassifier(rules Rules, tags domain.TagNames, opts ...ClassifierOption) *Classifier {
	d := DefaultRules()
	if rules.WarmupPeriodDays <= 0 {
		rules.WarmupPeriodDays = d.WarmupPeriodDays
	}
	if rules.SickThreshold <= 0 {
		rules.SickThreshold = d.SickThreshold
	}
	if rules.BenchRatio < 0 {
		rules.BenchRatio = 0
	}
	c := &Classifier{rules: rules, tags: tags.WithDefaults(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rules returns the rules in effect.
func (c *Classifier) Rules() Rules { return c.rules }

// Classify assigns every valid account a bucket:
//
//   - age below the warm-up period: Warming, whatever the reputation;
//   - otherwise reputation below the sick threshold: Sick;
//   - the rest form the healthy pool, split into Bench and Sending.
//
// The healthy pool is ordered bench-tagged first, untagged next and
// sending-tagged last, ties by id, and the first TargetBenchCount go to
// Bench. Accounts already on the bench stay there while the bench has room,
// so small changes to the pool flip as few accounts as possible.
func (c *Classifier) Classify(accounts []domain.Account) Result {
	now := c.now()
	res := Result{targets: make(map[string]domain.Classification, len(accounts))}
	res.Stats.Total = len(accounts)

	var warming, sick, healthy []Assignment
	seen := make(map[string]bool, len(accounts))
	for _, acc := range accounts {
		err := acc.Validate()
		if err == nil && seen[acc.ID] {
			err = ErrDuplicateID
		}
		if err != nil {
			logger.Warn("excluding account from classification", "account_id", acc.ID, "email", acc.Email, "error", err)
			res.Excluded = append(res.Excluded, Exclusion{AccountID: acc.ID, Email: acc.Email, Err: err})
			continue
		}
		seen[acc.ID] = true

		age := acc.AgeDays(now)
		a := Assignment{Account: acc, AgeDays: age}
		switch {
		case age < c.rules.WarmupPeriodDays:
			a.Target = domain.Warming
			warming = append(warming, a)
		case acc.Reputation < c.rules.SickThreshold:
			a.Target = domain.Sick
			sick = append(sick, a)
		default:
			healthy = append(healthy, a)
		}
	}

	sort.SliceStable(healthy, func(i, j int) bool {
		ri, rj := c.stabilityRank(healthy[i].Account), c.stabilityRank(healthy[j].Account)
		if ri != rj {
			return ri < rj
		}
		return healthy[i].Account.ID < healthy[j].Account.ID
	})
	benchCount := c.rules.TargetBenchCount(len(healthy))
	for i := range healthy {
		if i < benchCount {
			healthy[i].Target = domain.Bench
		} else {
			healthy[i].Target = domain.Sending
		}
	}

	res.Assignments = make([]Assignment, 0, len(warming)+len(sick)+len(healthy))
	res.Assignments = append(res.Assignments, warming...)
	res.Assignments = append(res.Assignments, sick...)
	res.Assignments = append(res.Assignments, healthy...)
	for _, a := range res.Assignments {
		res.targets[a.Account.ID] = a.Target
	}

	res.Stats.Warming = len(warming)
	res.Stats.Sick = len(sick)
	res.Stats.Bench = benchCount
	res.Stats.Sending = len(healthy) - benchCount
	res.Stats.Excluded = len(res.Excluded)
	res.Stats.TargetBench = benchCount
	return res
}

// stabilityRank orders the healthy pool: 0 bench-tagged, 1 neutral, 2 sending-tagged.
func (c *Classifier) stabilityRank(acc domain.Account) int {
	switch {
	case acc.Tags.Has(c.tags.Bench):
		return 0
	case acc.Tags.Has(c.tags.Sending):
		return 2
	default:
		return 1
	}
}
