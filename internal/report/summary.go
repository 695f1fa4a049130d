// Package report turns a reconciliation run into the daily HTML and Slack
// reports and delivers them.
package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ignite/inboxbench/internal/campaign"
	"github.com/ignite/inboxbench/internal/deliverability"
	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/snapshot"
)

// Summary is everything a report shows about one run.
type Summary struct {
	RunID        string
	Workspace    string
	Platform     string
	Instance     string
	GeneratedAt  time.Time
	Rules        deliverability.Rules
	Stats        deliverability.Stats
	Execution    deliverability.ExecutionReport
	Campaign     *campaign.Stats
	Volume       campaign.Drift
	Sync         *snapshot.SyncReport
	DashboardURL string
	WebURL       string
	// Errors holds stage failures outside the per-action outcomes, such as
	// a failed account listing.
	Errors []string
}

// Status is the one-word outcome shown at the top of a report.
func (s Summary) Status() string {
	switch {
	case s.Execution.DryRun:
		return "DRY RUN"
	case s.Failures() > 0:
		return "COMPLETED WITH ERRORS"
	default:
		return "COMPLETED"
	}
}

// Failures counts every failed action, warm-up, campaign edit, store batch
// and stage error.
func (s Summary) Failures() int {
	n := s.Execution.Failed + s.Execution.WarmupFailed + len(s.Errors)
	if s.Campaign != nil {
		n += s.Campaign.Failed
	}
	if s.Sync != nil {
		n += s.Sync.FailedBatches
	}
	return n
}

// Subject is the email subject line.
func (s Summary) Subject() string {
	subject := fmt.Sprintf("Inbox Bench [%s]: %d Sick, %d Warming", s.Instance, s.Stats.Sick, s.Stats.Warming)
	if s.Execution.DryRun {
		subject = "[DRY RUN] " + subject
	}
	return subject
}

// ActionLine is one rendered row of the action log.
type ActionLine struct {
	Icon   string
	Color  string
	Type   string
	Email  string
	Reason string
	Status string
	Error  string
}

// Text renders the line for plain-text channels.
func (l ActionLine) Text() string {
	line := fmt.Sprintf("%s [%s] %s -> %s", l.Icon, l.Type, l.Email, l.Reason)
	if l.Status != string(domain.ActionApplied) {
		line += " (" + l.Status + ")"
	}
	if l.Error != "" {
		line += ": " + l.Error
	}
	return line
}

// Lines converts the execution outcomes into log lines, in plan order.
func (s Summary) Lines() []ActionLine {
	lines := make([]ActionLine, 0, len(s.Execution.Outcomes))
	for _, o := range s.Execution.Outcomes {
		icon, color := style(o.Action.Type)
		l := ActionLine{
			Icon:   icon,
			Color:  color,
			Type:   string(o.Action.Type),
			Email:  o.Action.Email,
			Reason: o.Action.Reason,
			Status: string(o.Status),
		}
		switch {
		case o.Err != nil:
			l.Error = o.Err.Error()
		case o.WarmupErr != nil:
			l.Error = "warm-up not enabled: " + o.WarmupErr.Error()
		}
		lines = append(lines, l)
	}
	return lines
}

func style(t domain.ActionType) (icon, color string) {
	switch t {
	case domain.ActionSetWarming:
		return "👶", "#f0ad4e"
	case domain.ActionSetSick:
		return "🚑", "#d9534f"
	case domain.ActionSetBench:
		return "🛋️", "#5bc0de"
	case domain.ActionSetSending:
		return "🚀", "#5cb85c"
	}
	return "⚪️", "#333"
}

// Column headers for the bucket table, e.g. "Sick (<98%)".
func (s Summary) headers() map[string]string {
	bench := int(math.Round(s.Rules.BenchRatio * 100))
	return map[string]string{
		"warming": fmt.Sprintf("Warming (<%dd)", s.Rules.WarmupPeriodDays),
		"sick":    fmt.Sprintf("Sick (<%d%%)", s.Rules.SickThreshold),
		"bench":   fmt.Sprintf("Bench (%d%%)", bench),
		"sending": fmt.Sprintf("Sending (%d%%)", 100-bench),
	}
}

// PlainText is the action log as text, the fallback part of the email.
func (s Summary) PlainText() string {
	lines := s.Lines()
	if len(lines) == 0 {
		return "No status changes."
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Text())
		b.WriteByte('\n')
	}
	return b.String()
}

// SlackText renders the concise Slack update.
func (s Summary) SlackText() string {
	var b strings.Builder
	b.WriteString("*Inbox Bench Daily Update*")
	if s.Execution.DryRun {
		b.WriteString(" _(dry run)_")
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "• Workspace: %s\n", s.Instance)
	fmt.Fprintf(&b, "• Total Accounts: %d\n", s.Stats.Total)
	fmt.Fprintf(&b, "• Sick: %d\n", s.Stats.Sick)
	fmt.Fprintf(&b, "• Warming: %d\n", s.Stats.Warming)
	fmt.Fprintf(&b, "• Bench: %d\n", s.Stats.Bench)
	fmt.Fprintf(&b, "• Sending: %d\n", s.Stats.Sending)
	fmt.Fprintf(&b, "• Actions: %s\n", s.Execution.Summary())

	switch {
	case s.Campaign == nil || (s.Campaign.Added == 0 && s.Campaign.Removed == 0 && s.Campaign.Failed == 0):
		b.WriteString("• Campaign: No changes\n")
	default:
		fmt.Fprintf(&b, "• Campaign: +%d Added | -%d Removed", s.Campaign.Added, s.Campaign.Removed)
		if s.Campaign.Failed > 0 {
			fmt.Fprintf(&b, " | %d Failed", s.Campaign.Failed)
		}
		b.WriteByte('\n')
	}

	if s.Volume.Known {
		fmt.Fprintf(&b, "• Sending Volume: %d (%s)\n", s.Volume.Current, s.Volume.Signed())
	} else {
		b.WriteString("• Sending Volume: N/A\n")
	}
	if s.Sync != nil {
		fmt.Fprintf(&b, "• Snapshot: %d of %d rows synced\n", s.Sync.Written, s.Sync.Total)
	}
	if n := s.Failures(); n > 0 {
		fmt.Fprintf(&b, "• Failures: %d\n", n)
	}
	if s.WebURL != "" {
		fmt.Fprintf(&b, "<%s|View Full Web Report>\n", s.WebURL)
	}
	return b.String()
}
