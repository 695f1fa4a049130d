package domain

import "strings"

// Classification is the lifecycle bucket an account belongs to this run.
type Classification int

const (
	Unclassified Classification = iota
	Warming
	Sick
	Bench
	Sending
)

// Classifications lists the four buckets in lifecycle order.
var Classifications = []Classification{Warming, Sick, Bench, Sending}

func (c Classification) String() string {
	switch c {
	case Warming:
		return "Warming"
	case Sick:
		return "Sick"
	case Bench:
		return "Bench"
	case Sending:
		return "Sending"
	default:
		return "Unclassified"
	}
}

// ActionType is the action that moves an account into c.
func (c Classification) ActionType() ActionType {
	switch c {
	case Warming:
		return ActionSetWarming
	case Sick:
		return ActionSetSick
	case Bench:
		return ActionSetBench
	case Sending:
		return ActionSetSending
	default:
		return ""
	}
}

// NeedsWarmup reports whether accounts entering c get warm-up re-enabled.
func (c Classification) NeedsWarmup() bool { return c == Warming || c == Sick }

// TagNames maps each classification to the tag name written on the provider.
// Comparisons against provider tags are case-insensitive; the configured
// casing is only used when a tag has to be created.
type TagNames struct {
	Warming string `yaml:"warming"`
	Sick    string `yaml:"sick"`
	Bench   string `yaml:"bench"`
	Sending string `yaml:"sending"`
}

// DefaultTagNames returns Warming/Sick/Bench/Sending.
func DefaultTagNames() TagNames {
	return TagNames{Warming: "Warming", Sick: "Sick", Bench: "Bench", Sending: "Sending"}
}

// WithDefaults fills any empty name from DefaultTagNames.
func (t TagNames) WithDefaults() TagNames {
	d := DefaultTagNames()
	if strings.TrimSpace(t.Warming) == "" {
		t.Warming = d.Warming
	}
	if strings.TrimSpace(t.Sick) == "" {
		t.Sick = d.Sick
	}
	if strings.TrimSpace(t.Bench) == "" {
		t.Bench = d.Bench
	}
	if strings.TrimSpace(t.Sending) == "" {
		t.Sending = d.Sending
	}
	return t
}

// For returns the tag name of c, or "" for Unclassified.
func (t TagNames) For(c Classification) string {
	switch c {
	case Warming:
		return t.Warming
	case Sick:
		return t.Sick
	case Bench:
		return t.Bench
	case Sending:
		return t.Sending
	default:
		return ""
	}
}

// Others returns the three classification tags that must be absent when an
// account is in c.
func (t TagNames) Others(c Classification) []string {
	out := make([]string, 0, 3)
	for _, other := range Classifications {
		if other != c {
			out = append(out, t.For(other))
		}
	}
	return out
}

// Present returns the classifications whose tag appears in tags.
func (t TagNames) Present(tags TagSet) []Classification {
	var out []Classification
	for _, c := range Classifications {
		if tags.Has(t.For(c)) {
			out = append(out, c)
		}
	}
	return out
}

// Converged reports whether tags carry exactly c's tag and none of the others.
func (t TagNames) Converged(tags TagSet, c Classification) bool {
	present := t.Present(tags)
	return len(present) == 1 && present[0] == c
}
