package domain

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// TagSet holds the lowercase names of the tags applied to an account.
type TagSet map[string]struct{}

// NewTagSet builds a set from names, lowercasing and trimming each one.
func NewTagSet(names ...string) TagSet {
	s := make(TagSet, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

func normalizeTag(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Has reports whether name is present, ignoring case.
func (s TagSet) Has(name string) bool {
	_, ok := s[normalizeTag(name)]
	return ok
}

// Add inserts name. Empty names are ignored.
func (s TagSet) Add(name string) {
	if n := normalizeTag(name); n != "" {
		s[n] = struct{}{}
	}
}

// Remove deletes name if present.
func (s TagSet) Remove(name string) { delete(s, normalizeTag(name)) }

// Sorted returns the names in lexical order.
func (s TagSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (s TagSet) Clone() TagSet {
	c := make(TagSet, len(s))
	for n := range s {
		c[n] = struct{}{}
	}
	return c
}

// Account is one mailbox used for cold outreach, normalized across providers.
type Account struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Reputation int       `json:"reputation"`
	DailyLimit int       `json:"daily_limit"`
	CreatedAt  time.Time `json:"created_at"`
	Tags       TagSet    `json:"tags"`
}

var (
	ErrMissingID        = errors.New("account has no id")
	ErrMissingEmail     = errors.New("account has no email")
	ErrMissingCreatedAt = errors.New("account has no creation time")
	ErrReputationRange  = errors.New("account reputation outside 0-100")
)

// Validate checks the fields classification depends on.
func (a Account) Validate() error {
	switch {
	case strings.TrimSpace(a.ID) == "":
		return ErrMissingID
	case strings.TrimSpace(a.Email) == "":
		return ErrMissingEmail
	case a.CreatedAt.IsZero():
		return ErrMissingCreatedAt
	case a.Reputation < 0 || a.Reputation > 100:
		return ErrReputationRange
	}
	return nil
}

// AgeDays is the number of whole days between creation and now.
func (a Account) AgeDays(now time.Time) int {
	if a.CreatedAt.After(now) {
		return 0
	}
	return int(now.Sub(a.CreatedAt) / (24 * time.Hour))
}

// Clone returns a copy whose tag set can be mutated independently.
func (a Account) Clone() Account {
	c := a
	c.Tags = a.Tags.Clone()
	return c
}
