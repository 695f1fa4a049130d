package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTagSet(t *testing.T) {
	s := NewTagSet("Sending", " vip ", "")
	assert.True(t, s.Has("sending"))
	assert.True(t, s.Has("SENDING"))
	assert.True(t, s.Has("VIP"))
	assert.Len(t, s, 2)

	c := s.Clone()
	c.Remove("Sending")
	assert.True(t, s.Has("sending"), "clone must not alias the original")
	assert.Equal(t, []string{"sending", "vip"}, s.Sorted())
}

func TestAccount_AgeDays(t *testing.T) {
	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		created time.Time
		want    int
	}{
		{"same day", now.Add(-2 * time.Hour), 0},
		{"just under two weeks", now.Add(-14*24*time.Hour + time.Minute), 13},
		{"exactly two weeks", now.Add(-14 * 24 * time.Hour), 14},
		{"future timestamp", now.Add(time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Account{CreatedAt: tt.created}.AgeDays(now))
		})
	}
}

func TestAccount_Validate(t *testing.T) {
	ok := Account{ID: "1", Email: "a@b.io", CreatedAt: time.Now(), Reputation: 99}
	assert.NoError(t, ok.Validate())

	noID := ok
	noID.ID = " "
	assert.ErrorIs(t, noID.Validate(), ErrMissingID)

	noEmail := ok
	noEmail.Email = ""
	assert.ErrorIs(t, noEmail.Validate(), ErrMissingEmail)

	noCreated := ok
	noCreated.CreatedAt = time.Time{}
	assert.ErrorIs(t, noCreated.Validate(), ErrMissingCreatedAt)

	badRep := ok
	badRep.Reputation = 140
	assert.ErrorIs(t, badRep.Validate(), ErrReputationRange)
}

func TestTagNames(t *testing.T) {
	names := TagNames{Sending: "Running"}.WithDefaults()

	assert.Equal(t, "Running", names.For(Sending))
	assert.Equal(t, []string{"Warming", "Sick", "Bench"}, names.Others(Sending))
	assert.Equal(t, []string{"Sick", "Bench", "Running"}, names.Others(Warming))

	tags := NewTagSet("bench", "running", "vip")
	assert.Equal(t, []Classification{Bench, Sending}, names.Present(tags))
	assert.False(t, names.Converged(tags, Bench))
	assert.True(t, names.Converged(NewTagSet("bench", "vip"), Bench))
}

func TestStatusFromTags(t *testing.T) {
	names := DefaultTagNames()
	assert.Equal(t, StatusSending, StatusFromTags(NewTagSet("sick", "sending"), names))
	assert.Equal(t, StatusWarming, StatusFromTags(NewTagSet("Warming"), names))
	assert.Equal(t, StatusUnknown, StatusFromTags(NewTagSet("vip"), names))
}

func TestClassificationActionRoundTrip(t *testing.T) {
	for _, c := range Classifications {
		assert.Equal(t, c, c.ActionType().Target())
	}
	assert.True(t, Warming.NeedsWarmup())
	assert.True(t, Sick.NeedsWarmup())
	assert.False(t, Bench.NeedsWarmup())
	assert.False(t, Sending.NeedsWarmup())
}

func TestNewSnapshotRow(t *testing.T) {
	at := time.Date(2025, 3, 20, 9, 0, 0, 0, time.FixedZone("EST", -5*3600))
	a := Account{ID: "42", Email: "a@b.io", Reputation: 99, DailyLimit: 40, Tags: NewTagSet("Sending", "vip")}

	row := NewSnapshotRow("acme", a, DefaultTagNames(), at)
	assert.Equal(t, "acme", row.Workspace)
	assert.Equal(t, StatusSending, row.Status)
	assert.Equal(t, []string{"sending", "vip"}, row.Tags)
	assert.Equal(t, 99, row.WarmupScore)
	assert.Equal(t, 40, row.DailyLimit)
	assert.Equal(t, time.UTC, row.LastUpdatedAt.Location())
}
