package quality

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admarket/mediator/internal/models"
)

// stubStore serves canned click counts keyed by the lookback cutoff. Windows
// are identified by how far the cutoff lies in the past.
type stubStore struct {
	models.ReadModel
	now    time.Time
	byDays map[int][2]int64 // days back -> {accepted, rejected}
}

func (s *stubStore) PartnerClickCounts(_ context.Context, _ int, since time.Time) (int64, int64, error) {
	days := int(s.now.Sub(since).Hours() / 24)
	c := s.byDays[days]
	return c[0], c[1], nil
}

func testConfig() Config {
	return Config{
		RecentDays:          1,
		LongDays:            7,
		NewClicksThreshold:  10,
		RiskyRejectRate:     0.4,
		RecoverRejectRate:   0.2,
		DeltaNew:            0.5,
		DeltaStable:         1.0,
		DeltaRisky:          1.5,
		DeltaRecovering:     0.8,
		RejectLookbackDays:  7,
		RejectPenaltyWeight: 1.0,
	}
}

func TestClassify(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		recent    [2]int64 // accepted, rejected over 1 day
		long      [2]int64 // accepted, rejected over 7 days
		wantState string
		wantDelta float64
	}{
		{"no history is new", [2]int64{0, 0}, [2]int64{0, 0}, StateNew, 0.5},
		{"below threshold is new", [2]int64{3, 1}, [2]int64{5, 4}, StateNew, 0.5},
		{"clean history is stable", [2]int64{10, 0}, [2]int64{50, 2}, StateStable, 1.0},
		{"recent spike is risky", [2]int64{3, 2}, [2]int64{40, 5}, StateRisky, 1.5},
		{"bad past improving is recovering", [2]int64{9, 1}, [2]int64{12, 8}, StateRecovering, 0.8},
		{"bad past not yet calm stays stable", [2]int64{7, 3}, [2]int64{12, 8}, StateStable, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &stubStore{now: now, byDays: map[int][2]int64{1: tt.recent, 7: tt.long}}
			c := NewClassifier(store, testConfig())

			a, err := c.Classify(context.Background(), 42, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, a.State)
			assert.Equal(t, tt.wantDelta, a.DeltaMultiplier)
			assert.NotEmpty(t, a.Note)
			assert.Equal(t, tt.long[0]+tt.long[1], a.Clicks)
		})
	}
}

func TestClassifyRiskyAtExactThreshold(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	// recent rate exactly 0.4 trips the risky branch.
	store := &stubStore{now: now, byDays: map[int][2]int64{
		1: {3, 2},
		7: {30, 10},
	}}
	a, err := NewClassifier(store, testConfig()).Classify(context.Background(), 1, now)
	require.NoError(t, err)
	assert.Equal(t, StateRisky, a.State)
}

func TestRejectRate(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	store := &stubStore{now: now, byDays: map[int][2]int64{7: {3, 1}}}
	c := NewClassifier(store, testConfig())

	got, err := c.RejectRate(context.Background(), 1, now)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, got, 1e-9)

	empty := &stubStore{now: now, byDays: map[int][2]int64{}}
	got, err = NewClassifier(empty, testConfig()).RejectRate(context.Background(), 1, now)
	require.NoError(t, err)
	assert.Zero(t, got)
}
