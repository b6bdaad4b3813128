package clicks

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/admarket/mediator/internal/fingerprint"
	"github.com/admarket/mediator/internal/models"
	"github.com/admarket/mediator/internal/ratelimit"
)

type fakeTxStore struct {
	models.TxStore

	assignments map[string]*models.AdAssignment
	recentClick bool

	inserted []*models.ClickEvent
	settled  []*models.ClickEvent

	settleStatus string
	settleReason string
}

func (f *fakeTxStore) AssignmentByCode(_ context.Context, code string) (*models.AdAssignment, error) {
	a, ok := f.assignments[code]
	if !ok {
		return nil, models.ErrNotFound
	}
	return a, nil
}

func (f *fakeTxStore) HasRecentClick(context.Context, string, string, time.Time) (bool, error) {
	return f.recentClick, nil
}

func (f *fakeTxStore) InsertClickEvent(_ context.Context, ev *models.ClickEvent) error {
	f.inserted = append(f.inserted, ev)
	return nil
}

func (f *fakeTxStore) SettleClick(_ context.Context, a *models.AdAssignment, ipHash, uaHash string, at time.Time) (*models.ClickEvent, error) {
	status := f.settleStatus
	if status == "" {
		status = models.ClickAccepted
	}
	ev := &models.ClickEvent{
		AssignmentCode: a.Code,
		PartnerID:      a.PartnerID,
		CampaignID:     a.CampaignID,
		AdID:           a.AdID,
		TS:             at,
		IPHash:         ipHash,
		UAHash:         uaHash,
		Status:         status,
		RejectReason:   f.settleReason,
	}
	if status == models.ClickAccepted {
		ev.SpendDelta = decimal.RequireFromString("2.50")
		ev.EarningsDelta = decimal.RequireFromString("1.75")
		ev.ProfitDelta = decimal.RequireFromString("0.75")
	}
	f.settled = append(f.settled, ev)
	return ev, nil
}

func newPipeline(store *fakeTxStore, limit int) *Pipeline {
	hasher := fingerprint.NewHasher("devsalt")
	limiter := ratelimit.NewSlidingWindow(limit, time.Minute)
	v := NewValidator(store, hasher, limiter, 10*time.Second)
	return NewPipeline(store, v, zap.NewNop())
}

func assignment(code string) *models.AdAssignment {
	return &models.AdAssignment{
		ID: 1, Code: code, PartnerID: 7, CampaignID: 3, AdID: 9,
		DestinationURL: "https://example.com/landing",
	}
}

var now = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func TestTrackAccepted(t *testing.T) {
	store := &fakeTxStore{assignments: map[string]*models.AdAssignment{"abc": assignment("abc")}}
	p := newPipeline(store, 20)

	out, err := p.Track(context.Background(), "abc", "10.0.0.1", "pytest", now)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/landing", out.RedirectURL)
	assert.Equal(t, models.ClickAccepted, out.Event.Status)
	assert.True(t, out.Event.SpendDelta.Equal(decimal.RequireFromString("2.50")))
	assert.Empty(t, store.inserted)
	require.Len(t, store.settled, 1)
	assert.NotEmpty(t, out.Event.IPHash)
	assert.NotEmpty(t, out.Event.UAHash)
}

func TestTrackUnknownCode(t *testing.T) {
	store := &fakeTxStore{assignments: map[string]*models.AdAssignment{}}
	p := newPipeline(store, 20)

	out, err := p.Track(context.Background(), "nope", "10.0.0.1", "pytest", now)
	require.NoError(t, err)

	assert.Equal(t, "/", out.RedirectURL)
	assert.Equal(t, models.ClickRejected, out.Event.Status)
	assert.Equal(t, models.ReasonInvalidAssignment, out.Event.RejectReason)
	assert.True(t, out.Event.SpendDelta.IsZero())
	require.Len(t, store.inserted, 1)
	assert.Empty(t, store.settled)
}

func TestTrackEmptyUA(t *testing.T) {
	for _, ua := range []string{"", "   ", "\t"} {
		store := &fakeTxStore{assignments: map[string]*models.AdAssignment{"abc": assignment("abc")}}
		p := newPipeline(store, 20)

		out, err := p.Track(context.Background(), "abc", "10.0.0.1", ua, now)
		require.NoError(t, err)
		assert.Equal(t, models.ReasonBotSuspected, out.Event.RejectReason, "ua=%q", ua)
		// Still redirects to the destination.
		assert.Equal(t, "https://example.com/landing", out.RedirectURL)
	}
}

func TestTrackEmptyUABeatsDuplicate(t *testing.T) {
	// A duplicate click with a blank UA reads BOT_SUSPECTED; the UA check
	// runs first.
	store := &fakeTxStore{
		assignments: map[string]*models.AdAssignment{"abc": assignment("abc")},
		recentClick: true,
	}
	p := newPipeline(store, 20)

	out, err := p.Track(context.Background(), "abc", "10.0.0.1", "", now)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonBotSuspected, out.Event.RejectReason)
}

func TestTrackDuplicate(t *testing.T) {
	store := &fakeTxStore{
		assignments: map[string]*models.AdAssignment{"abc": assignment("abc")},
		recentClick: true,
	}
	p := newPipeline(store, 20)

	out, err := p.Track(context.Background(), "abc", "10.0.0.1", "pytest", now)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonDuplicateClick, out.Event.RejectReason)
	assert.True(t, out.Event.SpendDelta.IsZero())
	assert.Empty(t, store.settled)
}

func TestTrackRateLimited(t *testing.T) {
	store := &fakeTxStore{assignments: map[string]*models.AdAssignment{"abc": assignment("abc")}}
	p := newPipeline(store, 2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		out, err := p.Track(ctx, "abc", "10.0.0.1", "pytest", now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Equal(t, models.ClickAccepted, out.Event.Status)
	}
	out, err := p.Track(ctx, "abc", "10.0.0.1", "pytest", now.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.ReasonRateLimit, out.Event.RejectReason)

	// A different IP is unaffected.
	out, err = p.Track(ctx, "abc", "10.0.0.9", "pytest", now.Add(4*time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.ClickAccepted, out.Event.Status)
}

func TestTrackBudgetExhaustedAtSettlement(t *testing.T) {
	store := &fakeTxStore{
		assignments:  map[string]*models.AdAssignment{"abc": assignment("abc")},
		settleStatus: models.ClickRejected,
		settleReason: models.ReasonBudgetExhausted,
	}
	p := newPipeline(store, 20)

	out, err := p.Track(context.Background(), "abc", "10.0.0.1", "pytest", now)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonBudgetExhausted, out.Event.RejectReason)
	assert.Equal(t, "https://example.com/landing", out.RedirectURL)
}
