package selection

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/admarket/mediator/internal/market"
	"github.com/admarket/mediator/internal/models"
	"github.com/admarket/mediator/internal/quality"
	"github.com/admarket/mediator/internal/scoring"
)

// fakeStore is an in-memory stand-in for both store interfaces with just
// enough state for orchestrator tests. Unset signal methods return zeros.
type fakeStore struct {
	campaigns        []models.Campaign
	adsByCampaign    map[int]*models.Ad
	exposures        map[int]time.Time // ad id -> last served
	assignmentCounts map[int]int       // campaign id -> count

	createdAssignments []*models.AdAssignment
	upsertedExposures  []int
	requestEvents      []*models.PartnerAdRequestEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		adsByCampaign:    make(map[int]*models.Ad),
		exposures:        make(map[int]time.Time),
		assignmentCounts: make(map[int]int),
	}
}

func (f *fakeStore) EligibleCampaigns(context.Context, time.Time, models.TargetingRequest) ([]models.Campaign, error) {
	return f.campaigns, nil
}

func (f *fakeStore) ActiveAd(_ context.Context, campaignID int) (*models.Ad, error) {
	ad, ok := f.adsByCampaign[campaignID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return ad, nil
}

func (f *fakeStore) LastExposure(_ context.Context, _, adID int) (time.Time, error) {
	at, ok := f.exposures[adID]
	if !ok {
		return time.Time{}, models.ErrNotFound
	}
	return at, nil
}

func (f *fakeStore) AssignmentCount(_ context.Context, _, campaignID int) (int, error) {
	return f.assignmentCounts[campaignID], nil
}

func (f *fakeStore) AdCTRCounts(context.Context, int, int, time.Time) (int64, int64, error) {
	return 0, 0, nil
}

func (f *fakeStore) CampaignCTRCounts(context.Context, int, int, time.Time) (int64, int64, error) {
	return 0, 0, nil
}

func (f *fakeStore) GlobalCampaignCTRCounts(context.Context, int, time.Time) (int64, int64, error) {
	return 0, 0, nil
}

func (f *fakeStore) PartnerClickCounts(context.Context, int, time.Time) (int64, int64, error) {
	return 0, 0, nil
}

func (f *fakeStore) PartnerRequestCount(context.Context, int, time.Time) (int64, error) {
	return 100, nil
}

func (f *fakeStore) AdServeCount(context.Context, int, int, time.Time) (int64, error) {
	return 5, nil
}

func (f *fakeStore) CampaignDeliveryStats(context.Context, int, time.Time) (int64, int64, error) {
	return 0, 0, nil
}

func (f *fakeStore) RequestCounts(context.Context, time.Time) (int64, int64, error) {
	return 10, 7, nil
}

func (f *fakeStore) ClickStatusCounts(context.Context, time.Time, time.Time) (int64, int64, error) {
	return 0, 0, nil
}

func (f *fakeStore) EligibleAdCount(context.Context) (int64, error) {
	return 10, nil
}

func (f *fakeStore) RecentRequestFills(context.Context, int) ([]bool, error) {
	return []bool{true}, nil
}

func (f *fakeStore) AssignmentByCode(context.Context, string) (*models.AdAssignment, error) {
	return nil, models.ErrNotFound
}

func (f *fakeStore) CreateAssignment(_ context.Context, a *models.AdAssignment) error {
	a.ID = len(f.createdAssignments) + 1
	a.Code = "code-" + strings.Repeat("x", a.ID)
	f.createdAssignments = append(f.createdAssignments, a)
	return nil
}

func (f *fakeStore) UpsertExposure(_ context.Context, _, adID int, _ time.Time) error {
	f.upsertedExposures = append(f.upsertedExposures, adID)
	return nil
}

func (f *fakeStore) RecordRequestEvent(_ context.Context, ev *models.PartnerAdRequestEvent) error {
	f.requestEvents = append(f.requestEvents, ev)
	return nil
}

func (f *fakeStore) HasRecentClick(context.Context, string, string, time.Time) (bool, error) {
	return false, nil
}

func (f *fakeStore) InsertClickEvent(context.Context, *models.ClickEvent) error { return nil }

func (f *fakeStore) SettleClick(context.Context, *models.AdAssignment, string, string, time.Time) (*models.ClickEvent, error) {
	return nil, models.ErrNotFound
}

func (f *fakeStore) RecordImpression(context.Context, *models.ImpressionEvent, time.Duration) (bool, error) {
	return false, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func campaign(id int, cpc, payout string) models.Campaign {
	return models.Campaign{
		ID:            id,
		Status:        models.CampaignStatusActive,
		BudgetTotal:   d("100"),
		BudgetSpent:   d("0"),
		BuyerCPC:      d(cpc),
		PartnerPayout: d(payout),
	}
}

func newOrchestrator(store *fakeStore, cfg Config) *Orchestrator {
	mcfg := market.Config{
		WindowMinutes: 60, StreakSample: 10,
		FillLow: 0.5, FillHigh: 0.8, RejectHealthy: 0.05,
		EligibleSupplyLow: 0.5, VolatilityThreshold: 0.1, UnfilledStreakThreshold: 3,
		AlphaBoostLowFill: 0.2, AlphaBoostLowSupply: 0.1, BetaBoostHealthy: 0.1,
		GammaBoostLowFill: 0.1, GammaBoostUnfilled: 0.1,
		DeltaBoostLowFill: 0.2, DeltaBoostVolatility: 0.1,
	}
	qcfg := quality.Config{
		RecentDays: 1, LongDays: 7, NewClicksThreshold: 10,
		RiskyRejectRate: 0.4, RecoverRejectRate: 0.2,
		DeltaNew: 0.5, DeltaStable: 1.0, DeltaRisky: 1.5, DeltaRecovering: 0.8,
		RejectLookbackDays: 7, RejectPenaltyWeight: 1.0,
	}
	engine := scoring.NewEngine(store,
		scoring.Config{CTRLookbackDays: 14, CTRWeight: 1.0, TargetingBonusValue: 0.5, RejectLookbackDays: 7, RejectPenaltyWeight: 1.0},
		scoring.ExplorationConfig{Rate: 0, Bonus: 0.2, NewPartnerRequests: 5, NewAdServes: 1, MaxAdServes: 5, LookbackDays: 7},
		scoring.DeliveryConfig{LookbackDays: 7, MinRequests: 10, LowClickRate: 0.01, MinBudgetRemainingRatio: 0.5, BoostValue: 0.2},
	)
	return NewOrchestrator(store, store, engine,
		quality.NewClassifier(store, qcfg),
		market.NewSampler(store, nil, mcfg, zap.NewNop()),
		mcfg, cfg, zap.NewNop())
}

func TestSelectFillsAndPersists(t *testing.T) {
	store := newFakeStore()
	store.campaigns = []models.Campaign{campaign(1, "2.50", "1.75")}
	store.adsByCampaign[1] = &models.Ad{ID: 10, CampaignID: 1, DestinationURL: "https://example.com"}

	o := newOrchestrator(store, Config{FreqCapSeconds: 60, Timeout: time.Second, DebugLimit: 3})
	res, err := o.Select(context.Background(), 7, models.TargetingRequest{Category: "Fitness"}, false)
	require.NoError(t, err)

	assert.True(t, res.Filled)
	assert.Equal(t, 10, res.Ad.ID)
	assert.NotEmpty(t, res.Assignment.Code)
	require.Len(t, store.createdAssignments, 1)
	assert.Equal(t, "Fitness", store.createdAssignments[0].Category)
	assert.Equal(t, []int{10}, store.upsertedExposures)

	require.Len(t, store.requestEvents, 1)
	ev := store.requestEvents[0]
	assert.True(t, ev.Filled)
	assert.Equal(t, res.Assignment.Code, ev.AssignmentCode)

	var b models.ScoreBreakdown
	require.NoError(t, json.Unmarshal([]byte(ev.ScoreBreakdown), &b))
	assert.Equal(t, quality.StateNew, b.PartnerQualityState)
}

func TestSelectHighestScoreWins(t *testing.T) {
	store := newFakeStore()
	store.campaigns = []models.Campaign{
		campaign(1, "2.00", "1.40"), // profit 0.60
		campaign(2, "3.00", "2.10"), // profit 0.90
	}
	store.adsByCampaign[1] = &models.Ad{ID: 10, CampaignID: 1}
	store.adsByCampaign[2] = &models.Ad{ID: 20, CampaignID: 2}

	o := newOrchestrator(store, Config{FreqCapSeconds: 60, Timeout: time.Second})
	res, err := o.Select(context.Background(), 7, models.TargetingRequest{}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Campaign.ID)
}

func TestSelectTieBreaks(t *testing.T) {
	store := newFakeStore()
	store.campaigns = []models.Campaign{
		campaign(1, "2.00", "1.40"),
		campaign(2, "2.00", "1.40"),
	}
	store.adsByCampaign[1] = &models.Ad{ID: 10, CampaignID: 1}
	store.adsByCampaign[2] = &models.Ad{ID: 20, CampaignID: 2}
	// Equal scores; campaign 1 was assigned more often, so 2 wins.
	store.assignmentCounts[1] = 4
	store.assignmentCounts[2] = 1

	o := newOrchestrator(store, Config{FreqCapSeconds: 60, Timeout: time.Second})
	res, err := o.Select(context.Background(), 7, models.TargetingRequest{}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Campaign.ID)

	// With equal assignment counts the lower campaign id wins.
	store.assignmentCounts[1] = 1
	res, err = o.Select(context.Background(), 7, models.TargetingRequest{}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Campaign.ID)
}

func TestSelectFreqCap(t *testing.T) {
	store := newFakeStore()
	store.campaigns = []models.Campaign{campaign(1, "2.00", "1.40")}
	store.adsByCampaign[1] = &models.Ad{ID: 10, CampaignID: 1}
	store.exposures[10] = time.Now().UTC().Add(-5 * time.Second)

	o := newOrchestrator(store, Config{FreqCapSeconds: 60, Timeout: time.Second})
	res, err := o.Select(context.Background(), 7, models.TargetingRequest{}, false)
	require.NoError(t, err)

	assert.False(t, res.Filled)
	assert.Equal(t, models.UnfilledFreqCap, res.UnfilledReason)
	require.Len(t, store.requestEvents, 1)
	assert.False(t, store.requestEvents[0].Filled)
	assert.Equal(t, models.UnfilledFreqCap, store.requestEvents[0].UnfilledReason)
}

func TestSelectExpiredExposureServes(t *testing.T) {
	store := newFakeStore()
	store.campaigns = []models.Campaign{campaign(1, "2.00", "1.40")}
	store.adsByCampaign[1] = &models.Ad{ID: 10, CampaignID: 1}
	store.exposures[10] = time.Now().UTC().Add(-2 * time.Minute)

	o := newOrchestrator(store, Config{FreqCapSeconds: 60, Timeout: time.Second})
	res, err := o.Select(context.Background(), 7, models.TargetingRequest{}, false)
	require.NoError(t, err)
	assert.True(t, res.Filled)
}

func TestSelectNoEligibleAds(t *testing.T) {
	store := newFakeStore()

	o := newOrchestrator(store, Config{FreqCapSeconds: 60, Timeout: time.Second})
	res, err := o.Select(context.Background(), 7, models.TargetingRequest{}, false)
	require.NoError(t, err)

	assert.False(t, res.Filled)
	assert.Equal(t, models.UnfilledNoEligibleAds, res.UnfilledReason)
}

func TestSelectCampaignWithoutActiveAdSkipped(t *testing.T) {
	store := newFakeStore()
	store.campaigns = []models.Campaign{campaign(1, "2.00", "1.40")}

	o := newOrchestrator(store, Config{FreqCapSeconds: 60, Timeout: time.Second})
	res, err := o.Select(context.Background(), 7, models.TargetingRequest{}, false)
	require.NoError(t, err)

	assert.False(t, res.Filled)
	assert.Equal(t, models.UnfilledNoEligibleAds, res.UnfilledReason)
}

func TestSelectDebugCandidates(t *testing.T) {
	store := newFakeStore()
	for i := 1; i <= 5; i++ {
		store.campaigns = append(store.campaigns, campaign(i, "2.00", "1.40"))
		store.adsByCampaign[i] = &models.Ad{ID: i * 10, CampaignID: i}
	}

	o := newOrchestrator(store, Config{FreqCapSeconds: 60, Timeout: time.Second, DebugLimit: 3})
	res, err := o.Select(context.Background(), 7, models.TargetingRequest{}, true)
	require.NoError(t, err)

	require.Len(t, res.DebugCandidates, 3)
	assert.Equal(t, res.Campaign.ID, res.DebugCandidates[0].CampaignID)
}

func TestSelectRejectPenaltyUniformAcrossCandidates(t *testing.T) {
	store := newFakeStore()
	store.campaigns = []models.Campaign{
		campaign(1, "2.00", "1.40"),
		campaign(2, "3.00", "2.10"),
	}
	store.adsByCampaign[1] = &models.Ad{ID: 10, CampaignID: 1}
	store.adsByCampaign[2] = &models.Ad{ID: 20, CampaignID: 2}

	o := newOrchestrator(store, Config{FreqCapSeconds: 60, Timeout: time.Second, DebugLimit: 10})
	res, err := o.Select(context.Background(), 7, models.TargetingRequest{}, true)
	require.NoError(t, err)

	require.Len(t, res.DebugCandidates, 2)
	p0 := res.DebugCandidates[0].ScoreBreakdown.PartnerRejectPenalty
	p1 := res.DebugCandidates[1].ScoreBreakdown.PartnerRejectPenalty
	assert.Equal(t, p0, p1)
}
