// Package market samples recent marketplace health and derives the adaptive
// scoring multipliers. The snapshot is computed from the event tables on
// every selection; a short-lived Redis cache absorbs request bursts.
package market

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/admarket/mediator/internal/models"
)

const snapshotCacheKey = "market:health:snapshot"

// Config holds the sampling windows, trigger thresholds and additive boosts.
type Config struct {
	WindowMinutes           int
	StreakSample            int
	FillLow                 float64
	FillHigh                float64
	RejectHealthy           float64
	EligibleSupplyLow       float64
	VolatilityThreshold     float64
	UnfilledStreakThreshold int

	AlphaBoostLowFill    float64
	AlphaBoostLowSupply  float64
	BetaBoostHealthy     float64
	GammaBoostLowFill    float64
	GammaBoostUnfilled   float64
	DeltaBoostLowFill    float64
	DeltaBoostVolatility float64

	CacheTTL time.Duration
}

// Snapshot is the sampled state of the marketplace over the trailing window.
type Snapshot struct {
	FillRate              float64 `json:"fill_rate"`
	RejectRate            float64 `json:"reject_rate"`
	RejectVolatility      float64 `json:"reject_volatility"`
	EligibleAdsPerRequest float64 `json:"eligible_ads_per_request"`
	UnfilledStreak        int     `json:"unfilled_streak"`
}

// Multipliers are the adaptive weights applied by the scorer, each starting
// at 1.0 and boosted additively by triggered conditions.
type Multipliers struct {
	AlphaProfit    float64
	BetaCTR        float64
	GammaTargeting float64
	DeltaMarket    float64
	Note           string
}

// Sampler builds snapshots from the read model, optionally caching them in
// Redis for the configured TTL.
type Sampler struct {
	store models.ReadModel
	rdb   redis.UniversalClient
	cfg   Config
	log   *zap.Logger
}

// NewSampler returns a Sampler. rdb may be nil, in which case every call
// recomputes the snapshot.
func NewSampler(store models.ReadModel, rdb redis.UniversalClient, cfg Config, log *zap.Logger) *Sampler {
	return &Sampler{store: store, rdb: rdb, cfg: cfg, log: log}
}

// Snapshot returns the current market snapshot, served from cache when a
// fresh one exists. Cache failures degrade to recomputation.
func (s *Sampler) Snapshot(ctx context.Context, now time.Time) (Snapshot, error) {
	if s.rdb != nil && s.cfg.CacheTTL > 0 {
		if raw, err := s.rdb.Get(ctx, snapshotCacheKey).Bytes(); err == nil {
			var snap Snapshot
			if json.Unmarshal(raw, &snap) == nil {
				return snap, nil
			}
		} else if err != redis.Nil {
			s.log.Warn("market snapshot cache read failed", zap.Error(err))
		}
	}

	snap, err := s.compute(ctx, now)
	if err != nil {
		return Snapshot{}, err
	}

	if s.rdb != nil && s.cfg.CacheTTL > 0 {
		raw, _ := json.Marshal(snap)
		if err := s.rdb.Set(ctx, snapshotCacheKey, raw, s.cfg.CacheTTL).Err(); err != nil {
			s.log.Warn("market snapshot cache write failed", zap.Error(err))
		}
	}
	return snap, nil
}

func (s *Sampler) compute(ctx context.Context, now time.Time) (Snapshot, error) {
	window := time.Duration(s.cfg.WindowMinutes) * time.Minute
	cutoff := now.Add(-window)
	prevCutoff := cutoff.Add(-window)

	total, filled, err := s.store.RequestCounts(ctx, cutoff)
	if err != nil {
		return Snapshot{}, err
	}
	accepted, rejected, err := s.store.ClickStatusCounts(ctx, cutoff, now)
	if err != nil {
		return Snapshot{}, err
	}
	prevAccepted, prevRejected, err := s.store.ClickStatusCounts(ctx, prevCutoff, cutoff)
	if err != nil {
		return Snapshot{}, err
	}
	eligibleAds, err := s.store.EligibleAdCount(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	fills, err := s.store.RecentRequestFills(ctx, s.cfg.StreakSample)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		FillRate:   ratio(filled, total),
		RejectRate: ratio(rejected, accepted+rejected),
	}
	prevRejectRate := ratio(prevRejected, prevAccepted+prevRejected)
	snap.RejectVolatility = math.Abs(snap.RejectRate - prevRejectRate)

	if total > 0 {
		snap.EligibleAdsPerRequest = float64(eligibleAds) / float64(total)
	} else {
		snap.EligibleAdsPerRequest = float64(eligibleAds)
	}

	// fills is newest first; the streak ends at the first filled request.
	for _, f := range fills {
		if f {
			break
		}
		snap.UnfilledStreak++
	}
	return snap, nil
}

// Derive maps a snapshot to the adaptive multipliers. Boosts are additive
// and independently triggered; the note concatenates the rationale of every
// triggered condition.
func Derive(snap Snapshot, cfg Config) Multipliers {
	m := Multipliers{AlphaProfit: 1.0, BetaCTR: 1.0, GammaTargeting: 1.0, DeltaMarket: 1.0}
	var notes []string

	if snap.FillRate < cfg.FillLow {
		m.AlphaProfit += cfg.AlphaBoostLowFill
		m.GammaTargeting += cfg.GammaBoostLowFill
		m.DeltaMarket += cfg.DeltaBoostLowFill
		notes = append(notes, "Tight supply: emphasizing profit, targeting, and quality.")
	}
	if snap.FillRate > cfg.FillHigh && snap.RejectRate < cfg.RejectHealthy {
		m.BetaCTR += cfg.BetaBoostHealthy
		notes = append(notes, "Healthy demand: modestly emphasizing CTR.")
	}
	if snap.EligibleAdsPerRequest < cfg.EligibleSupplyLow {
		m.AlphaProfit += cfg.AlphaBoostLowSupply
		notes = append(notes, "Low eligible supply: prioritizing profit.")
	}
	if snap.UnfilledStreak >= cfg.UnfilledStreakThreshold {
		m.GammaTargeting += cfg.GammaBoostUnfilled
		notes = append(notes, "Recent unfilled streak: boosting targeting match.")
	}
	if snap.RejectVolatility > cfg.VolatilityThreshold {
		m.DeltaMarket += cfg.DeltaBoostVolatility
		notes = append(notes, "Reject volatility: tightening quality penalty.")
	}

	m.AlphaProfit = round4(m.AlphaProfit)
	m.BetaCTR = round4(m.BetaCTR)
	m.GammaTargeting = round4(m.GammaTargeting)
	m.DeltaMarket = round4(m.DeltaMarket)

	if len(notes) == 0 {
		m.Note = "Market stable."
	} else {
		m.Note = strings.Join(notes, " ")
	}
	return m
}

func ratio(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
