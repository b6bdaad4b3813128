package scoring

import (
	"context"
	"time"

	"github.com/admarket/mediator/internal/models"
)

// DefaultCTR is used when no impression data exists at any fallback tier.
const DefaultCTR = 0.01

// CTREstimator produces a smoothed click-through estimate for a (partner,
// ad) pair, falling back from per-ad to per-campaign to global campaign
// counts whenever the narrower tier has no impressions.
type CTREstimator struct {
	store        models.ReadModel
	lookbackDays int
}

func NewCTREstimator(store models.ReadModel, lookbackDays int) *CTREstimator {
	return &CTREstimator{store: store, lookbackDays: lookbackDays}
}

// Estimate returns (clicks+1)/(impressions+10) from the first tier with
// impressions, or DefaultCTR when every tier is empty.
func (e *CTREstimator) Estimate(ctx context.Context, partnerID, campaignID, adID int, now time.Time) (float64, error) {
	cutoff := now.AddDate(0, 0, -e.lookbackDays)

	clicks, impressions, err := e.store.AdCTRCounts(ctx, partnerID, adID, cutoff)
	if err != nil {
		return 0, err
	}
	if impressions == 0 {
		clicks, impressions, err = e.store.CampaignCTRCounts(ctx, partnerID, campaignID, cutoff)
		if err != nil {
			return 0, err
		}
	}
	if impressions == 0 {
		clicks, impressions, err = e.store.GlobalCampaignCTRCounts(ctx, campaignID, cutoff)
		if err != nil {
			return 0, err
		}
	}
	if impressions == 0 {
		return DefaultCTR, nil
	}
	return smoothedCTR(clicks, impressions), nil
}

func smoothedCTR(clicks, impressions int64) float64 {
	return float64(clicks+1) / float64(impressions+10)
}
