// Package quality classifies partners by their recent click reject rates.
// The state feeds the scoring penalty as a multiplier; it is recomputed
// fresh on every request from the click event history.
package quality

import (
	"context"
	"time"

	"github.com/admarket/mediator/internal/models"
)

// Partner quality states.
const (
	StateNew        = "NEW"
	StateStable     = "STABLE"
	StateRisky      = "RISKY"
	StateRecovering = "RECOVERING"
)

// Config holds the classifier windows, thresholds and per-state multipliers.
type Config struct {
	RecentDays          int
	LongDays            int
	NewClicksThreshold  int
	RiskyRejectRate     float64
	RecoverRejectRate   float64
	DeltaNew            float64
	DeltaStable         float64
	DeltaRisky          float64
	DeltaRecovering     float64
	RejectLookbackDays  int
	RejectPenaltyWeight float64
}

// Assessment is the classifier output for one partner at one instant.
type Assessment struct {
	State            string
	Note             string
	RecentRejectRate float64
	LongRejectRate   float64
	Clicks           int64
	DeltaMultiplier  float64
}

// Classifier evaluates partner quality from persisted click decisions.
type Classifier struct {
	store models.ReadModel
	cfg   Config
}

func NewClassifier(store models.ReadModel, cfg Config) *Classifier {
	return &Classifier{store: store, cfg: cfg}
}

// Classify derives the partner's state from two reject-rate windows. A
// partner with fewer long-window decisions than the new-clicks threshold is
// NEW regardless of its rates.
func (c *Classifier) Classify(ctx context.Context, partnerID int, now time.Time) (Assessment, error) {
	recentAccepted, recentRejected, err := c.store.PartnerClickCounts(ctx, partnerID, now.AddDate(0, 0, -c.cfg.RecentDays))
	if err != nil {
		return Assessment{}, err
	}
	longAccepted, longRejected, err := c.store.PartnerClickCounts(ctx, partnerID, now.AddDate(0, 0, -c.cfg.LongDays))
	if err != nil {
		return Assessment{}, err
	}

	recentRate := rate(recentRejected, recentAccepted+recentRejected)
	longTotal := longAccepted + longRejected
	longRate := rate(longRejected, longTotal)

	a := Assessment{
		RecentRejectRate: recentRate,
		LongRejectRate:   longRate,
		Clicks:           longTotal,
	}

	switch {
	case longTotal < int64(c.cfg.NewClicksThreshold):
		a.State = StateNew
		a.Note = "Limited history; penalties softened until more data arrives."
		a.DeltaMultiplier = c.cfg.DeltaNew
	case recentRate >= c.cfg.RiskyRejectRate:
		a.State = StateRisky
		a.Note = "Recent reject rate elevated; quality penalty intensified."
		a.DeltaMultiplier = c.cfg.DeltaRisky
	case longRate >= c.cfg.RiskyRejectRate && recentRate <= c.cfg.RecoverRejectRate:
		a.State = StateRecovering
		a.Note = "Rejects are improving; penalty easing as quality recovers."
		a.DeltaMultiplier = c.cfg.DeltaRecovering
	default:
		a.State = StateStable
		a.Note = "Consistent quality; standard penalty applies."
		a.DeltaMultiplier = c.cfg.DeltaStable
	}
	return a, nil
}

// RejectRate returns the partner's global reject rate over the scoring
// lookback window. This window is independent of the classifier windows.
func (c *Classifier) RejectRate(ctx context.Context, partnerID int, now time.Time) (float64, error) {
	accepted, rejected, err := c.store.PartnerClickCounts(ctx, partnerID, now.AddDate(0, 0, -c.cfg.RejectLookbackDays))
	if err != nil {
		return 0, err
	}
	return rate(rejected, accepted+rejected), nil
}

func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}
