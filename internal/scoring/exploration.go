package scoring

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/admarket/mediator/internal/models"
)

// Exploration reason labels.
const (
	ExploreNewPartner = "NEW_PARTNER"
	ExploreNewAd      = "NEW_AD"
)

// ExplorationConfig holds the gate's epsilon, bonus and windowed thresholds.
type ExplorationConfig struct {
	Rate               float64
	Bonus              float64
	NewPartnerRequests int64
	NewAdServes        int64
	MaxAdServes        int64
	LookbackDays       int
}

// ExplorationGate decides whether a candidate earns the exploration bonus.
// The decision is deterministic per (partner, ad) so repeated requests in a
// window agree, and a serve cap bounds how often one ad can collect the
// bonus from the same partner.
type ExplorationGate struct {
	store models.ReadModel
	cfg   ExplorationConfig
}

func NewExplorationGate(store models.ReadModel, cfg ExplorationConfig) *ExplorationGate {
	return &ExplorationGate{store: store, cfg: cfg}
}

// Evaluate returns the bonus and reason label for the pair, or (0, "") when
// the gate does not fire. The serve cap is checked before the epsilon
// bucket, so a pair at the cap never explores regardless of epsilon.
func (g *ExplorationGate) Evaluate(ctx context.Context, partnerID, adID int, now time.Time) (float64, string, error) {
	cutoff := now.AddDate(0, 0, -g.cfg.LookbackDays)

	serves, err := g.store.AdServeCount(ctx, partnerID, adID, cutoff)
	if err != nil {
		return 0, "", err
	}
	if serves >= g.cfg.MaxAdServes {
		return 0, "", nil
	}

	requests, err := g.store.PartnerRequestCount(ctx, partnerID, cutoff)
	if err != nil {
		return 0, "", err
	}
	newPartner := requests < g.cfg.NewPartnerRequests
	newAd := serves < g.cfg.NewAdServes
	if !newPartner && !newAd {
		return 0, "", nil
	}

	if Bucket(partnerID, adID) > g.cfg.Rate {
		return 0, "", nil
	}
	if newPartner {
		return g.cfg.Bonus, ExploreNewPartner, nil
	}
	return g.cfg.Bonus, ExploreNewAd, nil
}

// Bucket maps a (partner, ad) pair to [0, 1] using the first 32 bits of
// SHA-256("<partner>:<ad>"). Stable across processes and restarts.
func Bucket(partnerID, adID int) float64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", partnerID, adID)))
	return float64(binary.BigEndian.Uint32(sum[:4])) / float64(^uint32(0))
}
