// Package scoring ranks candidate ads for a partner request. The score
// blends expected profit, estimated CTR, targeting match and a partner
// reject penalty, each weighted by the adaptive market multipliers, plus
// exploration and delivery adjustments.
package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/admarket/mediator/internal/market"
	"github.com/admarket/mediator/internal/models"
	"github.com/admarket/mediator/internal/quality"
)

// Config holds the base scoring weights.
type Config struct {
	CTRLookbackDays     int
	CTRWeight           float64
	TargetingBonusValue float64
	RejectLookbackDays  int
	RejectPenaltyWeight float64
}

// Candidate is one scored (campaign, ad) pair.
type Candidate struct {
	Campaign    *models.Campaign
	Ad          *models.Ad
	Score       float64
	Breakdown   models.ScoreBreakdown
	Explanation string

	// AssignmentCount breaks score ties toward less-served campaigns.
	AssignmentCount int
}

// Engine scores candidates. The per-request market multipliers and partner
// signals are computed once by the caller and passed into every Score call
// of that request.
type Engine struct {
	cfg         Config
	ctr         *CTREstimator
	exploration *ExplorationGate
	delivery    *DeliveryBalancer
}

func NewEngine(store models.ReadModel, cfg Config, ec ExplorationConfig, dc DeliveryConfig) *Engine {
	return &Engine{
		cfg:         cfg,
		ctr:         NewCTREstimator(store, cfg.CTRLookbackDays),
		exploration: NewExplorationGate(store, ec),
		delivery:    NewDeliveryBalancer(store, dc),
	}
}

// RequestSignals are the partner and market scoped inputs shared by every
// candidate of one selection call.
type RequestSignals struct {
	PartnerID         int
	PartnerRejectRate float64
	Quality           quality.Assessment
	Multipliers       market.Multipliers
}

// Score evaluates one candidate. The breakdown's numeric fields are rounded
// to 4 decimals; the explanation strings together the numeric summary, the
// market note, the partner quality note and any exploration or delivery
// rationale.
func (e *Engine) Score(ctx context.Context, sig RequestSignals, c *models.Campaign, ad *models.Ad, req models.TargetingRequest, now time.Time) (Candidate, error) {
	ctr, err := e.ctr.Estimate(ctx, sig.PartnerID, c.ID, ad.ID, now)
	if err != nil {
		return Candidate{}, err
	}
	exploreBonus, exploreReason, err := e.exploration.Evaluate(ctx, sig.PartnerID, ad.ID, now)
	if err != nil {
		return Candidate{}, err
	}
	deliveryBoost, err := e.delivery.Evaluate(ctx, c, now)
	if err != nil {
		return Candidate{}, err
	}

	profit, _ := c.Profit().Float64()
	targetingBonus := e.targetingBonus(c, req)
	rejectPenalty := sig.PartnerRejectRate * e.cfg.RejectPenaltyWeight

	m := sig.Multipliers
	score := profit*m.AlphaProfit +
		(ctr*e.cfg.CTRWeight)*m.BetaCTR +
		targetingBonus*m.GammaTargeting -
		rejectPenalty*(m.DeltaMarket*sig.Quality.DeltaMultiplier) +
		exploreBonus +
		deliveryBoost

	breakdown := models.ScoreBreakdown{
		Profit:                     round4(profit),
		CTR:                        round4(ctr),
		CTRWeight:                  round4(e.cfg.CTRWeight),
		TargetingBonus:             round4(targetingBonus),
		PartnerRejectRate:          round4(sig.PartnerRejectRate),
		PartnerRejectPenalty:       round4(rejectPenalty),
		PartnerRejectLookbackDays:  e.cfg.RejectLookbackDays,
		PartnerRejectPenaltyWeight: round4(e.cfg.RejectPenaltyWeight),
		AlphaProfit:                round4(m.AlphaProfit),
		BetaCTR:                    round4(m.BetaCTR),
		GammaTargeting:             round4(m.GammaTargeting),
		DeltaMarket:                round4(m.DeltaMarket),
		DeltaPartner:               round4(sig.Quality.DeltaMultiplier),
		PartnerQualityState:        sig.Quality.State,
		ExplorationBonus:           round4(exploreBonus),
		ExplorationReason:          exploreReason,
		DeliveryBoost:              round4(deliveryBoost),
		Total:                      round4(score),
	}

	return Candidate{
		Campaign:    c,
		Ad:          ad,
		Score:       score,
		Breakdown:   breakdown,
		Explanation: explanation(breakdown, sig, exploreReason, deliveryBoost),
	}, nil
}

// targetingBonus awards the bonus value once per dimension where both sides
// carry the same non-empty value. A campaign wildcard matches for
// eligibility but earns no bonus.
func (e *Engine) targetingBonus(c *models.Campaign, req models.TargetingRequest) float64 {
	bonus := 0.0
	if req.Category != "" && c.TargetingCategory == req.Category {
		bonus += e.cfg.TargetingBonusValue
	}
	if req.Geo != "" && c.TargetingGeo == req.Geo {
		bonus += e.cfg.TargetingBonusValue
	}
	if req.Device != "" && c.TargetingDevice == req.Device {
		bonus += e.cfg.TargetingBonusValue
	}
	if req.Placement != "" && c.TargetingPlacement == req.Placement {
		bonus += e.cfg.TargetingBonusValue
	}
	return bonus
}

func explanation(b models.ScoreBreakdown, sig RequestSignals, exploreReason string, deliveryBoost float64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb,
		"Score balances profit $%.2f, CTR %.2f%%, targeting bonus %.2f, and partner reject rate %.2f%%.",
		b.Profit, b.CTR*100, b.TargetingBonus, b.PartnerRejectRate*100)
	sb.WriteString(" " + sig.Multipliers.Note)
	fmt.Fprintf(&sb, " Partner quality %s: %s", sig.Quality.State, sig.Quality.Note)
	if exploreReason != "" {
		fmt.Fprintf(&sb, " Exploration bonus applied (%s).", exploreReason)
	}
	if deliveryBoost > 0 {
		sb.WriteString(" Delivery boost applied to an under-clicked campaign.")
	}
	return sb.String()
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
