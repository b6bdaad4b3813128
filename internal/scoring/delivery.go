package scoring

import (
	"context"
	"time"

	"github.com/admarket/mediator/internal/models"
)

// DeliveryConfig holds the balancer's thresholds and boost value.
type DeliveryConfig struct {
	LookbackDays            int
	MinRequests             int64
	LowClickRate            float64
	MinBudgetRemainingRatio float64
	BoostValue              float64
}

// DeliveryBalancer boosts campaigns with healthy budgets that are being
// served but not clicked, nudging spend toward buys that would otherwise
// stall.
type DeliveryBalancer struct {
	store models.ReadModel
	cfg   DeliveryConfig
}

func NewDeliveryBalancer(store models.ReadModel, cfg DeliveryConfig) *DeliveryBalancer {
	return &DeliveryBalancer{store: store, cfg: cfg}
}

// Evaluate returns the boost for a campaign, or 0 when it does not qualify.
// Qualification requires enough budget headroom, enough filled requests in
// the window, and a click rate below the low-water mark.
func (b *DeliveryBalancer) Evaluate(ctx context.Context, c *models.Campaign, now time.Time) (float64, error) {
	if c.BudgetTotal.IsZero() {
		return 0, nil
	}
	ratio, _ := c.BudgetRemaining().Div(c.BudgetTotal).Float64()
	if ratio < b.cfg.MinBudgetRemainingRatio {
		return 0, nil
	}

	filled, clicks, err := b.store.CampaignDeliveryStats(ctx, c.ID, now.AddDate(0, 0, -b.cfg.LookbackDays))
	if err != nil {
		return 0, err
	}
	if filled < b.cfg.MinRequests {
		return 0, nil
	}
	if float64(clicks)/float64(filled) >= b.cfg.LowClickRate {
		return 0, nil
	}
	return b.cfg.BoostValue, nil
}
