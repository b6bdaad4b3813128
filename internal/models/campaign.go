package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Campaign status values. A campaign serves only while active; the budget
// accountant flips it to paused when the remaining budget can no longer cover
// one click.
const (
	CampaignStatusActive = "active"
	CampaignStatusPaused = "paused"
)

// Campaign is a buyer's budgeted buy. Money fields are 2-decimal amounts;
// BudgetSpent never exceeds BudgetTotal (enforced under row lock by the
// budget accountant).
type Campaign struct {
	ID          int             `json:"id"`
	BuyerID     int             `json:"buyer_id"`
	Name        string          `json:"name"`
	Status      string          `json:"status"`
	BudgetTotal decimal.Decimal `json:"budget_total"`
	BudgetSpent decimal.Decimal `json:"budget_spent"`
	// BuyerCPC is the price charged to the buyer per accepted click.
	BuyerCPC decimal.Decimal `json:"buyer_cpc"`
	// PartnerPayout is derived from BuyerCPC and the platform fee at
	// create/update time; always <= BuyerCPC.
	PartnerPayout decimal.Decimal `json:"partner_payout"`

	// Targeting fields; empty string means the dimension is unconstrained.
	TargetingCategory  string `json:"targeting_category,omitempty"`
	TargetingGeo       string `json:"targeting_geo,omitempty"`
	TargetingDevice    string `json:"targeting_device,omitempty"`
	TargetingPlacement string `json:"targeting_placement,omitempty"`

	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// BudgetRemaining returns BudgetTotal - BudgetSpent.
func (c *Campaign) BudgetRemaining() decimal.Decimal {
	return c.BudgetTotal.Sub(c.BudgetSpent)
}

// Profit returns the platform margin per accepted click.
func (c *Campaign) Profit() decimal.Decimal {
	return c.BuyerCPC.Sub(c.PartnerPayout)
}

// CanAffordClick reports whether one more click fits in the budget.
func (c *Campaign) CanAffordClick() bool {
	return c.BudgetSpent.Add(c.BuyerCPC).LessThanOrEqual(c.BudgetTotal)
}
