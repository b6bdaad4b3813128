package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Click decision statuses.
const (
	ClickAccepted = "ACCEPTED"
	ClickRejected = "REJECTED"
)

// Click reject reasons, in the order the validator applies them.
const (
	ReasonInvalidAssignment = "INVALID_ASSIGNMENT"
	ReasonBotSuspected      = "BOT_SUSPECTED"
	ReasonDuplicateClick    = "DUPLICATE_CLICK"
	ReasonRateLimit         = "RATE_LIMIT"
	ReasonBudgetExhausted   = "BUDGET_EXHAUSTED"
)

// Impression statuses and dedup reasons.
const (
	ImpressionAccepted    = "ACCEPTED"
	ImpressionDeduped     = "DEDUPED"
	ReasonDuplicateWindow = "DUPLICATE_WINDOW"
)

// Unfilled request reasons.
const (
	UnfilledNoEligibleAds = "NO_ELIGIBLE_ADS"
	UnfilledFreqCap       = "FREQ_CAP"
)

// ClickEvent is the immutable record of one tracking click and its
// accounting outcome. Rejected clicks carry zero deltas.
type ClickEvent struct {
	ID             int             `json:"id"`
	AssignmentCode string          `json:"assignment_code"`
	PartnerID      int             `json:"partner_id"`
	CampaignID     int             `json:"campaign_id"`
	AdID           int             `json:"ad_id"`
	TS             time.Time       `json:"ts"`
	IPHash         string          `json:"ip_hash"`
	UAHash         string          `json:"ua_hash,omitempty"` // empty when the UA header was absent
	Status         string          `json:"status"`
	RejectReason   string          `json:"reject_reason,omitempty"`
	SpendDelta     decimal.Decimal `json:"spend_delta"`
	EarningsDelta  decimal.Decimal `json:"earnings_delta"`
	ProfitDelta    decimal.Decimal `json:"profit_delta"`
}

// ImpressionEvent records one tracked impression, deduplicated per
// (assignment_code, ip_hash) within a configured window.
type ImpressionEvent struct {
	ID             int       `json:"id"`
	AssignmentCode string    `json:"assignment_code"`
	PartnerID      int       `json:"partner_id"`
	CampaignID     int       `json:"campaign_id"`
	AdID           int       `json:"ad_id"`
	TS             time.Time `json:"ts"`
	IPHash         string    `json:"ip_hash"`
	Status         string    `json:"status"`
	DedupReason    string    `json:"dedup_reason,omitempty"`
}

// PartnerAdRequestEvent records every partner ad request, filled or not.
// Filled events reference the winning ad and carry the serialized score
// breakdown used to pick it.
type PartnerAdRequestEvent struct {
	ID             int       `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	PartnerID      int       `json:"partner_id"`
	Category       string    `json:"category,omitempty"`
	Geo            string    `json:"geo,omitempty"`
	Device         string    `json:"device,omitempty"`
	Placement      string    `json:"placement,omitempty"`
	Filled         bool      `json:"filled"`
	AdID           int       `json:"ad_id,omitempty"`
	CampaignID     int       `json:"campaign_id,omitempty"`
	AssignmentCode string    `json:"assignment_code,omitempty"`
	Explanation    string    `json:"explanation,omitempty"`
	ScoreBreakdown string    `json:"score_breakdown,omitempty"`
	UnfilledReason string    `json:"unfilled_reason,omitempty"`
}

// PartnerAdExposure tracks the last time an ad was served to a partner;
// unique per (partner, ad) and upserted on every fill. The selector uses it
// for frequency capping.
type PartnerAdExposure struct {
	ID           int       `json:"id"`
	PartnerID    int       `json:"partner_id"`
	AdID         int       `json:"ad_id"`
	LastServedAt time.Time `json:"last_served_at"`
}
