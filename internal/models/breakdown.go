package models

// ScoreBreakdown is the serialized explanation of one candidate's score. All
// numeric fields are rounded to 4 decimals before serialization so stored
// breakdowns are stable across platforms.
type ScoreBreakdown struct {
	Profit         float64 `json:"profit"`
	CTR            float64 `json:"ctr"`
	CTRWeight      float64 `json:"ctr_weight"`
	TargetingBonus float64 `json:"targeting_bonus"`

	PartnerRejectRate          float64 `json:"partner_reject_rate"`
	PartnerRejectPenalty       float64 `json:"partner_reject_penalty"`
	PartnerRejectLookbackDays  int     `json:"partner_reject_lookback_days"`
	PartnerRejectPenaltyWeight float64 `json:"partner_reject_penalty_weight"`

	AlphaProfit    float64 `json:"alpha_profit"`
	BetaCTR        float64 `json:"beta_ctr"`
	GammaTargeting float64 `json:"gamma_targeting"`
	DeltaMarket    float64 `json:"delta_market"`
	DeltaPartner   float64 `json:"delta_partner"`

	PartnerQualityState string `json:"partner_quality_state"`

	ExplorationBonus  float64 `json:"exploration_bonus"`
	ExplorationReason string  `json:"exploration_reason,omitempty"`
	DeliveryBoost     float64 `json:"delivery_boost"`

	Total float64 `json:"total"`
}

// DebugCandidate is one entry of the optional debug payload returned when
// matching debug mode is on.
type DebugCandidate struct {
	CampaignID     int            `json:"campaign_id"`
	AdID           int            `json:"ad_id"`
	Score          float64        `json:"score"`
	ScoreBreakdown ScoreBreakdown `json:"score_breakdown"`
}
