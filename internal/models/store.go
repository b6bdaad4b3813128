package models

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by store lookups when the entity does not exist.
var ErrNotFound = errors.New("entity not found")

// ReadModel is the read side the selection pipeline scores against. All
// reads are independent point-in-time queries; none participate in a
// transaction.
type ReadModel interface {
	// EligibleCampaigns returns active campaigns that can afford one click,
	// are inside their validity window on the given day, and whose non-empty
	// targeting fields match the request. Ordered by campaign id ascending.
	EligibleCampaigns(ctx context.Context, day time.Time, t TargetingRequest) ([]Campaign, error)

	// ActiveAd returns the lowest-id active ad of a campaign, or ErrNotFound.
	ActiveAd(ctx context.Context, campaignID int) (*Ad, error)

	// LastExposure returns the last_served_at for (partner, ad), or
	// ErrNotFound when the ad was never served to the partner.
	LastExposure(ctx context.Context, partnerID, adID int) (time.Time, error)

	// AssignmentCount counts prior assignments of a campaign to a partner.
	AssignmentCount(ctx context.Context, partnerID, campaignID int) (int, error)

	// CTR count tiers: accepted clicks and accepted impressions since the
	// cutoff, narrowing from (partner, ad) to (partner, campaign) to the
	// campaign across all partners.
	AdCTRCounts(ctx context.Context, partnerID, adID int, since time.Time) (clicks, impressions int64, err error)
	CampaignCTRCounts(ctx context.Context, partnerID, campaignID int, since time.Time) (clicks, impressions int64, err error)
	GlobalCampaignCTRCounts(ctx context.Context, campaignID int, since time.Time) (clicks, impressions int64, err error)

	// PartnerClickCounts returns the partner's accepted/rejected click
	// decision counts since the cutoff.
	PartnerClickCounts(ctx context.Context, partnerID int, since time.Time) (accepted, rejected int64, err error)

	// PartnerRequestCount counts the partner's ad requests since the cutoff.
	PartnerRequestCount(ctx context.Context, partnerID int, since time.Time) (int64, error)

	// AdServeCount counts filled requests of this ad to this partner since
	// the cutoff.
	AdServeCount(ctx context.Context, partnerID, adID int, since time.Time) (int64, error)

	// CampaignDeliveryStats returns filled request and accepted click counts
	// for a campaign since the cutoff.
	CampaignDeliveryStats(ctx context.Context, campaignID int, since time.Time) (filled, acceptedClicks int64, err error)

	// Market-health aggregates.
	RequestCounts(ctx context.Context, since time.Time) (total, filled int64, err error)
	ClickStatusCounts(ctx context.Context, from, to time.Time) (accepted, rejected int64, err error)
	EligibleAdCount(ctx context.Context) (int64, error)
	RecentRequestFills(ctx context.Context, limit int) ([]bool, error)
}

// TxStore is the transactional side consumed by the click and impression
// pipelines and by the selection orchestrator's write phase.
type TxStore interface {
	// AssignmentByCode resolves a tracking code, or ErrNotFound.
	AssignmentByCode(ctx context.Context, code string) (*AdAssignment, error)

	// CreateAssignment inserts a new assignment, minting a fresh code and
	// retrying on unique-violation. The assignment's Code and ID are set on
	// return.
	CreateAssignment(ctx context.Context, a *AdAssignment) error

	// UpsertExposure sets last_served_at for (partner, ad).
	UpsertExposure(ctx context.Context, partnerID, adID int, at time.Time) error

	// RecordRequestEvent appends a PartnerAdRequestEvent.
	RecordRequestEvent(ctx context.Context, ev *PartnerAdRequestEvent) error

	// HasRecentClick reports whether a click for (code, ip_hash) exists at or
	// after the cutoff.
	HasRecentClick(ctx context.Context, code, ipHash string, since time.Time) (bool, error)

	// InsertClickEvent appends a rejected ClickEvent outside any settlement
	// transaction (zero deltas).
	InsertClickEvent(ctx context.Context, ev *ClickEvent) error

	// SettleClick runs the budget accounting transaction for a validated
	// click: locks the campaign row, re-checks status and budget, debits,
	// auto-pauses at exhaustion, and persists the ClickEvent atomically.
	// The persisted event is returned.
	SettleClick(ctx context.Context, a *AdAssignment, ipHash, uaHash string, at time.Time) (*ClickEvent, error)

	// RecordImpression inserts an ImpressionEvent, marking it DEDUPED when a
	// prior accepted impression for (code, ip_hash) exists within the window.
	RecordImpression(ctx context.Context, ev *ImpressionEvent, window time.Duration) (deduped bool, err error)
}
