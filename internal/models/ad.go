package models

import "time"

// Ad is a creative owned by exactly one campaign. Only active ads are
// eligible for serving; the selector picks the lowest-id active ad per
// campaign.
type Ad struct {
	ID             int       `json:"id"`
	CampaignID     int       `json:"campaign_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	ImageURL       string    `json:"image_url"`
	DestinationURL string    `json:"destination_url"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

// AdAssignment binds one served (partner, campaign, ad) triple to an opaque
// URL-safe code. The code is globally unique and never reused; it is the key
// all click and impression tracking hangs off.
type AdAssignment struct {
	ID         int    `json:"id"`
	Code       string `json:"code"`
	PartnerID  int    `json:"partner_id"`
	CampaignID int    `json:"campaign_id"`
	AdID       int    `json:"ad_id"`

	// Snapshot of the targeting the request carried.
	Category  string `json:"category,omitempty"`
	Geo       string `json:"geo,omitempty"`
	Device    string `json:"device,omitempty"`
	Placement string `json:"placement,omitempty"`

	// DestinationURL is joined from the ad on lookup; empty when the ad is
	// gone. Click redirects fall back to "/" in that case.
	DestinationURL string `json:"destination_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TargetingRequest carries the optional targeting dimensions of a partner ad
// request. Empty fields are unset.
type TargetingRequest struct {
	Category  string `json:"category,omitempty"`
	Geo       string `json:"geo,omitempty"`
	Device    string `json:"device,omitempty"`
	Placement string `json:"placement,omitempty"`
}
