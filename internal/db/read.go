package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/admarket/mediator/internal/models"
)

// Store implements the read model and transactional store over Postgres.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

func NewStore(pg *Postgres, log *zap.Logger) *Store {
	return &Store{db: pg.DB, log: log}
}

const campaignColumns = `id, buyer_id, name, status, budget_total, budget_spent, buyer_cpc, partner_payout,
	COALESCE(targeting_category, ''), COALESCE(targeting_geo, ''), COALESCE(targeting_device, ''), COALESCE(targeting_placement, ''),
	start_date, end_date, created_at`

func scanCampaign(row interface{ Scan(...any) error }) (models.Campaign, error) {
	var c models.Campaign
	var start, end sql.NullTime
	err := row.Scan(
		&c.ID, &c.BuyerID, &c.Name, &c.Status,
		&c.BudgetTotal, &c.BudgetSpent, &c.BuyerCPC, &c.PartnerPayout,
		&c.TargetingCategory, &c.TargetingGeo, &c.TargetingDevice, &c.TargetingPlacement,
		&start, &end, &c.CreatedAt,
	)
	if err != nil {
		return models.Campaign{}, err
	}
	if start.Valid {
		c.StartDate = &start.Time
	}
	if end.Valid {
		c.EndDate = &end.Time
	}
	return c, nil
}

// EligibleCampaigns applies the eligibility filter in SQL: active status,
// affordable click, inside the date window, targeting compatible with the
// request. Ordered by id for deterministic iteration.
func (s *Store) EligibleCampaigns(ctx context.Context, day time.Time, t models.TargetingRequest) ([]models.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status = 'active'
		  AND budget_spent + buyer_cpc <= budget_total
		  AND (start_date IS NULL OR start_date <= $1)
		  AND (end_date IS NULL OR end_date >= $1)`
	args := []any{day.Format("2006-01-02")}

	addFilter := func(column, value string) {
		if value != "" {
			args = append(args, value)
			query += fmt.Sprintf(" AND (%s IS NULL OR %s = $%d)", column, column, len(args))
		}
	}
	addFilter("targeting_category", t.Category)
	addFilter("targeting_geo", t.Geo)
	addFilter("targeting_device", t.Device)
	addFilter("targeting_placement", t.Placement)
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query eligible campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ActiveAd returns the campaign's lowest-id active ad.
func (s *Store) ActiveAd(ctx context.Context, campaignID int) (*models.Ad, error) {
	var ad models.Ad
	err := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, title, COALESCE(body, ''), COALESCE(image_url, ''), destination_url, active, created_at
		FROM ads
		WHERE campaign_id = $1 AND active
		ORDER BY id ASC
		LIMIT 1`, campaignID).Scan(
		&ad.ID, &ad.CampaignID, &ad.Title, &ad.Body, &ad.ImageURL, &ad.DestinationURL, &ad.Active, &ad.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query active ad: %w", err)
	}
	return &ad, nil
}

func (s *Store) LastExposure(ctx context.Context, partnerID, adID int) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT last_served_at FROM partner_ad_exposures
		WHERE partner_id = $1 AND ad_id = $2`, partnerID, adID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, models.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query exposure: %w", err)
	}
	return at, nil
}

func (s *Store) AssignmentCount(ctx context.Context, partnerID, campaignID int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ad_assignments
		WHERE partner_id = $1 AND campaign_id = $2`, partnerID, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count assignments: %w", err)
	}
	return n, nil
}

func (s *Store) AdCTRCounts(ctx context.Context, partnerID, adID int, since time.Time) (int64, int64, error) {
	return s.ctrCounts(ctx,
		`SELECT COUNT(*) FROM click_events WHERE partner_id = $1 AND ad_id = $2 AND status = 'ACCEPTED' AND ts >= $3`,
		`SELECT COUNT(*) FROM impression_events WHERE partner_id = $1 AND ad_id = $2 AND status = 'ACCEPTED' AND ts >= $3`,
		partnerID, adID, since)
}

func (s *Store) CampaignCTRCounts(ctx context.Context, partnerID, campaignID int, since time.Time) (int64, int64, error) {
	return s.ctrCounts(ctx,
		`SELECT COUNT(*) FROM click_events WHERE partner_id = $1 AND campaign_id = $2 AND status = 'ACCEPTED' AND ts >= $3`,
		`SELECT COUNT(*) FROM impression_events WHERE partner_id = $1 AND campaign_id = $2 AND status = 'ACCEPTED' AND ts >= $3`,
		partnerID, campaignID, since)
}

func (s *Store) GlobalCampaignCTRCounts(ctx context.Context, campaignID int, since time.Time) (int64, int64, error) {
	return s.ctrCounts(ctx,
		`SELECT COUNT(*) FROM click_events WHERE campaign_id = $1 AND status = 'ACCEPTED' AND ts >= $2`,
		`SELECT COUNT(*) FROM impression_events WHERE campaign_id = $1 AND status = 'ACCEPTED' AND ts >= $2`,
		campaignID, since)
}

func (s *Store) ctrCounts(ctx context.Context, clickQuery, impressionQuery string, args ...any) (int64, int64, error) {
	var clicks, impressions int64
	if err := s.db.QueryRowContext(ctx, clickQuery, args...).Scan(&clicks); err != nil {
		return 0, 0, fmt.Errorf("count clicks: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, impressionQuery, args...).Scan(&impressions); err != nil {
		return 0, 0, fmt.Errorf("count impressions: %w", err)
	}
	return clicks, impressions, nil
}

func (s *Store) PartnerClickCounts(ctx context.Context, partnerID int, since time.Time) (int64, int64, error) {
	var accepted, rejected int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'ACCEPTED'),
		       COUNT(*) FILTER (WHERE status = 'REJECTED')
		FROM click_events
		WHERE partner_id = $1 AND ts >= $2`, partnerID, since).Scan(&accepted, &rejected)
	if err != nil {
		return 0, 0, fmt.Errorf("count partner click decisions: %w", err)
	}
	return accepted, rejected, nil
}

func (s *Store) PartnerRequestCount(ctx context.Context, partnerID int, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM partner_ad_request_events
		WHERE partner_id = $1 AND created_at >= $2`, partnerID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count partner requests: %w", err)
	}
	return n, nil
}

func (s *Store) AdServeCount(ctx context.Context, partnerID, adID int, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM partner_ad_request_events
		WHERE partner_id = $1 AND ad_id = $2 AND filled AND created_at >= $3`, partnerID, adID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ad serves: %w", err)
	}
	return n, nil
}

func (s *Store) CampaignDeliveryStats(ctx context.Context, campaignID int, since time.Time) (int64, int64, error) {
	var filled int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM partner_ad_request_events
		WHERE campaign_id = $1 AND filled AND created_at >= $2`, campaignID, since).Scan(&filled)
	if err != nil {
		return 0, 0, fmt.Errorf("count campaign fills: %w", err)
	}
	var clicks int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM click_events
		WHERE campaign_id = $1 AND status = 'ACCEPTED' AND ts >= $2`, campaignID, since).Scan(&clicks)
	if err != nil {
		return 0, 0, fmt.Errorf("count campaign clicks: %w", err)
	}
	return filled, clicks, nil
}

func (s *Store) RequestCounts(ctx context.Context, since time.Time) (int64, int64, error) {
	var total, filled int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE filled)
		FROM partner_ad_request_events
		WHERE created_at >= $1`, since).Scan(&total, &filled)
	if err != nil {
		return 0, 0, fmt.Errorf("count requests: %w", err)
	}
	return total, filled, nil
}

func (s *Store) ClickStatusCounts(ctx context.Context, from, to time.Time) (int64, int64, error) {
	var accepted, rejected int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'ACCEPTED'),
		       COUNT(*) FILTER (WHERE status = 'REJECTED')
		FROM click_events
		WHERE ts >= $1 AND ts < $2`, from, to).Scan(&accepted, &rejected)
	if err != nil {
		return 0, 0, fmt.Errorf("count click statuses: %w", err)
	}
	return accepted, rejected, nil
}

func (s *Store) EligibleAdCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(a.id)
		FROM ads a
		JOIN campaigns c ON a.campaign_id = c.id
		WHERE a.active
		  AND c.status = 'active'
		  AND c.budget_spent + c.buyer_cpc <= c.budget_total`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count eligible ads: %w", err)
	}
	return n, nil
}

func (s *Store) RecentRequestFills(ctx context.Context, limit int) ([]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filled FROM partner_ad_request_events
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent fills: %w", err)
	}
	defer rows.Close()

	var fills []bool
	for rows.Next() {
		var f bool
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}
