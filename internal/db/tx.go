package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/admarket/mediator/internal/models"
	"github.com/admarket/mediator/internal/token"
)

// codeInsertAttempts bounds retries on code unique-violation.
const codeInsertAttempts = 5

func (s *Store) AssignmentByCode(ctx context.Context, code string) (*models.AdAssignment, error) {
	var a models.AdAssignment
	err := s.db.QueryRowContext(ctx, `
		SELECT asg.id, asg.code, asg.partner_id, asg.campaign_id, asg.ad_id,
		       COALESCE(asg.category, ''), COALESCE(asg.geo, ''), COALESCE(asg.device, ''), COALESCE(asg.placement, ''),
		       COALESCE(ads.destination_url, ''), asg.created_at
		FROM ad_assignments asg
		LEFT JOIN ads ON ads.id = asg.ad_id
		WHERE asg.code = $1`, code).Scan(
		&a.ID, &a.Code, &a.PartnerID, &a.CampaignID, &a.AdID,
		&a.Category, &a.Geo, &a.Device, &a.Placement,
		&a.DestinationURL, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query assignment: %w", err)
	}
	return &a, nil
}

// CreateAssignment mints a code and inserts, retrying on the code unique
// index. Collisions at 64 bits are effectively a bug signal, so retries are
// bounded and the last error surfaces.
func (s *Store) CreateAssignment(ctx context.Context, a *models.AdAssignment) error {
	var lastErr error
	for attempt := 0; attempt < codeInsertAttempts; attempt++ {
		code, err := token.NewCode()
		if err != nil {
			return err
		}
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO ad_assignments (code, partner_id, campaign_id, ad_id, category, geo, device, placement, created_at)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9)
			RETURNING id`,
			code, a.PartnerID, a.CampaignID, a.AdID,
			a.Category, a.Geo, a.Device, a.Placement, a.CreatedAt).Scan(&a.ID)
		if err == nil {
			a.Code = code
			return nil
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			s.log.Warn("assignment code collision, retrying", zap.Int("attempt", attempt+1))
			lastErr = err
			continue
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	return fmt.Errorf("insert assignment: %w", lastErr)
}

func (s *Store) UpsertExposure(ctx context.Context, partnerID, adID int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO partner_ad_exposures (partner_id, ad_id, last_served_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (partner_id, ad_id) DO UPDATE SET last_served_at = EXCLUDED.last_served_at`,
		partnerID, adID, at)
	if err != nil {
		return fmt.Errorf("upsert exposure: %w", err)
	}
	return nil
}

func (s *Store) RecordRequestEvent(ctx context.Context, ev *models.PartnerAdRequestEvent) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO partner_ad_request_events
			(created_at, partner_id, category, geo, device, placement, filled,
			 ad_id, campaign_id, assignment_code, explanation, score_breakdown, unfilled_reason)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7,
			NULLIF($8, 0), NULLIF($9, 0), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''))
		RETURNING id`,
		ev.CreatedAt, ev.PartnerID, ev.Category, ev.Geo, ev.Device, ev.Placement, ev.Filled,
		ev.AdID, ev.CampaignID, ev.AssignmentCode, ev.Explanation, ev.ScoreBreakdown, ev.UnfilledReason).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("insert request event: %w", err)
	}
	return nil
}

func (s *Store) HasRecentClick(ctx context.Context, code, ipHash string, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM click_events
			WHERE assignment_code = $1 AND ip_hash = $2 AND ts >= $3
		)`, code, ipHash, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query recent click: %w", err)
	}
	return exists, nil
}

func (s *Store) InsertClickEvent(ctx context.Context, ev *models.ClickEvent) error {
	return insertClickEvent(ctx, s.db, ev)
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertClickEvent(ctx context.Context, q execer, ev *models.ClickEvent) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO click_events
			(assignment_code, partner_id, campaign_id, ad_id, ts, ip_hash, ua_hash,
			 status, reject_reason, spend_delta, earnings_delta, profit_delta)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), $10, $11, $12)
		RETURNING id`,
		ev.AssignmentCode, ev.PartnerID, ev.CampaignID, ev.AdID, ev.TS, ev.IPHash, ev.UAHash,
		ev.Status, ev.RejectReason, ev.SpendDelta, ev.EarningsDelta, ev.ProfitDelta).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("insert click event: %w", err)
	}
	return nil
}

// SettleClick runs the accounting transaction for a validated click: lock
// the campaign row, re-check status and budget, debit, auto-pause when the
// remainder can no longer cover a click, and persist the event. All of it
// commits or none of it does.
func (s *Store) SettleClick(ctx context.Context, a *models.AdAssignment, ipHash, uaHash string, at time.Time) (*models.ClickEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin settle tx: %w", err)
	}
	defer tx.Rollback()

	ev := &models.ClickEvent{
		AssignmentCode: a.Code,
		PartnerID:      a.PartnerID,
		CampaignID:     a.CampaignID,
		AdID:           a.AdID,
		TS:             at,
		IPHash:         ipHash,
		UAHash:         uaHash,
	}

	var (
		status                    string
		total, spent, cpc, payout decimal.Decimal
	)
	err = tx.QueryRowContext(ctx, `
		SELECT status, budget_total, budget_spent, buyer_cpc, partner_payout
		FROM campaigns
		WHERE id = $1
		FOR UPDATE`, a.CampaignID).Scan(&status, &total, &spent, &cpc, &payout)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		ev.Status = models.ClickRejected
		ev.RejectReason = models.ReasonInvalidAssignment
	case err != nil:
		return nil, fmt.Errorf("lock campaign: %w", err)
	default:
		remaining := total.Sub(spent)
		if spent.GreaterThan(total) {
			s.log.Error("campaign overspent",
				zap.Int("campaign_id", a.CampaignID),
				zap.String("budget_total", total.String()),
				zap.String("budget_spent", spent.String()))
		}

		if status != models.CampaignStatusActive || remaining.LessThan(cpc) {
			if status == models.CampaignStatusActive {
				if _, err := tx.ExecContext(ctx,
					`UPDATE campaigns SET status = $1 WHERE id = $2`,
					models.CampaignStatusPaused, a.CampaignID); err != nil {
					return nil, fmt.Errorf("pause campaign: %w", err)
				}
			}
			ev.Status = models.ClickRejected
			ev.RejectReason = models.ReasonBudgetExhausted
		} else {
			newSpent := spent.Add(cpc)
			newStatus := models.CampaignStatusActive
			if total.Sub(newSpent).LessThan(cpc) {
				newStatus = models.CampaignStatusPaused
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE campaigns SET budget_spent = $1, status = $2 WHERE id = $3`,
				newSpent, newStatus, a.CampaignID); err != nil {
				return nil, fmt.Errorf("debit campaign: %w", err)
			}
			ev.Status = models.ClickAccepted
			ev.SpendDelta = cpc
			ev.EarningsDelta = payout
			ev.ProfitDelta = cpc.Sub(payout)
		}
	}

	if err := insertClickEvent(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settle tx: %w", err)
	}
	return ev, nil
}

// RecordImpression inserts the impression, deduplicating per
// (assignment_code, ip_hash) within the window.
func (s *Store) RecordImpression(ctx context.Context, ev *models.ImpressionEvent, window time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin impression tx: %w", err)
	}
	defer tx.Rollback()

	var dup bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM impression_events
			WHERE assignment_code = $1 AND ip_hash = $2 AND status = 'ACCEPTED' AND ts >= $3
		)`, ev.AssignmentCode, ev.IPHash, ev.TS.Add(-window)).Scan(&dup)
	if err != nil {
		return false, fmt.Errorf("query recent impression: %w", err)
	}

	if dup {
		ev.Status = models.ImpressionDeduped
		ev.DedupReason = models.ReasonDuplicateWindow
	} else {
		ev.Status = models.ImpressionAccepted
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO impression_events
			(assignment_code, partner_id, campaign_id, ad_id, ts, ip_hash, status, dedup_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		RETURNING id`,
		ev.AssignmentCode, ev.PartnerID, ev.CampaignID, ev.AdID, ev.TS, ev.IPHash,
		ev.Status, ev.DedupReason).Scan(&ev.ID)
	if err != nil {
		return false, fmt.Errorf("insert impression event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit impression tx: %w", err)
	}
	return dup, nil
}
