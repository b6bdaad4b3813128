package db

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/admarket/mediator/internal/pricing"
)

// ReconcilePayouts rewrites partner_payout for every campaign whose stored
// value no longer matches the platform fee. Campaign writes go through the
// admin surface, so this runs at startup to pick up fee changes.
func (s *Store) ReconcilePayouts(ctx context.Context, feePercent decimal.Decimal) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, buyer_cpc, partner_payout FROM campaigns`)
	if err != nil {
		return 0, fmt.Errorf("query campaign pricing: %w", err)
	}
	defer rows.Close()

	type fix struct {
		id     int
		payout decimal.Decimal
	}
	var fixes []fix
	for rows.Next() {
		var id int
		var cpc, payout decimal.Decimal
		if err := rows.Scan(&id, &cpc, &payout); err != nil {
			return 0, fmt.Errorf("scan campaign pricing: %w", err)
		}
		want, err := pricing.PartnerPayout(cpc, feePercent)
		if err != nil {
			s.log.Warn("campaign pricing invalid, skipping",
				zap.Int("campaign_id", id),
				zap.String("buyer_cpc", cpc.String()),
				zap.Error(err))
			continue
		}
		if !want.Equal(payout) {
			fixes = append(fixes, fix{id: id, payout: want})
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, f := range fixes {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE campaigns SET partner_payout = $1 WHERE id = $2`,
			f.payout, f.id); err != nil {
			return 0, fmt.Errorf("update partner payout: %w", err)
		}
		s.log.Info("partner payout reconciled",
			zap.Int("campaign_id", f.id),
			zap.String("partner_payout", f.payout.String()))
	}
	return int64(len(fixes)), nil
}
