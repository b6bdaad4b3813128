// Package clicks handles the tracking redirect path: validate the click,
// account the budget and always send the visitor somewhere.
package clicks

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/admarket/mediator/internal/models"
)

// Outcome is the result of tracking one click. RedirectURL is always set.
type Outcome struct {
	Event       *models.ClickEvent
	RedirectURL string
}

// Pipeline chains the validator and the settlement transaction.
type Pipeline struct {
	store     models.TxStore
	validator *Validator
	log       *zap.Logger
}

func NewPipeline(store models.TxStore, validator *Validator, log *zap.Logger) *Pipeline {
	return &Pipeline{store: store, validator: validator, log: log}
}

// Track processes one click on a tracking code. A ClickEvent is persisted
// on every path; the redirect target is the ad's destination, or "/" when
// the code or ad is unknown.
func (p *Pipeline) Track(ctx context.Context, code, ip, ua string, now time.Time) (*Outcome, error) {
	assignment, err := p.store.AssignmentByCode(ctx, code)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	decision, err := p.validator.Validate(ctx, assignment, ip, ua, now)
	if err != nil {
		return nil, err
	}

	redirect := "/"
	if assignment != nil && assignment.DestinationURL != "" {
		redirect = assignment.DestinationURL
	}

	if decision.Status == models.ClickRejected {
		ev := &models.ClickEvent{
			AssignmentCode: code,
			TS:             now,
			IPHash:         decision.IPHash,
			UAHash:         decision.UAHash,
			Status:         models.ClickRejected,
			RejectReason:   decision.RejectReason,
		}
		if assignment != nil {
			ev.PartnerID = assignment.PartnerID
			ev.CampaignID = assignment.CampaignID
			ev.AdID = assignment.AdID
		}
		if err := p.store.InsertClickEvent(ctx, ev); err != nil {
			return nil, err
		}
		p.log.Info("click rejected",
			zap.String("code", code),
			zap.String("reason", decision.RejectReason))
		return &Outcome{Event: ev, RedirectURL: redirect}, nil
	}

	ev, err := p.store.SettleClick(ctx, assignment, decision.IPHash, decision.UAHash, now)
	if err != nil {
		return nil, err
	}
	if ev.Status == models.ClickRejected {
		p.log.Info("click rejected at settlement",
			zap.String("code", code),
			zap.String("reason", ev.RejectReason))
	}
	return &Outcome{Event: ev, RedirectURL: redirect}, nil
}
