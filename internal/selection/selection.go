// Package selection orchestrates one partner ad request: filter eligible
// campaigns, score their ads, pick a winner deterministically and persist
// the assignment, exposure and request event.
package selection

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/admarket/mediator/internal/market"
	"github.com/admarket/mediator/internal/models"
	"github.com/admarket/mediator/internal/quality"
	"github.com/admarket/mediator/internal/scoring"
)

// Config holds the orchestrator knobs.
type Config struct {
	FreqCapSeconds int
	Timeout        time.Duration
	DebugLimit     int
}

// Result is the outcome of one selection call.
type Result struct {
	Filled          bool
	UnfilledReason  string
	Assignment      *models.AdAssignment
	Campaign        *models.Campaign
	Ad              *models.Ad
	Explanation     string
	Breakdown       models.ScoreBreakdown
	DebugCandidates []models.DebugCandidate
}

// Orchestrator wires the scoring engine to the stores.
type Orchestrator struct {
	read       models.ReadModel
	tx         models.TxStore
	engine     *scoring.Engine
	classifier *quality.Classifier
	sampler    *market.Sampler
	marketCfg  market.Config
	cfg        Config
	log        *zap.Logger
}

func NewOrchestrator(
	read models.ReadModel,
	tx models.TxStore,
	engine *scoring.Engine,
	classifier *quality.Classifier,
	sampler *market.Sampler,
	marketCfg market.Config,
	cfg Config,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		read:       read,
		tx:         tx,
		engine:     engine,
		classifier: classifier,
		sampler:    sampler,
		marketCfg:  marketCfg,
		cfg:        cfg,
		log:        log,
	}
}

// Select runs the full pipeline for one partner request. Scoring is bounded
// by the configured deadline; on expiry the request is recorded unfilled.
// The debug flag returns the top candidates' breakdowns in the result.
func (o *Orchestrator) Select(ctx context.Context, partnerID int, req models.TargetingRequest, debug bool) (*Result, error) {
	now := time.Now().UTC()

	scoreCtx := ctx
	var cancel context.CancelFunc
	if o.cfg.Timeout > 0 {
		scoreCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	candidates, capBlocked, err := o.scoreCandidates(scoreCtx, partnerID, req, now)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			o.log.Warn("selection deadline exceeded",
				zap.Int("partner_id", partnerID),
				zap.Duration("timeout", o.cfg.Timeout))
			return o.unfilled(ctx, partnerID, req, models.UnfilledNoEligibleAds, now)
		}
		return nil, err
	}

	if len(candidates) == 0 {
		reason := models.UnfilledNoEligibleAds
		if capBlocked > 0 {
			reason = models.UnfilledFreqCap
		}
		return o.unfilled(ctx, partnerID, req, reason, now)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.AssignmentCount != b.AssignmentCount {
			return a.AssignmentCount < b.AssignmentCount
		}
		if a.Campaign.ID != b.Campaign.ID {
			return a.Campaign.ID < b.Campaign.ID
		}
		return a.Ad.ID < b.Ad.ID
	})
	winner := candidates[0]

	assignment := &models.AdAssignment{
		PartnerID:  partnerID,
		CampaignID: winner.Campaign.ID,
		AdID:       winner.Ad.ID,
		Category:   req.Category,
		Geo:        req.Geo,
		Device:     req.Device,
		Placement:  req.Placement,
		CreatedAt:  now,
	}
	if err := o.tx.CreateAssignment(ctx, assignment); err != nil {
		return nil, err
	}
	if err := o.tx.UpsertExposure(ctx, partnerID, winner.Ad.ID, now); err != nil {
		return nil, err
	}

	breakdownJSON, err := json.Marshal(winner.Breakdown)
	if err != nil {
		return nil, err
	}
	ev := &models.PartnerAdRequestEvent{
		CreatedAt:      now,
		PartnerID:      partnerID,
		Category:       req.Category,
		Geo:            req.Geo,
		Device:         req.Device,
		Placement:      req.Placement,
		Filled:         true,
		AdID:           winner.Ad.ID,
		CampaignID:     winner.Campaign.ID,
		AssignmentCode: assignment.Code,
		Explanation:    winner.Explanation,
		ScoreBreakdown: string(breakdownJSON),
	}
	if err := o.tx.RecordRequestEvent(ctx, ev); err != nil {
		return nil, err
	}

	res := &Result{
		Filled:      true,
		Assignment:  assignment,
		Campaign:    winner.Campaign,
		Ad:          winner.Ad,
		Explanation: winner.Explanation,
		Breakdown:   winner.Breakdown,
	}
	if debug {
		limit := o.cfg.DebugLimit
		if limit <= 0 || limit > len(candidates) {
			limit = len(candidates)
		}
		for _, c := range candidates[:limit] {
			res.DebugCandidates = append(res.DebugCandidates, models.DebugCandidate{
				CampaignID:     c.Campaign.ID,
				AdID:           c.Ad.ID,
				Score:          c.Breakdown.Total,
				ScoreBreakdown: c.Breakdown,
			})
		}
	}
	return res, nil
}

// scoreCandidates gathers the request-scoped signals, then scores every
// eligible campaign's ad concurrently. The returned count reports campaigns
// skipped by the frequency cap.
func (o *Orchestrator) scoreCandidates(ctx context.Context, partnerID int, req models.TargetingRequest, now time.Time) ([]scoring.Candidate, int, error) {
	var (
		snap       market.Snapshot
		assessment quality.Assessment
		rejectRate float64
		campaigns  []models.Campaign
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap, err = o.sampler.Snapshot(gctx, now)
		return err
	})
	g.Go(func() (err error) {
		assessment, err = o.classifier.Classify(gctx, partnerID, now)
		return err
	})
	g.Go(func() (err error) {
		rejectRate, err = o.classifier.RejectRate(gctx, partnerID, now)
		return err
	})
	g.Go(func() (err error) {
		campaigns, err = o.read.EligibleCampaigns(gctx, now, req)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	sig := scoring.RequestSignals{
		PartnerID:         partnerID,
		PartnerRejectRate: rejectRate,
		Quality:           assessment,
		Multipliers:       market.Derive(snap, o.marketCfg),
	}

	capCutoff := now.Add(-time.Duration(o.cfg.FreqCapSeconds) * time.Second)
	results := make([]*scoring.Candidate, len(campaigns))
	var capBlocked int

	sg, sctx := errgroup.WithContext(ctx)
	for i := range campaigns {
		campaign := &campaigns[i]
		sg.Go(func() error {
			ad, err := o.read.ActiveAd(sctx, campaign.ID)
			if errors.Is(err, models.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			if o.cfg.FreqCapSeconds > 0 {
				served, err := o.read.LastExposure(sctx, partnerID, ad.ID)
				if err != nil && !errors.Is(err, models.ErrNotFound) {
					return err
				}
				if err == nil && !served.Before(capCutoff) {
					results[i] = &scoring.Candidate{} // cap marker
					return nil
				}
			}

			cand, err := o.engine.Score(sctx, sig, campaign, ad, req, now)
			if err != nil {
				return err
			}
			cand.AssignmentCount, err = o.read.AssignmentCount(sctx, partnerID, campaign.ID)
			if err != nil {
				return err
			}
			results[i] = &cand
			return nil
		})
	}
	if err := sg.Wait(); err != nil {
		return nil, 0, err
	}

	candidates := make([]scoring.Candidate, 0, len(results))
	for _, r := range results {
		switch {
		case r == nil:
		case r.Ad == nil:
			capBlocked++
		default:
			candidates = append(candidates, *r)
		}
	}
	return candidates, capBlocked, nil
}

func (o *Orchestrator) unfilled(ctx context.Context, partnerID int, req models.TargetingRequest, reason string, now time.Time) (*Result, error) {
	ev := &models.PartnerAdRequestEvent{
		CreatedAt:      now,
		PartnerID:      partnerID,
		Category:       req.Category,
		Geo:            req.Geo,
		Device:         req.Device,
		Placement:      req.Placement,
		Filled:         false,
		UnfilledReason: reason,
	}
	if err := o.tx.RecordRequestEvent(context.WithoutCancel(ctx), ev); err != nil {
		return nil, err
	}
	return &Result{Filled: false, UnfilledReason: reason}, nil
}
