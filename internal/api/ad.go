package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/admarket/mediator/internal/fingerprint"
	"github.com/admarket/mediator/internal/middleware"
	"github.com/admarket/mediator/internal/models"
	"github.com/admarket/mediator/internal/observability"
	"github.com/admarket/mediator/internal/selection"
)

type adCampaignPayload struct {
	ID            int     `json:"id"`
	MaxCPC        float64 `json:"max_cpc"`
	PartnerPayout float64 `json:"partner_payout"`
}

type adPayload struct {
	ID             int    `json:"id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	ImageURL       string `json:"image_url"`
	DestinationURL string `json:"destination_url"`
}

type adResponse struct {
	Filled         bool                    `json:"filled"`
	Reason         string                  `json:"reason,omitempty"`
	AssignmentCode string                  `json:"assignment_code,omitempty"`
	TrackingURL    string                  `json:"tracking_url,omitempty"`
	Campaign       *adCampaignPayload      `json:"campaign,omitempty"`
	Ad             *adPayload              `json:"ad,omitempty"`
	Explanation    string                  `json:"explanation,omitempty"`
	ScoreBreakdown *models.ScoreBreakdown  `json:"score_breakdown,omitempty"`
	Candidates     []models.DebugCandidate `json:"debug_candidates,omitempty"`
}

// partnerID reads the partner identity header. Zero means invalid.
func partnerID(r *http.Request) int {
	id, err := strconv.Atoi(strings.TrimSpace(r.Header.Get("X-Partner-ID")))
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// PartnerAdHandler handles GET /api/partner/ad: select the best ad for the
// requesting partner and mint an assignment. Both filled and unfilled
// outcomes are 200; only a bad partner identity is an error.
func (s *Server) PartnerAdHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "PartnerAdHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/api/partner/ad"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "partner_ad"
	const method = "GET"

	pid := partnerID(r)
	if pid == 0 {
		logger.Warn("invalid partner identity")
		s.Metrics.IncrementRequests(endpoint, method, "401")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		writeError(w, http.StatusUnauthorized, "invalid_identity")
		return
	}

	requestID := uuid.NewString()
	q := r.URL.Query()
	treq := models.TargetingRequest{
		Category:  strings.TrimSpace(q.Get("category")),
		Geo:       strings.TrimSpace(q.Get("geo")),
		Device:    strings.TrimSpace(q.Get("device")),
		Placement: strings.TrimSpace(q.Get("placement")),
	}
	treq = s.Resolver.Enrich(treq, r.UserAgent(), fingerprint.ClientIP(r))

	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.Int("partner_id", pid),
		attribute.String("targeting.category", treq.Category),
		attribute.String("targeting.geo", treq.Geo),
		attribute.String("targeting.device", treq.Device),
		attribute.String("targeting.placement", treq.Placement),
	)

	debug := s.Config.MatchingDebug || q.Get("debug") == "1"

	selectStart := time.Now()
	res, err := s.Selector.Select(ctx, pid, treq, debug)
	s.Metrics.RecordSelectionLatency(time.Since(selectStart))
	if err != nil {
		logger.Error("ad selection", zap.Error(err),
			zap.String("request_id", requestID),
			zap.Int("partner_id", pid))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		writeError(w, http.StatusInternalServerError, "selection_failed")
		return
	}

	s.mirrorRequestEvent(ctx, logger, pid, treq, res)

	if !res.Filled {
		if observability.ShouldSample(observability.GetSamplingRate()) {
			logger.Info("ad request unfilled",
				zap.String("request_id", requestID),
				zap.Int("partner_id", pid),
				zap.String("reason", res.UnfilledReason),
				zap.String("event_type", "ad_request"))
		}
		s.Metrics.IncrementAdRequests(strings.ToLower(res.UnfilledReason))
		s.Metrics.IncrementRequests(endpoint, method, "200")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		writeJSON(w, http.StatusOK, adResponse{Filled: false, Reason: res.UnfilledReason})
		return
	}

	span.SetAttributes(
		attribute.Int("ad.campaign_id", res.Campaign.ID),
		attribute.Int("ad.ad_id", res.Ad.ID),
		attribute.String("ad.assignment_code", res.Assignment.Code),
	)
	if observability.ShouldSample(observability.GetSamplingRate()) {
		logger.Info("ad served",
			zap.String("request_id", requestID),
			zap.Int("partner_id", pid),
			zap.Int("campaign_id", res.Campaign.ID),
			zap.Int("ad_id", res.Ad.ID),
			zap.String("event_type", "ad_served"))
	}
	s.Metrics.IncrementAdRequests("filled")
	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))

	breakdown := res.Breakdown
	writeJSON(w, http.StatusOK, adResponse{
		Filled:         true,
		AssignmentCode: res.Assignment.Code,
		TrackingURL:    "/t/" + res.Assignment.Code,
		Campaign: &adCampaignPayload{
			ID:            res.Campaign.ID,
			MaxCPC:        res.Campaign.BuyerCPC.InexactFloat64(),
			PartnerPayout: res.Campaign.PartnerPayout.InexactFloat64(),
		},
		Ad: &adPayload{
			ID:             res.Ad.ID,
			Title:          res.Ad.Title,
			Body:           res.Ad.Body,
			ImageURL:       res.Ad.ImageURL,
			DestinationURL: res.Ad.DestinationURL,
		},
		Explanation:    res.Explanation,
		ScoreBreakdown: &breakdown,
		Candidates:     res.DebugCandidates,
	})
}

// mirrorRequestEvent sends a best-effort copy of the request outcome to the
// analytics sink. The Postgres event was already written by the selector.
func (s *Server) mirrorRequestEvent(ctx context.Context, logger *zap.Logger, pid int, treq models.TargetingRequest, res *selection.Result) {
	ev := &models.PartnerAdRequestEvent{
		CreatedAt:      time.Now().UTC(),
		PartnerID:      pid,
		Category:       treq.Category,
		Geo:            treq.Geo,
		Device:         treq.Device,
		Placement:      treq.Placement,
		Filled:         res.Filled,
		UnfilledReason: res.UnfilledReason,
	}
	if res.Filled {
		ev.AdID = res.Ad.ID
		ev.CampaignID = res.Campaign.ID
		ev.AssignmentCode = res.Assignment.Code
	}
	if err := s.Analytics.RecordAdRequest(ctx, ev); err != nil {
		logger.Warn("analytics mirror", zap.Error(err))
	}
}
