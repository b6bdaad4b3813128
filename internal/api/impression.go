package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/admarket/mediator/internal/fingerprint"
	"github.com/admarket/mediator/internal/middleware"
	"github.com/admarket/mediator/internal/models"
)

type impressionResponse struct {
	Status  string `json:"status"`
	Deduped bool   `json:"deduped"`
}

// ImpressionHandler handles POST /api/track/impression?code=. Repeats from
// the same client within the dedup window are recorded as DEDUPED but still
// answered with 200.
func (s *Server) ImpressionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ImpressionHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/api/track/impression"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "impression"
	const method = "POST"

	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		writeError(w, http.StatusBadRequest, "missing_code")
		return
	}

	assignment, err := s.Store.AssignmentByCode(ctx, code)
	if errors.Is(err, models.ErrNotFound) {
		s.Metrics.IncrementRequests(endpoint, method, "404")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		logger.Error("assignment lookup", zap.Error(err), zap.String("code", code))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		writeError(w, http.StatusInternalServerError, "lookup_failed")
		return
	}

	ev := &models.ImpressionEvent{
		AssignmentCode: assignment.Code,
		PartnerID:      assignment.PartnerID,
		CampaignID:     assignment.CampaignID,
		AdID:           assignment.AdID,
		TS:             time.Now().UTC(),
		IPHash:         s.Hasher.Hash(fingerprint.ClientIP(r)),
	}
	deduped, err := s.Store.RecordImpression(ctx, ev, s.Config.ImpressionDedupWindow)
	if err != nil {
		logger.Error("record impression", zap.Error(err), zap.String("code", code))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		writeError(w, http.StatusInternalServerError, "record_failed")
		return
	}

	span.SetAttributes(attribute.Bool("impression.deduped", deduped))
	s.Metrics.IncrementImpressions(ev.Status)
	if err := s.Analytics.RecordImpression(ctx, ev); err != nil {
		logger.Warn("analytics mirror", zap.Error(err))
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	writeJSON(w, http.StatusOK, impressionResponse{Status: "ok", Deduped: deduped})
}
