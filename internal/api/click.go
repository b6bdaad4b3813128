package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/admarket/mediator/internal/fingerprint"
	"github.com/admarket/mediator/internal/middleware"
	"github.com/admarket/mediator/internal/models"
	"github.com/admarket/mediator/internal/observability"
)

// ClickHandler handles GET /t/{code}: validate and settle the click, then
// redirect. The visitor is always sent somewhere with a 302, whatever the
// click decision was.
func (s *Server) ClickHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ClickHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/t/{code}"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "click"
	const method = "GET"

	code := mux.Vars(r)["code"]
	span.SetAttributes(attribute.String("click.code", code))

	out, err := s.Clicks.Track(ctx, code, fingerprint.ClientIP(r), r.UserAgent(), time.Now().UTC())
	if err != nil {
		logger.Error("click tracking", zap.Error(err), zap.String("code", code))
		s.Metrics.IncrementRequests(endpoint, method, "302")
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	ev := out.Event
	span.SetAttributes(
		attribute.String("click.status", ev.Status),
		attribute.String("click.reject_reason", ev.RejectReason),
	)
	s.Metrics.IncrementClicks(ev.Status, ev.RejectReason)
	if ev.RejectReason == models.ReasonRateLimit {
		s.Metrics.IncrementRateLimitHits()
	}
	if ev.Status == models.ClickAccepted {
		s.Metrics.AddSpend(strconv.Itoa(ev.CampaignID), ev.SpendDelta.InexactFloat64())
	}
	if err := s.Analytics.RecordClick(ctx, ev); err != nil {
		logger.Warn("analytics mirror", zap.Error(err))
	}
	if observability.ShouldSample(observability.GetSamplingRate()) {
		logger.Info("click tracked",
			zap.String("code", code),
			zap.String("status", ev.Status),
			zap.String("reason", ev.RejectReason),
			zap.String("event_type", "click"))
	}

	s.Metrics.IncrementRequests(endpoint, method, "302")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	http.Redirect(w, r, out.RedirectURL, http.StatusFound)
}
