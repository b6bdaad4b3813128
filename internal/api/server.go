// Package api exposes the mediator's HTTP surface: the partner ad request
// endpoint, the click tracking redirect, impression tracking and health.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/admarket/mediator/internal/analytics"
	"github.com/admarket/mediator/internal/clicks"
	"github.com/admarket/mediator/internal/config"
	"github.com/admarket/mediator/internal/fingerprint"
	"github.com/admarket/mediator/internal/middleware"
	"github.com/admarket/mediator/internal/models"
	"github.com/admarket/mediator/internal/observability"
	"github.com/admarket/mediator/internal/selection"
	"github.com/admarket/mediator/internal/targeting"
)

var tracer = otel.Tracer("mediator")

// AdSelector runs the selection pipeline for one partner request.
type AdSelector interface {
	Select(ctx context.Context, partnerID int, req models.TargetingRequest, debug bool) (*selection.Result, error)
}

// ClickTracker validates and settles one tracking click.
type ClickTracker interface {
	Track(ctx context.Context, code, ip, ua string, now time.Time) (*clicks.Outcome, error)
}

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger    *zap.Logger
	Selector  AdSelector
	Clicks    ClickTracker
	Store     models.TxStore
	Hasher    *fingerprint.Hasher
	Resolver  *targeting.Resolver
	Analytics analytics.Service
	Metrics   observability.MetricsRegistry
	Config    config.Config
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, selector AdSelector, tracker ClickTracker, store models.TxStore, hasher *fingerprint.Hasher, resolver *targeting.Resolver, an analytics.Service, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	if an == nil {
		an = analytics.Noop{}
	}
	return &Server{
		Logger:    logger,
		Selector:  selector,
		Clicks:    tracker,
		Store:     store,
		Hasher:    hasher,
		Resolver:  resolver,
		Analytics: an,
		Metrics:   metrics,
		Config:    cfg,
	}
}

// Router builds the mux router with all routes registered.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))
	r.HandleFunc("/api/partner/ad", s.PartnerAdHandler).Methods("GET")
	r.HandleFunc("/api/track/impression", s.ImpressionHandler).Methods("POST")
	r.HandleFunc("/t/{code}", s.ClickHandler).Methods("GET")
	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// HealthHandler responds with a simple status check.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "health"
	const method = "GET"

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}
