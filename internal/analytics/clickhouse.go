// Package analytics mirrors marketplace events into ClickHouse for offline
// reporting. The mirror is best-effort; Postgres stays the system of record
// and a nil service degrades to a no-op.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/admarket/mediator/internal/models"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = fmt.Errorf("analytics unavailable")

// Service records marketplace events for reporting.
type Service interface {
	RecordAdRequest(ctx context.Context, ev *models.PartnerAdRequestEvent) error
	RecordClick(ctx context.Context, ev *models.ClickEvent) error
	RecordImpression(ctx context.Context, ev *models.ImpressionEvent) error
}

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB  *sql.DB
	log *zap.Logger
}

// InitClickHouse connects to ClickHouse and ensures the events table exists.
func InitClickHouse(dsn string, log *zap.Logger) (*Analytics, error) {
	ch, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	ch.SetMaxOpenConns(25)
	if err := ch.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS marketplace_events (
       timestamp       DateTime,
       event_type      String,
       partner_id      Int32,
       campaign_id     Int32,
       ad_id           Int32,
       assignment_code String,
       status          String,
       reason          String,
       spend           Float64,
       earnings        Float64
   ) ENGINE=MergeTree() ORDER BY (event_type, timestamp)`
	if _, err := ch.ExecContext(context.Background(), create); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	log.Info("Connected to ClickHouse")
	return &Analytics{DB: ch, log: log}, nil
}

const insertEventSQL = `INSERT INTO marketplace_events
	(timestamp, event_type, partner_id, campaign_id, ad_id, assignment_code, status, reason, spend, earnings)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (a *Analytics) record(ctx context.Context, ts time.Time, eventType string, partnerID, campaignID, adID int, code, status, reason string, spend, earnings float64) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	_, err := a.DB.ExecContext(ctx, insertEventSQL,
		ts, eventType, int32(partnerID), int32(campaignID), int32(adID), code, status, reason, spend, earnings)
	if err != nil {
		return fmt.Errorf("clickhouse insert %s: %w", eventType, err)
	}
	return nil
}

func (a *Analytics) RecordAdRequest(ctx context.Context, ev *models.PartnerAdRequestEvent) error {
	status := "UNFILLED"
	if ev.Filled {
		status = "FILLED"
	}
	return a.record(ctx, ev.CreatedAt, "ad_request", ev.PartnerID, ev.CampaignID, ev.AdID,
		ev.AssignmentCode, status, ev.UnfilledReason, 0, 0)
}

func (a *Analytics) RecordClick(ctx context.Context, ev *models.ClickEvent) error {
	spend, _ := ev.SpendDelta.Float64()
	earnings, _ := ev.EarningsDelta.Float64()
	return a.record(ctx, ev.TS, "click", ev.PartnerID, ev.CampaignID, ev.AdID,
		ev.AssignmentCode, ev.Status, ev.RejectReason, spend, earnings)
}

func (a *Analytics) RecordImpression(ctx context.Context, ev *models.ImpressionEvent) error {
	return a.record(ctx, ev.TS, "impression", ev.PartnerID, ev.CampaignID, ev.AdID,
		ev.AssignmentCode, ev.Status, ev.DedupReason, 0, 0)
}

// Close shuts down the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.log.Error("clickhouse close", zap.Error(err))
		}
	}
}

// Noop discards all events; used when no ClickHouse DSN is configured.
type Noop struct{}

func (Noop) RecordAdRequest(context.Context, *models.PartnerAdRequestEvent) error { return nil }
func (Noop) RecordClick(context.Context, *models.ClickEvent) error                { return nil }
func (Noop) RecordImpression(context.Context, *models.ImpressionEvent) error      { return nil }
