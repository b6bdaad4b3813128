package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS campaigns (
    id SERIAL PRIMARY KEY,
    buyer_id INT NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    budget_total NUMERIC(12,2) NOT NULL,
    budget_spent NUMERIC(12,2) NOT NULL DEFAULT 0,
    buyer_cpc NUMERIC(12,2) NOT NULL,
    partner_payout NUMERIC(12,2) NOT NULL,
    targeting_category TEXT,
    targeting_geo TEXT,
    targeting_device TEXT,
    targeting_placement TEXT,
    start_date DATE,
    end_date DATE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ads (
    id SERIAL PRIMARY KEY,
    campaign_id INT NOT NULL REFERENCES campaigns(id),
    title TEXT NOT NULL,
    body TEXT,
    image_url TEXT,
    destination_url TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ad_assignments (
    id SERIAL PRIMARY KEY,
    code TEXT NOT NULL UNIQUE,
    partner_id INT NOT NULL,
    campaign_id INT NOT NULL REFERENCES campaigns(id),
    ad_id INT NOT NULL REFERENCES ads(id),
    category TEXT,
    geo TEXT,
    device TEXT,
    placement TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS click_events (
    id SERIAL PRIMARY KEY,
    assignment_code TEXT NOT NULL,
    partner_id INT NOT NULL DEFAULT 0,
    campaign_id INT NOT NULL DEFAULT 0,
    ad_id INT NOT NULL DEFAULT 0,
    ts TIMESTAMPTZ NOT NULL,
    ip_hash TEXT NOT NULL,
    ua_hash TEXT,
    status TEXT NOT NULL,
    reject_reason TEXT,
    spend_delta NUMERIC(12,2) NOT NULL DEFAULT 0,
    earnings_delta NUMERIC(12,2) NOT NULL DEFAULT 0,
    profit_delta NUMERIC(12,2) NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS impression_events (
    id SERIAL PRIMARY KEY,
    assignment_code TEXT NOT NULL,
    partner_id INT NOT NULL,
    campaign_id INT NOT NULL,
    ad_id INT NOT NULL,
    ts TIMESTAMPTZ NOT NULL,
    ip_hash TEXT NOT NULL,
    status TEXT NOT NULL,
    dedup_reason TEXT
);

CREATE TABLE IF NOT EXISTS partner_ad_request_events (
    id SERIAL PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL,
    partner_id INT NOT NULL,
    category TEXT,
    geo TEXT,
    device TEXT,
    placement TEXT,
    filled BOOLEAN NOT NULL,
    ad_id INT,
    campaign_id INT,
    assignment_code TEXT,
    explanation TEXT,
    score_breakdown TEXT,
    unfilled_reason TEXT
);

CREATE TABLE IF NOT EXISTS partner_ad_exposures (
    id SERIAL PRIMARY KEY,
    partner_id INT NOT NULL,
    ad_id INT NOT NULL,
    last_served_at TIMESTAMPTZ NOT NULL,
    UNIQUE (partner_id, ad_id)
);

-- Hot path indexes
CREATE INDEX IF NOT EXISTS idx_click_events_code ON click_events (assignment_code);
CREATE INDEX IF NOT EXISTS idx_click_events_code_ip ON click_events (assignment_code, ip_hash);
CREATE INDEX IF NOT EXISTS idx_click_events_partner_ts ON click_events (partner_id, ts);
CREATE INDEX IF NOT EXISTS idx_impression_events_code_ip ON impression_events (assignment_code, ip_hash);
CREATE INDEX IF NOT EXISTS idx_impression_events_partner_ts ON impression_events (partner_id, ts);
CREATE INDEX IF NOT EXISTS idx_request_events_partner ON partner_ad_request_events (partner_id);
CREATE INDEX IF NOT EXISTS idx_request_events_created ON partner_ad_request_events (created_at);
CREATE INDEX IF NOT EXISTS idx_ads_campaign_active ON ads (campaign_id) WHERE active = true;
CREATE INDEX IF NOT EXISTS idx_assignments_partner_campaign ON ad_assignments (partner_id, campaign_id);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// ensureSchema creates the required tables if they do not exist.
func (p *Postgres) ensureSchema() error {
	if _, err := p.DB.ExecContext(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
