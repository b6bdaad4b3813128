package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/admarket/mediator/internal/models"
)

func TestRecordClickInsertsRow(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	a := &Analytics{DB: mockDB, log: zap.NewNop()}

	mock.ExpectExec(`INSERT INTO marketplace_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ev := &models.ClickEvent{
		AssignmentCode: "abc123",
		PartnerID:      7,
		CampaignID:     3,
		AdID:           9,
		TS:             time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		Status:         models.ClickAccepted,
		SpendDelta:     decimal.RequireFromString("2.50"),
		EarningsDelta:  decimal.RequireFromString("1.75"),
	}
	require.NoError(t, a.RecordClick(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordWithoutConnection(t *testing.T) {
	var a *Analytics
	err := a.RecordClick(context.Background(), &models.ClickEvent{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNoopDiscards(t *testing.T) {
	var s Service = Noop{}
	assert.NoError(t, s.RecordAdRequest(context.Background(), &models.PartnerAdRequestEvent{}))
	assert.NoError(t, s.RecordClick(context.Background(), &models.ClickEvent{}))
	assert.NoError(t, s.RecordImpression(context.Background(), &models.ImpressionEvent{}))
}
