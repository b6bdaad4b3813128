package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/admarket/mediator/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewStore(&Postgres{DB: mockDB}, zap.NewNop()), mock
}

func testAssignment() *models.AdAssignment {
	return &models.AdAssignment{
		ID: 1, Code: "abc123", PartnerID: 7, CampaignID: 3, AdID: 9,
	}
}

var settleAt = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func campaignRow(status, total, spent, cpc, payout string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"status", "budget_total", "budget_spent", "buyer_cpc", "partner_payout"}).
		AddRow(status, total, spent, cpc, payout)
}

func TestSettleClickAccepted(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, budget_total, budget_spent, buyer_cpc, partner_payout`).
		WithArgs(3).
		WillReturnRows(campaignRow("active", "100.00", "0.00", "2.50", "1.75"))
	mock.ExpectExec(`UPDATE campaigns SET budget_spent`).
		WithArgs(sqlmock.AnyArg(), "active", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO click_events`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectCommit()

	ev, err := store.SettleClick(context.Background(), testAssignment(), "iphash", "uahash", settleAt)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, models.ClickAccepted, ev.Status)
	assert.Equal(t, "2.5", ev.SpendDelta.String())
	assert.Equal(t, "1.75", ev.EarningsDelta.String())
	assert.Equal(t, "0.75", ev.ProfitDelta.String())
	assert.Equal(t, 42, ev.ID)
}

func TestSettleClickLastAffordableClickPauses(t *testing.T) {
	store, mock := newMockStore(t)

	// remaining equals cpc: the click is accepted and the campaign pauses.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, budget_total, budget_spent, buyer_cpc, partner_payout`).
		WithArgs(3).
		WillReturnRows(campaignRow("active", "100.00", "97.50", "2.50", "1.75"))
	mock.ExpectExec(`UPDATE campaigns SET budget_spent`).
		WithArgs(sqlmock.AnyArg(), "paused", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO click_events`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(43))
	mock.ExpectCommit()

	ev, err := store.SettleClick(context.Background(), testAssignment(), "iphash", "uahash", settleAt)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, models.ClickAccepted, ev.Status)
}

func TestSettleClickBudgetExhausted(t *testing.T) {
	store, mock := newMockStore(t)

	// remaining below cpc: reject, flip to paused, no debit.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, budget_total, budget_spent, buyer_cpc, partner_payout`).
		WithArgs(3).
		WillReturnRows(campaignRow("active", "1.00", "0.00", "2.50", "1.75"))
	mock.ExpectExec(`UPDATE campaigns SET status`).
		WithArgs("paused", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO click_events`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(44))
	mock.ExpectCommit()

	ev, err := store.SettleClick(context.Background(), testAssignment(), "iphash", "uahash", settleAt)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, models.ClickRejected, ev.Status)
	assert.Equal(t, models.ReasonBudgetExhausted, ev.RejectReason)
	assert.True(t, ev.SpendDelta.IsZero())
}

func TestSettleClickAlreadyPaused(t *testing.T) {
	store, mock := newMockStore(t)

	// Paused campaigns are not re-paused; only the event is written.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, budget_total, budget_spent, buyer_cpc, partner_payout`).
		WithArgs(3).
		WillReturnRows(campaignRow("paused", "100.00", "0.00", "2.50", "1.75"))
	mock.ExpectQuery(`INSERT INTO click_events`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(45))
	mock.ExpectCommit()

	ev, err := store.SettleClick(context.Background(), testAssignment(), "iphash", "uahash", settleAt)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, models.ReasonBudgetExhausted, ev.RejectReason)
}

func TestSettleClickCampaignGone(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, budget_total, budget_spent, buyer_cpc, partner_payout`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"status", "budget_total", "budget_spent", "buyer_cpc", "partner_payout"}))
	mock.ExpectQuery(`INSERT INTO click_events`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(46))
	mock.ExpectCommit()

	ev, err := store.SettleClick(context.Background(), testAssignment(), "iphash", "uahash", settleAt)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, models.ClickRejected, ev.Status)
	assert.Equal(t, models.ReasonInvalidAssignment, ev.RejectReason)
}

func TestRecordImpressionDedup(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`INSERT INTO impression_events`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectCommit()

	ev := &models.ImpressionEvent{AssignmentCode: "abc123", PartnerID: 7, CampaignID: 3, AdID: 9, TS: settleAt, IPHash: "iphash"}
	dup, err := store.RecordImpression(context.Background(), ev, time.Minute)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.True(t, dup)
	assert.Equal(t, models.ImpressionDeduped, ev.Status)
	assert.Equal(t, models.ReasonDuplicateWindow, ev.DedupReason)
}

func TestRecordImpressionAccepted(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO impression_events`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(6))
	mock.ExpectCommit()

	ev := &models.ImpressionEvent{AssignmentCode: "abc123", TS: settleAt, IPHash: "iphash"}
	dup, err := store.RecordImpression(context.Background(), ev, time.Minute)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.False(t, dup)
	assert.Equal(t, models.ImpressionAccepted, ev.Status)
}
