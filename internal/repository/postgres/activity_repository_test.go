package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"yakkl-background/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	insertActivity = regexp.QuoteMeta(`INSERT INTO dapp_activity`)
	selectActivity = regexp.QuoteMeta(`FROM dapp_activity`)
)

func testActivity() *domain.ActivityEvent {
	return &domain.ActivityEvent{
		ID:         "7b0e2a8e-5a43-4c1f-9a49-3a4c2f7f3e10",
		RequestID:  "42",
		Method:     "eth_sendTransaction",
		Category:   "signing",
		Domain:     "app.uniswap.org",
		Outcome:    domain.OutcomeApproved,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestActivityRepository_Record(t *testing.T) {
	t.Run("inserts_event", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		event := testActivity()
		mock.ExpectExec(insertActivity).
			WithArgs(event.ID, "42", "eth_sendTransaction", "signing", "app.uniswap.org", "approved", 0, event.OccurredAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, NewActivityRepository(db).Record(context.Background(), event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate_is_not_an_error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(insertActivity).WillReturnResult(sqlmock.NewResult(0, 0))

		assert.NoError(t, NewActivityRepository(db).Record(context.Background(), testActivity()))
	})

	t.Run("wraps_failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(insertActivity).WillReturnError(errors.New("disk full"))

		err = NewActivityRepository(db).Record(context.Background(), testActivity())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})
}

func TestActivityRepository_Recent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	event := testActivity()
	columns := []string{"id", "request_id", "method", "category", "domain", "outcome", "error_code", "occurred_at"}
	mock.ExpectQuery(selectActivity).
		WithArgs("app.uniswap.org", maxRecentActivity).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(event.ID, event.RequestID, event.Method, event.Category, event.Domain, event.Outcome, 0, event.OccurredAt).
			AddRow("second", "43", "eth_accounts", "identity", event.Domain, "answered", 0, event.OccurredAt.Add(-time.Minute)))

	events, err := NewActivityRepository(db).Recent(context.Background(), "app.uniswap.org", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "eth_sendTransaction", events[0].Method)
	assert.Equal(t, domain.OutcomeAnswered, events[1].Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}
