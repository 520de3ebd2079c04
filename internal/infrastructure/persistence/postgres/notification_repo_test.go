package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlink/bloodlink-hub/internal/domain/request"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

var notificationRowColumns = []string{
	"id", "request_id", "donor_id", "urgency_band", "sent_at",
	"viewed_at", "responded_at", "response_type", "timeout_at", "is_expired",
}

func TestNotificationRepository_CreateDuplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewNotificationRepository(db)

	n, err := request.NewDonorNotification("n-1", "r-1", "d-1", request.UrgencyPink, testNow)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO donor_notifications`).
		WithArgs("n-1", "r-1", "d-1", "PINK", testNow, nil, nil, nil, testNow.Add(30*time.Minute), false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(context.Background(), n))

	mock.ExpectExec(`INSERT INTO donor_notifications`).
		WillReturnError(&pgError23505)
	err = repo.Create(context.Background(), n)
	assert.True(t, shared.IsAlreadyExists(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_UpdateAndGet(t *testing.T) {
	db, mock := newMock(t)
	repo := NewNotificationRepository(db)

	n, err := request.NewDonorNotification("n-1", "r-1", "d-1", request.UrgencyRed, testNow)
	require.NoError(t, err)
	require.NoError(t, n.Respond(request.ResponseDeclined, testNow.Add(time.Minute)))

	mock.ExpectExec(`UPDATE donor_notifications SET`).
		WithArgs(nil, testNow.Add(time.Minute), "DECLINED", testNow.Add(10*time.Minute), false, "n-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(context.Background(), n))

	mock.ExpectQuery(`FROM donor_notifications WHERE id = \$1`).
		WithArgs("n-1").
		WillReturnRows(sqlmock.NewRows(notificationRowColumns).AddRow(
			"n-1", "r-1", "d-1", "RED", testNow, nil, testNow.Add(time.Minute), "DECLINED",
			testNow.Add(10*time.Minute), false,
		))

	got, err := repo.GetByID(context.Background(), "n-1")
	require.NoError(t, err)
	assert.True(t, got.HasResponded())
	require.NotNil(t, got.ResponseType)
	assert.Equal(t, request.ResponseDeclined, *got.ResponseType)
	assert.Equal(t, request.UrgencyRed, got.UrgencyBand)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_ListTimedOut(t *testing.T) {
	db, mock := newMock(t)
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(`responded_at IS NULL\s+AND is_expired = FALSE`).
		WithArgs(testNow).
		WillReturnRows(sqlmock.NewRows(notificationRowColumns).AddRow(
			"n-2", "r-1", "d-2", "RED", testNow.Add(-15*time.Minute), nil, nil, nil,
			testNow.Add(-5*time.Minute), false,
		))

	open, err := repo.ListTimedOut(context.Background(), testNow)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].HasExpired(testNow))
	assert.NoError(t, mock.ExpectationsWereMet())
}
