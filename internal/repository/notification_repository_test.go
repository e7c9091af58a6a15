package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

func TestNotificationListUnreadOnly(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "type", "title", "message", "data", "channel", "is_read", "dedupe_key", "created_at", "read_at"}).
		AddRow("n1", "u1", "ENROLLED", "Enrolled", "msg", []byte(`{"round_id":"r1"}`), "IN_APP", false, nil, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM notifications WHERE user_id = $1 AND NOT is_read ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3")).
		WithArgs("u1", 10, 0).
		WillReturnRows(rows)

	items, err := repo.List(context.Background(), models.NotificationQuery{UserID: "u1", Limit: 10, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.JSONEq(t, `{"round_id":"r1"}`, string(items[0].Data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationMarkReadScopedToOwner(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET is_read = TRUE, read_at = COALESCE(read_at, now()) WHERE id = $1 AND user_id = $2")).
		WithArgs("n1", "intruder").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRead(context.Background(), "n1", "intruder")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationDeleteScopedToOwner(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notifications WHERE id = $1 AND user_id = $2")).
		WithArgs("n1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "n1", "u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationInsertBatchSkipsDuplicates(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	keyA, keyB := "evt:u1:enrollee", "evt:u2:subscriber"
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications (id, user_id, type, title, message, data, channel, dedupe_key, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9), ($10, $11, $12, $13, $14, $15, $16, $17, $18) ON CONFLICT (dedupe_key) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	batch := []models.Notification{
		{UserID: "u1", Type: models.NotificationEnrolled, Title: "a", Message: "a", DedupeKey: &keyA},
		{UserID: "u2", Type: models.NotificationEnrolled, Title: "b", Message: "b", DedupeKey: &keyB},
	}
	inserted, err := repo.InsertBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.EqualValues(t, 1, inserted)
	assert.Equal(t, models.ChannelInApp, batch[0].Channel)
	assert.JSONEq(t, `{}`, string(batch[1].Data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveTopicRecipientsHonoursLimit(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY u.id LIMIT 2")).
		WithArgs(models.TopicEnrollmentCreated, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "role"}).
			AddRow("a1", "a1@example.com", "Ad", "Min", "ADMINISTRATOR").
			AddRow("m1", "m1@example.com", "Man", "Ager", "MANAGER"))

	recipients, err := repo.ResolveTopicRecipients(context.Background(), models.TopicEnrollmentCreated, []models.UserRole{models.RoleAdministrator}, 2)
	require.NoError(t, err)
	assert.Len(t, recipients, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxClaimDue(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewOutboxRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE outbox_events SET status = 'PROCESSING'")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "aggregate_id", "payload", "status", "attempts", "last_error", "next_attempt_at", "created_at", "processed_at"}).
			AddRow("o1", models.EventEnrollmentCreated, "e1", []byte(`{"enrollment_id":"e1"}`), "PROCESSING", 1, "boom", now, now, nil))

	events, err := repo.ClaimDue(context.Background(), 5, time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.OutboxStatusProcessing, events[0].Status)
	require.NotNil(t, events[0].LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryWasSent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDeliveryRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM notification_deliveries WHERE dedupe_key = $1 AND channel = $2")).
		WithArgs("k1", models.ChannelEmail).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("SENT"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM notification_deliveries")).
		WithArgs("k2", models.ChannelEmail).
		WillReturnError(sql.ErrNoRows)

	sent, err := repo.WasSent(context.Background(), "k1", models.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = repo.WasSent(context.Background(), "k2", models.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}
