package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	uuid "github.com/satori/go.uuid"

	"github.com/optcgph/marketplace/escrow/model"
)

// Notification is the outbox of notification intents. Rows are written in the
// same database transaction as the state change that caused them and picked
// up later by the delivery worker.
type Notification struct{}

func NewNotification() *Notification { return &Notification{} }

const notificationCols = `id, user_id, type, title, message, link, metadata, attempts, retry_after, sent_at, created_at`

// Insert persists a batch of notification intents.
func (r *Notification) Insert(ctx context.Context, dbi sqlx.ExtContext, notifs []model.NotificationNew) error {
	if len(notifs) == 0 {
		return nil
	}

	const q = `INSERT INTO notifications (user_id, type, title, message, link, metadata)
	VALUES (:user_id, :type, :title, :message, :link, :metadata)`

	_, err := sqlx.NamedExecContext(ctx, dbi, q, notifs)
	return err
}

// GetNextUnsent locks and returns the next undelivered intent, skipping rows
// other workers hold and rows waiting out a retry delay. sql.ErrNoRows means
// nothing is deliverable right now.
func (r *Notification) GetNextUnsent(ctx context.Context, dbi sqlx.QueryerContext) (*model.Notification, error) {
	const q = `SELECT ` + notificationCols + `
	FROM notifications
	WHERE sent_at IS NULL AND (retry_after IS NULL OR retry_after <= CURRENT_TIMESTAMP)
	ORDER BY created_at
	FOR UPDATE SKIP LOCKED
	LIMIT 1`

	result := &model.Notification{}
	if err := sqlx.GetContext(ctx, dbi, result, q); err != nil {
		return nil, err
	}

	return result, nil
}

// MarkSent stamps the intent as delivered.
func (r *Notification) MarkSent(ctx context.Context, dbi sqlx.ExecerContext, id uuid.UUID, when time.Time) error {
	const q = `UPDATE notifications SET sent_at = $2 WHERE id = $1`

	result, err := dbi.ExecContext(ctx, q, id, when)
	if err != nil {
		return err
	}

	numAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if numAffected == 0 {
		return errors.New("repository: notification not found")
	}

	return nil
}

// MarkFailed counts a delivery failure and pushes the intent back with an
// exponential delay, capped at ten minutes, so a repeatedly failing row does
// not block the intents queued behind it.
func (r *Notification) MarkFailed(ctx context.Context, dbi sqlx.ExecerContext, id uuid.UUID) error {
	const q = `UPDATE notifications
	SET attempts = attempts + 1,
		retry_after = CURRENT_TIMESTAMP + make_interval(secs => least(600, 10 * pow(2, attempts)))
	WHERE id = $1`

	result, err := dbi.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}

	numAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if numAffected == 0 {
		return errors.New("repository: notification not found")
	}

	return nil
}

// ListByUser returns the user's notifications, newest first.
func (r *Notification) ListByUser(ctx context.Context, dbi sqlx.QueryerContext, userID uuid.UUID, limit int) ([]model.Notification, error) {
	const q = `SELECT ` + notificationCols + `
	FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	result := []model.Notification{}
	if err := sqlx.SelectContext(ctx, dbi, &result, q, userID, limit); err != nil {
		return nil, err
	}

	return result, nil
}
