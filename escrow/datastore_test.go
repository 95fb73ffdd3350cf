package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	uuid "github.com/satori/go.uuid"
	should "github.com/stretchr/testify/assert"
	must "github.com/stretchr/testify/require"

	"github.com/optcgph/marketplace/datastore"
	"github.com/optcgph/marketplace/escrow/model"
	"github.com/optcgph/marketplace/escrow/storage/repository"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	must.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	pg := &Postgres{
		Postgres: datastore.Postgres{DB: sqlx.NewDb(db, "postgres")},
		trx:      repository.NewTransaction(),
		escrow:   repository.NewEscrowRecord(),
		shipment: repository.NewShipment(),
		listing:  repository.NewListing(),
		notify:   repository.NewNotification(),
		report:   repository.NewReport(),
		admin:    repository.NewAdminAction(),
	}

	return pg, mock
}

type notifierFunc func(ctx context.Context, n *model.Notification) error

func (f notifierFunc) Notify(ctx context.Context, n *model.Notification) error { return f(ctx, n) }

func notificationRow(id, userID uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "type", "title", "message", "link", "metadata", "attempts", "retry_after", "sent_at", "created_at",
	}).AddRow(id, userID, "new_offer", "New Purchase Order", "msg", "/transactions", nil, 0, nil, nil, time.Now())
}

func TestPostgres_RunNextNotificationJob(t *testing.T) {
	t.Run("outbox_drained", func(t *testing.T) {
		pg, mock := newMockPostgres(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FROM notifications").WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		attempted, err := pg.RunNextNotificationJob(context.Background(), notifierFunc(func(ctx context.Context, n *model.Notification) error {
			t.Fatal("worker must not be called on an empty outbox")
			return nil
		}))
		must.NoError(t, err)
		should.False(t, attempted)

		should.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delivery_failure_schedules_retry", func(t *testing.T) {
		pg, mock := newMockPostgres(t)

		id, userID := uuid.NewV4(), uuid.NewV4()

		mock.ExpectBegin()
		mock.ExpectQuery("FROM notifications").WillReturnRows(notificationRow(id, userID))
		mock.ExpectExec("UPDATE notifications").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		sinkErr := errors.New("sink unavailable")
		attempted, err := pg.RunNextNotificationJob(context.Background(), notifierFunc(func(ctx context.Context, n *model.Notification) error {
			return sinkErr
		}))
		should.True(t, attempted)
		should.Equal(t, sinkErr, err)

		should.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delivery_success_marks_sent", func(t *testing.T) {
		pg, mock := newMockPostgres(t)

		id, userID := uuid.NewV4(), uuid.NewV4()

		mock.ExpectBegin()
		mock.ExpectQuery("FROM notifications").WillReturnRows(notificationRow(id, userID))
		mock.ExpectExec("UPDATE notifications SET sent_at").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		var delivered *model.Notification
		attempted, err := pg.RunNextNotificationJob(context.Background(), notifierFunc(func(ctx context.Context, n *model.Notification) error {
			delivered = n
			return nil
		}))
		must.NoError(t, err)
		should.True(t, attempted)

		must.NotNil(t, delivered)
		should.Equal(t, id, delivered.ID)
		should.Equal(t, userID, delivered.UserID)

		should.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgres_CreateTransaction_ReserveLost(t *testing.T) {
	pg, mock := newMockPostgres(t)

	mock.ExpectBegin()
	// another purchase already flipped the listing off active
	mock.ExpectExec("UPDATE listings").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	req := &model.TransactionNew{
		ListingID: uuid.NewV4(),
		BuyerID:   uuid.NewV4(),
		SellerID:  uuid.NewV4(),
		Status:    model.StatusPendingPayment,
	}

	_, err := pg.CreateTransaction(context.Background(), req, nil)
	should.Equal(t, model.ErrListingUnavailable, err)

	should.NoError(t, mock.ExpectationsWereMet())
}
