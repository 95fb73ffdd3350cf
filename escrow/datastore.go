package escrow

import (
	"context"
	"database/sql"
	"errors"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/optcgph/marketplace/datastore"
	"github.com/optcgph/marketplace/escrow/model"
	"github.com/optcgph/marketplace/escrow/storage/repository"
)

// Datastore abstracts over the underlying datastore.
//
// Every state-changing method applies a full transition as a single atomic
// unit: the guarded status update, the subsidiary-record writes, the listing
// reservation change and the notification intents all commit or roll back
// together.
type Datastore interface {
	// GetListing retrieves a listing by id
	GetListing(ctx context.Context, id uuid.UUID) (*model.Listing, error)
	// GetTransaction retrieves a transaction by id
	GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
	// GetEscrowRecord retrieves the escrow record owned by a transaction
	GetEscrowRecord(ctx context.Context, txnID uuid.UUID) (*model.EscrowRecord, error)
	// GetShipmentDetails retrieves the shipment details owned by a transaction
	GetShipmentDetails(ctx context.Context, txnID uuid.UUID) (*model.ShipmentDetails, error)
	// ListTransactions returns a page of a user's transactions
	ListTransactions(ctx context.Context, userID uuid.UUID, side string, status *model.Status, limit, offset int) ([]model.Transaction, error)
	// ListAdminIDs returns the ids of all admin accounts
	ListAdminIDs(ctx context.Context) ([]uuid.UUID, error)
	// CreateTransaction inserts the ledger entry and its empty escrow record and reserves the listing
	CreateTransaction(ctx context.Context, req *model.TransactionNew, notifs []model.NotificationNew) (*model.Transaction, error)
	// SubmitPaymentProof records the buyer's proof and moves the transaction to payment_submitted
	SubmitPaymentProof(ctx context.Context, txnID uuid.UUID, proofURL, reference string, notifs []model.NotificationNew) (*model.Transaction, error)
	// ApprovePayment moves the transaction into escrow and stamps the verification
	ApprovePayment(ctx context.Context, txnID, adminID uuid.UUID, notes *string, notifs []model.NotificationNew) (*model.Transaction, error)
	// RejectPayment reverts the transaction to pending_payment and clears the proof
	RejectPayment(ctx context.Context, txnID, adminID uuid.UUID, notes string, notifs []model.NotificationNew) (*model.Transaction, error)
	// CreateShipment inserts shipment details and moves the transaction to shipped
	CreateShipment(ctx context.Context, txnID uuid.UUID, ship model.ShipmentNew, autoConfirmAt time.Time, notifs []model.NotificationNew) (*model.Transaction, error)
	// CompleteTransaction finalizes a shipped transaction, releasing the payout
	CompleteTransaction(ctx context.Context, txnID uuid.UUID, notifs []model.NotificationNew) (*model.Transaction, error)
	// CancelTransaction cancels a pre-escrow transaction and releases the listing
	CancelTransaction(ctx context.Context, txnID, by uuid.UUID, reason string, notifs []model.NotificationNew) (*model.Transaction, error)
	// DisputeTransaction parks the transaction in disputed and opens a report
	DisputeTransaction(ctx context.Context, txnID, by uuid.UUID, reason string, report model.ReportNew, notifs []model.NotificationNew) (*model.Transaction, error)
	// RunNextNotificationJob delivers one pending notification intent if there is one, returning true if a job was attempted
	RunNextNotificationJob(ctx context.Context, worker NotificationWorker) (bool, error)
}

// NotificationWorker delivers a notification intent to the external sink.
type NotificationWorker interface {
	Notify(ctx context.Context, n *model.Notification) error
}

// Postgres is a Datastore wrapper around a postgres database
type Postgres struct {
	datastore.Postgres

	trx      *repository.Transaction
	escrow   *repository.EscrowRecord
	shipment *repository.Shipment
	listing  *repository.Listing
	notify   *repository.Notification
	report   *repository.Report
	admin    *repository.AdminAction
}

// NewPostgres creates a new Postgres Datastore
func NewPostgres(databaseURL string, performMigration bool) (*Postgres, error) {
	pg, err := datastore.NewPostgres(databaseURL, performMigration)
	if err != nil {
		return nil, err
	}

	return &Postgres{
		Postgres: *pg,
		trx:      repository.NewTransaction(),
		escrow:   repository.NewEscrowRecord(),
		shipment: repository.NewShipment(),
		listing:  repository.NewListing(),
		notify:   repository.NewNotification(),
		report:   repository.NewReport(),
		admin:    repository.NewAdminAction(),
	}, nil
}

// GetListing retrieves a listing by id.
func (pg *Postgres) GetListing(ctx context.Context, id uuid.UUID) (*model.Listing, error) {
	return pg.listing.Get(ctx, pg.DB, id)
}

// GetTransaction retrieves a transaction by id.
func (pg *Postgres) GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	return pg.trx.Get(ctx, pg.DB, id)
}

// GetEscrowRecord retrieves the escrow record owned by txnID.
func (pg *Postgres) GetEscrowRecord(ctx context.Context, txnID uuid.UUID) (*model.EscrowRecord, error) {
	return pg.escrow.GetByTransactionID(ctx, pg.DB, txnID)
}

// GetShipmentDetails retrieves the shipment details owned by txnID.
func (pg *Postgres) GetShipmentDetails(ctx context.Context, txnID uuid.UUID) (*model.ShipmentDetails, error) {
	return pg.shipment.GetByTransactionID(ctx, pg.DB, txnID)
}

// ListTransactions returns a page of the user's transactions.
func (pg *Postgres) ListTransactions(ctx context.Context, userID uuid.UUID, side string, status *model.Status, limit, offset int) ([]model.Transaction, error) {
	return pg.trx.ListByUser(ctx, pg.DB, userID, side, status, limit, offset)
}

// ListAdminIDs returns the ids of all admin accounts.
func (pg *Postgres) ListAdminIDs(ctx context.Context) ([]uuid.UUID, error) {
	return pg.admin.ListAdminIDs(ctx, pg.DB)
}

// CreateTransaction reserves the listing, inserts the ledger entry plus its
// empty escrow record and queues the notifications, all in one transaction.
// The partial unique index on live transactions backstops the reservation, so
// two concurrent purchases of one listing cannot both commit.
func (pg *Postgres) CreateTransaction(ctx context.Context, req *model.TransactionNew, notifs []model.NotificationNew) (*model.Transaction, error) {
	tx, err := pg.DB.Beginx()
	if err != nil {
		return nil, err
	}

	if err := pg.listing.Reserve(ctx, tx, req.ListingID); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	txn, err := pg.trx.Create(ctx, tx, req)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if _, err := pg.escrow.Create(ctx, tx, txn.ID); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := pg.notify.Insert(ctx, tx, notifs); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return txn, nil
}

// SubmitPaymentProof records the proof and advances to payment_submitted.
func (pg *Postgres) SubmitPaymentProof(ctx context.Context, txnID uuid.UUID, proofURL, reference string, notifs []model.NotificationNew) (*model.Transaction, error) {
	tx, err := pg.DB.Beginx()
	if err != nil {
		return nil, err
	}

	txn, err := pg.trx.SetStatus(ctx, tx, txnID, []model.Status{model.StatusPendingPayment}, model.StatusPaymentSubmitted)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := pg.escrow.SetProof(ctx, tx, txnID, proofURL, reference, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := pg.notify.Insert(ctx, tx, notifs); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return txn, nil
}

// ApprovePayment moves the funds into escrow, stamps the verification on the
// escrow record and appends the admin audit row.
func (pg *Postgres) ApprovePayment(ctx context.Context, txnID, adminID uuid.UUID, notes *string, notifs []model.NotificationNew) (*model.Transaction, error) {
	tx, err := pg.DB.Beginx()
	if err != nil {
		return nil, err
	}

	txn, err := pg.trx.SetStatus(ctx, tx, txnID, []model.Status{model.StatusPaymentSubmitted}, model.StatusInEscrow)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := pg.escrow.SetVerified(ctx, tx, txnID, adminID, notes, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	details := datastore.Metadata{}
	if notes != nil {
		details["notes"] = *notes
	}
	audit := model.AdminActionNew{
		AdminID:    adminID,
		Action:     "payment_verified",
		TargetType: "transaction",
		TargetID:   txnID,
		Details:    details,
	}
	if err := pg.admin.Create(ctx, tx, audit); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := pg.notify.Insert(ctx, tx, notifs); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return txn, nil
}

// RejectPayment reverts to pending_payment, wipes the rejected proof and
// records the reason so the buyer can try again.
func (pg *Postgres) RejectPayment(ctx context.Context, txnID, adminID uuid.UUID, notes string, notifs []model.NotificationNew) (*model.Transaction, error) {
	tx, err := pg.DB.Beginx()
	if err != nil {
		return nil, err
	}

	txn, err := pg.trx.SetStatus(ctx, tx, txnID, []model.Status{model.StatusPaymentSubmitted}, model.StatusPendingPayment)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := pg.escrow.ClearProof(ctx, tx, txnID, notes); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	audit := model.AdminActionNew{
		AdminID:    adminID,
		Action:     "payment_rejected",
		TargetType: "transaction",
		TargetID:   txnID,
		Details:    datastore.Metadata{"notes": notes},
	}
	if err := pg.admin.Create(ctx, tx, audit); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := pg.notify.Insert(ctx, tx, notifs); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return txn, nil
}

// CreateShipment moves the transaction to shipped with the auto-confirm
// deadline and inserts the shipment details.
func (pg *Postgres) CreateShipment(ctx context.Context, txnID uuid.UUID, ship model.ShipmentNew, autoConfirmAt time.Time, notifs []model.NotificationNew) (*model.Transaction, error) {
	tx, err := pg.DB.Beginx()
	if err != nil {
		return nil, err
	}

	txn, err := pg.trx.MarkShipped(ctx, tx, txnID, autoConfirmAt)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if _, err := pg.shipment.Create(ctx, tx, txnID, ship, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := pg.notify.Insert(ctx, tx, notifs); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return txn, nil
}

// CompleteTransaction finalizes a shipped or delivered transaction. This is
// the fund-release point, the seller payout becomes payable.
func (pg *Postgres) CompleteTransaction(ctx context.Context, txnID uuid.UUID, notifs []model.NotificationNew) (*model.Transaction, error) {
	tx, err := pg.DB.Beginx()
	if err != nil {
		return nil, err
	}

	txn, err := pg.trx.SetStatus(ctx, tx, txnID, []model.Status{model.StatusShipped, model.StatusDelivered}, model.StatusCompleted)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := pg.listing.MarkSold(ctx, tx, txn.ListingID); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := pg.notify.Insert(ctx, tx, notifs); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return txn, nil
}

// CancelTransaction cancels a pre-escrow transaction and returns the listing
// to the active pool.
func (pg *Postgres) CancelTransaction(ctx context.Context, txnID, by uuid.UUID, reason string, notifs []model.NotificationNew) (*model.Transaction, error) {
	tx, err := pg.DB.Beginx()
	if err != nil {
		return nil, err
	}

	txn, err := pg.trx.Cancel(ctx, tx, txnID, by, reason)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := pg.listing.Release(ctx, tx, txn.ListingID); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := pg.notify.Insert(ctx, tx, notifs); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return txn, nil
}

// DisputeTransaction parks the transaction in disputed and opens a report for
// admin review.
func (pg *Postgres) DisputeTransaction(ctx context.Context, txnID, by uuid.UUID, reason string, report model.ReportNew, notifs []model.NotificationNew) (*model.Transaction, error) {
	tx, err := pg.DB.Beginx()
	if err != nil {
		return nil, err
	}

	txn, err := pg.trx.Dispute(ctx, tx, txnID, by, reason)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if _, err := pg.report.Create(ctx, tx, report); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := pg.notify.Insert(ctx, tx, notifs); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return txn, nil
}

// RunNextNotificationJob delivers one pending intent if there is one,
// returning true if a job was attempted. A delivery failure is counted on
// the row and the row is pushed back behind a retry delay, so the intents
// queued after it keep flowing.
func (pg *Postgres) RunNextNotificationJob(ctx context.Context, worker NotificationWorker) (bool, error) {
	tx, err := pg.DB.Beginx()
	if err != nil {
		return false, err
	}

	n, err := pg.notify.GetNextUnsent(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	if err := worker.Notify(ctx, n); err != nil {
		if ferr := pg.notify.MarkFailed(ctx, tx, n.ID); ferr != nil {
			_ = tx.Rollback()
			return true, ferr
		}
		if cerr := tx.Commit(); cerr != nil {
			_ = tx.Rollback()
			return true, cerr
		}
		return true, err
	}

	if err := pg.notify.MarkSent(ctx, tx, n.ID, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return true, err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return true, err
	}

	return true, nil
}

var _ Datastore = (*Postgres)(nil)
