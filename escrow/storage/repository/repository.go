// Package repository provides access to escrow data in a SQL-based data store.
//
// Repositories take the querying interface explicitly so the datastore can
// compose several of them inside a single sqlx transaction. State-changing
// queries on transactions are guarded by a status predicate, a transition is
// only applied when the row is still in one of the expected statuses.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	uuid "github.com/satori/go.uuid"

	"github.com/optcgph/marketplace/escrow/model"
)

type Transaction struct{}

func NewTransaction() *Transaction { return &Transaction{} }

const transactionCols = `id, listing_id, buyer_id, seller_id,
	item_price, shipping_fee, platform_fee, total_amount, seller_payout,
	payment_method, shipping_method, meetup_location, status,
	cancelled_by, cancellation_reason, cancelled_at,
	disputed_by, dispute_reason, disputed_at, dispute_resolution,
	auto_confirm_at, created_at, updated_at`

// Create inserts the transaction row.
func (r *Transaction) Create(ctx context.Context, dbi sqlx.QueryerContext, req *model.TransactionNew) (*model.Transaction, error) {
	const q = `INSERT INTO transactions (
		listing_id, buyer_id, seller_id,
		item_price, shipping_fee, platform_fee, total_amount, seller_payout,
		payment_method, shipping_method, meetup_location, status
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING ` + transactionCols

	result := &model.Transaction{}
	if err := dbi.QueryRowxContext(
		ctx,
		q,
		req.ListingID,
		req.BuyerID,
		req.SellerID,
		req.ItemPrice,
		req.ShippingFee,
		req.PlatformFee,
		req.TotalAmount,
		req.SellerPayout,
		req.PaymentMethod,
		req.ShippingMethod,
		req.MeetupLocation,
		req.Status,
	).StructScan(result); err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrDuplicateActiveTransaction
		}

		return nil, err
	}

	return result, nil
}

// Get retrieves the transaction for the given id.
func (r *Transaction) Get(ctx context.Context, dbi sqlx.QueryerContext, id uuid.UUID) (*model.Transaction, error) {
	const q = `SELECT ` + transactionCols + ` FROM transactions WHERE id = $1`

	result := &model.Transaction{}
	if err := sqlx.GetContext(ctx, dbi, result, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrTransactionNotFound
		}

		return nil, err
	}

	return result, nil
}

// ListByUser returns a page of the user's transactions, newest activity first.
// Side restricts the listing to the buyer or seller position when not empty.
func (r *Transaction) ListByUser(ctx context.Context, dbi sqlx.QueryerContext, userID uuid.UUID, side string, status *model.Status, limit, offset int) ([]model.Transaction, error) {
	q := `SELECT ` + transactionCols + ` FROM transactions WHERE `

	args := []interface{}{userID}
	switch side {
	case "buyer":
		q += `buyer_id = $1`
	case "seller":
		q += `seller_id = $1`
	default:
		q += `(buyer_id = $1 OR seller_id = $1)`
	}

	if status != nil {
		args = append(args, *status)
		q += ` AND status = $2`
	}

	args = append(args, limit, offset)
	q += ` ORDER BY updated_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	result := []model.Transaction{}
	if err := sqlx.SelectContext(ctx, dbi, &result, q, args...); err != nil {
		return nil, err
	}

	return result, nil
}

// SetStatus moves the transaction to next only if it is still in one of the
// from statuses, returning the updated row. model.ErrInvalidState means the
// row exists but another transition won the race.
func (r *Transaction) SetStatus(ctx context.Context, dbi sqlx.QueryerContext, id uuid.UUID, from []model.Status, next model.Status) (*model.Transaction, error) {
	const q = `UPDATE transactions
	SET status = $2, updated_at = CURRENT_TIMESTAMP
	WHERE id = $1 AND status = ANY($3)
	RETURNING ` + transactionCols

	return r.guardedUpdate(ctx, dbi, q, id, next, statusArray(from))
}

// MarkShipped moves the transaction to shipped and stamps the auto-confirm
// deadline, guarded on the funds-secured status.
func (r *Transaction) MarkShipped(ctx context.Context, dbi sqlx.QueryerContext, id uuid.UUID, autoConfirmAt time.Time) (*model.Transaction, error) {
	const q = `UPDATE transactions
	SET status = $2, auto_confirm_at = $3, updated_at = CURRENT_TIMESTAMP
	WHERE id = $1 AND status = $4
	RETURNING ` + transactionCols

	result := &model.Transaction{}
	if err := dbi.QueryRowxContext(ctx, q, id, model.StatusShipped, autoConfirmAt, model.StatusInEscrow).StructScan(result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrInvalidState
		}

		return nil, err
	}

	return result, nil
}

// Cancel moves the transaction to cancelled with its audit fields, guarded on
// the pre-escrow statuses.
func (r *Transaction) Cancel(ctx context.Context, dbi sqlx.QueryerContext, id, by uuid.UUID, reason string) (*model.Transaction, error) {
	const q = `UPDATE transactions
	SET status = $2, cancelled_by = $3, cancellation_reason = $4, cancelled_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
	WHERE id = $1 AND status = ANY($5)
	RETURNING ` + transactionCols

	from := statusArray([]model.Status{model.StatusPendingPayment, model.StatusPaymentSubmitted})

	result := &model.Transaction{}
	if err := dbi.QueryRowxContext(ctx, q, id, model.StatusCancelled, by, reason, from).StructScan(result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrInvalidState
		}

		return nil, err
	}

	return result, nil
}

// Dispute moves the transaction to disputed with its audit fields, guarded on
// the post-verification statuses.
func (r *Transaction) Dispute(ctx context.Context, dbi sqlx.QueryerContext, id, by uuid.UUID, reason string) (*model.Transaction, error) {
	const q = `UPDATE transactions
	SET status = $2, disputed_by = $3, dispute_reason = $4, disputed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
	WHERE id = $1 AND status = ANY($5)
	RETURNING ` + transactionCols

	from := statusArray([]model.Status{model.StatusInEscrow, model.StatusShipped, model.StatusDelivered})

	result := &model.Transaction{}
	if err := dbi.QueryRowxContext(ctx, q, id, model.StatusDisputed, by, reason, from).StructScan(result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrInvalidState
		}

		return nil, err
	}

	return result, nil
}

func (r *Transaction) guardedUpdate(ctx context.Context, dbi sqlx.QueryerContext, q string, args ...interface{}) (*model.Transaction, error) {
	result := &model.Transaction{}
	if err := dbi.QueryRowxContext(ctx, q, args...).StructScan(result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrInvalidState
		}

		return nil, err
	}

	return result, nil
}

func statusArray(from []model.Status) interface{} {
	raw := make([]string, len(from))
	for i := range from {
		raw[i] = string(from[i])
	}
	return pq.Array(raw)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
