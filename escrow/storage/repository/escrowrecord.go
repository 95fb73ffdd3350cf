package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	uuid "github.com/satori/go.uuid"

	"github.com/optcgph/marketplace/escrow/model"
)

type EscrowRecord struct{}

func NewEscrowRecord() *EscrowRecord { return &EscrowRecord{} }

const escrowCols = `id, transaction_id, payment_proof_url, payment_reference,
	payment_submitted_at, verified_by, verified_at, verification_notes,
	created_at, updated_at`

// Create inserts the empty escrow record owned by txnID.
func (r *EscrowRecord) Create(ctx context.Context, dbi sqlx.QueryerContext, txnID uuid.UUID) (*model.EscrowRecord, error) {
	const q = `INSERT INTO escrow_records (transaction_id) VALUES ($1)
	RETURNING ` + escrowCols

	result := &model.EscrowRecord{}
	if err := dbi.QueryRowxContext(ctx, q, txnID).StructScan(result); err != nil {
		return nil, err
	}

	return result, nil
}

// GetByTransactionID retrieves the escrow record owned by txnID.
func (r *EscrowRecord) GetByTransactionID(ctx context.Context, dbi sqlx.QueryerContext, txnID uuid.UUID) (*model.EscrowRecord, error) {
	const q = `SELECT ` + escrowCols + ` FROM escrow_records WHERE transaction_id = $1`

	result := &model.EscrowRecord{}
	if err := sqlx.GetContext(ctx, dbi, result, q, txnID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrEscrowRecordNotFound
		}

		return nil, err
	}

	return result, nil
}

// SetProof records the buyer's payment proof submission.
func (r *EscrowRecord) SetProof(ctx context.Context, dbi sqlx.ExecerContext, txnID uuid.UUID, proofURL, reference string, when time.Time) error {
	const q = `UPDATE escrow_records
	SET payment_proof_url = $2, payment_reference = $3, payment_submitted_at = $4, updated_at = CURRENT_TIMESTAMP
	WHERE transaction_id = $1`

	return r.execUpdate(ctx, dbi, q, txnID, proofURL, reference, when)
}

// SetVerified records the admin approval of the payment proof.
func (r *EscrowRecord) SetVerified(ctx context.Context, dbi sqlx.ExecerContext, txnID, adminID uuid.UUID, notes *string, when time.Time) error {
	const q = `UPDATE escrow_records
	SET verified_by = $2, verified_at = $3, verification_notes = $4, updated_at = CURRENT_TIMESTAMP
	WHERE transaction_id = $1`

	return r.execUpdate(ctx, dbi, q, txnID, adminID, when, notes)
}

// ClearProof wipes the rejected proof fields and records the rejection reason
// in the verification notes. The record is reused, not duplicated.
func (r *EscrowRecord) ClearProof(ctx context.Context, dbi sqlx.ExecerContext, txnID uuid.UUID, notes string) error {
	const q = `UPDATE escrow_records
	SET payment_proof_url = NULL, payment_reference = NULL, payment_submitted_at = NULL,
		verification_notes = $2, updated_at = CURRENT_TIMESTAMP
	WHERE transaction_id = $1`

	return r.execUpdate(ctx, dbi, q, txnID, notes)
}

func (r *EscrowRecord) execUpdate(ctx context.Context, dbi sqlx.ExecerContext, q string, args ...interface{}) error {
	result, err := dbi.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}

	numAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if numAffected == 0 {
		return model.ErrEscrowRecordNotFound
	}

	return nil
}
