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

type Shipment struct{}

func NewShipment() *Shipment { return &Shipment{} }

const shipmentCols = `id, transaction_id, shipping_method, tracking_number,
	courier_receipt_url, shipped_at, created_at`

// Create inserts the shipment details owned by txnID. The details are created
// exactly once, a second insert fails on the transaction_id unique constraint.
func (r *Shipment) Create(ctx context.Context, dbi sqlx.QueryerContext, txnID uuid.UUID, req model.ShipmentNew, shippedAt time.Time) (*model.ShipmentDetails, error) {
	const q = `INSERT INTO shipment_details (transaction_id, shipping_method, tracking_number, courier_receipt_url, shipped_at)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING ` + shipmentCols

	result := &model.ShipmentDetails{}
	if err := dbi.QueryRowxContext(ctx, q, txnID, req.ShippingMethod, req.TrackingNumber, req.CourierReceiptURL, shippedAt).StructScan(result); err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrInvalidState
		}

		return nil, err
	}

	return result, nil
}

// GetByTransactionID retrieves the shipment details owned by txnID.
func (r *Shipment) GetByTransactionID(ctx context.Context, dbi sqlx.QueryerContext, txnID uuid.UUID) (*model.ShipmentDetails, error) {
	const q = `SELECT ` + shipmentCols + ` FROM shipment_details WHERE transaction_id = $1`

	result := &model.ShipmentDetails{}
	if err := sqlx.GetContext(ctx, dbi, result, q, txnID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrShipmentNotFound
		}

		return nil, err
	}

	return result, nil
}
