package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	uuid "github.com/satori/go.uuid"

	"github.com/optcgph/marketplace/escrow/model"
)

// Listing is the escrow service's gate into the listing catalog. It only
// reads listings and flips them between active and reserved, always inside
// the same database transaction as the ledger change.
type Listing struct{}

func NewListing() *Listing { return &Listing{} }

const listingCols = `id, seller_id, card_name, price, shipping_fee,
	shipping_options, allows_meetup, status, created_at, updated_at`

// Get retrieves the listing for the given id.
func (r *Listing) Get(ctx context.Context, dbi sqlx.QueryerContext, id uuid.UUID) (*model.Listing, error) {
	const q = `SELECT ` + listingCols + ` FROM listings WHERE id = $1`

	result := &model.Listing{}
	if err := sqlx.GetContext(ctx, dbi, result, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrListingNotFound
		}

		return nil, err
	}

	return result, nil
}

// Reserve marks the listing reserved only if it is still active. A zero-row
// update means another purchase won the listing or it left the catalog.
func (r *Listing) Reserve(ctx context.Context, dbi sqlx.ExecerContext, id uuid.UUID) error {
	const q = `UPDATE listings
	SET status = $2, updated_at = CURRENT_TIMESTAMP
	WHERE id = $1 AND status = $3`

	result, err := dbi.ExecContext(ctx, q, id, model.ListingStatusReserved, model.ListingStatusActive)
	if err != nil {
		return err
	}

	numAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if numAffected == 0 {
		return model.ErrListingUnavailable
	}

	return nil
}

// Release returns a reserved listing to the active pool. Releasing a listing
// that is no longer reserved is a no-op, an admin may have removed it.
func (r *Listing) Release(ctx context.Context, dbi sqlx.ExecerContext, id uuid.UUID) error {
	const q = `UPDATE listings
	SET status = $2, updated_at = CURRENT_TIMESTAMP
	WHERE id = $1 AND status = $3`

	_, err := dbi.ExecContext(ctx, q, id, model.ListingStatusActive, model.ListingStatusReserved)
	return err
}

// MarkSold consumes the reservation when the transaction completes. The
// listing never returns to the active pool.
func (r *Listing) MarkSold(ctx context.Context, dbi sqlx.ExecerContext, id uuid.UUID) error {
	const q = `UPDATE listings
	SET status = $2, updated_at = CURRENT_TIMESTAMP
	WHERE id = $1 AND status = $3`

	_, err := dbi.ExecContext(ctx, q, id, model.ListingStatusSold, model.ListingStatusReserved)
	return err
}
