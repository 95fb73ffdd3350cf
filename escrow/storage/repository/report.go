package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	uuid "github.com/satori/go.uuid"

	"github.com/optcgph/marketplace/escrow/model"
)

// Report opens report rows for admin review. Dispute transitions create one
// automatically against the counterparty.
type Report struct{}

func NewReport() *Report { return &Report{} }

// Create inserts the report and returns its id.
func (r *Report) Create(ctx context.Context, dbi sqlx.QueryerContext, req model.ReportNew) (uuid.UUID, error) {
	const q = `INSERT INTO reports (reporter_id, reported_user_id, reported_transaction_id, reason, description, status)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id`

	var id uuid.UUID
	if err := sqlx.GetContext(ctx, dbi, &id, q, req.ReporterID, req.ReportedUserID, req.ReportedTransactionID, req.Reason, req.Description, req.Status); err != nil {
		return uuid.Nil, err
	}

	return id, nil
}
