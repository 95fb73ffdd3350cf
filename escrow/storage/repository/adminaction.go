package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	uuid "github.com/satori/go.uuid"

	"github.com/optcgph/marketplace/escrow/model"
)

// AdminAction is the append-only audit log of admin decisions.
type AdminAction struct{}

func NewAdminAction() *AdminAction { return &AdminAction{} }

// Create appends the audit row.
func (r *AdminAction) Create(ctx context.Context, dbi sqlx.ExecerContext, req model.AdminActionNew) error {
	const q = `INSERT INTO admin_actions (admin_id, action, target_type, target_id, details)
	VALUES ($1, $2, $3, $4, $5)`

	_, err := dbi.ExecContext(ctx, q, req.AdminID, req.Action, req.TargetType, req.TargetID, req.Details)
	return err
}

// ListAdminIDs returns the ids of all admin accounts, used for verification
// fan-out notifications.
func (r *AdminAction) ListAdminIDs(ctx context.Context, dbi sqlx.QueryerContext) ([]uuid.UUID, error) {
	const q = `SELECT id FROM profiles WHERE role = 'admin'`

	result := []uuid.UUID{}
	if err := sqlx.SelectContext(ctx, dbi, &result, q); err != nil {
		return nil, err
	}

	return result, nil
}
