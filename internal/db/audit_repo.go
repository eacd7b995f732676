package db

import (
	"context"

	"hubalert/internal/notifications/core"
	"hubalert/internal/types"
)

// Compile-time assertion that AuditRepository implements core.AuditLog.
var _ core.AuditLog = (*AuditRepository)(nil)

// AuditRepository appends delivery attempt outcomes to the notification_audit
// table. The table is append-only; no record is ever updated.
type AuditRepository struct {
	db    DBTX
	clock types.Clock
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db DBTX, clock types.Clock) *AuditRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &AuditRepository{db: db, clock: clock}
}

// Log appends one attempt record.
func (r *AuditRepository) Log(ctx context.Context, n types.Notification, state types.AuditEventState, cause string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO notification_audit
		 (notification_id, place_id, person_id, method, delivery_endpoint,
		  state, cause, attempt, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID,
		nilIfEmpty(n.PlaceID),
		n.PersonID,
		string(n.Method),
		nilIfEmpty(n.DeliveryEndpoint),
		string(state),
		nilIfEmpty(cause),
		n.AttemptCount,
		r.clock.Now(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append audit record", err)
	}
	return nil
}

// nilIfEmpty maps empty strings to NULL.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
