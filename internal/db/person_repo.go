package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"hubalert/internal/notifications/email"
	"hubalert/internal/notifications/ivr"
	"hubalert/internal/types"
)

// Compile-time assertions for the person contact surfaces.
var (
	_ email.AddressSource = (*PersonRepository)(nil)
	_ ivr.PhoneSource     = (*PersonRepository)(nil)
)

// PersonRepository provides data access for the persons table: the contact
// points the delivery providers resolve at send time.
type PersonRepository struct {
	db DBTX
}

// NewPersonRepository creates a PersonRepository.
func NewPersonRepository(db DBTX) *PersonRepository {
	return &PersonRepository{db: db}
}

// EmailFor returns the person's email address. A person without one returns
// an empty string, which the email provider treats as unsupported-by-user.
func (r *PersonRepository) EmailFor(ctx context.Context, personID string) (string, error) {
	var addr *string
	err := r.db.QueryRow(ctx,
		`SELECT email FROM persons WHERE id = $1`,
		personID,
	).Scan(&addr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("person %s not found", personID)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to load person email", err)
	}
	if addr == nil {
		return "", nil
	}
	return *addr, nil
}

// PhoneFor returns the person's phone number, empty when none is on file.
func (r *PersonRepository) PhoneFor(ctx context.Context, personID string) (string, error) {
	var phone *string
	err := r.db.QueryRow(ctx,
		`SELECT phone FROM persons WHERE id = $1`,
		personID,
	).Scan(&phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("person %s not found", personID)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to load person phone", err)
	}
	if phone == nil {
		return "", nil
	}
	return *phone, nil
}
