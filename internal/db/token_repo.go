package db

import (
	"context"

	"hubalert/internal/notifications/core"
	"hubalert/internal/notifications/push"
	"hubalert/internal/types"
)

// Compile-time assertions for the two token store surfaces.
var (
	_ core.TokenSource  = (*TokenRepository)(nil)
	_ push.TokenRemover = (*TokenRepository)(nil)
)

// TokenRepository provides data access for the push_tokens table: the device
// tokens a person has registered per push sub-method.
type TokenRepository struct {
	db DBTX
}

// NewTokenRepository creates a TokenRepository.
func NewTokenRepository(db DBTX) *TokenRepository {
	return &TokenRepository{db: db}
}

// TokensFor returns the person's registered token per sub-method. A person
// with multiple devices on one sub-method gets the most recently registered
// token.
func (r *TokenRepository) TokensFor(ctx context.Context, personID string) (map[types.NotificationMethod]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (method) method, token
		 FROM push_tokens
		 WHERE person_id = $1
		 ORDER BY method, registered_at DESC`,
		personID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load push tokens", err)
	}
	defer rows.Close()

	tokens := make(map[types.NotificationMethod]string)
	for rows.Next() {
		var method, token string
		if err := rows.Scan(&method, &token); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan push token", err)
		}
		tokens[types.NotificationMethod(method)] = token
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read push tokens", err)
	}
	return tokens, nil
}

// RemoveToken deletes one registered token. Removing a token that is already
// gone is not an error.
func (r *TokenRepository) RemoveToken(ctx context.Context, method types.NotificationMethod, token string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM push_tokens WHERE method = $1 AND token = $2`,
		string(method),
		token,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to remove push token", err)
	}
	return nil
}
