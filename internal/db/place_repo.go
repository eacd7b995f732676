package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"hubalert/internal/alarm"
	"hubalert/internal/types"
)

// Compile-time assertions for the place-facing surfaces.
var (
	_ alarm.PlaceResolver = (*PlaceRepository)(nil)
	_ alarm.CallTree      = (*PlaceRepository)(nil)
)

// PlaceRepository provides data access for the places and call_tree tables.
type PlaceRepository struct {
	db DBTX
}

// NewPlaceRepository creates a PlaceRepository.
func NewPlaceRepository(db DBTX) *PlaceRepository {
	return &PlaceRepository{db: db}
}

// PlaceFor resolves a place's identity and service tier.
func (r *PlaceRepository) PlaceFor(ctx context.Context, placeID string) (types.PlaceInfo, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, service_tier, population
		 FROM places
		 WHERE id = $1`,
		placeID,
	)

	var (
		place types.PlaceInfo
		tier  string
	)
	if err := row.Scan(&place.ID, &tier, &place.Population); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.PlaceInfo{}, fmt.Errorf("place %s not found", placeID)
		}
		return types.PlaceInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to load place", err)
	}
	place.Tier = types.ServiceTier(tier)
	return place, nil
}

// EntriesFor returns the place's notification call tree in order.
func (r *PlaceRepository) EntriesFor(ctx context.Context, placeID string) ([]alarm.CallTreeEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT person_id, is_owner, enabled
		 FROM call_tree
		 WHERE place_id = $1
		 ORDER BY sort_order`,
		placeID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load call tree", err)
	}
	defer rows.Close()

	var entries []alarm.CallTreeEntry
	for rows.Next() {
		var e alarm.CallTreeEntry
		if err := rows.Scan(&e.PersonID, &e.Owner, &e.Enabled); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan call tree entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read call tree", err)
	}
	return entries, nil
}
