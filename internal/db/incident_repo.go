package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"hubalert/internal/alarm"
	"hubalert/internal/types"
)

// Compile-time assertion that IncidentRepository implements alarm.IncidentRepo.
var _ alarm.IncidentRepo = (*IncidentRepository)(nil)

// IncidentRepository provides data access for the alarm_incidents table.
// Triggers and additional alerts are stored as JSONB; the live incident for a
// place is the single row with a NULL end_time.
type IncidentRepository struct {
	db DBTX
}

// NewIncidentRepository creates an IncidentRepository backed by the given
// database connection (pool or transaction).
func NewIncidentRepository(db DBTX) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// Current returns the live incident for a place, or nil when none exists.
func (r *IncidentRepository) Current(ctx context.Context, placeID string) (*types.AlarmIncident, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, place_id, alert, additional_alerts, triggers, start_time, end_time
		 FROM alarm_incidents
		 WHERE place_id = $1 AND end_time IS NULL
		 ORDER BY start_time DESC
		 LIMIT 1`,
		placeID,
	)

	incident, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load current incident", err)
	}
	return incident, nil
}

// Save upserts the incident.
func (r *IncidentRepository) Save(ctx context.Context, incident *types.AlarmIncident) error {
	additional, err := json.Marshal(incident.AdditionalAlerts)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode additional alerts", err)
	}
	triggers, err := json.Marshal(incident.Triggers)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode triggers", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO alarm_incidents
		 (id, place_id, alert, additional_alerts, triggers, start_time, end_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   additional_alerts = EXCLUDED.additional_alerts,
		   triggers = EXCLUDED.triggers,
		   end_time = EXCLUDED.end_time`,
		incident.ID,
		incident.PlaceID,
		string(incident.Alert),
		additional,
		triggers,
		incident.StartTime,
		incident.EndTime,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save incident", err)
	}
	return nil
}

func scanIncident(row pgx.Row) (*types.AlarmIncident, error) {
	var (
		incident   types.AlarmIncident
		alert      string
		additional []byte
		triggers   []byte
		endTime    *time.Time
	)
	if err := row.Scan(&incident.ID, &incident.PlaceID, &alert, &additional, &triggers, &incident.StartTime, &endTime); err != nil {
		return nil, err
	}

	incident.Alert = types.AlertType(alert)
	incident.Address = types.IncidentAddress(incident.ID)
	incident.EndTime = endTime
	if len(additional) > 0 {
		if err := json.Unmarshal(additional, &incident.AdditionalAlerts); err != nil {
			return nil, err
		}
	}
	if len(triggers) > 0 {
		if err := json.Unmarshal(triggers, &incident.Triggers); err != nil {
			return nil, err
		}
	}
	return &incident, nil
}
