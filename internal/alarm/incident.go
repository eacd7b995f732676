package alarm

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"hubalert/internal/types"
)

// IncidentRepo is the incident storage surface the tracker needs.
type IncidentRepo interface {
	// Current returns the live incident for a place, or nil when none exists.
	Current(ctx context.Context, placeID string) (*types.AlarmIncident, error)
	Save(ctx context.Context, incident *types.AlarmIncident) error
}

// IncidentTracker maintains the at-most-one-live-incident-per-place invariant.
// Triggers arriving while an incident is live are appended to it; a trigger
// with no live incident opens a new one.
type IncidentTracker struct {
	repo   IncidentRepo
	clock  types.Clock
	logger types.Logger
}

// NewIncidentTracker creates an IncidentTracker.
func NewIncidentTracker(repo IncidentRepo, clock types.Clock, logger types.Logger) *IncidentTracker {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &IncidentTracker{
		repo:   repo,
		clock:  clock,
		logger: logger,
	}
}

// Current returns the live incident for the place, or nil.
func (t *IncidentTracker) Current(ctx context.Context, placeID string) (*types.AlarmIncident, error) {
	return t.repo.Current(ctx, placeID)
}

// Record folds triggers into the place's live incident, opening one if needed.
// It returns the incident and whether it was newly opened.
func (t *IncidentTracker) Record(ctx context.Context, placeID string, triggers []types.Trigger) (*types.AlarmIncident, bool, error) {
	if len(triggers) == 0 {
		return nil, false, fmt.Errorf("incident tracker: no triggers to record")
	}

	incident, err := t.repo.Current(ctx, placeID)
	if err != nil {
		return nil, false, fmt.Errorf("incident tracker: load current: %w", err)
	}

	opened := false
	if incident == nil {
		id := uuid.New().String()
		incident = &types.AlarmIncident{
			ID:        id,
			Address:   types.IncidentAddress(id),
			PlaceID:   placeID,
			Alert:     triggers[0].Alarm,
			StartTime: t.clock.Now(),
		}
		opened = true
	}

	for _, trig := range triggers {
		incident.Triggers = append(incident.Triggers, trig)
		if trig.Alarm != incident.Alert && !containsAlert(incident.AdditionalAlerts, trig.Alarm) {
			incident.AdditionalAlerts = append(incident.AdditionalAlerts, trig.Alarm)
		}
	}

	if err := t.repo.Save(ctx, incident); err != nil {
		return nil, false, fmt.Errorf("incident tracker: save: %w", err)
	}

	if opened {
		t.logger.Info("incident opened",
			"incident_id", incident.ID,
			"place_id", placeID,
			"alert", string(incident.Alert),
		)
	}
	return incident, opened, nil
}

// Close ends the place's live incident. Closing with no live incident is a
// no-op returning nil.
func (t *IncidentTracker) Close(ctx context.Context, placeID string) (*types.AlarmIncident, error) {
	incident, err := t.repo.Current(ctx, placeID)
	if err != nil {
		return nil, fmt.Errorf("incident tracker: load current: %w", err)
	}
	if incident == nil {
		return nil, nil
	}

	now := t.clock.Now()
	incident.EndTime = &now
	if err := t.repo.Save(ctx, incident); err != nil {
		return nil, fmt.Errorf("incident tracker: close: %w", err)
	}

	t.logger.Info("incident closed",
		"incident_id", incident.ID,
		"place_id", placeID,
	)
	return incident, nil
}

func containsAlert(alerts []types.AlertType, t types.AlertType) bool {
	for _, a := range alerts {
		if a == t {
			return true
		}
	}
	return false
}
