package alarm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"hubalert/internal/types"
)

// Message key templates for alarm notifications. The rendered keys select
// templates downstream in the notification workers.
const (
	keyTemplateTrigger     = "alarm.triggered.%s"
	keyTemplateTriggerRule = "alarm.triggered.rule.%s"
	keyTemplateCancel      = "alarm.cancelled.%s"
)

// NotificationStrategy turns alarm lifecycle events for one place into
// notifications. Execute, Cancel, and Acknowledge are the only operations the
// coordinator calls.
type NotificationStrategy interface {
	// Execute notifies for new triggers on an incident. Triggers for an
	// alert type already notified on this incident produce no duplicate
	// notification.
	Execute(ctx context.Context, incidentAddr types.Address, placeID string, triggers []types.Trigger) error

	// Cancel ends notification activity for the incident and sends the
	// cancellation notice. The caller has already established the incident
	// is live; Cancel must work even when this instance holds no state for
	// it, such as after a cold start. It returns false only when another
	// cancellation of the same incident is already in flight on this
	// instance.
	Cancel(ctx context.Context, incidentAddr types.Address, placeID string, cancelledBy string, alarms []types.AlertType) bool

	// Acknowledge records that a person confirmed receipt of the incident's
	// alert (IVR keypress).
	Acknowledge(ctx context.Context, incidentAddr types.Address, alert types.AlertType)
}

// CallTreeEntry is one person in a place's notification call tree.
type CallTreeEntry struct {
	PersonID string
	Owner    bool
	Enabled  bool
}

// CallTree resolves the notification call tree for a place.
type CallTree interface {
	EntriesFor(ctx context.Context, placeID string) ([]CallTreeEntry, error)
}

// NotificationSender hands a notification to the dispatch pipeline.
type NotificationSender interface {
	Send(ctx context.Context, n types.Notification) error
}

// StrategyConfig tunes one strategy instance.
type StrategyConfig struct {
	// NotifyFullTree sends alert notifications to every enabled call tree
	// entry. When false, only the owner is notified.
	NotifyFullTree bool

	// TriggerPriority is the priority for alert notifications.
	TriggerPriority types.NotificationPriority
}

// Compile-time assertion that Strategy implements NotificationStrategy.
var _ NotificationStrategy = (*Strategy)(nil)

// Strategy is the standard notification strategy. It tracks which alert types
// have already been notified per incident so repeated triggers of the same
// type stay silent. The in-memory maps are a dedupe cache, not the record of
// which incidents are live; that record is the incident store, and Cancel
// works for incidents this instance has never seen. Multiple concurrent bus
// events for the same place may race through it, so the incident bookkeeping
// is locked. Every map entry for an incident is removed when it is cancelled.
type Strategy struct {
	cfg      StrategyConfig
	callTree CallTree
	sender   NotificationSender
	clock    types.Clock
	logger   types.Logger

	mu              sync.Mutex
	activeIncidents map[types.Address]map[types.AlertType]struct{}
	cancelPending   map[types.Address]struct{}
	acknowledged    map[types.Address]map[types.AlertType]struct{}
}

// NewStrategy creates a Strategy.
func NewStrategy(cfg StrategyConfig, callTree CallTree, sender NotificationSender, clock types.Clock, logger types.Logger) *Strategy {
	if cfg.TriggerPriority == "" {
		cfg.TriggerPriority = types.PriorityHigh
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Strategy{
		cfg:             cfg,
		callTree:        callTree,
		sender:          sender,
		clock:           clock,
		logger:          logger,
		activeIncidents: make(map[types.Address]map[types.AlertType]struct{}),
		cancelPending:   make(map[types.Address]struct{}),
		acknowledged:    make(map[types.Address]map[types.AlertType]struct{}),
	}
}

// Execute sends alert notifications for triggers whose alert type has not yet
// been notified on this incident.
func (s *Strategy) Execute(ctx context.Context, incidentAddr types.Address, placeID string, triggers []types.Trigger) error {
	fresh := s.markUnseen(incidentAddr, triggers)
	if len(fresh) == 0 {
		return nil
	}

	entries, err := s.callTree.EntriesFor(ctx, placeID)
	if err != nil {
		return fmt.Errorf("strategy execute: call tree for place %s: %w", placeID, err)
	}

	var firstErr error
	for _, trig := range fresh {
		msgKey := messageKeyForTrigger(trig)
		params := triggerParams(trig)
		for _, entry := range recipients(entries, s.cfg.NotifyFullTree) {
			n := types.Notification{
				ID:            uuid.New().String(),
				PlaceID:       placeID,
				PersonID:      entry.PersonID,
				Priority:      s.cfg.TriggerPriority,
				MessageKey:    msgKey,
				MessageParams: params,
				CreatedAt:     s.clock.Now(),
			}
			if err := s.sender.Send(ctx, n); err != nil {
				s.logger.Error("failed to send alert notification",
					"incident", string(incidentAddr),
					"person_id", entry.PersonID,
					"alert", string(trig.Alarm),
					"error", err.Error(),
				)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// Cancel clears the incident's notification state and sends the cancellation
// notice: MEDIUM priority to the call tree, LOW to the owner. It does not
// require prior in-memory state for the incident, so a cancellation arriving
// after a restart still notifies. Concurrent cancels of the same incident are
// collapsed: only the first sends the notice. The pending marker is removed
// once the notice is out, so no per-incident state survives cancellation.
func (s *Strategy) Cancel(ctx context.Context, incidentAddr types.Address, placeID string, cancelledBy string, alarms []types.AlertType) bool {
	s.mu.Lock()
	if _, inFlight := s.cancelPending[incidentAddr]; inFlight {
		s.mu.Unlock()
		return false
	}
	s.cancelPending[incidentAddr] = struct{}{}
	delete(s.activeIncidents, incidentAddr)
	delete(s.acknowledged, incidentAddr)
	s.mu.Unlock()

	s.sendCancelNotice(ctx, placeID, cancelledBy, alarms)

	s.mu.Lock()
	delete(s.cancelPending, incidentAddr)
	s.mu.Unlock()
	return true
}

// Acknowledge records the confirmation for the incident's alert type.
func (s *Strategy) Acknowledge(_ context.Context, incidentAddr types.Address, alert types.AlertType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acks, ok := s.acknowledged[incidentAddr]
	if !ok {
		acks = make(map[types.AlertType]struct{})
		s.acknowledged[incidentAddr] = acks
	}
	acks[alert] = struct{}{}
	s.logger.Info("alert acknowledged",
		"incident", string(incidentAddr),
		"alert", string(alert),
	)
}

// Acknowledged reports whether the incident's alert type has been confirmed.
func (s *Strategy) Acknowledged(incidentAddr types.Address, alert types.AlertType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	acks, ok := s.acknowledged[incidentAddr]
	if !ok {
		return false
	}
	_, acked := acks[alert]
	return acked
}

// markUnseen records the triggers' alert types against the incident and
// returns only the triggers whose type had not been seen before.
func (s *Strategy) markUnseen(incidentAddr types.Address, triggers []types.Trigger) []types.Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen, ok := s.activeIncidents[incidentAddr]
	if !ok {
		seen = make(map[types.AlertType]struct{})
		s.activeIncidents[incidentAddr] = seen
	}

	var fresh []types.Trigger
	for _, trig := range triggers {
		if _, dup := seen[trig.Alarm]; dup {
			continue
		}
		seen[trig.Alarm] = struct{}{}
		fresh = append(fresh, trig)
	}
	return fresh
}

func (s *Strategy) sendCancelNotice(ctx context.Context, placeID string, cancelledBy string, alarms []types.AlertType) {
	if len(alarms) == 0 {
		return
	}
	entries, err := s.callTree.EntriesFor(ctx, placeID)
	if err != nil {
		s.logger.Error("failed to load call tree for cancel notice",
			"place_id", placeID,
			"error", err.Error(),
		)
		return
	}

	msgKey := fmt.Sprintf(keyTemplateCancel, strings.ToLower(string(alarms[0])))
	params := map[string]string{"cancelledBy": cancelledBy}

	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		priority := types.PriorityMedium
		if entry.Owner {
			priority = types.PriorityLow
		}
		n := types.Notification{
			ID:            uuid.New().String(),
			PlaceID:       placeID,
			PersonID:      entry.PersonID,
			Priority:      priority,
			MessageKey:    msgKey,
			MessageParams: params,
			CreatedAt:     s.clock.Now(),
		}
		if err := s.sender.Send(ctx, n); err != nil {
			s.logger.Error("failed to send cancel notice",
				"place_id", placeID,
				"person_id", entry.PersonID,
				"error", err.Error(),
			)
		}
	}
}

// recipients filters the call tree per the strategy's reach: the full enabled
// tree, or just the owner.
func recipients(entries []CallTreeEntry, fullTree bool) []CallTreeEntry {
	var out []CallTreeEntry
	for _, e := range entries {
		if !e.Enabled {
			continue
		}
		if !fullTree && !e.Owner {
			continue
		}
		out = append(out, e)
	}
	return out
}

func messageKeyForTrigger(t types.Trigger) string {
	key := keyTemplateTrigger
	if t.Event == types.TriggerRule {
		key = keyTemplateTriggerRule
	}
	return fmt.Sprintf(key, strings.ToLower(string(t.Alarm)))
}

// triggerParams flattens trigger attributes into notification message params.
func triggerParams(t types.Trigger) map[string]string {
	params := map[string]string{
		"source": string(t.Source),
	}
	for k, v := range t.Attributes {
		if sv, ok := v.(string); ok {
			params[k] = sv
		}
	}
	return params
}
