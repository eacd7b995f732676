// Package alarm implements the per-place alerting core: one state machine per
// alarm category, incident tracking, and the notification strategies that turn
// an alerting alarm into notifications.
package alarm

import (
	"fmt"

	"hubalert/internal/types"
)

// Alarm is the state machine for one alert category at one place.
//
// States move INACTIVE → READY → ALERT → CLEARING → READY|INACTIVE. READY and
// INACTIVE are purely a function of participant emptiness; ALERT is entered
// only by a trigger and left only by an explicit cancel. An alarm is expected
// to be driven by its place's single-threaded event lane, so it carries no
// internal locking.
type Alarm struct {
	alertType types.AlertType
	state     types.AlertState

	participants map[types.Address]struct{}
	active       map[types.Address]struct{}
	offline      map[types.Address]struct{}
	triggered    map[types.Address]struct{}

	triggers []types.Trigger

	logger types.Logger
	clock  types.Clock
}

// NewAlarm creates an alarm for one category, initially INACTIVE with no
// participants.
func NewAlarm(alertType types.AlertType, logger types.Logger, clock types.Clock) *Alarm {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Alarm{
		alertType:    alertType,
		state:        types.AlertStateInactive,
		participants: make(map[types.Address]struct{}),
		active:       make(map[types.Address]struct{}),
		offline:      make(map[types.Address]struct{}),
		triggered:    make(map[types.Address]struct{}),
		logger:       logger,
		clock:        clock,
	}
}

// Type returns the alarm's category.
func (a *Alarm) Type() types.AlertType { return a.alertType }

// State returns the current lifecycle state.
func (a *Alarm) State() types.AlertState { return a.state }

// Participants returns the number of currently bound participants.
func (a *Alarm) Participants() int { return len(a.participants) }

// TriggeredParticipants returns the addresses currently held as triggered.
func (a *Alarm) TriggeredParticipants() []types.Address {
	out := make([]types.Address, 0, len(a.triggered))
	for addr := range a.triggered {
		out = append(out, addr)
	}
	return out
}

// Triggers returns the appended trigger evidence for the current alert.
func (a *Alarm) Triggers() []types.Trigger {
	out := make([]types.Trigger, len(a.triggers))
	copy(out, a.triggers)
	return out
}

// Bind initializes the alarm from the place's current model set. Models tagged
// for this category become participants; state lands on READY or INACTIVE per
// the emptiness rule.
func (a *Alarm) Bind(models []types.Model) {
	for _, m := range models {
		if !m.TaggedFor(a.alertType) {
			continue
		}
		a.addParticipant(m)
	}
	a.syncIdleState()
	a.logger.Info("alarm bound",
		"alert", string(a.alertType),
		"state", string(a.state),
		"participants", len(a.participants),
	)
}

// OnParticipantAdded registers a model as a participant. The only state effect
// is INACTIVE → READY; an alarm never alerts because a participant appeared.
func (a *Alarm) OnParticipantAdded(m types.Model) {
	if !m.TaggedFor(a.alertType) {
		return
	}
	a.addParticipant(m)
	a.syncIdleState()
}

// OnParticipantRemoved drops a participant. READY collapses to INACTIVE when
// the last participant leaves; ALERT and CLEARING are preserved even with zero
// participants, because an in-progress incident is not dropped by unpairing a
// device. Cancel is the only path out of ALERT.
func (a *Alarm) OnParticipantRemoved(addr types.Address) {
	delete(a.participants, addr)
	delete(a.active, addr)
	delete(a.offline, addr)
	delete(a.triggered, addr)
	a.syncIdleState()
}

// OnParticipantOffline marks a participant offline without removing it.
func (a *Alarm) OnParticipantOffline(addr types.Address) {
	if _, ok := a.participants[addr]; !ok {
		return
	}
	a.offline[addr] = struct{}{}
	delete(a.active, addr)
}

// OnParticipantOnline returns an offline participant to the active set.
func (a *Alarm) OnParticipantOnline(addr types.Address) {
	if _, ok := a.participants[addr]; !ok {
		return
	}
	delete(a.offline, addr)
	if _, stillTriggered := a.triggered[addr]; !stillTriggered {
		a.active[addr] = struct{}{}
	}
}

// OnTriggered records trigger evidence. From READY the alarm enters ALERT and
// the call reports a new alert; while already in ALERT the call is idempotent,
// appending to the trigger evidence and triggered participants without
// re-entering the state. A trigger on an INACTIVE alarm is ignored: nothing is
// eligible to alert.
func (a *Alarm) OnTriggered(source types.Address, event types.TriggerEvent) (newAlert bool) {
	if a.state == types.AlertStateInactive {
		a.logger.Warn("trigger ignored on inactive alarm",
			"alert", string(a.alertType),
			"source", string(source),
		)
		return false
	}

	a.triggered[source] = struct{}{}
	delete(a.active, source)
	a.triggers = append(a.triggers, types.Trigger{
		Source: source,
		Alarm:  a.alertType,
		Event:  event,
		Time:   a.clock.Now(),
	})

	if a.state == types.AlertStateAlert {
		return false
	}
	if a.state == types.AlertStateClearing {
		// New evidence while clearing re-raises the alert.
		a.state = types.AlertStateAlert
		return false
	}

	a.state = types.AlertStateAlert
	a.logger.Info("alarm alerting",
		"alert", string(a.alertType),
		"source", string(source),
		"event", string(event),
	)
	return true
}

// OnSensorCleared removes a participant from the triggered set. When the last
// triggered participant clears during CLEARING, the alarm settles back to
// READY or INACTIVE.
func (a *Alarm) OnSensorCleared(addr types.Address) {
	delete(a.triggered, addr)
	if _, ok := a.participants[addr]; ok {
		if _, off := a.offline[addr]; !off {
			a.active[addr] = struct{}{}
		}
	}
	if a.state == types.AlertStateClearing && len(a.triggered) == 0 {
		a.settle()
	}
}

// Cancel ends the alert. Participants still physically triggered hold the
// alarm in CLEARING until their sensors clear; otherwise the alarm settles
// immediately. Cancelling an alarm that is not alerting is an error with no
// state effect.
func (a *Alarm) Cancel() error {
	if a.state != types.AlertStateAlert && a.state != types.AlertStateClearing {
		return fmt.Errorf("alarm %s is not alerting (state %s)", a.alertType, a.state)
	}

	a.triggers = nil
	if len(a.triggered) > 0 {
		a.state = types.AlertStateClearing
		a.logger.Info("alarm clearing, waiting on triggered sensors",
			"alert", string(a.alertType),
			"triggered", len(a.triggered),
		)
		return nil
	}

	a.settle()
	return nil
}

func (a *Alarm) addParticipant(m types.Model) {
	a.participants[m.Address] = struct{}{}
	if !m.Online {
		a.offline[m.Address] = struct{}{}
		return
	}
	if m.Triggered {
		a.triggered[m.Address] = struct{}{}
		return
	}
	a.active[m.Address] = struct{}{}
}

// syncIdleState applies the emptiness rule while the alarm is idle. ALERT and
// CLEARING are never changed here.
func (a *Alarm) syncIdleState() {
	switch a.state {
	case types.AlertStateInactive:
		if len(a.participants) > 0 {
			a.state = types.AlertStateReady
		}
	case types.AlertStateReady:
		if len(a.participants) == 0 {
			a.state = types.AlertStateInactive
		}
	}
}

// settle drops out of an alerting state to READY or INACTIVE.
func (a *Alarm) settle() {
	if len(a.participants) > 0 {
		a.state = types.AlertStateReady
	} else {
		a.state = types.AlertStateInactive
	}
	a.logger.Info("alarm settled",
		"alert", string(a.alertType),
		"state", string(a.state),
	)
}
