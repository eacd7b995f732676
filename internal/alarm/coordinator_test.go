package alarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"hubalert/internal/types"
)

// memIncidentRepo stores incidents in memory, one live incident per place.
type memIncidentRepo struct {
	mu        sync.Mutex
	incidents map[string]*types.AlarmIncident
	saves     int
	err       error
}

func newMemIncidentRepo() *memIncidentRepo {
	return &memIncidentRepo{incidents: make(map[string]*types.AlarmIncident)}
}

func (r *memIncidentRepo) Current(_ context.Context, placeID string) (*types.AlarmIncident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	inc, ok := r.incidents[placeID]
	if !ok || !inc.Live() {
		return nil, nil
	}
	copied := *inc
	return &copied, nil
}

func (r *memIncidentRepo) Save(_ context.Context, incident *types.AlarmIncident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saves++
	copied := *incident
	r.incidents[incident.PlaceID] = &copied
	return nil
}

// fakePlaces resolves every place to a fixed tier.
type fakePlaces struct {
	tier types.ServiceTier
	err  error
}

func (f *fakePlaces) PlaceFor(_ context.Context, placeID string) (types.PlaceInfo, error) {
	if f.err != nil {
		return types.PlaceInfo{}, f.err
	}
	return types.PlaceInfo{ID: placeID, Tier: f.tier}, nil
}

// spyDevices records device commands.
type spyDevices struct {
	commands []deviceCommand
	err      error
}

type deviceCommand struct {
	protocol string
	message  map[string]any
	ttl      time.Duration
}

func (d *spyDevices) SendToDevice(_ context.Context, protocol string, message map[string]any, ttl time.Duration) error {
	d.commands = append(d.commands, deviceCommand{protocol: protocol, message: message, ttl: ttl})
	return d.err
}

type coordinatorFixture struct {
	coordinator *Coordinator
	sender      *spySender
	incidents   *memIncidentRepo
	devices     *spyDevices
	registry    *StrategyRegistry
	places      *fakePlaces
}

func newFixture() *coordinatorFixture {
	sender := &spySender{}
	incidents := newMemIncidentRepo()
	devices := &spyDevices{}
	places := &fakePlaces{tier: types.TierPremium}
	clock := testClock()
	logger := &mockLogger{}

	registry := NewStrategyRegistry(nil, standardTree(), sender, clock, logger)
	tracker := NewIncidentTracker(incidents, clock, logger)
	coordinator := NewCoordinator(registry, tracker, places, devices, clock, logger)

	return &coordinatorFixture{
		coordinator: coordinator,
		sender:      sender,
		incidents:   incidents,
		devices:     devices,
		registry:    registry,
		places:      places,
	}
}

// arm binds one smoke detector at the place so the alarm is READY.
func (f *coordinatorFixture) arm(placeID string) types.Model {
	d := smokeDetector("d1")
	f.coordinator.OnModelAdded(placeID, d)
	return d
}

func addAlarmRequest() types.AddAlarmRequest {
	return types.AddAlarmRequest{
		Alarm:  string(types.AlertSmoke),
		Alarms: []string{string(types.AlertSmoke)},
		Triggers: []map[string]any{
			{"source": string(types.DeviceAddress("d1")), "alarm": string(types.AlertSmoke), "event": "DEVICE"},
		},
	}
}

func assertAppErrorCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != code {
		t.Fatalf("expected error code %s, got %s", code, appErr.Code)
	}
}

func TestCoordinator_AddAlarm_HappyPath(t *testing.T) {
	f := newFixture()
	f.arm("place-1")

	if err := f.coordinator.AddAlarm(context.Background(), "place-1", addAlarmRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := f.coordinator.AlarmState("place-1", types.AlertSmoke); got != types.AlertStateAlert {
		t.Errorf("expected ALERT, got %s", got)
	}

	inc, err := f.incidents.Current(context.Background(), "place-1")
	if err != nil || inc == nil {
		t.Fatalf("expected a live incident, got %v, %v", inc, err)
	}
	if len(inc.Triggers) != 1 {
		t.Errorf("expected 1 trigger on incident, got %d", len(inc.Triggers))
	}

	// Premium tier notifies the full enabled call tree.
	if got := len(f.sender.all()); got != 2 {
		t.Errorf("expected 2 alert notifications, got %d", got)
	}
}

func TestCoordinator_AddAlarm_ValidationStopsEverything(t *testing.T) {
	cases := []struct {
		name string
		edit func(*types.AddAlarmRequest)
	}{
		{"missing alarm", func(r *types.AddAlarmRequest) { r.Alarm = "" }},
		{"unknown alarm", func(r *types.AddAlarmRequest) { r.Alarm = "MOLD" }},
		{"unknown token in alarms", func(r *types.AddAlarmRequest) { r.Alarms = []string{"MOLD"} }},
		{"empty alarms", func(r *types.AddAlarmRequest) { r.Alarms = nil }},
		{"empty triggers", func(r *types.AddAlarmRequest) { r.Triggers = nil }},
		{"trigger missing source", func(r *types.AddAlarmRequest) {
			r.Triggers = []map[string]any{{"alarm": "SMOKE"}}
		}},
		{"trigger unknown alarm", func(r *types.AddAlarmRequest) {
			r.Triggers = []map[string]any{{"source": "DRIV:dev:d1", "alarm": "MOLD"}}
		}},
		{"trigger unknown event", func(r *types.AddAlarmRequest) {
			r.Triggers = []map[string]any{{"source": "DRIV:dev:d1", "alarm": "SMOKE", "event": "GUESS"}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.arm("place-1")

			req := addAlarmRequest()
			tc.edit(&req)

			err := f.coordinator.AddAlarm(context.Background(), "place-1", req)
			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected validation AppError, got %v", err)
			}

			// A rejected request leaves no trace: no state change, no
			// incident, no notifications.
			if got := f.coordinator.AlarmState("place-1", types.AlertSmoke); got != types.AlertStateReady {
				t.Errorf("expected READY untouched, got %s", got)
			}
			if f.incidents.saves != 0 {
				t.Errorf("expected no incident writes, got %d", f.incidents.saves)
			}
			if got := len(f.sender.all()); got != 0 {
				t.Errorf("expected no notifications, got %d", got)
			}
		})
	}
}

func TestCoordinator_AddAlarm_MissingPlace(t *testing.T) {
	f := newFixture()
	err := f.coordinator.AddAlarm(context.Background(), "", addAlarmRequest())
	assertAppErrorCode(t, err, types.ErrCodeMissingParam)
}

func TestCoordinator_AddAlarm_UnresolvablePlace(t *testing.T) {
	f := newFixture()
	f.places.err = fmt.Errorf("place service down")

	err := f.coordinator.AddAlarm(context.Background(), "place-1", addAlarmRequest())
	assertAppErrorCode(t, err, types.ErrCodePlaceUnresolved)
	if f.incidents.saves != 0 {
		t.Errorf("unresolvable place must not record an incident")
	}
}

func TestCoordinator_AddAlarm_RepeatFoldsIntoLiveIncident(t *testing.T) {
	f := newFixture()
	f.arm("place-1")
	ctx := context.Background()

	if err := f.coordinator.AddAlarm(ctx, "place-1", addAlarmRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, _ := f.incidents.Current(ctx, "place-1")

	req := addAlarmRequest()
	req.Triggers[0]["source"] = string(types.DeviceAddress("d2"))
	if err := f.coordinator.AddAlarm(ctx, "place-1", req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, _ := f.incidents.Current(ctx, "place-1")
	if second.ID != first.ID {
		t.Errorf("repeated triggers must fold into the live incident, got new id %s", second.ID)
	}
	if len(second.Triggers) != 2 {
		t.Errorf("expected 2 folded triggers, got %d", len(second.Triggers))
	}
}

func TestCoordinator_CancelAlert_ValidationBeforeState(t *testing.T) {
	cases := []struct {
		name string
		req  types.CancelAlertRequest
		code types.ErrorCode
	}{
		{"missing method", types.CancelAlertRequest{Alarms: []string{"SMOKE"}}, types.ErrCodeMissingParam},
		{"unknown method", types.CancelAlertRequest{Method: "TELEPATHY", Alarms: []string{"SMOKE"}}, types.ErrCodeInvalidParam},
		{"empty alarms", types.CancelAlertRequest{Method: "APP"}, types.ErrCodeMissingParam},
		{"unknown alarm", types.CancelAlertRequest{Method: "APP", Alarms: []string{"MOLD"}}, types.ErrCodeInvalidParam},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.arm("place-1")
			ctx := context.Background()
			if err := f.coordinator.AddAlarm(ctx, "place-1", addAlarmRequest()); err != nil {
				t.Fatalf("setup failed: %v", err)
			}
			sentBefore := len(f.sender.all())

			err := f.coordinator.CancelAlert(ctx, "place-1", "person-1", tc.req)
			assertAppErrorCode(t, err, tc.code)

			// Validation failures never reach the alarm or the strategy.
			if got := f.coordinator.AlarmState("place-1", types.AlertSmoke); got != types.AlertStateAlert {
				t.Errorf("expected ALERT untouched, got %s", got)
			}
			if inc, _ := f.incidents.Current(ctx, "place-1"); inc == nil {
				t.Error("incident must stay live after a rejected cancel")
			}
			if got := len(f.sender.all()); got != sentBefore {
				t.Errorf("rejected cancel must not notify, got %d extra", got-sentBefore)
			}
		})
	}
}

func TestCoordinator_CancelAlert_NoLiveIncident(t *testing.T) {
	f := newFixture()
	req := types.CancelAlertRequest{Method: "APP", Alarms: []string{"SMOKE"}}

	err := f.coordinator.CancelAlert(context.Background(), "place-1", "person-1", req)
	assertAppErrorCode(t, err, types.ErrCodeCancelFailed)
}

func TestCoordinator_CancelAlert_AppHappyPath(t *testing.T) {
	f := newFixture()
	f.arm("place-1")
	ctx := context.Background()
	if err := f.coordinator.AddAlarm(ctx, "place-1", addAlarmRequest()); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	sentBefore := len(f.sender.all())

	req := types.CancelAlertRequest{Method: "APP", Alarms: []string{"SMOKE"}}
	if err := f.coordinator.CancelAlert(ctx, "place-1", "person-1", req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The triggered sensor has not physically cleared yet.
	if got := f.coordinator.AlarmState("place-1", types.AlertSmoke); got != types.AlertStateClearing {
		t.Errorf("expected CLEARING, got %s", got)
	}
	if inc, _ := f.incidents.Current(ctx, "place-1"); inc != nil {
		t.Error("expected incident closed")
	}
	if got := len(f.sender.all()); got <= sentBefore {
		t.Error("expected cancel notices to go out")
	}
	if len(f.devices.commands) != 0 {
		t.Errorf("APP cancel must not chime keypads, got %d commands", len(f.devices.commands))
	}
}

func TestCoordinator_CancelAlert_SurvivesRestart(t *testing.T) {
	// The incident store is durable; the strategy's trigger bookkeeping is
	// not. A cancel arriving after a restart must still close the incident
	// and send the notices.
	f := newFixture()
	f.arm("place-1")
	ctx := context.Background()
	if err := f.coordinator.AddAlarm(ctx, "place-1", addAlarmRequest()); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	// Fresh process: new registry and coordinator over the same incident
	// store and place resolver.
	sender := &spySender{}
	clock := testClock()
	logger := &mockLogger{}
	registry := NewStrategyRegistry(nil, standardTree(), sender, clock, logger)
	tracker := NewIncidentTracker(f.incidents, clock, logger)
	restarted := NewCoordinator(registry, tracker, f.places, f.devices, clock, logger)

	req := types.CancelAlertRequest{Method: "APP", Alarms: []string{"SMOKE"}}
	if err := restarted.CancelAlert(ctx, "place-1", "person-1", req); err != nil {
		t.Fatalf("cancel after restart must succeed: %v", err)
	}

	if inc, _ := f.incidents.Current(ctx, "place-1"); inc != nil {
		t.Error("expected incident closed after restarted cancel")
	}
	if got := len(sender.all()); got != 2 {
		t.Errorf("expected cancel notices to the 2 enabled entries, got %d", got)
	}
}

func TestCoordinator_CancelAlert_RepeatCancelFailsCleanly(t *testing.T) {
	f := newFixture()
	f.arm("place-1")
	ctx := context.Background()
	if err := f.coordinator.AddAlarm(ctx, "place-1", addAlarmRequest()); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	req := types.CancelAlertRequest{Method: "APP", Alarms: []string{"SMOKE"}}
	if err := f.coordinator.CancelAlert(ctx, "place-1", "person-1", req); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	sentAfterFirst := len(f.sender.all())

	// The incident is closed now, so the repeat fails the liveness check and
	// sends nothing further.
	err := f.coordinator.CancelAlert(ctx, "place-1", "person-1", req)
	assertAppErrorCode(t, err, types.ErrCodeCancelFailed)
	if got := len(f.sender.all()); got != sentAfterFirst {
		t.Errorf("repeat cancel must not notify again, got %d extra", got-sentAfterFirst)
	}
}

func TestCoordinator_CancelAlert_KeypadChimes(t *testing.T) {
	f := newFixture()
	f.arm("place-1")
	ctx := context.Background()
	if err := f.coordinator.AddAlarm(ctx, "place-1", addAlarmRequest()); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	req := types.CancelAlertRequest{Method: "KEYPAD", Alarms: []string{"SMOKE"}}
	if err := f.coordinator.CancelAlert(ctx, "place-1", "person-1", req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.devices.commands) != 1 {
		t.Fatalf("expected 1 keypad chime command, got %d", len(f.devices.commands))
	}
	cmd := f.devices.commands[0]
	if cmd.protocol != "keypad" {
		t.Errorf("expected keypad protocol, got %q", cmd.protocol)
	}
	if cmd.message["type"] != "keypad:Chime" {
		t.Errorf("expected chime message type, got %v", cmd.message["type"])
	}
	if cmd.ttl != -1 {
		t.Errorf("expected no-expiry ttl, got %v", cmd.ttl)
	}
}

func TestCoordinator_CancelAlert_ChimeFailureIsBestEffort(t *testing.T) {
	f := newFixture()
	f.arm("place-1")
	f.devices.err = fmt.Errorf("device bridge down")
	ctx := context.Background()
	if err := f.coordinator.AddAlarm(ctx, "place-1", addAlarmRequest()); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	req := types.CancelAlertRequest{Method: "KEYPAD", Alarms: []string{"SMOKE"}}
	if err := f.coordinator.CancelAlert(ctx, "place-1", "person-1", req); err != nil {
		t.Errorf("chime failure must not fail the cancel: %v", err)
	}
}

func TestCoordinator_OnIvrAcknowledged(t *testing.T) {
	f := newFixture()
	f.arm("place-1")
	ctx := context.Background()
	if err := f.coordinator.AddAlarm(ctx, "place-1", addAlarmRequest()); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	f.coordinator.OnIvrAcknowledged(ctx, "place-1", "alarm.triggered.smoke")

	strategy := f.registry.ForPlace(types.PlaceInfo{ID: "place-1", Tier: types.TierPremium}).(*Strategy)
	inc, _ := f.incidents.Current(ctx, "place-1")
	if !strategy.Acknowledged(inc.Address, types.AlertSmoke) {
		t.Error("expected smoke alert acknowledged on the live incident")
	}
}

func TestCoordinator_OnIvrAcknowledged_RuleKey(t *testing.T) {
	f := newFixture()
	f.arm("place-1")
	ctx := context.Background()
	if err := f.coordinator.AddAlarm(ctx, "place-1", addAlarmRequest()); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	f.coordinator.OnIvrAcknowledged(ctx, "place-1", "alarm.triggered.rule.smoke")

	strategy := f.registry.ForPlace(types.PlaceInfo{ID: "place-1", Tier: types.TierPremium}).(*Strategy)
	inc, _ := f.incidents.Current(ctx, "place-1")
	if !strategy.Acknowledged(inc.Address, types.AlertSmoke) {
		t.Error("expected rule-triggered smoke alert acknowledged")
	}
}

func TestCoordinator_OnIvrAcknowledged_IgnoresUnknownsAndStale(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Unknown key, empty key, and no live incident: all silent no-ops.
	f.coordinator.OnIvrAcknowledged(ctx, "place-1", "")
	f.coordinator.OnIvrAcknowledged(ctx, "place-1", "not.an.alarm.key")
	f.coordinator.OnIvrAcknowledged(ctx, "place-1", "alarm.triggered.smoke")
}

func TestCoordinator_OnModelRemovedDropsParticipants(t *testing.T) {
	f := newFixture()
	d := f.arm("place-1")

	if got := f.coordinator.AlarmState("place-1", types.AlertSmoke); got != types.AlertStateReady {
		t.Fatalf("expected READY after arming, got %s", got)
	}

	f.coordinator.OnModelRemoved("place-1", d.Address)
	if got := f.coordinator.AlarmState("place-1", types.AlertSmoke); got != types.AlertStateInactive {
		t.Errorf("expected INACTIVE after removing the only participant, got %s", got)
	}
}
