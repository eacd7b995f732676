package alarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"hubalert/internal/types"
)

// DeviceCommandSender forwards a command to the physical device layer. A ttl
// of -1 means the command never expires.
type DeviceCommandSender interface {
	SendToDevice(ctx context.Context, protocol string, message map[string]any, ttl time.Duration) error
}

// Coordinator is the message-bus entry point for the alerting core. It
// validates requests before any state mutation, owns the per-place alarm state
// machines, and delegates notification work to the strategy registry.
type Coordinator struct {
	registry  *StrategyRegistry
	incidents *IncidentTracker
	places    PlaceResolver
	devices   DeviceCommandSender
	validate  *validator.Validate
	clock     types.Clock
	logger    types.Logger

	mu       sync.Mutex
	machines map[string]map[types.AlertType]*Alarm
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(registry *StrategyRegistry, incidents *IncidentTracker, places PlaceResolver, devices DeviceCommandSender, clock types.Clock, logger types.Logger) *Coordinator {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Coordinator{
		registry:  registry,
		incidents: incidents,
		places:    places,
		devices:   devices,
		validate:  validator.New(),
		clock:     clock,
		logger:    logger,
		machines:  make(map[string]map[types.AlertType]*Alarm),
	}
}

// AddAlarm handles an alarmincident:AddAlarm request. Validation failures and
// an unresolvable place fail fast with no partial state change; on success the
// triggers are folded into the place's live incident and the place's strategy
// notifies.
func (c *Coordinator) AddAlarm(ctx context.Context, placeID string, req types.AddAlarmRequest) error {
	if placeID == "" {
		return types.MissingParam("placeId")
	}
	if err := c.validate.Struct(req); err != nil {
		return validationError(err)
	}
	if _, ok := types.ParseAlertType(req.Alarm); !ok {
		return types.InvalidParam("alarm", req.Alarm)
	}
	for _, token := range req.Alarms {
		if _, ok := types.ParseAlertType(token); !ok {
			return types.InvalidParam("alarms", token)
		}
	}

	triggers := make([]types.Trigger, 0, len(req.Triggers))
	for i, raw := range req.Triggers {
		trig, err := c.parseTrigger(raw)
		if err != nil {
			return types.InvalidParam("triggers", fmt.Sprintf("entry %d: %v", i, err))
		}
		triggers = append(triggers, trig)
	}

	place, err := c.places.PlaceFor(ctx, placeID)
	if err != nil {
		return types.NewAppError(types.ErrCodePlaceUnresolved,
			fmt.Sprintf("place %s could not be resolved", placeID), err)
	}

	for _, trig := range triggers {
		machine := c.machineFor(placeID, trig.Alarm)
		machine.OnTriggered(trig.Source, trig.Event)
	}

	incident, _, err := c.incidents.Record(ctx, placeID, triggers)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record incident", err)
	}

	strategy := c.registry.ForPlace(place)
	if err := strategy.Execute(ctx, incident.Address, placeID, triggers); err != nil {
		// Notification failures do not roll the alarm back; the incident
		// stands and the failures are visible in the logs and audit trail.
		c.logger.Error("strategy execute failed",
			"place_id", placeID,
			"incident", string(incident.Address),
			"error", err.Error(),
		)
	}
	return nil
}

// CancelAlert handles an alarmincident:CancelAlert request. The method must be
// one of the enumerated cancel methods and the alarm list non-empty with
// recognized categories; violations fail before any state is touched. A place
// with no live incident yields the alarm.cancel.failed domain error.
func (c *Coordinator) CancelAlert(ctx context.Context, placeID string, actor string, req types.CancelAlertRequest) error {
	if placeID == "" {
		return types.MissingParam("placeId")
	}
	if req.Method == "" {
		return types.MissingParam("method")
	}
	method, ok := types.ParseCancelMethod(req.Method)
	if !ok {
		return types.InvalidParam("method", req.Method)
	}
	if len(req.Alarms) == 0 {
		return types.MissingParam("alarms")
	}
	alarms := make([]types.AlertType, 0, len(req.Alarms))
	for _, token := range req.Alarms {
		alert, ok := types.ParseAlertType(token)
		if !ok {
			return types.InvalidParam("alarms", token)
		}
		alarms = append(alarms, alert)
	}

	place, err := c.places.PlaceFor(ctx, placeID)
	if err != nil {
		return types.NewAppError(types.ErrCodePlaceUnresolved,
			fmt.Sprintf("place %s could not be resolved", placeID), err)
	}

	incident, err := c.incidents.Current(ctx, placeID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to load incident", err)
	}
	if incident == nil || !incident.Live() {
		return types.NewAppError(types.ErrCodeCancelFailed, "alarm could not be canceled", nil)
	}

	for _, alert := range alarms {
		machine := c.machineFor(placeID, alert)
		if err := machine.Cancel(); err != nil {
			c.logger.Warn("cancel on non-alerting alarm",
				"place_id", placeID,
				"alert", string(alert),
			)
		}
	}

	// The live-incident check above is the only gate on cancellation. The
	// strategy's false return just means a concurrent cancel already has the
	// notice in flight; the close below still proceeds.
	strategy := c.registry.ForPlace(place)
	if !strategy.Cancel(ctx, incident.Address, placeID, actor, alarms) {
		c.logger.Info("cancellation notice already in flight",
			"place_id", placeID,
			"incident", string(incident.Address),
		)
	}

	if _, err := c.incidents.Close(ctx, placeID); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to close incident", err)
	}

	if method == types.CancelMethodKeypad {
		c.chimeKeypads(ctx, placeID)
	}

	c.logger.Info("alert cancelled",
		"place_id", placeID,
		"incident", string(incident.Address),
		"method", string(method),
	)
	return nil
}

// OnIvrAcknowledged handles the fire-and-forget IVR acknowledgment event. An
// empty or unrecognized message key is ignored, as is a place with no live
// incident: acknowledging something already resolved is not an error.
func (c *Coordinator) OnIvrAcknowledged(ctx context.Context, placeID string, msgKey string) {
	alert, ok := alertFromMessageKey(msgKey)
	if !ok {
		return
	}

	incident, err := c.incidents.Current(ctx, placeID)
	if err != nil {
		c.logger.Error("failed to load incident for acknowledgment",
			"place_id", placeID,
			"error", err.Error(),
		)
		return
	}
	if incident == nil || !incident.Live() {
		return
	}

	place, err := c.places.PlaceFor(ctx, placeID)
	if err != nil {
		c.logger.Error("failed to resolve place for acknowledgment",
			"place_id", placeID,
			"error", err.Error(),
		)
		return
	}

	c.registry.ForPlace(place).Acknowledge(ctx, incident.Address, alert)
}

// OnPlaceChanged invalidates the cached strategy for a reconfigured place.
func (c *Coordinator) OnPlaceChanged(placeID string) {
	c.registry.Invalidate(placeID)
}

// OnModelAdded routes a new device or rule model into the place's alarm state
// machines.
func (c *Coordinator) OnModelAdded(placeID string, m types.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, alert := range m.AlarmTags {
		c.machineForLocked(placeID, alert).OnParticipantAdded(m)
	}
}

// OnModelRemoved removes a participant address from every alarm at the place.
func (c *Coordinator) OnModelRemoved(placeID string, addr types.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, machine := range c.machines[placeID] {
		machine.OnParticipantRemoved(addr)
	}
}

// AlarmState exposes the current state of one alarm for introspection.
func (c *Coordinator) AlarmState(placeID string, alert types.AlertType) types.AlertState {
	c.mu.Lock()
	defer c.mu.Unlock()
	machines, ok := c.machines[placeID]
	if !ok {
		return types.AlertStateInactive
	}
	machine, ok := machines[alert]
	if !ok {
		return types.AlertStateInactive
	}
	return machine.State()
}

func (c *Coordinator) machineFor(placeID string, alert types.AlertType) *Alarm {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machineForLocked(placeID, alert)
}

// machineForLocked lazily creates the alarm on first use. Callers hold c.mu.
func (c *Coordinator) machineForLocked(placeID string, alert types.AlertType) *Alarm {
	machines, ok := c.machines[placeID]
	if !ok {
		machines = make(map[types.AlertType]*Alarm)
		c.machines[placeID] = machines
	}
	machine, ok := machines[alert]
	if !ok {
		machine = NewAlarm(alert, c.logger, c.clock)
		machines[alert] = machine
	}
	return machine
}

// parseTrigger converts one raw trigger map from the bus into a Trigger.
func (c *Coordinator) parseTrigger(raw map[string]any) (types.Trigger, error) {
	source, _ := raw["source"].(string)
	if source == "" {
		return types.Trigger{}, fmt.Errorf("missing source")
	}
	alarmToken, _ := raw["alarm"].(string)
	alert, ok := types.ParseAlertType(alarmToken)
	if !ok {
		return types.Trigger{}, fmt.Errorf("unrecognized alarm %q", alarmToken)
	}
	eventToken, _ := raw["event"].(string)
	event := types.TriggerEvent(eventToken)
	switch event {
	case types.TriggerRule, types.TriggerDevice, types.TriggerKeypad, types.TriggerVerified:
	case "":
		event = types.TriggerDevice
	default:
		return types.Trigger{}, fmt.Errorf("unrecognized event %q", eventToken)
	}

	trig := types.Trigger{
		Source: types.Address(source),
		Alarm:  alert,
		Event:  event,
		Time:   c.clock.Now(),
	}
	if ts, ok := raw["time"].(string); ok && ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			trig.Time = parsed
		}
	}

	attrs := make(map[string]any)
	for k, v := range raw {
		switch k {
		case "source", "alarm", "event", "time":
		default:
			attrs[k] = v
		}
	}
	if len(attrs) > 0 {
		trig.Attributes = attrs
	}
	return trig, nil
}

// chimeKeypads asks the device layer to play the disarm chime on the place's
// keypads. Best effort; a chime failure never fails the cancel.
func (c *Coordinator) chimeKeypads(ctx context.Context, placeID string) {
	msg := map[string]any{
		"type":    "keypad:Chime",
		"placeId": placeID,
	}
	if err := c.devices.SendToDevice(ctx, "keypad", msg, -1); err != nil {
		c.logger.Warn("keypad chime failed",
			"place_id", placeID,
			"error", err.Error(),
		)
	}
}

// alertFromMessageKey recovers the alert type from a triggered-alarm message
// key such as alarm.triggered.smoke or alarm.triggered.rule.panic.
func alertFromMessageKey(msgKey string) (types.AlertType, bool) {
	if msgKey == "" {
		return "", false
	}
	const prefix = "alarm.triggered."
	if !strings.HasPrefix(msgKey, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(msgKey, prefix)
	token = strings.TrimPrefix(token, "rule.")
	return types.ParseAlertType(strings.ToUpper(token))
}

// validationError maps a validator failure to the structured parameter error
// the bus caller expects.
func validationError(err error) error {
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) && len(invalid) > 0 {
		field := invalid[0].Field()
		if invalid[0].Tag() == "required" {
			return types.MissingParam(field)
		}
		return types.InvalidParam(field, fmt.Sprintf("%v", invalid[0].Value()))
	}
	return types.NewAppError(types.ErrCodeInvalidParam, "invalid request", err)
}
