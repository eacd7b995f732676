package types

import (
	"encoding/json"
	"time"
)

// BusEnvelope is the platform message bus request/response wrapper as it
// arrives at the alerting core. The envelope format itself is owned by the
// platform; the core only reads the routing fields and the typed payload.
type BusEnvelope struct {
	Type          string          `json:"type"`
	Source        Address         `json:"source"`
	Destination   Address         `json:"destination,omitempty"`
	PlaceID       string          `json:"placeId"`
	Actor         Address         `json:"actor,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Bus message type constants consumed by the alarm service.
const (
	MsgAddAlarm        = "alarmincident:AddAlarm"
	MsgCancelAlert     = "alarmincident:CancelAlert"
	MsgIvrAcknowledged = "notification:IvrNotificationAcknowledged"
	MsgPlaceChanged    = "place:ValueChange"
)

// AddAlarmRequest asks the coordinator to record new triggers for an alarm and
// notify per the place's strategy.
type AddAlarmRequest struct {
	Alarm    string           `json:"alarm" validate:"required"`
	Alarms   []string         `json:"alarms" validate:"required,min=1,dive,required"`
	Triggers []map[string]any `json:"triggers" validate:"required,min=1"`
}

// AddAlarmResponse acknowledges an AddAlarm request. The incident itself is
// never returned; the call is fire-and-forget from the caller's perspective.
type AddAlarmResponse struct{}

// CancelAlertRequest asks the coordinator to cancel the listed alarms.
type CancelAlertRequest struct {
	Method string   `json:"method" validate:"required"`
	Alarms []string `json:"alarms" validate:"required,min=1,dive,required"`
}

// CancelAlertResponse acknowledges a successful cancellation.
type CancelAlertResponse struct{}

// IvrAcknowledgedEvent reports that a person acknowledged an IVR call.
// Fire-and-forget; no response is produced.
type IvrAcknowledgedEvent struct {
	MsgKey string `json:"msgKey"`
}

// NotificationMessage is the SQS transport envelope carrying one notification
// through dispatch and retry. RetryCount mirrors the notification's attempt
// count on the wire so a consumer can apply correct backoff without loading
// any state.
type NotificationMessage struct {
	Notification Notification `json:"notification"`
	RetryCount   int          `json:"retryCount"`
	TraceID      string       `json:"traceId,omitempty"`
	EnqueuedAt   time.Time    `json:"enqueuedAt"`
}
