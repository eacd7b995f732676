package types

// AlertType identifies a hazard class. Each place runs an independent alarm
// state machine per alert type.
type AlertType string

const (
	AlertPanic    AlertType = "PANIC"
	AlertSmoke    AlertType = "SMOKE"
	AlertCO       AlertType = "CO"
	AlertSecurity AlertType = "SECURITY"
	AlertWater    AlertType = "WATER"
)

// AllAlertTypes is the closed set of recognized alarm categories. Request
// validation rejects any category token outside this set.
var AllAlertTypes = []AlertType{AlertPanic, AlertSmoke, AlertCO, AlertSecurity, AlertWater}

// ParseAlertType maps a raw category token to an AlertType.
func ParseAlertType(s string) (AlertType, bool) {
	for _, t := range AllAlertTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// AlertState is the lifecycle state of one alarm instance.
type AlertState string

const (
	AlertStateInactive AlertState = "INACTIVE"
	AlertStateReady    AlertState = "READY"
	AlertStateAlert    AlertState = "ALERT"
	AlertStateClearing AlertState = "CLEARING"
)

// TriggerEvent identifies the kind of evidence that fired a trigger.
type TriggerEvent string

const (
	TriggerRule     TriggerEvent = "RULE"
	TriggerDevice   TriggerEvent = "DEVICE"
	TriggerKeypad   TriggerEvent = "KEYPAD"
	TriggerVerified TriggerEvent = "VERIFIED_ALARM"
)

// CancelMethod enumerates the allowed ways to cancel an alert. Unknown methods
// are rejected at the coordinator boundary before any state mutation.
type CancelMethod string

const (
	CancelMethodApp    CancelMethod = "APP"
	CancelMethodKeypad CancelMethod = "KEYPAD"
)

// ParseCancelMethod maps a raw token to a CancelMethod.
func ParseCancelMethod(s string) (CancelMethod, bool) {
	switch CancelMethod(s) {
	case CancelMethodApp, CancelMethodKeypad:
		return CancelMethod(s), true
	}
	return "", false
}

// NotificationMethod is the delivery channel for a notification. PUSH is a
// logical method that fans out to the APNS and GCM sub-methods at dispatch.
type NotificationMethod string

const (
	MethodEmail NotificationMethod = "EMAIL"
	MethodPush  NotificationMethod = "PUSH"
	MethodAPNS  NotificationMethod = "APNS"
	MethodGCM   NotificationMethod = "GCM"
	MethodIVR   NotificationMethod = "IVR"
)

// PushSubMethods are the concrete push providers a logical PUSH dispatch
// expands into.
var PushSubMethods = []NotificationMethod{MethodAPNS, MethodGCM}

// NotificationPriority determines the initial delivery method when none was
// pinned on the notification.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "LOW"
	PriorityMedium NotificationPriority = "MEDIUM"
	PriorityHigh   NotificationPriority = "HIGH"
)

// AuditEventState is the terminal classification written once per delivery
// attempt.
//
//   - SENT: the provider accepted the message.
//   - ERROR: a recognized, categorized failure (unsupported by user, no such
//     provider, terminal provider rejection, retries exhausted).
//   - FAILED: an unrecognized failure; this path indicates a bug or unmodeled
//     provider behavior, not a normal failure.
type AuditEventState string

const (
	AuditSent   AuditEventState = "SENT"
	AuditError  AuditEventState = "ERROR"
	AuditFailed AuditEventState = "FAILED"
)

// ServiceTier is the service level of a place. It selects which notification
// strategy governs the place's alerts.
type ServiceTier string

const (
	TierBasic   ServiceTier = "basic"
	TierPremium ServiceTier = "premium"
	TierProMon  ServiceTier = "promon"
)
