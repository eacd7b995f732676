package types

import (
	"fmt"
	"strings"
	"time"
)

// Address identifies an entity on the platform message bus: a device, a rule,
// a person, or a service-owned object such as an incident.
type Address string

// DeviceAddress builds the bus address for a device by id.
func DeviceAddress(id string) Address { return Address("DRIV:dev:" + id) }

// RuleAddress builds the bus address for a rule by place and sequence id.
func RuleAddress(placeID string, seq int) Address {
	return Address(fmt.Sprintf("SERV:rule:%s.%d", placeID, seq))
}

// IncidentAddress builds the bus address for an alarm incident by id.
func IncidentAddress(id string) Address { return Address("SERV:incident:" + id) }

// notificationServicePrefix is the address namespace owned by the notification
// service.
const notificationServicePrefix = "SERV:note:"

// FromNotificationService reports whether the address belongs to the
// notification service namespace. Broadcasts from that namespace carry
// delivery acknowledgment correlation.
func (a Address) FromNotificationService() bool {
	return strings.HasPrefix(string(a), notificationServicePrefix)
}

// Trigger is one piece of evidence that caused or sustained an alert.
// Triggers are appended, never mutated.
type Trigger struct {
	Source     Address        `json:"source"`
	Alarm      AlertType      `json:"alarm"`
	Event      TriggerEvent   `json:"event"`
	Time       time.Time      `json:"time"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// AlarmIncident aggregates all currently alerting alarms for one place into a
// single addressable entity. At most one live incident exists per place at a
// time; that invariant is enforced by the coordinator, not by storage.
type AlarmIncident struct {
	ID               string      `json:"id"`
	Address          Address     `json:"address"`
	PlaceID          string      `json:"placeId"`
	Alert            AlertType   `json:"alert"`
	AdditionalAlerts []AlertType `json:"additionalAlerts,omitempty"`
	Triggers         []Trigger   `json:"triggers"`
	StartTime        time.Time   `json:"startTime"`
	EndTime          *time.Time  `json:"endTime,omitempty"`
}

// Live reports whether the incident is still open.
func (i *AlarmIncident) Live() bool { return i != nil && i.EndTime == nil }

// Notification is one logical message to a person. The payload fields
// (MessageKey, MessageParams, CustomMessage) are immutable once created;
// Method and AttemptCount mutate as the notification moves through dispatch
// and retry.
type Notification struct {
	ID            string               `json:"id"`
	PlaceID       string               `json:"placeId,omitempty"`
	PersonID      string               `json:"personId"`
	Method        NotificationMethod   `json:"method,omitempty"`
	Priority      NotificationPriority `json:"priority,omitempty"`
	MessageKey    string               `json:"messageKey"`
	MessageParams map[string]string    `json:"messageParams,omitempty"`
	CustomMessage string               `json:"customMessage,omitempty"`

	// DeliveryEndpoint is the method-specific destination (push token, email
	// address, phone number). Set when a dispatch splits a PUSH notification
	// into per-provider children.
	DeliveryEndpoint string `json:"deliveryEndpoint,omitempty"`

	AttemptCount int           `json:"attemptCount"`
	CreatedAt    time.Time     `json:"createdAt"`
	TimeToLive   time.Duration `json:"timeToLive,omitempty"`
}

// WithMethod returns a copy of the notification pinned to the given method and
// delivery endpoint. Used to spawn PUSH notifications into APNS/GCM children
// and to fail a notification over to another channel.
func (n Notification) WithMethod(method NotificationMethod, endpoint string) Notification {
	copied := n
	copied.Method = method
	copied.DeliveryEndpoint = endpoint
	if n.MessageParams != nil {
		copied.MessageParams = make(map[string]string, len(n.MessageParams))
		for k, v := range n.MessageParams {
			copied.MessageParams[k] = v
		}
	}
	return copied
}

// Expired reports whether the notification's time-to-live has elapsed relative
// to now. A zero TimeToLive means the notification never expires by age.
func (n Notification) Expired(now time.Time) bool {
	if n.TimeToLive <= 0 {
		return false
	}
	return now.Sub(n.CreatedAt) > n.TimeToLive
}

// PlaceInfo carries the place attributes the alerting core needs: identity and
// the service tier that selects a notification strategy. The full place model
// lives upstream.
type PlaceInfo struct {
	ID         string
	Tier       ServiceTier
	Population string
}

// Model is the projection of a device or rule model the alarm state machine
// observes. The full model lives in the platform device registry; the alarm
// core only needs address, capability tags, and online state.
type Model struct {
	Address      Address
	Capabilities []string
	AlarmTags    []AlertType
	Online       bool
	Triggered    bool
}

// HasCapability reports whether the model advertises the given capability.
func (m Model) HasCapability(cap string) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// TaggedFor reports whether the model participates in the given alarm category.
func (m Model) TaggedFor(t AlertType) bool {
	for _, tag := range m.AlarmTags {
		if tag == t {
			return true
		}
	}
	return false
}
