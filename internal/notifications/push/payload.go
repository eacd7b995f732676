package push

import (
	"encoding/json"
	"fmt"

	"hubalert/internal/types"
)

// pushBody is the gateway-neutral message content. Each gateway wraps it in
// its own envelope (aps alert for APNS, data message for GCM).
type pushBody struct {
	MessageKey string            `json:"messageKey"`
	Message    string            `json:"message,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	PlaceID    string            `json:"placeId,omitempty"`
}

// buildPayload renders the gateway-neutral payload for a notification. A
// notification with neither a message key nor a custom message cannot be
// rendered for push.
func buildPayload(n *types.Notification) ([]byte, error) {
	if n.MessageKey == "" && n.CustomMessage == "" {
		return nil, fmt.Errorf("notification has no message key or custom message")
	}
	return json.Marshal(pushBody{
		MessageKey: n.MessageKey,
		Message:    n.CustomMessage,
		Params:     n.MessageParams,
		PlaceID:    n.PlaceID,
	})
}
