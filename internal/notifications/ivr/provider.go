// Package ivr implements the interactive voice response delivery channel:
// high-priority notifications become outbound phone calls that the callee must
// acknowledge.
package ivr

import (
	"context"

	"hubalert/internal/notifications/core"
	"hubalert/internal/types"
)

// CallGateway places one outbound call that plays the rendered script and
// collects an acknowledgment keypress.
type CallGateway interface {
	PlaceCall(ctx context.Context, phoneNumber string, script CallScript) (callID string, err error)
}

// CallScript is the content of one IVR call.
type CallScript struct {
	MessageKey string
	Message    string
	Params     map[string]string

	// AckMsgKey correlates an eventual acknowledgment event back to the
	// alarm that raised the call.
	AckMsgKey string
}

// PhoneSource resolves the phone number on file for a person.
type PhoneSource interface {
	PhoneFor(ctx context.Context, personID string) (string, error)
}

// Compile-time assertion that Provider implements core.Provider.
var _ core.Provider = (*Provider)(nil)

// Provider places IVR calls for HIGH priority notifications. A person without
// a phone number on file is terminal for the channel; gateway failures are
// retryable.
type Provider struct {
	gateway CallGateway
	phones  PhoneSource
	logger  types.Logger
}

// NewProvider creates the IVR provider.
func NewProvider(gateway CallGateway, phones PhoneSource, logger types.Logger) *Provider {
	return &Provider{
		gateway: gateway,
		phones:  phones,
		logger:  logger,
	}
}

// NotifyCustomer resolves the callee's phone number and places the call.
// Placing the call successfully is the SENT condition; the acknowledgment
// arrives later as a separate bus event.
func (p *Provider) NotifyCustomer(ctx context.Context, n *types.Notification) error {
	phone := n.DeliveryEndpoint
	if phone == "" {
		resolved, err := p.phones.PhoneFor(ctx, n.PersonID)
		if err != nil {
			return &core.DispatchError{Reason: "phone number lookup failed", Err: err}
		}
		phone = resolved
	}

	if phone == "" {
		return &core.UnsupportedByUserError{
			Method: types.MethodIVR,
			Reason: "no phone number on file",
		}
	}

	n.DeliveryEndpoint = phone

	callID, err := p.gateway.PlaceCall(ctx, phone, CallScript{
		MessageKey: n.MessageKey,
		Message:    n.CustomMessage,
		Params:     n.MessageParams,
		AckMsgKey:  n.MessageKey,
	})
	if err != nil {
		return &core.DispatchError{Reason: "ivr gateway call failed", Err: err}
	}

	p.logger.Info("ivr call placed",
		"notification_id", n.ID,
		"call_id", callID,
	)
	return nil
}
