// Package push implements the mobile push notification delivery channel.
//
// It covers both push gateways (APNS and GCM) behind a shared provider core:
// rejection classification, device unregistration on permanently invalid
// tokens, connection-level failure handling with a circuit breaker, and the
// out-of-band expired token feed.
package push

import "strings"

// RejectionCode is a gateway's per-attempt rejection reason, normalized across
// APNS and GCM.
type RejectionCode string

const (
	CodeNone               RejectionCode = "NONE"
	CodeProcessingError    RejectionCode = "PROCESSING_ERROR"
	CodeMissingDeviceToken RejectionCode = "MISSING_DEVICE_TOKEN"
	CodeMissingTopic       RejectionCode = "MISSING_TOPIC"
	CodeMissingPayload     RejectionCode = "MISSING_PAYLOAD"
	CodeInvalidTokenSize   RejectionCode = "INVALID_TOKEN_SIZE"
	CodeInvalidTopicSize   RejectionCode = "INVALID_TOPIC_SIZE"
	CodeInvalidPayloadSize RejectionCode = "INVALID_PAYLOAD_SIZE"
	CodeInvalidToken       RejectionCode = "INVALID_TOKEN"
	CodeShutdown           RejectionCode = "SHUTDOWN"
	CodeUnknown            RejectionCode = "UNKNOWN"
)

// Classification is the uniform retry/terminal decision for one rejection.
type Classification struct {
	// Retryable means the same send may succeed on a later attempt.
	Retryable bool

	// Unregister means the token is permanently invalid (app uninstalled,
	// wrong environment) and the device registration must be removed so
	// future notifications stop targeting it.
	Unregister bool
}

// Terminal reports whether the attempt must not be retried.
func (c Classification) Terminal() bool { return !c.Retryable }

// Classify maps a rejection code to its classification. It is a pure function
// of the code alone; no notification state influences the decision.
//
// Only INVALID_TOKEN routes to device unregistration. The fixed set of
// malformed-request codes is terminal without unregistering: the token itself
// may be fine, the request will just never succeed as constructed. Everything
// else, including UNKNOWN and PROCESSING_ERROR, is retryable.
func Classify(code RejectionCode) Classification {
	switch code {
	case CodeInvalidToken:
		return Classification{Retryable: false, Unregister: true}
	case CodeMissingDeviceToken, CodeMissingTopic, CodeMissingPayload,
		CodeInvalidTokenSize, CodeInvalidTopicSize, CodeInvalidPayloadSize:
		return Classification{Retryable: false}
	default:
		return Classification{Retryable: true}
	}
}

// apnsReasonToCode normalizes an APNS HTTP/2 rejection reason string.
func apnsReasonToCode(reason string) RejectionCode {
	switch reason {
	case "BadDeviceToken", "Unregistered", "DeviceTokenNotForTopic":
		return CodeInvalidToken
	case "MissingDeviceToken":
		return CodeMissingDeviceToken
	case "MissingTopic":
		return CodeMissingTopic
	case "PayloadEmpty":
		return CodeMissingPayload
	case "PayloadTooLarge":
		return CodeInvalidPayloadSize
	case "BadTopic", "TopicDisallowed":
		return CodeInvalidTopicSize
	case "InternalServerError", "ServiceUnavailable", "TooManyRequests":
		return CodeProcessingError
	case "Shutdown":
		return CodeShutdown
	case "":
		return CodeNone
	default:
		return CodeUnknown
	}
}

// gcmErrorToCode normalizes a GCM/FCM result error string.
func gcmErrorToCode(errName string) RejectionCode {
	switch errName {
	case "NotRegistered", "InvalidRegistration", "MismatchSenderId":
		return CodeInvalidToken
	case "MissingRegistration":
		return CodeMissingDeviceToken
	case "MessageTooBig":
		return CodeInvalidPayloadSize
	case "InternalServerError", "Unavailable", "DeviceMessageRateExceeded":
		return CodeProcessingError
	case "":
		return CodeNone
	}
	if strings.HasPrefix(errName, "Invalid") {
		return CodeInvalidPayloadSize
	}
	return CodeUnknown
}
