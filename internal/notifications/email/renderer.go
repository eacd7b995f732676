package email

import (
	"fmt"
	"strings"

	"hubalert/internal/types"
)

// Compile-time assertion that KeyRenderer implements Renderer.
var _ Renderer = (*KeyRenderer)(nil)

// KeyRenderer renders notifications from a message key template table. Keys
// without a template fall back to the notification's custom message; a
// notification with neither is unrenderable.
type KeyRenderer struct {
	subjects map[string]string
	bodies   map[string]string
}

// NewKeyRenderer creates a renderer over the given subject and body tables,
// both keyed by message key.
func NewKeyRenderer(subjects, bodies map[string]string) *KeyRenderer {
	return &KeyRenderer{subjects: subjects, bodies: bodies}
}

// Render produces the subject and both body variants for a notification.
// Template placeholders use {param} syntax against the notification's message
// params.
func (r *KeyRenderer) Render(n *types.Notification) (string, string, string, error) {
	if n.MessageKey == "" {
		if n.CustomMessage == "" {
			return "", "", "", fmt.Errorf("notification %s has no message key or custom message", n.ID)
		}
		return "Alert notification", n.CustomMessage, "", nil
	}

	subject, ok := r.subjects[n.MessageKey]
	if !ok {
		subject = "Alert notification"
	}
	body, ok := r.bodies[n.MessageKey]
	if !ok {
		if n.CustomMessage == "" {
			return "", "", "", fmt.Errorf("no template for message key %q", n.MessageKey)
		}
		body = n.CustomMessage
	}

	subject = substitute(subject, n.MessageParams)
	body = substitute(body, n.MessageParams)
	return subject, body, "", nil
}

// substitute replaces {param} placeholders with message param values. Unknown
// placeholders are left intact so missing data is visible rather than silent.
func substitute(template string, params map[string]string) string {
	if len(params) == 0 {
		return template
	}
	out := template
	for k, v := range params {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}
