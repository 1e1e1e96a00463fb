// Package notifications delivers templated chat messages to members and records every attempt.
package notifications

import (
	"context"
	"errors"
	"strings"
)

// ErrNotConfigured is returned when the gateway has no credentials.
var ErrNotConfigured = errors.New("notification gateway not configured")

// Message is one templated message to one recipient.
type Message struct {
	To           string
	TemplateCode string
	Variables    map[string]string
}

// Gateway sends messages through an external provider. Adding a provider means adding an
// implementation; callers only see this interface.
type Gateway interface {
	// Send delivers msg and returns the provider message id.
	Send(ctx context.Context, msg Message) (string, error)
	// Test checks credentials and connectivity without sending a message.
	Test(ctx context.Context) error
}

// TemplateCode returns the provider template code for a notification type.
func TemplateCode(notificationType string) string {
	return strings.ToUpper(notificationType)
}

// NormalizePhone keeps only the digits of a phone number (010-1234-5678 -> 01012345678).
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
