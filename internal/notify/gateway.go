// Package notify defines the outbound-message port used by the reminder
// worker. Implementations wrap an SMS/WhatsApp provider; the core never
// depends on a concrete transport.
package notify

import (
	"context"

	"github.com/mkcamara/scolaris-core/internal/models"
)

// Result is a provider acknowledgement. ProviderID keys later delivery-status
// callbacks.
type Result struct {
	ProviderID string
}

// Gateway sends one message to one phone. Calls happen off the triggering
// transaction, under the worker's per-call timeout.
type Gateway interface {
	Send(ctx context.Context, channel models.ReminderChannel, phone, body string) (Result, error)
}
