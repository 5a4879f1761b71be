package models

import "time"

// ReminderChannel is the medium a reminder goes out on.
type ReminderChannel string

const (
	ChannelSMS      ReminderChannel = "SMS"
	ChannelWhatsApp ReminderChannel = "WHATSAPP"
	ChannelEmail    ReminderChannel = "EMAIL"
	ChannelCall     ReminderChannel = "CALL"
	ChannelOther    ReminderChannel = "OTHER"
)

// ReminderStatus follows the outbox lifecycle.
type ReminderStatus string

const (
	ReminderQueued ReminderStatus = "QUEUED"
	ReminderSent   ReminderStatus = "SENT"
	ReminderFailed ReminderStatus = "FAILED"
)

// Reminder is one outbound message to one guardian phone. Rows are written
// QUEUED inside the triggering transaction and drained by a background
// worker, so delivery is auditable and never blocks the caller.
type Reminder struct {
	ID               string          `db:"id" json:"id"`
	SchoolID         string          `db:"school_id" json:"school_id"`
	StudentID        string          `db:"student_id" json:"student_id"`
	Channel          ReminderChannel `db:"channel" json:"channel"`
	Phone            string          `db:"phone" json:"phone"`
	Message          string          `db:"message" json:"message"`
	EstimatedBalance int64           `db:"estimated_balance" json:"estimated_balance"`
	Status           ReminderStatus  `db:"status" json:"status"`
	ProviderID       *string         `db:"provider_id" json:"provider_id,omitempty"`
	FailureReason    *string         `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedBy        string          `db:"created_by" json:"created_by"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	SentAt           *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
}

// ReminderBatchResult summarises a send_reminders call. Per-recipient
// failures never abort the batch.
type ReminderBatchResult struct {
	Queued  int                  `json:"queued"`
	Skipped []ReminderBatchError `json:"skipped,omitempty"`
}

// ReminderBatchError captures why one student was skipped.
type ReminderBatchError struct {
	StudentID string `json:"student_id"`
	Reason    string `json:"reason"`
}
