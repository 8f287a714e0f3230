// internal/model/campaign_log.go
package model

import "time"

// CampaignError is an append-only row per failed send attempt.
type CampaignError struct {
	ID              string    `json:"id"`
	CampaignID      string    `json:"campaign_id"`
	RecipientID     string    `json:"recipient_id"`
	Category        string    `json:"category"`
	Message         string    `json:"message"`
	FriendlyMessage string    `json:"friendly_message"`
	Attempt         int       `json:"attempt"`
	CreatedAt       time.Time `json:"created_at"`
}

const (
	ReplyAttached  = "attached"
	ReplyUnmatched = "unmatched"
	ReplyDiscarded = "discarded"
)

// CampaignReply records one inbound provider message per client mailbox.
type CampaignReply struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"client_id"`
	CampaignID    string    `json:"campaign_id,omitempty"`
	RecipientID   string    `json:"recipient_id,omitempty"`
	MessageID     string    `json:"message_id"`
	FromName      string    `json:"from_name"`
	FromEmail     string    `json:"from_email"`
	Subject       string    `json:"subject"`
	ReceivedAt    time.Time `json:"received_at"`
	Status        string    `json:"status"`
	Strategy      string    `json:"strategy,omitempty"`
	Confidence    string    `json:"confidence,omitempty"`
	IsNewPerson   bool      `json:"is_new_person"`
	DiscardReason string    `json:"discard_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type AuditEntry struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	CampaignID string         `json:"campaign_id"`
	ClientID   string         `json:"client_id"`
	Details    map[string]any `json:"details"`
	CreatedAt  time.Time      `json:"created_at"`
}
