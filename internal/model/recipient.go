// internal/model/recipient.go
package model

import (
	"strings"
	"time"
)

const (
	StatusPending   = "pending"
	StatusSending   = "sending" // claimed by a dispatch run, send in flight
	StatusDelivered = "delivered"
	StatusOpened    = "opened"
	StatusReplied   = "replied"
	StatusFailed    = "failed"
)

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

const (
	StageInitial   = "initial"
	StageResponded = "responded"
	StageClosed    = "closed"
)

const (
	EngagementLow    = "low"
	EngagementMedium = "medium"
	EngagementHigh   = "high"
)

var statusRank = map[string]int{
	StatusPending:   0,
	StatusSending:   1,
	StatusDelivered: 2,
	StatusOpened:    3,
	StatusReplied:   4,
}

// StatusRank orders the forward lifecycle. Failed has no rank and returns -1.
func StatusRank(status string) int {
	if r, ok := statusRank[status]; ok {
		return r
	}
	return -1
}

// IsDeliveredOrLater reports whether an email has reached the recipient.
func IsDeliveredOrLater(status string) bool {
	return StatusRank(status) >= statusRank[StatusDelivered]
}

var priorityRank = map[string]int{PriorityHigh: 3, PriorityMedium: 2, PriorityLow: 1}

func PriorityRank(p string) int { return priorityRank[p] }

type Contact struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Organization string `json:"organization"`
}

type EmailTracking struct {
	Opened        bool       `json:"opened"`
	OpenCount     int        `json:"open_count"`
	FirstOpenedAt *time.Time `json:"first_opened_at,omitempty"`
	LastOpenedAt  *time.Time `json:"last_opened_at,omitempty"`
	Replied       bool       `json:"replied"`
	RepliedAt     *time.Time `json:"replied_at,omitempty"`
}

// EmailHistoryEntry is one email actually sent to this recipient.
type EmailHistoryEntry struct {
	EmailID  string        `json:"email_id"` // Message-ID without angle brackets
	Stage    string        `json:"stage"`
	Subject  string        `json:"subject"`
	SentTo   string        `json:"sent_to"`
	SentAt   time.Time     `json:"sent_at"`
	Tracking EmailTracking `json:"tracking"`
}

type EngagementEvent struct {
	At     time.Time `json:"at"`
	Source string    `json:"source,omitempty"`
}

// Engager is a person who opened or replied, possibly not the original contact.
type Engager struct {
	Email     string            `json:"email"`
	Name      string            `json:"name,omitempty"`
	Count     int               `json:"count"`
	FirstSeen time.Time         `json:"first_seen"`
	LastSeen  time.Time         `json:"last_seen"`
	History   []EngagementEvent `json:"history"`
}

type AggregatedTracking struct {
	EverOpened      bool       `json:"ever_opened"`
	EverReplied     bool       `json:"ever_replied"`
	TotalOpens      int        `json:"total_opens"`
	TotalReplies    int        `json:"total_replies"`
	UniqueOpeners   []Engager  `json:"unique_openers"`
	UniqueRepliers  []Engager  `json:"unique_repliers"`
	EngagementLevel string     `json:"engagement_level"`
	FirstOpenedAt   *time.Time `json:"first_opened_at,omitempty"`
	LastOpenedAt    *time.Time `json:"last_opened_at,omitempty"`
	FirstRepliedAt  *time.Time `json:"first_replied_at,omitempty"`
	LastRepliedAt   *time.Time `json:"last_replied_at,omitempty"`
}

type RecipientError struct {
	Category        string    `json:"category"`
	Message         string    `json:"message"`
	FriendlyMessage string    `json:"friendly_message"`
	Attempt         int       `json:"attempt"`
	At              time.Time `json:"at"`
}

type Recipient struct {
	ID                 string              `json:"id"`
	CampaignID         string              `json:"campaign_id"`
	ClientID           string              `json:"client_id"`
	OriginalContact    Contact             `json:"original_contact"`
	ContactID          string              `json:"contact_id,omitempty"`
	Type               string              `json:"type"`
	Priority           string              `json:"priority"`
	MatchScore         int                 `json:"match_score"`
	MatchedCriteria    []string            `json:"matched_criteria"`
	ScheduledFor       time.Time           `json:"scheduled_for"`
	Status             string              `json:"status"`
	CurrentStage       string              `json:"current_stage"`
	EmailHistory       []EmailHistoryEntry `json:"email_history"`
	AggregatedTracking *AggregatedTracking `json:"aggregated_tracking,omitempty"`
	SentAt             *time.Time          `json:"sent_at,omitempty"`
	ClaimedAt          *time.Time          `json:"claimed_at,omitempty"`
	RetryCount         int                 `json:"retry_count"`
	CanRetry           bool                `json:"can_retry"`
	LastError          *RecipientError     `json:"last_error,omitempty"`
	ErrorHistory       []RecipientError    `json:"error_history"`
	TrackingID         string              `json:"tracking_id"`
	ReplyMessageIDs    []string            `json:"reply_message_ids,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// NormalizeEmail is the identity key used for recipient and engager lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasReply reports whether the provider message id was already counted.
func (r *Recipient) HasReply(messageID string) bool {
	for _, id := range r.ReplyMessageIDs {
		if strings.EqualFold(id, messageID) {
			return true
		}
	}
	return false
}

// LatestEmail returns the most recently sent email, or nil.
func (r *Recipient) LatestEmail() *EmailHistoryEntry {
	if len(r.EmailHistory) == 0 {
		return nil
	}
	return &r.EmailHistory[len(r.EmailHistory)-1]
}

// EmailDomain returns the lower-cased domain of the stored contact email.
func (r *Recipient) EmailDomain() string {
	return DomainOf(r.OriginalContact.Email)
}

func DomainOf(email string) string {
	email = NormalizeEmail(email)
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return ""
}
