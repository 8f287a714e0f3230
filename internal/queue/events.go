package queue

import "time"

const (
	TopicJobs    = "outreach.jobs"
	TopicReplies = "outreach.replies"
)

const (
	JobDispatch  = "dispatch"
	JobReconcile = "reconcile"
)

const EventReplyDetected = "reply.detected"

// JobTrigger asks a worker to run one job.
type JobTrigger struct {
	Job         string    `json:"job"`
	RequestedAt time.Time `json:"requested_at"`
}

// ReplyDetected is published after a reply is attached to a recipient.
type ReplyDetected struct {
	Event       string    `json:"event"`
	ClientID    string    `json:"client_id"`
	CampaignID  string    `json:"campaign_id"`
	RecipientID string    `json:"recipient_id"`
	FromName    string    `json:"from_name"`
	FromEmail   string    `json:"from_email"`
	Subject     string    `json:"subject"`
	Strategy    string    `json:"strategy"`
	Confidence  string    `json:"confidence"`
	IsNewPerson bool      `json:"is_new_person"`
	ReceivedAt  time.Time `json:"received_at"`
}
