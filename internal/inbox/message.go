package inbox

import (
	"strings"
	"time"

	"github.com/emersion/go-imap"

	"github.com/unclebandit/outreach-engine/internal/model"
)

// Message is the parsed subset of an inbound email used for matching.
type Message struct {
	FromName   string
	FromEmail  string
	ToEmail    string
	Subject    string
	MessageID  string
	InReplyTo  string
	ReceivedAt time.Time
}

// FromEnvelope extracts a Message. Message ids lose their angle brackets
// and addresses are lower-cased. ReceivedAt is the server's internal date;
// the sender-supplied Date header is used only when the server has none.
func FromEnvelope(env *imap.Envelope, internalDate time.Time) Message {
	msg := Message{
		Subject:    strings.TrimSpace(env.Subject),
		MessageID:  CleanMessageID(env.MessageId),
		InReplyTo:  CleanMessageID(firstID(env.InReplyTo)),
		ReceivedAt: internalDate,
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = env.Date
	}
	if a := firstAddress(env.From); a != nil {
		msg.FromName = strings.TrimSpace(a.PersonalName)
		msg.FromEmail = model.NormalizeEmail(a.Address())
	}
	if a := firstAddress(env.To); a != nil {
		msg.ToEmail = model.NormalizeEmail(a.Address())
	}
	return msg
}

// CleanMessageID strips whitespace and angle brackets.
func CleanMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}

// firstID keeps the first id of a possibly multi-valued header.
func firstID(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

func firstAddress(list []*imap.Address) *imap.Address {
	for _, a := range list {
		if a != nil && a.MailboxName != "" && a.HostName != "" {
			return a
		}
	}
	return nil
}
