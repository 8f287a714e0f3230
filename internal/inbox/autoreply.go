package inbox

import "strings"

var autoReplySubjects = []string{
	"auto-reply", "autoreply", "auto reply", "automatic reply", "auto response", "autoresponse",
	"out of office", "out-of-office", "ooo:", "away from the office", "on vacation", "vacation reply",
	"delivery status notification", "undeliverable", "undelivered mail", "mail delivery failed",
	"delivery failure", "returned mail", "failure notice",
}

var autoReplySenders = []string{"mailer-daemon", "postmaster", "no-reply", "noreply", "do-not-reply", "donotreply"}

// IsAutoReply applies keyword heuristics to the subject, message id and
// sender local part.
func IsAutoReply(msg Message) bool {
	subject := strings.ToLower(msg.Subject)
	for _, k := range autoReplySubjects {
		if strings.Contains(subject, k) {
			return true
		}
	}
	id := strings.ToLower(msg.MessageID)
	if strings.Contains(id, "autoreply") || strings.Contains(id, "auto-reply") || strings.Contains(id, "vacation") {
		return true
	}
	local := msg.FromEmail
	if i := strings.Index(local, "@"); i >= 0 {
		local = local[:i]
	}
	for _, s := range autoReplySenders {
		if strings.Contains(local, s) {
			return true
		}
	}
	return false
}
