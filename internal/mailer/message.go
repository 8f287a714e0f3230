package mailer

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Message struct {
	To        string
	ToName    string
	Subject   string
	HTMLBody  string
	MessageID string // optional, without angle brackets
	InReplyTo string // optional, without angle brackets
}

// NewMessageID returns "<uuid>@<sender domain>" without the brackets.
func NewMessageID(fromEmail string) string {
	domain := "localhost"
	if i := strings.LastIndex(fromEmail, "@"); i >= 0 && i < len(fromEmail)-1 {
		domain = strings.ToLower(fromEmail[i+1:])
	}
	return uuid.NewString() + "@" + domain
}

// Build renders a single-part HTML message with quoted-printable body.
func Build(fromName, fromEmail, messageID string, msg *Message) []byte {
	var buf bytes.Buffer
	from := mail.Address{Name: fromName, Address: fromEmail}
	to := mail.Address{Name: msg.ToName, Address: msg.To}

	fmt.Fprintf(&buf, "From: %s\r\n", from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", to.String())
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s>\r\n", messageID)
	if msg.InReplyTo != "" {
		fmt.Fprintf(&buf, "In-Reply-To: <%s>\r\n", msg.InReplyTo)
		fmt.Fprintf(&buf, "References: <%s>\r\n", msg.InReplyTo)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	_, _ = qp.Write([]byte(msg.HTMLBody))
	_ = qp.Close()
	buf.WriteString("\r\n")
	return buf.Bytes()
}
