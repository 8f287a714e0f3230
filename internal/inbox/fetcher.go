// Package inbox reads a client's mailbox and attributes inbound replies to
// campaign recipients.
package inbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// IMAPPort is the implicit-TLS port used for every derived inbox.
const IMAPPort = 993

type Credentials struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Fetcher lists messages received since a point in time.
type Fetcher interface {
	Fetch(ctx context.Context, creds Credentials, since time.Time) ([]Message, error)
}

// IMAPHost derives the inbound host from an outbound one by naming
// convention: smtp.example.com -> imap.example.com, mail.example.com ->
// imap.example.com. Any other host is returned unchanged.
func IMAPHost(smtpHost string) string {
	host := strings.ToLower(strings.TrimSpace(smtpHost))
	switch {
	case strings.HasPrefix(host, "smtp"):
		return "imap" + strings.TrimPrefix(host, "smtp")
	case strings.HasPrefix(host, "mail."):
		return "imap." + strings.TrimPrefix(host, "mail.")
	}
	return host
}

// IMAPFetcher uses implicit TLS and a read-only INBOX select, so mailbox
// read-state is never touched.
type IMAPFetcher struct {
	Timeout time.Duration
}

func (f *IMAPFetcher) timeout() time.Duration {
	if f.Timeout <= 0 {
		return 30 * time.Second
	}
	return f.Timeout
}

func (f *IMAPFetcher) Fetch(ctx context.Context, creds Credentials, since time.Time) ([]Message, error) {
	port := creds.Port
	if port == 0 {
		port = IMAPPort
	}
	addr := net.JoinHostPort(creds.Host, fmt.Sprint(port))

	c, err := client.DialWithDialerTLS(&net.Dialer{Timeout: f.timeout()}, addr, &tls.Config{ServerName: creds.Host})
	if err != nil {
		return nil, fmt.Errorf("IMAP connect to %s: %w", addr, err)
	}
	c.Timeout = f.timeout()

	// a hung server must not outlive the caller's deadline
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Terminate()
		case <-done:
		}
	}()
	defer c.Logout()

	if err := c.Login(creds.Username, creds.Password); err != nil {
		return nil, fmt.Errorf("IMAP login: %w", err)
	}
	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("IMAP select: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("IMAP search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate}

	ch := make(chan *imap.Message, 16)
	fetchErr := make(chan error, 1)
	go func() {
		fetchErr <- c.UidFetch(seqset, items, ch)
	}()

	out := make([]Message, 0, len(uids))
	for m := range ch {
		if m == nil || m.Envelope == nil {
			continue
		}
		msg := FromEnvelope(m.Envelope, m.InternalDate)
		if msg.FromEmail == "" || msg.ReceivedAt.Before(since) {
			continue
		}
		out = append(out, msg)
	}
	if err := <-fetchErr; err != nil {
		return nil, fmt.Errorf("IMAP fetch: %w", err)
	}
	return out, nil
}
