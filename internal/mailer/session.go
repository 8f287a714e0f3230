// Package mailer opens outbound SMTP sessions on a client's own mailbox and
// classifies send failures.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"
)

const (
	SecuritySSL      = "ssl"
	SecurityStartTLS = "starttls"
	SecurityNone     = "none"
)

// Credentials are the plaintext session settings. The password only lives in
// memory for the duration of a session.
type Credentials struct {
	Host      string
	Port      int
	Username  string
	Password  string
	Security  string
	FromName  string
	FromEmail string
}

// Session is one authenticated connection reused for a group of sends.
type Session interface {
	// Verify issues a NOOP so a broken login is detected before any send.
	Verify(ctx context.Context) error
	// Send delivers msg and returns its Message-ID without angle brackets.
	Send(ctx context.Context, msg *Message) (string, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Session, error)
}

// SMTPDialer dials real SMTP servers.
type SMTPDialer struct {
	Timeout time.Duration
}

func (d *SMTPDialer) timeout() time.Duration {
	if d.Timeout <= 0 {
		return 30 * time.Second
	}
	return d.Timeout
}

func (d *SMTPDialer) Dial(ctx context.Context, creds Credentials) (Session, error) {
	addr := net.JoinHostPort(creds.Host, fmt.Sprint(creds.Port))
	dialer := &net.Dialer{Timeout: d.timeout()}
	tlsCfg := &tls.Config{ServerName: creds.Host}

	var (
		conn net.Conn
		err  error
	)
	if creds.Security == SecuritySSL {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("SMTP connect to %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(d.timeout()))

	c, err := smtp.NewClient(conn, creds.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SMTP client: %w", err)
	}
	if creds.Security == SecurityStartTLS {
		if err := c.StartTLS(tlsCfg); err != nil {
			c.Close()
			return nil, fmt.Errorf("STARTTLS: %w", err)
		}
	}
	if creds.Username != "" {
		var auth smtp.Auth = &plainAuth{user: creds.Username, pass: creds.Password}
		if creds.Security != SecurityNone {
			auth = smtp.PlainAuth("", creds.Username, creds.Password, creds.Host)
		}
		if err := c.Auth(auth); err != nil {
			c.Close()
			return nil, fmt.Errorf("AUTH: %w", err)
		}
	}
	return &smtpSession{client: c, conn: conn, creds: creds, timeout: d.timeout()}, nil
}

type smtpSession struct {
	client  *smtp.Client
	conn    net.Conn
	creds   Credentials
	timeout time.Duration
}

func (s *smtpSession) extend(ctx context.Context) {
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetDeadline(deadline)
}

func (s *smtpSession) Verify(ctx context.Context) error {
	s.extend(ctx)
	if err := s.client.Noop(); err != nil {
		return fmt.Errorf("NOOP: %w", err)
	}
	return nil
}

func (s *smtpSession) Send(ctx context.Context, msg *Message) (string, error) {
	s.extend(ctx)

	id := msg.MessageID
	if id == "" {
		id = NewMessageID(s.creds.FromEmail)
	}
	raw := Build(s.creds.FromName, s.creds.FromEmail, id, msg)

	if err := s.client.Reset(); err != nil {
		return "", fmt.Errorf("RSET: %w", err)
	}
	if err := s.client.Mail(s.creds.FromEmail); err != nil {
		return "", fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := s.client.Rcpt(msg.To); err != nil {
		return "", fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := s.client.Data()
	if err != nil {
		return "", fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("DATA close: %w", err)
	}
	return id, nil
}

func (s *smtpSession) Close() error {
	if err := s.client.Quit(); err != nil {
		return s.client.Close()
	}
	return nil
}

// plainAuth is PLAIN without the TLS requirement of smtp.PlainAuth, for
// mailboxes configured with security "none".
type plainAuth struct {
	user, pass string
}

func (a *plainAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.user + "\x00" + a.pass), nil
}

func (a *plainAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	return nil, nil
}
