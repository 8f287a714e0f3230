package mailer

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"strings"
)

const (
	CategoryAuthFailed        = "AUTH_FAILED"
	CategoryInvalidEmail      = "INVALID_EMAIL"
	CategoryConnectionTimeout = "CONNECTION_TIMEOUT"
	CategoryQuotaExceeded     = "QUOTA_EXCEEDED"
	CategorySpamBlocked       = "SPAM_BLOCKED"
	CategoryUnknown           = "UNKNOWN_ERROR"
)

// Categories lists every send-failure category.
var Categories = []string{
	CategoryAuthFailed,
	CategoryInvalidEmail,
	CategoryConnectionTimeout,
	CategoryQuotaExceeded,
	CategorySpamBlocked,
	CategoryUnknown,
}

type Classification struct {
	Category        string
	Message         string
	FriendlyMessage string
	// AutoRetry is false for failures a retry cannot fix without a human.
	AutoRetry bool
}

var friendly = map[string]string{
	CategoryAuthFailed:        "The mailbox rejected the login. Check the email password or app password in settings.",
	CategoryInvalidEmail:      "The recipient address does not exist or was rejected.",
	CategoryConnectionTimeout: "Could not reach the mail server. It will be retried automatically.",
	CategoryQuotaExceeded:     "The mail provider's sending limit was reached. It will be retried later.",
	CategorySpamBlocked:       "The message was blocked by a spam or policy filter.",
	CategoryUnknown:           "The email could not be sent. It will be retried automatically.",
}

// FriendlyMessage returns the user-facing text for a category.
func FriendlyMessage(category string) string {
	if m, ok := friendly[category]; ok {
		return m
	}
	return friendly[CategoryUnknown]
}

var keywords = []struct {
	category string
	words    []string
}{
	{CategoryAuthFailed, []string{"auth", "username and password", "invalid credentials", "login", "535", "534"}},
	{CategoryQuotaExceeded, []string{"quota", "rate limit", "too many", "limit exceeded", "sending limit", "try again later", "452"}},
	{CategorySpamBlocked, []string{"spam", "blocked", "blacklist", "blocklist", "policy", "reputation", "rejected for"}},
	{CategoryInvalidEmail, []string{"user unknown", "no such user", "does not exist", "mailbox unavailable", "invalid recipient",
		"recipient address rejected", "address rejected", "unknown recipient", "bad destination", "invalid address", "553"}},
	{CategoryConnectionTimeout, []string{"timeout", "timed out", "connection refused", "connection reset", "no such host",
		"network is unreachable", "broken pipe", "eof", "421"}},
}

// Classify inspects a transport error and maps it to a category.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	category := categoryOf(err)
	return Classification{
		Category:        category,
		Message:         err.Error(),
		FriendlyMessage: FriendlyMessage(category),
		AutoRetry:       category != CategoryAuthFailed && category != CategoryInvalidEmail,
	}
}

func categoryOf(err error) string {
	var tp *textproto.Error
	if errors.As(err, &tp) {
		switch tp.Code {
		case 530, 534, 535:
			return CategoryAuthFailed
		case 452:
			return CategoryQuotaExceeded
		case 421:
			if c := byKeyword(tp.Msg); c != CategoryUnknown {
				return c
			}
			return CategoryConnectionTimeout
		case 550, 551, 553:
			if c := byKeyword(tp.Msg); c == CategorySpamBlocked || c == CategoryQuotaExceeded {
				return c
			}
			return CategoryInvalidEmail
		case 554:
			if c := byKeyword(tp.Msg); c == CategoryInvalidEmail {
				return c
			}
			return CategorySpamBlocked
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return CategoryConnectionTimeout
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return CategoryConnectionTimeout
	}
	return byKeyword(err.Error())
}

func byKeyword(msg string) string {
	msg = strings.ToLower(msg)
	for _, k := range keywords {
		for _, w := range k.words {
			if strings.Contains(msg, w) {
				return k.category
			}
		}
	}
	return CategoryUnknown
}
