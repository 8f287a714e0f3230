package inbox

import (
	"regexp"
	"strings"

	"github.com/unclebandit/outreach-engine/internal/model"
)

const (
	StrategyExact        = "exact"
	StrategyForwardedTo  = "forwarded_to"
	StrategyThread       = "thread"
	StrategyDomain       = "domain"
	StrategyOrganization = "organization"
	StrategySubject      = "subject"

	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
)

// Match is the recipient a reply was attributed to.
type Match struct {
	Recipient   *model.Recipient
	Strategy    string
	Confidence  string
	IsNewPerson bool
}

var freeMail = map[string]bool{
	"gmail.com": true, "googlemail.com": true, "yahoo.com": true, "ymail.com": true,
	"hotmail.com": true, "outlook.com": true, "live.com": true, "msn.com": true,
	"icloud.com": true, "me.com": true, "mac.com": true, "aol.com": true,
	"proton.me": true, "protonmail.com": true, "gmx.com": true, "gmx.de": true,
	"mail.com": true, "yandex.com": true, "yandex.ru": true, "zoho.com": true,
}

// IsFreeMail reports whether domain belongs to a public mailbox provider.
func IsFreeMail(domain string) bool {
	return freeMail[strings.ToLower(domain)]
}

// Matcher runs the attribution cascade over one client's recipients.
type Matcher struct {
	recipients []*model.Recipient
}

func NewMatcher(recipients []*model.Recipient) *Matcher {
	return &Matcher{recipients: recipients}
}

// Match tries each strategy in order and stops at the first hit.
func (m *Matcher) Match(msg Message) (Match, bool) {
	sender := model.NormalizeEmail(msg.FromEmail)
	if sender == "" {
		return Match{}, false
	}
	strategies := []func(Message, string) (Match, bool){
		m.exact,
		m.forwardedTo,
		m.thread,
		m.domain,
		m.organization,
		m.subject,
	}
	for _, s := range strategies {
		if match, ok := s(msg, sender); ok {
			if match.Strategy != StrategyExact {
				match.IsNewPerson = sender != model.NormalizeEmail(match.Recipient.OriginalContact.Email)
			}
			return match, true
		}
	}
	return Match{}, false
}

func (m *Matcher) exact(_ Message, sender string) (Match, bool) {
	var hits []*model.Recipient
	for _, r := range m.recipients {
		if model.NormalizeEmail(r.OriginalContact.Email) == sender {
			hits = append(hits, r)
		}
	}
	if len(hits) == 0 {
		return Match{}, false
	}
	return Match{Recipient: latestSent(hits), Strategy: StrategyExact, Confidence: ConfidenceHigh}, true
}

func (m *Matcher) forwardedTo(msg Message, sender string) (Match, bool) {
	to := model.NormalizeEmail(msg.ToEmail)
	if to == "" || to == sender {
		return Match{}, false
	}
	var hits []*model.Recipient
	for _, r := range m.recipients {
		if model.NormalizeEmail(r.OriginalContact.Email) == to {
			hits = append(hits, r)
		}
	}
	if len(hits) == 0 {
		return Match{}, false
	}
	return Match{Recipient: latestSent(hits), Strategy: StrategyForwardedTo, Confidence: ConfidenceHigh}, true
}

func (m *Matcher) thread(msg Message, _ string) (Match, bool) {
	if msg.InReplyTo == "" {
		return Match{}, false
	}
	for _, r := range m.recipients {
		for _, e := range r.EmailHistory {
			if e.EmailID != "" && strings.EqualFold(e.EmailID, msg.InReplyTo) {
				return Match{Recipient: r, Strategy: StrategyThread, Confidence: ConfidenceHigh}, true
			}
		}
	}
	return Match{}, false
}

func (m *Matcher) domain(_ Message, sender string) (Match, bool) {
	domain := model.DomainOf(sender)
	if domain == "" || IsFreeMail(domain) {
		return Match{}, false
	}
	var hits []*model.Recipient
	for _, r := range m.delivered() {
		if r.EmailDomain() == domain {
			hits = append(hits, r)
		}
	}
	switch len(hits) {
	case 0:
		return Match{}, false
	case 1:
		return Match{Recipient: hits[0], Strategy: StrategyDomain, Confidence: ConfidenceHigh}, true
	}
	best := hits[0]
	for _, r := range hits[1:] {
		if betterDomainCandidate(r, best) {
			best = r
		}
	}
	return Match{Recipient: best, Strategy: StrategyDomain, Confidence: ConfidenceMedium}, true
}

// betterDomainCandidate orders by priority, then match score, then most
// recent send.
func betterDomainCandidate(a, b *model.Recipient) bool {
	if pa, pb := model.PriorityRank(a.Priority), model.PriorityRank(b.Priority); pa != pb {
		return pa > pb
	}
	if a.MatchScore != b.MatchScore {
		return a.MatchScore > b.MatchScore
	}
	return sentAfter(a, b)
}

func (m *Matcher) organization(_ Message, sender string) (Match, bool) {
	domain := model.DomainOf(sender)
	if domain == "" || IsFreeMail(domain) {
		return Match{}, false
	}
	org := InferOrganization(domain)
	if org == "" {
		return Match{}, false
	}
	for _, r := range m.delivered() {
		if NormalizeOrganization(r.OriginalContact.Organization) == org {
			return Match{Recipient: r, Strategy: StrategyOrganization, Confidence: ConfidenceMedium}, true
		}
	}
	return Match{}, false
}

func (m *Matcher) subject(msg Message, _ string) (Match, bool) {
	reply := StripSubjectPrefixes(msg.Subject)
	if reply == "" {
		return Match{}, false
	}
	var fallback *model.Recipient
	for _, r := range m.delivered() {
		if !subjectMatches(reply, r) {
			continue
		}
		if model.StatusRank(r.Status) >= model.StatusRank(model.StatusOpened) {
			return Match{Recipient: r, Strategy: StrategySubject, Confidence: ConfidenceMedium}, true
		}
		if fallback == nil {
			fallback = r
		}
	}
	if fallback == nil {
		return Match{}, false
	}
	return Match{Recipient: fallback, Strategy: StrategySubject, Confidence: ConfidenceMedium}, true
}

func subjectMatches(reply string, r *model.Recipient) bool {
	for _, e := range r.EmailHistory {
		sent := StripSubjectPrefixes(e.Subject)
		if sent == "" {
			continue
		}
		if strings.Contains(reply, sent) || strings.Contains(sent, reply) {
			return true
		}
		if WordOverlap(reply, sent) > 0.5 {
			return true
		}
	}
	return false
}

func (m *Matcher) delivered() []*model.Recipient {
	out := make([]*model.Recipient, 0, len(m.recipients))
	for _, r := range m.recipients {
		if model.IsDeliveredOrLater(r.Status) {
			out = append(out, r)
		}
	}
	return out
}

var subjectPrefix = regexp.MustCompile(`^\s*(re|fwd|fw|aw|wg)\s*(\[\d+\])?\s*:\s*`)

// StripSubjectPrefixes removes any run of reply/forward prefixes and
// lower-cases the result.
func StripSubjectPrefixes(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for {
		stripped := subjectPrefix.ReplaceAllString(s, "")
		if stripped == s {
			return strings.TrimSpace(s)
		}
		s = stripped
	}
}

// WordOverlap is the count of shared words over the larger word set.
func WordOverlap(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	common := 0
	for w := range wa {
		if wb[w] {
			common++
		}
	}
	larger := len(wa)
	if len(wb) > larger {
		larger = len(wb)
	}
	return float64(common) / float64(larger)
}

func wordSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), notAlnum) {
		set[w] = true
	}
	return set
}

func notAlnum(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
}

// InferOrganization takes the first label of the sender domain, so
// "sequoiacap.com" yields "sequoiacap".
func InferOrganization(domain string) string {
	label := strings.ToLower(domain)
	if i := strings.Index(label, "."); i >= 0 {
		label = label[:i]
	}
	return NormalizeOrganization(label)
}

// NormalizeOrganization keeps only lower-case letters and digits.
func NormalizeOrganization(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if !notAlnum(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func latestSent(rs []*model.Recipient) *model.Recipient {
	best := rs[0]
	for _, r := range rs[1:] {
		if sentAfter(r, best) {
			best = r
		}
	}
	return best
}

func sentAfter(a, b *model.Recipient) bool {
	switch {
	case a.SentAt == nil:
		return false
	case b.SentAt == nil:
		return true
	}
	return a.SentAt.After(*b.SentAt)
}
