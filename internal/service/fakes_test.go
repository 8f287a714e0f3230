package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/inbox"
	"github.com/unclebandit/outreach-engine/internal/mailer"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

// clone round-trips through JSON the same way the postgres doc column does.
func clone[T any](v *T) *T {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

type MockCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
	order     []string
}

func newCampaignRepo(cs ...*model.Campaign) *MockCampaignRepo {
	m := &MockCampaignRepo{campaigns: map[string]*model.Campaign{}}
	for _, c := range cs {
		m.campaigns[c.ID] = clone(c)
		m.order = append(m.order, c.ID)
	}
	return m
}

func (m *MockCampaignRepo) get(id string) *model.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.campaigns[id]; ok {
		return clone(c)
	}
	return nil
}

func (m *MockCampaignRepo) Create(_ context.Context, c *model.Campaign) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[c.ID]; ok {
		return false, nil
	}
	m.campaigns[c.ID] = clone(c)
	m.order = append(m.order, c.ID)
	return true, nil
}

func (m *MockCampaignRepo) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	if c := m.get(id); c != nil {
		return c, nil
	}
	return nil, appErrors.NewCampaignNotFound(id)
}

func (m *MockCampaignRepo) GetByPublicToken(_ context.Context, token string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.campaigns {
		if c.PublicToken == token {
			return clone(c), nil
		}
	}
	return nil, appErrors.NewCampaignNotFound(token)
}

func (m *MockCampaignRepo) ListCampaigns(_ context.Context, offset, limit int, clientID, status string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*model.Campaign
	for i := len(m.order) - 1; i >= 0; i-- {
		c := m.campaigns[m.order[i]]
		if (clientID == "" || c.ClientID == clientID) && (status == "" || c.Status == status) {
			all = append(all, clone(c))
		}
	}

	start := offset
	end := offset + limit

	if start >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	if end > len(all) {
		end = len(all)
	}

	return all[start:end], len(all), nil
}

func (m *MockCampaignRepo) Update(_ context.Context, id string, fn func(*model.Campaign) error) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	next := clone(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	m.campaigns[id] = next
	return clone(next), nil
}

func (m *MockCampaignRepo) ApplyStats(ctx context.Context, id string, delta model.StatsDelta, lastSentAt *time.Time) (*model.Campaign, error) {
	return m.Update(ctx, id, func(c *model.Campaign) error {
		c.Stats.Apply(delta)
		if lastSentAt != nil {
			c.LastSentAt = lastSentAt
		}
		return nil
	})
}

type MockRecipientRepo struct {
	mu         sync.Mutex
	recipients map[string]*model.Recipient
	campaigns  *MockCampaignRepo
	failBatch  error
	batches    []int
	// failWrites fails that many upcoming Transact calls.
	failWrites int
}

func newRecipientRepo(campaigns *MockCampaignRepo, rs ...*model.Recipient) *MockRecipientRepo {
	m := &MockRecipientRepo{recipients: map[string]*model.Recipient{}, campaigns: campaigns}
	for _, r := range rs {
		m.recipients[r.ID] = clone(r)
	}
	return m
}

func (m *MockRecipientRepo) get(id string) *model.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recipients[id]; ok {
		return clone(r)
	}
	return nil
}

func (m *MockRecipientRepo) all() []*model.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Recipient, 0, len(m.recipients))
	for _, r := range m.recipients {
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ScheduledFor.Before(out[j].ScheduledFor)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MockRecipientRepo) CreateBatch(_ context.Context, rs []*model.Recipient) (int, error) {
	if len(rs) > repository.MaxBatchWrite {
		return 0, errors.New("batch too large")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, len(rs))
	if m.failBatch != nil {
		return 0, m.failBatch
	}
	n := 0
	for _, r := range rs {
		dup := false
		for _, existing := range m.recipients {
			if existing.CampaignID == r.CampaignID && model.NormalizeEmail(existing.OriginalContact.Email) == model.NormalizeEmail(r.OriginalContact.Email) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		m.recipients[r.ID] = clone(r)
		n++
	}
	return n, nil
}

func (m *MockRecipientRepo) GetByID(_ context.Context, id string) (*model.Recipient, error) {
	if r := m.get(id); r != nil {
		return r, nil
	}
	return nil, appErrors.NewRecipientNotFound(id)
}

func (m *MockRecipientRepo) GetByTrackingID(_ context.Context, trackingID string) (*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recipients {
		if r.TrackingID == trackingID {
			return clone(r), nil
		}
	}
	return nil, appErrors.NewRecipientNotFound(trackingID)
}

func (m *MockRecipientRepo) Transact(_ context.Context, id string, fn func(*model.Recipient) error) (*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites > 0 {
		m.failWrites--
		return nil, errors.New("could not serialize access")
	}
	cur, ok := m.recipients[id]
	if !ok {
		return nil, appErrors.NewRecipientNotFound(id)
	}
	next := clone(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	m.recipients[id] = next
	return clone(next), nil
}

func (m *MockRecipientRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]*model.Recipient, error) {
	var due []*model.Recipient
	for _, r := range m.all() {
		c := m.campaigns.get(r.CampaignID)
		if r.Status == model.StatusPending && !r.ScheduledFor.After(now) && c != nil && c.Status == model.CampaignActive {
			due = append(due, r)
		}
	}
	if len(due) > limit {
		due = due[:limit]
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range due {
		claimedAt := now
		r.Status = model.StatusSending
		r.ClaimedAt = &claimedAt
		r.UpdatedAt = now
		m.recipients[r.ID] = clone(r)
	}
	return due, nil
}

func (m *MockRecipientRepo) ListStaleSending(_ context.Context, before time.Time, limit int) ([]*model.Recipient, error) {
	var out []*model.Recipient
	for _, r := range m.all() {
		if r.Status == model.StatusSending && r.UpdatedAt.Before(before) {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockRecipientRepo) CountOpen(_ context.Context, campaignID string) (int, error) {
	n := 0
	for _, r := range m.all() {
		if r.CampaignID == campaignID && (r.Status == model.StatusPending || r.Status == model.StatusSending) {
			n++
		}
	}
	return n, nil
}

func (m *MockRecipientRepo) ListByCampaign(_ context.Context, campaignID, status string) ([]*model.Recipient, error) {
	out := []*model.Recipient{}
	for _, r := range m.all() {
		if r.CampaignID == campaignID && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockRecipientRepo) ListContacted(_ context.Context, clientID string) ([]*model.Recipient, error) {
	out := []*model.Recipient{}
	for _, r := range m.all() {
		if r.ClientID == clientID && len(r.EmailHistory) > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

type MockClientRepo struct {
	clients map[string]*model.Client
	active  []string
}

func newClientRepo(cs ...*model.Client) *MockClientRepo {
	m := &MockClientRepo{clients: map[string]*model.Client{}}
	for _, c := range cs {
		m.clients[c.ID] = c
		m.active = append(m.active, c.ID)
	}
	return m
}

func (m *MockClientRepo) GetByID(_ context.Context, id string) (*model.Client, error) {
	if c, ok := m.clients[id]; ok {
		return clone(c), nil
	}
	return nil, appErrors.NewClientNotFound(id)
}

func (m *MockClientRepo) ListWithActiveCampaigns(context.Context) ([]*model.Client, error) {
	out := make([]*model.Client, 0, len(m.active))
	for _, id := range m.active {
		out = append(out, clone(m.clients[id]))
	}
	return out, nil
}

func (m *MockClientRepo) Save(_ context.Context, c *model.Client) error {
	m.clients[c.ID] = clone(c)
	return nil
}

type MockContactRepo struct {
	candidates []model.Candidate
}

func (m *MockContactRepo) ListByType(_ context.Context, types ...string) ([]model.Candidate, error) {
	var out []model.Candidate
	for _, c := range m.candidates {
		for _, t := range types {
			if c.Type == t {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

type MockErrorLog struct {
	mu      sync.Mutex
	entries []model.CampaignError
}

func (m *MockErrorLog) Append(_ context.Context, e *model.CampaignError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *MockErrorLog) ListByCampaign(_ context.Context, campaignID string) ([]model.CampaignError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.CampaignError{}
	for _, e := range m.entries {
		if e.CampaignID == campaignID {
			out = append(out, e)
		}
	}
	return out, nil
}

type MockReplyRepo struct {
	mu      sync.Mutex
	replies []*model.CampaignReply

	// failAttached fails that many saves of attached replies.
	failAttached int
	// onExists runs before every lookup, outside the lock.
	onExists func()
}

func (m *MockReplyRepo) Exists(_ context.Context, clientID, messageID string) (bool, error) {
	if m.onExists != nil {
		m.onExists()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.has(clientID, messageID), nil
}

func (m *MockReplyRepo) has(clientID, messageID string) bool {
	for _, r := range m.replies {
		if r.ClientID == clientID && r.MessageID == messageID {
			return true
		}
	}
	return false
}

func (m *MockReplyRepo) Save(_ context.Context, reply *model.CampaignReply) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reply.Status == model.ReplyAttached && m.failAttached > 0 {
		m.failAttached--
		return false, errors.New("connection reset")
	}
	if m.has(reply.ClientID, reply.MessageID) {
		return false, nil
	}
	m.replies = append(m.replies, clone(reply))
	return true, nil
}

func (m *MockReplyRepo) ListByCampaign(_ context.Context, campaignID string) ([]*model.CampaignReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.CampaignReply
	for _, r := range m.replies {
		if r.CampaignID == campaignID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockReplyRepo) byStatus(status string) []*model.CampaignReply {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.CampaignReply
	for _, r := range m.replies {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

type MockAuditRepo struct {
	entries []*model.AuditEntry
}

func (m *MockAuditRepo) Append(_ context.Context, e *model.AuditEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

// plainCipher "encrypts" by prefixing enc:.
type plainCipher struct{}

func (plainCipher) Decrypt(s string) (string, error) {
	if !strings.HasPrefix(s, "enc:") {
		return "", errors.New("malformed ciphertext")
	}
	return strings.TrimPrefix(s, "enc:"), nil
}

type MockSession struct {
	mu        sync.Mutex
	verifyErr error
	failFor   map[string]error
	sent      []*mailer.Message
	closed    bool
}

func (s *MockSession) Verify(context.Context) error { return s.verifyErr }

func (s *MockSession) Send(_ context.Context, msg *mailer.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[msg.To]; err != nil {
		return "", err
	}
	s.sent = append(s.sent, msg)
	return msg.MessageID, nil
}

func (s *MockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MockSession) sentTo() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.To
	}
	return out
}

type MockDialer struct {
	mu      sync.Mutex
	session *MockSession
	dialErr error
	dials   int
	creds   []mailer.Credentials
}

func (d *MockDialer) Dial(_ context.Context, creds mailer.Credentials) (mailer.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.creds = append(d.creds, creds)
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.session, nil
}

type MockFetcher struct {
	mu       sync.Mutex
	messages map[string][]inbox.Message // keyed by IMAP host
	block    map[string]bool
	hosts    []string
}

func (f *MockFetcher) Fetch(ctx context.Context, creds inbox.Credentials, _ time.Time) ([]inbox.Message, error) {
	f.mu.Lock()
	f.hosts = append(f.hosts, creds.Host)
	blocked := f.block[creds.Host]
	f.mu.Unlock()
	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.messages[creds.Host], nil
}
