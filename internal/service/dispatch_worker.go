package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/mailer"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

const (
	DefaultBatchSize   = 50
	DefaultMaxSessions = 4
	DefaultStaleAfter  = 30 * time.Minute
	DefaultSendRate    = rate.Limit(1)
	staleRecoveryLimit = 200
)

// Decrypter opens stored mailbox passwords.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

type DispatchSummary struct {
	Sent               int `json:"sent"`
	Failed             int `json:"failed"`
	Pending            int `json:"pending"`
	CampaignsProcessed int `json:"campaignsProcessed"`
	Recovered          int `json:"recovered"`
}

// DispatchWorker sends due recipients. Each run claims a batch, groups it by
// campaign and sends every group over one mail session; groups run in
// parallel up to MaxSessions.
type DispatchWorker struct {
	Recipients repository.RecipientRepositoryInterface
	Campaigns  repository.CampaignRepositoryInterface
	Clients    repository.ClientRepositoryInterface
	Errors     repository.ErrorLogRepositoryInterface
	State      *RecipientStateStore
	Templates  *TemplateService
	Dialer     mailer.Dialer
	Cipher     Decrypter
	Log        *zap.Logger

	TrackingBaseURL string
	BatchSize       int
	MaxSessions     int
	SendRate        rate.Limit
	StaleAfter      time.Duration
	Now             func() time.Time
}

// errDeliveryUnrecorded means the server accepted a message but the
// recipient could not be marked delivered.
var errDeliveryUnrecorded = errors.New("delivery accepted but not recorded")

type groupResult struct {
	sent, failed, retrying int
}

func (w *DispatchWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

func (w *DispatchWorker) log() *zap.Logger { return logger.OrNop(w.Log) }

func orDefault[T int | time.Duration | rate.Limit](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// Run performs one dispatch pass.
func (w *DispatchWorker) Run(ctx context.Context) (DispatchSummary, error) {
	var summary DispatchSummary
	now := w.now()

	recovered, err := w.recoverStale(ctx, now)
	if err != nil {
		return summary, err
	}
	summary.Recovered = recovered
	summary.Failed += recovered

	claimed, err := w.Recipients.ClaimDue(ctx, now, orDefault(w.BatchSize, DefaultBatchSize))
	if err != nil {
		return summary, fmt.Errorf("claiming due recipients: %w", err)
	}
	if len(claimed) == 0 {
		return summary, nil
	}

	order, groups := groupByCampaign(claimed)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(orDefault(w.MaxSessions, DefaultMaxSessions))
	for _, campaignID := range order {
		campaignID, recs := campaignID, groups[campaignID]
		g.Go(func() error {
			res := w.processCampaign(gctx, campaignID, recs)
			mu.Lock()
			summary.Sent += res.sent
			summary.Failed += res.failed
			summary.Pending += res.retrying
			summary.CampaignsProcessed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	w.log().Info("dispatch run finished",
		zap.Int("claimed", len(claimed)),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Int("pending", summary.Pending),
		zap.Int("campaigns", summary.CampaignsProcessed),
		zap.Int("recovered", summary.Recovered))
	return summary, nil
}

func groupByCampaign(recs []*model.Recipient) ([]string, map[string][]*model.Recipient) {
	var order []string
	groups := map[string][]*model.Recipient{}
	for _, r := range recs {
		if _, ok := groups[r.CampaignID]; !ok {
			order = append(order, r.CampaignID)
		}
		groups[r.CampaignID] = append(groups[r.CampaignID], r)
	}
	return order, groups
}

// recoverStale fails recipients left in flight by a crashed run. They are
// not resent: the server may already have accepted them.
func (w *DispatchWorker) recoverStale(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-orDefault(w.StaleAfter, DefaultStaleAfter))
	stale, err := w.Recipients.ListStaleSending(ctx, cutoff, staleRecoveryLimit)
	if err != nil {
		return 0, fmt.Errorf("listing stale recipients: %w", err)
	}

	deltas := map[string]*model.StatsDelta{}
	n := 0
	for _, r := range stale {
		rec, ok, err := w.State.MarkStale(ctx, r.ID, now)
		if err != nil {
			w.log().Warn("recovering stale recipient", zap.String("recipient_id", r.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		n++
		w.appendError(ctx, rec)
		d := deltaFor(deltas, rec.CampaignID)
		d.Failed++
		d.Pending--
		d.Errors[mailer.CategoryUnknown]++
	}
	for id, d := range deltas {
		if _, err := w.Campaigns.ApplyStats(ctx, id, *d, nil); err != nil {
			w.log().Warn("applying stale stats", zap.String("campaign_id", id), zap.Error(err))
		}
	}
	return n, nil
}

func deltaFor(m map[string]*model.StatsDelta, id string) *model.StatsDelta {
	d, ok := m[id]
	if !ok {
		d = &model.StatsDelta{Errors: map[string]int{}}
		m[id] = d
	}
	return d
}

func (w *DispatchWorker) processCampaign(ctx context.Context, campaignID string, recs []*model.Recipient) groupResult {
	log := w.log().With(zap.String("campaign_id", campaignID))
	var res groupResult
	delta := model.StatsDelta{Errors: map[string]int{}}
	var lastSent *time.Time

	defer func() {
		if delta.IsZero() {
			return
		}
		bctx := context.WithoutCancel(ctx)
		if _, err := w.Campaigns.ApplyStats(bctx, campaignID, delta, lastSent); err != nil {
			log.Warn("applying campaign stats", zap.Error(err))
			return
		}
		w.completeIfDone(bctx, campaignID, log)
	}()

	campaign, err := w.Campaigns.GetByID(ctx, campaignID)
	if err != nil || campaign.Status != model.CampaignActive {
		if err != nil {
			log.Warn("loading campaign", zap.Error(err))
		}
		w.releaseAll(ctx, recs, log)
		return res
	}

	client, creds, err := w.credentials(ctx, campaign.ClientID)
	if err != nil {
		log.Warn("mail credentials unavailable", zap.Error(err))
		w.failAll(ctx, recs, authFailure(err), &res, &delta)
		return res
	}

	session, err := w.Dialer.Dial(ctx, creds)
	if err != nil {
		cls := mailer.Classify(err)
		log.Warn("mail session failed", zap.String("category", cls.Category), zap.Error(err))
		w.failAll(ctx, recs, cls, &res, &delta)
		return res
	}
	defer session.Close()

	if err := session.Verify(ctx); err != nil {
		log.Warn("mail session verification failed", zap.Error(err))
		w.failAll(ctx, recs, authFailure(err), &res, &delta)
		return res
	}

	limiter := rate.NewLimiter(orDefault(w.SendRate, DefaultSendRate), 1)
	for i, r := range recs {
		if err := limiter.Wait(ctx); err != nil {
			w.releaseAll(ctx, recs[i:], log)
			return res
		}
		sentAt, err := w.send(ctx, session, campaign, client, creds, r)
		if errors.Is(err, errDeliveryUnrecorded) {
			// still in flight; the stale sweep fails it and counts it once
			continue
		}
		if err != nil {
			w.recordFailure(ctx, r, mailer.Classify(err), &res, &delta)
			continue
		}
		res.sent++
		delta.Sent++
		delta.Delivered++
		delta.Pending--
		if lastSent == nil || sentAt.After(*lastSent) {
			lastSent = &sentAt
		}
	}
	log.Info("campaign group dispatched", zap.Int("sent", res.sent), zap.Int("failed", res.failed), zap.Int("retrying", res.retrying))
	return res
}

func authFailure(err error) mailer.Classification {
	return mailer.Classification{
		Category:        mailer.CategoryAuthFailed,
		Message:         err.Error(),
		FriendlyMessage: mailer.FriendlyMessage(mailer.CategoryAuthFailed),
	}
}

func (w *DispatchWorker) credentials(ctx context.Context, clientID string) (*model.Client, mailer.Credentials, error) {
	client, err := w.Clients.GetByID(ctx, clientID)
	if err != nil {
		return nil, mailer.Credentials{}, err
	}
	m := client.Mail
	if m == nil || m.Host == "" {
		return nil, mailer.Credentials{}, errors.New("no outbound mailbox configured")
	}
	password, err := w.Cipher.Decrypt(m.PasswordEncrypted)
	if err != nil {
		return nil, mailer.Credentials{}, fmt.Errorf("decrypting mailbox password: %w", err)
	}
	fromName := m.FromName
	if fromName == "" {
		fromName = client.FounderName
	}
	fromEmail := m.FromEmail
	if fromEmail == "" {
		fromEmail = m.Username
	}
	return client, mailer.Credentials{
		Host:      m.Host,
		Port:      m.Port,
		Username:  m.Username,
		Password:  password,
		Security:  m.Security,
		FromName:  fromName,
		FromEmail: fromEmail,
	}, nil
}

func (w *DispatchWorker) send(ctx context.Context, session mailer.Session, c *model.Campaign, client *model.Client, creds mailer.Credentials, r *model.Recipient) (time.Time, error) {
	vars := TemplateVars{
		Name:         r.OriginalContact.Name,
		Organization: r.OriginalContact.Organization,
		CompanyName:  client.CompanyName,
		FounderName:  client.FounderName,
	}
	if vars.FounderName == "" {
		vars.FounderName = creds.FromName
	}

	subject := w.Templates.Render(c.CurrentTemplate.Subject, vars)
	body := w.Templates.RenderHTML(c.CurrentTemplate.Body, vars)
	body = InjectPixel(body, PixelURL(w.TrackingBaseURL, r.TrackingID))

	msg := &mailer.Message{
		To:        r.OriginalContact.Email,
		ToName:    r.OriginalContact.Name,
		Subject:   subject,
		HTMLBody:  body,
		MessageID: mailer.NewMessageID(creds.FromEmail),
	}
	if latest := r.LatestEmail(); latest != nil {
		msg.InReplyTo = latest.EmailID
	}

	id, err := session.Send(ctx, msg)
	if err != nil {
		return time.Time{}, err
	}
	sentAt := w.now()
	_, err = w.State.MarkDelivered(ctx, r.ID, model.EmailHistoryEntry{
		EmailID: id,
		Stage:   r.CurrentStage,
		Subject: subject,
		SentTo:  r.OriginalContact.Email,
		SentAt:  sentAt,
	})
	if err != nil {
		w.log().Error("recording delivery", zap.String("recipient_id", r.ID), logger.Email("to", r.OriginalContact.Email), zap.Error(err))
		return sentAt, fmt.Errorf("%w: %v", errDeliveryUnrecorded, err)
	}
	return sentAt, nil
}

func (w *DispatchWorker) recordFailure(ctx context.Context, r *model.Recipient, cls mailer.Classification, res *groupResult, delta *model.StatsDelta) {
	rec, out, err := w.State.MarkFailed(ctx, r.ID, cls, w.now())
	if err != nil {
		w.log().Warn("recording send failure", zap.String("recipient_id", r.ID), zap.Error(err))
		return
	}
	delta.Errors[cls.Category]++
	if out.Retrying {
		res.retrying++
	} else {
		res.failed++
		delta.Failed++
		delta.Pending--
	}
	w.appendError(ctx, rec)
	w.log().Warn("send failed",
		zap.String("campaign_id", r.CampaignID),
		zap.String("recipient_id", r.ID),
		logger.Email("to", r.OriginalContact.Email),
		zap.String("category", cls.Category),
		zap.Int("attempt", out.Attempt),
		zap.Bool("retrying", out.Retrying))
}

func (w *DispatchWorker) failAll(ctx context.Context, recs []*model.Recipient, cls mailer.Classification, res *groupResult, delta *model.StatsDelta) {
	for _, r := range recs {
		w.recordFailure(ctx, r, cls, res, delta)
	}
}

func (w *DispatchWorker) releaseAll(ctx context.Context, recs []*model.Recipient, log *zap.Logger) {
	for _, r := range recs {
		if err := w.State.Release(context.WithoutCancel(ctx), r.ID); err != nil {
			log.Warn("releasing recipient", zap.String("recipient_id", r.ID), zap.Error(err))
		}
	}
}

func (w *DispatchWorker) appendError(ctx context.Context, rec *model.Recipient) {
	if w.Errors == nil || rec == nil || rec.LastError == nil {
		return
	}
	e := rec.LastError
	err := w.Errors.Append(ctx, &model.CampaignError{
		ID:              uuid.NewString(),
		CampaignID:      rec.CampaignID,
		RecipientID:     rec.ID,
		Category:        e.Category,
		Message:         e.Message,
		FriendlyMessage: e.FriendlyMessage,
		Attempt:         e.Attempt,
		CreatedAt:       e.At,
	})
	if err != nil {
		w.log().Warn("appending campaign error", zap.String("recipient_id", rec.ID), zap.Error(err))
	}
}

// completeIfDone closes an active campaign once no recipient is pending or in flight.
func (w *DispatchWorker) completeIfDone(ctx context.Context, campaignID string, log *zap.Logger) {
	open, err := w.Recipients.CountOpen(ctx, campaignID)
	if err != nil || open > 0 {
		return
	}
	now := w.now()
	_, err = w.Campaigns.Update(ctx, campaignID, func(c *model.Campaign) error {
		if c.Status != model.CampaignActive {
			return errUnchanged
		}
		c.Status = model.CampaignCompleted
		c.CompletedAt = &now
		c.UpdatedAt = &now
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		log.Warn("completing campaign", zap.Error(err))
		return
	}
	if err == nil {
		log.Info("campaign completed")
	}
}
