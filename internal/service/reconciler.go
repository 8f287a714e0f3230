package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/outreach-engine/internal/inbox"
	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

const (
	DefaultLookback       = 7 * 24 * time.Hour
	DefaultMailboxTimeout = 30 * time.Second
)

// ReplyWindow bounds how long after a send a reply is still attributed.
const ReplyWindow = 90 * 24 * time.Hour

// Discard reasons recorded on CampaignReply rows.
const (
	DiscardAutoReply    = "auto_reply"
	DiscardNotSent      = "not_sent"
	DiscardBeforeSend   = "before_send"
	DiscardOutsideReply = "outside_reply_window"
)

type ReconcileSummary struct {
	CampaignsChecked int `json:"campaignsChecked"`
	RepliesDetected  int `json:"repliesDetected"`
	ClientsFailed    int `json:"clientsFailed"`
}

// ReplyReconciler scans each active client's mailbox and attaches replies to
// recipients. One slow or broken mailbox only costs its own timeout.
type ReplyReconciler struct {
	Clients    repository.ClientRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Campaigns  repository.CampaignRepositoryInterface
	Replies    repository.ReplyRepositoryInterface
	State      *RecipientStateStore
	Fetcher    inbox.Fetcher
	Cipher     Decrypter
	Queue      queue.Queue
	Log        *zap.Logger

	Lookback    time.Duration
	Timeout     time.Duration
	MaxSessions int
	Now         func() time.Time
}

type clientResult struct {
	campaigns int
	replies   int
}

func (r *ReplyReconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *ReplyReconciler) log() *zap.Logger { return logger.OrNop(r.Log) }

// Run performs one reconciliation pass over every client with an active campaign.
func (r *ReplyReconciler) Run(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary
	clients, err := r.Clients.ListWithActiveCampaigns(ctx)
	if err != nil {
		return summary, fmt.Errorf("listing clients: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(orDefault(r.MaxSessions, DefaultMaxSessions))
	for _, c := range clients {
		c := c
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, orDefault(r.Timeout, DefaultMailboxTimeout))
			defer cancel()

			res, err := r.reconcileClient(cctx, c)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.ClientsFailed++
				r.log().Warn("mailbox scan failed", zap.String("client_id", c.ID), zap.Error(err))
				return nil
			}
			summary.CampaignsChecked += res.campaigns
			summary.RepliesDetected += res.replies
			return nil
		})
	}
	_ = g.Wait()

	r.log().Info("reconcile run finished",
		zap.Int("clients", len(clients)),
		zap.Int("campaigns", summary.CampaignsChecked),
		zap.Int("replies", summary.RepliesDetected),
		zap.Int("failed_clients", summary.ClientsFailed))
	return summary, nil
}

func (r *ReplyReconciler) reconcileClient(ctx context.Context, c *model.Client) (clientResult, error) {
	var res clientResult
	log := r.log().With(zap.String("client_id", c.ID))
	if c.Mail == nil || c.Mail.Host == "" {
		log.Debug("client has no mailbox configured")
		return res, nil
	}

	password, err := r.Cipher.Decrypt(c.Mail.PasswordEncrypted)
	if err != nil {
		return res, fmt.Errorf("decrypting mailbox password: %w", err)
	}

	recipients, err := r.Recipients.ListContacted(ctx, c.ID)
	if err != nil {
		return res, fmt.Errorf("loading recipients: %w", err)
	}
	if len(recipients) == 0 {
		return res, nil
	}
	res.campaigns = countCampaigns(recipients)

	now := r.now()
	msgs, err := r.Fetcher.Fetch(ctx, inbox.Credentials{
		Host:     inbox.IMAPHost(c.Mail.Host),
		Port:     inbox.IMAPPort,
		Username: c.Mail.Username,
		Password: password,
	}, now.Add(-orDefault(r.Lookback, DefaultLookback)))
	if err != nil {
		return res, err
	}

	own := model.NormalizeEmail(c.Mail.FromEmail)
	if own == "" {
		own = model.NormalizeEmail(c.Mail.Username)
	}
	matcher := inbox.NewMatcher(recipients)
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if msg.MessageID == "" || model.NormalizeEmail(msg.FromEmail) == own {
			continue
		}
		attached, err := r.handleMessage(ctx, c, matcher, msg, now)
		if err != nil {
			log.Warn("processing reply", zap.String("message_id", msg.MessageID), zap.Error(err))
			continue
		}
		if attached {
			res.replies++
		}
	}
	return res, nil
}

func countCampaigns(recs []*model.Recipient) int {
	seen := map[string]bool{}
	for _, r := range recs {
		seen[r.CampaignID] = true
	}
	return len(seen)
}

func (r *ReplyReconciler) handleMessage(ctx context.Context, c *model.Client, matcher *inbox.Matcher, msg inbox.Message, now time.Time) (bool, error) {
	seen, err := r.Replies.Exists(ctx, c.ID, msg.MessageID)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	reply := &model.CampaignReply{
		ID:         uuid.NewString(),
		ClientID:   c.ID,
		MessageID:  msg.MessageID,
		FromName:   msg.FromName,
		FromEmail:  msg.FromEmail,
		Subject:    msg.Subject,
		ReceivedAt: msg.ReceivedAt,
		CreatedAt:  now,
	}

	match, ok := matcher.Match(msg)
	if !ok {
		reply.Status = model.ReplyUnmatched
		_, err := r.Replies.Save(ctx, reply)
		return false, err
	}
	rec := match.Recipient
	reply.CampaignID = rec.CampaignID
	reply.RecipientID = rec.ID
	reply.Strategy = match.Strategy
	reply.Confidence = match.Confidence
	reply.IsNewPerson = match.IsNewPerson

	if reason := ValidateReply(msg, rec); reason != "" {
		reply.Status = model.ReplyDiscarded
		reply.DiscardReason = reason
		r.log().Debug("reply discarded",
			zap.String("recipient_id", rec.ID), zap.String("reason", reason), logger.Email("from", msg.FromEmail))
		_, err := r.Replies.Save(ctx, reply)
		return false, err
	}

	// The recipient document remembers the message id, so a run that lost
	// the log write or overlapped another run does not count it twice.
	_, out, err := r.State.MarkReplied(ctx, rec.ID, Identity{Email: msg.FromEmail, Name: msg.FromName}, msg.ReceivedAt, msg.MessageID)
	if err != nil {
		return false, fmt.Errorf("marking replied: %w", err)
	}
	if out.First {
		if _, err := r.Campaigns.ApplyStats(ctx, rec.CampaignID, model.StatsDelta{Replied: 1}, nil); err != nil {
			r.log().Warn("applying reply stats", zap.String("campaign_id", rec.CampaignID), zap.Error(err))
		}
	}
	reply.Status = model.ReplyAttached
	saved, err := r.Replies.Save(ctx, reply)
	if err != nil {
		return false, fmt.Errorf("saving reply: %w", err)
	}
	if !saved {
		// another run logged and announced it
		return false, nil
	}
	r.publish(reply)
	r.log().Info("reply attached",
		zap.String("campaign_id", rec.CampaignID),
		zap.String("recipient_id", rec.ID),
		zap.String("strategy", match.Strategy),
		zap.Bool("new_person", match.IsNewPerson))
	return true, nil
}

func (r *ReplyReconciler) publish(reply *model.CampaignReply) {
	if r.Queue == nil {
		return
	}
	err := r.Queue.Publish(queue.TopicReplies, queue.ReplyDetected{
		Event:       queue.EventReplyDetected,
		ClientID:    reply.ClientID,
		CampaignID:  reply.CampaignID,
		RecipientID: reply.RecipientID,
		FromName:    reply.FromName,
		FromEmail:   reply.FromEmail,
		Subject:     reply.Subject,
		Strategy:    reply.Strategy,
		Confidence:  reply.Confidence,
		IsNewPerson: reply.IsNewPerson,
		ReceivedAt:  reply.ReceivedAt,
	})
	if err != nil {
		r.log().Warn("publishing reply event", zap.String("recipient_id", reply.RecipientID), zap.Error(err))
	}
}

// ValidateReply returns the reason a matched reply must not be applied, or "".
func ValidateReply(msg inbox.Message, rec *model.Recipient) string {
	switch {
	case inbox.IsAutoReply(msg):
		return DiscardAutoReply
	case rec.SentAt == nil:
		return DiscardNotSent
	case msg.ReceivedAt.Before(*rec.SentAt):
		return DiscardBeforeSend
	case msg.ReceivedAt.After(rec.SentAt.Add(ReplyWindow)):
		return DiscardOutsideReply
	}
	return ""
}
