package service

import (
	"context"
	"errors"
	"time"

	"github.com/unclebandit/outreach-engine/internal/mailer"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

// MaxAutoRetries is how many automatic resends a recipient gets.
const MaxAutoRetries = 3

// errUnchanged aborts a transaction whose result would equal its input.
var errUnchanged = errors.New("recipient unchanged")

// Identity is the person behind an open or a reply.
type Identity struct {
	Email string
	Name  string
}

// RetryBackoff is the delay before automatic attempt n+1: 30, 60, 120 minutes.
func RetryBackoff(attempt int) time.Duration {
	return time.Duration(30<<attempt) * time.Minute
}

// FailureOutcome says what MarkFailed decided.
type FailureOutcome struct {
	Retrying bool
	Attempt  int
	RetryAt  time.Time
}

// RecipientStateStore applies every state transition as a read-modify-write
// transaction on one recipient document.
type RecipientStateStore struct {
	Recipients repository.RecipientRepositoryInterface
}

func NewRecipientStateStore(repo repository.RecipientRepositoryInterface) *RecipientStateStore {
	return &RecipientStateStore{Recipients: repo}
}

func (s *RecipientStateStore) transact(ctx context.Context, id string, fn func(*model.Recipient) error) (*model.Recipient, bool, error) {
	rec, err := s.Recipients.Transact(ctx, id, fn)
	if errors.Is(err, errUnchanged) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// MarkDelivered records an accepted send.
func (s *RecipientStateStore) MarkDelivered(ctx context.Context, id string, entry model.EmailHistoryEntry) (*model.Recipient, error) {
	rec, _, err := s.transact(ctx, id, func(r *model.Recipient) error {
		return applyDelivered(r, entry)
	})
	return rec, err
}

// MarkOpened counts one open by who. first is true on the recipient's first
// open ever.
func (s *RecipientStateStore) MarkOpened(ctx context.Context, id string, who Identity, at time.Time, source string) (rec *model.Recipient, first bool, err error) {
	rec, _, err = s.transact(ctx, id, func(r *model.Recipient) error {
		first = applyOpened(r, who, at, source)
		return nil
	})
	return rec, first, err
}

// ReplyOutcome says what MarkReplied decided.
type ReplyOutcome struct {
	// Applied is false when the message was already counted.
	Applied bool
	// First is true on the recipient's first reply ever.
	First bool
}

// MarkReplied counts one reply by who. The provider message id is stored in
// the same transaction, so a message is counted at most once however many
// runs see it.
func (s *RecipientStateStore) MarkReplied(ctx context.Context, id string, who Identity, receivedAt time.Time, messageID string) (rec *model.Recipient, out ReplyOutcome, err error) {
	rec, applied, err := s.transact(ctx, id, func(r *model.Recipient) error {
		if messageID != "" && r.HasReply(messageID) {
			return errUnchanged
		}
		out.First = applyReplied(r, who, receivedAt)
		if messageID != "" {
			r.ReplyMessageIDs = append(r.ReplyMessageIDs, messageID)
		}
		return nil
	})
	if err != nil || !applied {
		return rec, ReplyOutcome{}, err
	}
	out.Applied = true
	return rec, out, nil
}

// MarkFailed records a failed attempt and either reschedules the recipient
// or leaves it failed.
func (s *RecipientStateStore) MarkFailed(ctx context.Context, id string, cls mailer.Classification, now time.Time) (rec *model.Recipient, out FailureOutcome, err error) {
	rec, _, err = s.transact(ctx, id, func(r *model.Recipient) error {
		out = applyFailed(r, cls, now)
		return nil
	})
	return rec, out, err
}

// MarkStale fails a recipient whose send was claimed but never confirmed.
// It is not resent automatically. ok is false when the recipient already
// left the in-flight state.
func (s *RecipientStateStore) MarkStale(ctx context.Context, id string, now time.Time) (*model.Recipient, bool, error) {
	return s.transact(ctx, id, func(r *model.Recipient) error {
		if r.Status != model.StatusSending {
			return errUnchanged
		}
		recordError(r, model.RecipientError{
			Category:        mailer.CategoryUnknown,
			Message:         "send interrupted before the server confirmed it",
			FriendlyMessage: "The send was interrupted and may or may not have gone out. Retry it manually if needed.",
			Attempt:         r.RetryCount,
			At:              now,
		})
		r.Status = model.StatusFailed
		r.CanRetry = true
		r.ClaimedAt = nil
		return nil
	})
}

// Release hands a claimed recipient back to the queue untouched.
func (s *RecipientStateStore) Release(ctx context.Context, id string) error {
	_, _, err := s.transact(ctx, id, func(r *model.Recipient) error {
		if r.Status != model.StatusSending {
			return errUnchanged
		}
		r.Status = model.StatusPending
		r.ClaimedAt = nil
		return nil
	})
	return err
}

// ResetForRetry reschedules a failed recipient for immediate sending. ok is
// false when the recipient is not failed or not retryable, or belongs to a
// different campaign.
func (s *RecipientStateStore) ResetForRetry(ctx context.Context, campaignID, id string, now time.Time) (*model.Recipient, bool, error) {
	return s.transact(ctx, id, func(r *model.Recipient) error {
		if r.CampaignID != campaignID || r.Status != model.StatusFailed || !r.CanRetry {
			return errUnchanged
		}
		r.Status = model.StatusPending
		r.RetryCount = 0
		r.CanRetry = false
		r.ScheduledFor = now
		return nil
	})
}

func applyDelivered(r *model.Recipient, entry model.EmailHistoryEntry) error {
	if r.Status != model.StatusSending && r.Status != model.StatusPending {
		return errUnchanged
	}
	if entry.Stage == "" {
		entry.Stage = model.StageInitial
	}
	r.EmailHistory = append(r.EmailHistory, entry)
	r.Status = model.StatusDelivered
	if r.CurrentStage == "" {
		r.CurrentStage = model.StageInitial
	}
	if r.SentAt == nil {
		sentAt := entry.SentAt
		r.SentAt = &sentAt
	}
	if r.AggregatedTracking == nil {
		r.AggregatedTracking = newAggregatedTracking()
	}
	r.ClaimedAt = nil
	r.CanRetry = false
	return nil
}

func newAggregatedTracking() *model.AggregatedTracking {
	return &model.AggregatedTracking{
		UniqueOpeners:   []model.Engager{},
		UniqueRepliers:  []model.Engager{},
		EngagementLevel: model.EngagementLow,
	}
}

func applyOpened(r *model.Recipient, who Identity, at time.Time, source string) bool {
	if r.AggregatedTracking == nil {
		r.AggregatedTracking = newAggregatedTracking()
	}
	agg := r.AggregatedTracking
	first := !agg.EverOpened

	agg.UniqueOpeners = touchEngager(agg.UniqueOpeners, who, at, source)
	agg.EverOpened = true
	agg.TotalOpens++
	if agg.FirstOpenedAt == nil {
		agg.FirstOpenedAt = &at
	}
	agg.LastOpenedAt = &at
	agg.EngagementLevel = engagementLevel(agg)

	if latest := r.LatestEmail(); latest != nil {
		latest.Tracking.Opened = true
		latest.Tracking.OpenCount++
		if latest.Tracking.FirstOpenedAt == nil {
			latest.Tracking.FirstOpenedAt = &at
		}
		latest.Tracking.LastOpenedAt = &at
	}
	advance(r, model.StatusOpened)
	return first
}

func applyReplied(r *model.Recipient, who Identity, receivedAt time.Time) bool {
	if r.AggregatedTracking == nil {
		r.AggregatedTracking = newAggregatedTracking()
	}
	agg := r.AggregatedTracking
	first := !agg.EverReplied

	agg.UniqueRepliers = touchEngager(agg.UniqueRepliers, who, receivedAt, "reply")
	agg.EverReplied = true
	agg.TotalReplies++
	if agg.FirstRepliedAt == nil {
		agg.FirstRepliedAt = &receivedAt
	}
	agg.LastRepliedAt = &receivedAt
	agg.EngagementLevel = engagementLevel(agg)

	if latest := r.LatestEmail(); latest != nil {
		latest.Tracking.Replied = true
		latest.Tracking.RepliedAt = &receivedAt
	}
	advance(r, model.StatusReplied)
	r.CurrentStage = model.StageResponded
	return first
}

func applyFailed(r *model.Recipient, cls mailer.Classification, now time.Time) FailureOutcome {
	attempt := r.RetryCount
	recordError(r, model.RecipientError{
		Category:        cls.Category,
		Message:         cls.Message,
		FriendlyMessage: cls.FriendlyMessage,
		Attempt:         attempt,
		At:              now,
	})
	r.ClaimedAt = nil

	// a failed follow-up never takes back an earlier delivery
	if model.IsDeliveredOrLater(r.Status) {
		return FailureOutcome{Attempt: attempt}
	}

	if cls.AutoRetry && attempt < MaxAutoRetries {
		retryAt := now.Add(RetryBackoff(attempt))
		r.RetryCount++
		r.Status = model.StatusPending
		r.ScheduledFor = retryAt
		r.CanRetry = true
		return FailureOutcome{Retrying: true, Attempt: attempt, RetryAt: retryAt}
	}

	r.Status = model.StatusFailed
	// exhausted auto-retries stay failed; categories a human can fix stay retryable
	r.CanRetry = !cls.AutoRetry
	return FailureOutcome{Attempt: attempt}
}

func recordError(r *model.Recipient, e model.RecipientError) {
	r.ErrorHistory = append(r.ErrorHistory, e)
	r.LastError = &r.ErrorHistory[len(r.ErrorHistory)-1]
}

// advance moves status forward only, and only once an email was delivered.
func advance(r *model.Recipient, to string) {
	if !model.IsDeliveredOrLater(r.Status) {
		return
	}
	if model.StatusRank(r.Status) < model.StatusRank(to) {
		r.Status = to
	}
}

func touchEngager(list []model.Engager, who Identity, at time.Time, source string) []model.Engager {
	key := model.NormalizeEmail(who.Email)
	event := model.EngagementEvent{At: at, Source: source}
	for i := range list {
		if model.NormalizeEmail(list[i].Email) == key {
			list[i].Count++
			list[i].History = append(list[i].History, event)
			if at.After(list[i].LastSeen) {
				list[i].LastSeen = at
			}
			if at.Before(list[i].FirstSeen) {
				list[i].FirstSeen = at
			}
			if list[i].Name == "" {
				list[i].Name = who.Name
			}
			return list
		}
	}
	return append(list, model.Engager{
		Email:     key,
		Name:      who.Name,
		Count:     1,
		FirstSeen: at,
		LastSeen:  at,
		History:   []model.EngagementEvent{event},
	})
}

func engagementLevel(agg *model.AggregatedTracking) string {
	switch {
	case agg.EverReplied, agg.TotalOpens >= 3:
		return model.EngagementHigh
	case agg.TotalOpens >= 2:
		return model.EngagementMedium
	default:
		return model.EngagementLow
	}
}
