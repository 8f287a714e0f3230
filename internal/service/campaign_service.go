// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/cache"
	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/matching"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/schedule"
)

// activationNamespace scopes campaign ids derived from activation keys.
var activationNamespace = uuid.MustParse("5b0f6f0e-8a43-4f5e-9a57-0c3a7c2f1d64")

type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	ClientRepo    repository.ClientRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	ErrorRepo     repository.ErrorLogRepositoryInterface
	AuditRepo     repository.AuditRepositoryInterface
	State         *RecipientStateStore
	// Reports is dropped on status changes so the public page shows them at once.
	Reports cache.ReportCache
	Log     *zap.Logger

	// NewRand seeds schedule jitter; nil uses the clock.
	NewRand func() *rand.Rand
	Now     func() time.Time
}

type ActivationRequest struct {
	ClientID    string               `json:"client_id"`
	TargetType  string               `json:"target_type"`
	Matches     []matching.Match     `json:"matches"`
	Template    model.EmailTemplate  `json:"template"`
	Schedule    model.ScheduleConfig `json:"schedule"`
	ActivatedBy string               `json:"activated_by"`

	// ActivationKey makes a retried activation resume the same campaign.
	ActivationKey string `json:"activation_key,omitempty"`
}

type ActivationResult struct {
	Campaign          *model.Campaign `json:"campaign"`
	RecipientsCreated int             `json:"recipients_created"`
	Resumed           bool            `json:"resumed"`
}

type RetryResult struct {
	Rescheduled []string `json:"rescheduled"`
	Skipped     []string `json:"skipped"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *CampaignService) rng() *rand.Rand {
	if s.NewRand != nil {
		return s.NewRand()
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func (s *CampaignService) log() *zap.Logger { return logger.OrNop(s.Log) }

func validateActivation(req ActivationRequest) error {
	if strings.TrimSpace(req.ClientID) == "" {
		return appErrors.NewValidation("client_id", "required")
	}
	if _, err := ContactTypes(req.TargetType); err != nil {
		return err
	}
	if len(req.Matches) == 0 {
		return appErrors.NewValidation("matches", "at least one match is required")
	}
	if strings.TrimSpace(req.Template.Subject) == "" {
		return appErrors.NewValidation("template.subject", "required")
	}
	if strings.TrimSpace(req.Template.Body) == "" {
		return appErrors.NewValidation("template.body", "required")
	}
	cfg, err := schedule.ConfigFromCampaign(req.Schedule)
	if err != nil {
		return err
	}
	if cfg.StartDate.IsZero() {
		return appErrors.NewValidation("schedule.start_date", "required")
	}
	_, err = cfg.Gap()
	return err
}

// campaignID derives a stable id when an activation key is supplied.
func campaignID(clientID, key string) string {
	if key == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(activationNamespace, []byte(clientID+"\x00"+key)).String()
}

// Activate creates a campaign and one recipient per match using the
// distributed schedule. Recipient writes are batched and idempotent on
// (campaign, email), so a retried activation with the same key fills in
// whatever an earlier attempt missed.
func (s *CampaignService) Activate(ctx context.Context, req ActivationRequest) (*ActivationResult, error) {
	if err := validateActivation(req); err != nil {
		return nil, err
	}
	client, err := s.ClientRepo.GetByID(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	matches := dedupeMatches(req.Matches)
	now := s.now()
	c := &model.Campaign{
		ID:               campaignID(client.ID, req.ActivationKey),
		ClientID:         client.ID,
		TargetType:       req.TargetType,
		OriginalTemplate: req.Template,
		CurrentTemplate:  req.Template,
		Schedule:         req.Schedule,
		Status:           model.CampaignCreating,
		Stats:            model.CampaignStats{Total: len(matches), Pending: len(matches)},
		PublicToken:      uuid.NewString(),
		ActivatedBy:      req.ActivatedBy,
		CreatedAt:        now,
	}

	created, err := s.CampaignRepo.Create(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("creating campaign: %w", err)
	}
	result := &ActivationResult{Campaign: c}
	if !created {
		existing, err := s.CampaignRepo.GetByID(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		result.Campaign = existing
		result.Resumed = true
		if existing.Status != model.CampaignCreating && existing.Status != model.CampaignFailed {
			return result, nil
		}
		c = existing
	}

	cfg, _ := schedule.ConfigFromCampaign(c.Schedule)
	priorities := make([]string, len(matches))
	for i, m := range matches {
		priorities[i] = m.Priority
	}
	times, err := schedule.Distribute(priorities, cfg, s.rng())
	if err != nil {
		return nil, err
	}

	recipients := make([]*model.Recipient, len(matches))
	for i, m := range matches {
		recipients[i] = newRecipient(c, m, times[i], now)
	}

	inserted := 0
	for start := 0; start < len(recipients); start += repository.MaxBatchWrite {
		end := start + repository.MaxBatchWrite
		if end > len(recipients) {
			end = len(recipients)
		}
		n, err := s.RecipientRepo.CreateBatch(ctx, recipients[start:end])
		if err != nil {
			s.markActivationFailed(ctx, c.ID, err)
			return nil, fmt.Errorf("writing recipients %d-%d: %w", start, end, err)
		}
		inserted += n
	}
	result.RecipientsCreated = inserted

	activated, err := s.CampaignRepo.Update(ctx, c.ID, func(c *model.Campaign) error {
		c.Status = model.CampaignActive
		c.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Campaign = activated

	s.audit(ctx, &model.AuditEntry{
		Actor:      req.ActivatedBy,
		Action:     "campaign.activated",
		CampaignID: c.ID,
		ClientID:   c.ClientID,
		Details: map[string]any{
			"target_type":        c.TargetType,
			"matches":            len(matches),
			"recipients_created": inserted,
			"resumed":            result.Resumed,
		},
	})
	s.log().Info("campaign activated",
		zap.String("campaign_id", c.ID),
		zap.String("client_id", c.ClientID),
		zap.Int("recipients", len(matches)),
		zap.Int("inserted", inserted),
		zap.Bool("resumed", result.Resumed))
	return result, nil
}

func (s *CampaignService) markActivationFailed(ctx context.Context, id string, cause error) {
	_, err := s.CampaignRepo.Update(ctx, id, func(c *model.Campaign) error {
		c.Status = model.CampaignFailed
		return nil
	})
	if err != nil {
		s.log().Error("marking campaign failed", zap.String("campaign_id", id), zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	s.log().Error("campaign activation failed", zap.String("campaign_id", id), zap.Error(cause))
}

func (s *CampaignService) audit(ctx context.Context, e *model.AuditEntry) {
	if s.AuditRepo == nil {
		return
	}
	e.ID = uuid.NewString()
	e.CreatedAt = s.now()
	if err := s.AuditRepo.Append(ctx, e); err != nil {
		s.log().Warn("audit append failed", zap.String("action", e.Action), zap.Error(err))
	}
}

func dedupeMatches(in []matching.Match) []matching.Match {
	seen := map[string]bool{}
	out := make([]matching.Match, 0, len(in))
	for _, m := range in {
		key := model.NormalizeEmail(m.Candidate.Email)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

func newRecipient(c *model.Campaign, m matching.Match, at, now time.Time) *model.Recipient {
	return &model.Recipient{
		ID:         uuid.NewString(),
		CampaignID: c.ID,
		ClientID:   c.ClientID,
		OriginalContact: model.Contact{
			Name:         m.Candidate.Name,
			Email:        strings.TrimSpace(m.Candidate.Email),
			Organization: m.Candidate.Organization,
		},
		ContactID:       m.Candidate.ID,
		Type:            m.Candidate.Type,
		Priority:        m.Priority,
		MatchScore:      m.Score,
		MatchedCriteria: m.MatchedCriteria,
		ScheduledFor:    at.UTC(),
		Status:          model.StatusPending,
		CurrentStage:    model.StageInitial,
		EmailHistory:    []model.EmailHistoryEntry{},
		ErrorHistory:    []model.RecipientError{},
		TrackingID:      uuid.NewString(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (s *CampaignService) transition(ctx context.Context, id, from, to, actor string) (*model.Campaign, error) {
	now := s.now()
	c, err := s.CampaignRepo.Update(ctx, id, func(c *model.Campaign) error {
		if c.Status != from {
			return &appErrors.ErrInvalidTransition{From: c.Status, To: to}
		}
		c.Status = to
		c.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, &model.AuditEntry{Actor: actor, Action: "campaign." + to, CampaignID: c.ID, ClientID: c.ClientID})
	s.invalidateReport(ctx, c)
	return c, nil
}

func (s *CampaignService) invalidateReport(ctx context.Context, c *model.Campaign) {
	if s.Reports == nil || c.PublicToken == "" {
		return
	}
	if err := s.Reports.Invalidate(ctx, c.PublicToken); err != nil {
		s.log().Warn("report cache invalidate", zap.String("campaign_id", c.ID), zap.Error(err))
	}
}

// Pause stops dispatch for an active campaign.
func (s *CampaignService) Pause(ctx context.Context, id, actor string) (*model.Campaign, error) {
	return s.transition(ctx, id, model.CampaignActive, model.CampaignPaused, actor)
}

func (s *CampaignService) Resume(ctx context.Context, id, actor string) (*model.Campaign, error) {
	return s.transition(ctx, id, model.CampaignPaused, model.CampaignActive, actor)
}

// UpdateTemplate replaces the current template. The original is kept.
func (s *CampaignService) UpdateTemplate(ctx context.Context, id string, tpl model.EmailTemplate, actor string) (*model.Campaign, error) {
	if strings.TrimSpace(tpl.Subject) == "" {
		return nil, appErrors.NewValidation("subject", "required")
	}
	if strings.TrimSpace(tpl.Body) == "" {
		return nil, appErrors.NewValidation("body", "required")
	}
	now := s.now()
	c, err := s.CampaignRepo.Update(ctx, id, func(c *model.Campaign) error {
		if c.Status == model.CampaignCompleted || c.Status == model.CampaignFailed {
			return appErrors.NewValidation("status", "template of a "+c.Status+" campaign cannot change")
		}
		c.CurrentTemplate = tpl
		c.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, &model.AuditEntry{Actor: actor, Action: "campaign.template_updated", CampaignID: c.ID, ClientID: c.ClientID})
	return c, nil
}

// RetryRecipients reschedules retryable failed recipients for immediate
// sending and reopens a completed campaign.
func (s *CampaignService) RetryRecipients(ctx context.Context, id string, recipientIDs []string, actor string) (*RetryResult, error) {
	if len(recipientIDs) == 0 {
		return nil, appErrors.NewValidation("recipient_ids", "at least one id is required")
	}
	if _, err := s.CampaignRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}

	now := s.now()
	result := &RetryResult{Rescheduled: []string{}, Skipped: []string{}}
	for _, rid := range recipientIDs {
		_, ok, err := s.State.ResetForRetry(ctx, id, rid, now)
		if err != nil {
			s.log().Warn("retry reset failed", zap.String("campaign_id", id), zap.String("recipient_id", rid), zap.Error(err))
			result.Skipped = append(result.Skipped, rid)
			continue
		}
		if !ok {
			result.Skipped = append(result.Skipped, rid)
			continue
		}
		result.Rescheduled = append(result.Rescheduled, rid)
	}

	n := len(result.Rescheduled)
	if n == 0 {
		return result, nil
	}
	if _, err := s.CampaignRepo.ApplyStats(ctx, id, model.StatsDelta{Failed: -n, Pending: n}, nil); err != nil {
		return nil, err
	}
	reopened, err := s.CampaignRepo.Update(ctx, id, func(c *model.Campaign) error {
		if c.Status == model.CampaignCompleted {
			c.Status = model.CampaignActive
			c.CompletedAt = nil
		}
		c.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateReport(ctx, reopened)
	s.audit(ctx, &model.AuditEntry{
		Actor: actor, Action: "campaign.retry", CampaignID: id,
		Details: map[string]any{"rescheduled": n, "skipped": len(result.Skipped)},
	})
	return result, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, clientID, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, clientID, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	return s.CampaignRepo.GetByID(ctx, id)
}

func (s *CampaignService) ListErrors(ctx context.Context, id string) ([]model.CampaignError, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.ErrorRepo.ListByCampaign(ctx, id)
}

var recipientStatuses = map[string]bool{
	"":                    true,
	model.StatusPending:   true,
	model.StatusSending:   true,
	model.StatusDelivered: true,
	model.StatusOpened:    true,
	model.StatusReplied:   true,
	model.StatusFailed:    true,
}

func (s *CampaignService) ListRecipients(ctx context.Context, id, status string) ([]*model.Recipient, error) {
	if !recipientStatuses[status] {
		return nil, appErrors.NewValidation("status", fmt.Sprintf("unknown recipient status %q", status))
	}
	if _, err := s.CampaignRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.RecipientRepo.ListByCampaign(ctx, id, status)
}
