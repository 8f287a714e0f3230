package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

// TrackingService turns pixel hits into opens.
type TrackingService struct {
	Recipients repository.RecipientRepositoryInterface
	Campaigns  repository.CampaignRepositoryInterface
	State      *RecipientStateStore
	Log        *zap.Logger
	Now        func() time.Time
}

// RecordOpen marks the recipient behind trackingID as opened by its original
// contact. The campaign's opened counter moves on the first open only.
func (s *TrackingService) RecordOpen(ctx context.Context, trackingID string) error {
	rec, err := s.Recipients.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	who := Identity{Email: rec.OriginalContact.Email, Name: rec.OriginalContact.Name}
	_, first, err := s.State.MarkOpened(ctx, rec.ID, who, now, "pixel")
	if err != nil {
		return err
	}
	if first {
		if _, err := s.Campaigns.ApplyStats(ctx, rec.CampaignID, model.StatsDelta{Opened: 1}, nil); err != nil {
			logger.OrNop(s.Log).Warn("applying open stats", zap.String("campaign_id", rec.CampaignID), zap.Error(err))
		}
	}
	return nil
}
