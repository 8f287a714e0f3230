package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/cache"
	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

// PublicReport is the read-only view shared by public token. It carries
// aggregate numbers only, never recipient addresses.
type PublicReport struct {
	CompanyName      string         `json:"company_name,omitempty"`
	TargetType       string         `json:"target_type"`
	Status           string         `json:"status"`
	StartDate        time.Time      `json:"start_date"`
	Total            int            `json:"total"`
	Sent             int            `json:"sent"`
	Delivered        int            `json:"delivered"`
	Opened           int            `json:"opened"`
	Replied          int            `json:"replied"`
	Failed           int            `json:"failed"`
	Pending          int            `json:"pending"`
	Funnel           model.Funnel   `json:"funnel"`
	ErrorsByCategory map[string]int `json:"errors_by_category"`
	LastSentAt       *time.Time     `json:"last_sent_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

type ReportService struct {
	Campaigns repository.CampaignRepositoryInterface
	Clients   repository.ClientRepositoryInterface
	Cache     cache.ReportCache
	Log       *zap.Logger
}

func (s *ReportService) cache() cache.ReportCache {
	if s.Cache == nil {
		return cache.NopReportCache{}
	}
	return s.Cache
}

// Public returns the report for a public token, served from cache when fresh.
func (s *ReportService) Public(ctx context.Context, token string) (*PublicReport, error) {
	log := logger.OrNop(s.Log)
	if raw, ok, err := s.cache().Get(ctx, token); err != nil {
		log.Warn("report cache read", zap.Error(err))
	} else if ok {
		var report PublicReport
		if err := json.Unmarshal(raw, &report); err == nil {
			return &report, nil
		}
	}

	c, err := s.Campaigns.GetByPublicToken(ctx, token)
	if err != nil {
		return nil, err
	}
	report := BuildPublicReport(c)
	if s.Clients != nil {
		if client, err := s.Clients.GetByID(ctx, c.ClientID); err == nil {
			report.CompanyName = client.CompanyName
		}
	}

	if raw, err := json.Marshal(report); err == nil {
		if err := s.cache().Set(ctx, token, raw); err != nil {
			log.Warn("report cache write", zap.Error(err))
		}
	}
	return report, nil
}

func BuildPublicReport(c *model.Campaign) *PublicReport {
	errs := c.Stats.ErrorsByCategory
	if errs == nil {
		errs = map[string]int{}
	}
	return &PublicReport{
		TargetType:       c.TargetType,
		Status:           c.Status,
		StartDate:        c.Schedule.StartDate,
		Total:            c.Stats.Total,
		Sent:             c.Stats.Sent,
		Delivered:        c.Stats.Delivered,
		Opened:           c.Stats.Opened,
		Replied:          c.Stats.Replied,
		Failed:           c.Stats.Failed,
		Pending:          c.Stats.Pending,
		Funnel:           c.Stats.Funnel,
		ErrorsByCategory: errs,
		LastSentAt:       c.LastSentAt,
		CompletedAt:      c.CompletedAt,
	}
}
