// internal/model/campaign.go
package model

import "time"

const (
	CampaignCreating  = "creating"
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignFailed    = "failed"
)

const (
	TargetInvestors  = "investors"
	TargetIncubators = "incubators"
	TargetBoth       = "both"
)

type EmailTemplate struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type SendingWindow struct {
	Start    string `json:"start"` // HH:MM
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

type PriorityAllocation struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

type ScheduleConfig struct {
	StartDate          time.Time           `json:"start_date"`
	EndDate            *time.Time          `json:"end_date,omitempty"`
	DailyLimit         int                 `json:"daily_limit"`
	SendingWindow      SendingWindow       `json:"sending_window"`
	PauseOnWeekends    bool                `json:"pause_on_weekends"`
	PriorityAllocation *PriorityAllocation `json:"priority_allocation,omitempty"`
}

type Funnel struct {
	DeliveryRate float64 `json:"delivery_rate"`
	OpenRate     float64 `json:"open_rate"`
	ReplyRate    float64 `json:"reply_rate"`
}

type CampaignStats struct {
	Total            int            `json:"total"`
	Sent             int            `json:"sent"`
	Delivered        int            `json:"delivered"`
	Opened           int            `json:"opened"`
	Replied          int            `json:"replied"`
	Failed           int            `json:"failed"`
	Pending          int            `json:"pending"`
	Funnel           Funnel         `json:"funnel"`
	ErrorsByCategory map[string]int `json:"errors_by_category"`
}

// StatsDelta is an incremental change applied to CampaignStats in one update.
type StatsDelta struct {
	Sent      int
	Delivered int
	Opened    int
	Replied   int
	Failed    int
	Pending   int
	Errors    map[string]int
}

func (d StatsDelta) IsZero() bool {
	return d.Sent == 0 && d.Delivered == 0 && d.Opened == 0 && d.Replied == 0 &&
		d.Failed == 0 && d.Pending == 0 && len(d.Errors) == 0
}

// Apply adds the delta to the stats and recomputes the funnel.
func (s *CampaignStats) Apply(d StatsDelta) {
	s.Sent += d.Sent
	s.Delivered += d.Delivered
	s.Opened += d.Opened
	s.Replied += d.Replied
	s.Failed += d.Failed
	s.Pending += d.Pending
	if s.Pending < 0 {
		s.Pending = 0
	}
	if len(d.Errors) > 0 && s.ErrorsByCategory == nil {
		s.ErrorsByCategory = map[string]int{}
	}
	for cat, n := range d.Errors {
		s.ErrorsByCategory[cat] += n
	}
	s.Funnel = computeFunnel(s)
}

func computeFunnel(s *CampaignStats) Funnel {
	var f Funnel
	if s.Sent > 0 {
		f.DeliveryRate = ratio(s.Delivered, s.Sent)
	}
	if s.Delivered > 0 {
		f.OpenRate = ratio(s.Opened, s.Delivered)
		f.ReplyRate = ratio(s.Replied, s.Delivered)
	}
	return f
}

func ratio(a, b int) float64 {
	return float64(int(float64(a)/float64(b)*10000+0.5)) / 100
}

type Campaign struct {
	ID               string         `json:"id"`
	ClientID         string         `json:"client_id"`
	TargetType       string         `json:"target_type"`
	OriginalTemplate EmailTemplate  `json:"original_template"`
	CurrentTemplate  EmailTemplate  `json:"current_template"`
	Schedule         ScheduleConfig `json:"schedule"`
	Status           string         `json:"status"`
	Stats            CampaignStats  `json:"stats"`
	PublicToken      string         `json:"public_token"`
	ActivatedBy      string         `json:"activated_by"`
	LastSentAt       *time.Time     `json:"last_sent_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        *time.Time     `json:"updated_at,omitempty"`
}
