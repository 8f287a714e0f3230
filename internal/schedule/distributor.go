// Package schedule spreads a ranked candidate list over sending windows.
package schedule

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

// MaxJitter bounds the random offset applied to every slot.
const MaxJitter = 2 * time.Minute

type Config struct {
	StartDate       time.Time
	DailyLimit      int
	WindowStart     string // HH:MM
	WindowEnd       string // HH:MM
	Location        *time.Location
	PauseOnWeekends bool
}

// ConfigFromCampaign converts a stored schedule into distributor input.
func ConfigFromCampaign(sc model.ScheduleConfig) (Config, error) {
	loc := time.UTC
	if tz := sc.SendingWindow.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return Config{}, appErrors.NewValidation("sending_window.timezone", err.Error())
		}
		loc = l
	}
	return Config{
		StartDate:       sc.StartDate,
		DailyLimit:      sc.DailyLimit,
		WindowStart:     sc.SendingWindow.Start,
		WindowEnd:       sc.SendingWindow.End,
		Location:        loc,
		PauseOnWeekends: sc.PauseOnWeekends,
	}, nil
}

// Gap is the spacing between consecutive sends inside one window.
func (c Config) Gap() (time.Duration, error) {
	start, err := parseClock(c.WindowStart)
	if err != nil {
		return 0, appErrors.NewValidation("sending_window.start", err.Error())
	}
	end, err := parseClock(c.WindowEnd)
	if err != nil {
		return 0, appErrors.NewValidation("sending_window.end", err.Error())
	}
	if end <= start {
		return 0, appErrors.NewValidation("sending_window", "end must be after start")
	}
	if c.DailyLimit <= 0 {
		return 0, appErrors.NewValidation("daily_limit", "must be positive")
	}
	return time.Duration(float64(end-start) / float64(c.DailyLimit)), nil
}

// Distribute returns one send time per priority, index-aligned with the
// input. High priorities take the earliest slots, then medium, then low;
// input order is kept inside each band. A nil rng disables jitter.
func Distribute(priorities []string, cfg Config, rng *rand.Rand) ([]time.Time, error) {
	gap, err := cfg.Gap()
	if err != nil {
		return nil, err
	}
	if cfg.StartDate.IsZero() {
		return nil, appErrors.NewValidation("start_date", "required")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	winStart, _ := parseClock(cfg.WindowStart)
	winEnd, _ := parseClock(cfg.WindowEnd)

	jitter := MaxJitter
	if gap/4 < jitter {
		jitter = gap / 4
	}

	order := make([]int, len(priorities))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return model.PriorityRank(priorities[order[a]]) > model.PriorityRank(priorities[order[b]])
	})

	notBefore := cfg.StartDate.In(loc)
	day := time.Date(notBefore.Year(), notBefore.Month(), notBefore.Day(), 0, 0, 0, 0, loc)
	day = skipWeekend(day, cfg.PauseOnWeekends)

	out := make([]time.Time, len(priorities))
	slot := 0
	for _, idx := range order {
		var base, dayStart, dayEnd time.Time
		for {
			dayStart = at(day, winStart)
			dayEnd = at(day, winEnd)
			if dayStart.Before(notBefore) {
				dayStart = notBefore
			}
			base = dayStart.Add(time.Duration(slot) * gap)
			if slot < cfg.DailyLimit && base.Before(dayEnd) {
				break
			}
			day = skipWeekend(day.AddDate(0, 0, 1), cfg.PauseOnWeekends)
			slot = 0
		}

		ts := base
		if rng != nil && jitter > 0 {
			ts = ts.Add(time.Duration(rng.Int63n(int64(2*jitter)+1)) - jitter)
		}
		if ts.Before(dayStart) {
			ts = dayStart
		}
		if ts.After(dayEnd) {
			ts = dayEnd
		}
		out[idx] = ts
		slot++
	}
	return out, nil
}

func skipWeekend(day time.Time, pause bool) time.Time {
	if !pause {
		return day
	}
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

// at builds the wall-clock time on day, so DST shifts do not move windows.
func at(day time.Time, clock time.Duration) time.Time {
	h := int(clock / time.Hour)
	m := int((clock % time.Hour) / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
