package schedule

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

func repeat(p string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = p
	}
	return out
}

func baseConfig() Config {
	return Config{
		StartDate:   time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC), // Monday
		DailyLimit:  50,
		WindowStart: "09:00",
		WindowEnd:   "17:00",
		Location:    time.UTC,
	}
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

func TestDistributeSpreadsOverDays(t *testing.T) {
	cfg := baseConfig()
	out, err := Distribute(repeat(model.PriorityHigh, 120), cfg, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	require.Len(t, out, 120)

	for i, ts := range out {
		var want string
		switch {
		case i < 50:
			want = "2026-03-02"
		case i < 100:
			want = "2026-03-03"
		default:
			want = "2026-03-04"
		}
		assert.Equal(t, want, dayKey(ts), "candidate %d", i)

		clock := ts.Hour()*60 + ts.Minute()
		assert.GreaterOrEqual(t, clock, 9*60, "candidate %d before window", i)
		assert.False(t, ts.After(time.Date(ts.Year(), ts.Month(), ts.Day(), 17, 0, 0, 0, time.UTC)), "candidate %d after window", i)
	}
}

func TestDistributeRespectsDailyLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.DailyLimit = 7
	out, err := Distribute(repeat(model.PriorityLow, 40), cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	perDay := map[string]int{}
	for _, ts := range out {
		perDay[dayKey(ts)]++
	}
	for day, n := range perDay {
		assert.LessOrEqual(t, n, cfg.DailyLimit, day)
	}
	assert.Len(t, perDay, 6)
}

func TestDistributePriorityBlocks(t *testing.T) {
	priorities := []string{
		model.PriorityLow, model.PriorityHigh, model.PriorityMedium, model.PriorityHigh,
		model.PriorityLow, model.PriorityMedium, model.PriorityHigh, model.PriorityLow,
	}
	cfg := baseConfig()
	cfg.DailyLimit = 3
	out, err := Distribute(priorities, cfg, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	latest := map[string]time.Time{}
	earliest := map[string]time.Time{}
	for i, p := range priorities {
		if ts, ok := latest[p]; !ok || out[i].After(ts) {
			latest[p] = out[i]
		}
		if ts, ok := earliest[p]; !ok || out[i].Before(ts) {
			earliest[p] = out[i]
		}
	}
	assert.False(t, latest[model.PriorityHigh].After(earliest[model.PriorityMedium]))
	assert.False(t, latest[model.PriorityMedium].After(earliest[model.PriorityLow]))

	// input order survives within a band
	assert.True(t, out[1].Before(out[3]))
	assert.True(t, out[3].Before(out[6]))
}

func TestDistributeSkipsWeekends(t *testing.T) {
	cfg := baseConfig()
	cfg.StartDate = time.Date(2026, time.March, 6, 0, 0, 0, 0, time.UTC) // Friday
	cfg.DailyLimit = 10
	cfg.PauseOnWeekends = true

	out, err := Distribute(repeat(model.PriorityHigh, 30), cfg, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	days := map[string]bool{}
	for _, ts := range out {
		assert.NotEqual(t, time.Saturday, ts.Weekday())
		assert.NotEqual(t, time.Sunday, ts.Weekday())
		days[dayKey(ts)] = true
	}
	assert.Equal(t, map[string]bool{"2026-03-06": true, "2026-03-09": true, "2026-03-10": true}, days)
}

func TestDistributeWeekendStartMovesToMonday(t *testing.T) {
	cfg := baseConfig()
	cfg.StartDate = time.Date(2026, time.March, 7, 0, 0, 0, 0, time.UTC) // Saturday
	cfg.PauseOnWeekends = true

	out, err := Distribute(repeat(model.PriorityHigh, 2), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-09", dayKey(out[0]))
}

func TestDistributeNeverBeforeStart(t *testing.T) {
	cfg := baseConfig()
	cfg.StartDate = time.Date(2026, time.March, 2, 13, 30, 0, 0, time.UTC)

	out, err := Distribute(repeat(model.PriorityHigh, 60), cfg, rand.New(rand.NewSource(11)))
	require.NoError(t, err)
	for i, ts := range out {
		assert.False(t, ts.Before(cfg.StartDate), "candidate %d at %s", i, ts)
	}
	// only the afternoon is left on day 0: 210 minutes / 9.6 minute gap
	assert.Equal(t, "2026-03-02", dayKey(out[21]))
	assert.Equal(t, "2026-03-03", dayKey(out[22]))
}

func TestDistributeMinimumSpacing(t *testing.T) {
	cfg := baseConfig()
	gap, err := cfg.Gap()
	require.NoError(t, err)

	out, err := Distribute(repeat(model.PriorityHigh, 50), cfg, rand.New(rand.NewSource(99)))
	require.NoError(t, err)

	sorted := append([]time.Time(nil), out...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	for i := 1; i < len(sorted); i++ {
		assert.GreaterOrEqual(t, sorted[i].Sub(sorted[i-1]), gap-2*MaxJitter)
	}
}

func TestDistributeDeterministicWithSeed(t *testing.T) {
	cfg := baseConfig()
	a, err := Distribute(repeat(model.PriorityMedium, 25), cfg, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	b, err := Distribute(repeat(model.PriorityMedium, 25), cfg, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDistributeTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	cfg := baseConfig()
	cfg.Location = ny
	cfg.StartDate = time.Date(2026, time.March, 2, 0, 0, 0, 0, ny)

	out, err := Distribute(repeat(model.PriorityHigh, 1), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 2, 9, 0, 0, 0, ny), out[0])
}

func TestDistributeValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero limit", func(c *Config) { c.DailyLimit = 0 }},
		{"bad start", func(c *Config) { c.WindowStart = "9am" }},
		{"inverted window", func(c *Config) { c.WindowStart, c.WindowEnd = "17:00", "09:00" }},
		{"missing start date", func(c *Config) { c.StartDate = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			_, err := Distribute(repeat(model.PriorityHigh, 3), cfg, nil)
			var verr *appErrors.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}
