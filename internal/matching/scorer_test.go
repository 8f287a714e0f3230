package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-engine/internal/model"
)

var seedFintech = Profile{
	Industry:      "Fintech",
	FundingStage:  "Seed",
	City:          "Boston, USA",
	InvestmentAsk: "$2M",
}

func TestScorePerfectMatch(t *testing.T) {
	c := model.Candidate{
		InvestmentStages: []string{"Seed"},
		SectorFocus:      []string{"Financial Services"},
		Locations:        []string{"USA"},
		TicketSizeMin:    "$500K",
		TicketSizeMax:    "$3M",
	}

	score, tags := Score(seedFintech, c)

	assert.Equal(t, 100, score)
	assert.Equal(t, []string{TagStage, TagSector, TagLocation, TagTicket}, tags)
	assert.Equal(t, model.PriorityHigh, PriorityFor(score))
}

func TestScoreIsDeterministic(t *testing.T) {
	c := model.Candidate{
		AcceptedStages: []string{"Series A"},
		SectorFocus:    []string{"blockchain", "Payments"},
		Locations:      []string{"Canada", "Germany"},
		TicketSizeMin:  "1m",
		TicketSizeMax:  "1.5m",
	}
	first, firstTags := Score(seedFintech, c)
	for i := 0; i < 50; i++ {
		score, tags := Score(seedFintech, c)
		require.Equal(t, first, score)
		require.Equal(t, firstTags, tags)
	}
}

func TestScorePartialCredit(t *testing.T) {
	tests := []struct {
		name  string
		c     model.Candidate
		score int
		tags  []string
	}{
		{
			name:  "adjacent stage",
			c:     model.Candidate{InvestmentStages: []string{"Pre-Seed"}},
			score: WeightStageAdjacent,
			tags:  []string{TagStageAdjacent},
		},
		{
			name:  "two rungs away scores nothing",
			c:     model.Candidate{InvestmentStages: []string{"Series B"}},
			score: 0,
			tags:  []string{},
		},
		{
			name:  "related sector",
			c:     model.Candidate{SectorFocus: []string{"Insurtech"}},
			score: WeightSectorRelated,
			tags:  []string{TagSectorRelated},
		},
		{
			name:  "same region",
			c:     model.Candidate{Locations: []string{"Toronto, Canada"}},
			score: WeightRegion,
			tags:  []string{TagRegion},
		},
		{
			name:  "region named directly",
			c:     model.Candidate{Locations: []string{"North America"}},
			score: WeightRegion,
			tags:  []string{TagRegion},
		},
		{
			name:  "ticket within tolerance",
			c:     model.Candidate{TicketSizeMin: "$100k", TicketSizeMax: "$1.5M"},
			score: WeightTicketNear,
			tags:  []string{TagTicketNear},
		},
		{
			name:  "ticket far out of range",
			c:     model.Candidate{TicketSizeMin: "$10M", TicketSizeMax: "$50M"},
			score: 0,
			tags:  []string{},
		},
		{
			name:  "unparseable ticket",
			c:     model.Candidate{TicketSizeMin: "flexible", TicketSizeMax: "ask us"},
			score: 0,
			tags:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, tags := Score(seedFintech, tt.c)
			assert.Equal(t, tt.score, score)
			assert.Equal(t, tt.tags, tags)
		})
	}
}

func TestShortSectorTermsNeedWholeWords(t *testing.T) {
	p := Profile{Industry: "AI"}
	score, _ := Score(p, model.Candidate{SectorFocus: []string{"Retail"}})
	assert.Equal(t, 0, score)

	score, _ = Score(p, model.Candidate{SectorFocus: []string{"Applied AI"}})
	assert.Equal(t, WeightSector, score)

	score, _ = Score(p, model.Candidate{SectorFocus: []string{"Machine Learning"}})
	assert.Equal(t, WeightSectorRelated, score)
}

func TestScoreNeverExceedsHundred(t *testing.T) {
	c := model.Candidate{
		InvestmentStages: []string{"Seed", "Pre-Seed", "Series A"},
		AcceptedStages:   []string{"Seed"},
		SectorFocus:      []string{"fintech", "financial services", "insurtech"},
		Locations:        []string{"USA", "Canada", "US"},
		TicketSizeMin:    "$1M",
		TicketSizeMax:    "$5M",
	}
	score, _ := Score(seedFintech, c)
	assert.LessOrEqual(t, score, 100)
	assert.Equal(t, 100, score)
}

func TestRankFiltersAndSorts(t *testing.T) {
	candidates := []model.Candidate{
		{ID: "weak", Locations: []string{"USA"}},
		{ID: "medium", InvestmentStages: []string{"Seed"}, SectorFocus: []string{"Insurtech"}, Locations: []string{"Canada"}},
		{ID: "top", InvestmentStages: []string{"Seed"}, SectorFocus: []string{"fintech"}, Locations: []string{"USA"}, TicketSizeMin: "1M", TicketSizeMax: "3M"},
		{ID: "mid", InvestmentStages: []string{"Seed"}, SectorFocus: []string{"fintech"}},
	}

	ranked := Rank(seedFintech, candidates)

	require.Len(t, ranked, 3)
	assert.Equal(t, "top", ranked[0].Candidate.ID)
	assert.Equal(t, 100, ranked[0].Score)
	assert.Equal(t, model.PriorityHigh, ranked[0].Priority)

	assert.Equal(t, "mid", ranked[1].Candidate.ID)
	assert.Equal(t, 70, ranked[1].Score)
	assert.Equal(t, model.PriorityMedium, ranked[1].Priority)

	assert.Equal(t, "medium", ranked[2].Candidate.ID)
	assert.Equal(t, 60, ranked[2].Score)
	assert.Equal(t, model.PriorityMedium, ranked[2].Priority)
}

func TestPriorityBands(t *testing.T) {
	assert.Equal(t, model.PriorityHigh, PriorityFor(80))
	assert.Equal(t, model.PriorityMedium, PriorityFor(79))
	assert.Equal(t, model.PriorityMedium, PriorityFor(60))
	assert.Equal(t, model.PriorityLow, PriorityFor(59))
}

func TestCountryOf(t *testing.T) {
	assert.Equal(t, "usa", CountryOf("Boston, MA, USA"))
	assert.Equal(t, "usa", CountryOf("New York, United States"))
	assert.Equal(t, "kenya", CountryOf("Kenya"))
	assert.Equal(t, "", CountryOf(""))
}
