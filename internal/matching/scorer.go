// Package matching scores investor and incubator records against a client
// profile. Everything here is pure and deterministic.
package matching

import (
	"math"
	"sort"
	"strings"

	"github.com/unclebandit/outreach-engine/internal/model"
)

const (
	WeightStage         = 30
	WeightStageAdjacent = 15
	WeightSector        = 40
	WeightSectorRelated = 20
	WeightLocation      = 20
	WeightRegion        = 10
	WeightTicket        = 10
	WeightTicketNear    = 5

	// MinScore is the cut-off below which candidates are dropped.
	MinScore = 50

	ticketTolerance = 0.5
)

// Matched-criteria tags.
const (
	TagStage         = "stage_match"
	TagStageAdjacent = "adjacent_stage"
	TagSector        = "sector_match"
	TagSectorRelated = "related_sector"
	TagLocation      = "location_match"
	TagRegion        = "region_match"
	TagTicket        = "ticket_size_match"
	TagTicketNear    = "ticket_size_near"
)

type Profile struct {
	Industry      string
	FundingStage  string
	City          string
	InvestmentAsk string
}

func ProfileFromClient(c *model.Client) Profile {
	return Profile{
		Industry:      c.Industry,
		FundingStage:  c.FundingStage,
		City:          c.City,
		InvestmentAsk: c.InvestmentAsk,
	}
}

type Match struct {
	Candidate       model.Candidate `json:"candidate"`
	Score           int             `json:"score"`
	MatchedCriteria []string        `json:"matched_criteria"`
	Priority        string          `json:"priority"`
}

// Score returns a 0-100 score and the tags of the rules that fired.
func Score(p Profile, c model.Candidate) (int, []string) {
	score := 0
	tags := []string{}

	add := func(points int, tag string) {
		if points > 0 {
			score += points
			tags = append(tags, tag)
		}
	}

	add(stageScore(p.FundingStage, append(append([]string{}, c.InvestmentStages...), c.AcceptedStages...)))
	add(sectorScore(p.Industry, c.SectorFocus))
	add(locationScore(p.City, c.Locations))
	add(ticketScore(p.InvestmentAsk, c.TicketSizeMin, c.TicketSizeMax))

	return score, tags
}

// PriorityFor maps a score to its priority band.
func PriorityFor(score int) string {
	switch {
	case score >= 80:
		return model.PriorityHigh
	case score >= 60:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// Rank scores every candidate, drops those under MinScore and sorts the
// rest by descending score. Ties keep input order.
func Rank(p Profile, candidates []model.Candidate) []Match {
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		score, tags := Score(p, c)
		if score < MinScore {
			continue
		}
		matches = append(matches, Match{
			Candidate:       c,
			Score:           score,
			MatchedCriteria: tags,
			Priority:        PriorityFor(score),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

func stageScore(clientStage string, stages []string) (int, string) {
	want := normalizeStage(clientStage)
	if want == "" {
		return 0, ""
	}
	wantIdx := ladderIndex(want)
	best := 0
	for _, s := range stages {
		got := normalizeStage(s)
		if got == "" {
			continue
		}
		if got == want {
			return WeightStage, TagStage
		}
		if wantIdx >= 0 {
			if gi := ladderIndex(got); gi >= 0 && abs(gi-wantIdx) == 1 {
				best = WeightStageAdjacent
			}
		}
	}
	if best > 0 {
		return best, TagStageAdjacent
	}
	return 0, ""
}

func normalizeStage(s string) string {
	s = strings.ToLower(s)
	for _, noise := range []string{"series", "round", "stage", "-", "_", " ", "+"} {
		s = strings.ReplaceAll(s, noise, "")
	}
	if alias, ok := stageAliases[s]; ok {
		return alias
	}
	return s
}

func ladderIndex(stage string) int {
	for i, s := range stageLadder {
		if s == stage {
			return i
		}
	}
	return -1
}

func sectorScore(industry string, sectors []string) (int, string) {
	industry = strings.ToLower(strings.TrimSpace(industry))
	if industry == "" {
		return 0, ""
	}

	direct := append([]string{industry}, sectorAliases[industry]...)
	for canonical, aliases := range sectorAliases {
		for _, a := range aliases {
			if a == industry {
				direct = append(direct, canonical)
			}
		}
	}

	related := relatedSectors[industry]
	for _, d := range direct[1:] {
		related = append(related, relatedSectors[d]...)
	}

	partial := false
	for _, raw := range sectors {
		sector := strings.ToLower(strings.TrimSpace(raw))
		if sector == "" {
			continue
		}
		for _, d := range direct {
			if containsEither(sector, d) {
				return WeightSector, TagSector
			}
		}
		for _, r := range related {
			if containsEither(sector, r) {
				partial = true
			}
		}
	}
	if partial {
		return WeightSectorRelated, TagSectorRelated
	}
	return 0, ""
}

// containsEither is a substring match in either direction. Terms of three
// characters or fewer ("ai", "iot") must appear as whole words so "ai" does
// not match "retail".
func containsEither(a, b string) bool {
	return containsTerm(a, b) || containsTerm(b, a)
}

func containsTerm(s, term string) bool {
	if len(term) > 3 {
		return strings.Contains(s, term)
	}
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if w == term {
			return true
		}
	}
	return false
}

// CountryOf takes the last comma-separated token of a city field.
func CountryOf(city string) string {
	parts := strings.Split(city, ",")
	return normalizeCountry(parts[len(parts)-1])
}

func normalizeCountry(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if alias, ok := countryAliases[s]; ok {
		return alias
	}
	return s
}

// regionsOf lists the macro-regions a country belongs to; a few sit in two.
func regionsOf(country string) []string {
	var regions []string
	for region, countries := range regionCountries {
		for _, c := range countries {
			if c == country {
				regions = append(regions, region)
			}
		}
	}
	return regions
}

func sharesRegion(location string, regions []string) bool {
	for _, r := range regions {
		if location == r {
			return true
		}
		for _, lr := range regionsOf(location) {
			if lr == r {
				return true
			}
		}
	}
	return false
}

func locationScore(city string, locations []string) (int, string) {
	country := CountryOf(city)
	if country == "" {
		return 0, ""
	}
	regions := regionsOf(country)

	partial := false
	for _, loc := range locations {
		got := CountryOf(loc)
		if got == "" {
			continue
		}
		if got == country {
			return WeightLocation, TagLocation
		}
		if sharesRegion(got, regions) {
			partial = true
		}
	}
	if partial {
		return WeightRegion, TagRegion
	}
	return 0, ""
}

func ticketScore(ask, ticketMin, ticketMax string) (int, string) {
	amount, ok := ParseAmount(ask)
	if !ok || amount <= 0 {
		return 0, ""
	}
	lo, loOK := ParseAmount(ticketMin)
	hi, hiOK := ParseAmount(ticketMax)
	if !loOK && !hiOK {
		return 0, ""
	}
	if !loOK {
		lo = 0
	}
	if !hiOK {
		hi = math.Inf(1)
	}
	if lo > hi {
		lo, hi = hi, lo
	}

	if amount >= lo && amount <= hi {
		return WeightTicket, TagTicket
	}
	if amount >= lo*(1-ticketTolerance) && amount <= hi*(1+ticketTolerance) {
		return WeightTicketNear, TagTicketNear
	}
	return 0, ""
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
