package service

import (
	"context"
	"net/mail"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/matching"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

type MatchService struct {
	Clients  repository.ClientRepositoryInterface
	Contacts repository.ContactRepositoryInterface
}

// ContactTypes maps a campaign target type to contact record types.
func ContactTypes(targetType string) ([]string, error) {
	switch targetType {
	case model.TargetInvestors:
		return []string{model.ContactInvestor}, nil
	case model.TargetIncubators:
		return []string{model.ContactIncubator}, nil
	case model.TargetBoth:
		return []string{model.ContactInvestor, model.ContactIncubator}, nil
	}
	return nil, appErrors.NewValidation("target_type", "must be investors, incubators or both")
}

// FindMatches scores every eligible contact against the client profile and
// returns the ranked survivors.
func (s *MatchService) FindMatches(ctx context.Context, clientID, targetType string) ([]matching.Match, error) {
	if clientID == "" {
		return nil, appErrors.NewValidation("client_id", "required")
	}
	types, err := ContactTypes(targetType)
	if err != nil {
		return nil, err
	}
	client, err := s.Clients.GetByID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.Contacts.ListByType(ctx, types...)
	if err != nil {
		return nil, err
	}
	return matching.Rank(matching.ProfileFromClient(client), usable(candidates)), nil
}

// usable drops candidates without a parseable email and repeats of one address.
func usable(candidates []model.Candidate) []model.Candidate {
	seen := map[string]bool{}
	out := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		addr, err := mail.ParseAddress(c.Email)
		if err != nil {
			continue
		}
		key := model.NormalizeEmail(addr.Address)
		if seen[key] {
			continue
		}
		seen[key] = true
		c.Email = addr.Address
		out = append(out, c)
	}
	return out
}
