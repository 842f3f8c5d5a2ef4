package services

import (
	"context"
	"errors"
	"time"

	"etfdiscovery/internal/eligibility"
	apperrors "etfdiscovery/internal/errors"
)

// ruleSetService exposes the eligibility registry.
type ruleSetService struct {
	registry *eligibility.Registry
}

// NewRuleSetService creates a new RuleSetServicer.
func NewRuleSetService(registry *eligibility.Registry) RuleSetServicer {
	return &ruleSetService{registry: registry}
}

// ListRuleSets summarizes every published version, grouped by key.
func (s *ruleSetService) ListRuleSets() []RuleSetSummary {
	all := s.registry.All()
	out := make([]RuleSetSummary, 0, len(all))
	for i, rs := range all {
		key := rs.Key()
		latest := i == len(all)-1 || all[i+1].Key() != key
		out = append(out, RuleSetSummary{
			Jurisdiction: key.Jurisdiction,
			AccountType:  key.AccountType,
			Version:      rs.Version,
			Description:  rs.Description,
			PublishedAt:  rs.PublishedAt.UTC().Format(time.RFC3339),
			Rules:        len(rs.Rules),
			Latest:       latest,
		})
	}
	return out
}

// GetRuleSet resolves one rule set. An empty version selects the latest.
func (s *ruleSetService) GetRuleSet(jurisdiction, accountType, version string) (*eligibility.RuleSet, error) {
	rs, err := s.registry.Resolve(eligibility.Profile{Country: jurisdiction, AccountType: accountType}, version)
	if err != nil {
		return nil, apperrors.ErrRuleSetNotFound
	}
	return rs, nil
}

// PublishRuleSet parses a YAML definition and publishes it as the newest
// version for its key.
func (s *ruleSetService) PublishRuleSet(ctx context.Context, definition []byte) (*eligibility.RuleSet, error) {
	rs, err := eligibility.Parse(definition)
	if err != nil {
		return nil, apperrors.WithDetails(apperrors.ErrInvalidRuleSet, map[string]any{
			"reason":         err.Error(),
			"supportedKinds": eligibility.Kinds(),
		})
	}
	if err := s.registry.Publish(ctx, rs); err != nil {
		if errors.Is(err, eligibility.ErrVersionConflict) {
			return nil, apperrors.WithDetails(apperrors.ErrRuleSetVersionConflict, map[string]any{
				"versions": s.registry.Versions(rs.Key()),
			})
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return rs, nil
}
