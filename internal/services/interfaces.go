package services

import (
	"context"

	"etfdiscovery/internal/catalog"
	"etfdiscovery/internal/eligibility"
	"etfdiscovery/internal/models"
	"etfdiscovery/internal/pagination"
)

// DiscoveryServicer defines the contract for answering discovery queries.
type DiscoveryServicer interface {
	Discover(ctx context.Context, q DiscoveryQuery) (*DiscoveryResult, error)
}

// InstrumentServicer defines the contract for browsing the catalog.
type InstrumentServicer interface {
	ListInstruments(search string, page pagination.PageRequest) (*pagination.PageResponse[catalog.Instrument], error)
	GetInstrument(key string) (*catalog.Instrument, error)
}

// RuleSetSummary describes one published rule-set version.
type RuleSetSummary struct {
	Jurisdiction string `json:"jurisdiction"`
	AccountType  string `json:"accountType"`
	Version      string `json:"version"`
	Description  string `json:"description,omitempty"`
	PublishedAt  string `json:"publishedAt"`
	Rules        int    `json:"rules"`
	Latest       bool   `json:"latest"`
}

// RuleSetServicer defines the contract for inspecting and publishing
// eligibility rule sets.
type RuleSetServicer interface {
	ListRuleSets() []RuleSetSummary
	GetRuleSet(jurisdiction, accountType, version string) (*eligibility.RuleSet, error)
	PublishRuleSet(ctx context.Context, definition []byte) (*eligibility.RuleSet, error)
}

// MaintenanceServicer defines the contract for background refreshes and
// health reporting.
type MaintenanceServicer interface {
	Refresh(ctx context.Context) (*RefreshReport, error)
	Health() HealthReport
}

// AuditServicer defines the contract for audit logging.
type AuditServicer interface {
	Log(requestID, action, resourceType, resourceID, ipAddress string, changes map[string]any)
	List(page pagination.PageRequest) (*pagination.PageResponse[models.AuditLog], error)
}

// CandidateFinder is the catalog view the discovery service needs.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, spec catalog.ExposureSpec) (*catalog.CandidateSet, error)
}

// EligibilityEvaluator is the rule-engine view the discovery service needs.
type EligibilityEvaluator interface {
	Resolve(p eligibility.Profile, version string) (*eligibility.RuleSet, error)
	EvaluateWith(ctx context.Context, rs *eligibility.RuleSet, inst *catalog.Instrument, p eligibility.Profile) (eligibility.Assessment, error)
}
