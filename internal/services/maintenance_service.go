package services

import (
	"context"
	"time"

	"etfdiscovery/internal/catalog"
	"etfdiscovery/internal/eligibility"
	apperrors "etfdiscovery/internal/errors"
	"etfdiscovery/internal/logger"
)

// Health states.
const (
	HealthOK          = "ok"
	HealthDegraded    = "degraded"
	HealthUnavailable = "unavailable"
)

// RefreshReport describes one refresh cycle.
type RefreshReport struct {
	SnapshotVersion string   `json:"snapshotVersion"`
	Instruments     int      `json:"instruments"`
	RuleSetsAdded   int      `json:"ruleSetsAdded"`
	RuleSets        int      `json:"ruleSets"`
	DurationMs      int64    `json:"durationMs"`
	DegradedSources []string `json:"degradedSources,omitempty"`
	Errors          []string `json:"errors,omitempty"`
}

// HealthReport is the state exposed by the health endpoint.
type HealthReport struct {
	Status          string    `json:"status"`
	SnapshotVersion string    `json:"snapshotVersion,omitempty"`
	SnapshotAge     string    `json:"snapshotAge,omitempty"`
	Instruments     int       `json:"instruments"`
	LastAttempt     time.Time `json:"lastAttempt,omitempty"`
	LastError       string    `json:"lastError,omitempty"`
	DegradedSources []string  `json:"degradedSources,omitempty"`
	RuleSets        int       `json:"ruleSets"`
}

// MaintenanceConfig tunes the maintenance service.
type MaintenanceConfig struct {
	// RuleSetDir, when set, is scanned for new rule-set files on refresh.
	RuleSetDir string
	StaleAfter time.Duration
}

// maintenanceService refreshes the catalog and rule registry outside request
// scope.
type maintenanceService struct {
	catalog  *catalog.Catalog
	registry *eligibility.Registry
	cfg      MaintenanceConfig
	now      func() time.Time
}

// NewMaintenanceService creates a new MaintenanceServicer.
func NewMaintenanceService(c *catalog.Catalog, registry *eligibility.Registry, cfg MaintenanceConfig) MaintenanceServicer {
	return &maintenanceService{catalog: c, registry: registry, cfg: cfg, now: time.Now}
}

// Refresh reloads the catalog and picks up newly published rule sets. A
// failed catalog load leaves the previous snapshot in place and is reported
// as CATALOG_UNAVAILABLE; rule-set problems are listed in the report.
func (s *maintenanceService) Refresh(ctx context.Context) (*RefreshReport, error) {
	start := s.now()
	report := &RefreshReport{}

	added, err := s.registry.Reload(ctx)
	report.RuleSetsAdded += added
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	if s.cfg.RuleSetDir != "" {
		sets, err := eligibility.LoadDir(s.cfg.RuleSetDir)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
		added, err := s.registry.Load(ctx, sets)
		report.RuleSetsAdded += added
		if err := eligibility.IgnoreConflicts(err); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
	}
	report.RuleSets = s.registry.Len()

	snap, catalogErr := s.catalog.Refresh(ctx)
	if catalogErr != nil {
		report.Errors = append(report.Errors, catalogErr.Error())
		if cur := s.catalog.Snapshot(); cur != nil {
			report.SnapshotVersion = cur.Version
			report.Instruments = cur.Len()
		}
	} else {
		report.SnapshotVersion = snap.Version
		report.Instruments = snap.Len()
		report.DegradedSources = s.catalog.Status().Degraded
	}
	report.DurationMs = s.now().Sub(start).Milliseconds()

	logger.Get().Infow("refresh completed",
		"snapshot_version", report.SnapshotVersion,
		"instruments", report.Instruments,
		"rule_sets_added", report.RuleSetsAdded,
		"errors", len(report.Errors),
		"duration_ms", report.DurationMs,
	)

	if catalogErr != nil {
		return report, apperrors.Wrap(apperrors.ErrCatalogUnavailable, catalogErr)
	}
	if report.RuleSets == 0 {
		return report, apperrors.ErrEligibilityUnavailable
	}
	return report, nil
}

// Health reports whether discovery can be served and how fresh its data is.
func (s *maintenanceService) Health() HealthReport {
	status := s.catalog.Status()
	h := HealthReport{
		Status:      HealthOK,
		Instruments: status.Instruments,
		LastAttempt: status.AttemptedAt,
		RuleSets:    s.registry.Len(),
	}
	if status.LastError != nil {
		h.LastError = status.LastError.Error()
		h.Status = HealthDegraded
	}
	if len(status.Degraded) > 0 {
		h.DegradedSources = status.Degraded
		h.Status = HealthDegraded
	}

	snap := s.catalog.Snapshot()
	if snap == nil || h.RuleSets == 0 {
		h.Status = HealthUnavailable
		return h
	}
	age := snap.Age(s.now())
	h.SnapshotVersion = snap.Version
	h.SnapshotAge = age.Truncate(time.Second).String()
	if s.cfg.StaleAfter > 0 && age > s.cfg.StaleAfter {
		h.Status = HealthDegraded
	}
	return h
}
