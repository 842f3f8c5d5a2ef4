package scheduler

import (
	"context"
	"time"

	"etfdiscovery/internal/logger"
	"etfdiscovery/internal/services"
)

// RefreshJob reloads the catalog and rule sets.
type RefreshJob struct {
	maintenance services.MaintenanceServicer
	timeout     time.Duration
}

// NewRefreshJob creates a refresh job. A positive timeout bounds each run.
func NewRefreshJob(maintenance services.MaintenanceServicer, timeout time.Duration) *RefreshJob {
	return &RefreshJob{maintenance: maintenance, timeout: timeout}
}

// Name returns the job name.
func (j *RefreshJob) Name() string { return "catalog_refresh" }

// Run performs one refresh. A failed refresh leaves the previous snapshot
// serving requests.
func (j *RefreshJob) Run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	report, err := j.maintenance.Refresh(ctx)
	if err != nil {
		return err
	}
	log := logger.Get()
	if len(report.Errors) > 0 {
		log.Warnw("refresh completed with errors", "errors", report.Errors)
	}
	log.Infow("refresh completed",
		"snapshot_version", report.SnapshotVersion,
		"instruments", report.Instruments,
		"rule_sets", report.RuleSets,
		"rule_sets_added", report.RuleSetsAdded,
		"duration_ms", report.DurationMs,
	)
	return nil
}
