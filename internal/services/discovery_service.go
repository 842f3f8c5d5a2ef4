package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"etfdiscovery/internal/catalog"
	"etfdiscovery/internal/constraints"
	"etfdiscovery/internal/eligibility"
	apperrors "etfdiscovery/internal/errors"
	"etfdiscovery/internal/logger"
	"etfdiscovery/internal/ranking"
)

// Request stages, logged as each one starts.
const (
	stageReceived     = "RECEIVED"
	stageCatalogQuery = "CATALOG_QUERY"
	stageEligibility  = "ELIGIBILITY_EVAL"
	stageFilter       = "FILTER"
	stageRank         = "RANK"
	stageAssemble     = "ASSEMBLE"
	stageDone         = "DONE"
	stageFailed       = "FAILED"
)

// DiscoveryConfig tunes the discovery service.
type DiscoveryConfig struct {
	// EvalBudget bounds the catalog query and the eligibility phase together.
	// Candidates still pending when it runs out are reported as unknown.
	EvalBudget time.Duration
	// Workers bounds concurrent evaluations. Zero uses GOMAXPROCS.
	Workers int
	// CacheTTL keeps complete results for identical queries. Zero disables
	// the cache.
	CacheTTL           time.Duration
	MaxAlternatives    int
	// DataSourcesQueried is reported when the snapshot does not name the
	// sources behind it, as with one restored from disk.
	DataSourcesQueried []string
}

// discoveryService runs the discovery pipeline for one query at a time;
// the service itself is safe for concurrent use.
type discoveryService struct {
	finder    CandidateFinder
	evaluator EligibilityEvaluator
	audit     AuditServicer
	cfg       DiscoveryConfig
	cache     *gocache.Cache
	now       func() time.Time
}

// NewDiscoveryService creates a new DiscoveryServicer.
func NewDiscoveryService(finder CandidateFinder, evaluator EligibilityEvaluator, audit AuditServicer, cfg DiscoveryConfig) DiscoveryServicer {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.EvalBudget <= 0 {
		cfg.EvalBudget = 2 * time.Second
	}
	s := &discoveryService{
		finder:    finder,
		evaluator: evaluator,
		audit:     audit,
		cfg:       cfg,
		now:       time.Now,
	}
	if cfg.CacheTTL > 0 {
		s.cache = gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return s
}

// Discover answers q. Only a malformed query, an unavailable catalog or an
// expired request context fail the call; anything scoped to a single
// candidate degrades that candidate and adds a warning.
func (s *discoveryService) Discover(ctx context.Context, q DiscoveryQuery) (*DiscoveryResult, error) {
	start := s.now()
	if q.RequestID == "" {
		q.RequestID = newRequestID()
	}
	log := logger.ForRequest(q.RequestID)
	log.Infow("discovery stage", "stage", stageReceived,
		"profile", q.Profile.Key().String(),
		"rule_version", q.RuleVersion,
	)

	if err := q.Validate(); err != nil {
		log.Infow("discovery stage", "stage", stageFailed, "error", err)
		return nil, err
	}

	// The eval budget covers the catalog query and eligibility together.
	evalCtx, cancel := context.WithTimeout(ctx, s.cfg.EvalBudget)
	defer cancel()

	log.Debugw("discovery stage", "stage", stageCatalogQuery)
	set, err := s.finder.FindCandidates(evalCtx, q.Exposure)
	if err != nil {
		log.Errorw("discovery stage", "stage", stageFailed, "error", err)
		return nil, s.mapFatal(ctx, err)
	}

	var warnings []Warning
	if set.Stale {
		log.Warnw("serving stale catalog snapshot",
			"snapshot_version", set.SnapshotVersion,
			"snapshot_age", set.SnapshotAge.String(),
			"cause", set.Cause,
		)
		warnings = append(warnings, Warning{
			Code:     WarnStaleData,
			Severity: SeverityWarning,
			Message: fmt.Sprintf("Catalog data may be out of date: serving snapshot %s, last refreshed %s ago.",
				set.SnapshotVersion, set.SnapshotAge.Truncate(time.Second)),
		})
	}

	if len(set.DegradedSources) > 0 {
		log.Warnw("catalog sources failed at last refresh", "sources", set.DegradedSources)
		warnings = append(warnings, Warning{
			Code:     WarnDegradedSource,
			Severity: SeverityWarning,
			Message: fmt.Sprintf("Catalog sources unavailable at the last refresh: %s. Instruments only they provide may be missing.",
				strings.Join(set.DegradedSources, ", ")),
		})
	}

	ruleVersion := q.RuleVersion
	rs, resolveErr := s.evaluator.Resolve(q.Profile, q.RuleVersion)
	if resolveErr != nil {
		rs = nil
		key := q.Profile.Key()
		msg := fmt.Sprintf("No eligibility rules are published for %s accounts in %s; eligibility is reported as unknown.",
			key.AccountType, key.Jurisdiction)
		if q.RuleVersion != "" {
			msg = fmt.Sprintf("Rule set version %s is not published for %s accounts in %s; eligibility is reported as unknown.",
				q.RuleVersion, key.AccountType, key.Jurisdiction)
		}
		log.Warnw("no rule set for profile", "profile", key.String(), "rule_version", q.RuleVersion)
		warnings = append(warnings, Warning{Code: WarnRuleSetNotFound, Severity: SeverityWarning, Message: msg})
	} else {
		ruleVersion = rs.Version
	}

	var cacheKey string
	if s.cache != nil && !set.Stale && len(set.DegradedSources) == 0 {
		cacheKey = queryKey(q, set.SnapshotVersion, ruleVersion)
		if cached, ok := s.cache.Get(cacheKey); ok {
			res := s.fromCache(cached.(*DiscoveryResult), q.RequestID, start)
			log.Infow("discovery stage", "stage", stageDone, "cache_hit", true, "results", len(res.Results))
			s.record(q, res)
			return res, nil
		}
	}

	log.Debugw("discovery stage", "stage", stageEligibility, "candidates", len(set.Instruments))
	var (
		assessments  []eligibility.Assessment
		evalWarnings []Warning
	)
	if rs == nil {
		assessments = make([]eligibility.Assessment, len(set.Instruments))
		for i := range assessments {
			assessments[i] = eligibility.NoRuleSet(q.Profile, q.RuleVersion)
		}
	} else {
		assessments, evalWarnings, err = s.evaluateAll(ctx, evalCtx, log, set.Instruments, q.Profile, rs)
		if err != nil {
			log.Errorw("discovery stage", "stage", stageFailed, "error", err)
			return nil, s.mapFatal(ctx, err)
		}
	}
	warnings = append(warnings, evalWarnings...)
	degraded := set.Stale || len(set.DegradedSources) > 0 || len(evalWarnings) > 0

	summary := Summary{
		TotalSearched:      len(set.Instruments),
		DataSourcesQueried: set.Sources,
	}
	if len(summary.DataSourcesQueried) == 0 {
		summary.DataSourcesQueried = s.cfg.DataSourcesQueried
	}
	byTicker := make(map[string]eligibility.Assessment, len(assessments))
	for i, a := range assessments {
		byTicker[set.Instruments[i].Ticker] = a
		switch a.Status {
		case eligibility.StatusEligible:
			summary.TotalEligible++
		case eligibility.StatusIneligible:
			summary.TotalIneligible++
		case eligibility.StatusConditional:
			summary.TotalConditional++
		default:
			summary.TotalUnknown++
		}
	}

	log.Debugw("discovery stage", "stage", stageFilter)
	kept, excluded := constraints.Apply(set.Instruments, q.Constraints)
	summary.TotalExcluded = excluded.Len()
	if excluded.Len() > 0 {
		log.Infow("candidates excluded by constraints",
			"excluded", excluded.Len(),
			"missing_data", excluded.MissingData(),
			"reasons", excluded.Summary(),
		)
		for _, ex := range excluded.Items {
			log.Debugw("candidate excluded", "ticker", ex.Ticker, "reason", string(ex.Reason))
		}
		warnings = append(warnings, Warning{
			Code:     WarnConstraintExclusions,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("%d candidate(s) excluded by constraints (%s).", excluded.Len(), excluded.Summary()),
		})
	}

	log.Debugw("discovery stage", "stage", stageRank, "candidates", len(kept))
	weights, norm := ranking.NormalizeWeights(q.Preferences)
	if norm.Renormalized {
		warnings = append(warnings, Warning{
			Code:     WarnWeightsRenormalized,
			Severity: SeverityInfo,
			Message:  "Ranking preference weights did not sum to 1 and were re-normalized.",
		})
	}
	if len(norm.Ignored) > 0 {
		warnings = append(warnings, Warning{
			Code:     WarnPreferencesIgnored,
			Severity: SeverityInfo,
			Message:  "Unrecognized ranking preferences were ignored: " + strings.Join(norm.Ignored, ", ") + ".",
		})
	}

	candidates := make([]ranking.Candidate, len(kept))
	for i, inst := range kept {
		candidates[i] = ranking.Candidate{Instrument: inst, Assessment: byTicker[inst.Ticker]}
	}
	ranked := ranking.Rank(candidates, weights, q.Exposure, ranking.Options{
		MaxResults:          q.Output.MaxResults,
		EligibleOnly:        q.Output.EligibleOnly,
		IncludeAlternatives: q.Output.IncludeAlternatives,
		MaxAlternatives:     s.cfg.MaxAlternatives,
	})

	log.Debugw("discovery stage", "stage", stageAssemble)
	warnings = append(warnings, resultWarnings(ranked.Results)...)
	if !q.Output.IncludeWarnings {
		warnings = dropInfo(warnings)
	}

	res := &DiscoveryResult{
		RequestID:       q.RequestID,
		Results:         ranked.Results,
		Alternatives:    ranked.Alternatives,
		Summary:         summary,
		Warnings:        warnings,
		CacheHit:        set.Stale,
		SnapshotVersion: set.SnapshotVersion,
		RuleVersion:     ruleVersion,
		Weights:         weights,
	}
	res.GeneratedAt = s.now()
	res.Summary.SearchDurationMs = res.GeneratedAt.Sub(start).Milliseconds()

	if cacheKey != "" && !degraded {
		s.cache.SetDefault(cacheKey, res)
	}

	log.Infow("discovery stage", "stage", stageDone,
		"searched", summary.TotalSearched,
		"eligible", summary.TotalEligible,
		"ineligible", summary.TotalIneligible,
		"unknown", summary.TotalUnknown,
		"conditional", summary.TotalConditional,
		"excluded", summary.TotalExcluded,
		"results", len(res.Results),
		"duration_ms", res.Summary.SearchDurationMs,
	)
	s.record(q, res)
	return res, nil
}

type evalResult struct {
	index      int
	assessment eligibility.Assessment
	err        error
}

// evaluateAll applies rs to every candidate on a bounded pool and waits for
// all of them or evalCtx, whichever comes first.
// Candidates that did not finish are reported unknown. Evaluations still
// running when the budget expires are abandoned; their results are dropped.
func (s *discoveryService) evaluateAll(ctx, evalCtx context.Context, log *zap.SugaredLogger, insts []catalog.Instrument, p eligibility.Profile, rs *eligibility.RuleSet) ([]eligibility.Assessment, []Warning, error) {
	version := rs.Version

	results := make(chan evalResult, len(insts))
	go func() {
		var g errgroup.Group
		g.SetLimit(s.cfg.Workers)
		for i := range insts {
			if evalCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				results <- s.evaluateOne(evalCtx, i, rs, &insts[i], p)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	assessments := make([]eligibility.Assessment, len(insts))
	done := make([]bool, len(insts))
	var failed []string
	timedOut := 0

	collectOne := func(r evalResult) {
		done[r.index] = true
		switch {
		case r.err == nil:
			assessments[r.index] = r.assessment
		case errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled):
			done[r.index] = false
		default:
			ticker := insts[r.index].Ticker
			log.Errorw("eligibility evaluation failed", "ticker", ticker, "error", r.err)
			failed = append(failed, ticker)
			assessments[r.index] = eligibility.UnknownAssessment(version,
				"Eligibility evaluation failed for this instrument; status unknown.")
		}
	}

	pending := len(insts)
collect:
	for pending > 0 {
		select {
		case r, ok := <-results:
			if !ok {
				break collect
			}
			collectOne(r)
			pending--
		case <-evalCtx.Done():
			break collect
		}
	}
drain:
	for {
		select {
		case r, ok := <-results:
			if !ok {
				break drain
			}
			collectOne(r)
		default:
			break drain
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	for i := range insts {
		if !done[i] {
			timedOut++
			assessments[i] = eligibility.UnknownAssessment(version,
				"Eligibility evaluation did not finish within the time budget; status unknown.")
		}
	}

	var warnings []Warning
	if timedOut > 0 {
		log.Warnw("eligibility evaluation timed out",
			"pending", timedOut,
			"candidates", len(insts),
			"budget", s.cfg.EvalBudget.String(),
		)
		warnings = append(warnings, Warning{
			Code:     WarnPartialTimeout,
			Severity: SeverityWarning,
			Message: fmt.Sprintf("%d of %d candidates were not evaluated within %s and are reported with unknown eligibility.",
				timedOut, len(insts), s.cfg.EvalBudget),
		})
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		warnings = append(warnings, Warning{
			Code:     WarnEvaluationFailed,
			Severity: SeverityWarning,
			Message:  "Eligibility could not be evaluated for: " + strings.Join(failed, ", ") + ".",
		})
	}
	return assessments, warnings, nil
}

func (s *discoveryService) evaluateOne(ctx context.Context, i int, rs *eligibility.RuleSet, inst *catalog.Instrument, p eligibility.Profile) (out evalResult) {
	out.index = i
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("panic during evaluation: %v", r)
		}
	}()
	out.assessment, out.err = s.evaluator.EvaluateWith(ctx, rs, inst, p)
	return out
}

// mapFatal converts a stage error into the AppError returned to the caller.
func (s *discoveryService) mapFatal(ctx context.Context, err error) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, catalog.ErrUnavailable):
		return apperrors.Wrap(apperrors.ErrCatalogUnavailable, err)
	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.ErrDiscoveryTimeout, err)
	}
	return apperrors.Wrap(apperrors.ErrInternalServer, err)
}

func (s *discoveryService) fromCache(cached *DiscoveryResult, requestID string, start time.Time) *DiscoveryResult {
	res := *cached
	res.RequestID = requestID
	res.CacheHit = true
	res.GeneratedAt = s.now()
	res.Summary.SearchDurationMs = res.GeneratedAt.Sub(start).Milliseconds()
	return &res
}

func (s *discoveryService) record(q DiscoveryQuery, res *DiscoveryResult) {
	if s.audit == nil {
		return
	}
	s.audit.Log(res.RequestID, "DISCOVER", "discovery", res.SnapshotVersion, q.ClientIP, map[string]any{
		"profile":          q.Profile.Key().String(),
		"rule_version":     res.RuleVersion,
		"snapshot_version": res.SnapshotVersion,
		"results":          len(res.Results),
		"alternatives":     len(res.Alternatives),
		"summary":          res.Summary,
		"cache_hit":        res.CacheHit,
	})
}

// resultWarnings flags result sets that need the client's attention.
func resultWarnings(results []ranking.Scored) []Warning {
	var out []Warning
	eligible, weak := 0, 0
	for _, r := range results {
		if r.Assessment.IsEligible() {
			eligible++
		}
		if r.Assessment.Confidence == eligibility.ConfidenceLow || r.Assessment.Confidence == eligibility.ConfidenceUnknown {
			weak++
		}
	}
	if eligible == 0 {
		out = append(out, Warning{
			Code:     WarnNoEligibleResults,
			Severity: SeverityWarning,
			Message:  "No instruments could be confirmed eligible for this account type. Consider relaxing constraints or exposure.",
		})
	}
	if weak > 0 {
		out = append(out, Warning{
			Code:     WarnLowConfidence,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("%d result(s) have low or unknown eligibility confidence due to missing data.", weak),
		})
	}
	return out
}

func dropInfo(warnings []Warning) []Warning {
	out := warnings[:0]
	for _, w := range warnings {
		if w.Severity != SeverityInfo {
			out = append(out, w)
		}
	}
	return out
}

// queryKey hashes the parts of q that affect the result together with the
// data versions it was computed from.
func queryKey(q DiscoveryQuery, snapshotVersion, ruleVersion string) string {
	q.RequestID = ""
	q.ClientIP = ""
	q.RuleVersion = ""
	raw, err := json.Marshal(struct {
		Query    DiscoveryQuery
		Snapshot string
		Rules    string
	}{q, snapshotVersion, ruleVersion})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
