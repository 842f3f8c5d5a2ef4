package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"etfdiscovery/internal/logger"
)

// ErrUnavailable is returned when no snapshot can be served because the
// backing store cannot be reached and nothing has been cached.
var ErrUnavailable = errors.New("catalog unavailable")

// CandidateSet is the result of a catalog query.
type CandidateSet struct {
	Instruments     []Instrument
	SnapshotVersion string
	SnapshotAge     time.Duration
	// Stale is set when the last refresh failed or the snapshot is older than
	// the configured freshness window. The instruments are still usable.
	Stale bool
	// Cause explains why the data is stale, if it is.
	Cause error
	// Sources names the sources that answered the refresh behind the
	// snapshot. Empty when the snapshot was restored from disk.
	Sources []string
	// DegradedSources names sources that failed during that refresh; their
	// instruments may be missing from the snapshot.
	DegradedSources []string
}

// Status describes the most recent refresh attempt.
type Status struct {
	Version     string
	Instruments int
	LoadedAt    time.Time
	AttemptedAt time.Time
	LastError   error
	Sources     []string
	Degraded    []string
}

// Catalog serves instrument snapshots. Readers capture the current snapshot
// pointer once and keep using it even if a refresh swaps in a new one.
type Catalog struct {
	source     Source
	store      *SnapshotStore
	staleAfter time.Duration
	now        func() time.Time

	current atomic.Pointer[Snapshot]
	status  atomic.Pointer[Status]
	seq     atomic.Int64
	mu      sync.Mutex // serializes refreshes
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithSnapshotStore persists each good snapshot and uses the persisted one as
// a fallback on cold start.
func WithSnapshotStore(store *SnapshotStore) Option {
	return func(c *Catalog) { c.store = store }
}

// WithStaleAfter marks snapshots older than d as stale. Zero disables the check.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Catalog) { c.staleAfter = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// New creates a Catalog that loads instruments from source.
func New(source Source, opts ...Option) *Catalog {
	c := &Catalog{source: source, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.status.Store(&Status{})
	return c
}

// Snapshot returns the snapshot currently being served, or nil.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Status returns a copy of the last refresh status.
func (c *Catalog) Status() Status {
	return *c.status.Load()
}

// Warm performs the first load. If the source cannot be reached it falls
// back to the persisted snapshot, which is served as stale. It only fails
// when neither is available.
func (c *Catalog) Warm(ctx context.Context) error {
	_, err := c.Refresh(ctx)
	if err == nil {
		return nil
	}
	if c.store == nil {
		return err
	}

	snap, loadErr := c.store.Load()
	if loadErr != nil {
		return fmt.Errorf("%w (snapshot fallback: %v)", err, loadErr)
	}
	c.current.Store(snap)
	c.status.Store(&Status{
		Version:     snap.Version,
		Instruments: snap.Len(),
		LoadedAt:    snap.LoadedAt,
		AttemptedAt: c.now(),
		LastError:   err,
	})
	logger.Get().Warnw("catalog source unreachable, serving persisted snapshot",
		"version", snap.Version,
		"age", c.now().Sub(snap.LoadedAt).String(),
		"error", err,
	)
	return nil
}

// Refresh loads a fresh snapshot from the source and swaps it in atomically.
// On failure the previous snapshot keeps being served.
func (c *Catalog) Refresh(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	attempted := c.now()
	instruments, err := c.source.Load(ctx)
	sources := c.sourceNames()
	var (
		partial  *PartialError
		degraded []string
	)
	if errors.As(err, &partial) && len(instruments) > 0 {
		sources, degraded = partial.Answered, partial.FailedSources()
		logger.Get().Warnw("catalog refresh degraded", "source", c.source.Name(), "failed", degraded, "error", err)
		err = nil
	}
	if err != nil {
		prev := c.status.Load()
		c.status.Store(&Status{
			Version:     prev.Version,
			Instruments: prev.Instruments,
			LoadedAt:    prev.LoadedAt,
			AttemptedAt: attempted,
			LastError:   err,
			Sources:     prev.Sources,
			Degraded:    prev.Degraded,
		})
		logger.Get().Errorw("catalog refresh failed", "source", c.source.Name(), "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, c.source.Name(), err)
	}

	version := fmt.Sprintf("snap-%d-%d", attempted.Unix(), c.seq.Add(1))
	snap, rejected := NewSnapshot(version, attempted, instruments)
	for _, reason := range rejected {
		logger.Get().Warnw("instrument rejected from snapshot", "version", version, "reason", reason)
	}

	c.current.Store(snap)
	c.status.Store(&Status{
		Version:     snap.Version,
		Instruments: snap.Len(),
		LoadedAt:    snap.LoadedAt,
		AttemptedAt: attempted,
		Sources:     sources,
		Degraded:    degraded,
	})

	if c.store != nil {
		if err := c.store.Save(snap); err != nil {
			logger.Get().Warnw("failed to persist catalog snapshot", "version", version, "error", err)
		}
	}

	logger.Get().Infow("catalog refreshed",
		"source", c.source.Name(),
		"version", version,
		"instruments", snap.Len(),
		"rejected", len(rejected),
	)
	return snap, nil
}

func (c *Catalog) sourceNames() []string {
	if m, ok := c.source.(*MultiSource); ok {
		return m.Names()
	}
	return []string{c.source.Name()}
}

// FindCandidates returns the instruments of the current snapshot that pass
// the asset-class and geography pre-filter. No eligibility or ranking logic
// is applied here.
func (c *Catalog) FindCandidates(ctx context.Context, spec ExposureSpec) (*CandidateSet, error) {
	snap := c.current.Load()
	status := c.status.Load()
	if snap == nil {
		if status.LastError != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, status.LastError)
		}
		return nil, ErrUnavailable
	}

	now := c.now()
	set := &CandidateSet{
		SnapshotVersion: snap.Version,
		SnapshotAge:     snap.Age(now),
		Sources:         status.Sources,
		DegradedSources: status.Degraded,
	}
	switch {
	case status.LastError != nil:
		set.Stale = true
		set.Cause = status.LastError
	case c.staleAfter > 0 && set.SnapshotAge > c.staleAfter:
		set.Stale = true
		set.Cause = fmt.Errorf("snapshot older than %s", c.staleAfter)
	}

	for i := range snap.Instruments {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if spec.Matches(&snap.Instruments[i]) {
			set.Instruments = append(set.Instruments, snap.Instruments[i])
		}
	}
	return set, nil
}
