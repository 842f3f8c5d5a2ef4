package eligibility

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"etfdiscovery/internal/logger"
)

var (
	// ErrNotFound is returned when no rule set matches a key or version.
	ErrNotFound = errors.New("rule set not found")
	// ErrVersionConflict is returned when a published version is not newer
	// than the latest one for its key.
	ErrVersionConflict = errors.New("rule set version is not newer than the latest")
)

// Store persists published rule sets.
type Store interface {
	Save(ctx context.Context, rs *RuleSet) error
	LoadAll(ctx context.Context) ([]*RuleSet, error)
}

// index is an immutable view of every published rule set. Versions for a
// key are ordered oldest first.
type index struct {
	byKey map[Key][]*RuleSet
	count int
}

// Registry holds every published rule-set version. Reads go through an
// atomically swapped index; Publish builds a new index and swaps it in.
type Registry struct {
	current atomic.Pointer[index]
	mu      sync.Mutex // serializes publishers
	store   Store
	now     func() time.Time
}

// NewRegistry creates an empty registry. store may be nil.
func NewRegistry(store Store) *Registry {
	r := &Registry{store: store, now: time.Now}
	r.current.Store(&index{byKey: map[Key][]*RuleSet{}})
	return r
}

// Publish compiles rs if needed and adds it as the latest version for its
// key. The version must be strictly greater than the current latest.
func (r *Registry) Publish(ctx context.Context, rs *RuleSet) error {
	if err := rs.Compile(); err != nil {
		return err
	}
	if rs.PublishedAt.IsZero() {
		rs.PublishedAt = r.now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkVersion(rs); err != nil {
		return err
	}
	if r.store != nil {
		if err := r.store.Save(ctx, rs); err != nil {
			return fmt.Errorf("persist rule set %s@%s: %w", rs.Key(), rs.Version, err)
		}
	}
	r.swap(rs)

	logger.Get().Infow("rule set published",
		"key", rs.Key().String(),
		"version", rs.Version,
		"rules", len(rs.Rules),
	)
	return nil
}

func (r *Registry) checkVersion(rs *RuleSet) error {
	versions := r.current.Load().byKey[rs.Key()]
	if len(versions) == 0 {
		return nil
	}
	latest := versions[len(versions)-1]
	if CompareVersions(rs.Version, latest.Version) <= 0 {
		return fmt.Errorf("%w: %s@%s (latest %s)", ErrVersionConflict, rs.Key(), rs.Version, latest.Version)
	}
	return nil
}

// swap installs a new index containing rs. Callers hold r.mu.
func (r *Registry) swap(rs *RuleSet) {
	old := r.current.Load()
	next := &index{byKey: make(map[Key][]*RuleSet, len(old.byKey)+1), count: old.count + 1}
	for k, v := range old.byKey {
		next.byKey[k] = v
	}
	key := rs.Key()
	versions := make([]*RuleSet, len(old.byKey[key]), len(old.byKey[key])+1)
	copy(versions, old.byKey[key])
	next.byKey[key] = append(versions, rs)
	r.current.Store(next)
}

// Resolve returns the rule set for the profile. An empty version selects the
// latest.
func (r *Registry) Resolve(p Profile, version string) (*RuleSet, error) {
	key := p.Key()
	versions := r.current.Load().byKey[key]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: no rules for %s", ErrNotFound, key)
	}
	if version == "" {
		return versions[len(versions)-1], nil
	}
	for _, rs := range versions {
		if rs.Version == version {
			return rs, nil
		}
	}
	return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, key, version)
}

// Versions returns the published versions for a key, oldest first.
func (r *Registry) Versions(key Key) []string {
	versions := r.current.Load().byKey[key]
	out := make([]string, len(versions))
	for i, rs := range versions {
		out[i] = rs.Version
	}
	return out
}

// All returns every published rule set ordered by key then version.
func (r *Registry) All() []*RuleSet {
	idx := r.current.Load()
	keys := make([]Key, 0, len(idx.byKey))
	for k := range idx.byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	out := make([]*RuleSet, 0, idx.count)
	for _, k := range keys {
		out = append(out, idx.byKey[k]...)
	}
	return out
}

// Len returns the number of published versions.
func (r *Registry) Len() int { return r.current.Load().count }

// Load publishes the given rule sets, skipping versions already present.
// It returns how many were added.
func (r *Registry) Load(ctx context.Context, sets []*RuleSet) (int, error) {
	added := 0
	var errs []error
	for _, rs := range sortedByVersion(sets) {
		if r.has(rs) {
			continue
		}
		if err := r.Publish(ctx, rs); err != nil {
			errs = append(errs, err)
			continue
		}
		added++
	}
	return added, errors.Join(errs...)
}

// IgnoreConflicts drops version conflicts from an error returned by Load and
// returns whatever else failed, or nil.
func IgnoreConflicts(err error) error {
	if err == nil {
		return nil
	}
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	var kept []error
	for _, e := range errs {
		if !errors.Is(e, ErrVersionConflict) {
			kept = append(kept, e)
		}
	}
	return errors.Join(kept...)
}

// Reload pulls rule sets from the store and publishes any new versions.
func (r *Registry) Reload(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	sets, err := r.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load rule sets: %w", err)
	}

	// Sets from the store are already persisted; publish without saving again.
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, rs := range sortedByVersion(sets) {
		if err := rs.Compile(); err != nil {
			logger.Get().Warnw("skipping invalid stored rule set", "key", rs.Key().String(), "version", rs.Version, "error", err)
			continue
		}
		if r.has(rs) {
			continue
		}
		if err := r.checkVersion(rs); err != nil {
			logger.Get().Warnw("skipping stored rule set", "error", err)
			continue
		}
		r.swap(rs)
		added++
	}
	return added, nil
}

func (r *Registry) has(rs *RuleSet) bool {
	for _, v := range r.current.Load().byKey[rs.Key()] {
		if v.Version == rs.Version {
			return true
		}
	}
	return false
}

func sortedByVersion(sets []*RuleSet) []*RuleSet {
	out := append([]*RuleSet(nil), sets...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Key() != out[j].Key() {
			return out[i].Key().String() < out[j].Key().String()
		}
		return CompareVersions(out[i].Version, out[j].Version) < 0
	})
	return out
}

// CompareVersions orders dotted version strings segment by segment,
// numerically where both segments are numbers and lexically otherwise.
// "2025.10" is greater than "2025.9".
func CompareVersions(a, b string) int {
	as := strings.FieldsFunc(a, isVersionSep)
	bs := strings.FieldsFunc(b, isVersionSep)
	for i := 0; i < len(as) || i < len(bs); i++ {
		if i >= len(as) {
			return -1
		}
		if i >= len(bs) {
			return 1
		}
		an, aErr := strconv.Atoi(as[i])
		bn, bErr := strconv.Atoi(bs[i])
		switch {
		case aErr == nil && bErr == nil:
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
		case as[i] != bs[i]:
			return strings.Compare(as[i], bs[i])
		}
	}
	return 0
}

func isVersionSep(r rune) bool {
	return r == '.' || r == '-' || r == '_' || r == 'v'
}
