// Package stats implements the in-memory per-interval time series ("stat
// trackers") produced by worker tasks while a job runs, their merge
// semantics, wire codec hooks, and the real-time reporting adapter.
package stats

import (
	"fmt"
	"sync"
	"time"
)

// Kind identifies which tracker variant a Tracker holds — needed because
// Job-Completed carries a heterogeneous slice of trackers and the decoder
// must know which concrete shape to rebuild.
type Kind int

const (
	KindInteger Kind = iota
	KindLong
	KindFloat
	KindCounter
	KindTimer
	KindStacked
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindCounter:
		return "counter"
	case KindTimer:
		return "timer"
	case KindStacked:
		return "stacked"
	default:
		return "unknown"
	}
}

// Owner identifies which (client, thread) produced a tracker.
type Owner struct {
	ClientID string
	ThreadID int
}

// Tracker is an interval-bucketed time series owned by exactly one worker
// task during collection, then moved by value into a Job-Completed payload
// at job end (spec.md §3 Entity lifecycles).
//
// Category trackers (KindStacked) hold one set of per-category values per
// interval; all other kinds hold a single scalar per interval. Categories is
// nil for non-stacked trackers.
type Tracker struct {
	mu sync.Mutex

	Kind         Kind
	DisplayName  string
	Owner        Owner
	IntervalSec  int
	Categories   []string // only meaningful for KindStacked

	start   time.Time
	running bool

	// values[i] is the interval-i total; counts[i] is the number of samples
	// folded into values[i]. For KindStacked, categoryValues[cat][i] holds
	// the per-category total for interval i and counts[i] is the number of
	// addValue calls across all categories in that interval.
	values         []float64
	counts         []int64
	categoryValues map[string][]float64

	// timerStart supports StartTimer/StopTimer pairs for KindTimer.
	timerStart time.Time
	timerOpen  bool
}

// New creates an idle tracker of the given kind. Call Start to begin
// collection — samples added before Start or after Stop are dropped
// (spec.md §4.3 startTracker/stopTracker).
func New(kind Kind, displayName string, owner Owner, intervalSec int) *Tracker {
	return &Tracker{
		Kind:        kind,
		DisplayName: displayName,
		Owner:       owner,
		IntervalSec: intervalSec,
	}
}

// NewStacked creates an idle KindStacked tracker with a fixed category set.
func NewStacked(displayName string, owner Owner, intervalSec int, categories []string) *Tracker {
	t := New(KindStacked, displayName, owner, intervalSec)
	t.Categories = append([]string(nil), categories...)
	t.categoryValues = make(map[string][]float64, len(categories))
	for _, c := range categories {
		t.categoryValues[c] = nil
	}
	return t
}

// Start begins the collection window. Interval bucket 0 starts now.
func (t *Tracker) Start(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = now
	t.running = true
}

// Stop ends the collection window. Further AddValue/Increment/StartTimer
// calls are no-ops until Start is called again.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
}

// bucket computes the current interval index, assuming the caller holds mu.
func (t *Tracker) bucket(now time.Time) int {
	elapsed := now.Sub(t.start)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / (time.Duration(t.IntervalSec) * time.Second))
}

func (t *Tracker) ensureLen(n int) {
	for len(t.values) <= n {
		t.values = append(t.values, 0)
		t.counts = append(t.counts, 0)
	}
	for cat := range t.categoryValues {
		for len(t.categoryValues[cat]) <= n {
			t.categoryValues[cat] = append(t.categoryValues[cat], 0)
		}
	}
}

// AddValue records one sample into the current interval's bucket. Dropped
// silently if the tracker is not running (spec.md §4.3).
func (t *Tracker) AddValue(now time.Time, v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	i := t.bucket(now)
	t.ensureLen(i)
	t.values[i] += v
	t.counts[i]++
}

// AddCategoryValue records one sample into category cat's current bucket.
// Valid only for KindStacked trackers; it is a no-op on any other kind.
func (t *Tracker) AddCategoryValue(now time.Time, cat string, v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.Kind != KindStacked {
		return
	}
	if _, ok := t.categoryValues[cat]; !ok {
		t.categoryValues[cat] = nil
		t.Categories = append(t.Categories, cat)
	}
	i := t.bucket(now)
	t.ensureLen(i)
	t.categoryValues[cat][i] += v
	t.counts[i]++
}

// Increment is AddValue(now, 1) — the incremental-counter convenience.
func (t *Tracker) Increment(now time.Time) {
	t.AddValue(now, 1)
}

// StartTimer marks the beginning of a timed operation for a KindTimer
// tracker. Pair with StopTimer.
func (t *Tracker) StartTimer(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.Kind != KindTimer {
		return
	}
	t.timerStart = now
	t.timerOpen = true
}

// StopTimer ends a timed operation started by StartTimer and records its
// duration, in milliseconds, as one sample in the current interval.
func (t *Tracker) StopTimer(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.Kind != KindTimer || !t.timerOpen {
		return
	}
	t.timerOpen = false
	d := now.Sub(t.timerStart)
	i := t.bucket(now)
	t.ensureLen(i)
	t.values[i] += float64(d.Milliseconds())
	t.counts[i]++
}

// SetIntervalData overwrites the tracker's interval buckets wholesale,
// injecting precomputed values/counts — used to replay remotely collected
// data on the coordinator after decoding a Job-Completed payload
// (spec.md §4.3).
func (t *Tracker) SetIntervalData(values []float64, counts []int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(values) != len(counts) {
		return fmt.Errorf("stats: SetIntervalData: values/counts length mismatch (%d vs %d)", len(values), len(counts))
	}
	t.values = append([]float64(nil), values...)
	t.counts = append([]int64(nil), counts...)
	return nil
}

// Snapshot returns a read-only copy of the tracker's per-interval values and
// counts, safe to read after the owning worker task has stopped mutating it.
func (t *Tracker) Snapshot() (values []float64, counts []int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float64(nil), t.values...), append([]int64(nil), t.counts...)
}

// IntervalCount returns the number of interval buckets currently recorded.
func (t *Tracker) IntervalCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.values)
}

// CategorySnapshot returns a read-only copy of one category's per-interval
// values, for KindStacked trackers.
func (t *Tracker) CategorySnapshot(cat string) []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float64(nil), t.categoryValues[cat]...)
}

// Aggregate merges other into t in place. Both trackers must share kind,
// display name, and interval width — merging mismatched trackers is a
// programmer error, not a runtime condition, so it returns an error rather
// than silently producing nonsense totals (spec.md §4.3 aggregate, §8
// aggregation scenario).
func (t *Tracker) Aggregate(other *Tracker) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	if t.Kind != other.Kind {
		return fmt.Errorf("stats: aggregate: kind mismatch (%s vs %s)", t.Kind, other.Kind)
	}
	if t.DisplayName != other.DisplayName {
		return fmt.Errorf("stats: aggregate: display name mismatch (%q vs %q)", t.DisplayName, other.DisplayName)
	}
	if t.IntervalSec != other.IntervalSec {
		return fmt.Errorf("stats: aggregate: interval width mismatch (%d vs %d)", t.IntervalSec, other.IntervalSec)
	}

	n := len(other.values)
	if len(t.values) < n {
		t.ensureLenLocked(n - 1)
	}
	for i := 0; i < n; i++ {
		t.values[i] += other.values[i]
		t.counts[i] += other.counts[i]
	}

	for cat, vals := range other.categoryValues {
		if _, ok := t.categoryValues[cat]; !ok {
			if t.categoryValues == nil {
				t.categoryValues = make(map[string][]float64)
			}
			t.categoryValues[cat] = make([]float64, len(t.values))
			t.Categories = append(t.Categories, cat)
		}
		for len(t.categoryValues[cat]) < len(vals) {
			t.categoryValues[cat] = append(t.categoryValues[cat], 0)
		}
		for i, v := range vals {
			t.categoryValues[cat][i] += v
		}
	}
	return nil
}

// ensureLenLocked is ensureLen assuming the caller already holds mu (used
// internally by Aggregate, which locks both trackers up front).
func (t *Tracker) ensureLenLocked(n int) {
	for len(t.values) <= n {
		t.values = append(t.values, 0)
		t.counts = append(t.counts, 0)
	}
}
