package ingest

import "time"

// Counter names accumulated over a run.
const (
	CounterCandidates        = "candidates"
	CounterUnseen            = "unseen"
	CounterFetched           = "fetched"
	CounterKeepers           = "keepers"
	CounterProcessed         = "processed"
	CounterUpdatesConsidered = "updates_considered"
	CounterUpdatesUnseen     = "updates_unseen"
	CounterUpdatesProcessed  = "updates_processed"
	CounterFetchErrors       = "fetch_errors"
	CounterListErrors        = "list_errors"
	CounterUpdateErrors      = "update_errors"
	CounterRunErrors         = "run_errors"
)

// Timing names accumulated over a run. Values are persisted as
// millisecond totals.
const (
	TimingList    = "list_ms"
	TimingDedupe  = "dedupe_ms"
	TimingFetch   = "fetch_ms"
	TimingFilter  = "filter_ms"
	TimingProcess = "process_ms"
	TimingUpdates = "updates_ms"
	TimingTotal   = "total_ms"
)

// RunReport collects counters and timings for one discovery-and-dispatch
// run. It is created at run start, mutated throughout, and flushed once
// at run end. Not safe for concurrent mutation; the orchestrator owns it.
type RunReport struct {
	Mode      RunMode
	Phase     RunPhase
	StartedAt time.Time
	Counters  map[string]int64
	Timings   map[string]time.Duration
}

// NewRunReport initializes a report in the STARTED phase.
func NewRunReport(mode RunMode, now time.Time) *RunReport {
	return &RunReport{
		Mode:      mode,
		Phase:     PhaseStarted,
		StartedAt: now,
		Counters:  make(map[string]int64),
		Timings:   make(map[string]time.Duration),
	}
}

// Count adds n to the named counter.
func (r *RunReport) Count(name string, n int64) {
	r.Counters[name] += n
}

// AddTiming adds d to the named timing total.
func (r *RunReport) AddTiming(name string, d time.Duration) {
	r.Timings[name] += d
}

// Advance moves the run to the next phase. Once FAILED, the phase is
// absorbing and further advances are ignored.
func (r *RunReport) Advance(phase RunPhase) {
	if r.Phase == PhaseFailed {
		return
	}
	r.Phase = phase
}

// Fail moves the run into the absorbing FAILED state.
func (r *RunReport) Fail() {
	r.Phase = PhaseFailed
	r.Count(CounterRunErrors, 1)
}

// End records the total run duration.
func (r *RunReport) End(now time.Time) {
	r.Timings[TimingTotal] = now.Sub(r.StartedAt)
}
