// Package monitoring keeps in-process counters for the estimate pipeline.
package monitoring

import (
	"sync/atomic"
	"time"
)

// MetricsSnapshot holds a point-in-time view of pipeline activity.
type MetricsSnapshot struct {
	// Edit handling.
	EditsReceived int64 `json:"edits_received"`
	EditsCleared  int64 `json:"edits_cleared"`
	EmptyEdits    int64 `json:"empty_edits"`

	// Runs.
	RunsAccepted int64   `json:"runs_accepted"`
	RunsFired    int64   `json:"runs_fired"`
	RunsSucceed  int64   `json:"runs_succeeded"`
	RunsFailed   int64   `json:"runs_failed"`
	FailRate     float64 `json:"fail_rate"`

	// Failure breakdown.
	ValidationFailures int64 `json:"validation_failures"`
	DomainFailures     int64 `json:"domain_failures"`
	TransportFailures  int64 `json:"transport_failures"`

	// Completions dropped because a newer run superseded them.
	StaleDiscarded int64 `json:"stale_discarded"`

	// Sessions currently open (API server only).
	ActiveSessions int64 `json:"active_sessions"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector accumulates pipeline counters. It is safe for concurrent use and
// may be shared by every pipeline in the process. A nil *Collector discards
// all updates.
type Collector struct {
	editsReceived atomic.Int64
	editsCleared  atomic.Int64
	emptyEdits    atomic.Int64

	runsAccepted atomic.Int64
	runsFired    atomic.Int64
	runsSucceed  atomic.Int64

	validationFailures atomic.Int64
	domainFailures     atomic.Int64
	transportFailures  atomic.Int64

	staleDiscarded atomic.Int64
	activeSessions atomic.Int64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// FailureKind classifies a failed run.
type FailureKind int

const (
	// FailureValidation is a polygon rejected before any request was made.
	FailureValidation FailureKind = iota
	// FailureDomain is a service response carrying error messages.
	FailureDomain
	// FailureTransport is a request that produced no usable response.
	FailureTransport
)

// EditReceived counts an incoming edit event.
func (c *Collector) EditReceived() {
	if c != nil {
		c.editsReceived.Add(1)
	}
}

// Cleared counts a transition to Blank caused by deletion.
func (c *Collector) Cleared() {
	if c != nil {
		c.editsCleared.Add(1)
	}
}

// EmptyEdit counts a non-delete edit that carried no polygon.
func (c *Collector) EmptyEdit() {
	if c != nil {
		c.emptyEdits.Add(1)
	}
}

// RunAccepted counts an edit that moved the state to Loading.
func (c *Collector) RunAccepted() {
	if c != nil {
		c.runsAccepted.Add(1)
	}
}

// RunFired counts a debounced run that actually started.
func (c *Collector) RunFired() {
	if c != nil {
		c.runsFired.Add(1)
	}
}

// RunSucceeded counts a run committed as a value.
func (c *Collector) RunSucceeded() {
	if c != nil {
		c.runsSucceed.Add(1)
	}
}

// RunFailed counts a run committed as an error.
func (c *Collector) RunFailed(kind FailureKind) {
	if c == nil {
		return
	}
	switch kind {
	case FailureValidation:
		c.validationFailures.Add(1)
	case FailureDomain:
		c.domainFailures.Add(1)
	case FailureTransport:
		c.transportFailures.Add(1)
	}
}

// StaleDiscarded counts a completion ignored because its run was superseded.
func (c *Collector) StaleDiscarded() {
	if c != nil {
		c.staleDiscarded.Add(1)
	}
}

// SessionOpened increments the live session count.
func (c *Collector) SessionOpened() {
	if c != nil {
		c.activeSessions.Add(1)
	}
}

// SessionClosed decrements the live session count.
func (c *Collector) SessionClosed() {
	if c != nil {
		c.activeSessions.Add(-1)
	}
}

// Collect returns a snapshot of the counters.
func (c *Collector) Collect() *MetricsSnapshot {
	snap := &MetricsSnapshot{CollectedAt: time.Now().UTC()}
	if c == nil {
		return snap
	}

	snap.EditsReceived = c.editsReceived.Load()
	snap.EditsCleared = c.editsCleared.Load()
	snap.EmptyEdits = c.emptyEdits.Load()
	snap.RunsAccepted = c.runsAccepted.Load()
	snap.RunsFired = c.runsFired.Load()
	snap.RunsSucceed = c.runsSucceed.Load()
	snap.ValidationFailures = c.validationFailures.Load()
	snap.DomainFailures = c.domainFailures.Load()
	snap.TransportFailures = c.transportFailures.Load()
	snap.RunsFailed = snap.ValidationFailures + snap.DomainFailures + snap.TransportFailures
	snap.StaleDiscarded = c.staleDiscarded.Load()
	snap.ActiveSessions = c.activeSessions.Load()

	finished := snap.RunsSucceed + snap.RunsFailed
	if finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}

	return snap
}
