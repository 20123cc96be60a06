package core

import (
	"sync"
	"time"
)

// maxSyncSnapshots/maxProductionAttempts bound C11's observability deques,
// per spec §4.11.
const (
	maxSyncSnapshots      = 256
	maxProductionAttempts = 2048
)

// SyncSnapshot captures the orchestrator's phase at one point in time, for
// observability and test assertions — never consulted by the reducer
// itself (spec §4.11: "never affects state-machine decisions").
type SyncSnapshot struct {
	Time  int64
	Phase SyncPhase
	Best  StateHash
}

// LedgerResyncEvent records a pending ledger sync changing its target
// mid-flight, per spec §4.11.
type LedgerResyncEvent struct {
	Time   int64
	Reason RetargetReason
	From   LedgerHash
	To     LedgerHash
}

// ProductionAttempt records one block-production attempt's outcome, keyed
// by the won slot it was attempting to produce for.
type ProductionAttempt struct {
	Time   int64
	Slot   uint32
	Result ProducerState
	Err    string
}

// Stats is C11: a bounded-deque tracker of sync and production history.
// Grounded on the teacher's quorum_tracker.go bounded-window accumulation
// pattern, generalized from quorum votes to sync/production snapshots.
type Stats struct {
	mu sync.Mutex

	syncSnapshots []SyncSnapshot
	resyncEvents  []LedgerResyncEvent
	production    []ProductionAttempt
}

// NewStats constructs an empty stats tracker.
func NewStats() *Stats {
	return &Stats{}
}

// Snapshot records the orchestrator's current phase and best tip,
// stamping it with the wall-clock time.
func (s *Stats) Snapshot(phase SyncPhase, best StateHash) {
	s.RecordSyncSnapshot(SyncSnapshot{Time: now(), Phase: phase, Best: best})
}

// RecordSyncSnapshot appends a sync snapshot, evicting the oldest entry
// once the bound is exceeded.
func (s *Stats) RecordSyncSnapshot(snap SyncSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncSnapshots = append(s.syncSnapshots, snap)
	if len(s.syncSnapshots) > maxSyncSnapshots {
		s.syncSnapshots = s.syncSnapshots[len(s.syncSnapshots)-maxSyncSnapshots:]
	}
}

// RecordResync appends a ledger-resync event.
func (s *Stats) RecordResync(ev LedgerResyncEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resyncEvents = append(s.resyncEvents, ev)
	if len(s.resyncEvents) > maxSyncSnapshots {
		s.resyncEvents = s.resyncEvents[len(s.resyncEvents)-maxSyncSnapshots:]
	}
}

// RecordProduction appends a block-production attempt, evicting the oldest
// entry once the bound is exceeded.
func (s *Stats) RecordProduction(attempt ProductionAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.production = append(s.production, attempt)
	if len(s.production) > maxProductionAttempts {
		s.production = s.production[len(s.production)-maxProductionAttempts:]
	}
}

// SyncSnapshots returns a copy of the current sync-snapshot deque.
func (s *Stats) SyncSnapshots() []SyncSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SyncSnapshot(nil), s.syncSnapshots...)
}

// ResyncEvents returns a copy of the current resync-event deque.
func (s *Stats) ResyncEvents() []LedgerResyncEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LedgerResyncEvent(nil), s.resyncEvents...)
}

// ProductionAttempts returns a copy of the current production-attempt deque.
func (s *Stats) ProductionAttempts() []ProductionAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ProductionAttempt(nil), s.production...)
}

// SyncStatus is the user-visible status surfaced outside the core, per
// spec §7: Bootstrap | Catchup | Synced with nested counters.
type SyncStatus struct {
	Phase           string `json:"phase"`
	BlocksRemaining int    `json:"blocks_remaining"`
	BlocksTotal     int    `json:"blocks_total"`
}

// SummarizeSyncStatus reduces a SyncState to the three-way GraphQL-facing
// status plus progress counters.
func SummarizeSyncStatus(s *SyncState) SyncStatus {
	total := len(s.Order)
	applied := 0
	for _, hash := range s.Order {
		if b, ok := s.Chain[hash]; ok && b.State == BlockApplySuccess {
			applied++
		}
	}
	phase := "Bootstrap"
	switch s.Phase {
	case PhaseSynced:
		phase = "Synced"
	case PhaseBlocksPending, PhaseBlocksSuccess:
		phase = "Catchup"
	}
	return SyncStatus{Phase: phase, BlocksRemaining: total - applied, BlocksTotal: total}
}

// now is a small indirection so tests can avoid wall-clock dependence
// without threading a TimeService through every Stats call site.
func now() int64 { return time.Now().UnixMilli() }
