package core

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// EffectHandler runs side effects for an action after the pure reducer has
// applied it; it may call store.Dispatch to enqueue follow-on actions, per
// spec §4.10.
type EffectHandler func(store *Store, action Action)

// RecordedAction is one (time, action) tuple captured for deterministic
// replay, per spec §4.10.
type RecordedAction struct {
	Time   int64
	Action Action
}

// Store is C10's single-threaded reducer + effect runtime. Grounded on the
// teacher's global-singleton, mutex-guarded bookkeeping pattern
// (core/chain_fork_manager.go), generalized into an explicit action queue
// instead of ad-hoc method calls.
type Store struct {
	mu sync.Mutex

	state   *SyncState
	effects EffectHandler
	time    TimeService
	log     *logrus.Logger

	queue    []Action
	draining bool

	recording bool
	recorded  []RecordedAction
}

// NewStore constructs a store around an initial state and effect handler.
func NewStore(state *SyncState, effects EffectHandler, time TimeService, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.New()
	}
	if time == nil {
		time = NewMonotonicTimeService()
	}
	return &Store{state: state, effects: effects, time: time, log: log}
}

// State returns the store's current state. Callers must not mutate it
// outside of a reducer.
func (st *Store) State() *SyncState {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// StartRecording begins capturing (time, action) tuples for deterministic
// replay.
func (st *Store) StartRecording() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.recording = true
	st.recorded = nil
}

// Recorded returns the tuples captured since the last StartRecording.
func (st *Store) Recorded() []RecordedAction {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]RecordedAction(nil), st.recorded...)
}

// Dispatch enqueues an action for processing. Actions dispatched from
// within an effect handler are processed in dispatch order immediately
// after the current action's effects return (spec §5 ordering guarantee a).
func (st *Store) Dispatch(action Action) {
	st.mu.Lock()
	st.queue = append(st.queue, action)
	if st.draining {
		st.mu.Unlock()
		return // another Dispatch call is already draining the queue
	}
	st.draining = true
	st.mu.Unlock()
	st.drain()
}

func (st *Store) drain() {
	for {
		st.mu.Lock()
		if len(st.queue) == 0 {
			st.draining = false
			st.mu.Unlock()
			return
		}
		action := st.queue[0]
		st.queue = st.queue[1:]
		now := st.time.Now()
		applied := Reduce(st.state, action)
		if applied && st.recording {
			st.recorded = append(st.recorded, RecordedAction{Time: now, Action: action})
		}
		effects := st.effects
		st.mu.Unlock()

		if applied && effects != nil {
			effects(st, action)
		} else if !applied {
			st.log.WithField("action", action.Kind()).Debug("store: action dropped, enabling condition false")
		}
	}
}

// Replay re-runs a recorded action sequence against a fresh store built
// from the same initial state and services; by construction this produces
// identical state transitions, since Reduce is a pure function of
// (state, action) and Dispatch processes actions strictly in order.
func Replay(initial *SyncState, effects EffectHandler, recorded []RecordedAction) *Store {
	replayTime := &replayTimeService{}
	st := NewStore(initial, effects, replayTime, nil)
	for _, r := range recorded {
		replayTime.set(r.Time)
		st.Dispatch(r.Action)
	}
	return st
}

// replayTimeService feeds back recorded timestamps instead of wall time.
type replayTimeService struct {
	mu  sync.Mutex
	now int64
}

func (r *replayTimeService) Now() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now
}

func (r *replayTimeService) set(t int64) {
	r.mu.Lock()
	r.now = t
	r.mu.Unlock()
}
