package core

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// BlockFetcher is the narrow interface the effect handler uses to fetch a
// full block header from a peer, satisfied in production by RPCDispatcher's
// GetTransitionChain RPC and by a fake in tests, per spec §9's "dynamic
// dispatch" design note.
type BlockFetcher interface {
	FetchBlock(ctx context.Context, peer NodeID, hash StateHash) (Block, error)
}

// LedgerApplier is the narrow interface the effect handler uses to apply a
// fetched block to the ledger state, owned by whatever component drives C6
// staged-ledger reconstruction in production.
type LedgerApplier interface {
	ApplyBlock(block Block) error
}

// Effects is C7's effect half: it reacts to actions the pure reducer has
// just applied by calling out to peers, the ledger, and the verifier, and
// dispatches follow-on actions, per spec §4.10's "reducer is pure; effect
// handler is the only place with side effects" split. Grounded on the
// teacher's ticker/dispatch-driven SyncManager loop
// (core/blockchain_synchronization.go), generalized to the action-driven
// shape of spec §4.7.
type Effects struct {
	fetcher BlockFetcher
	applier LedgerApplier
	pm      PeerManager
	stats   *Stats
	log     *logrus.Logger

	fetchTimeout time.Duration
}

// NewEffects wires an effect handler around the services the orchestrator
// needs. Any of fetcher/applier/pm/stats may be nil in tests that only
// exercise a subset of transitions.
func NewEffects(fetcher BlockFetcher, applier LedgerApplier, pm PeerManager, stats *Stats, log *logrus.Logger) *Effects {
	if log == nil {
		log = logrus.New()
	}
	if stats == nil {
		stats = NewStats()
	}
	return &Effects{fetcher: fetcher, applier: applier, pm: pm, stats: stats, log: log, fetchTimeout: 10 * time.Second}
}

// Handle is the EffectHandler registered with a Store (store.go).
func (e *Effects) Handle(store *Store, action Action) {
	switch a := action.(type) {
	case BestTipUpdateAction:
		e.stats.Snapshot(store.State().Phase, a.BestTip)
		store.Dispatch(BlocksPeersQueryAction{})

	case BlocksPeersQueryAction:
		e.handleBlocksPeersQuery(store)

	case BlocksPeerQueryInitAction:
		go e.handleFetch(store, a)

	case BlocksPeerQuerySuccessAction:
		store.Dispatch(BlocksNextApplyInitActionFor(store.State()))

	case BlocksPeerQueryErrorAction:
		if e.pm != nil {
			if b, ok := store.State().Chain[a.Hash]; ok {
				e.pm.MarkFaulty(b.Peer)
			}
		}
		store.Dispatch(BlocksPeersQueryAction{})

	case BlocksNextApplyInitAction:
		go e.handleApply(store, a)

	case BlocksNextApplySuccessAction:
		if store.State().allBlocksApplied() {
			store.Dispatch(BlocksSuccessAction{})
		} else {
			store.Dispatch(BlocksNextApplyInitActionFor(store.State()))
		}

	case BlocksSuccessAction:
		e.stats.Snapshot(PhaseSynced, store.State().Target.BestTip)

	case RetargetAction:
		e.stats.RecordResync(LedgerResyncEvent{Time: now(), Reason: a.Reason})
		store.Dispatch(BlocksPeersQueryAction{})

	case PeerDisconnectedAction:
		// cancelPeerRPCs already ran in the reducer; re-drive peer queries
		// so orphaned Missing blocks get reassigned.
		store.Dispatch(BlocksPeersQueryAction{})

	case CheckTimeoutsAction:
		// RPC timeouts are detected by RPCDispatcher's own per-request
		// deadline (see rpc_dispatcher.go); this tick exists so the event
		// source has somewhere to drive periodic re-evaluation even when no
		// RPC is outstanding (e.g. retry-eligible Missing blocks).
		store.Dispatch(BlocksPeersQueryAction{})
	}
}

// handleBlocksPeersQuery dispatches one BlocksPeerQueryInitAction per ready
// peer that still needs work, retry-hashes first, per spec §4.7.
func (e *Effects) handleBlocksPeersQuery(store *Store) {
	if e.pm == nil {
		return
	}
	state := store.State()
	for _, peerID := range e.pm.ReadyPeers() {
		hash, ok := state.nextFetchNeeded()
		if !ok {
			return
		}
		if !e.pm.AdmitRequest(peerID) {
			continue
		}
		e.pm.ReleaseRequest(peerID) // admission here only gates selection; handleFetch re-admits around the RPC itself
		store.Dispatch(BlocksPeerQueryInitAction{Hash: hash, PeerID: peerID})
	}
}

func (e *Effects) handleFetch(store *Store, a BlocksPeerQueryInitAction) {
	if e.fetcher == nil {
		store.Dispatch(BlocksPeerQueryErrorAction{Hash: a.Hash, Err: errEnablingConditionFalse})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.fetchTimeout)
	defer cancel()
	block, err := e.fetcher.FetchBlock(ctx, a.PeerID, a.Hash)
	if err != nil {
		e.log.WithError(err).WithField("peer", a.PeerID).Warn("effects: block fetch failed")
		store.Dispatch(BlocksPeerQueryErrorAction{Hash: a.Hash, Err: err})
		return
	}
	if e.pm != nil {
		e.pm.RecordResponse(a.PeerID)
	}
	store.Dispatch(BlocksPeerQuerySuccessAction{Hash: a.Hash, Block: block})
}

func (e *Effects) handleApply(store *Store, a BlocksNextApplyInitAction) {
	state := store.State()
	b, ok := state.Chain[a.Hash]
	if !ok || b.Block == nil {
		return
	}
	if e.applier == nil {
		store.Dispatch(BlocksNextApplySuccessAction{Hash: a.Hash})
		return
	}
	if err := e.applier.ApplyBlock(*b.Block); err != nil {
		// Per spec §9, apply errors are currently fatal: the sync attempt
		// aborts rather than retries. The next BestTipUpdate restarts it.
		e.log.WithError(&Fatal{Kind: FatalApplyError, Err: err}).WithField("hash", a.Hash).Error("effects: block apply failed, aborting sync")
		return
	}
	store.Dispatch(BlocksNextApplySuccessAction{Hash: a.Hash})
}

// BlocksNextApplyInitActionFor finds the next apply-ready block, if any, and
// returns an action targeting it. When no block is ready it returns a
// noopAction, so callers may Dispatch the result unconditionally.
func BlocksNextApplyInitActionFor(state *SyncState) Action {
	hash, ok := state.nextApplyReady()
	if !ok {
		return noopAction{}
	}
	return BlocksNextApplyInitAction{Hash: hash}
}

// noopAction is dispatched when there is nothing to do; its enabling
// condition is always false so Reduce drops it without side effects.
type noopAction struct{}

func (noopAction) Kind() ActionKind                  { return ActionCheckTimeouts }
func (noopAction) EnablingCondition(*SyncState) bool { return false }
