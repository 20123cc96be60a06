package core

import "fmt"

// ActionKind is a closed enum naming every action the reducer understands,
// used for logging/metrics labeling instead of raw Go type names — grounded
// on original_source/snarker/src/action_kind.rs's registry approach.
type ActionKind int

const (
	ActionBestTipUpdate ActionKind = iota
	ActionBlocksPeersQuery
	ActionBlocksPeerQueryInit
	ActionBlocksPeerQuerySuccess
	ActionBlocksPeerQueryError
	ActionBlocksFetchSuccess
	ActionBlocksNextApplyInit
	ActionBlocksNextApplySuccess
	ActionBlocksSuccess
	ActionStakingLedgerPending
	ActionStakingLedgerSuccess
	ActionNextEpochLedgerPending
	ActionNextEpochLedgerSuccess
	ActionRootLedgerPending
	ActionRootLedgerSuccess
	ActionRetarget
	ActionPeerDisconnected
	ActionCheckTimeouts
)

func (k ActionKind) String() string {
	switch k {
	case ActionBestTipUpdate:
		return "BestTipUpdate"
	case ActionBlocksPeersQuery:
		return "BlocksPeersQuery"
	case ActionBlocksPeerQueryInit:
		return "BlocksPeerQueryInit"
	case ActionBlocksPeerQuerySuccess:
		return "BlocksPeerQuerySuccess"
	case ActionBlocksPeerQueryError:
		return "BlocksPeerQueryError"
	case ActionBlocksFetchSuccess:
		return "BlocksFetchSuccess"
	case ActionBlocksNextApplyInit:
		return "BlocksNextApplyInit"
	case ActionBlocksNextApplySuccess:
		return "BlocksNextApplySuccess"
	case ActionBlocksSuccess:
		return "BlocksSuccess"
	case ActionStakingLedgerPending:
		return "StakingLedgerPending"
	case ActionStakingLedgerSuccess:
		return "StakingLedgerSuccess"
	case ActionNextEpochLedgerPending:
		return "NextEpochLedgerPending"
	case ActionNextEpochLedgerSuccess:
		return "NextEpochLedgerSuccess"
	case ActionRootLedgerPending:
		return "RootLedgerPending"
	case ActionRootLedgerSuccess:
		return "RootLedgerSuccess"
	case ActionRetarget:
		return "Retarget"
	case ActionPeerDisconnected:
		return "PeerDisconnected"
	case ActionCheckTimeouts:
		return "CheckTimeouts"
	default:
		return "Unknown"
	}
}

// Action is a dispatchable, enabling-condition-guarded unit of state
// transition, per spec §4.10.
type Action interface {
	Kind() ActionKind
	EnablingCondition(s *SyncState) bool
}

// BestTipUpdateAction carries a newly observed, consensus-better candidate
// best tip.
type BestTipUpdateAction struct {
	BestTip        StateHash
	RootBlock      StateHash
	BlocksInbetween []StateHash
}

func (a BestTipUpdateAction) Kind() ActionKind { return ActionBestTipUpdate }
func (a BestTipUpdateAction) EnablingCondition(s *SyncState) bool {
	return true // best-tip updates are always admissible; the reducer re-targets.
}

// BlocksPeersQueryAction asks the reducer to dispatch fetch-inits for
// ready peers, per spec §4.7.
type BlocksPeersQueryAction struct{}

func (a BlocksPeersQueryAction) Kind() ActionKind { return ActionBlocksPeersQuery }
func (a BlocksPeersQueryAction) EnablingCondition(s *SyncState) bool {
	return s.Phase == PhaseBlocksPending
}

// BlocksPeerQueryInitAction dispatches a single block fetch to a peer.
type BlocksPeerQueryInitAction struct {
	Hash   StateHash
	PeerID NodeID
	RPCID  uint64
}

func (a BlocksPeerQueryInitAction) Kind() ActionKind { return ActionBlocksPeerQueryInit }
func (a BlocksPeerQueryInitAction) EnablingCondition(s *SyncState) bool {
	b, ok := s.Chain[a.Hash]
	return ok && b.State == BlockMissing
}

// BlocksPeerQuerySuccessAction records a successful block fetch.
type BlocksPeerQuerySuccessAction struct {
	Hash  StateHash
	Block Block
}

func (a BlocksPeerQuerySuccessAction) Kind() ActionKind { return ActionBlocksPeerQuerySuccess }
func (a BlocksPeerQuerySuccessAction) EnablingCondition(s *SyncState) bool {
	b, ok := s.Chain[a.Hash]
	return ok && b.State == BlockFetchPending
}

// BlocksPeerQueryErrorAction records a fetch error, bumping the retry
// counter, per spec §4.7's failure handling.
type BlocksPeerQueryErrorAction struct {
	Hash StateHash
	Err  error
}

func (a BlocksPeerQueryErrorAction) Kind() ActionKind { return ActionBlocksPeerQueryError }
func (a BlocksPeerQueryErrorAction) EnablingCondition(s *SyncState) bool {
	b, ok := s.Chain[a.Hash]
	return ok && b.State == BlockFetchPending
}

// BlocksNextApplyInitAction picks the oldest block whose parent has been
// applied and begins applying it.
type BlocksNextApplyInitAction struct {
	Hash StateHash
}

func (a BlocksNextApplyInitAction) Kind() ActionKind { return ActionBlocksNextApplyInit }
func (a BlocksNextApplyInitAction) EnablingCondition(s *SyncState) bool {
	b, ok := s.Chain[a.Hash]
	if !ok || b.State != BlockFetchSuccess {
		return false
	}
	return s.parentApplied(a.Hash)
}

// BlocksNextApplySuccessAction records a successful block apply.
type BlocksNextApplySuccessAction struct {
	Hash StateHash
}

func (a BlocksNextApplySuccessAction) Kind() ActionKind { return ActionBlocksNextApplySuccess }
func (a BlocksNextApplySuccessAction) EnablingCondition(s *SyncState) bool {
	b, ok := s.Chain[a.Hash]
	return ok && b.State == BlockApplyPending
}

// BlocksSuccessAction fires once every block in the sync target's chain has
// been applied.
type BlocksSuccessAction struct{}

func (a BlocksSuccessAction) Kind() ActionKind { return ActionBlocksSuccess }
func (a BlocksSuccessAction) EnablingCondition(s *SyncState) bool {
	return s.Phase == PhaseBlocksPending && s.allBlocksApplied()
}

// RetargetAction re-targets a pending sync mid-flight, per spec §4.7.
type RetargetAction struct {
	NewTarget SyncTarget
	Reason    RetargetReason
}

func (a RetargetAction) Kind() ActionKind { return ActionRetarget }
func (a RetargetAction) EnablingCondition(s *SyncState) bool {
	return s.Phase != PhaseIdle
}

// PeerDisconnectedAction cancels in-flight RPCs owned by a disconnected peer.
type PeerDisconnectedAction struct {
	PeerID NodeID
}

func (a PeerDisconnectedAction) Kind() ActionKind { return ActionPeerDisconnected }
func (a PeerDisconnectedAction) EnablingCondition(s *SyncState) bool { return true }

// CheckTimeoutsAction is produced periodically by the event source's timer
// service to drive RPC timeout detection.
type CheckTimeoutsAction struct {
	Now int64
}

func (a CheckTimeoutsAction) Kind() ActionKind { return ActionCheckTimeouts }
func (a CheckTimeoutsAction) EnablingCondition(s *SyncState) bool { return true }

// errEnablingConditionFalse is the error Effects attaches to a
// BlocksPeerQueryErrorAction when it has no BlockFetcher to fetch with.
// Store.Dispatch itself returns nothing: an action whose enabling condition
// is false is silently dropped, per spec §4.10.
var errEnablingConditionFalse = fmt.Errorf("action enabling condition is false")
