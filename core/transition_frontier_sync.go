package core

// SyncPhase is the transition-frontier sync orchestrator's top-level state,
// per spec §4.7.
type SyncPhase int

const (
	PhaseIdle SyncPhase = iota
	PhaseInit
	PhaseStakingLedgerPending
	PhaseStakingLedgerSuccess
	PhaseNextEpochLedgerPending
	PhaseNextEpochLedgerSuccess
	PhaseRootLedgerPending
	PhaseRootLedgerSuccess
	PhaseBlocksPending
	PhaseBlocksSuccess
	PhaseSynced
)

func (p SyncPhase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseInit:
		return "Init"
	case PhaseStakingLedgerPending:
		return "StakingLedgerPending"
	case PhaseStakingLedgerSuccess:
		return "StakingLedgerSuccess"
	case PhaseNextEpochLedgerPending:
		return "NextEpochLedgerPending"
	case PhaseNextEpochLedgerSuccess:
		return "NextEpochLedgerSuccess"
	case PhaseRootLedgerPending:
		return "RootLedgerPending"
	case PhaseRootLedgerSuccess:
		return "RootLedgerSuccess"
	case PhaseBlocksPending:
		return "BlocksPending"
	case PhaseBlocksSuccess:
		return "BlocksSuccess"
	case PhaseSynced:
		return "Synced"
	default:
		return "Unknown"
	}
}

// BlockFetchState is a BlockSyncState's own per-block sub-machine, per
// spec §4.7: Missing → FetchPending → FetchSuccess → ApplyPending →
// ApplySuccess.
type BlockFetchState int

const (
	BlockMissing BlockFetchState = iota
	BlockFetchPending
	BlockFetchSuccess
	BlockApplyPending
	BlockApplySuccess
)

func (s BlockFetchState) String() string {
	switch s {
	case BlockMissing:
		return "Missing"
	case BlockFetchPending:
		return "FetchPending"
	case BlockFetchSuccess:
		return "FetchSuccess"
	case BlockApplyPending:
		return "ApplyPending"
	case BlockApplySuccess:
		return "ApplySuccess"
	default:
		return "Unknown"
	}
}

// BlockSyncState tracks one block's progress through fetch and apply.
type BlockSyncState struct {
	Hash            StateHash
	PredecessorHash StateHash
	State           BlockFetchState
	Peer            NodeID
	RPCID           uint64
	RetryCount      int
	Block           *Block
}

// SyncState is C7's reducer state. The chain is an ordered sequence
// (root-first) rather than a linked structure, per spec §9's "cyclic
// graphs" design note.
type SyncState struct {
	Phase  SyncPhase
	Target SyncTarget
	Order  []StateHash
	Chain  map[StateHash]*BlockSyncState

	// Ledger-sync fast-path flags: when the frontier was already Synced, a
	// re-target may identity-skip straight to BlocksPending, per spec §4.7.
	StakingLedgerDone   bool
	NextEpochLedgerDone bool
	RootLedgerDone      bool
}

// NewSyncState returns an idle orchestrator state.
func NewSyncState() *SyncState {
	return &SyncState{Phase: PhaseIdle, Chain: make(map[StateHash]*BlockSyncState)}
}

func (s *SyncState) parentApplied(hash StateHash) bool {
	b, ok := s.Chain[hash]
	if !ok {
		return false
	}
	if b.PredecessorHash == s.Target.RootBlock {
		return true // root is always considered applied
	}
	parent, ok := s.Chain[b.PredecessorHash]
	return ok && parent.State == BlockApplySuccess
}

func (s *SyncState) allBlocksApplied() bool {
	for _, hash := range s.Order {
		b, ok := s.Chain[hash]
		if !ok || b.State != BlockApplySuccess {
			return false
		}
	}
	return len(s.Order) > 0
}

// nextFetchNeeded returns the first block hash in chain order still
// Missing, for BlocksPeersQuery's retry-first ordering.
func (s *SyncState) nextFetchNeeded() (StateHash, bool) {
	for _, hash := range s.Order {
		b := s.Chain[hash]
		if b.State == BlockMissing && b.RetryCount > 0 {
			return hash, true
		}
	}
	for _, hash := range s.Order {
		b := s.Chain[hash]
		if b.State == BlockMissing {
			return hash, true
		}
	}
	return StateHash{}, false
}

// nextApplyReady returns the oldest block whose parent has been applied and
// which is itself fetched but not yet apply-pending.
func (s *SyncState) nextApplyReady() (StateHash, bool) {
	for _, hash := range s.Order {
		b := s.Chain[hash]
		if b.State == BlockFetchSuccess && s.parentApplied(hash) {
			return hash, true
		}
	}
	return StateHash{}, false
}

// Reduce applies action to state if its enabling condition holds; this is
// the pure half of C10's reducer/effect split (spec §4.10). It returns
// whether the action was actually applied.
func Reduce(state *SyncState, action Action) bool {
	if !action.EnablingCondition(state) {
		return false
	}

	switch a := action.(type) {
	case BestTipUpdateAction:
		reduceBestTipUpdate(state, a)
	case BlocksPeerQueryInitAction:
		b := state.Chain[a.Hash]
		b.State = BlockFetchPending
		b.Peer = a.PeerID
		b.RPCID = a.RPCID
	case BlocksPeerQuerySuccessAction:
		b := state.Chain[a.Hash]
		block := a.Block
		b.State = BlockFetchSuccess
		b.Block = &block
	case BlocksPeerQueryErrorAction:
		b := state.Chain[a.Hash]
		b.State = BlockMissing
		b.RetryCount++
	case BlocksNextApplyInitAction:
		b := state.Chain[a.Hash]
		b.State = BlockApplyPending
	case BlocksNextApplySuccessAction:
		b := state.Chain[a.Hash]
		b.State = BlockApplySuccess
	case BlocksSuccessAction:
		state.Phase = PhaseBlocksSuccess
		state.commitSync()
		state.Phase = PhaseSynced
	case RetargetAction:
		state.retarget(a)
	case PeerDisconnectedAction:
		state.cancelPeerRPCs(a.PeerID)
	}
	return true
}

func reduceBestTipUpdate(state *SyncState, a BestTipUpdateAction) {
	wasSynced := state.Phase == PhaseSynced
	state.Target = SyncTarget{BestTip: a.BestTip, RootBlock: a.RootBlock, BlocksInbetween: a.BlocksInbetween}

	state.Order = append([]StateHash{a.RootBlock}, a.BlocksInbetween...)
	state.Order = append(state.Order, a.BestTip)
	state.Chain = make(map[StateHash]*BlockSyncState, len(state.Order))
	for i, hash := range state.Order {
		predecessor := a.RootBlock
		if i > 0 {
			predecessor = state.Order[i-1]
		}
		state.Chain[hash] = &BlockSyncState{Hash: hash, PredecessorHash: predecessor, State: BlockMissing}
	}
	// Root itself is synthetically applied; it anchors parentApplied checks.
	if root, ok := state.Chain[a.RootBlock]; ok {
		root.State = BlockApplySuccess
	}

	if wasSynced {
		// Fast path: ledgers were already synced at the tip; jump straight
		// to block sync per spec §4.7.
		state.StakingLedgerDone = true
		state.NextEpochLedgerDone = true
		state.RootLedgerDone = true
		state.Phase = PhaseBlocksPending
		return
	}
	state.Phase = PhaseInit
	state.StakingLedgerDone = false
	state.NextEpochLedgerDone = false
	state.RootLedgerDone = false
}

// AdvanceLedgerPhase moves the ledger-sync sub-phases forward once their
// corresponding C5 sync machines report success. It is not part of the pure
// reducer, because it depends on external sync-machine completion, not on
// an incoming action alone; Effects does not call it, so whoever observes
// the ledger syncs completing must call it directly.
func (s *SyncState) AdvanceLedgerPhase() {
	switch s.Phase {
	case PhaseInit:
		s.Phase = PhaseStakingLedgerPending
	case PhaseStakingLedgerPending:
		if s.StakingLedgerDone {
			s.Phase = PhaseStakingLedgerSuccess
		}
	case PhaseStakingLedgerSuccess:
		s.Phase = PhaseNextEpochLedgerPending
	case PhaseNextEpochLedgerPending:
		if s.NextEpochLedgerDone {
			s.Phase = PhaseNextEpochLedgerSuccess
		}
	case PhaseNextEpochLedgerSuccess:
		s.Phase = PhaseRootLedgerPending
	case PhaseRootLedgerPending:
		if s.RootLedgerDone {
			s.Phase = PhaseRootLedgerSuccess
		}
	case PhaseRootLedgerSuccess:
		s.Phase = PhaseBlocksPending
	}
}

// commitSync advances the root to the chain's first (oldest) block, per
// spec §4.7's BlocksSuccess handling ("root advances to chain.first").
func (s *SyncState) commitSync() {
	// No ledger is discarded here, and the BlocksSuccess effect only records
	// a stats snapshot; the reducer just records that commit has happened.
	if len(s.Order) > 0 {
		s.Target.RootBlock = s.Order[0]
	}
}

// retarget preserves still-valid epoch-ledger work and restarts only the
// invalidated portion, per spec §4.7.
func (s *SyncState) retarget(a RetargetAction) {
	switch a.Reason {
	case RetargetEpochChange:
		s.StakingLedgerDone = false
		s.NextEpochLedgerDone = false
	case RetargetRootLedgerChange:
		s.RootLedgerDone = false
	case RetargetFetchStagedLedgerError:
		s.RootLedgerDone = false
	}
	s.Target = a.NewTarget
	if s.Phase == PhaseBlocksSuccess || s.Phase == PhaseSynced {
		s.Phase = PhaseBlocksPending
	}
}

func (s *SyncState) cancelPeerRPCs(peer NodeID) {
	for _, b := range s.Chain {
		if b.State == BlockFetchPending && b.Peer == peer {
			b.State = BlockMissing
			b.RetryCount++
		}
	}
}
