package core

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// ProducerState is the block producer's state machine, per spec §4.8.
type ProducerState int

const (
	ProducerIdle ProducerState = iota
	ProducerWonSlotDiscarded
	ProducerWonSlot
	ProducerWonSlotWait
	ProducerWonSlotProduceInit
	ProducerWonSlotTransactionsGet
	ProducerWonSlotTransactionsSuccess
	ProducerStagedLedgerDiffCreatePending
	ProducerStagedLedgerDiffCreateSuccess
	ProducerBlockUnprovenBuilt
	ProducerBlockProvePending
	ProducerBlockProveSuccess
	ProducerProduced
	ProducerInjected
)

func (s ProducerState) String() string {
	names := [...]string{
		"Idle", "WonSlotDiscarded", "WonSlot", "WonSlotWait", "WonSlotProduceInit",
		"WonSlotTransactionsGet", "WonSlotTransactionsSuccess",
		"StagedLedgerDiffCreatePending", "StagedLedgerDiffCreateSuccess",
		"BlockUnprovenBuilt", "BlockProvePending", "BlockProveSuccess",
		"Produced", "Injected",
	}
	if int(s) < 0 || int(s) >= len(names) {
		return "Unknown"
	}
	return names[s]
}

// WonSlotDiscardReason names why a won slot was abandoned against a newer
// best tip, per spec §4.8.
type WonSlotDiscardReason int

const (
	DiscardBestTipStakingLedgerDifferent WonSlotDiscardReason = iota
	DiscardBestTipGlobalSlotHigher
	DiscardBestTipSuperior
)

func (r WonSlotDiscardReason) String() string {
	switch r {
	case DiscardBestTipStakingLedgerDifferent:
		return "BestTipStakingLedgerDifferent"
	case DiscardBestTipGlobalSlotHigher:
		return "BestTipGlobalSlotHigher"
	case DiscardBestTipSuperior:
		return "BestTipSuperior"
	default:
		return "Unknown"
	}
}

// productionWindow is the 3-minute window from spec §4.8 during which a won
// slot may still be produced.
const productionWindow = 3 * time.Minute

// transactionCapacityLog2 bounds block capacity (spec §6).
const transactionCapacityLog2 = 7

func maxTransactionsPerBlock() int { return 1 << transactionCapacityLog2 }

// PendingTransaction is a pool entry selected by fee priority.
type PendingTransaction struct {
	Hash FieldElement
	Fee  uint64
}

// ProvingService is the narrow external interface block proof creation is
// delegated to, per spec §9's dynamic-dispatch design note.
type ProvingService interface {
	ProveBlock(unproven Block) (proof []byte, err error)
}

// BlockProducer drives one won slot from election to injection. Grounded on
// the teacher's ticker-driven production loops (core/consensus.go's
// subBlockLoop/blockLoop and DistributeRewards).
type BlockProducer struct {
	state ProducerState

	slot       VrfOutcome
	slotTime   time.Time
	bestTip    ConsensusState
	bestTipHash StateHash

	selectedTxs []PendingTransaction
	diff        []PendingTransaction
	unproven    Block
	proof       []byte

	prover ProvingService
	log    *logrus.Logger
}

// NewBlockProducer constructs an idle producer.
func NewBlockProducer(prover ProvingService, log *logrus.Logger) *BlockProducer {
	if log == nil {
		log = logrus.New()
	}
	return &BlockProducer{state: ProducerIdle, prover: prover, log: log}
}

func (p *BlockProducer) State() ProducerState { return p.state }

// OnSlotWon transitions Idle → WonSlot (or WonSlotDiscarded immediately if
// the slot already cannot beat the current best tip).
func (p *BlockProducer) OnSlotWon(slot VrfOutcome, slotTime time.Time, bestTip ConsensusState, bestTipHash StateHash, candidate ConsensusState, candidateHash StateHash, constants ProtocolConstants) {
	p.slot = slot
	p.slotTime = slotTime
	p.bestTip = bestTip
	p.bestTipHash = bestTipHash

	if reason, discard := p.checkDiscard(candidate, candidateHash, constants); discard {
		p.log.WithField("reason", reason).Info("block producer: discarding won slot")
		p.state = ProducerWonSlotDiscarded
		return
	}
	p.state = ProducerWonSlot
}

// checkDiscard evaluates the three discard reasons from spec §4.8 against
// the current best tip.
func (p *BlockProducer) checkDiscard(candidate ConsensusState, candidateHash StateHash, constants ProtocolConstants) (WonSlotDiscardReason, bool) {
	if p.bestTip.StakingEpochData.Ledger.Hash != candidate.StakingEpochData.Ledger.Hash {
		return DiscardBestTipStakingLedgerDifferent, true
	}
	if p.bestTip.GlobalSlotSinceGenesis > candidate.GlobalSlotSinceGenesis {
		return DiscardBestTipGlobalSlotHigher, true
	}
	beats, _ := ConsensusTake(candidate, p.bestTip, candidateHash, p.bestTipHash, constants)
	if beats {
		return DiscardBestTipSuperior, true
	}
	return 0, false
}

// InProductionWindow reports whether now still falls in the won slot's
// 3-minute production window, per spec §4.8.
func (p *BlockProducer) InProductionWindow(now time.Time) bool {
	return !now.Before(p.slotTime) && now.Before(p.slotTime.Add(productionWindow))
}

// Wait transitions WonSlot → WonSlotWait, used while the producer is not
// yet ready to begin building.
func (p *BlockProducer) Wait() {
	if p.state == ProducerWonSlot {
		p.state = ProducerWonSlotWait
	}
}

// BeginProduction transitions WonSlotWait → WonSlotProduceInit, refusing to
// start outside the production window.
func (p *BlockProducer) BeginProduction(now time.Time) bool {
	if p.state != ProducerWonSlotWait && p.state != ProducerWonSlot {
		return false
	}
	if !p.InProductionWindow(now) {
		p.state = ProducerWonSlotDiscarded
		return false
	}
	p.state = ProducerWonSlotProduceInit
	return true
}

// FetchTransactions transitions WonSlotProduceInit → WonSlotTransactionsGet
// → WonSlotTransactionsSuccess, selecting by fee priority capped at block
// capacity, per spec §4.8.
func (p *BlockProducer) FetchTransactions(pool []PendingTransaction) {
	p.state = ProducerWonSlotTransactionsGet
	sorted := append([]PendingTransaction(nil), pool...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Fee > sorted[j].Fee })
	cap := maxTransactionsPerBlock()
	if len(sorted) > cap {
		sorted = sorted[:cap]
	}
	p.selectedTxs = sorted
	p.state = ProducerWonSlotTransactionsSuccess
}

// CreateStagedLedgerDiff transitions through
// StagedLedgerDiffCreatePending → StagedLedgerDiffCreateSuccess.
func (p *BlockProducer) CreateStagedLedgerDiff() {
	p.state = ProducerStagedLedgerDiffCreatePending
	p.diff = p.selectedTxs
	p.state = ProducerStagedLedgerDiffCreateSuccess
}

// BuildUnprovenBlock transitions to BlockUnprovenBuilt, assembling the
// header from the won slot and predecessor.
func (p *BlockProducer) BuildUnprovenBlock(predecessorHash StateHash, body ProtocolStateBody) {
	hash := ProtocolStateHash(predecessorHash, body)
	p.unproven = Block{
		Hash:            hash,
		PredecessorHash: predecessorHash,
		Consensus:       body.Consensus,
		BlockchainState: body.BlockchainState,
	}
	p.state = ProducerBlockUnprovenBuilt
}

// RequestProof transitions BlockUnprovenBuilt → BlockProvePending and calls
// the proving service, blocking until it returns; on success it advances to
// BlockProveSuccess and then Produced. It does not run the proof in the
// background.
func (p *BlockProducer) RequestProof() error {
	p.state = ProducerBlockProvePending
	proof, err := p.prover.ProveBlock(p.unproven)
	if err != nil {
		p.log.WithError(err).Warn("block producer: proof creation failed")
		return err
	}
	p.proof = proof
	p.unproven.Proof = proof
	p.state = ProducerBlockProveSuccess
	p.state = ProducerProduced
	return nil
}

// ProducedBlock returns the finished block once the producer has reached the
// Produced (or Injected) state.
func (p *BlockProducer) ProducedBlock() (Block, bool) {
	if p.state != ProducerProduced && p.state != ProducerInjected {
		return Block{}, false
	}
	return p.unproven, true
}

// Inject transitions Produced → Injected: the producer dispatches the
// block for local apply first, then peer broadcast, per spec §4.8.
func (p *BlockProducer) Inject(applyLocal func(Block) error, broadcast func(Block) error) error {
	if p.state != ProducerProduced {
		return nil
	}
	if applyLocal != nil {
		if err := applyLocal(p.unproven); err != nil {
			return err
		}
	}
	if broadcast != nil {
		if err := broadcast(p.unproven); err != nil {
			return err
		}
	}
	p.state = ProducerInjected
	return nil
}

// Reset returns the producer to Idle for the next slot.
func (p *BlockProducer) Reset() {
	*p = BlockProducer{state: ProducerIdle, prover: p.prover, log: p.log}
}
