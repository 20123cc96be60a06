package core

import (
	"testing"
	"time"
)

type fakeProver struct{}

func (fakeProver) ProveBlock(b Block) ([]byte, error) { return []byte("proof"), nil }

func TestBlockProducerDiscardsOnSuperiorBestTip(t *testing.T) {
	p := NewBlockProducer(fakeProver{}, nil)
	bestTip := ConsensusState{BlockchainLength: 10}
	candidate := ConsensusState{BlockchainLength: 5}
	bestTip.StakingEpochData.Ledger.Hash = LedgerHash{1}
	candidate.StakingEpochData.Ledger.Hash = LedgerHash{1}

	p.OnSlotWon(VrfOutcome{Won: true}, time.Now(), bestTip, StateHash{1}, candidate, StateHash{2}, testConstants())
	if p.State() != ProducerWonSlotDiscarded {
		t.Fatalf("expected discard when best tip beats candidate, got %s", p.State())
	}
}

func TestBlockProducerFullHappyPath(t *testing.T) {
	p := NewBlockProducer(fakeProver{}, nil)
	bestTip := ConsensusState{BlockchainLength: 5}
	candidate := ConsensusState{BlockchainLength: 10}
	bestTip.StakingEpochData.Ledger.Hash = LedgerHash{1}
	candidate.StakingEpochData.Ledger.Hash = LedgerHash{1}

	now := time.Now()
	p.OnSlotWon(VrfOutcome{Won: true, Slot: 10}, now, bestTip, StateHash{1}, candidate, StateHash{2}, testConstants())
	if p.State() != ProducerWonSlot {
		t.Fatalf("expected WonSlot, got %s", p.State())
	}

	if !p.BeginProduction(now) {
		t.Fatal("expected production to begin inside the window")
	}

	pool := []PendingTransaction{{Fee: 1}, {Fee: 100}, {Fee: 50}}
	p.FetchTransactions(pool)
	if p.state != ProducerWonSlotTransactionsSuccess {
		t.Fatalf("expected transactions success, got %s", p.state)
	}
	if p.selectedTxs[0].Fee != 100 {
		t.Fatal("expected highest-fee transaction first")
	}

	p.CreateStagedLedgerDiff()
	var body ProtocolStateBody
	body.Consensus = candidate
	p.BuildUnprovenBlock(StateHash{1}, body)
	if p.state != ProducerBlockUnprovenBuilt {
		t.Fatalf("expected BlockUnprovenBuilt, got %s", p.state)
	}

	if err := p.RequestProof(); err != nil {
		t.Fatal(err)
	}
	if p.State() != ProducerProduced {
		t.Fatalf("expected Produced, got %s", p.State())
	}

	var localApplied, broadcasted bool
	err := p.Inject(
		func(Block) error { localApplied = true; return nil },
		func(Block) error {
			if !localApplied {
				t.Fatal("local apply must happen before broadcast")
			}
			broadcasted = true
			return nil
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	if !broadcasted || p.State() != ProducerInjected {
		t.Fatal("expected block to be broadcast and producer Injected")
	}
}

func TestBlockProducerOutsideProductionWindow(t *testing.T) {
	p := NewBlockProducer(fakeProver{}, nil)
	bestTip := ConsensusState{BlockchainLength: 5}
	candidate := ConsensusState{BlockchainLength: 10}
	past := time.Now().Add(-10 * time.Minute)
	p.OnSlotWon(VrfOutcome{Won: true}, past, bestTip, StateHash{1}, candidate, StateHash{2}, testConstants())

	if p.BeginProduction(time.Now()) {
		t.Fatal("expected production to refuse starting outside the window")
	}
	if p.State() != ProducerWonSlotDiscarded {
		t.Fatalf("expected WonSlotDiscarded after window miss, got %s", p.State())
	}
}
