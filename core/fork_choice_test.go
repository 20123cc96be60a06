package core

import "testing"

func testConstants() ProtocolConstants {
	return ProtocolConstants{
		K:                 290,
		SlotsPerEpoch:     7140,
		SlotsPerSubWindow: 7,
		Delta:             0,
		GracePeriodSlots:  1440,
	}
}

func TestIsShortRangeForkSameEpoch(t *testing.T) {
	a := ConsensusState{EpochCount: 4}
	a.StakingEpochData.LockCheckpoint = StateHash{1}
	b := a
	if !IsShortRangeFork(a, b, testConstants()) {
		t.Fatal("expected short-range fork for identical epoch and checkpoint")
	}

	b.StakingEpochData.LockCheckpoint = StateHash{2}
	if IsShortRangeFork(a, b, testConstants()) {
		t.Fatal("expected long-range fork for differing checkpoints at same epoch")
	}
}

func TestIsShortRangeForkOneEpochApart(t *testing.T) {
	c := testConstants()
	ahead := ConsensusState{EpochCount: 5}
	ahead.StakingEpochData.LockCheckpoint = StateHash{9}

	behind := ConsensusState{EpochCount: 4}
	behind.CurrGlobalSlotSinceHardFork = GlobalSlot{SlotNumber: 4*c.SlotsPerEpoch + (2*c.SlotsPerEpoch)/3 + 10, SlotsPerEpoch: c.SlotsPerEpoch}
	behind.NextEpochData.LockCheckpoint = StateHash{9}

	if !IsShortRangeFork(ahead, behind, c) {
		t.Fatal("expected short-range fork when behind chain is past the seed-update boundary and checkpoints line up")
	}
	if !IsShortRangeFork(behind, ahead, c) {
		t.Fatal("IsShortRangeFork must be symmetric")
	}
}

func TestIsShortRangeForkSameEpochEdgeCase(t *testing.T) {
	// Open-question edge case from spec §9: lock_checkpoint ==
	// next_epoch_data.lock_checkpoint at the same epoch still falls through
	// the equality check and is treated as short-range.
	a := ConsensusState{EpochCount: 2}
	a.StakingEpochData.LockCheckpoint = StateHash{7}
	b := ConsensusState{EpochCount: 2}
	b.StakingEpochData.LockCheckpoint = StateHash{7}
	b.NextEpochData.LockCheckpoint = StateHash{7}
	if !IsShortRangeFork(a, b, testConstants()) {
		t.Fatal("expected same-epoch matching checkpoints to be short-range")
	}
}

func TestForkChoiceTotalOrder(t *testing.T) {
	c := testConstants()
	a := ConsensusState{BlockchainLength: 10}
	b := ConsensusState{BlockchainLength: 11}
	aHash := StateHash{1}
	bHash := StateHash{2}

	abTake, _ := ConsensusTake(a, b, aHash, bHash, c)
	baTake, _ := ConsensusTake(b, a, bHash, aHash, c)
	if !abTake {
		t.Fatal("b should beat a (longer chain)")
	}
	if baTake {
		t.Fatal("a should not beat b")
	}
}

func TestShortRangeTakeChainLength(t *testing.T) {
	tip := ConsensusState{BlockchainLength: 5}
	cand := ConsensusState{BlockchainLength: 6}
	won, reason := ShortRangeTake(tip, cand, StateHash{}, StateHash{})
	if !won || reason != ReasonChainLength {
		t.Fatalf("expected candidate to win on chain length, got won=%v reason=%v", won, reason)
	}
}
