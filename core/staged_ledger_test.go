package core

import "testing"

func TestReconstructStagedLedgerEmptyCase(t *testing.T) {
	snarked := NewSparseLedger(LedgerDepth)
	addr, _ := FromIndex(1, LedgerDepth)
	snarked.Set(addr, testAccount(1))

	var expected StagedLedgerHash
	expected.NonSnark.LedgerHash = LedgerHash(snarked.MerkleRoot())

	got, err := ReconstructStagedLedger(snarked, ScanState{}, PendingCoinbase{}, expected)
	if err != nil {
		t.Fatalf("expected empty-case fast path to succeed: %v", err)
	}
	if got.MerkleRoot() != snarked.MerkleRoot() {
		t.Fatal("empty case must return the snarked ledger unchanged")
	}
}

func TestReconstructStagedLedgerAppliesWork(t *testing.T) {
	snarked := NewSparseLedger(LedgerDepth)
	addr, _ := FromIndex(1, LedgerDepth)
	snarked.Set(addr, testAccount(1))

	work := ScanStateWork{Apply: func(l *SparseLedger) error {
		acct, _ := l.Get(addr)
		acct.Balance += 500
		l.Set(addr, acct)
		return nil
	}}
	scanState := ScanState{PendingWork: []ScanStateWork{work}}

	working := cloneSparseLedger(snarked)
	acct, _ := working.Get(addr)
	acct.Balance += 500
	working.Set(addr, acct)
	expected := computeStagedLedgerHash(working, scanState, PendingCoinbase{})

	got, err := ReconstructStagedLedger(snarked, scanState, PendingCoinbase{}, expected)
	if err != nil {
		t.Fatal(err)
	}
	resultAcct, _ := got.Get(addr)
	if resultAcct.Balance != 1500 {
		t.Fatalf("expected balance 1500 after replay, got %d", resultAcct.Balance)
	}

	// Original snarked ledger must be untouched.
	origAcct, _ := snarked.Get(addr)
	if origAcct.Balance != 1000 {
		t.Fatal("reconstruction must not mutate the snarked ledger it started from")
	}
}

func TestReconstructStagedLedgerMismatch(t *testing.T) {
	snarked := NewSparseLedger(LedgerDepth)
	addr, _ := FromIndex(1, LedgerDepth)
	snarked.Set(addr, testAccount(1))

	var badExpected StagedLedgerHash
	badExpected.NonSnark.LedgerHash = LedgerHash{0xff}

	_, err := ReconstructStagedLedger(snarked, ScanState{}, PendingCoinbase{}, badExpected)
	if err == nil {
		t.Fatal("expected reconstruction to fail on hash mismatch")
	}
	if _, ok := err.(*ReconstructError); !ok {
		t.Fatalf("expected a *ReconstructError, got %T", err)
	}
}
