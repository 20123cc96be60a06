package core

import "testing"

// fakeQuerier serves LedgerQuerier RPCs directly from an in-memory
// SparseLedger standing in for a peer's full ledger.
type fakeQuerier struct {
	full     *SparseLedger
	accounts map[string]Account
}

func newFakeQuerier(full *SparseLedger, accounts map[string]Account) *fakeQuerier {
	return &fakeQuerier{full: full, accounts: accounts}
}

func (f *fakeQuerier) QueryNumAccounts(peerID NodeID, ledgerHash LedgerHash) (uint64, FieldElement, error) {
	return uint64(len(f.accounts)), f.full.nodeHash(MerkleAddress{}), nil
}

func (f *fakeQuerier) QueryChildHashes(peerID NodeID, addr MerkleAddress) (FieldElement, FieldElement, error) {
	left, _ := addr.ChildLeft()
	right, _ := addr.ChildRight()
	return f.full.nodeHash(left), f.full.nodeHash(right), nil
}

func (f *fakeQuerier) QueryContents(peerID NodeID, addr MerkleAddress) ([]Account, error) {
	if acct, ok := f.accounts[addrKey(addr)]; ok {
		return []Account{acct}, nil
	}
	return []Account{{}}, nil
}

func TestSnarkedLedgerSyncReachesSuccess(t *testing.T) {
	full := NewSparseLedger(LedgerDepth)
	accounts := make(map[string]Account)
	addr1, _ := FromIndex(1, LedgerDepth)
	addr2, _ := FromIndex(2, LedgerDepth)
	full.Set(addr1, testAccount(1))
	full.Set(addr2, testAccount(2))
	accounts[addrKey(addr1)] = testAccount(1)
	accounts[addrKey(addr2)] = testAccount(2)

	target := LedgerHash(full.MerkleRoot())
	querier := newFakeQuerier(full, accounts)

	sync := NewSnarkedLedgerSync(target, querier, nil)
	sync.AddPeer(NodeID("peer-a"))

	if err := sync.Start(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 200; i++ {
		done, err := sync.Step()
		if err != nil {
			t.Fatal(err)
		}
		if done {
			break
		}
	}

	if sync.State() != SnarkedSyncSuccess {
		t.Fatalf("expected sync to reach Success, got %s", sync.State())
	}
}
