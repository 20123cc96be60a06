package core

import "testing"

// memLedger is a minimal FullLedger backed by a flat map, used only to
// exercise SparseLedger's of_subset fidelity property.
type memLedger struct {
	accounts map[string]Account
	addrs    map[string]MerkleAddress
}

func newMemLedger() *memLedger {
	return &memLedger{accounts: make(map[string]Account), addrs: make(map[string]MerkleAddress)}
}

func (m *memLedger) put(index uint64, account Account) {
	addr, _ := FromIndex(index, LedgerDepth)
	id := account.Id()
	key := addrKey(addr)
	m.accounts[key] = account
	m.addrs[idKey(id)] = addr
}

func idKey(id AccountId) string {
	return id.PublicKey.String() + "/" + string(FieldElement(id.TokenId)[:])
}

func (m *memLedger) Account(id AccountId) (Account, MerkleAddress, bool) {
	addr, ok := m.addrs[idKey(id)]
	if !ok {
		return Account{}, MerkleAddress{}, false
	}
	return m.accounts[addrKey(addr)], addr, true
}

func (m *memLedger) MerklePath(addr MerkleAddress) ([]FieldElement, error) {
	full := NewSparseLedger(LedgerDepth)
	for key, acct := range m.accounts {
		_ = key
		a := m.addrs[idKey(acct.Id())]
		full.Set(a, acct)
	}
	return full.Path(addr)
}

func (m *memLedger) Root() LedgerHash {
	full := NewSparseLedger(LedgerDepth)
	for _, acct := range m.accounts {
		a := m.addrs[idKey(acct.Id())]
		full.Set(a, acct)
	}
	return full.MerkleRoot()
}

func testAccount(n byte) Account {
	var a Account
	a.PublicKey = PublicKey{X: FieldElement{n}, IsOdd: n%2 == 0}
	a.TokenId = DefaultTokenId
	a.Balance = uint64(n) * 1000
	return a
}

func TestSparseLedgerOfSubsetFidelity(t *testing.T) {
	full := newMemLedger()
	full.put(1, testAccount(1))
	full.put(5, testAccount(2))
	full.put(200, testAccount(3))

	ids := []AccountId{testAccount(1).Id(), testAccount(2).Id(), testAccount(3).Id()}
	sl, err := OfSubset(full, ids)
	if err != nil {
		t.Fatal(err)
	}
	if sl.MerkleRoot() != full.Root() {
		t.Fatal("sparse ledger root must match full ledger root after of_subset")
	}
}

func TestSparseLedgerSetCommutativity(t *testing.T) {
	addr1, _ := FromIndex(3, LedgerDepth)
	addr2, _ := FromIndex(40, LedgerDepth)

	a := NewSparseLedger(LedgerDepth)
	a.Set(addr1, testAccount(1))
	a.Set(addr2, testAccount(2))

	b := NewSparseLedger(LedgerDepth)
	b.Set(addr2, testAccount(2))
	b.Set(addr1, testAccount(1))

	if a.MerkleRoot() != b.MerkleRoot() {
		t.Fatal("setting two distinct leaves must yield the same root regardless of order")
	}
}

func TestSparseLedgerAddPathRejectsMismatch(t *testing.T) {
	sl := NewSparseLedger(LedgerDepth)
	addr, _ := FromIndex(7, LedgerDepth)
	path := make([]FieldElement, LedgerDepth)
	if err := sl.AddPath(path, addr, testAccount(1)); err != nil {
		t.Fatalf("first add_path should succeed: %v", err)
	}

	badPath := make([]FieldElement, LedgerDepth)
	badPath[0] = FieldElement{0xff}
	if err := sl.AddPath(badPath, addr, testAccount(9)); err == nil {
		t.Fatal("expected add_path to reject a path that contradicts the cached hash")
	}
}
