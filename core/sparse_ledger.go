package core

import "fmt"

// FullLedger is the narrow interface a sparse ledger is built from. It is
// implemented by whatever owns the full account tree (mask, staged ledger,
// etc.) per spec §9's "dynamic dispatch" design note.
type FullLedger interface {
	Account(id AccountId) (Account, MerkleAddress, bool)
	MerklePath(addr MerkleAddress) ([]FieldElement, error)
	Root() LedgerHash
}

func addrKey(a MerkleAddress) string {
	return fmt.Sprintf("%d:%x", a.Length, a.Bits)
}

// SparseLedger is a content-addressed, partial view of an account tree: a
// mapping from address to account plus a cache of node hashes sufficient to
// recompute the Merkle root from only the touched accounts, per spec §4.4.
type SparseLedger struct {
	depth       int
	accounts    map[string]sparseEntry
	hashes      map[string]FieldElement
	emptyHashes []FieldElement
}

type sparseEntry struct {
	addr    MerkleAddress
	account Account
}

// NewSparseLedger creates an empty sparse ledger over a tree of the given
// depth.
func NewSparseLedger(depth int) *SparseLedger {
	return &SparseLedger{
		depth:    depth,
		accounts: make(map[string]sparseEntry),
		hashes:   make(map[string]FieldElement),
	}
}

// OfSubset implements spec §4.4's of_subset: for each key, fetch its account
// and full Merkle path from the full ledger, install them into a fresh
// sparse ledger, and assert the recomputed root equals the full ledger's.
func OfSubset(full FullLedger, keys []AccountId) (*SparseLedger, error) {
	sl := NewSparseLedger(LedgerDepth)
	for _, id := range keys {
		account, addr, ok := full.Account(id)
		if !ok {
			continue
		}
		path, err := full.MerklePath(addr)
		if err != nil {
			return nil, fmt.Errorf("sparse ledger: merkle path for %v: %w", id, err)
		}
		if err := sl.AddPath(path, addr, account); err != nil {
			return nil, err
		}
	}
	root := sl.MerkleRoot()
	if root != full.Root() {
		return nil, fmt.Errorf("sparse ledger: recomputed root %s does not match full ledger root %s", root, full.Root())
	}
	return sl, nil
}

// Get returns the account stored at addr, if any.
func (sl *SparseLedger) Get(addr MerkleAddress) (Account, bool) {
	e, ok := sl.accounts[addrKey(addr)]
	if !ok {
		return Account{}, false
	}
	return e.account, true
}

// Set installs account at addr and invalidates every cached hash on the
// path from addr to the root, per spec §4.4.
func (sl *SparseLedger) Set(addr MerkleAddress, account Account) {
	sl.accounts[addrKey(addr)] = sparseEntry{addr: addr, account: account}
	sl.invalidatePath(addr)
}

func (sl *SparseLedger) invalidatePath(addr MerkleAddress) {
	cur := addr
	delete(sl.hashes, addrKey(cur))
	for cur.Length > 0 {
		parent, err := cur.Parent()
		if err != nil {
			break
		}
		delete(sl.hashes, addrKey(parent))
		cur = parent
	}
}

// emptySubtreeHash returns the hash of a fully-empty subtree rooted at the
// given depth, memoized once per ledger depth so that untouched regions of
// a (conceptually 2^35-leaf) tree never need to be walked node by node.
func (sl *SparseLedger) emptySubtreeHash(depth int) FieldElement {
	if sl.emptyHashes == nil {
		sl.emptyHashes = make([]FieldElement, sl.depth+1)
		sl.emptyHashes[sl.depth] = Account{}.Hash()
		for d := sl.depth - 1; d >= 0; d-- {
			child := sl.emptyHashes[d+1]
			sl.emptyHashes[d] = merkleNodeHash(d, child, child)
		}
	}
	return sl.emptyHashes[depth]
}

// hasTouchedDescendant reports whether any stored account lies at or below
// addr, by linear scan over the (typically small) touched-account set.
func (sl *SparseLedger) hasTouchedDescendant(addr MerkleAddress) bool {
	for _, e := range sl.accounts {
		if addr.Equal(e.addr) || addr.IsParentOf(e.addr) {
			return true
		}
	}
	return false
}

// nodeHash recomputes (and caches) the hash at addr by depth-first
// traversal, matching spec §4.4's Poseidon("MinaMklTree{d:03}", left, right)
// internal-node rule and Account.Hash() leaf rule. Untouched subtrees are
// resolved via emptySubtreeHash instead of being walked exhaustively.
func (sl *SparseLedger) nodeHash(addr MerkleAddress) FieldElement {
	if h, ok := sl.hashes[addrKey(addr)]; ok {
		return h
	}
	if !sl.hasTouchedDescendant(addr) {
		return sl.emptySubtreeHash(addr.Length)
	}

	var h FieldElement
	if addr.Length == sl.depth {
		if e, ok := sl.accounts[addrKey(addr)]; ok {
			h = e.account.Hash()
		} else {
			h = Account{}.Hash()
		}
	} else {
		left, _ := addr.ChildLeft()
		right, _ := addr.ChildRight()
		h = merkleNodeHash(addr.Length, sl.nodeHash(left), sl.nodeHash(right))
	}
	sl.hashes[addrKey(addr)] = h
	return h
}

// MerkleRoot recomputes the ledger root lazily, caching per node, per
// spec §4.4.
func (sl *SparseLedger) MerkleRoot() LedgerHash {
	return LedgerHash(sl.nodeHash(MerkleAddress{}))
}

// Path returns the sibling-hash path from addr's leaf to the root.
func (sl *SparseLedger) Path(addr MerkleAddress) ([]FieldElement, error) {
	if addr.Length != sl.depth {
		return nil, fmt.Errorf("sparse ledger: path requested for non-leaf address (length %d, depth %d)", addr.Length, sl.depth)
	}
	path := make([]FieldElement, 0, sl.depth)
	cur := addr
	for cur.Length > 0 {
		parent, err := cur.Parent()
		if err != nil {
			return nil, err
		}
		left, _ := parent.ChildLeft()
		right, _ := parent.ChildRight()
		if cur.Equal(left) {
			path = append(path, sl.nodeHash(right))
		} else {
			path = append(path, sl.nodeHash(left))
		}
		cur = parent
	}
	return path, nil
}

// AddPath implements spec §4.4's add_path: integrate an authenticated
// account into the sparse ledger, checking that intermediate hashes either
// match the existing cache or are newly installed.
func (sl *SparseLedger) AddPath(merklePath []FieldElement, addr MerkleAddress, account Account) error {
	if addr.Length != sl.depth {
		return fmt.Errorf("sparse ledger: add_path requires a leaf address (length %d, depth %d)", addr.Length, sl.depth)
	}
	if len(merklePath) != sl.depth {
		return fmt.Errorf("sparse ledger: merkle path length %d does not match depth %d", len(merklePath), sl.depth)
	}

	sl.accounts[addrKey(addr)] = sparseEntry{addr: addr, account: account}
	sl.hashes[addrKey(addr)] = account.Hash()

	cur := addr
	for i, sibling := range merklePath {
		parent, err := cur.Parent()
		if err != nil {
			return err
		}
		left, _ := parent.ChildLeft()
		var leftHash, rightHash FieldElement
		if cur.Equal(left) {
			leftHash, rightHash = sl.hashes[addrKey(cur)], sibling
			sl.setSiblingHash(parent, false, sibling)
		} else {
			leftHash, rightHash = sibling, sl.hashes[addrKey(cur)]
			sl.setSiblingHash(parent, true, sibling)
		}
		computed := merkleNodeHash(parent.Length, leftHash, rightHash)
		if existing, ok := sl.hashes[addrKey(parent)]; ok && existing != computed {
			return fmt.Errorf("sparse ledger: add_path hash mismatch at depth %d (path index %d)", parent.Length, i)
		}
		sl.hashes[addrKey(parent)] = computed
		cur = parent
	}
	return nil
}

// setSiblingHash installs a sibling's cached hash when it is not already an
// account-backed leaf in this sparse ledger.
func (sl *SparseLedger) setSiblingHash(parent MerkleAddress, left bool, hash FieldElement) {
	var sibling MerkleAddress
	if left {
		sibling, _ = parent.ChildLeft()
	} else {
		sibling, _ = parent.ChildRight()
	}
	if _, ok := sl.hashes[addrKey(sibling)]; !ok {
		sl.hashes[addrKey(sibling)] = hash
	}
}
