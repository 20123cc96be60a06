package core

import "testing"

func TestMerkleAddressRoundTrip(t *testing.T) {
	addr, err := FromIndex(0b10110, 5)
	if err != nil {
		t.Fatal(err)
	}
	back, err := FromIndex(addr.ToIndex(), addr.Length)
	if err != nil {
		t.Fatal(err)
	}
	if !addr.Equal(back) {
		t.Fatalf("round trip mismatch: %+v vs %+v", addr, back)
	}
}

func TestMerkleAddressNeighbor(t *testing.T) {
	addr, _ := FromIndex(4, 5)
	next, err := addr.Next()
	if err != nil {
		t.Fatal(err)
	}
	prev, err := next.Prev()
	if err != nil {
		t.Fatal(err)
	}
	if !addr.Equal(prev) {
		t.Fatalf("next().prev() should round-trip: got %+v want %+v", prev, addr)
	}
}

func TestMerkleAddressChildParent(t *testing.T) {
	root := MerkleAddress{}
	left, err := root.ChildLeft()
	if err != nil {
		t.Fatal(err)
	}
	parent, err := left.Parent()
	if err != nil {
		t.Fatal(err)
	}
	if !root.Equal(parent) {
		t.Fatalf("child().parent() should round-trip to root")
	}
}

func TestMerkleAddressIsParentOf(t *testing.T) {
	parent, _ := FromIndex(0b10, 2)
	child, _ := FromIndex(0b101, 3)
	if !parent.IsParentOf(child) {
		t.Fatal("expected parent to be a prefix of child")
	}
	if child.IsParentOf(parent) {
		t.Fatal("a longer address cannot be the parent of a shorter one")
	}
}

func TestMerkleAddressIterChildren(t *testing.T) {
	addr, _ := FromIndex(0b1, 1)
	children, err := addr.IterChildren(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 4 {
		t.Fatalf("expected 4 descendants at depth 3, got %d", len(children))
	}
	for _, c := range children {
		if !addr.IsParentOf(c) {
			t.Fatalf("descendant %+v not under %+v", c, addr)
		}
	}
}

func TestMerkleAddressDepthLimit(t *testing.T) {
	addr := MerkleAddress{Length: LedgerDepth}
	if _, err := addr.ChildLeft(); err == nil {
		t.Fatal("expected error exceeding ledger depth")
	}
}
