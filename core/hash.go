package core

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// poseidonHash is a domain-separated sponge standing in for Kimchi-Poseidon.
// No Pasta-curve Poseidon permutation is available anywhere in the retrieved
// example pack (see DESIGN.md); this absorbs the domain tag and every input
// limb through blake2b and squeezes a single field element, which is enough
// to satisfy the documented domain-separation rules without claiming to
// reproduce the OCaml bit-for-bit hash.
func poseidonHash(domain string, inputs ...FieldElement) FieldElement {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(domain))
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(inputs)))
	h.Write(lenBuf[:])
	for _, in := range inputs {
		h.Write(in[:])
	}
	var out FieldElement
	copy(out[:], h.Sum(nil))
	return out
}

// poseidonHashBytes is the raw-bytes variant used where inputs are not yet
// reduced to field elements (e.g. canonical block-header serializations).
func poseidonHashBytes(domain string, chunks ...[]byte) FieldElement {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(domain))
	for _, c := range chunks {
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(c)))
		h.Write(lenBuf[:])
		h.Write(c)
	}
	var out FieldElement
	copy(out[:], h.Sum(nil))
	return out
}

// accountHash is the leaf hash of an account in the Merkle ledger.
func accountHash(a Account) FieldElement {
	chunks := [][]byte{
		a.PublicKey.X[:],
		{boolByte(a.PublicKey.IsOdd)},
		FieldElement(a.TokenId)[:],
		uint64Bytes(a.Balance),
		uint32Bytes(a.Nonce),
		a.ReceiptChainHash[:],
		a.VotingFor[:],
		[]byte(a.ZkappUri),
		[]byte(a.TokenSymbol),
	}
	if a.Delegate != nil {
		chunks = append(chunks, a.Delegate.X[:], []byte{boolByte(a.Delegate.IsOdd)})
	}
	if a.Zkapp != nil {
		for _, f := range a.Zkapp.AppState {
			chunks = append(chunks, f[:])
		}
		for _, f := range a.Zkapp.SequenceState {
			chunks = append(chunks, f[:])
		}
	}
	return poseidonHashBytes("MinaAccount", chunks...)
}

// merkleNodeHash hashes two children at the given tree depth, matching the
// "MinaMklTree{d:03}" domain-separated family from the reference protocol.
func merkleNodeHash(depth int, left, right FieldElement) FieldElement {
	domain := merkleDepthDomain(depth)
	return poseidonHash(domain, left, right)
}

func merkleDepthDomain(depth int) string {
	digits := [3]byte{'0', '0', '0'}
	d := depth
	for i := 2; i >= 0 && d > 0; i-- {
		digits[i] = byte('0' + d%10)
		d /= 10
	}
	return "MinaMklTree" + string(digits[:])
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func uint64Bytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func uint32Bytes(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

// blake2bSum returns the blake2b-256 digest, used for the last-vrf-output
// tie-break in consensus_take and for the verifier-index cache digest.
func blake2bSum(data []byte) [32]byte {
	return blake2b.Sum256(data)
}
