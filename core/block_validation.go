package core

import (
	"encoding/binary"
	"fmt"
)

// ProtocolStateBody hashes to the body hash consumed by ProtocolStateHash.
type ProtocolStateBody struct {
	Constants       ProtocolConstants
	GenesisStateHash StateHash
	BlockchainState BlockchainState
	Consensus       ConsensusState
}

func (b ProtocolStateBody) canonicalBytes() []byte {
	buf := make([]byte, 0, 256)
	var u32 [4]byte
	var u64 [8]byte
	binary.BigEndian.PutUint32(u32[:], b.Constants.K)
	buf = append(buf, u32[:]...)
	binary.BigEndian.PutUint32(u32[:], b.Constants.SlotsPerEpoch)
	buf = append(buf, u32[:]...)
	binary.BigEndian.PutUint32(u32[:], b.Constants.SlotsPerSubWindow)
	buf = append(buf, u32[:]...)
	binary.BigEndian.PutUint32(u32[:], b.Constants.Delta)
	buf = append(buf, u32[:]...)
	buf = append(buf, b.GenesisStateHash[:]...)
	buf = append(buf, b.BlockchainState.StagedLedgerHash[:]...)
	buf = append(buf, b.BlockchainState.SnarkedLedgerHash[:]...)
	binary.BigEndian.PutUint64(u64[:], uint64(b.BlockchainState.Timestamp))
	buf = append(buf, u64[:]...)
	binary.BigEndian.PutUint32(u32[:], b.Consensus.BlockchainLength)
	buf = append(buf, u32[:]...)
	binary.BigEndian.PutUint32(u32[:], b.Consensus.EpochCount)
	buf = append(buf, u32[:]...)
	buf = append(buf, b.Consensus.LastVrfOutput[:]...)
	binary.BigEndian.PutUint64(u64[:], b.Consensus.TotalCurrency)
	buf = append(buf, u64[:]...)
	buf = append(buf, b.Consensus.StakingEpochData.LockCheckpoint[:]...)
	buf = append(buf, b.Consensus.NextEpochData.LockCheckpoint[:]...)
	return buf
}

// Hash computes the body hash with domain separation "MinaProtoStateBody".
func (b ProtocolStateBody) Hash() StateHash {
	f := poseidonHashBytes("MinaProtoStateBody", b.canonicalBytes())
	return StateHash(f)
}

// ProtocolStateHash computes hash(previous_state_hash, body_hash) with
// domain separation "MinaProtoState", per spec §4.3.
func ProtocolStateHash(previousStateHash StateHash, body ProtocolStateBody) StateHash {
	f := poseidonHashBytes("MinaProtoState", previousStateHash[:], body.Hash()[:])
	return StateHash(f)
}

// VerifierIndexCached is the in-memory, deserialized form of a persisted
// verifier index. SourceDigest identifies the circuit source it was built
// from; IndexDigest identifies the serialized index contents.
type VerifierIndexCached struct {
	SourceDigest [32]byte
	IndexDigest  [32]byte
	Data         []byte
}

// ErrStaleVerifierCache is returned when a cache file's embedded digests do
// not match the expected values.
var ErrStaleVerifierCache = fmt.Errorf("verifier index cache is stale")

// LoadVerifierIndexCache parses the persisted {32-byte source_digest}
// {32-byte index_digest}{payload} layout from §6 and refuses a stale cache
// rather than silently reusing it (per the openmina verifier loader this
// repo's C3 is grounded on).
func LoadVerifierIndexCache(raw []byte, expectedSourceDigest [32]byte) (*VerifierIndexCached, error) {
	if len(raw) < 64 {
		return nil, fmt.Errorf("verifier cache too short: %d bytes", len(raw))
	}
	var sourceDigest, indexDigest [32]byte
	copy(sourceDigest[:], raw[:32])
	copy(indexDigest[:], raw[32:64])
	if sourceDigest != expectedSourceDigest {
		return nil, ErrStaleVerifierCache
	}
	payload := raw[64:]
	computedIndexDigest := blake2bSum(payload)
	if computedIndexDigest != indexDigest {
		return nil, ErrStaleVerifierCache
	}
	return &VerifierIndexCached{SourceDigest: sourceDigest, IndexDigest: indexDigest, Data: payload}, nil
}

// Verifier is the narrow external interface C3 delegates proof verification
// to, kept free of any concrete proof-system types per spec §9's "dynamic
// dispatch" design note.
type Verifier interface {
	VerifyBlock(proof []byte, stateHash StateHash) error
	VerifyTransaction(proof []byte, ledgerHash LedgerHash) error
}

// VerifierSet holds the two shared, read-only verifier indices named in
// spec §4.3: one for blocks, one for transactions. Both are loaded once at
// startup and never mutated afterwards.
type VerifierSet struct {
	BlockVerifier       *VerifierIndexCached
	TransactionVerifier *VerifierIndexCached
}

// IsStructurallyValid checks the parent hash chain and recomputed body hash
// match what the block header claims, per spec §4.3. It does not verify the
// proof itself — that is delegated to a Verifier.
func IsStructurallyValid(block Block, previousStateHash StateHash, body ProtocolStateBody) bool {
	if block.PredecessorHash != previousStateHash {
		return false
	}
	expected := ProtocolStateHash(previousStateHash, body)
	return block.Hash == expected
}

// ValidateBlock performs the full C3 validation pipeline: structural
// checking followed by delegated proof verification.
func ValidateBlock(block Block, previousStateHash StateHash, body ProtocolStateBody, verifier Verifier) error {
	if !IsStructurallyValid(block, previousStateHash, body) {
		return &ProofVerifyFailed{StateHash: block.Hash}
	}
	if verifier == nil {
		return nil
	}
	if err := verifier.VerifyBlock(block.Proof, block.Hash); err != nil {
		return &ProofVerifyFailed{StateHash: block.Hash}
	}
	return nil
}
