package core

import "fmt"

// StagedLedgerHash is the composite hash identifying a staged ledger, per
// spec §4.6.
type StagedLedgerHash struct {
	NonSnark struct {
		LedgerHash         LedgerHash
		AuxHash            [32]byte
		PendingCoinbaseAux [32]byte
	}
	PendingCoinbaseHash [32]byte
}

// auxAndCoinbaseAreZero reports whether aux_hash and pending_coinbase_aux are both
// all-zero, the condition spec §4.6 checks for the empty-reconstruction
// fast path.
func (h StagedLedgerHash) auxAndCoinbaseAreZero() bool {
	return h.NonSnark.AuxHash == [32]byte{} && h.NonSnark.PendingCoinbaseAux == [32]byte{}
}

// ScanStateWork is one pending transaction-snark work item in the scan
// state's tree, applied in order during reconstruction.
type ScanStateWork struct {
	Apply func(ledger *SparseLedger) error
}

// ScanState is the tree of pending transaction-snark work referenced by
// spec §4.6; only the ordered work list matters for reconstruction.
type ScanState struct {
	PendingWork []ScanStateWork
}

// PendingCoinbase is the mini-ledger of coinbases awaiting inclusion.
type PendingCoinbase struct {
	Entries []FieldElement
}

// ReconstructError reports that a staged-ledger reconstruction did not
// reproduce the expected hash; the peer supplying the parts should be
// downgraded and the parts refetched, per spec §4.6.
type ReconstructError struct {
	Expected StagedLedgerHash
	Computed StagedLedgerHash
}

func (e *ReconstructError) Error() string {
	return fmt.Sprintf("staged ledger reconstruction mismatch: expected ledger_hash=%s got=%s",
		e.Expected.NonSnark.LedgerHash, e.Computed.NonSnark.LedgerHash)
}

// ReconstructStagedLedger implements spec §4.6: replay the scan-state's
// pending transactions against the snarked ledger mask, accumulate a new
// ledger mask, and assert the recomputed staged-ledger hash against the
// expected one. Grounded on the teacher's ledger.go WAL-replay pattern
// (core/ledger.go), generalized from a single append-only WAL to scan-state
// work replay.
func ReconstructStagedLedger(snarked *SparseLedger, scanState ScanState, pendingCoinbase PendingCoinbase, expected StagedLedgerHash) (*SparseLedger, error) {
	if snarked.MerkleRoot() == expected.NonSnark.LedgerHash && expected.auxAndCoinbaseAreZero() {
		// Empty case: nothing to replay, the snarked ledger is already the
		// staged ledger.
		return snarked, nil
	}

	working := cloneSparseLedger(snarked)
	for i, work := range scanState.PendingWork {
		if work.Apply == nil {
			continue
		}
		if err := work.Apply(working); err != nil {
			return nil, fmt.Errorf("staged ledger reconstruction: scan-state work %d: %w", i, err)
		}
	}

	computed := computeStagedLedgerHash(working, scanState, pendingCoinbase)
	if computed != expected {
		return nil, &ReconstructError{Expected: expected, Computed: computed}
	}
	return working, nil
}

// cloneSparseLedger copies a sparse ledger's account and hash caches so
// reconstruction never mutates the snarked ledger it started from.
func cloneSparseLedger(src *SparseLedger) *SparseLedger {
	dst := NewSparseLedger(src.depth)
	for k, v := range src.accounts {
		dst.accounts[k] = v
	}
	for k, v := range src.hashes {
		dst.hashes[k] = v
	}
	return dst
}

// computeStagedLedgerHash recomputes aux_hash from the scan state and
// pending-coinbase aux, and merges it with the working ledger's root, per
// spec §4.6.
func computeStagedLedgerHash(working *SparseLedger, scanState ScanState, pendingCoinbase PendingCoinbase) StagedLedgerHash {
	var out StagedLedgerHash
	out.NonSnark.LedgerHash = LedgerHash(working.MerkleRoot())

	// Individual work items are opaque to the core (spec §9); only their
	// count and ordering feed the aux hash.
	auxDigest := poseidonHashBytes("MinaStagedLedgerAux", uint64Bytes(uint64(len(scanState.PendingWork))))
	copy(out.NonSnark.AuxHash[:], auxDigest[:])

	pcChunks := make([][]byte, 0, len(pendingCoinbase.Entries))
	for _, e := range pendingCoinbase.Entries {
		pcChunks = append(pcChunks, e[:])
	}
	pcDigest := poseidonHashBytes("MinaPendingCoinbaseAux", pcChunks...)
	copy(out.NonSnark.PendingCoinbaseAux[:], pcDigest[:])

	combined := poseidonHashBytes("MinaStagedLedgerHash", out.NonSnark.LedgerHash[:], out.NonSnark.AuxHash[:], out.NonSnark.PendingCoinbaseAux[:])
	copy(out.PendingCoinbaseHash[:], combined[:])
	return out
}
