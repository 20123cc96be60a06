package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SnarkedSyncState is C5's per-target state machine, per spec §4.5.
type SnarkedSyncState int

const (
	SnarkedSyncIdle SnarkedSyncState = iota
	SnarkedSyncNumAccountsPending
	SnarkedSyncHashesPending
	SnarkedSyncAccountsPending
	SnarkedSyncSuccess
)

func (s SnarkedSyncState) String() string {
	switch s {
	case SnarkedSyncIdle:
		return "Idle"
	case SnarkedSyncNumAccountsPending:
		return "NumAccountsPending"
	case SnarkedSyncHashesPending:
		return "HashesPending"
	case SnarkedSyncAccountsPending:
		return "AccountsPending"
	case SnarkedSyncSuccess:
		return "Success"
	default:
		return "Unknown"
	}
}

// LedgerQueryKind enumerates the semantic LedgerQuery request shapes from
// spec §4.9.
type LedgerQueryKind int

const (
	QueryNumAccounts LedgerQueryKind = iota
	QueryWhatChildHashes
	QueryWhatContents
)

// LedgerQuerier is the narrow interface the syncer issues RPCs through; it
// is satisfied by the C9 dispatcher in production and by a fake in tests.
type LedgerQuerier interface {
	QueryNumAccounts(peerID NodeID, ledgerHash LedgerHash) (uint64, FieldElement, error)
	QueryChildHashes(peerID NodeID, addr MerkleAddress) (left, right FieldElement, err error)
	QueryContents(peerID NodeID, addr MerkleAddress) ([]Account, error)
}

// per-cost budget constants from spec §4.5: outstanding hash queries and
// account queries are budgeted separately.
const (
	maxOutstandingHashQueries    = 64
	maxOutstandingAccountQueries = 16
	syncRetryBackoff             = 250 * time.Millisecond
)

// pendingQuery tracks one outstanding request against a specific peer.
type pendingQuery struct {
	addr     MerkleAddress
	peerID   NodeID
	kind     LedgerQueryKind
	sentAt   time.Time
}

// peerRecency tracks least-recently-responded-first peer selection.
type peerRecency struct {
	lastResponded time.Time
	faulty        bool
}

// SnarkedLedgerSync drives one ledger's sync against a target hash, per
// spec §4.5. Grounded on the teacher's SyncManager loop shape
// (core/blockchain_synchronization.go), generalized to the Merkle-sync
// protocol.
type SnarkedLedgerSync struct {
	mu sync.Mutex

	state      SnarkedSyncState
	targetHash LedgerHash
	numAccounts uint64
	rootHash   FieldElement

	ledger *SparseLedger
	frontier []MerkleAddress // addresses awaiting WhatChildHashes
	accountFetchQueue []MerkleAddress // leaf addresses awaiting WhatContents

	outstandingHash    int
	outstandingAccount int
	pending            map[string]pendingQuery

	peers map[NodeID]*peerRecency

	querier LedgerQuerier
	log     *logrus.Logger
}

// NewSnarkedLedgerSync constructs a syncer targeting targetHash.
func NewSnarkedLedgerSync(targetHash LedgerHash, querier LedgerQuerier, log *logrus.Logger) *SnarkedLedgerSync {
	if log == nil {
		log = logrus.New()
	}
	return &SnarkedLedgerSync{
		state:      SnarkedSyncIdle,
		targetHash: targetHash,
		ledger:     NewSparseLedger(LedgerDepth),
		pending:    make(map[string]pendingQuery),
		peers:      make(map[NodeID]*peerRecency),
		querier:    querier,
		log:        log,
	}
}

// AddPeer registers a peer as eligible to serve this sync.
func (s *SnarkedLedgerSync) AddPeer(id NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; !ok {
		s.peers[id] = &peerRecency{}
	}
}

// State returns the current state-machine state.
func (s *SnarkedLedgerSync) State() SnarkedSyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// leastRecentlyRespondedPeer picks a non-faulty peer, preferring the one
// that has gone longest without a successful response (spec §4.5).
func (s *SnarkedLedgerSync) leastRecentlyRespondedPeer() (NodeID, bool) {
	var best NodeID
	var bestTime time.Time
	found := false
	for id, rec := range s.peers {
		if rec.faulty {
			continue
		}
		if !found || rec.lastResponded.Before(bestTime) {
			best, bestTime, found = id, rec.lastResponded, true
		}
	}
	return best, found
}

// Start transitions Idle → NumAccountsPending and issues the NumAccounts
// query.
func (s *SnarkedLedgerSync) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SnarkedSyncIdle {
		return fmt.Errorf("snarked ledger sync: Start called in state %s", s.state)
	}
	peer, ok := s.leastRecentlyRespondedPeer()
	if !ok {
		return fmt.Errorf("snarked ledger sync: no peers available")
	}
	s.state = SnarkedSyncNumAccountsPending
	return s.issueNumAccounts(peer)
}

func (s *SnarkedLedgerSync) issueNumAccounts(peer NodeID) error {
	n, root, err := s.querier.QueryNumAccounts(peer, s.targetHash)
	if err != nil {
		s.markFaulty(peer)
		return err
	}
	s.recordResponse(peer)
	s.numAccounts = n
	s.rootHash = root
	s.state = SnarkedSyncHashesPending
	s.frontier = []MerkleAddress{{}}
	return nil
}

func (s *SnarkedLedgerSync) markFaulty(peer NodeID) {
	if rec, ok := s.peers[peer]; ok {
		rec.faulty = true
	}
	s.log.WithField("peer", peer).Warn("snarked ledger sync: marking peer faulty")
}

func (s *SnarkedLedgerSync) recordResponse(peer NodeID) {
	if rec, ok := s.peers[peer]; ok {
		rec.lastResponded = time.Now()
	}
}

// Step advances the state machine by issuing as many queries as the
// per-cost budget allows and processing frontier addresses breadth-first.
// It returns true if the sync reached Success this step.
func (s *SnarkedLedgerSync) Step() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SnarkedSyncHashesPending:
		err := s.stepHashes()
		return s.state == SnarkedSyncSuccess, err
	case SnarkedSyncAccountsPending:
		err := s.stepAccounts()
		return s.state == SnarkedSyncSuccess, err
	case SnarkedSyncSuccess:
		return true, nil
	default:
		return false, nil
	}
}

func (s *SnarkedLedgerSync) stepHashes() error {
	for len(s.frontier) > 0 && s.outstandingHash < maxOutstandingHashQueries {
		addr := s.frontier[0]
		s.frontier = s.frontier[1:]

		peer, ok := s.leastRecentlyRespondedPeer()
		if !ok {
			return fmt.Errorf("snarked ledger sync: no peers available for hash query")
		}
		s.outstandingHash++
		left, right, err := s.querier.QueryChildHashes(peer, addr)
		s.outstandingHash--
		if err != nil {
			s.markFaulty(peer)
			s.frontier = append(s.frontier, addr)
			time.Sleep(syncRetryBackoff)
			continue
		}
		s.recordResponse(peer)

		leftAddr, _ := addr.ChildLeft()
		rightAddr, _ := addr.ChildRight()
		expected := merkleNodeHash(addr.Length, left, right)
		if cached, ok := s.cachedHash(addr); ok && cached != expected {
			s.markFaulty(peer)
			s.frontier = append(s.frontier, addr)
			continue
		}
		s.cacheHash(leftAddr, left)
		s.cacheHash(rightAddr, right)

		nextDepth := addr.Length + 1
		s.descend(leftAddr, left, nextDepth)
		s.descend(rightAddr, right, nextDepth)
	}
	if len(s.frontier) == 0 && s.outstandingHash == 0 && s.state == SnarkedSyncHashesPending && len(s.accountFetchQueue) == 0 {
		s.state = SnarkedSyncSuccess
	}
	return nil
}

// descend enqueues the next fetch for a child node unless its hash already
// equals the well-known empty-subtree hash at that depth, in which case the
// branch is known synced without any further queries — the same shortcut a
// real Merkle-ledger sync takes to avoid walking a sparsely-populated
// 2^35-leaf tree node by node.
func (s *SnarkedLedgerSync) descend(addr MerkleAddress, hash FieldElement, depth int) {
	if hash == s.ledger.emptySubtreeHash(depth) {
		return
	}
	if depth == LedgerDepth {
		s.enqueueAccountFetch(addr)
		return
	}
	s.frontier = append(s.frontier, addr)
}

// cachedHash/cacheHash expose the ledger's internal hash cache for
// cross-checking parent/child consistency during sync.
func (s *SnarkedLedgerSync) cachedHash(addr MerkleAddress) (FieldElement, bool) {
	h, ok := s.ledger.hashes[addrKey(addr)]
	return h, ok
}

func (s *SnarkedLedgerSync) cacheHash(addr MerkleAddress, h FieldElement) {
	s.ledger.hashes[addrKey(addr)] = h
}

func (s *SnarkedLedgerSync) enqueueAccountFetch(addr MerkleAddress) {
	s.accountFetchQueue = append(s.accountFetchQueue, addr)
	s.state = SnarkedSyncAccountsPending
}

func (s *SnarkedLedgerSync) stepAccounts() error {
	for len(s.accountFetchQueue) > 0 && s.outstandingAccount < maxOutstandingAccountQueries {
		addr := s.accountFetchQueue[0]
		s.accountFetchQueue = s.accountFetchQueue[1:]

		peer, ok := s.leastRecentlyRespondedPeer()
		if !ok {
			return fmt.Errorf("snarked ledger sync: no peers available for account query")
		}
		s.outstandingAccount++
		accounts, err := s.querier.QueryContents(peer, addr)
		s.outstandingAccount--
		if err != nil {
			s.markFaulty(peer)
			s.accountFetchQueue = append(s.accountFetchQueue, addr)
			time.Sleep(syncRetryBackoff)
			continue
		}
		s.recordResponse(peer)

		if len(accounts) != 1 {
			s.markFaulty(peer)
			s.accountFetchQueue = append(s.accountFetchQueue, addr)
			continue
		}
		account := accounts[0]
		if expected, ok := s.cachedHash(addr); ok && account.Hash() != expected {
			s.markFaulty(peer)
			s.accountFetchQueue = append(s.accountFetchQueue, addr)
			continue
		}
		s.ledger.Set(addr, account)
	}
	if len(s.accountFetchQueue) == 0 && s.outstandingAccount == 0 && len(s.frontier) == 0 && s.outstandingHash == 0 {
		s.state = SnarkedSyncSuccess
	}
	return nil
}

// Ledger returns the sparse ledger accumulated so far.
func (s *SnarkedLedgerSync) Ledger() *SparseLedger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger
}
