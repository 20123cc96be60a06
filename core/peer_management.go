package core

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

// PeerState is a peer connection's lifecycle, per spec §4.9.
type PeerState int

const (
	PeerConnecting PeerState = iota
	PeerHandshaking
	PeerReady
	PeerClosing
)

func (s PeerState) String() string {
	switch s {
	case PeerConnecting:
		return "Connecting"
	case PeerHandshaking:
		return "Handshaking"
	case PeerReady:
		return "Ready"
	case PeerClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// maxPipelineDepth bounds outstanding RPCs per peer before admission is
// refused, per spec §4.9's "pipeline overflow" condition.
const maxPipelineDepth = 16

// Peer tracks one remote node's connection state and RPC bookkeeping.
// LastResponded drives the least-recently-responded-first selection spec
// §4.5 and §4.9 both rely on.
type Peer struct {
	ID            NodeID
	Addr          string
	State         PeerState
	LastResponded time.Time
	Faulty        bool
	pipelineDepth int
}

// NewPeer constructs a peer record in the Connecting state.
func NewPeer(id NodeID, addr string) *Peer {
	return &Peer{ID: id, Addr: addr, State: PeerConnecting}
}

// PeerManager is the narrow interface the sync/production components use to
// reach peers, kept free of concrete transport types per spec §9's
// "dynamic dispatch" design note.
type PeerManager interface {
	ReadyPeers() []NodeID
	LeastRecentlyResponded() (NodeID, bool)
	MarkFaulty(id NodeID)
	RecordResponse(id NodeID)
	AdmitRequest(id NodeID) bool
	ReleaseRequest(id NodeID)
}

// PeerManagement implements PeerManager around a Node, generalizing the
// teacher's PeerManagement (core/peer_management.go) from raw pubsub
// plumbing to the admission-control and peer-selection rules of spec §4.9.
type PeerManagement struct {
	node *Node

	mu    sync.RWMutex
	peers map[NodeID]*Peer
	quota int

	onDisconnect func(NodeID)
}

// NewPeerManagement wraps a Node, optionally invoking onDisconnect whenever
// a peer transitions to Closing (used to dispatch PeerDisconnectedAction).
func NewPeerManagement(n *Node, quota int, onDisconnect func(NodeID)) *PeerManagement {
	if quota <= 0 {
		quota = maxPipelineDepth
	}
	return &PeerManagement{node: n, peers: make(map[NodeID]*Peer), quota: quota, onDisconnect: onDisconnect}
}

// OnDisconnect installs (or replaces) the callback invoked whenever a peer
// transitions to Closing, letting callers wire it up after construction
// once the consumer (typically a Store) exists.
func (pm *PeerManagement) OnDisconnect(fn func(NodeID)) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.onDisconnect = fn
}

// Track registers a peer (or updates its address) without changing state.
func (pm *PeerManagement) Track(id NodeID, addr string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if p, ok := pm.peers[id]; ok {
		p.Addr = addr
		return
	}
	pm.peers[id] = NewPeer(id, addr)
}

// SetState transitions a tracked peer to a new lifecycle state. Transport
// disconnects land here as Closing, which cancels the peer's in-flight RPCs
// at the call site (the effect handler dispatches PeerDisconnectedAction).
func (pm *PeerManagement) SetState(id NodeID, state PeerState) {
	pm.mu.Lock()
	p, ok := pm.peers[id]
	if !ok {
		p = NewPeer(id, "")
		pm.peers[id] = p
	}
	p.State = state
	notify := state == PeerClosing
	pm.mu.Unlock()

	if notify && pm.onDisconnect != nil {
		pm.onDisconnect(id)
	}
}

// ReadyPeers returns every peer currently in the Ready state, ordered by
// least-recently-responded first for fair round-robin selection.
func (pm *PeerManagement) ReadyPeers() []NodeID {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	ready := make([]*Peer, 0, len(pm.peers))
	for _, p := range pm.peers {
		if p.State == PeerReady && !p.Faulty {
			ready = append(ready, p)
		}
	}
	for i := 1; i < len(ready); i++ {
		for j := i; j > 0 && ready[j].LastResponded.Before(ready[j-1].LastResponded); j-- {
			ready[j], ready[j-1] = ready[j-1], ready[j]
		}
	}
	ids := make([]NodeID, len(ready))
	for i, p := range ready {
		ids[i] = p.ID
	}
	return ids
}

// LeastRecentlyResponded returns the Ready, non-faulty peer that has gone
// longest without a successful response, per spec §4.5/§4.9.
func (pm *PeerManagement) LeastRecentlyResponded() (NodeID, bool) {
	ids := pm.ReadyPeers()
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

// MarkFaulty flags a peer as faulty, removing it from selection until
// cleared; it is not automatically disconnected (spec §7's local recovery).
func (pm *PeerManagement) MarkFaulty(id NodeID) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if p, ok := pm.peers[id]; ok {
		p.Faulty = true
		logrus.WithField("peer", id).Warn("peer management: marking peer faulty")
	}
}

// RecordResponse clears a peer's faulty flag and bumps its last-responded
// timestamp.
func (pm *PeerManagement) RecordResponse(id NodeID) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if p, ok := pm.peers[id]; ok {
		p.LastResponded = time.Now()
		p.Faulty = false
	}
}

// AdmitRequest reports whether a new outgoing request to id is allowed:
// the peer must be Ready, below the pipeline quota, per spec §4.9's
// admission rule.
func (pm *PeerManagement) AdmitRequest(id NodeID) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p, ok := pm.peers[id]
	if !ok || p.State != PeerReady || p.Faulty {
		return false
	}
	if p.pipelineDepth >= pm.quota {
		return false
	}
	p.pipelineDepth++
	return true
}

// ReleaseRequest returns one unit of pipeline quota to a peer once its
// request completes (success, error, or timeout).
func (pm *PeerManagement) ReleaseRequest(id NodeID) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if p, ok := pm.peers[id]; ok && p.pipelineDepth > 0 {
		p.pipelineDepth--
	}
}

// Connect dials a multiaddr peer string, tracks it, and marks it Ready once
// the libp2p connection completes (libp2p itself performs the noise/yamux
// handshake before Connect returns, so the Connecting and Handshaking
// states are never set here).
func (pm *PeerManagement) Connect(addr string) (NodeID, error) {
	id, err := pm.node.connectAddr(addr)
	if err != nil {
		return "", err
	}
	pm.Track(id, addr)
	pm.SetState(id, PeerReady)
	return id, nil
}

// Disconnect closes the transport connection to id and marks it Closing.
func (pm *PeerManagement) Disconnect(id NodeID) error {
	if err := pm.node.disconnect(id); err != nil {
		return err
	}
	pm.SetState(id, PeerClosing)
	return nil
}

// Sample returns up to n distinct ready peer ids chosen uniformly at
// random, used by gossip fanout (spec §4.9's "fanout=√N peers" shape,
// grounded on the teacher's Replicator.ReplicateBlock sampling).
func (pm *PeerManagement) Sample(n int) []NodeID {
	ids := pm.ReadyPeers()
	if n > len(ids) {
		n = len(ids)
	}
	for i := len(ids) - 1; i > 0; i-- {
		jBig, err := crand.Int(crand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			break
		}
		j := int(jBig.Int64())
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids[:n]
}

func (n *Node) connectAddr(addr string) (NodeID, error) {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return "", fmt.Errorf("peer management: invalid address: %w", err)
	}
	ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, *pi); err != nil {
		return "", fmt.Errorf("peer management: connect: %w", err)
	}
	id := NodeID(pi.ID.String())
	n.peerLock.Lock()
	n.peers[id] = NewPeer(id, addr)
	n.peerLock.Unlock()
	return id, nil
}

func (n *Node) disconnect(id NodeID) error {
	pid, err := peer.Decode(string(id))
	if err != nil {
		return err
	}
	if err := n.host.Network().ClosePeer(pid); err != nil {
		return err
	}
	n.peerLock.Lock()
	delete(n.peers, id)
	n.peerLock.Unlock()
	return nil
}
