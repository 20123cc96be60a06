package core

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// NodeID identifies a peer by its libp2p peer-id string, per spec §4.9.
type NodeID string

// NetworkConfig wires one Node's transport and discovery settings, the P2P
// half of the external interfaces in spec §6. KeepConnectionWithUnknownStream
// mirrors the KEEP_CONNECTION_WITH_UNKNOWN_STREAM environment switch;
// default is false (tear down), per spec §6.
type NetworkConfig struct {
	ListenAddr                      string
	BootstrapPeers                  []string
	DiscoveryTag                    string
	KeepConnectionWithUnknownStream bool
}

// Node wraps a libp2p host and gossipsub router. Grounded on the teacher's
// NewNode/common_structs.go Node shape (core/network.go,
// core/common_structs.go), trimmed of the NAT-traversal helper libp2p's own
// AutoNAT already covers and generalized to the gossip/RPC split of C9.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub

	topicLock sync.RWMutex
	topics    map[string]*pubsub.Topic
	subLock   sync.RWMutex
	subs      map[string]*pubsub.Subscription

	peerLock sync.RWMutex
	peers    map[NodeID]*Peer

	ctx    context.Context
	cancel context.CancelFunc
	cfg    NetworkConfig

	onPeerFound func(NodeID, string)
}

// NewNode creates and bootstraps a P2P node: a libp2p host, a gossipsub
// router, mDNS discovery, and the configured bootstrap peers.
func NewNode(cfg NetworkConfig) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("network: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("network: create pubsub: %w", err)
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		peers:  make(map[NodeID]*Peer),
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}

	if err := n.dialSeeds(cfg.BootstrapPeers); err != nil {
		logrus.WithError(err).Warn("network: some bootstrap peers failed to dial")
	}

	if cfg.DiscoveryTag != "" {
		if _, err := mdns.NewMdnsService(h, cfg.DiscoveryTag, n); err != nil {
			logrus.WithError(err).Warn("network: mDNS discovery unavailable")
		}
	}

	return n, nil
}

var _ mdns.Notifee = (*Node)(nil)

// HandlePeerFound implements mdns.Notifee: connect to a locally-discovered
// peer, skipping ourselves and peers we already track.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	id := NodeID(info.ID.String())

	n.peerLock.RLock()
	_, known := n.peers[id]
	n.peerLock.RUnlock()
	if known {
		return
	}

	if err := n.host.Connect(n.ctx, info); err != nil {
		logrus.WithError(err).WithField("peer", id).Warn("network: mDNS connect failed")
		return
	}

	n.peerLock.Lock()
	n.peers[id] = NewPeer(id, info.String())
	n.peerLock.Unlock()
	logrus.WithField("peer", id).Info("network: connected via mDNS")

	if n.onPeerFound != nil {
		n.onPeerFound(id, info.String())
	}
}

func (n *Node) dialSeeds(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := n.host.Connect(n.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		id := NodeID(pi.ID.String())
		n.peerLock.Lock()
		n.peers[id] = NewPeer(id, addr)
		n.peerLock.Unlock()
	}
	if len(errs) > 0 {
		return fmt.Errorf("dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Close tears down the host and cancels the node's context.
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}

// ID returns the node's own libp2p peer id.
func (n *Node) ID() NodeID { return NodeID(n.host.ID().String()) }

// Broadcast publishes data on a gossipsub topic, joining it on first use.
func (n *Node) Broadcast(ctx context.Context, topic string, data []byte) error {
	n.topicLock.Lock()
	t, ok := n.topics[topic]
	if !ok {
		var err error
		t, err = n.pubsub.Join(topic)
		if err != nil {
			n.topicLock.Unlock()
			return fmt.Errorf("network: join topic %s: %w", topic, err)
		}
		n.topics[topic] = t
	}
	n.topicLock.Unlock()
	if err := t.Publish(ctx, data); err != nil {
		return fmt.Errorf("network: publish topic %s: %w", topic, err)
	}
	return nil
}

// GossipMessage is one decoded message received from a pubsub topic.
type GossipMessage struct {
	From  NodeID
	Topic string
	Data  []byte
}

// Subscribe joins (if necessary) and listens on a gossipsub topic, decoding
// messages onto the returned channel until the node's context is cancelled.
func (n *Node) Subscribe(topic string) (<-chan GossipMessage, error) {
	n.subLock.Lock()
	sub, ok := n.subs[topic]
	if !ok {
		t, err := n.pubsub.Join(topic)
		if err != nil {
			n.subLock.Unlock()
			return nil, fmt.Errorf("network: join topic %s: %w", topic, err)
		}
		n.topicLock.Lock()
		n.topics[topic] = t
		n.topicLock.Unlock()
		sub, err = t.Subscribe()
		if err != nil {
			n.subLock.Unlock()
			return nil, fmt.Errorf("network: subscribe topic %s: %w", topic, err)
		}
		n.subs[topic] = sub
	}
	n.subLock.Unlock()

	out := make(chan GossipMessage)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				return
			}
			select {
			case out <- GossipMessage{From: NodeID(msg.GetFrom().String()), Topic: topic, Data: msg.Data}:
			case <-n.ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
