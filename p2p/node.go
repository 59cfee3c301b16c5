package p2p

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"
)

// ProtocolBlock is the only stream protocol LAC speaks: best-effort
// block announcement to known peers. Chain sync, peer exchange and
// transaction relay are not implemented.
const ProtocolBlock protocol.ID = "/lac/block/1.0.0"

// NodeConfig configures the P2P node.
type NodeConfig struct {
	// ListenAddrs are the multiaddrs to listen on.
	ListenAddrs []string

	// MaxInbound is the maximum number of inbound connections.
	MaxInbound int

	// MaxOutbound is the maximum number of outbound connections.
	MaxOutbound int

	Identity IdentityConfig

	UserAgent string
}

// DefaultNodeConfig returns sensible defaults.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		ListenAddrs: []string{
			"/ip4/0.0.0.0/tcp/0",
			"/ip6/::/tcp/0",
		},
		MaxInbound:  64,
		MaxOutbound: 16,
		Identity:    DefaultIdentityConfig(),
		UserAgent:   "lac",
	}
}

// Node is a minimal P2P node used only to broadcast freshly produced
// blocks to known peers (§4.7) and to accept blocks broadcast by them.
type Node struct {
	mu sync.RWMutex

	host     host.Host
	identity *IdentityManager
	config   NodeConfig

	onBlock func(from peer.ID, data []byte)

	ctx       context.Context
	cancel    context.CancelFunc
	stopFuncs []func()
}

// NewNode creates a new P2P node and starts listening.
func NewNode(cfg NodeConfig) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	identity, err := NewIdentityManager(cfg.Identity)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	privKey, _ := identity.CurrentIdentity()

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.ListenAddrs))
	for _, addr := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	connMgr, err := connmgr.NewConnManager(
		cfg.MaxOutbound,
		cfg.MaxInbound+cfg.MaxOutbound,
		connmgr.WithGracePeriod(time.Minute),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	node := &Node{
		identity: identity,
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.ConnectionManager(connMgr),
		libp2p.UserAgent(cfg.UserAgent),
		libp2p.NATPortMap(),
		libp2p.DisableRelay(),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	node.host = h

	identity.SetRotationCallback(func(newKey crypto.PrivKey, newID peer.ID) {
		log.Printf("identity rotated to: %s", newID.String()[:16])
	})

	node.host.SetStreamHandler(ProtocolBlock, node.handleBlockStream)
	node.stopFuncs = append(node.stopFuncs, identity.StartRotationLoop())

	return node, nil
}

func (n *Node) handleBlockStream(s network.Stream) {
	defer func() {
		if err := s.Close(); err != nil && !isExpectedStreamCloseError(err) {
			log.Printf("failed to close block stream: %v", err)
		}
	}()
	if err := s.SetReadDeadline(time.Now().Add(30 * time.Second)); err != nil {
		log.Printf("failed to set block stream read deadline from %s: %v", s.Conn().RemotePeer(), err)
		return
	}

	data, err := readLengthPrefixedWithLimit(s, MaxBlockStreamPayloadSize)
	if err != nil {
		return
	}

	n.mu.RLock()
	handler := n.onBlock
	n.mu.RUnlock()

	if handler != nil {
		handler(s.Conn().RemotePeer(), data)
	}
}

// Stop gracefully shuts down the node.
func (n *Node) Stop() error {
	n.cancel()
	for _, stop := range n.stopFuncs {
		stop()
	}
	return n.host.Close()
}

// Host returns the underlying libp2p host.
func (n *Node) Host() host.Host {
	return n.host
}

// PeerID returns the current peer ID.
func (n *Node) PeerID() peer.ID {
	return n.identity.CurrentPeerID()
}

// Addrs returns the listen addresses.
func (n *Node) Addrs() []multiaddr.Multiaddr {
	return n.host.Addrs()
}

// Peers returns connected peer IDs.
func (n *Node) Peers() []peer.ID {
	return n.host.Network().Peers()
}

// Connect attempts to connect to a peer, used for --bootstrap and --discover.
func (n *Node) Connect(ctx context.Context, pi peer.AddrInfo) error {
	return n.host.Connect(ctx, pi)
}

// SetBlockHandler sets the callback invoked for blocks received from peers.
func (n *Node) SetBlockHandler(handler func(from peer.ID, data []byte)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onBlock = handler
}

// BroadcastBlock sends a block to all connected peers, best-effort.
func (n *Node) BroadcastBlock(data []byte) {
	peers := n.host.Network().Peers()
	for _, p := range peers {
		n.sendToPeerAsync(p, ProtocolBlock, data)
	}
}

func (n *Node) sendToPeer(p peer.ID, proto protocol.ID, data []byte) error {
	ctx, cancel := context.WithTimeout(n.ctx, 3*time.Second)
	defer cancel()

	s, err := n.host.NewStream(ctx, p, proto)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil && !isExpectedStreamCloseError(err) {
			log.Printf("failed to close outbound %s stream to %s: %v", proto, p, err)
		}
	}()

	return writeLengthPrefixed(s, data)
}

func (n *Node) sendToPeerAsync(p peer.ID, proto protocol.ID, data []byte) {
	go func(pid peer.ID, pr protocol.ID, payload []byte) {
		if err := n.sendToPeer(pid, pr, payload); err != nil && !isExpectedStreamCloseError(err) {
			log.Printf("failed to send %s message to peer %s: %v", pr, pid, err)
		}
	}(p, proto, data)
}

// FullMultiaddrs returns the complete multiaddrs (including peer ID) that
// other nodes need in order to connect to this node.
func (n *Node) FullMultiaddrs() []string {
	pid := n.PeerID()
	addrs := n.Addrs()

	full := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		s := addr.String()
		if strings.HasPrefix(s, "/ip4/127.") || strings.HasPrefix(s, "/ip6/::1") {
			continue
		}
		full = append(full, fmt.Sprintf("%s/p2p/%s", s, pid.String()))
	}
	return full
}

// WritePeerFile writes the node's multiaddrs to a file for operators to share.
func (n *Node) WritePeerFile(filename string) error {
	addrs := n.FullMultiaddrs()
	if len(addrs) == 0 {
		return fmt.Errorf("no external addresses available")
	}

	content := ""
	for _, addr := range addrs {
		content += addr + "\n"
	}

	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		return err
	}

	log.Printf("wrote peer addresses to %s", filename)
	return nil
}
