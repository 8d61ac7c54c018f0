package p2p

import (
	"context"
	crand "crypto/rand"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	libp2p "github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/echenim/Bedrock/tendermint/internal/crypto"
)

// HostConfig holds configuration for creating a P2P Host.
type HostConfig struct {
	// PrivateKey is the validator's secp256k1 key. When nil an ephemeral
	// Ed25519 identity is generated.
	PrivateKey crypto.PrivateKey
	// ListenAddr is a multiaddr string (e.g. "/ip4/0.0.0.0/udp/30303/quic-v1").
	ListenAddr string
	// MaxPeers is the connection manager high watermark.
	MaxPeers int
	// Seeds are multiaddr strings for seed nodes.
	Seeds []string
	// RateLimit overrides DefaultRateLimitConfig when non-nil.
	RateLimit *RateLimitConfig
	Logger    *zap.Logger
	Metrics   *Metrics
}

// Host wraps a libp2p host with gossip and seed management.
type Host struct {
	host        host.Host
	gossip      *GossipManager
	discovery   *Discovery
	rateLimiter *RateLimiter
	metrics     *Metrics
	logger      *zap.Logger

	cancel context.CancelFunc
}

func hostIdentity(key crypto.PrivateKey) (libp2pcrypto.PrivKey, error) {
	if key == nil {
		priv, _, err := libp2pcrypto.GenerateEd25519Key(crand.Reader)
		return priv, err
	}
	return libp2pcrypto.UnmarshalSecp256k1PrivateKey(ethcrypto.FromECDSA(key))
}

// NewHost creates a libp2p host and its gossip layer.
func NewHost(ctx context.Context, cfg HostConfig) (*Host, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("p2p")
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetrics()
	}

	privKey, err := hostIdentity(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("p2p: host identity: %w", err)
	}

	listenAddr, err := multiaddr.NewMultiaddr(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("p2p: invalid listen address %q: %w", cfg.ListenAddr, err)
	}

	maxPeers := cfg.MaxPeers
	if maxPeers <= 0 {
		maxPeers = 50
	}
	cm, err := connmgr.NewConnManager(max(1, maxPeers*4/5), maxPeers)
	if err != nil {
		return nil, fmt.Errorf("p2p: connection manager: %w", err)
	}

	seeds, err := ParseSeedAddrs(cfg.Seeds)
	if err != nil {
		return nil, err
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddr),
		libp2p.ConnectionManager(cm),
	)
	if err != nil {
		return nil, fmt.Errorf("p2p: create host: %w", err)
	}

	gossip, err := NewGossipManager(ctx, h, logger)
	if err != nil {
		h.Close()
		return nil, err
	}

	rl := DefaultRateLimitConfig()
	if cfg.RateLimit != nil {
		rl = *cfg.RateLimit
	}

	bh := &Host{
		host:        h,
		gossip:      gossip,
		discovery:   NewDiscovery(h, seeds, logger),
		rateLimiter: NewRateLimiter(rl),
		metrics:     metrics,
		logger:      logger,
	}

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(n network.Network, conn network.Conn) {
			metrics.PeersConnected.Set(float64(len(n.Peers())))
			logger.Debug("peer connected", zap.String("peer", conn.RemotePeer().String()))
		},
		DisconnectedF: func(n network.Network, conn network.Conn) {
			metrics.PeersConnected.Set(float64(len(n.Peers())))
			logger.Debug("peer disconnected", zap.String("peer", conn.RemotePeer().String()))
		},
	})

	return bh, nil
}

// Start joins the consensus topic and begins dialing seeds.
func (bh *Host) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	bh.cancel = cancel

	if _, err := bh.gossip.JoinTopic(TopicConsensus); err != nil {
		return fmt.Errorf("p2p: join consensus topic: %w", err)
	}

	bh.discovery.Start(ctx)

	bh.logger.Info("p2p host started",
		zap.String("peer_id", bh.host.ID().String()),
		zap.Any("listen_addrs", bh.host.Addrs()),
	)
	return nil
}

// Stop shuts down the P2P host.
func (bh *Host) Stop() error {
	if bh.cancel != nil {
		bh.cancel()
	}
	bh.gossip.Close()
	return bh.host.Close()
}

// ID returns the host's peer ID.
func (bh *Host) ID() peer.ID {
	return bh.host.ID()
}

// Addrs returns the host's listen addresses.
func (bh *Host) Addrs() []multiaddr.Multiaddr {
	return bh.host.Addrs()
}

// AddrInfo returns the dialable address of this host.
func (bh *Host) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: bh.host.ID(), Addrs: bh.host.Addrs()}
}

// Connect dials a peer directly.
func (bh *Host) Connect(ctx context.Context, info peer.AddrInfo) error {
	return bh.host.Connect(ctx, info)
}

// PeerCount returns the number of connected peers.
func (bh *Host) PeerCount() int {
	return len(bh.host.Network().Peers())
}

// Gossip returns the GossipManager.
func (bh *Host) Gossip() *GossipManager {
	return bh.gossip
}
