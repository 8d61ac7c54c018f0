package p2p

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const (
	reconnectInterval = 30 * time.Second
	connectTimeout    = 10 * time.Second
)

// Discovery keeps the node connected to its configured seed peers. There is
// no DHT; validator sets are small and statically known.
type Discovery struct {
	host   host.Host
	seeds  []peer.AddrInfo
	logger *zap.Logger
}

// NewDiscovery creates a Discovery instance with the given seed addresses.
func NewDiscovery(h host.Host, seeds []peer.AddrInfo, logger *zap.Logger) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{
		host:   h,
		seeds:  seeds,
		logger: logger,
	}
}

// ParseSeedAddrs parses multiaddr strings into peer.AddrInfo structs.
// Each string must be a full multiaddr including the /p2p/<peer-id> component.
func ParseSeedAddrs(addrs []string) ([]peer.AddrInfo, error) {
	var infos []peer.AddrInfo
	for _, s := range addrs {
		ma, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("p2p: invalid seed addr %q: %w", s, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			return nil, fmt.Errorf("p2p: parse seed addr %q: %w", s, err)
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// Start dials all seeds, then periodically redials any that have
// disconnected.
func (d *Discovery) Start(ctx context.Context) {
	d.connectToSeeds(ctx)
	go d.reconnectLoop(ctx)
}

// connectToSeeds dials every disconnected seed in parallel and returns how
// many are connected afterwards.
func (d *Discovery) connectToSeeds(ctx context.Context) int {
	var (
		wg        sync.WaitGroup
		connected atomic.Int32
	)
	for _, seed := range d.seeds {
		if seed.ID == d.host.ID() {
			continue
		}
		if d.host.Network().Connectedness(seed.ID) == network.Connected {
			connected.Add(1)
			continue
		}

		wg.Add(1)
		go func(seed peer.AddrInfo) {
			defer wg.Done()
			dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()
			if err := d.host.Connect(dialCtx, seed); err != nil {
				d.logger.Warn("failed to connect to seed",
					zap.String("peer", seed.ID.String()),
					zap.Error(err),
				)
				return
			}
			connected.Add(1)
			d.logger.Info("connected to seed", zap.String("peer", seed.ID.String()))
		}(seed)
	}
	wg.Wait()
	return int(connected.Load())
}

func (d *Discovery) reconnectLoop(ctx context.Context) {
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.connectToSeeds(ctx); n < len(d.seeds) {
				d.logger.Debug("seeds unreachable",
					zap.Int("connected", n),
					zap.Int("seeds", len(d.seeds)),
				)
			}
		}
	}
}
