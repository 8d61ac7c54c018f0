package node

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/echenim/Bedrock/tendermint/internal/admin"
	"github.com/echenim/Bedrock/tendermint/internal/config"
	"github.com/echenim/Bedrock/tendermint/internal/consensus"
	"github.com/echenim/Bedrock/tendermint/internal/crypto"
	"github.com/echenim/Bedrock/tendermint/internal/p2p"
	"github.com/echenim/Bedrock/tendermint/internal/rpc"
	"github.com/echenim/Bedrock/tendermint/internal/storage"
	"github.com/echenim/Bedrock/tendermint/internal/telemetry"
)

// Node is the top-level node that owns and manages all subsystems.
type Node struct {
	cfg     *config.Config
	genesis *config.GenesisDoc
	privKey crypto.PrivateKey

	// Subsystems.
	store       storage.SealStore
	engine      *consensus.Engine
	host        *p2p.Host
	transport   *p2p.Transport
	validator   *Validator
	recorder    *CommitRecorder
	rpcServer   *rpc.Server
	adminServer *admin.Server
	metrics     *telemetry.Metrics
	metricsSrv  *telemetry.MetricsServer

	svcMgr   *ServiceManager
	logger   *zap.Logger
	stopOnce sync.Once
	done     chan struct{}
}

// NewNode creates and wires all subsystems without starting them. privKey
// may be nil for a non-signing observer. source may be nil for a validator
// that votes but never proposes.
func NewNode(
	cfg *config.Config,
	genesis *config.GenesisDoc,
	privKey crypto.PrivateKey,
	source BlockSource,
	logger *zap.Logger,
) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	if genesis.ChainID != cfg.ChainID {
		return nil, fmt.Errorf("node: genesis chain_id %d does not match config chain_id %d", genesis.ChainID, cfg.ChainID)
	}
	validators, err := genesis.ValidatorAddresses()
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	// 1. Metrics.
	metrics := telemetry.NopMetrics()
	var metricsSrv *telemetry.MetricsServer
	if cfg.Telemetry.Enabled {
		metrics = telemetry.NewMetrics("tendermint")
		metricsSrv = telemetry.NewMetricsServer(cfg.Telemetry.Addr, metrics, logger.Named("metrics"))
	}

	// 2. Consensus engine. Genesis parameters override the local config.
	ecfg := consensus.DefaultEngineConfig()
	ecfg.Validators = validators
	ecfg.Timeouts = consensus.TimeoutConfig{
		Propose:   cfg.Consensus.TimeoutPropose.Duration,
		Prevote:   cfg.Consensus.TimeoutPrevote.Duration,
		Precommit: cfg.Consensus.TimeoutPrecommit.Duration,
		Commit:    cfg.Consensus.TimeoutCommit.Duration,
	}
	ecfg.GasLimitBoundDivisor = cfg.Consensus.GasLimitBoundDivisor
	if d := genesis.ConsensusParams.GasLimitBoundDivisor; d != 0 {
		ecfg.GasLimitBoundDivisor = d
	}
	ecfg.SealArity = cfg.Consensus.SealArity
	if a := genesis.ConsensusParams.SealArity; a != 0 {
		ecfg.SealArity = a
	}
	ecfg.ChainID = cfg.ChainID
	ecfg.SignerCacheSize = cfg.Consensus.SignerCacheSize
	ecfg.Metrics = metrics
	ecfg.Logger = logger

	engine, err := consensus.NewEngine(ecfg)
	if err != nil {
		return nil, fmt.Errorf("node: create consensus engine: %w", err)
	}

	// 3. Storage.
	store, err := storage.Open(cfg.Storage.Backend, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}

	// 4. P2P.
	host, err := p2p.NewHost(context.Background(), p2p.HostConfig{
		PrivateKey: privKey,
		ListenAddr: cfg.P2P.ListenAddr,
		MaxPeers:   cfg.P2P.MaxPeers,
		Seeds:      cfg.P2P.Seeds,
		Logger:     logger.Named("p2p"),
		Metrics:    p2p.NewMetrics(metrics.Registry()),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("node: create p2p host: %w", err)
	}
	transport, err := p2p.NewTransport(host, engine, logger.Named("transport"))
	if err != nil {
		host.Stop()
		store.Close()
		return nil, fmt.Errorf("node: create transport: %w", err)
	}

	nodeID := host.ID().String()
	logger = logger.With(zap.String("node_id", nodeID))

	// 5. Local signing.
	var validator *Validator
	if privKey != nil && cfg.Validator.Enabled {
		validator = NewValidator(privKey, engine, source, transport, logger)
	}
	recorder := NewCommitRecorder(engine, store, metrics, logger)

	// 6. RPC server.
	rpcServer := rpc.NewServer(cfg.RPC, logger.Named("rpc"))
	rpcServer.RegisterNodeService(rpc.NewNodeService(rpc.NodeServiceConfig{
		Engine:  engine,
		Store:   store,
		NodeID:  nodeID,
		Moniker: cfg.Moniker,
		ChainID: cfg.ChainID,
		Logger:  logger.Named("rpc"),
	}))

	// 7. Admin server.
	var adminSrv *admin.Server
	if cfg.Admin.Enabled {
		adminSrv = admin.NewServer(cfg.Admin.Addr, engine, store, logger)
	}

	n := &Node{
		cfg:         cfg,
		genesis:     genesis,
		privKey:     privKey,
		store:       store,
		engine:      engine,
		host:        host,
		transport:   transport,
		validator:   validator,
		recorder:    recorder,
		rpcServer:   rpcServer,
		adminServer: adminSrv,
		metrics:     metrics,
		metricsSrv:  metricsSrv,
		svcMgr:      NewServiceManager(logger),
		logger:      logger,
		done:        make(chan struct{}),
	}
	n.registerServices()
	return n, nil
}

// registerServices adds subsystems in dependency order. StopAll runs them
// in reverse.
func (n *Node) registerServices() {
	n.svcMgr.Add(&serviceFunc{name: "p2p", start: n.host.Start, stop: n.host.Stop})
	n.svcMgr.Add(&serviceFunc{
		name:  "transport",
		start: n.transport.Start,
		stop: func() error {
			n.transport.Stop()
			return nil
		},
	})
	n.svcMgr.Add(n.engine)
	n.svcMgr.Add(n.recorder)
	if n.validator != nil {
		n.svcMgr.Add(n.validator)
	}
	n.svcMgr.Add(n.rpcServer)
	if n.adminServer != nil {
		n.svcMgr.Add(n.adminServer)
	}
	if n.metricsSrv != nil {
		srv := n.metricsSrv
		n.svcMgr.Add(&serviceFunc{
			name: "metrics",
			start: func(context.Context) error {
				go func() {
					if err := srv.Start(); err != nil {
						n.logger.Error("metrics server failed", zap.Error(err))
					}
				}()
				return nil
			},
			stop: srv.Stop,
		})
	}
}

// Start boots all subsystems in dependency order.
func (n *Node) Start(ctx context.Context) error {
	n.logger.Info("node starting",
		zap.String("moniker", n.cfg.Moniker),
		zap.Uint64("chain_id", n.cfg.ChainID),
		zap.Int("validators", n.engine.Validators().Size()),
		zap.Bool("signing", n.validator != nil),
	)

	if err := n.svcMgr.StartAll(ctx); err != nil {
		_ = n.Stop()
		return fmt.Errorf("node: %w", err)
	}

	n.logger.Info("node started",
		zap.String("grpc_addr", n.rpcServer.GRPCAddr()),
		zap.Any("p2p_addrs", n.host.Addrs()),
	)
	return nil
}

// Stop gracefully shuts down all subsystems in reverse order.
func (n *Node) Stop() error {
	var err error
	n.stopOnce.Do(func() {
		n.logger.Info("node stopping")
		err = n.svcMgr.StopAll()
		// The host listens from construction; release it even if Start
		// never ran. Host.Stop is idempotent.
		if hostErr := n.host.Stop(); hostErr != nil && err == nil {
			err = fmt.Errorf("node: stop p2p host: %w", hostErr)
		}
		if closeErr := n.store.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("node: close store: %w", closeErr)
		}
		n.logger.Info("node stopped")
		close(n.done)
	})
	return err
}

// Wait blocks until the node is stopped.
func (n *Node) Wait() error {
	<-n.done
	return nil
}

// Store returns the node's seal store (for testing).
func (n *Node) Store() storage.SealStore {
	return n.store
}

// Engine returns the consensus engine (for testing).
func (n *Node) Engine() *consensus.Engine {
	return n.engine
}

// Host returns the P2P host (for testing).
func (n *Node) Host() *p2p.Host {
	return n.host
}

// RPCServer returns the RPC server (for testing).
func (n *Node) RPCServer() *rpc.Server {
	return n.rpcServer
}
