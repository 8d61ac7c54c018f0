package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/echenim/Bedrock/tendermint/internal/config"
	"github.com/echenim/Bedrock/tendermint/internal/consensus"
	"github.com/echenim/Bedrock/tendermint/internal/crypto"
	"github.com/echenim/Bedrock/tendermint/internal/p2p"
	"github.com/echenim/Bedrock/tendermint/internal/storage"
	"github.com/echenim/Bedrock/tendermint/internal/types"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "memory"
	cfg.RPC.GRPCAddr = "127.0.0.1:0"
	cfg.P2P.ListenAddr = "/ip4/127.0.0.1/tcp/0"
	cfg.Consensus.TimeoutPropose = config.Duration{Duration: 200 * time.Millisecond}
	cfg.Consensus.TimeoutPrevote = config.Duration{Duration: 200 * time.Millisecond}
	cfg.Consensus.TimeoutPrecommit = config.Duration{Duration: 200 * time.Millisecond}
	cfg.Consensus.TimeoutCommit = config.Duration{Duration: 200 * time.Millisecond}
	cfg.Telemetry.Enabled = false
	return cfg
}

func testKey(t *testing.T) crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func testGenesis(keys ...crypto.PrivateKey) *config.GenesisDoc {
	gen := &config.GenesisDoc{
		ChainID:     1,
		GenesisTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, k := range keys {
		gen.Validators = append(gen.Validators, config.GenesisValidator{
			Address: crypto.AddressOf(k).Hex(),
			Name:    "v",
		})
	}
	return gen
}

func waitForCommit(t *testing.T, store storage.SealStore) *storage.CommitRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.LatestCommit()
		if err == nil {
			return rec
		}
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("latest commit: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a stored commit")
	return nil
}

// --- ServiceManager tests ---

func TestServiceManagerStartStop(t *testing.T) {
	sm := NewServiceManager(nil)

	svc1 := &mockService{name: "svc1"}
	svc2 := &mockService{name: "svc2"}

	sm.Add(svc1)
	sm.Add(svc2)

	ctx := context.Background()
	if err := sm.StartAll(ctx); err != nil {
		t.Fatalf("start all: %v", err)
	}

	if !svc1.started || !svc2.started {
		t.Fatal("expected both services started")
	}

	if err := sm.StopAll(); err != nil {
		t.Fatalf("stop all: %v", err)
	}

	if !svc1.stopped || !svc2.stopped {
		t.Fatal("expected both services stopped")
	}
}

func TestServiceManagerRollback(t *testing.T) {
	sm := NewServiceManager(nil)

	svc1 := &mockService{name: "svc1"}
	svc2 := &mockService{name: "svc2", failStart: true}

	sm.Add(svc1)
	sm.Add(svc2)

	err := sm.StartAll(context.Background())
	if err == nil {
		t.Fatal("expected error when svc2 fails to start")
	}

	// svc1 should have been rolled back (stopped).
	if !svc1.stopped {
		t.Fatal("expected svc1 to be stopped during rollback")
	}
	if svc2.stopped {
		t.Fatal("svc2 never started and must not be stopped")
	}
}

func TestServiceManagerStopReverseOrder(t *testing.T) {
	sm := NewServiceManager(nil)

	order := make([]string, 0)
	svc1 := &mockService{name: "svc1", onStop: func() { order = append(order, "svc1") }}
	svc2 := &mockService{name: "svc2", onStop: func() { order = append(order, "svc2") }}
	svc3 := &mockService{name: "svc3", onStop: func() { order = append(order, "svc3") }}

	sm.Add(svc1)
	sm.Add(svc2)
	sm.Add(svc3)

	sm.StartAll(context.Background())
	sm.StopAll()

	if len(order) != 3 {
		t.Fatalf("expected 3 stops, got %d", len(order))
	}
	// Reverse order: svc3, svc2, svc1.
	if order[0] != "svc3" || order[1] != "svc2" || order[2] != "svc1" {
		t.Errorf("expected stop order [svc3, svc2, svc1], got %v", order)
	}
}

func TestServiceManagerStopAllWithoutStart(t *testing.T) {
	sm := NewServiceManager(nil)
	svc := &mockService{name: "idle"}
	sm.Add(svc)

	if err := sm.StopAll(); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if svc.stopped {
		t.Fatal("service that never started must not be stopped")
	}
}

func TestServiceManagerServices(t *testing.T) {
	sm := NewServiceManager(nil)
	sm.Add(&mockService{name: "a"})
	sm.Add(&mockService{name: "b"})

	if len(sm.Services()) != 2 {
		t.Errorf("expected 2 services, got %d", len(sm.Services()))
	}
}

// --- Node lifecycle tests ---

func TestNodeCreateAndStop(t *testing.T) {
	key := testKey(t)

	n, err := NewNode(testConfig(), testGenesis(key), key, nil, nil)
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	if n.Store() == nil {
		t.Fatal("expected non-nil store")
	}
	if n.Engine() == nil {
		t.Fatal("expected non-nil engine")
	}
	if n.validator == nil {
		t.Fatal("expected a local validator for a signing node")
	}

	// Stop without start should not panic.
	if err := n.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestNewNodeRejectsChainMismatch(t *testing.T) {
	key := testKey(t)
	gen := testGenesis(key)
	gen.ChainID = 99

	if _, err := NewNode(testConfig(), gen, key, nil, nil); err == nil {
		t.Fatal("expected error for mismatched chain id")
	}
}

func TestNewNodeRejectsInvalidConfig(t *testing.T) {
	key := testKey(t)
	cfg := testConfig()
	cfg.Moniker = ""

	if _, err := NewNode(cfg, testGenesis(key), key, nil, nil); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestNewNodeGenesisOverridesSealArity(t *testing.T) {
	keys := []crypto.PrivateKey{testKey(t), testKey(t), testKey(t), testKey(t)}
	gen := testGenesis(keys...)
	gen.ConsensusParams.SealArity = 4

	n, err := NewNode(testConfig(), gen, keys[0], nil, nil)
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	defer n.Stop()

	if got := n.Engine().SealFields(); got != 4 {
		t.Fatalf("expected seal arity 4 from genesis, got %d", got)
	}
}

func TestNodeStartStop(t *testing.T) {
	key := testKey(t)

	n, err := NewNode(testConfig(), testGenesis(key), key, nil, nil)
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := n.Start(ctx); err != nil {
		t.Fatalf("start node: %v", err)
	}

	// Verify RPC is listening.
	if addr := n.RPCServer().GRPCAddr(); addr == "" || addr == "127.0.0.1:0" {
		t.Fatalf("expected bound gRPC address, got %q", addr)
	}
	if len(n.Host().Addrs()) == 0 {
		t.Fatal("expected p2p listen addresses")
	}

	if err := n.Stop(); err != nil {
		t.Fatalf("stop node: %v", err)
	}
	if err := n.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestNodeObserverHasNoValidator(t *testing.T) {
	key := testKey(t)

	n, err := NewNode(testConfig(), testGenesis(key), nil, nil, nil)
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	if n.validator != nil {
		t.Fatal("observer node must not sign")
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := n.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestSingleValidatorNodeCommits(t *testing.T) {
	key := testKey(t)
	cfg := testConfig()

	n, err := NewNode(cfg, testGenesis(key), key, NewDevBlockSource(cfg.ChainID), nil)
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer n.Stop()

	rec := waitForCommit(t, n.Store())

	want, _ := NewDevBlockSource(cfg.ChainID).NextBlock(context.Background(), rec.Round)
	if rec.BlockHash != want {
		t.Fatalf("committed %s, want dev block %s", rec.BlockHash, want)
	}
	if len(rec.Seal) != 1 {
		t.Fatalf("expected a single seal entry, got %d", len(rec.Seal))
	}
	if rec.Time == 0 {
		t.Fatal("expected commit time to be recorded")
	}
}

// --- DevBlockSource ---

func TestDevBlockSourceDeterministic(t *testing.T) {
	ctx := context.Background()
	a, ok := NewDevBlockSource(1).NextBlock(ctx, 7)
	if !ok {
		t.Fatal("dev source should always have a block")
	}
	b, _ := NewDevBlockSource(1).NextBlock(ctx, 7)
	c, _ := NewDevBlockSource(1).NextBlock(ctx, 8)
	d, _ := NewDevBlockSource(2).NextBlock(ctx, 7)

	if a != b {
		t.Fatal("same chain and round must give the same hash")
	}
	if a == c || a == d {
		t.Fatal("different round or chain must give a different hash")
	}
}

// --- CommitRecorder ---

func TestCommitRecorderStoresCommits(t *testing.T) {
	key := testKey(t)
	engine, err := consensus.NewEngine(consensus.EngineConfig{
		Validators:           []types.Address{crypto.AddressOf(key)},
		Timeouts:             consensus.DefaultTimeoutConfig(),
		GasLimitBoundDivisor: 1024,
		ChainID:              1,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	store := storage.NewMemoryStore()
	rec := NewCommitRecorder(engine, store, nil, nil)
	rec.now = func() time.Time { return time.Unix(1700000000, 0) }
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rec.Stop()

	hash := crypto.Keccak256([]byte("block"))
	seal := types.Seal{[]byte{0x01}}
	if err := engine.ToCommit(context.Background(), hash, seal); err != nil {
		t.Fatalf("to commit: %v", err)
	}

	got := waitForCommit(t, store)
	if got.BlockHash != hash || got.Time != 1700000000 {
		t.Fatalf("unexpected record %+v", got)
	}
	if len(got.Seal) != 1 || got.Seal[0][0] != 0x01 {
		t.Fatalf("seal not preserved: %v", got.Seal)
	}
}

// --- Validator ---

// loopback delivers packets straight into an engine, as the gossip
// validator would.
type loopback struct {
	engine *consensus.Engine
}

func (l *loopback) Broadcast(ctx context.Context, p *p2p.Packet) error {
	sender, err := p.Sender(nil)
	if err != nil {
		return err
	}
	_, err = l.engine.HandleMessage(ctx, sender, p.Seal, p.Message)
	return err
}

func TestValidatorDrivesSingleNodeToCommit(t *testing.T) {
	key := testKey(t)
	engine, err := consensus.NewEngine(consensus.EngineConfig{
		Validators:           []types.Address{crypto.AddressOf(key)},
		Timeouts:             consensus.DefaultTimeoutConfig(),
		GasLimitBoundDivisor: 1024,
		ChainID:              1,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	commits := engine.SubscribeCommits()
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	defer engine.Stop()

	v := NewValidator(key, engine, NewDevBlockSource(1), &loopback{engine: engine}, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("start validator: %v", err)
	}
	defer v.Stop()

	select {
	case ev := <-commits:
		if len(ev.Seal) != 1 {
			t.Fatalf("expected one seal entry, got %d", len(ev.Seal))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for commit")
	}
}

// recordingBroadcaster keeps the kinds of the packets it is handed.
type recordingBroadcaster struct {
	mu    sync.Mutex
	kinds []consensus.MessageKind
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, p *p2p.Packet) error {
	kind, err := p.Kind()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.kinds = append(r.kinds, kind)
	r.mu.Unlock()
	return nil
}

func (r *recordingBroadcaster) sent() []consensus.MessageKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]consensus.MessageKind(nil), r.kinds...)
}

func TestValidatorSkipsProposeHandledAtStart(t *testing.T) {
	key := testKey(t)
	out := &recordingBroadcaster{}
	v := NewValidator(key, nil, NewDevBlockSource(1), out, nil)

	handled := consensus.StepEvent{
		Round:         0,
		Step:          consensus.RoundStepPropose,
		Proposer:      v.Address(),
		ProposerNonce: 1,
	}
	reentry := handled
	reentry.ProposerNonce = 2

	// The step seen through Status is queued too, followed by a real
	// re-entry into propose.
	steps := make(chan consensus.StepEvent, 2)
	steps <- handled
	steps <- reentry

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		v.run(ctx, steps, &handled)
	}()

	deadline := time.After(5 * time.Second)
	for len(out.sent()) == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("timed out waiting for the re-entry proposal")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	sent := out.sent()
	if len(sent) != 1 || sent[0] != consensus.KindPropose {
		t.Fatalf("expected exactly one proposal, got %v", sent)
	}
}

func TestValidatorOutsideSetStaysIdle(t *testing.T) {
	member, outsider := testKey(t), testKey(t)
	engine, err := consensus.NewEngine(consensus.EngineConfig{
		Validators:           []types.Address{crypto.AddressOf(member)},
		Timeouts:             consensus.DefaultTimeoutConfig(),
		GasLimitBoundDivisor: 1024,
		ChainID:              1,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	v := NewValidator(outsider, engine, NewDevBlockSource(1), &loopback{engine: engine}, nil)
	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("start validator: %v", err)
	}
	if err := v.Stop(); err != nil {
		t.Fatalf("stop validator: %v", err)
	}

	st, err := engine.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Step != consensus.RoundStepPropose {
		t.Fatalf("outsider must not move the engine, step is %s", st.Step)
	}
}

// --- Mock service ---

type mockService struct {
	name      string
	started   bool
	stopped   bool
	failStart bool
	onStop    func()
}

func (m *mockService) Start(ctx context.Context) error {
	if m.failStart {
		return context.DeadlineExceeded
	}
	m.started = true
	return nil
}

func (m *mockService) Stop() error {
	m.stopped = true
	if m.onStop != nil {
		m.onStop()
	}
	return nil
}

func (m *mockService) Name() string {
	return m.name
}
