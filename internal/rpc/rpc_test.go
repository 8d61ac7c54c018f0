package rpc

import (
	"context"
	"encoding/hex"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/echenim/Bedrock/tendermint/internal/config"
	"github.com/echenim/Bedrock/tendermint/internal/consensus"
	"github.com/echenim/Bedrock/tendermint/internal/crypto"
	"github.com/echenim/Bedrock/tendermint/internal/storage"
	"github.com/echenim/Bedrock/tendermint/internal/types"
)

// --- Test helpers ---

type testFixture struct {
	keys   []crypto.PrivateKey
	engine *consensus.Engine
	store  *storage.MemoryStore
	client *NodeServiceClient
}

func newFixture(t *testing.T, timeouts consensus.TimeoutConfig) *testFixture {
	t.Helper()

	keys := make([]crypto.PrivateKey, 4)
	addrs := make([]types.Address, 4)
	for i := range keys {
		k, err := crypto.GenerateKey()
		if err != nil {
			t.Fatal(err)
		}
		keys[i] = k
		addrs[i] = crypto.AddressOf(k)
	}

	cfg := consensus.DefaultEngineConfig()
	cfg.Validators = addrs
	cfg.Timeouts = timeouts
	engine, err := consensus.NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	store := storage.NewMemoryStore()

	server := NewServer(config.RPCConfig{GRPCAddr: "bufconn"}, nil)
	server.RegisterNodeService(NewNodeService(NodeServiceConfig{
		Engine:  engine,
		Store:   store,
		NodeID:  "test-node-id",
		Moniker: "test-moniker",
		ChainID: 1,
	}))

	lis := bufconn.Listen(1 << 20)
	server.Serve(lis)
	t.Cleanup(func() { server.Stop() })

	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &testFixture{keys: keys, engine: engine, store: store, client: NewNodeServiceClient(conn)}
}

func slowTimeouts() consensus.TimeoutConfig {
	return consensus.TimeoutConfig{Propose: time.Minute, Prevote: time.Minute, Precommit: time.Minute, Commit: time.Minute}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func sealedHeader(t *testing.T, number uint64, signers ...crypto.PrivateKey) *types.Header {
	t.Helper()
	h := &types.Header{
		ParentHash: types.Hash{0x01},
		Number:     number,
		Difficulty: big.NewInt(1),
		GasLimit:   1_024_000,
		Time:       1_700_000_000,
	}
	for _, key := range signers {
		sig, err := crypto.Sign(key, h.BareHash())
		if err != nil {
			t.Fatal(err)
		}
		entry, err := rlp.EncodeToBytes(sig)
		if err != nil {
			t.Fatal(err)
		}
		h.Seal = append(h.Seal, entry)
	}
	return h
}

func headerHex(t *testing.T, h *types.Header) string {
	t.Helper()
	data, err := h.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return "0x" + hex.EncodeToString(data)
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if got := status.Code(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
}

// --- GetStatus ---

func TestGetStatus(t *testing.T) {
	f := newFixture(t, slowTimeouts())

	resp, err := f.client.GetStatus(testCtx(t))
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	fields := resp.GetFields()

	if fields["moniker"].GetStringValue() != "test-moniker" {
		t.Errorf("moniker = %q", fields["moniker"].GetStringValue())
	}
	if fields["step"].GetStringValue() != "propose" {
		t.Errorf("step = %q, want propose", fields["step"].GetStringValue())
	}
	if fields["round"].GetNumberValue() != 0 {
		t.Errorf("round = %v, want 0", fields["round"].GetNumberValue())
	}
	if fields["validators"].GetNumberValue() != 4 || fields["threshold"].GetNumberValue() != 2 {
		t.Errorf("validators/threshold = %v/%v", fields["validators"].GetNumberValue(), fields["threshold"].GetNumberValue())
	}
	if want := crypto.AddressOf(f.keys[1]).Hex(); fields["proposer"].GetStringValue() != want {
		t.Errorf("proposer = %s, want %s", fields["proposer"].GetStringValue(), want)
	}
	if _, ok := fields["latest_commit"]; ok {
		t.Error("latest_commit should be absent with an empty store")
	}
}

func TestGetStatusReportsLatestCommit(t *testing.T) {
	f := newFixture(t, slowTimeouts())
	hash := types.Hash{0xab}
	if err := f.store.SaveCommit(&storage.CommitRecord{BlockHash: hash}); err != nil {
		t.Fatal(err)
	}

	resp, err := f.client.GetStatus(testCtx(t))
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got := resp.GetFields()["latest_commit"].GetStringValue(); got != hash.Hex() {
		t.Fatalf("latest_commit = %s, want %s", got, hash.Hex())
	}
}

// --- GetCommit ---

func TestGetCommitNotFound(t *testing.T) {
	f := newFixture(t, slowTimeouts())
	_, err := f.client.GetCommit(testCtx(t), nil)
	requireCode(t, err, codes.NotFound)
}

func TestGetCommitByHashAndLatest(t *testing.T) {
	f := newFixture(t, slowTimeouts())
	rec := &storage.CommitRecord{
		Round:     3,
		BlockHash: types.Hash{0x42},
		Seal:      types.Seal{{0x01, 0x02}},
		Time:      99,
	}
	if err := f.store.SaveCommit(rec); err != nil {
		t.Fatal(err)
	}

	for _, hash := range [][]byte{rec.BlockHash.Bytes(), nil} {
		resp, err := f.client.GetCommit(testCtx(t), hash)
		if err != nil {
			t.Fatalf("GetCommit(%x): %v", hash, err)
		}
		fields := resp.GetFields()
		if fields["block_hash"].GetStringValue() != rec.BlockHash.Hex() {
			t.Fatalf("block_hash = %s", fields["block_hash"].GetStringValue())
		}
		if fields["round"].GetNumberValue() != 3 {
			t.Fatalf("round = %v", fields["round"].GetNumberValue())
		}
		seal := fields["seal"].GetListValue().GetValues()
		if len(seal) != 1 || seal[0].GetStringValue() != "0x0102" {
			t.Fatalf("seal = %v", seal)
		}
	}
}

func TestGetCommitRejectsBadHash(t *testing.T) {
	f := newFixture(t, slowTimeouts())
	_, err := f.client.GetCommit(testCtx(t), []byte{0x01, 0x02})
	requireCode(t, err, codes.InvalidArgument)
}

// --- VerifyHeader ---

func TestVerifyHeaderValidSeal(t *testing.T) {
	f := newFixture(t, slowTimeouts())
	header := sealedHeader(t, 2, f.keys[0], f.keys[1], f.keys[2])
	parent := sealedHeader(t, 1)

	req, err := structpb.NewStruct(map[string]interface{}{
		"header": headerHex(t, header),
		"parent": headerHex(t, parent),
	})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.client.VerifyHeader(testCtx(t), req)
	if err != nil {
		t.Fatalf("VerifyHeader: %v", err)
	}
	fields := resp.GetFields()
	for _, stage := range []string{"basic", "unordered", "family"} {
		if got := fields[stage].GetStringValue(); got != "ok" {
			t.Errorf("%s = %q, want ok", stage, got)
		}
	}
	if !fields["valid"].GetBoolValue() {
		t.Fatal("expected valid header")
	}
	if fields["bare_hash"].GetStringValue() != header.BareHash().Hex() {
		t.Fatal("bare hash mismatch")
	}
}

func TestVerifyHeaderInsufficientSeal(t *testing.T) {
	f := newFixture(t, slowTimeouts())
	header := sealedHeader(t, 2, f.keys[0], f.keys[1])

	req, _ := structpb.NewStruct(map[string]interface{}{"header": headerHex(t, header)})
	resp, err := f.client.VerifyHeader(testCtx(t), req)
	if err != nil {
		t.Fatalf("VerifyHeader: %v", err)
	}
	fields := resp.GetFields()
	if fields["valid"].GetBoolValue() {
		t.Fatal("two of four signatures must not be valid")
	}
	if fields["basic"].GetStringValue() == "ok" || fields["unordered"].GetStringValue() == "ok" {
		t.Fatalf("expected basic and unordered failures, got %v", fields)
	}
	if _, ok := fields["family"]; ok {
		t.Fatal("family must be skipped without a parent")
	}
}

func TestVerifyHeaderRejectsBadInput(t *testing.T) {
	f := newFixture(t, slowTimeouts())

	empty, _ := structpb.NewStruct(nil)
	_, err := f.client.VerifyHeader(testCtx(t), empty)
	requireCode(t, err, codes.InvalidArgument)

	badHex, _ := structpb.NewStruct(map[string]interface{}{"header": "0xzz"})
	_, err = f.client.VerifyHeader(testCtx(t), badHex)
	requireCode(t, err, codes.InvalidArgument)

	badRLP, _ := structpb.NewStruct(map[string]interface{}{"header": "0xdeadbeef"})
	_, err = f.client.VerifyHeader(testCtx(t), badRLP)
	requireCode(t, err, codes.InvalidArgument)
}

// --- SubscribeSteps ---

func TestSubscribeStepsStreamsTransitions(t *testing.T) {
	fast := consensus.TimeoutConfig{
		Propose:   20 * time.Millisecond,
		Prevote:   20 * time.Millisecond,
		Precommit: 20 * time.Millisecond,
		Commit:    20 * time.Millisecond,
	}
	f := newFixture(t, fast)

	ctx := testCtx(t)
	if err := f.engine.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.engine.Stop() })

	stream, err := f.client.SubscribeSteps(ctx)
	if err != nil {
		t.Fatalf("SubscribeSteps: %v", err)
	}

	// Propose timeouts keep advancing the round, so events keep coming.
	ev, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	fields := ev.GetFields()
	if fields["step"].GetStringValue() != "propose" {
		t.Fatalf("step = %q, want propose", fields["step"].GetStringValue())
	}
	if fields["round"].GetNumberValue() < 1 {
		t.Fatalf("round = %v, want a timed-out round", fields["round"].GetNumberValue())
	}
}

func TestServerName(t *testing.T) {
	s := NewServer(config.RPCConfig{GRPCAddr: "127.0.0.1:0"}, nil)
	if s.Name() != "rpc" {
		t.Fatalf("Name = %q", s.Name())
	}
	if s.GRPCAddr() != "127.0.0.1:0" {
		t.Fatalf("GRPCAddr before start = %q", s.GRPCAddr())
	}
}
