package rpc

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/echenim/Bedrock/tendermint/internal/consensus"
	"github.com/echenim/Bedrock/tendermint/internal/storage"
	"github.com/echenim/Bedrock/tendermint/internal/types"
)

var _ NodeServiceServer = (*NodeServiceImpl)(nil)

// NodeServiceImpl implements NodeServiceServer.
type NodeServiceImpl struct {
	engine  *consensus.Engine
	store   storage.SealStore
	nodeID  string
	moniker string
	chainID uint64
	logger  *zap.Logger
}

// NodeServiceConfig holds configuration for the NodeService.
type NodeServiceConfig struct {
	Engine  *consensus.Engine
	Store   storage.SealStore
	NodeID  string
	Moniker string
	ChainID uint64
	Logger  *zap.Logger
}

// NewNodeService creates the gRPC node service implementation.
func NewNodeService(cfg NodeServiceConfig) *NodeServiceImpl {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &NodeServiceImpl{
		engine:  cfg.Engine,
		store:   cfg.Store,
		nodeID:  cfg.NodeID,
		moniker: cfg.Moniker,
		chainID: cfg.ChainID,
		logger:  cfg.Logger,
	}
}

// GetStatus returns current node and engine status.
func (s *NodeServiceImpl) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.engine == nil {
		return nil, status.Error(codes.Unavailable, "consensus engine not available")
	}
	st, err := s.engine.Status(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "engine status: %v", err)
	}

	fields := map[string]interface{}{
		"node_id":        s.nodeID,
		"moniker":        s.moniker,
		"chain_id":       s.chainID,
		"engine":         s.engine.Name(),
		"version":        s.engine.Version(),
		"round":          st.Round,
		"step":           st.Step.String(),
		"proposer_nonce": st.ProposerNonce,
		"proposer":       st.Proposer.Hex(),
		"block_hash":     st.BlockHash.Hex(),
		"votes":          st.Votes,
		"seal_size":      st.SealSize,
		"threshold":      st.Threshold,
		"validators":     st.Validators,
		"seal_fields":    s.engine.SealFields(),
	}
	if s.store != nil {
		if rec, err := s.store.LatestCommit(); err == nil {
			fields["latest_commit"] = rec.BlockHash.Hex()
		}
	}
	return structpb.NewStruct(fields)
}

// GetCommit returns a stored commit record.
func (s *NodeServiceImpl) GetCommit(_ context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unavailable, "store not available")
	}

	var (
		rec *storage.CommitRecord
		err error
	)
	if len(req.GetValue()) == 0 {
		rec, err = s.store.LatestCommit()
	} else {
		hash, herr := types.HashFromBytes(req.GetValue())
		if herr != nil {
			return nil, status.Error(codes.InvalidArgument, herr.Error())
		}
		rec, err = s.store.GetCommit(hash)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, status.Error(codes.NotFound, "commit not found")
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "read commit: %v", err)
	}
	return structpb.NewStruct(commitFields(rec))
}

func commitFields(rec *storage.CommitRecord) map[string]interface{} {
	seal := make([]interface{}, len(rec.Seal))
	for i, entry := range rec.Seal {
		seal[i] = "0x" + hex.EncodeToString(entry)
	}
	return map[string]interface{}{
		"round":      rec.Round,
		"block_hash": rec.BlockHash.Hex(),
		"seal":       seal,
		"time":       rec.Time,
	}
}

// VerifyHeader decodes the hex RLP "header" (and optional "parent") fields
// and reports the result of each verification stage.
func (s *NodeServiceImpl) VerifyHeader(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.engine == nil {
		return nil, status.Error(codes.Unavailable, "consensus engine not available")
	}
	header, err := headerField(req, "header")
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, status.Error(codes.InvalidArgument, "header is required")
	}
	parent, err := headerField(req, "parent")
	if err != nil {
		return nil, err
	}

	basic := s.engine.VerifyBlockBasic(header)
	unordered := s.engine.VerifyBlockUnordered(header)
	valid := basic == nil && unordered == nil

	fields := map[string]interface{}{
		"bare_hash": header.BareHash().Hex(),
		"basic":     result(basic),
		"unordered": result(unordered),
	}
	if parent != nil {
		family := s.engine.VerifyBlockFamily(header, parent)
		fields["family"] = result(family)
		valid = valid && family == nil
	}
	fields["valid"] = valid
	return structpb.NewStruct(fields)
}

func headerField(req *structpb.Struct, name string) (*types.Header, error) {
	v, ok := req.GetFields()[name]
	if !ok || v.GetStringValue() == "" {
		return nil, nil
	}
	data, err := hex.DecodeString(strings.TrimPrefix(v.GetStringValue(), "0x"))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s: invalid hex: %v", name, err)
	}
	h, err := types.DecodeHeader(data)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	return h, nil
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

// SubscribeSteps streams step events until the client goes away.
func (s *NodeServiceImpl) SubscribeSteps(_ *emptypb.Empty, stream NodeService_SubscribeStepsServer) error {
	if s.engine == nil {
		return status.Error(codes.Unavailable, "consensus engine not available")
	}

	sub := s.engine.SubscribeSteps()
	defer s.engine.UnsubscribeSteps(sub)

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case ev := <-sub:
			msg, err := structpb.NewStruct(map[string]interface{}{
				"round":      ev.Round,
				"step":       ev.Step.String(),
				"proposer":   ev.Proposer.Hex(),
				"block_hash": ev.BlockHash.Hex(),
			})
			if err != nil {
				return status.Errorf(codes.Internal, "encode step: %v", err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}
