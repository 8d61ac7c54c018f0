package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/echenim/Bedrock/tendermint/internal/consensus"
	"github.com/echenim/Bedrock/tendermint/internal/storage"
)

// Server provides admin/debug endpoints.
// These are intended for operators, not exposed publicly.
type Server struct {
	httpServer *fasthttp.Server
	addr       string
	consensus  *consensus.Engine
	store      storage.SealStore
	logger     *zap.Logger
	lis        net.Listener
}

// NewServer creates an admin debug server. engine and store may be nil.
func NewServer(
	addr string,
	engine *consensus.Engine,
	store storage.SealStore,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		addr:      addr,
		consensus: engine,
		store:     store,
		logger:    logger.Named("admin"),
	}

	s.httpServer = &fasthttp.Server{
		Name:         "tendermint-admin",
		Handler:      s.route,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	return s
}

// Start begins serving admin endpoints.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin: listen on %s: %w", s.addr, err)
	}
	s.Serve(lis)
	return nil
}

// Serve serves admin endpoints on lis in the background.
func (s *Server) Serve(lis net.Listener) {
	s.lis = lis
	s.logger.Info("admin server starting", zap.String("addr", lis.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(lis); err != nil {
			s.logger.Error("admin server error", zap.Error(err))
		}
	}()
}

// Stop shuts down the admin server.
func (s *Server) Stop() error {
	return s.httpServer.Shutdown()
}

// Name returns the service name.
func (s *Server) Name() string {
	return "admin"
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() {
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}

	switch string(ctx.Path()) {
	case "/admin/consensus":
		s.handleConsensusState(ctx)
	case "/admin/validators":
		s.handleValidators(ctx)
	case "/admin/commits/latest":
		s.handleLatestCommit(ctx)
	case "/health":
		writeJSON(ctx, map[string]any{"status": "ok"})
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func (s *Server) handleConsensusState(ctx *fasthttp.RequestCtx) {
	result := map[string]any{
		"available": s.consensus != nil,
	}

	if s.consensus != nil {
		st, err := s.consensus.Status(ctx)
		if err != nil {
			ctx.Error(err.Error(), fasthttp.StatusServiceUnavailable)
			return
		}
		result["round"] = st.Round
		result["step"] = st.Step.String()
		result["proposer_nonce"] = st.ProposerNonce
		result["proposer"] = st.Proposer.Hex()
		result["block_hash"] = st.BlockHash.Hex()
		result["votes"] = st.Votes
		result["seal_size"] = st.SealSize
		result["threshold"] = st.Threshold
	}

	writeJSON(ctx, result)
}

func (s *Server) handleValidators(ctx *fasthttp.RequestCtx) {
	if s.consensus == nil {
		ctx.Error("consensus engine not available", fasthttp.StatusServiceUnavailable)
		return
	}

	vals := s.consensus.Validators()
	addrs := make([]string, vals.Size())
	for i := range addrs {
		addrs[i] = vals.At(i).Hex()
	}

	writeJSON(ctx, map[string]any{
		"validators":  addrs,
		"threshold":   vals.Threshold(),
		"quorum_size": vals.QuorumSize(),
		"proposer":    s.consensus.Proposer().Hex(),
	})
}

func (s *Server) handleLatestCommit(ctx *fasthttp.RequestCtx) {
	if s.store == nil {
		ctx.Error("store not available", fasthttp.StatusServiceUnavailable)
		return
	}

	rec, err := s.store.LatestCommit()
	if errors.Is(err, storage.ErrNotFound) {
		ctx.Error("no commits", fasthttp.StatusNotFound)
		return
	}
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}

	seal := make([]string, len(rec.Seal))
	for i, entry := range rec.Seal {
		seal[i] = fmt.Sprintf("0x%x", entry)
	}
	writeJSON(ctx, map[string]any{
		"round":      rec.Round,
		"block_hash": rec.BlockHash.Hex(),
		"seal":       seal,
		"time":       rec.Time,
	})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		ctx.Error("encoding error", fasthttp.StatusInternalServerError)
	}
}
