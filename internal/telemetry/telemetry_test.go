package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersAll(t *testing.T) {
	m := NewMetrics("test")
	if m.registry == nil {
		t.Fatal("expected non-nil registry")
	}
	if m.ConsensusRound == nil {
		t.Error("ConsensusRound is nil")
	}
	if m.VotesCounted == nil {
		t.Error("VotesCounted is nil")
	}
	if m.SealsVerified == nil {
		t.Error("SealsVerified is nil")
	}
	if m.CommitsStored == nil {
		t.Error("CommitsStored is nil")
	}
}

func TestNopMetrics(t *testing.T) {
	m := NopMetrics()

	// NopMetrics should not panic when used.
	m.ConsensusRound.Set(10)
	m.VotesCounted.WithLabelValues("prevote").Inc()
	m.MessagesRejected.WithLabelValues("wrong_round").Inc()
	m.SealSize.Observe(3)
}

func TestVoteCounterByKind(t *testing.T) {
	m := NewMetrics("test")
	m.VotesCounted.WithLabelValues("prevote").Inc()
	m.VotesCounted.WithLabelValues("prevote").Inc()
	m.VotesCounted.WithLabelValues("precommit").Inc()

	if got := testutil.ToFloat64(m.VotesCounted.WithLabelValues("prevote")); got != 2 {
		t.Fatalf("prevote votes: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.VotesCounted.WithLabelValues("precommit")); got != 1 {
		t.Fatalf("precommit votes: got %v, want 1", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := NewMetrics("test")
	m.ConsensusRound.Set(42)
	m.BlocksCommitted.Inc()

	handler := promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "test_consensus_round 42") {
		t.Fatal("expected round gauge in metrics output")
	}
	if !strings.Contains(w.Body.String(), "test_consensus_blocks_committed_total 1") {
		t.Fatal("expected commit counter in metrics output")
	}
}

func TestNewLoggerDevelopment(t *testing.T) {
	logger, err := NewLogger("development", "")
	if err != nil {
		t.Fatalf("NewLogger(development): %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLoggerProductionWithLevel(t *testing.T) {
	logger, err := NewLogger("production", "warn")
	if err != nil {
		t.Fatalf("NewLogger(production): %v", err)
	}
	if logger.Core().Enabled(-1) {
		t.Fatal("debug should be disabled at warn level")
	}
}

func TestNewLoggerRejectsUnknownMode(t *testing.T) {
	if _, err := NewLogger("verbose", ""); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger("production", "loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
