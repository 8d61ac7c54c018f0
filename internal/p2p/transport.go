package p2p

import (
	"context"
	"errors"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/echenim/Bedrock/tendermint/internal/consensus"
	"github.com/echenim/Bedrock/tendermint/internal/crypto"
	"github.com/echenim/Bedrock/tendermint/internal/types"
)

const rateLimiterCleanupInterval = time.Minute

// MessageHandler consumes authenticated consensus messages. On success it
// returns the bytes to relay.
type MessageHandler interface {
	HandleMessage(ctx context.Context, sender types.Address, signature, raw []byte) ([]byte, error)
}

var _ MessageHandler = (*consensus.Engine)(nil)

// Transport bridges the consensus topic and a MessageHandler. Every packet,
// local or remote, passes through the topic validator: it is decoded, its
// sender recovered and handed to the handler, and only packets the handler
// accepts are delivered and forwarded to the mesh.
type Transport struct {
	host    *Host
	handler MessageHandler
	signers *crypto.SignerCache
	metrics *Metrics
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTransport creates a transport feeding handler from host's gossip.
func NewTransport(host *Host, handler MessageHandler, logger *zap.Logger) (*Transport, error) {
	if logger == nil {
		logger = host.logger
	}
	signers, err := crypto.NewSignerCache(crypto.DefaultSignerCacheSize)
	if err != nil {
		return nil, err
	}
	return &Transport{
		host:    host,
		handler: handler,
		signers: signers,
		metrics: host.metrics,
		logger:  logger,
	}, nil
}

// Start registers the packet validator and begins draining the consensus
// subscription.
func (t *Transport) Start(ctx context.Context) error {
	gossip := t.host.gossip
	if err := gossip.RegisterValidator(TopicConsensus, t.validate); err != nil {
		return err
	}
	sub, err := gossip.Subscribe(TopicConsensus)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.readLoop(ctx, sub)
	}()
	go func() {
		defer t.wg.Done()
		t.cleanupLoop(ctx)
	}()

	return nil
}

// Stop shuts down the transport loops.
func (t *Transport) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	_ = t.host.gossip.UnregisterValidator(TopicConsensus)
}

// Broadcast publishes a signed packet. The local handler sees it first; an
// error means the handler rejected it and nothing was sent.
func (t *Transport) Broadcast(ctx context.Context, p *Packet) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}
	if err := t.host.gossip.Publish(ctx, TopicConsensus, data); err != nil {
		return err
	}
	if kind, err := p.Kind(); err == nil {
		t.metrics.MessagesSent.WithLabelValues(kind.String()).Inc()
	}
	return nil
}

func (t *Transport) validate(ctx context.Context, from peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	local := from == t.host.ID()

	p, err := DecodePacket(msg.Data)
	if err != nil {
		t.reject("invalid_packet", from, err)
		return pubsub.ValidationReject
	}
	kind, err := p.Kind()
	if err != nil {
		t.reject("invalid_message", from, err)
		return pubsub.ValidationReject
	}
	if !local && !t.host.rateLimiter.Allow(from, kind) {
		t.metrics.MessagesRejected.WithLabelValues("rate_limited").Inc()
		return pubsub.ValidationIgnore
	}
	sender, err := p.Sender(t.signers)
	if err != nil {
		t.reject("invalid_signature", from, err)
		return pubsub.ValidationReject
	}

	relay, err := t.handler.HandleMessage(ctx, sender, p.Seal, p.Message)
	if err != nil {
		if isFaulty(err) {
			t.reject("handler", from, err)
			return pubsub.ValidationReject
		}
		t.logger.Debug("packet ignored",
			zap.String("peer", from.String()),
			zap.String("sender", sender.Hex()),
			zap.Stringer("kind", kind),
			zap.Error(err),
		)
		return pubsub.ValidationIgnore
	}
	if len(relay) == 0 {
		return pubsub.ValidationIgnore
	}
	return pubsub.ValidationAccept
}

// isFaulty reports whether err proves the packet itself is bad, as opposed
// to merely stale or out of step.
func isFaulty(err error) bool {
	return errors.Is(err, consensus.ErrIneligibleSender) ||
		errors.Is(err, consensus.ErrInvalidSignature) ||
		errors.Is(err, consensus.ErrInvalidMessage) ||
		errors.Is(err, consensus.ErrUnknownStep)
}

func (t *Transport) reject(reason string, from peer.ID, err error) {
	t.metrics.MessagesRejected.WithLabelValues(reason).Inc()
	t.logger.Debug("packet rejected",
		zap.String("peer", from.String()),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func (t *Transport) readLoop(ctx context.Context, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("gossip subscription error", zap.Error(err))
			return
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}
		label := "unknown"
		if p, err := DecodePacket(msg.Data); err == nil {
			if kind, err := p.Kind(); err == nil {
				label = kind.String()
			}
		}
		t.metrics.MessagesReceived.WithLabelValues(label).Inc()
	}
}

func (t *Transport) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(rateLimiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.host.rateLimiter.Cleanup(5 * rateLimiterCleanupInterval)
		}
	}
}
