package p2p

import (
	"context"
	"fmt"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/host"
	"go.uber.org/zap"

	"github.com/echenim/Bedrock/tendermint/internal/crypto"
)

// TopicConsensus carries signed consensus packets.
const TopicConsensus = "/tendermint/consensus/v1"

// GossipManager manages GossipSub topics and subscriptions.
type GossipManager struct {
	ps     *pubsub.PubSub
	host   host.Host
	logger *zap.Logger

	mu     sync.RWMutex
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription
}

// NewGossipManager creates a GossipSub instance with flood publishing.
// Packets are authenticated by their consensus signature, so pubsub-level
// signing is disabled and message IDs are derived from content.
func NewGossipManager(ctx context.Context, h host.Host, logger *zap.Logger) (*GossipManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []pubsub.Option{
		pubsub.WithFloodPublish(true),
		pubsub.WithMessageSignaturePolicy(pubsub.StrictNoSign),
		pubsub.WithMessageIdFn(packetID),
	}

	ps, err := pubsub.NewGossipSub(ctx, h, opts...)
	if err != nil {
		return nil, fmt.Errorf("p2p: create gossipsub: %w", err)
	}

	return &GossipManager{
		ps:     ps,
		host:   h,
		logger: logger,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
	}, nil
}

func packetID(m *pb.Message) string {
	id := crypto.Keccak256(m.GetData())
	return string(id[:])
}

// JoinTopic joins a GossipSub topic and stores the handle.
func (gm *GossipManager) JoinTopic(topicName string) (*pubsub.Topic, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if t, ok := gm.topics[topicName]; ok {
		return t, nil
	}

	topic, err := gm.ps.Join(topicName)
	if err != nil {
		return nil, fmt.Errorf("p2p: join topic %s: %w", topicName, err)
	}

	gm.topics[topicName] = topic
	return topic, nil
}

// Subscribe subscribes to a joined topic and returns the subscription.
func (gm *GossipManager) Subscribe(topicName string) (*pubsub.Subscription, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if sub, ok := gm.subs[topicName]; ok {
		return sub, nil
	}

	topic, ok := gm.topics[topicName]
	if !ok {
		return nil, fmt.Errorf("p2p: topic %s not joined", topicName)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("p2p: subscribe to %s: %w", topicName, err)
	}

	gm.subs[topicName] = sub
	return sub, nil
}

// Publish publishes data to the named topic. Locally published messages run
// through the topic validator like remote ones.
func (gm *GossipManager) Publish(ctx context.Context, topicName string, data []byte) error {
	gm.mu.RLock()
	topic, ok := gm.topics[topicName]
	gm.mu.RUnlock()

	if !ok {
		return fmt.Errorf("p2p: topic %s not joined", topicName)
	}

	return topic.Publish(ctx, data)
}

// RegisterValidator installs val as the validator for topicName. Only
// accepted messages are delivered and forwarded to the mesh.
func (gm *GossipManager) RegisterValidator(topicName string, val pubsub.ValidatorEx) error {
	if err := gm.ps.RegisterTopicValidator(topicName, val); err != nil {
		return fmt.Errorf("p2p: register validator for %s: %w", topicName, err)
	}
	return nil
}

// UnregisterValidator removes the validator for topicName.
func (gm *GossipManager) UnregisterValidator(topicName string) error {
	return gm.ps.UnregisterTopicValidator(topicName)
}

// ListPeers returns the peers subscribed to topicName.
func (gm *GossipManager) ListPeers(topicName string) int {
	return len(gm.ps.ListPeers(topicName))
}

// Close closes all subscriptions and topics.
func (gm *GossipManager) Close() {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	for name, sub := range gm.subs {
		sub.Cancel()
		delete(gm.subs, name)
	}
	for name, topic := range gm.topics {
		topic.Close()
		delete(gm.topics, name)
	}
}
