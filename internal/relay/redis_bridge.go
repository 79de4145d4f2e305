package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"idealab/internal/protocol"
)

const bridgeChannelPrefix = "idealab:room:"

// bridgeMessage is what one relay instance publishes for the others.
// Instance lets a subscriber ignore its own publications.
type bridgeMessage struct {
	Instance string          `json:"instance"`
	Raw      json.RawMessage `json:"raw"`
}

// RedisBridge replicates forwarded events across relay instances over Redis
// pub/sub, so clients of different instances still share one room.
type RedisBridge struct {
	client   *redis.Client
	pubsub   *redis.PubSub
	instance string
	hub      *Hub
}

// NewRedisBridge connects to Redis and starts listening for events published
// by other instances. Attach the returned bridge to the hub via NewHub.
func NewRedisBridge(redisURL string) (*RedisBridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisBridge{
		client:   client,
		instance: uuid.NewString(),
	}, nil
}

// Start subscribes to all room channels and feeds foreign messages into the
// hub. Must be called once, after the hub exists.
func (b *RedisBridge) Start(hub *Hub) {
	b.hub = hub
	b.pubsub = b.client.PSubscribe(context.Background(), bridgeChannelPrefix+"*")
	go b.listen()
}

func (b *RedisBridge) listen() {
	for msg := range b.pubsub.Channel() {
		var bridged bridgeMessage
		if err := json.Unmarshal([]byte(msg.Payload), &bridged); err != nil {
			log.Printf("relay bridge: dropping malformed message: %v", err)
			continue
		}
		if bridged.Instance == b.instance {
			continue
		}
		room := strings.TrimPrefix(msg.Channel, bridgeChannelPrefix)
		env, err := protocol.Decode(bridged.Raw)
		if err != nil {
			log.Printf("relay bridge: dropping undecodable envelope: %v", err)
			continue
		}
		b.hub.ForwardFromBridge(room, env.Origin, bridged.Raw)
	}
}

// Publish is fire-and-forget, matching the rest of the relay's delivery
// guarantees.
func (b *RedisBridge) Publish(room string, raw []byte) {
	payload, err := json.Marshal(bridgeMessage{Instance: b.instance, Raw: raw})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, bridgeChannelPrefix+room, payload).Err(); err != nil {
		log.Printf("relay bridge: publish to %s failed: %v", room, err)
	}
}

func (b *RedisBridge) Close() error {
	if b.pubsub != nil {
		_ = b.pubsub.Close()
	}
	return b.client.Close()
}
