package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/collabtext/replica/internal/rga"
	"github.com/collabtext/replica/internal/rgaerr"
)

// RedisBroadcaster implements Broadcaster over Redis Pub/Sub, one channel
// per document — the same primitive the teacher's main.go uses
// (rdb.Subscribe/rdb.Publish on docID), generalized to carry structured
// Operation records instead of raw client bytes.
type RedisBroadcaster struct {
	client     *redis.Client
	topicFmt   string
	maxElapsed time.Duration
	logger     zerolog.Logger
}

// NewRedisBroadcaster wraps an already-connected redis client. topicFmt
// is an fmt-style template with one %s for the document ID
// (e.g. "doc:%s:ops"), letting deployments namespace channels per
// environment via BROADCAST_TOPIC_PREFIX.
func NewRedisBroadcaster(client *redis.Client, topicFmt string, logger zerolog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, topicFmt: topicFmt, maxElapsed: 3 * time.Second, logger: logger}
}

func (b *RedisBroadcaster) channel(documentID string) string {
	return fmt.Sprintf(b.topicFmt, documentID)
}

// Publish is fire-and-forget with transport-level retry; Redis Pub/Sub
// offers no delivery guarantee, so callers must not depend on Publish
// succeeding for correctness — only for timeliness.
func (b *RedisBroadcaster) Publish(ctx context.Context, documentID string, op rga.Operation) error {
	payload, err := encodeOperation(op)
	if err != nil {
		return fmt.Errorf("encode operation for broadcast: %w", err)
	}
	err = withBackoff(ctx, b.maxElapsed, func() error {
		return b.client.Publish(ctx, b.channel(documentID), payload).Err()
	})
	if err != nil {
		return fmt.Errorf("publish %s/%s: %w: %v", documentID, op.S4, rgaerr.ErrBroadcastFailure, err)
	}
	return nil
}

// Subscribe starts a goroutine relaying every message on the document's
// channel to handler until ctx is cancelled or the returned unsubscribe
// func is called. Malformed payloads are logged and skipped rather than
// tearing down the subscription — one bad message from a misbehaving peer
// must not stop the replica from hearing anyone else.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, documentID string, handler func(rga.Operation)) (func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel(documentID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w: %v", documentID, rgaerr.ErrBroadcastFailure, err)
	}

	done := make(chan struct{})
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				op, err := decodeOperation([]byte(msg.Payload))
				if err != nil {
					b.logger.Warn().Err(err).Str("document_id", documentID).Msg("dropping malformed broadcast payload")
					continue
				}
				handler(op)
			}
		}
	}()

	unsubscribe := func() {
		close(done)
		_ = pubsub.Close()
	}
	return unsubscribe, nil
}
