package telephony

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultCommandStream = "telephony:commands"

// RedisDispatcher publishes validated commands onto a Redis stream consumed
// by the signaling gateway. The gateway executes them against the provider
// and feeds resulting events back into the session log.
type RedisDispatcher struct {
	client *redis.Client
	stream string
}

func NewRedisDispatcher(client *redis.Client, stream string) (*RedisDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("telephony: redis client is required")
	}
	if stream == "" {
		stream = defaultCommandStream
	}
	return &RedisDispatcher{client: client, stream: stream}, nil
}

func (d *RedisDispatcher) ForwardCall(ctx context.Context, cmd ForwardCallCommand) error {
	return d.publish(ctx, "forward_call", cmd)
}

func (d *RedisDispatcher) HangupChannel(ctx context.Context, cmd HangupChannelCommand) error {
	return d.publish(ctx, "hangup_channel", cmd)
}

func (d *RedisDispatcher) SwitchChannel(ctx context.Context, cmd SwitchChannelCommand) error {
	return d.publish(ctx, "switch_channel", cmd)
}

func (d *RedisDispatcher) StartOutboundCall(ctx context.Context, cmd StartOutboundCallCommand) error {
	return d.publish(ctx, "start_outbound_call", cmd)
}

func (d *RedisDispatcher) publish(ctx context.Context, kind string, cmd any) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	err = d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		Values: map[string]any{"kind": kind, "payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish %s command: %w", kind, err)
	}
	return nil
}
