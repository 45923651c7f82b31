package repository

import (
	"context"
	"encoding/json"

	"trackus_chat/internal/chat/domain"

	"github.com/go-redis/redis/v8"
)

// RedisPubSub definition redis pub/sub push dispatcher
type RedisPubSub struct {
	client  *redis.Client
	channel string
}

// NewRedisPubSub create RedisPubSub publishing push requests to channel
func NewRedisPubSub(client *redis.Client, channel string) *RedisPubSub {
	return &RedisPubSub{
		client:  client,
		channel: channel,
	}
}

// Publish 將 message 序列化後，發布到指定 channel
func (r *RedisPubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Dispatch publish the push request for the push worker
func (r *RedisPubSub) Dispatch(ctx context.Context, req domain.PushRequest) error {
	return r.Publish(ctx, r.channel, req)
}
