package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/VasulenkoIllia/rozetka-keycrm/internal/queue"
)

// Publisher 队列终态事件的 Redis 广播端
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher 创建 Publisher 并验证连接
func NewPublisher(addr, password string, db int, channel string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if channel == "" {
		channel = "webhook_job_complete"
	}
	return &Publisher{
		client:  client,
		channel: channel,
	}, nil
}

// Publish 发布一条 Job 终态通知
func (p *Publisher) Publish(ctx context.Context, n queue.Notification) error {
	msgJSON, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, msgJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Subscribe 订阅事件频道（用于测试）
func (p *Publisher) Subscribe(ctx context.Context) *redis.PubSub {
	return p.client.Subscribe(ctx, p.channel)
}

// Close 关闭 Redis 连接
func (p *Publisher) Close() error {
	return p.client.Close()
}
