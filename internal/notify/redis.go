// Package notify publishes committed stock changes for UIs that want live
// prices instead of polling.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"marketsim/internal/market"
	"marketsim/internal/metrics"
)

const DefaultChannel = "marketsim:stocks"

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type RedisNotifier struct {
	client  publisher
	closer  func() error
	channel string
	timeout time.Duration
	log     *slog.Logger
}

// Message is the JSON payload published for every stock change.
type Message struct {
	Stock     market.Stock `json:"stock"`
	Published time.Time    `json:"published_at"`
}

func NewRedisNotifier(ctx context.Context, redisURL string, logger *slog.Logger) (*RedisNotifier, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	n := newNotifier(client, logger)
	n.closer = client.Close
	return n, nil
}

func newNotifier(client publisher, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{
		client:  client,
		channel: DefaultChannel,
		timeout: 2 * time.Second,
		log:     logger,
	}
}

// StockChanged publishes s. Failures are logged and counted; the committed
// change stands regardless.
func (n *RedisNotifier) StockChanged(ctx context.Context, s market.Stock) {
	payload, err := json.Marshal(Message{Stock: s, Published: time.Now().UTC()})
	if err != nil {
		metrics.RecordNotification(false)
		n.log.Warn("encode stock notification failed", "stock_id", s.ID, "err", err)
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.client.Publish(pubCtx, n.channel, payload).Err(); err != nil {
		metrics.RecordNotification(false)
		n.log.Warn("publish stock notification failed", "stock_id", s.ID, "channel", n.channel, "err", err)
		return
	}
	metrics.RecordNotification(true)
}

func (n *RedisNotifier) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer()
}
