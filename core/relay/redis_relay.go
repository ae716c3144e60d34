package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"AtmoMix/config"
	"AtmoMix/core/events"
	"AtmoMix/logger"

	"github.com/redis/go-redis/v9"
)

const defaultBuffer = 256

// Publisher redis.Client 的发布能力
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Subscriber events.Hub 的订阅能力
type Subscriber interface {
	Subscribe(fn events.Listener, kinds ...events.Kind) func()
}

// RedisRelay 把本进程的通知转发到 Redis 频道，供其他进程订阅
//
// 发布在独立的 goroutine 中进行，通知发布方不会被网络阻塞；队列满时丢弃。
type RedisRelay struct {
	client  Publisher
	channel string
	queue   chan events.Event
	dropped atomic.Int64
	sent    atomic.Int64
}

// Connect 按配置创建 Redis 客户端并检查连通性
func Connect(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisRelay buffer<=0 时使用默认队列长度
func NewRedisRelay(client Publisher, channel string, buffer int) *RedisRelay {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		queue:   make(chan events.Event, buffer),
	}
}

// Attach 订阅全部通知，返回取消订阅函数
func (r *RedisRelay) Attach(hub Subscriber) func() {
	return hub.Subscribe(r.enqueue)
}

func (r *RedisRelay) enqueue(ev events.Event) {
	select {
	case r.queue <- ev:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			logger.Warn("通知转发队列已满，丢弃通知",
				logger.String("channel", r.channel),
				logger.Int64("dropped", n))
		}
	}
}

// Run 持续发布直到 ctx 结束
func (r *RedisRelay) Run(ctx context.Context) {
	logger.Info("通知转发已启动", logger.String("channel", r.channel))
	for {
		select {
		case <-ctx.Done():
			logger.Info("通知转发已停止",
				logger.Int64("sent", r.sent.Load()),
				logger.Int64("dropped", r.dropped.Load()))
			return
		case ev := <-r.queue:
			r.publish(ctx, ev)
		}
	}
}

func (r *RedisRelay) publish(ctx context.Context, ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("序列化通知失败", logger.String("type", string(ev.Kind)), logger.ErrorField(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.client.Publish(pubCtx, r.channel, data).Err(); err != nil {
		logger.Warn("转发通知失败",
			logger.String("channel", r.channel),
			logger.String("type", string(ev.Kind)),
			logger.ErrorField(err))
		return
	}
	r.sent.Add(1)
}

// Stats 已发送和已丢弃的数量
func (r *RedisRelay) Stats() (sent, dropped int64) {
	return r.sent.Load(), r.dropped.Load()
}
