package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

import (
	"github.com/redis/go-redis/v9"
)

import (
	"github.com/nanjiek/pixiu-yes/internal/config"
)

const channelTmpl = "%s:%s"

// RedisRepo carries pattern updates between replicas over redis pub/sub.
// Nothing is stored in redis.
type RedisRepo struct {
	Prefix         string
	UpdateChannel  string
	Cli            redis.UniversalClient
	logger         *slog.Logger
	defaultTimeout time.Duration
}

// NewRedis with functional options for flexibility
func NewRedis(cfg config.RedisCfg, logger *slog.Logger, opts ...Option) (*RedisRepo, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &RedisRepo{
		Prefix:         cfg.Prefix,
		UpdateChannel:  cfg.UpdatesChannel,
		logger:         logger,
		defaultTimeout: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.Cli == nil {
		if len(normalizeAddrs(cfg)) == 0 {
			return nil, errors.New("no redis addresses configured")
		}
		r.Cli = redis.NewUniversalClient(buildUniversalOptions(cfg))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Cli.Ping(ctx).Err(); err != nil {
		logger.Error("redis ping failed", "error", err)
		_ = r.Cli.Close()
		return nil, fmt.Errorf("redis connect failed: %w", err)
	}
	return r, nil
}

// Option pattern for custom configurations
type Option func(*RedisRepo)

func WithDefaultTimeout(d time.Duration) Option {
	return func(r *RedisRepo) { r.defaultTimeout = d }
}

// WithClient uses an existing client instead of dialing.
func WithClient(c redis.UniversalClient) Option {
	return func(r *RedisRepo) { r.Cli = c }
}

func (r *RedisRepo) withTimeout(ctx context.Context, opTimeout time.Duration) (context.Context, context.CancelFunc) {
	if opTimeout == 0 {
		opTimeout = r.defaultTimeout
	}
	return context.WithTimeout(ctx, opTimeout)
}

// Channel is the fully qualified pub/sub channel name.
func (r *RedisRepo) Channel() string {
	return fmt.Sprintf(channelTmpl, r.Prefix, r.UpdateChannel)
}

// Publish sends payload on the update channel.
func (r *RedisRepo) Publish(parentCtx context.Context, payload []byte) error {
	ctx, cancel := r.withTimeout(parentCtx, 0)
	defer cancel()
	if err := r.Cli.Publish(ctx, r.Channel(), payload).Err(); err != nil {
		return fmt.Errorf("publish pattern update failed: %w", err)
	}
	return nil
}

// Subscribe streams payloads from the update channel until ctx is done.
// The returned channel is closed when the subscription ends.
func (r *RedisRepo) Subscribe(ctx context.Context) (<-chan []byte, error) {
	sub := r.Cli.Subscribe(ctx, r.Channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s failed: %w", r.Channel(), err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RedisRepo) Close() error {
	return r.Cli.Close()
}

// Helper functions
func normalizeAddrs(cfg config.RedisCfg) []string {
	if len(cfg.Addrs) > 0 {
		return cfg.Addrs
	}
	if cfg.Addr == "" {
		return nil
	}
	parts := strings.Split(cfg.Addr, ",")
	var out []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func buildUniversalOptions(cfg config.RedisCfg) *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:           normalizeAddrs(cfg),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        atLeast(cfg.PoolSize, 10),
		MinIdleConns:    atLeast(cfg.MinIdleConns, 1),
		DialTimeout:     durationOrDefault(cfg.DialTimeoutMs, 800),
		ReadTimeout:     durationOrDefault(cfg.ReadTimeoutMs, 800),
		WriteTimeout:    durationOrDefault(cfg.WriteTimeoutMs, 800),
		MaxRetries:      atLeast(cfg.MaxRetries, 2),
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSec) * time.Second,
	}
}

func atLeast(val, def int) int {
	if val > def {
		return val
	}
	return def
}

func durationOrDefault(ms int, defMs int) time.Duration {
	if ms <= 0 {
		ms = defMs
	}
	return time.Duration(ms) * time.Millisecond
}
