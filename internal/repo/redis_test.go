package repo

import (
	"context"
	"testing"
	"time"
)

import (
	"github.com/alicebob/miniredis/v2"
)

import (
	"github.com/nanjiek/pixiu-yes/internal/config"
)

func newMiniRepo(t *testing.T) (*RedisRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(config.RedisCfg{
		Addr:           mr.Addr(),
		Prefix:         "pixiu:yes",
		UpdatesChannel: "pattern_updates",
	}, nil, WithDefaultTimeout(time.Second))
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestNormalizeAddrs(t *testing.T) {
	cfg := config.RedisCfg{Addr: "127.0.0.1:6379, 127.0.0.2:6379"}
	addrs := normalizeAddrs(cfg)
	if len(addrs) != 2 {
		t.Fatalf("expected 2 addrs, got %d", len(addrs))
	}
	if addrs[0] != "127.0.0.1:6379" || addrs[1] != "127.0.0.2:6379" {
		t.Fatalf("unexpected addrs: %#v", addrs)
	}
}

func TestNormalizeAddrsPrefersList(t *testing.T) {
	cfg := config.RedisCfg{Addr: "a:1", Addrs: []string{"b:1", "c:1"}}
	if addrs := normalizeAddrs(cfg); len(addrs) != 2 || addrs[0] != "b:1" {
		t.Fatalf("unexpected addrs: %#v", addrs)
	}
}

func TestChannel(t *testing.T) {
	r := &RedisRepo{Prefix: "pixiu:yes", UpdateChannel: "pattern_updates"}
	if got := r.Channel(); got != "pixiu:yes:pattern_updates" {
		t.Fatalf("Channel = %s", got)
	}
}

func TestBuildUniversalOptions(t *testing.T) {
	opts := buildUniversalOptions(config.RedisCfg{Addr: "127.0.0.1:6379", DB: 3, ReadTimeoutMs: 50})
	if opts.DB != 3 || len(opts.Addrs) != 1 {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.ReadTimeout != 50*time.Millisecond || opts.DialTimeout != 800*time.Millisecond {
		t.Fatalf("timeouts = %v/%v", opts.ReadTimeout, opts.DialTimeout)
	}
	if opts.PoolSize != 10 || opts.MaxRetries != 2 {
		t.Fatalf("pool/retries = %d/%d", opts.PoolSize, opts.MaxRetries)
	}
}

func TestNewRedisRequiresAddress(t *testing.T) {
	if _, err := NewRedis(config.RedisCfg{}, nil); err == nil {
		t.Fatalf("expected error without addresses")
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	r, _ := newMiniRepo(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, err := r.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := r.Publish(context.Background(), []byte(`{"origin":"a"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-out:
		if string(got) != `{"origin":"a"}` {
			t.Fatalf("payload = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received on %s", r.Channel())
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("subscription channel not closed after cancel")
		}
	}
}

func TestPublishFailsWhenServerGone(t *testing.T) {
	r, mr := newMiniRepo(t)
	mr.Close()
	if err := r.Publish(context.Background(), []byte("x")); err == nil {
		t.Fatalf("expected publish error after server shutdown")
	}
}
