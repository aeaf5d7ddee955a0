package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"strings"
	"time"
)

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

import (
	"github.com/nanjiek/pixiu-yes/internal/api"
	"github.com/nanjiek/pixiu-yes/internal/config"
	"github.com/nanjiek/pixiu-yes/internal/device"
	"github.com/nanjiek/pixiu-yes/internal/metrics"
	"github.com/nanjiek/pixiu-yes/internal/pattern"
	"github.com/nanjiek/pixiu-yes/internal/replica"
	"github.com/nanjiek/pixiu-yes/internal/repo"
	"github.com/nanjiek/pixiu-yes/internal/runctx"
	"github.com/nanjiek/pixiu-yes/internal/source"
	"github.com/nanjiek/pixiu-yes/internal/throttle"
)

func main() {
	// 解析命令行参数
	confPath := flag.String("c", "", "path to config file (defaults when empty)")
	flag.Parse()

	// 加载配置
	cfg := config.Default()
	if *confPath != "" {
		var err error
		if cfg, err = config.Load(*confPath); err != nil {
			fatal("failed to load config", err)
		}
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	store := pattern.NewStore(cfg.Device.MaxBuf,
		pattern.WithAllocator(pattern.LimitAllocator(cfg.Device.AllocLimit())))
	dev := device.New(store, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg, dev.Sizes)

	limiter, err := throttle.NewSentinel("pixiu-yes", cfg.Throttle.LogDir, cfg.Throttle.WriteQPS, logger, throttle.ResourcePatternWrite)
	if err != nil {
		fatal("failed to init write throttle", err)
	}

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithLimiter(limiter),
		api.WithMetrics(m, reg),
		api.WithMaxPatternBytes(cfg.Device.MaxPatternBytes),
	}

	// 可选：多副本之间广播模式更新
	var rep *replica.Replicator
	if cfg.Redis.Enabled() {
		rdb, err := repo.NewRedis(cfg.Redis, logger)
		if err != nil {
			fatal("failed to connect redis", err)
		}
		defer rdb.Close()
		rep = replica.New(rdb, dev, logger)
		opts = append(opts, api.WithAnnouncer(rep))
	}

	srv := api.NewServer(cfg.Server, dev, opts...)

	// Init installs "y\n" and binds the listener.
	if err := dev.Init(srv); err != nil {
		fatal("failed to init yes device", err)
	}
	defer dev.Shutdown()

	var g runctx.Group
	g.Add(srv.Serve)
	if rep != nil {
		g.Add(rep.Start)
	}
	if cfg.Watch.Enabled() {
		w := source.NewFileWatcher(cfg.Watch.PatternFile, dev, source.WatcherConfig{
			Debounce: time.Duration(cfg.Watch.DebounceMs) * time.Millisecond,
			OnApply: func(ctx context.Context, _ []byte) {
				if rep == nil {
					return
				}
				if err := rep.Announce(ctx); err != nil {
					logger.Warn("failed to announce pattern", "error", err)
				}
			},
		})
		g.Add(w.Start)
	}

	logger.Info("yes device is running", "addr", srv.Addr().String(), "pid", os.Getpid(), "maxBuf", store.MaxBuf())
	if err := g.Run(context.Background()); err != nil {
		logger.Error("server failed", "error", err)
		return
	}
	logger.Info("server exited properly")
}

func newLogger(cfg config.LogCfg) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
