package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/chatflow"
	"github.com/aretw0/chatflow/internal/config"
	"github.com/aretw0/chatflow/pkg/adapters/file"
	httpAdapter "github.com/aretw0/chatflow/pkg/adapters/http"
	"github.com/aretw0/chatflow/pkg/adapters/memory"
	"github.com/aretw0/chatflow/pkg/adapters/postgres"
	redisAdapter "github.com/aretw0/chatflow/pkg/adapters/redis"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/observability"
	"github.com/aretw0/chatflow/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// Engine decorates the chatflow engine with message metrics.
type Engine struct {
	*chatflow.Engine
	metrics *observability.Metrics
}

// HandleMessage records the outcome and latency of every message.
func (e *Engine) HandleMessage(ctx context.Context, ev domain.InboundEvent) (*chatflow.Result, error) {
	start := time.Now()
	res, err := e.Engine.HandleMessage(ctx, ev)
	var matched, fallback bool
	if res != nil {
		matched, fallback = res.Matched, res.Fallback
	}
	e.metrics.ObserveMessage(time.Since(start), matched, fallback, err)
	return res, err
}

// Runtime is an engine built from configuration, with the resources it owns.
type Runtime struct {
	Engine   *Engine
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	closers  []func(context.Context) error
	logger   *slog.Logger
}

// NewRuntime builds the stores, metrics and tracing described by cfg, creates
// the engine and restores the active flow. extra options are applied last.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...chatflow.Option) (_ *Runtime, err error) {
	rt := &Runtime{
		Registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.Metrics = observability.NewMetrics(rt.Registry)

	opts := []chatflow.Option{
		chatflow.WithLogger(logger),
		chatflow.WithLifecycleHooks(rt.Metrics.Hooks()),
		chatflow.WithLifecycleHooks(createDebugHooks(logger)),
		chatflow.WithMaxHops(cfg.Engine.MaxHops),
		chatflow.WithHistoryLimit(cfg.Engine.HistoryLimit),
		chatflow.WithNoticeText(cfg.Engine.NoticeText),
	}

	flowStore, err := rt.newFlowStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, chatflow.WithFlowStore(flowStore))

	sessionOpts, err := rt.newSessionOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, sessionOpts...)

	if cfg.Fallback.URL != "" {
		opts = append(opts, chatflow.WithResponder(httpAdapter.NewResponder(cfg.Fallback.URL, cfg.Fallback.Timeout)))
	}

	if cfg.Tracing.Enabled {
		tracer, shutdown, err := observability.NewTracer(ctx, cfg.Tracing.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
		rt.closers = append(rt.closers, shutdown)
		opts = append(opts, chatflow.WithTracer(tracer))
	}

	opts = append(opts, extra...)
	rt.Engine = &Engine{Engine: chatflow.New(opts...), metrics: rt.Metrics}
	if err := rt.Engine.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load active flow: %w", err)
	}
	return rt, nil
}

func (rt *Runtime) newFlowStore(ctx context.Context, cfg *config.Config) (ports.FlowStore, error) {
	switch cfg.Flows.Backend {
	case config.BackendMemory:
		return memory.NewFlowStore(), nil
	case config.BackendFile:
		return file.NewFlowStore(cfg.Flows.Dir), nil
	case config.BackendPostgres:
		store, err := postgres.New(ctx, cfg.Flows.DatabaseURL, postgres.WithLogger(rt.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres flow store: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { return store.Close() })
		return store, nil
	default:
		return nil, fmt.Errorf("unknown flow backend %q", cfg.Flows.Backend)
	}
}

// newSessionOptions selects the session store. The redis backend also shares
// its client for the per-chat lock and the fallback cooldown.
func (rt *Runtime) newSessionOptions(ctx context.Context, cfg *config.Config) ([]chatflow.Option, error) {
	window := cfg.Engine.CooldownWindow
	switch cfg.Sessions.Backend {
	case config.BackendMemory:
		return []chatflow.Option{
			chatflow.WithSessionStore(memory.NewStore()),
			chatflow.WithCooldown(memory.NewCooldownStore(), window),
		}, nil
	case config.BackendFile:
		return []chatflow.Option{
			chatflow.WithSessionStore(file.New(cfg.Sessions.Dir)),
			chatflow.WithCooldown(memory.NewCooldownStore(), window),
		}, nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func(context.Context) error { return client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		prefix := cfg.Redis.Prefix
		return []chatflow.Option{
			chatflow.WithSessionStore(redisAdapter.NewFromClient(client,
				redisAdapter.WithPrefix(prefix+"session:"),
				redisAdapter.WithTTL(cfg.Sessions.IdleTTL),
			)),
			chatflow.WithLocker(redisAdapter.NewLocker(client, prefix), cfg.Sessions.LockTTL),
			chatflow.WithCooldown(redisAdapter.NewCooldownStore(client, prefix), window),
		}, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Sessions.Backend)
	}
}

// Close releases stores and flushes traces in reverse order of creation.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
