package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	gwclient "github.com/Strob0t/MissionControl/internal/adapter/gateway"
	mchttp "github.com/Strob0t/MissionControl/internal/adapter/http"
	mcnats "github.com/Strob0t/MissionControl/internal/adapter/nats"
	"github.com/Strob0t/MissionControl/internal/adapter/natskv"
	mcotel "github.com/Strob0t/MissionControl/internal/adapter/otel"
	"github.com/Strob0t/MissionControl/internal/adapter/ristretto"
	"github.com/Strob0t/MissionControl/internal/adapter/tiered"
	"github.com/Strob0t/MissionControl/internal/adapter/ws"
	"github.com/Strob0t/MissionControl/internal/clock"
	"github.com/Strob0t/MissionControl/internal/config"
	"github.com/Strob0t/MissionControl/internal/domain/workspace"
	"github.com/Strob0t/MissionControl/internal/logger"
	"github.com/Strob0t/MissionControl/internal/middleware"
	"github.com/Strob0t/MissionControl/internal/port/cache"
	"github.com/Strob0t/MissionControl/internal/service"
	"github.com/Strob0t/MissionControl/internal/syncutil"
)

const (
	serviceName     = "missioncontrol"
	shutdownTimeout = 10 * time.Second
	rateIdleTimeout = 10 * time.Minute
)

func main() {
	var err error
	switch {
	case len(os.Args) > 1 && os.Args[1] == "migrate":
		err = runMigrate(os.Args[2:])
	case len(os.Args) > 1 && os.Args[1] == "gateway":
		err = runGateway(os.Args[2:])
	default:
		err = run(os.Args[1:])
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	holder := config.NewHolder(cfg, cfgPath)

	debugSink := logger.NewDebugSink(cfg.Logging.DebugHistory, slog.LevelDebug)
	log, logCloser := logger.New(cfg.Logging, debugSink)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"gateway_url", cfg.Gateway.URL,
		"auto_dispatch", cfg.Dispatch.Enabled,
		"log_level", cfg.Logging.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	tel, err := mcotel.Setup(ctx, cfg.Telemetry, serviceName)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()
	metrics, err := mcotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	clk := clock.Real()
	st, err := openStorage(ctx, cfg, clk)
	if err != nil {
		return err
	}
	defer st.close()

	var checks []mchttp.HealthCheck
	if st.check != nil {
		checks = append(checks, *st.check)
	}

	var queue *mcnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = mcnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
		checks = append(checks, mchttp.HealthCheck{Name: "nats", Check: func(context.Context) error {
			if !queue.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}})
	} else {
		slog.Warn("nats disabled; feed mirroring, completion notifications and idempotency keys are off")
	}

	taskCache, err := openTaskCache(ctx, cfg, queue)
	if err != nil {
		return err
	}

	// --- Services ---

	hub := ws.NewHub(originPattern(cfg.Server.CORSOrigin))
	feed := service.NewFeed(st.events, clk, cfg.Feed.Retention, cfg.Feed.SubscriberBuffer)
	feed.SetBroadcaster(hub)
	feed.SetMetrics(metrics)
	if queue != nil {
		feed.SetQueue(queue)
	}
	if err := feed.Preload(ctx); err != nil {
		slog.Warn("feed preload failed", "error", err)
	}

	gw := gwclient.NewClient(cfg.Gateway.URL, cfg.Gateway.Token, cfg.Gateway.Timeout)
	gw.SetBreaker(gwclient.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	registry := service.NewSessionRegistry(st.sessions, clk)
	registry.SetMetrics(metrics)

	dispatcher := service.NewDispatcher(gw, registry, feed, syncutil.NewPool(cfg.Dispatch.MaxConcurrent), clk, cfg.Dispatch.Timeout)
	dispatcher.SetAgentStore(st.store)
	dispatcher.SetMetrics(metrics)

	taskSvc := service.NewTaskService(st.store, feed, dispatcher)
	taskSvc.SetAutoDispatch(cfg.Dispatch.Enabled)
	taskSvc.SetCache(taskCache, cfg.Cache.L2TTL)
	taskSvc.SetMetrics(metrics)
	taskSvc.SetWorkspaces(workspace.NewDirectory(cfg.Workspaces...))

	stats := service.NewStatsService(st.store, registry, clk, cfg.Poll.SubagentInterval)

	holder.OnReload(func(old, next *config.Config) {
		if old.Dispatch.Enabled != next.Dispatch.Enabled {
			taskSvc.SetAutoDispatch(next.Dispatch.Enabled)
			slog.Info("auto-dispatch toggled", "enabled", next.Dispatch.Enabled)
		}
	})

	if queue != nil {
		cancelEnded, err := registry.StartSessionEndedSubscriber(ctx, queue)
		if err != nil {
			return fmt.Errorf("session ended subscriber: %w", err)
		}
		defer cancelEnded()
	}

	// --- HTTP ---

	handlers := &mchttp.Handlers{
		Tasks:    taskSvc,
		Agents:   service.NewAgentService(st.store, feed),
		Sessions: registry,
		Feed:     feed,
		Stats:    stats,
		Gateway:  service.NewGatewayProbe(gw, cfg.Gateway.Timeout),
		Hub:      hub,
		Debug:    debugSink,
		Checks:   checks,
		Clock:    clk,
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst, clk)

	var routeOpts mchttp.RouteOptions
	routeOpts.Metrics = tel.MetricsHandler
	if queue != nil {
		kv, err := queue.KeyValue(ctx, cfg.NATS.IdempotencyBucket, cfg.NATS.IdempotencyTTL)
		if err != nil {
			return fmt.Errorf("idempotency bucket: %w", err)
		}
		routeOpts.Mutating = append(routeOpts.Mutating, middleware.Idempotency(kv))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mchttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(mchttp.SecurityHeaders)
	r.Use(mchttp.CORS(cfg.Server.CORSOrigin))
	r.Use(mcotel.HTTPMiddleware(serviceName))
	r.Use(limiter.Handler)
	mchttp.MountRoutes(r, handlers, routeOpts)

	addr := ":" + cfg.Server.Port
	// No WriteTimeout: the SSE and WebSocket feeds are long-lived.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		taskSvc.Wait()
		return err
	})
	g.Go(func() error { return stats.Run(gctx) })
	g.Go(func() error { return limiter.Run(gctx, time.Minute, rateIdleTimeout) })
	g.Go(func() error { return watchReload(gctx, holder) })

	return g.Wait()
}

// openTaskCache builds the task snapshot cache: ristretto in process, backed
// by a NATS KV bucket when messaging is enabled.
func openTaskCache(ctx context.Context, cfg *config.Config, queue *mcnats.Queue) (cache.Cache, error) {
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("task cache: %w", err)
	}
	if queue == nil {
		return tiered.New(l1, nil, cfg.Cache.L1TTL), nil
	}
	l2, err := natskv.Open(ctx, queue, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return nil, err
	}
	return tiered.New(l1, l2, cfg.Cache.L1TTL), nil
}

// watchReload reloads the configuration on SIGHUP until ctx is done.
func watchReload(ctx context.Context, holder *config.Holder) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := holder.Reload(); err != nil {
				slog.Error("config reload failed, keeping previous config", "error", err)
				continue
			}
			slog.Info("config reloaded")
		}
	}
}

// originPattern turns the configured CORS origin into the host pattern the
// WebSocket upgrade checks against.
func originPattern(origin string) string {
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return u.Host
	}
	return origin
}
