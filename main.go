// Command streamwatch monitors one YouTube channel for live broadcasts and
// forwards lifecycle, viewer, and chat events to a configured webhook.
// It:
//   - Loads configuration and initializes structured logging.
//   - Restores the persisted snapshot so a restart never re-announces streams.
//   - Subscribes to WebSub push notifications when a callback URL is set.
//   - Runs the monitor loop: discovery, metadata refresh, chat polling,
//     webhook delivery with retries, and quota accounting.
//   - Exposes an HTTP server with the WebSub callback, /healthz, /status,
//     /metrics, and the event catalog/test-fire helpers.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/api/option"

	"github.com/onnwee/streamwatch/config"
	"github.com/onnwee/streamwatch/delivery"
	"github.com/onnwee/streamwatch/heartbeat"
	"github.com/onnwee/streamwatch/monitor"
	"github.com/onnwee/streamwatch/quota"
	"github.com/onnwee/streamwatch/server"
	"github.com/onnwee/streamwatch/state"
	"github.com/onnwee/streamwatch/telemetry"
	"github.com/onnwee/streamwatch/websub"
	"github.com/onnwee/streamwatch/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("streamwatch", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// YouTube Data API client
	api, err := youtubeapi.New(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		slog.Error("youtube client init failed", slog.Any("err", err))
		os.Exit(1)
	}

	// WebSub lease (push notifications), only with a public callback URL
	var lease *websub.Lease
	if cfg.PushEnabled() {
		lease = &websub.Lease{
			HubURL:       cfg.HubURL,
			Topic:        "https://www.youtube.com/xml/feeds/videos.xml?channel_id=" + cfg.ChannelID,
			CallbackURL:  cfg.CallbackURL,
			LeaseSeconds: cfg.LeaseSeconds,
		}
	} else {
		slog.Info("push notifications disabled (no CALLBACK_URL), polling only")
	}

	store := &state.Store{Path: cfg.StateFile}

	loop := monitor.New(monitor.Options{
		Config: cfg,
		API:    api,
		Ledger: quota.New(cfg.DailyQuota, nil),
		Queue:  delivery.New(cfg.WebhookSecret, nil),
		Lease:  lease,
		Store:  store,
		Send:   delivery.HTTPSender(cfg.WebhookURL, nil),
	})

	// Restore persisted state so a restart never re-announces live streams
	snap, err := store.Load()
	if err != nil {
		slog.Warn("snapshot load failed, starting fresh", slog.Any("err", err))
	} else {
		loop.RestoreSnapshot(snap)
	}

	if lease != nil {
		if err := lease.Subscribe(ctx); err != nil {
			slog.Warn("initial subscribe failed, monitor will retry", slog.Any("err", err))
		}
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			slog.Error("monitor exited with error", slog.Any("err", err))
		}
	}()

	// Redis heartbeat for external watchdogs
	if cfg.HeartbeatEnabled() {
		hb := heartbeat.New(cfg.RedisAddr, cfg.ChannelID, cfg.HeartbeatInterval, loop.Stats)
		go func() {
			if err := hb.Run(ctx); err != nil && err != context.Canceled {
				slog.Error("heartbeat exited with error", slog.Any("err", err))
			}
		}()
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (callback/health/status/metrics)
	handlers := server.NewHandlers(loop, lease)
	go func() {
		if err := server.Start(ctx, ":"+cfg.Port, handlers); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")

	// Wait for the monitor to write its final snapshot.
	select {
	case <-loopDone:
	case <-time.After(5 * time.Second):
		slog.Warn("monitor did not stop in time")
	}

	// Best-effort unsubscribe so the hub stops posting to a dead callback.
	if lease != nil {
		unsubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := lease.Unsubscribe(unsubCtx); err != nil {
			slog.Warn("unsubscribe failed", slog.Any("err", err))
		}
		cancel()
	}
}
