// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command voiceorc is the process entrypoint: it loads bootstrap config,
// wires the provider registry, persistence and metrics taps, and serves
// WebSocket media connections and a health/readiness HTTP surface on one
// listener (spec.md §6, §9).
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/soheilhy/cmux"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/config"
	"github.com/rapidaai/voiceorc/internal/metrics"
	"github.com/rapidaai/voiceorc/internal/orchestrator"
	"github.com/rapidaai/voiceorc/internal/ports"
	"github.com/rapidaai/voiceorc/internal/providers"
	"github.com/rapidaai/voiceorc/internal/registry"
	"github.com/rapidaai/voiceorc/internal/sink"
	"github.com/rapidaai/voiceorc/internal/tools"
	"github.com/rapidaai/voiceorc/internal/transport"
	"github.com/rapidaai/voiceorc/internal/vad"
	"github.com/rapidaai/voiceorc/pkg/callid"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "voiceorc:", err)
		os.Exit(1)
	}
}

func run() error {
	boot, err := config.Load("voiceorc", ".", "/etc/voiceorc")
	if err != nil {
		return fmt.Errorf("load bootstrap config: %w", err)
	}

	logger, err := commons.New(commons.Config{
		Level:    boot.LogLevel,
		JSON:     boot.LogJSON,
		FilePath: boot.LogFilePath,
	})
	if err != nil {
		return fmt.Errorf("construct logger: %w", err)
	}
	defer logger.Sync()

	deps, cleanup, err := buildDependencies(boot, logger)
	if err != nil {
		return fmt.Errorf("build dependencies: %w", err)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infow("voiceorc: shutdown signal received")
		cancel()
	}()

	tap, _ := deps.Metrics.(*metrics.Tap)
	if tap != nil {
		go reportMetrics(ctx, tap, logger)
	}

	return serve(ctx, boot, deps, logger)
}

// buildDependencies constructs every shared resource one process holds
// (spec.md §4.3 "consulted only during session construction"). cleanup
// closes everything in reverse order and must be called even on error.
func buildDependencies(boot config.Bootstrap, logger commons.Logger) (orchestrator.Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	db, err := gorm.Open(sqlite.Open(sinkDSNOrDefault(boot.SinkDSN)), &gorm.Config{})
	if err != nil {
		return orchestrator.Dependencies{}, cleanup, fmt.Errorf("open sink database: %w", err)
	}
	turnStore, err := sink.NewTurnStore(db, logger)
	if err != nil {
		return orchestrator.Dependencies{}, cleanup, fmt.Errorf("construct turn store: %w", err)
	}

	var sessionCache *sink.SessionCache
	if boot.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: boot.RedisAddr})
		closers = append(closers, func() { client.Close() })
		sessionCache = sink.NewSessionCache(client, logger)
	} else {
		sessionCache = sink.NewSessionCache(nil, logger)
	}

	tap := metrics.NewTap(logger)

	reg := registry.New()
	providers.RegisterAll(reg, providers.DefaultEnvKeys(), logger)

	toolPort, toolCloser := buildToolPort(logger)
	if toolCloser != nil {
		closers = append(closers, toolCloser)
	}

	vadModelPath := envOrDefault("VOICEORC_VAD_MODEL_PATH", "./models/silero_vad.onnx")
	vadScorerFactory := func() (vad.FrameScorer, error) {
		return vad.NewSileroScorer(vadModelPath, 16000)
	}

	deps := orchestrator.Dependencies{
		Registry:         reg,
		ConfigRepo:       config.NewRepository(config.NewEnvStore()),
		Tools:            toolPort,
		Sink:             turnStore,
		Metrics:          tap,
		Breakers:         sessionCache,
		Logger:           logger,
		VADScorerFactory: vadScorerFactory,
	}
	return deps, cleanup, nil
}

func sinkDSNOrDefault(dsn string) string {
	if dsn == "" {
		return "voiceorc.db"
	}
	return dsn
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// buildToolPort wires internal/tools.MCPToolPort when an MCP endpoint is
// configured (spec.md §4.2 tool invocation); otherwise every call falls
// back to a port that answers every Invoke with an error, so a session
// that never references a tool never pays for the MCP round trip.
func buildToolPort(logger commons.Logger) (ports.ToolPort, func()) {
	serverURL := os.Getenv("VOICEORC_MCP_SERVER_URL")
	if serverURL == "" {
		return noopToolPort{}, nil
	}
	mcpPort, err := tools.NewMCPToolPort(context.Background(), serverURL, 10*time.Second, logger)
	if err != nil {
		logger.Warnw("voiceorc: MCP tool port unavailable, falling back to no-op", "error", err.Error())
		return noopToolPort{}, nil
	}
	return mcpPort, func() { mcpPort.Close() }
}

type noopToolPort struct{}

func (noopToolPort) Invoke(ctx context.Context, name, argumentsJSON string) (ports.ToolResult, error) {
	return ports.ToolResult{}, fmt.Errorf("voiceorc: no tool server configured, cannot invoke %q", name)
}

// reportMetrics logs a metrics.Snapshot on a fixed interval (spec.md §9/§13
// "reported on an interval", never sampled from the data path itself).
func reportMetrics(ctx context.Context, tap *metrics.Tap, logger commons.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tap.LogSnapshot()
		}
	}
}

// serve muxes a WebSocket media endpoint and a gin health surface on one
// listener via soheilhy/cmux, mirroring the teacher's HealthCheckRoutes
// registration idiom (api/assistant-api/router/healthcheck.go) for the
// readiness/health routes themselves.
func serve(ctx context.Context, boot config.Bootstrap, deps orchestrator.Dependencies, logger commons.Logger) error {
	// HealthAddr is unused here: cmux collapses the media and health
	// surfaces onto ListenAddr, one socket for orchestrators that expect a
	// single published port per process.
	lis, err := net.Listen("tcp", boot.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", boot.ListenAddr, err)
	}

	m := cmux.New(lis)
	httpLis := m.Match(cmux.HTTP1Fast())
	wsLis := m.Match(cmux.Any())

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
	}))
	registerHealthRoutes(engine, logger)

	httpServer := &http.Server{Handler: engine}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	wsServer := &http.Server{Handler: wsHandler(deps, upgrader, logger)}

	errCh := make(chan error, 3)
	go func() { errCh <- httpServer.Serve(httpLis) }()
	go func() { errCh <- wsServer.Serve(wsLis) }()
	go func() { errCh <- m.Serve() }()

	logger.Infow("voiceorc: listening", "addr", boot.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		wsServer.Shutdown(shutdownCtx)
		lis.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, cmux.ErrListenerClosed) || errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func registerHealthRoutes(engine *gin.Engine, logger commons.Logger) {
	logger.Infow("voiceorc: health routes registered")
	group := engine.Group("")
	group.GET("/readiness/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	group.GET("/healthz/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// wsHandler upgrades every connection into one orchestrator.Session, keyed
// by the caller's call_id query parameter when callid.IsValid accepts it, or
// by a fresh call_id otherwise (spec.md §4.12 "Construction").
func wsHandler(deps orchestrator.Dependencies, upgrader websocket.Upgrader, logger commons.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warnw("voiceorc: websocket upgrade failed", "error", err.Error())
			return
		}

		callID := r.URL.Query().Get("call_id")
		if !callid.IsValid(callID) {
			callID = callid.New()
		}

		ctx := r.Context()
		session, err := orchestrator.NewSession(ctx, callID, deps)
		if err != nil {
			logger.Errorw("voiceorc: session construction failed", "call_id", callID, "error", err.Error())
			conn.Close()
			return
		}

		wsSession := transport.NewWSSession(conn, session, callID, logger)
		if err := wsSession.Serve(ctx); err != nil {
			logger.Warnw("voiceorc: session ended with error", "call_id", callID, "error", err.Error())
		}
	}
}
