package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/roomlink/internal/api"
	"github.com/park285/roomlink/internal/bridge"
	"github.com/park285/roomlink/internal/bus"
	appcfg "github.com/park285/roomlink/internal/config"
	"github.com/park285/roomlink/internal/conn"
	"github.com/park285/roomlink/internal/engine"
	"github.com/park285/roomlink/internal/gateway"
	"github.com/park285/roomlink/internal/history"
	"github.com/park285/roomlink/internal/msgcat"
	"github.com/park285/roomlink/internal/normalize"
	"github.com/park285/roomlink/internal/obslog"
	"github.com/park285/roomlink/internal/session"
)

func main() {
	if err := appcfg.LoadDotenv(); err != nil {
		log.Fatalf("dotenv error: %v", err)
	}
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := msgcat.New(msgcat.WithLocale(cfg.MessagesLocale), msgcat.WithOverrideDir(cfg.MessagesDir))
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	creds := session.Credentials{
		Token:    cfg.Token,
		UserID:   cfg.UserID,
		Username: cfg.Username,
		Avatar:   cfg.Avatar,
	}
	if _, err := session.Verify(creds, time.Now()); err != nil {
		log.Fatalf("session error: %v", err)
	}

	// Dedupe window (Redis-backed when configured)
	var window normalize.Window = normalize.NewMemoryWindow(cfg.DedupeSize, cfg.DedupeTTL)
	if cfg.RedisURL != "" {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rw, err := normalize.NewRedisWindowFromURL(rctx, cfg.RedisURL, cfg.UserID, cfg.DedupeTTL)
		cancel()
		if err != nil {
			logger.Warn("redis_window_unavailable", zap.Error(err))
		} else {
			window = rw
			defer rw.Close()
		}
	}

	manager := conn.NewManager(conn.WSDialer{URL: cfg.WSURL},
		conn.WithRetry(cfg.ReconnectMax, cfg.ReconnectDelay),
		conn.WithHandshakeTimeout(cfg.HandshakeTimeout),
		conn.WithLogger(obslog.Named("conn")),
	)
	gw := gateway.New(manager,
		gateway.WithRequestTimeout(cfg.RequestTimeout),
		gateway.WithSettleDelay(cfg.SettleDelay),
		gateway.WithDryRun(cfg.DryRun),
		gateway.WithLogger(obslog.Named("gateway")),
	)

	opts := []engine.Option{
		engine.WithCatalog(cat),
		engine.WithWindow(window),
		engine.WithLogger(obslog.Named("engine")),
	}
	var hist *history.Store
	if cfg.HistoryDSN != "" {
		hist, err = history.Open(ctx, cfg.HistoryDSN, obslog.Named("history"))
		if err != nil {
			log.Fatalf("history init error: %v", err)
		}
		defer hist.Close()
		opts = append(opts, engine.WithRecorder(hist))
	}

	eng, err := engine.New(ctx, manager, gw, opts...)
	if err != nil {
		log.Fatalf("engine init error: %v", err)
	}
	defer eng.Close()

	watchNotices(eng.Bus(), logger)

	cctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout*time.Duration(cfg.ReconnectMax+1)+cfg.ReconnectDelay*4)
	identity, err := eng.Connect(cctx, creds)
	cancel()
	if err != nil {
		log.Fatalf("connect error: %v", err)
	}
	logger.Info("session_ready", zap.String("user_id", identity.UserID), zap.String("username", identity.Username))

	if cfg.AutoJoinRoom != "" {
		autoJoin(ctx, cfg, creds, eng, logger)
	}

	if cfg.BridgeAddr != "" {
		bopts := []bridge.Option{
			bridge.WithLogger(obslog.Named("bridge")),
			bridge.WithIntentTimeout(cfg.RequestTimeout + cfg.SettleDelay),
		}
		if hist != nil {
			bopts = append(bopts, bridge.WithHistory(hist))
		}
		srv := bridge.New(eng, bopts...)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.BridgeAddr); err != nil {
				logger.Error("bridge_stopped", zap.Error(err))
			}
		}()
	}

	select {
	case <-ctx.Done():
	case <-eng.Done():
	}

	dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dcancel()
	_ = eng.Disconnect(dctx)
}

// autoJoin checks the room over the REST API before asking the push server to join it.
func autoJoin(ctx context.Context, cfg *appcfg.AppConfig, creds session.Credentials, eng *engine.Engine, logger *zap.Logger) {
	client := api.NewClient(cfg.APIURL,
		api.WithHeaderProvider(func() map[string]string { return session.Headers(creds) }),
		api.WithLogger(obslog.Named("api")),
	)
	actx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()
	if r, err := client.GetRoom(actx, cfg.AutoJoinRoom); err != nil {
		var se *api.StatusError
		if errors.As(err, &se) {
			logger.Warn("auto_join_room_lookup_failed", zap.String("room_id", cfg.AutoJoinRoom), zap.Error(err))
			return
		}
		logger.Warn("auto_join_room_lookup_skipped", zap.Error(err))
	} else {
		logger.Info("auto_join_room_found", zap.String("room_id", r.ID), zap.String("name", r.Name), zap.String("status", string(r.Status)))
	}

	jctx, jcancel := context.WithTimeout(ctx, cfg.RequestTimeout+cfg.SettleDelay)
	defer jcancel()
	if err := eng.JoinRoom(jctx, cfg.AutoJoinRoom, cfg.AutoJoinPassword); err != nil {
		logger.Warn("auto_join_failed", zap.String("room_id", cfg.AutoJoinRoom), zap.Error(err))
	}
}

func watchNotices(b *bus.Bus, logger *zap.Logger) {
	bus.Subscribe(b, func(n bus.Notice) {
		fields := []zap.Field{zap.String("action", string(n.Action)), zap.String("text", n.Text)}
		if n.Code != 0 {
			fields = append(fields, zap.Int("code", int(n.Code)))
		}
		if n.Fatal {
			logger.Error("notice", fields...)
			return
		}
		logger.Info("notice", fields...)
	})
	bus.Subscribe(b, func(c bus.ConnectionChanged) {
		logger.Info("connection_state", zap.String("state", c.State))
	})
}
