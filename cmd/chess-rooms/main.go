package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcfg "github.com/park285/cheese-chess-rooms/internal/config"
	"github.com/park285/cheese-chess-rooms/internal/dirmirror"
	"github.com/park285/cheese-chess-rooms/internal/hub"
	"github.com/park285/cheese-chess-rooms/internal/msgcat"
	"github.com/park285/cheese-chess-rooms/internal/obslog"
	"github.com/park285/cheese-chess-rooms/internal/oracle"
	"github.com/park285/cheese-chess-rooms/internal/room"
	"github.com/park285/cheese-chess-rooms/internal/session"
	"github.com/park285/cheese-chess-rooms/internal/wsserver"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.Init(cfg.Log.Obslog()); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("message catalog init error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Directory mirror (Redis, optional)
	var mirror *dirmirror.Mirror
	if cfg.RedisURL != "" {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		mirror, err = dirmirror.New(pctx, cfg.RedisURL,
			dirmirror.WithKey(cfg.DirectoryKey),
			dirmirror.WithChannel(cfg.DirectoryChannel),
			dirmirror.WithTTL(cfg.DirectoryTTL),
			dirmirror.WithLogger(obslog.Named("dirmirror")),
		)
		cancel()
		if err != nil {
			logger.Fatal("directory mirror init error", zap.Error(err))
		}
	}

	reg := room.NewRegistry(
		oracle.New(oracle.WithDrawClaims(cfg.AutoClaimDraws)),
		room.WithTurnOrder(cfg.EnforceTurnOrder),
		room.WithLogger(obslog.Named("room")),
	)
	h := hub.New(hub.WithOutboxSize(cfg.OutboxSize), hub.WithLogger(obslog.Named("hub")))

	coordOpts := []session.Option{
		session.WithLogger(obslog.Named("session")),
		session.WithCatalog(cat),
	}
	if mirror != nil {
		coordOpts = append(coordOpts, session.WithDirectoryPublisher(mirror))
		mirror.Update([]string{})
	}
	coord := session.New(reg, h, coordOpts...)

	srv := wsserver.New(coord, h, reg, wsserver.Options{
		WSPath:         cfg.WSPath,
		OriginPatterns: cfg.AllowedOrigins,
		ReadLimit:      cfg.ReadLimitBytes,
		WriteTimeout:   cfg.WriteTimeout,
		PingInterval:   cfg.PingInterval,
	}, obslog.Named("ws"))

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("ws_path", cfg.WSPath))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if mirror != nil {
		g.Go(func() error { return mirror.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		// hijacked websocket conns are not tracked by http.Server
		err := multierr.Combine(httpSrv.Shutdown(sctx), srv.Shutdown(sctx))
		if mirror != nil {
			err = multierr.Append(err, mirror.Close(sctx))
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("bye")
}
