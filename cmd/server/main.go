package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"planningpoker/internal/config"
	"planningpoker/internal/httpapi"
	"planningpoker/internal/metrics"
	"planningpoker/internal/registry"
	"planningpoker/internal/roomlock"
	"planningpoker/internal/round"
	"planningpoker/internal/session"
	"planningpoker/internal/store"
	"planningpoker/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(*configPath, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(configPath string, log *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.Connect(cfg.DatabaseDSN, cfg.StoreTimeout())
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		return err
	}

	reg := registry.New(log)
	locks := roomlock.New()
	m := metrics.New()
	clock := clockwork.NewRealClock()

	sessions := session.NewManager(st, reg, locks, clock, cfg.GracePeriod(), log)
	rounds := round.NewCoordinator(st, reg, locks, m, clock, log)

	gateway, err := ws.NewGateway(sessions, rounds, cfg.AllowedOrigins, log)
	if err != nil {
		return err
	}

	handler := httpapi.SetupRoutes(gateway, st, reg, m, cfg.AllowedOrigins, log)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
