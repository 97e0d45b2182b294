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

	"github.com/joho/godotenv"

	"orderline/cmd/server/config"
	ordersdb "orderline/internal/db/orders"
	"orderline/internal/gateway"
	"orderline/internal/observability"
	"orderline/internal/orders"
	"orderline/internal/realtime"
	"orderline/internal/saga"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	engineCfg, err := config.LoadEngine()
	if err != nil {
		return err
	}
	gatewayCfg, err := config.LoadGateway()
	if err != nil {
		return err
	}
	faultsCfg, err := config.LoadFaults()
	if err != nil {
		return err
	}

	store, cleanupStore := ordersdb.BuildStore(ctx, os.Getenv("DATABASE_URL"), log.Printf)
	defer cleanupStore()

	var faults orders.FaultInjector = orders.NoFaults{}
	if faultsCfg.Enabled {
		log.Printf("fault injection enabled (err=%.2f stall=%.2f for %s)", faultsCfg.ErrRatio, faultsCfg.StallRatio, faultsCfg.StallFor)
		faults = orders.NewFlakyCaller(faultsCfg.Seed, faultsCfg.ErrRatio, faultsCfg.StallRatio, faultsCfg.StallFor, log.Printf)
	}
	activities := orders.NewActivities(store, faults, log.Printf)

	metrics := observability.NewMetrics()

	hub := realtime.NewHub()
	go hub.Run(ctx)

	redisSink, cleanupRedis, err := buildRedisSink(ctx)
	if err != nil {
		return err
	}
	defer cleanupRedis()
	if redisSink != nil {
		log.Printf("redis event sink enabled")
	}

	var journal saga.Journal
	var restored []saga.JournalEntry
	if jcfg := config.LoadJournal(); jcfg.Path != "" {
		entries, err := saga.ReplayJournal(jcfg.Path)
		if err != nil {
			return err
		}
		restored = entries
		fileJournal, err := saga.NewFileJournal(jcfg.Path)
		if err != nil {
			return err
		}
		defer fileJournal.Close()
		journal = fileJournal
		log.Printf("saga journal enabled at %s (%d entries replayed)", jcfg.Path, len(entries))
	}

	sup := saga.NewSupervisor(activities,
		saga.Config{
			StepTimeout:     engineCfg.StepTimeout,
			ApprovalTimeout: engineCfg.ApprovalTimeout,
			AddressTimeout:  engineCfg.AddressTimeout,
			Retry: saga.RetryPolicy{
				MaxAttempts:       engineCfg.RetryMaxAttempts,
				InitialBackoff:    engineCfg.RetryInitialBackoff,
				BackoffMultiplier: engineCfg.RetryMultiplier,
				MaxBackoff:        engineCfg.RetryMaxBackoff,
			},
		},
		saga.WithSink(saga.NewFanoutSink(log.Printf, redisSink, realtime.NewHubSink(hub), observability.NewSink(metrics))),
		saga.WithJournal(journal),
		saga.WithExecutor(saga.NewExecutor(saga.WithStepObserver(metrics.StepAttempt))),
	)
	if len(restored) > 0 {
		for _, id := range sup.Restore(restored) {
			log.Printf("saga %s was interrupted before finishing; restart it to re-drive", id)
		}
	}

	srv := gateway.NewServer(sup, store, hub, metrics, log.Printf)
	httpSrv := &http.Server{
		Addr:    gatewayCfg.Addr,
		Handler: srv.Handler(),
	}

	obsSrv, err := startObservabilityServer(metrics)
	if err != nil {
		return err
	}

	log.Printf("gateway listening on %s", gatewayCfg.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("gateway shutdown: %v", err)
		}
		if err := sup.Shutdown(shutdownCtx); err != nil {
			log.Printf("supervisor shutdown: %v", err)
		}
		metrics.MarkShutdown(int64(sup.Running()))
		if obsSrv != nil {
			obsCtx, obsCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer obsCancel()
			_ = obsSrv.Shutdown(obsCtx)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func startObservabilityServer(metrics *observability.Metrics) (*http.Server, error) {
	cfg, err := config.LoadObservability()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("observability server error: %v", err)
		}
	}()

	return srv, nil
}
