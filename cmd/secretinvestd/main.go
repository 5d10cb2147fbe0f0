package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"secretinvest/internal/config"
	"secretinvest/internal/core"
	"secretinvest/internal/fhe"
	"secretinvest/internal/market"
	"secretinvest/internal/notify"
	"secretinvest/internal/observability"
	"secretinvest/internal/persistence"
	"secretinvest/internal/reveal"
	"secretinvest/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log := observability.NewLogger("main")
	log.Info().Msg("secretinvestd starting")

	cfg := config.Load()

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("Postgres connected")

	// --- SQL migrations ---
	migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}
	log.Info().Msg("migrations applied")

	// --- NATS ---
	nc, js, err := notify.ConnectNATS(cfg.NATSURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	log.Info().Msg("NATS connected")

	if err := notify.EnsureEventStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure event stream")
	}

	// --- Channels ---
	// Persist channel blocks (backpressure), notify channel drops.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	notifyCoreChan := make(chan core.CoreOutput, cfg.NotifyChanSize)

	// Bridge channel for the persistence worker (avoids import cycle)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Encrypted value service + ledger engine ---
	valueService := fhe.NewLocalService()
	admitter := fhe.NewInputValidator(valueService, cfg.ContractAddress)
	prices := market.NewPriceTable(cfg.OwnerAddress)

	engine := core.NewEngine(
		valueService,
		admitter,
		prices,
		core.NewCryptoRandomSource(),
		time.Now,
		metrics,
		persistCoreChan,
		notifyCoreChan,
	)

	authorizer := reveal.NewAuthorizer([]byte(cfg.RevealSecret), valueService)

	// --- HTTP API ---
	apiServer := server.New(engine, authorizer, prices, healthChecker, metrics)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiServer.Router(),
	}

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	// 1. Persistence worker
	persistWorker := persistence.NewWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	// 2. Core output bridge: core.CoreOutput -> persistence.CoreOutput
	go func() {
		bridgeCoreOutputs(ctx, persistCoreChan, persistWorkerChan)
	}()

	// 3. Notification publisher
	publisher := notify.NewPublisher(js, notifyCoreChan, metrics)
	go func() {
		errChan <- publisher.Run(ctx)
	}()

	// 4. HTTP API server
	go func() {
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
			defer c()
			httpServer.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	// 5. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// 6. Channel utilization sampler
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("persist", len(persistCoreChan), cap(persistCoreChan))
				metrics.SetChannelMetrics("notify", len(notifyCoreChan), cap(notifyCoreChan))
			}
		}
	}()

	healthChecker.SetReady(true)
	log.Info().
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Str("owner", cfg.OwnerAddress).
		Msg("secretinvestd ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	healthChecker.SetReady(false)
	cancel()

	// Give the bridge and worker time to drain, then close the worker
	// channel so the final batch is flushed.
	time.Sleep(500 * time.Millisecond)
	close(persistWorkerChan)
	time.Sleep(500 * time.Millisecond)

	log.Info().Msg("secretinvestd shutdown complete")
}

// bridgeCoreOutputs converts core.CoreOutput into the persistence format.
// This avoids an import cycle between core and persistence.
func bridgeCoreOutputs(
	ctx context.Context,
	persistIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case output, ok := <-persistIn:
			if !ok {
				return
			}

			pOutput := persistence.CoreOutput{
				EventRow: persistence.EventRow{
					Sequence:       output.Envelope.Sequence,
					EventType:      output.Envelope.EventType.String(),
					IdempotencyKey: output.Envelope.IdempotencyKey,
					Instrument:     output.Envelope.Instrument,
					Payload:        output.Envelope.Payload,
					StateHash:      output.Envelope.StateHash[:],
					PrevHash:       output.Envelope.PrevHash[:],
					Timestamp:      output.Envelope.Timestamp,
				},
			}

			if output.Batch != nil {
				for _, j := range output.Batch.Journals {
					pOutput.JournalRows = append(pOutput.JournalRows, persistence.JournalRow{
						JournalID:     j.JournalID.String(),
						BatchID:       j.BatchID.String(),
						EventRef:      j.EventRef,
						Sequence:      j.Sequence,
						DebitAccount:  j.DebitAccount.AccountPath(),
						CreditAccount: j.CreditAccount.AccountPath(),
						Amount:        j.Amount,
						StakeRef:      j.StakeRef,
						JournalType:   int32(j.JournalType),
						Timestamp:     j.Timestamp,
					})
				}
			}

			select {
			case persistOut <- pOutput:
			case <-ctx.Done():
				return
			}
		}
	}
}
