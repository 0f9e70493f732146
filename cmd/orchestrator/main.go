// Command orchestrator runs the control-plane process: the ingress API,
// the result consumer, and the timeout/pending-task reapers. It holds no
// agent-specific code — agents run as separate agentsim (or real) processes
// speaking the same envelope contract over the substrate.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/flowforge/orchestrator/agentregistry/pulseregistry"
	"github.com/flowforge/orchestrator/api"
	"github.com/flowforge/orchestrator/config"
	"github.com/flowforge/orchestrator/dispatch"
	"github.com/flowforge/orchestrator/envelope"
	"github.com/flowforge/orchestrator/reaper"
	"github.com/flowforge/orchestrator/resultconsumer"
	"github.com/flowforge/orchestrator/stage"
	"github.com/flowforge/orchestrator/store/postgres"
	"github.com/flowforge/orchestrator/store/postgres/migrations"
	"github.com/flowforge/orchestrator/substrate/pulse"
	"github.com/flowforge/orchestrator/surface"
	"github.com/flowforge/orchestrator/telemetry"
	"github.com/flowforge/orchestrator/workflow"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	logger := telemetry.NewClueLogger()
	tracer := telemetry.NewOtelTracer()

	cfg := config.FromEnv()

	sqlDB, err := sql.Open("pgx", cfg.PersistenceURL)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("open migration connection: %w", err))
	}
	if err := migrations.Apply(sqlDB); err != nil {
		log.Fatal(ctx, fmt.Errorf("apply migrations: %w", err))
	}
	_ = sqlDB.Close()

	st, err := postgres.New(ctx, cfg.PersistenceURL)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("connect postgres: %w", err))
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.SubstrateURL, Password: cfg.SubstratePassword})
	bus, err := pulse.New(pulse.Options{Redis: redisClient, Namespace: cfg.SubstrateNamespace})
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("construct substrate: %w", err))
	}

	registry, err := pulseregistry.New(ctx, pulseregistry.Options{
		Redis: redisClient, PingInterval: cfg.PingInterval, MissedPingThreshold: cfg.MissedPingThreshold,
	})
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("join agent registry: %w", err))
	}

	validator, err := envelope.NewValidator()
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("compile envelope schemas: %w", err))
	}
	builder := envelope.NewBuilder(validator, "orchestrator")

	router := stage.NewRouter(st, logger)
	surfaceGate := surface.NewGate(st, surface.DefaultCacheTTL)

	dispatcher := dispatch.New(dispatch.Options{
		Store: st, Bus: bus, Registry: registry, Logger: logger, Tracer: tracer, BreakerName: "dispatch",
	})

	machine := workflow.New(workflow.Options{
		Store: st, Router: router, Dispatcher: dispatcher, Builder: builder,
		SurfaceGate: surfaceGate, AgentChecker: registry, Logger: logger, Tracer: tracer,
	})

	consumer := resultconsumer.New(resultconsumer.Options{
		Bus: bus, Validator: validator, Machine: machine, Logger: logger, Tracer: tracer, ConsumerName: "orchestrator-1",
	})

	r := reaper.New(reaper.Options{Store: st, Dispatcher: dispatcher, Machine: machine, Logger: logger, Spec: fmt.Sprintf("@every %s", cfg.ReaperInterval)})

	server := api.New(api.Options{Machine: machine, Router: router, Store: st, SurfaceGate: surfaceGate, Logger: logger})
	engine := gin.New()
	engine.Use(gin.Recovery())
	server.Register(engine)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			errc <- fmt.Errorf("result consumer: %w", err)
		}
	}()

	if err := r.Start(ctx); err != nil {
		log.Fatal(ctx, fmt.Errorf("start reaper: %w", err))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf(ctx, "http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	r.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	wg.Wait()
	log.Printf(ctx, "exited")
}
