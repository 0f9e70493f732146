// Command agentsim runs a stand-in agent executor process: one substrate
// subscription for a single agent_type, producing a canned successful
// result for every task it receives. It exists to exercise the dispatcher,
// result consumer, and state machine end-to-end without a real agent
// implementation behind it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/flowforge/orchestrator/agentregistry/pulseregistry"
	"github.com/flowforge/orchestrator/agentruntime"
	"github.com/flowforge/orchestrator/config"
	"github.com/flowforge/orchestrator/envelope"
	"github.com/flowforge/orchestrator/model"
	"github.com/flowforge/orchestrator/substrate/pulse"
	"github.com/flowforge/orchestrator/telemetry"
)

func main() {
	agentTypeF := flag.String("agent-type", "", "agent_type this process executes (required)")
	platformIDF := flag.String("platform-id", "", "optional platform_id this agent is scoped to")
	flag.Parse()
	if *agentTypeF == "" {
		fmt.Fprintln(os.Stderr, "agentsim: -agent-type is required")
		os.Exit(2)
	}

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	logger := telemetry.NewClueLogger()
	tracer := telemetry.NewOtelTracer()

	cfg := config.FromEnv()

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

	var platformID *string
	if *platformIDF != "" {
		platformID = platformIDF
	}

	rt := agentruntime.New(agentruntime.Options{
		AgentType: *agentTypeF, PlatformID: platformID,
		Bus: bus, Registry: registry, Validator: validator,
		Executor: agentruntime.ExecutorFunc(simulate),
		Logger:   logger, Tracer: tracer, HeartbeatInterval: cfg.PingInterval,
	})

	ctx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() {
		errc <- rt.Run(ctx)
	}()

	log.Printf(ctx, "agentsim exiting (%v)", <-errc)
	cancel()
}

// simulate produces a canned successful result after a brief delay,
// standing in for real agent work.
func simulate(ctx context.Context, env model.AgentEnvelope) (map[string]any, error) {
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return map[string]any{"simulated": true, "stage": env.WorkflowContext.CurrentStage}, nil
}
