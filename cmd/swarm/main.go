// Command swarm runs a full scan swarm in one process: it builds the node
// set from configuration, submits the configured targets and prints the
// final risk report as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/threatswarm/internal/app/agent"
	"github.com/ahrav/threatswarm/internal/app/orchestration"
	"github.com/ahrav/threatswarm/internal/app/risk"
	"github.com/ahrav/threatswarm/internal/app/swarm"
	"github.com/ahrav/threatswarm/internal/config"
	"github.com/ahrav/threatswarm/internal/config/fileloader"
	"github.com/ahrav/threatswarm/internal/domain/scanning"
	"github.com/ahrav/threatswarm/internal/infra/capability"
	"github.com/ahrav/threatswarm/internal/infra/eventbus/memory"
	"github.com/ahrav/threatswarm/pkg/common"
	"github.com/ahrav/threatswarm/pkg/common/logger"
	"github.com/ahrav/threatswarm/pkg/common/otel"
)

const serviceType = "swarm"

// reportPollInterval is how often the CLI polls for a finished report.
const reportPollInterval = 250 * time.Millisecond

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "swarm: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_, _ = maxprocs.Set()

	configPath := flag.String("config", "", "path to YAML configuration")
	depth := flag.Int("depth", 0, "override scan depth")
	flag.Parse()

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("SWARM-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}
	log := logger.NewWithMetadata(os.Stderr, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(ctx, *configPath, flag.Args(), *depth)
	if err != nil {
		return err
	}

	tracer, teardown, err := initTracing(ctx, log)
	if err != nil {
		return err
	}
	defer teardown(ctx)

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			log.Error(ctx, "error shutting down health server", "error", err)
		}
	}()

	limiter := common.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	fetcher := capability.NewFetcher(http.DefaultClient, limiter)

	registry := agent.NewCapabilityRegistry()
	if err := capability.RegisterDefaults(registry, fetcher, log, tracer); err != nil {
		return fmt.Errorf("registering capabilities: %w", err)
	}

	mp := otel.GetMeterProvider()
	swarmMetrics, err := swarm.NewMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating swarm metrics: %w", err)
	}
	agentMetrics, err := agent.NewMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating agent metrics: %w", err)
	}

	coordinator := swarm.NewCoordinator(
		swarm.Config{
			Orchestration: orchestration.Config{
				PhaseTimeout:     cfg.Pipeline.PhaseTimeout,
				Depth:            cfg.Depth,
				ReconPriority:    cfg.Pipeline.ReconPriority,
				ScanPriority:     cfg.Pipeline.ScanPriority,
				AnalysisPriority: cfg.Pipeline.AnalysisPriority,
			},
			MaxRetries:       cfg.Swarm.MaxRetries,
			AssignmentSweeps: cfg.Swarm.AssignmentSweeps,
			SweepBackoff:     cfg.Swarm.SweepBackoff,
		},
		registry,
		memory.NewBroker(),
		risk.NewScorer(cfg.Weights()),
		log,
		tracer,
		swarmMetrics,
		agentMetrics,
	)
	if err := coordinator.Start(ctx); err != nil {
		return fmt.Errorf("starting coordinator: %w", err)
	}

	for _, spec := range cfg.Nodes {
		agentTypes := make([]scanning.AgentType, 0, len(spec.AgentTypes))
		for _, at := range spec.AgentTypes {
			parsed, err := scanning.ParseAgentType(at)
			if err != nil {
				return err
			}
			agentTypes = append(agentTypes, parsed)
		}
		coordinator.AddNode(ctx, swarm.NodeConfig{
			Name:        spec.Name,
			NodeType:    scanning.NodeType(spec.Type),
			AgentsPer:   spec.Agents,
			Capacity:    spec.Capacity,
			TaskTimeout: cfg.Pipeline.TaskTimeout,
			AgentTypes:  agentTypes,
		})
	}

	var runID uuid.UUID
	if len(cfg.Targets) == 1 {
		runID, err = coordinator.SubmitSingleTarget(ctx, cfg.Targets[0], cfg.Depth)
	} else {
		runID, err = coordinator.SubmitSwarm(ctx, cfg.Targets, cfg.Depth)
	}
	if err != nil {
		return err
	}

	ready.Store(true)
	log.Info(ctx, "swarm started", "targets", len(cfg.Targets), "nodes", len(cfg.Nodes), "run_id", runID)

	ticker := time.NewTicker(reportPollInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			log.Info(ctx, "received shutdown signal", "signal", sig)
			cancel()
			return fmt.Errorf("interrupted before run completed")

		case <-ticker.C:
			report, err := coordinator.GetReport(runID)
			if errors.Is(err, scanning.ErrReportPending) {
				continue
			}
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding report: %w", err)
			}
			fmt.Println(string(out))
			return nil
		}
	}
}

// loadConfig builds the effective configuration from the file, CLI targets
// and depth override. CLI targets replace the file's target list.
func loadConfig(ctx context.Context, path string, targets []string, depth int) (*config.Config, error) {
	var cfg *config.Config
	if path != "" {
		loaded, err := fileloader.NewFileLoader(path).Load(ctx)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		def := config.Default()
		cfg = &def
	}

	if len(targets) > 0 {
		cfg.Targets = targets
	}
	if depth > 0 {
		cfg.Depth = depth
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initTracing initializes the OTLP exporters when an endpoint is configured
// and falls back to a no-op tracer otherwise, so the CLI runs without a
// collector.
func initTracing(ctx context.Context, log *logger.Logger) (trace.Tracer, func(context.Context), error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return noop.NewTracerProvider().Tracer(serviceType), func(context.Context) {}, nil
	}

	tp, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      serviceType,
		ExporterEndpoint: endpoint,
		Probability:      1,
		ResourceAttributes: map[string]string{
			"library.language": "go",
		},
		InsecureExporter: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return tp.Tracer(serviceType), teardown, nil
}
