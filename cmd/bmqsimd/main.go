package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/khryptorgraphics/bmqsched/internal/config"
	"github.com/khryptorgraphics/bmqsched/internal/logging"
	"github.com/khryptorgraphics/bmqsched/pkg/api"
	"github.com/khryptorgraphics/bmqsched/pkg/metrics"
	"github.com/khryptorgraphics/bmqsched/pkg/sched"
	"github.com/khryptorgraphics/bmqsched/pkg/trace"
	"github.com/khryptorgraphics/bmqsched/pkg/workload"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:   "bmqsimd",
		Short: "Priority bitmap multi-queue scheduler simulator",
		Long: `bmqsimd simulates a per-CPU priority-bitmap multi-queue scheduler:
watermark-indexed task placement, PI-aware priority boosting, SMT-aware
migration, all driven either by a live goroutine-per-CPU simulation or by
replaying a declarative workload file.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	root.AddCommand(
		buildServeCmd(&configFile),
		buildRunCmd(&configFile),
		buildConfigCmd(&configFile),
		buildVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func loadConfig(configFile string) (*config.Config, error) {
	return config.Load(configFile)
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", color.CyanString("bmqsimd"), color.GreenString("%s (%s) %s", version, commit, runtime.Version()))
		},
	}
}

func buildConfigCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			out := *configFile
			if out == "" {
				out = "bmqsimd.yaml"
			}
			if err := cfg.Save(out); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", color.GreenString("wrote"), out)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println(color.GreenString("config valid"))
			return nil
		},
	})
	return cmd
}

func buildRunCmd(configFile *string) *cobra.Command {
	var workloadFile string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a declarative workload file against the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkload(*configFile, workloadFile)
		},
	}
	cmd.Flags().StringVar(&workloadFile, "workload", "", "workload YAML file")
	cmd.MarkFlagRequired("workload")
	return cmd
}

func runWorkload(configFile, workloadFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	raw, err := os.ReadFile(workloadFile)
	if err != nil {
		return fmt.Errorf("read workload: %w", err)
	}
	var wl workload.Workload
	if err := yaml.Unmarshal(raw, &wl); err != nil {
		return fmt.Errorf("parse workload: %w", err)
	}

	s := newScheduler(cfg)
	exporter := trace.NewLogExporter(logger)
	defer exporter.Close()

	driver := workload.NewDriver(s, exporter, 0)
	logger.WithField("steps", len(wl.Steps)).Info("replaying workload")
	return driver.Run(context.Background(), wl)
}

func buildServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler simulation with the introspection API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configFile)
		},
	}
}

func newScheduler(cfg *config.Config) *sched.Scheduler {
	schedCfg := sched.Config{
		NCPU:         cfg.Sim.NCPU,
		TimesliceNS:  cfg.Scheduler.TimesliceNS,
		ReschedNS:    cfg.Scheduler.ReschedNS,
		MaxAdj:       cfg.Scheduler.MaxAdj,
		YieldType:    sched.YieldType(cfg.Scheduler.YieldType),
		MigrationCap: cfg.Scheduler.MigrationCap,
		Topology:     topologyFromSim(cfg.Sim),
	}
	return sched.New(schedCfg, nil, nil, nil, nil)
}

func topologyFromSim(sim config.SimConfig) sched.TopologyConfig {
	n := sim.NCPU
	smt := make([]int, n)
	llc := make([]int, n)
	die := make([]int, n)
	for cpu := 0; cpu < n; cpu++ {
		smtPer := sim.SMTPerCore
		if smtPer <= 0 {
			smtPer = 1
		}
		core := cpu / smtPer
		smt[cpu] = core

		coresPerLLC := sim.CoresPerLLC
		if coresPerLLC <= 0 {
			coresPerLLC = n
		}
		llc[cpu] = core / coresPerLLC

		llcsPerDie := sim.LLCsPerDie
		if llcsPerDie <= 0 {
			llcsPerDie = 1
		}
		die[cpu] = llc[cpu] / llcsPerDie
	}
	return sched.TopologyConfig{NCPU: n, SMTGroup: smt, LLCGroup: llc, DieGroup: die}
}

func serve(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	s := newScheduler(cfg)

	hub := api.NewWSHub()
	exporters := []trace.Exporter{trace.NewLogExporter(logger), hub}
	if cfg.Trace.Enabled && cfg.Trace.RedisAddr != "" {
		exporters = append(exporters, trace.NewRedisExporter(cfg.Trace.RedisAddr, cfg.Trace.RedisTopic, logger))
	}
	exporter := trace.NewMultiExporter(exporters...)
	defer exporter.Close()

	metricsReg := metrics.New()

	apiServer := api.NewServer(cfg.API, s, logger, hub)
	apiErrs := apiServer.Start()

	var metricsServer *metricsHTTPServer
	if cfg.Metrics.Enabled {
		metricsServer = startMetricsServer(cfg.Metrics.Listen, metricsReg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)
	tickInterval := time.Second / time.Duration(cfg.Sim.TickHz)
	for cpu := 0; cpu < cfg.Sim.NCPU; cpu++ {
		cpu := cpu
		group.Go(func() error {
			return runCPULoop(gctx, s, cpu, tickInterval, metricsReg, exporter)
		})
	}

	logger.WithField("ncpu", cfg.Sim.NCPU).WithField("api", cfg.API.Listen).Info("bmqsimd serving")
	fmt.Printf("%s listening on %s\n", color.GreenString("bmqsimd up"), color.CyanString(cfg.API.Listen))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("shutting down")
		fmt.Println(color.YellowString("shutting down (%s)", sig))
	case err := <-apiErrs:
		if err != nil {
			logger.WithError(err).Error("api server error")
			fmt.Fprintln(os.Stderr, color.RedString("api server error: %v", err))
		}
	case <-gctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("api shutdown error")
	}
	if metricsServer != nil {
		metricsServer.shutdown(shutdownCtx)
	}
	hub.Close()
	return group.Wait()
}

// metricsHTTPServer wraps the Prometheus exposition endpoint's lifecycle,
// kept separate from api.Server since it listens on its own port and has
// no JWT/CORS concerns of its own.
type metricsHTTPServer struct {
	srv *http.Server
}

func startMetricsServer(addr string, reg *metrics.Registry) *metricsHTTPServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go srv.ListenAndServe()
	return &metricsHTTPServer{srv: srv}
}

func (m *metricsHTTPServer) shutdown(ctx context.Context) {
	m.srv.Shutdown(ctx)
}

// runCPULoop is the per-CPU simulated "thread of execution" (§5): it ticks
// the scheduler at the configured HZ and keeps its runqueue's gauges
// fresh, until ctx is cancelled.
func runCPULoop(ctx context.Context, s *sched.Scheduler, cpu int, interval time.Duration, reg *metrics.Registry, exporter trace.Exporter) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cpuLabel := fmt.Sprintf("%d", cpu)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			s.SchedulerTick(cpu)
			prev, next := s.Schedule(cpu, false, false)
			reg.SchedLatency.Observe(time.Since(start).Seconds())
			reg.NrRunning.WithLabelValues(cpuLabel).Set(float64(s.NrRunning(cpu)))
			idleVal := 0.0
			if s.IdleCPU(cpu) {
				idleVal = 1.0
			}
			reg.WatermarkIdle.WithLabelValues(cpuLabel).Set(idleVal)
			if prev != next {
				exporter.Emit(trace.Event{At: time.Now(), Kind: "switch", CPU: cpu, TaskID: next.ID})
			}
		}
	}
}
