package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/engine"
	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/simulation"
	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/telemetry"
)

// drainGrace bounds how long frames still in flight are collected after the last tick.
const drainGrace = 500 * time.Millisecond

type options struct {
	configPath string
	outputDir  string
	ticks      int
	interval   time.Duration
	seed       uint64
	workers    int
	logEvery   int
	withNodes  bool
	debug      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to config.json or config.yaml (empty = use defaults)")
	flag.StringVar(&opts.outputDir, "output-dir", "", "Output directory for telemetry.csv and config snapshot")
	flag.IntVar(&opts.ticks, "ticks", 200, "Stop after N driver ticks (0 = until interrupted)")
	flag.DurationVar(&opts.interval, "interval", 50*time.Millisecond, "Wall time between driver ticks")
	flag.Uint64Var(&opts.seed, "seed", 0, "RNG seed (0 = use config)")
	flag.IntVar(&opts.workers, "workers", 0, "Parallel workers for the entity phase (0 = use config)")
	flag.IntVar(&opts.logEvery, "log-every", 20, "Log a telemetry summary every N frames (0 = never)")
	flag.BoolVar(&opts.withNodes, "nodes", false, "Attach octree nodes to frames")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	logger, err := newLogger(opts.debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func run(ctx context.Context, opts options, logger *zap.Logger) error {
	cfg := simulation.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := simulation.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.seed != 0 {
		cfg.Seed = opts.seed
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))
	logger.Info("starting flock",
		zap.Int("boids", cfg.Population.Boids),
		zap.Int("obstacles", cfg.Population.Obstacles),
		zap.Uint64("seed", cfg.Seed),
		zap.Int("workers", cfg.Workers),
		zap.Float64("step_size", cfg.StepSize))

	out, err := telemetry.NewWriter(opts.outputDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Warn("closing telemetry", zap.Error(err))
		}
	}()
	if err := out.WriteConfig(cfg); err != nil {
		return err
	}

	world := simulation.NewWorld(cfg, logger.Named("world"))
	if err := simulation.Populate(world, cfg.Population, simulation.NewRand(cfg.Seed)); err != nil {
		return fmt.Errorf("populating world: %w", err)
	}
	sim := simulation.NewSimulator(world, cfg, nil, logger.Named("simulator"))

	eng, err := engine.Start(ctx, "flock-"+runID[:8], sim, engine.Options{WithNodes: opts.withNodes}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Stop(context.Background()); err != nil {
			logger.Warn("stopping engine", zap.Error(err))
		}
	}()

	frames := 0
	record := func(f *engine.Frame) error {
		r := telemetry.Summarize(runID, f, cfg.BoundsRadius)
		frames++
		if opts.logEvery > 0 && frames%opts.logEvery == 0 {
			logger.Info("frame", r.Field())
		}
		return out.Write(r)
	}

	g, gctx := errgroup.WithContext(ctx)
	driverDone := make(chan struct{})

	g.Go(func() error {
		defer close(driverDone)
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for n := 0; opts.ticks == 0 || n < opts.ticks; n++ {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				if err := eng.Tick(gctx, now); err != nil {
					return fmt.Errorf("tick %d: %w", n+1, err)
				}
			}
		}
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case f := <-eng.Frames():
				if err := record(f); err != nil {
					return err
				}
			case <-driverDone:
				return drain(eng.Frames(), record)
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("flock finished",
		zap.Int("frames", frames),
		zap.Uint64("steps", sim.TotalSteps()),
		zap.Float64("sim_time", sim.SimulationTime()),
		zap.String("output_dir", out.Dir()))
	return nil
}

// drain records the frames still arriving until none shows up for drainGrace.
func drain(frames <-chan *engine.Frame, record func(*engine.Frame) error) error {
	for {
		select {
		case f := <-frames:
			if err := record(f); err != nil {
				return err
			}
		case <-time.After(drainGrace):
			return nil
		}
	}
}
