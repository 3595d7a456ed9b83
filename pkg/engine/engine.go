package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tochemey/goakt/v3/actor"
	golog "github.com/tochemey/goakt/v3/log"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/simulation"
)

const actorName = "simulator"

// Options tune an Engine.
type Options struct {
	// FrameBuffer is the capacity of the frame channel, 10 when zero.
	FrameBuffer int
	// WithNodes attaches the octree nodes to every frame.
	WithNodes bool
}

// Engine runs a Simulator inside an actor system. Every interaction is a
// message to the simulator actor, so the world is only touched by one goroutine.
type Engine struct {
	system actor.ActorSystem
	pid    *actor.PID
	frames chan *Frame
	logger *zap.Logger
}

// Start creates the actor system and spawns the simulator actor.
func Start(ctx context.Context, name string, sim *simulation.Simulator, opts Options, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = 10
	}

	system, err := actor.NewActorSystem(name,
		actor.WithLogger(golog.DiscardLogger),
		actor.WithActorInitMaxRetries(3))
	if err != nil {
		return nil, fmt.Errorf("creating actor system: %w", err)
	}
	if err := system.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting actor system: %w", err)
	}

	frames := make(chan *Frame, opts.FrameBuffer)
	pid, err := system.Spawn(ctx, actorName, New(sim, frames, opts.WithNodes, logger.Named(actorName)))
	if err != nil {
		_ = system.Stop(ctx)
		return nil, fmt.Errorf("spawning simulator: %w", err)
	}

	logger.Info("engine started", zap.String("system", name))
	return &Engine{system: system, pid: pid, frames: frames, logger: logger}, nil
}

// Frames delivers a frame after every tick, unless the reader falls behind.
func (e *Engine) Frames() <-chan *Frame {
	return e.frames
}

// Tick asks the simulator to catch up with the wall-clock sample now.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	return actor.Tell(ctx, e.pid, timestamppb.New(now))
}

// Refresh asks for a frame of the current state without stepping.
func (e *Engine) Refresh(ctx context.Context) error {
	return actor.Tell(ctx, e.pid, &emptypb.Empty{})
}

// UpdateSettings replaces the behavior weights and the bounds radius from the next step.
func (e *Engine) UpdateSettings(ctx context.Context, weights simulation.Weights, boundsRadius float64) error {
	settings, err := Settings(weights, boundsRadius)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return actor.Tell(ctx, e.pid, settings)
}

// Stop shuts the actor system down. Frames is not closed: a frame may still be in flight.
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("engine stopping")
	return e.system.Stop(ctx)
}
