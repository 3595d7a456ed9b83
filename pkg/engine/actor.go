package engine

import (
	"fmt"
	"math"

	"github.com/tochemey/goakt/v3/actor"
	"github.com/tochemey/goakt/v3/goaktpb"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/octree"
	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/simulation"
)

// Frame is the state pushed to observers after each driver tick.
type Frame struct {
	Tick     uint64
	SimTime  float64
	Steps    int
	Entities []simulation.EntityState
	Nodes    []octree.NodeInfo
	// Err aggregates the step errors of this tick, if any.
	Err error
}

// SimulatorActor owns a Simulator and is its only writer. Observers receive
// frames on a channel; a full channel drops the frame instead of blocking the
// simulation.
type SimulatorActor struct {
	sim       *simulation.Simulator
	frames    chan<- *Frame
	withNodes bool
	ticks     uint64
	logger    *zap.Logger
}

var _ actor.Actor = (*SimulatorActor)(nil)

// New creates the actor. frames may be nil when nobody observes the run.
func New(sim *simulation.Simulator, frames chan<- *Frame, withNodes bool, logger *zap.Logger) *SimulatorActor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatorActor{
		sim:       sim,
		frames:    frames,
		withNodes: withNodes,
		logger:    logger,
	}
}

func (a *SimulatorActor) PreStart(ctx *actor.Context) error {
	a.logger.Info("simulator actor starting",
		zap.String("actor", ctx.ActorName()),
		zap.Int("entities", a.sim.World().Len()),
		zap.Float64("step_size", a.sim.StepSize()))
	return nil
}

func (a *SimulatorActor) Receive(ctx *actor.ReceiveContext) {
	switch msg := ctx.Message().(type) {
	case *goaktpb.PostStart:
		a.logger.Debug("simulator actor started", zap.String("actor", ctx.Self().Name()))

	case *timestamppb.Timestamp:
		a.ticks++
		steps, err := a.sim.StepAt(msg.AsTime())
		if err != nil {
			a.logger.Warn("step reported errors", zap.Uint64("tick", a.ticks), zap.Error(err))
		}
		a.pushFrame(steps, err)

	case *structpb.Struct:
		if err := ApplySettings(a.sim.World(), msg); err != nil {
			a.logger.Warn("settings rejected", zap.Error(err))
			return
		}
		a.logger.Info("settings updated",
			zap.Any("weights", a.sim.World().Weights()),
			zap.Float64("bounds_radius", a.sim.World().BoundsRadius()))

	case *emptypb.Empty:
		a.pushFrame(0, nil)

	default:
		ctx.Unhandled()
	}
}

func (a *SimulatorActor) PostStop(ctx *actor.Context) error {
	a.logger.Info("simulator actor stopped",
		zap.String("actor", ctx.ActorName()),
		zap.Uint64("ticks", a.ticks),
		zap.Uint64("steps", a.sim.TotalSteps()),
		zap.Float64("sim_time", a.sim.SimulationTime()))
	return nil
}

func (a *SimulatorActor) pushFrame(steps int, err error) {
	if a.frames == nil {
		return
	}
	frame := &Frame{
		Tick:     a.ticks,
		SimTime:  a.sim.SimulationTime(),
		Steps:    steps,
		Entities: a.sim.World().Snapshot(),
		Err:      err,
	}
	if a.withNodes {
		frame.Nodes = a.sim.World().Nodes()
	}

	select {
	case a.frames <- frame:
	default:
		// observer busy, skip frame
	}
}

// ApplySettings applies a partial update of the behavior weights and the
// bounds radius. Unknown keys and negative or non-numeric values reject the
// whole update.
func ApplySettings(w *simulation.World, s *structpb.Struct) error {
	weights := w.Weights()
	bounds := w.BoundsRadius()

	fields := map[string]*float64{
		"visionRadius":     &weights.VisionRadius,
		"cohesionWeight":   &weights.CohesionWeight,
		"separationWeight": &weights.SeparationWeight,
		"alignmentWeight":  &weights.AlignmentWeight,
		"collideWeight":    &weights.CollideWeight,
		"boundsRadius":     &bounds,
	}

	for key, value := range s.GetFields() {
		dst, ok := fields[key]
		if !ok {
			return fmt.Errorf("unknown setting %q", key)
		}
		n, ok := value.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return fmt.Errorf("setting %q must be a number", key)
		}
		if n.NumberValue < 0 || math.IsNaN(n.NumberValue) || math.IsInf(n.NumberValue, 0) {
			return fmt.Errorf("setting %q must be finite and non-negative, got %v", key, n.NumberValue)
		}
		*dst = n.NumberValue
	}
	if bounds <= 0 {
		return fmt.Errorf("boundsRadius must be positive, got %v", bounds)
	}

	w.SetWeights(weights)
	w.SetBoundsRadius(bounds)
	return nil
}

// Settings encodes weights and bounds in the form accepted by ApplySettings.
func Settings(weights simulation.Weights, boundsRadius float64) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"visionRadius":     weights.VisionRadius,
		"cohesionWeight":   weights.CohesionWeight,
		"separationWeight": weights.SeparationWeight,
		"alignmentWeight":  weights.AlignmentWeight,
		"collideWeight":    weights.CollideWeight,
		"boundsRadius":     boundsRadius,
	})
}
