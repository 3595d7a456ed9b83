package simulation

import (
	"math"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Clock supplies wall-clock samples to a Simulator.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Simulator advances a World in fixed increments of StepSize, independently of
// how often and how irregularly Step is called. Wall time is accumulated and
// consumed one step at a time; the accumulator is capped so that a long stall
// triggers at most MaxCatchUpSteps steps on the next call.
type Simulator struct {
	world *World
	clock Clock

	stepSize    float64
	maxCatchUp  int
	accumulated float64
	simTime     float64
	totalSteps  uint64
	last        time.Time

	logger *zap.Logger
}

// NewSimulator creates a simulator for world using cfg.StepSize and
// cfg.MaxCatchUpSteps. A step size that is not a positive finite number and a
// catch-up limit below 1 fall back to their defaults.
// The first wall-clock sample is taken here, so the first Step only accounts
// for the time elapsed since construction.
// A nil clock uses time.Now, a nil logger disables logging.
func NewSimulator(world *World, cfg *Config, clock Clock, logger *zap.Logger) *Simulator {
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxCatchUp := cfg.MaxCatchUpSteps
	if maxCatchUp < 1 {
		maxCatchUp = 10
	}
	stepSize := cfg.StepSize
	if !(stepSize > 0) || math.IsInf(stepSize, 0) {
		stepSize = DefaultConfig().StepSize
		logger.Warn("invalid step size, using default",
			zap.Float64("step_size", cfg.StepSize),
			zap.Float64("default", stepSize))
	}
	return &Simulator{
		world:      world,
		clock:      clock,
		stepSize:   stepSize,
		maxCatchUp: maxCatchUp,
		last:       clock.Now(),
		logger:     logger,
	}
}

func (s *Simulator) World() *World { return s.world }

func (s *Simulator) StepSize() float64 { return s.stepSize }

// SimulationTime is the simulated time elapsed, always a multiple of StepSize.
func (s *Simulator) SimulationTime() float64 { return s.simTime }

// Accumulated is the wall time not yet consumed by a step.
func (s *Simulator) Accumulated() float64 { return s.accumulated }

// TotalSteps counts World steps since construction.
func (s *Simulator) TotalSteps() uint64 { return s.totalSteps }

// Step samples the clock and runs as many World steps as the accumulated time allows.
// It returns the number of steps executed.
func (s *Simulator) Step() (int, error) {
	return s.StepAt(s.clock.Now())
}

// StepAt is Step with a wall-clock sample supplied by the caller.
func (s *Simulator) StepAt(now time.Time) (int, error) {
	elapsed := now.Sub(s.last).Seconds()
	s.last = now
	return s.Advance(elapsed)
}

// Advance adds elapsed seconds to the accumulator and consumes it in fixed steps.
// Negative or NaN durations count as zero.
func (s *Simulator) Advance(elapsed float64) (int, error) {
	if elapsed < 0 || math.IsNaN(elapsed) {
		elapsed = 0
	}

	s.accumulated += elapsed
	if limit := float64(s.maxCatchUp) * s.stepSize; s.accumulated > limit {
		s.logger.Warn("simulation falling behind, dropping time",
			zap.Float64("dropped", s.accumulated-limit),
			zap.Int("max_steps", s.maxCatchUp))
		s.accumulated = limit
	}

	var errs error
	steps := 0
	for s.accumulated >= s.stepSize {
		if err := s.world.Step(s.simTime, s.stepSize); err != nil {
			errs = multierr.Append(errs, err)
		}
		s.accumulated -= s.stepSize
		s.simTime += s.stepSize
		s.totalSteps++
		steps++
	}

	if steps > 0 {
		s.logger.Debug("simulator advanced",
			zap.Int("steps", steps),
			zap.Float64("sim_time", s.simTime),
			zap.Float64("accumulated", s.accumulated))
	}
	return steps, errs
}
