package engine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/simulation"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newSimulator(t *testing.T) *simulation.Simulator {
	t.Helper()
	cfg := simulation.DefaultConfig()
	cfg.StepSize = 0.25
	cfg.Population.Boids = 30
	cfg.Population.Obstacles = 3

	w := simulation.NewWorld(cfg, nil)
	if err := simulation.Populate(w, cfg.Population, simulation.NewRand(cfg.Seed)); err != nil {
		t.Fatalf("Populate failed: %v", err)
	}
	return simulation.NewSimulator(w, cfg, fixedClock{start}, nil)
}

func nextFrame(t *testing.T, e *Engine) *Frame {
	t.Helper()
	select {
	case f := <-e.Frames():
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func TestEngine_TickProducesFrames(t *testing.T) {
	ctx := context.Background()
	sim := newSimulator(t)

	e, err := Start(ctx, "engine-test", sim, Options{WithNodes: true}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = e.Stop(ctx) }()

	if err := e.Tick(ctx, start.Add(500*time.Millisecond)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	f := nextFrame(t, e)
	if f.Tick != 1 || f.Steps != 2 || f.SimTime != 0.5 {
		t.Errorf("frame = tick %d, steps %d, sim time %v; want 1, 2, 0.5", f.Tick, f.Steps, f.SimTime)
	}
	if len(f.Entities) != 33 {
		t.Errorf("frame holds %d entities; want 33", len(f.Entities))
	}
	if len(f.Nodes) == 0 {
		t.Error("frame has no index nodes")
	}
	if f.Err != nil {
		t.Errorf("unexpected step error: %v", f.Err)
	}

	// a sample inside the same step only accumulates
	if err := e.Tick(ctx, start.Add(600*time.Millisecond)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if f := nextFrame(t, e); f.Tick != 2 || f.Steps != 0 {
		t.Errorf("second frame = tick %d, steps %d; want 2, 0", f.Tick, f.Steps)
	}
}

func TestEngine_UpdateSettings(t *testing.T) {
	ctx := context.Background()
	sim := newSimulator(t)

	e, err := Start(ctx, "engine-settings-test", sim, Options{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = e.Stop(ctx) }()

	weights := simulation.Weights{VisionRadius: 50, CohesionWeight: 1, SeparationWeight: 2, AlignmentWeight: 3, CollideWeight: 4}
	if err := e.UpdateSettings(ctx, weights, 900); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if err := e.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	f := nextFrame(t, e)
	if f.Steps != 0 || f.SimTime != 0 {
		t.Errorf("refresh stepped the world: %+v", f)
	}
	if got := sim.World().Weights(); got != weights {
		t.Errorf("weights = %+v; want %+v", got, weights)
	}
	if got := sim.World().BoundsRadius(); got != 900 {
		t.Errorf("bounds radius = %v; want 900", got)
	}
	if len(f.Nodes) != 0 {
		t.Error("nodes attached without WithNodes")
	}
}

func TestApplySettings(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]interface{}
		wantErr bool
	}{
		{"partial update", map[string]interface{}{"cohesionWeight": 5.0}, false},
		{"unknown key", map[string]interface{}{"gravity": 9.81}, true},
		{"not a number", map[string]interface{}{"visionRadius": "far"}, true},
		{"negative", map[string]interface{}{"separationWeight": -1.0}, true},
		{"zero bounds", map[string]interface{}{"boundsRadius": 0.0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := simulation.DefaultConfig()
			w := simulation.NewWorld(cfg, nil)
			s, err := structpb.NewStruct(tt.fields)
			if err != nil {
				t.Fatalf("NewStruct failed: %v", err)
			}

			err = ApplySettings(w, s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplySettings error = %v; wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if w.Weights() != cfg.Weights || w.BoundsRadius() != cfg.BoundsRadius {
					t.Error("rejected update changed the world")
				}
				return
			}

			want := cfg.Weights
			want.CohesionWeight = 5
			if w.Weights() != want {
				t.Errorf("weights = %+v; want %+v", w.Weights(), want)
			}
		})
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	w := simulation.NewWorld(simulation.DefaultConfig(), nil)
	weights := simulation.Weights{VisionRadius: 10, CohesionWeight: 20, SeparationWeight: 30, AlignmentWeight: 40, CollideWeight: 50}

	s, err := Settings(weights, 1234)
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if err := ApplySettings(w, s); err != nil {
		t.Fatalf("ApplySettings failed: %v", err)
	}
	if w.Weights() != weights || w.BoundsRadius() != 1234 {
		t.Errorf("got %+v / %v", w.Weights(), w.BoundsRadius())
	}
}
