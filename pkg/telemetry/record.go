package telemetry

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gonum.org/v1/gonum/stat"

	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/engine"
	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/simulation"
)

// Record summarizes one frame of a run.
type Record struct {
	RunID   string  `csv:"run_id"`
	Tick    uint64  `csv:"tick"`
	SimTime float64 `csv:"sim_time"`
	Steps   int     `csv:"steps"`

	Boids     int `csv:"boids"`
	Obstacles int `csv:"obstacles"`

	// Boid speed distribution
	MeanSpeed float64 `csv:"mean_speed"`
	SpeedStd  float64 `csv:"speed_std"`
	P10Speed  float64 `csv:"p10_speed"`
	P50Speed  float64 `csv:"p50_speed"`
	P90Speed  float64 `csv:"p90_speed"`

	// Mean distance of boids from the origin
	MeanRadius    float64 `csv:"mean_radius"`
	OutsideBounds int     `csv:"outside_bounds"`

	MeanNeighbors float64 `csv:"mean_neighbors"`
	IndexNodes    int     `csv:"index_nodes"`
	Errors        int     `csv:"errors"`
}

// Summarize computes the record of a frame. boundsRadius is used to count the
// boids outside the containment sphere.
func Summarize(runID string, f *engine.Frame, boundsRadius float64) Record {
	r := Record{
		RunID:      runID,
		Tick:       f.Tick,
		SimTime:    f.SimTime,
		Steps:      f.Steps,
		IndexNodes: len(f.Nodes),
	}
	if f.Err != nil {
		r.Errors = 1
		if u, ok := f.Err.(interface{ Unwrap() []error }); ok {
			r.Errors = len(u.Unwrap())
		}
	}

	speeds := make([]float64, 0, len(f.Entities))
	radii := make([]float64, 0, len(f.Entities))
	neighbors := make([]float64, 0, len(f.Entities))
	for _, e := range f.Entities {
		if e.Kind != simulation.KindBoid {
			r.Obstacles++
			continue
		}
		r.Boids++
		dist := e.Position.Len()
		if dist > boundsRadius {
			r.OutsideBounds++
		}
		speeds = append(speeds, e.Velocity.Len())
		radii = append(radii, dist)
		neighbors = append(neighbors, float64(e.Neighbors))
	}
	if r.Boids == 0 {
		return r
	}

	r.MeanSpeed, r.SpeedStd = stat.MeanStdDev(speeds, nil)
	if r.Boids < 2 {
		r.SpeedStd = 0
	}
	sort.Float64s(speeds)
	r.P10Speed = stat.Quantile(0.1, stat.Empirical, speeds, nil)
	r.P50Speed = stat.Quantile(0.5, stat.Empirical, speeds, nil)
	r.P90Speed = stat.Quantile(0.9, stat.Empirical, speeds, nil)
	r.MeanRadius = stat.Mean(radii, nil)
	r.MeanNeighbors = stat.Mean(neighbors, nil)
	return r
}

// MarshalLogObject lets a record be logged with zap.Object.
func (r Record) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("tick", r.Tick)
	enc.AddFloat64("sim_time", r.SimTime)
	enc.AddInt("steps", r.Steps)
	enc.AddInt("boids", r.Boids)
	enc.AddFloat64("mean_speed", r.MeanSpeed)
	enc.AddFloat64("p90_speed", r.P90Speed)
	enc.AddFloat64("mean_radius", r.MeanRadius)
	enc.AddInt("outside_bounds", r.OutsideBounds)
	enc.AddFloat64("mean_neighbors", r.MeanNeighbors)
	return nil
}

var _ zapcore.ObjectMarshaler = Record{}

// Field is a shorthand for zap.Object("telemetry", r).
func (r Record) Field() zap.Field {
	return zap.Object("telemetry", r)
}
