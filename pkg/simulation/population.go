package simulation

import (
	"math/rand/v2"

	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/geometry"
)

// NewRand returns the deterministic generator used to populate worlds.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Populate adds the boids of pop, spread uniformly in a cube of half edge
// SpawnExtent with random headings, followed by randomly sized obstacles
// spread in a cube of half edge ObstacleExtent.
func Populate(w *World, pop PopulationConfig, rng *rand.Rand) error {
	for i := 0; i < pop.Boids; i++ {
		b := NewBoid(
			randomIn(rng, pop.SpawnExtent),
			randomIn(rng, pop.InitialSpeed),
		)
		b.Radius = pop.BoidRadius
		if _, err := w.Add(b); err != nil {
			return err
		}
	}

	for i := 0; i < pop.Obstacles; i++ {
		radius := rng.Float64()*pop.ObstacleRadiusRange + pop.ObstacleMinRadius
		if _, err := w.Add(NewObstacle(randomIn(rng, pop.ObstacleExtent), radius)); err != nil {
			return err
		}
	}
	return nil
}

// randomIn returns a point uniformly distributed in [-extent, extent]^3.
func randomIn(rng *rand.Rand, extent float64) geometry.Vector3 {
	return geometry.Vector3{
		X: rng.Float64()*2*extent - extent,
		Y: rng.Float64()*2*extent - extent,
		Z: rng.Float64()*2*extent - extent,
	}
}
