package simulation

import (
	"math"

	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/geometry"
)

// minSeparation floors every distance used as an inverse-square divisor.
const minSeparation = 1e-6

// Environment is the read-only context a boid step needs: the behavior weights,
// the containment sphere and the physics constants. Entities receive it as a
// parameter instead of holding a reference to their World.
type Environment struct {
	Weights      Weights
	BoundsRadius float64
	Physics      Physics
}

// ComputeAcceleration returns the acceleration of self given the entities found
// within its vision radius. self is skipped if present in neighbors.
//
// Cohesion pulls toward the sum of the peer positions divided by the peer
// count plus one, scaled by CohesionWeight divided by the squared distance to
// that center, so the pull weakens with distance. Self is not part of the sum.
// Separation and alignment accumulate per-peer vectors weighted by inverse
// squared distance and are normalized before weighting.
// Obstacles push along their surface normal biased by the current heading,
// weighted by the inverse squared distance to their surface.
func ComputeAcceleration(self *Entity, neighbors []*Entity, env Environment) geometry.Vector3 {
	var (
		peers, obstacles int
		center           geometry.Vector3
		avoid, heading   geometry.Vector3
		collide          geometry.Vector3
	)

	for _, other := range neighbors {
		if other == self {
			continue
		}

		switch other.Kind {
		case KindObstacle:
			gap := math.Max(self.DistanceTo(other)-other.Radius, minSeparation)
			push := self.Position.Sub(other.Position).
				Mul(env.Physics.ObstacleHeadingBias).
				Add(self.Velocity).
				Normalize()
			collide = collide.Add(push.Mul(1 / (gap * gap)))
			obstacles++

		case KindBoid:
			distSq := math.Max(self.DistanceSquaredTo(other), minSeparation*minSeparation)
			center = center.Add(other.Position)
			avoid = avoid.Add(self.Position.Sub(other.Position).Normalize().Mul(1 / distSq))
			heading = heading.Add(other.Velocity.Mul(1 / distSq))
			peers++
		}
	}

	w := env.Weights
	acc := geometry.Zero

	if peers > 0 {
		center = center.Mul(1 / float64(peers+1))
		toCenter := center.Sub(self.Position)
		distSq := math.Max(toCenter.LenSqr(), minSeparation*minSeparation)
		acc = toCenter.Normalize().Mul(w.CohesionWeight / distSq)
		acc = acc.Add(avoid.Normalize().Mul(w.SeparationWeight))
		acc = acc.Add(heading.Normalize().Mul(w.AlignmentWeight))
	}
	if obstacles > 0 {
		acc = acc.Add(collide.Normalize().Mul(w.CollideWeight))
	}

	return acc.Add(BoundaryAcceleration(self.Position, env))
}

// BoundaryAcceleration returns the soft containment term for a position.
// It is zero inside the bounds sphere and otherwise points at the origin with a
// magnitude that strictly increases with the penetration depth.
func BoundaryAcceleration(pos geometry.Vector3, env Environment) geometry.Vector3 {
	penetration := pos.Len() - env.BoundsRadius
	if penetration <= 0 {
		return geometry.Zero
	}

	var magnitude float64
	switch env.Physics.BoundaryPolicy {
	case BoundaryQuadratic:
		magnitude = env.Physics.BoundaryStrength * penetration * penetration
	default:
		magnitude = env.Physics.BoundaryStrength * math.Log1p(penetration)
	}
	return pos.Normalize().Mul(-magnitude)
}

// Integrator advances a position and velocity by dt under a constant acceleration.
// The velocity must be limited componentwise to [-maxSpeed, +maxSpeed].
type Integrator interface {
	Integrate(pos, vel, acc geometry.Vector3, dt float64, maxSpeed geometry.Vector3) (geometry.Vector3, geometry.Vector3)
}

// ExplicitEuler is the forward Euler scheme: v' = clamp(v + a*dt), p' = p + v'*dt.
// It gains or loses energy at large dt; substitute another Integrator when that matters.
type ExplicitEuler struct{}

func (ExplicitEuler) Integrate(pos, vel, acc geometry.Vector3, dt float64, maxSpeed geometry.Vector3) (geometry.Vector3, geometry.Vector3) {
	vel = vel.Add(acc.Mul(dt)).Clamp(maxSpeed)
	return pos.Add(vel.Mul(dt)), vel
}

// motion is the next-step state of one entity, computed from the pre-step world.
type motion struct {
	position     geometry.Vector3
	velocity     geometry.Vector3
	acceleration geometry.Vector3
	neighbors    int
	skip         bool
}

func (m motion) apply(e *Entity) {
	if m.skip {
		return
	}
	e.Position = m.position
	e.Velocity = m.velocity
	e.Acceleration = m.acceleration
	e.Neighbors = m.neighbors
}
