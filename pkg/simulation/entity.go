package simulation

import "github.com/lao-tseu-is-alive/go-flock-simulation/pkg/geometry"

// Kind discriminates how an entity takes part in neighbor processing.
type Kind uint8

const (
	// KindBoid flocks with its peers and steers around obstacles.
	KindBoid Kind = iota
	// KindObstacle is a solid sphere that only repels boids.
	KindObstacle
)

func (k Kind) String() string {
	switch k {
	case KindBoid:
		return "boid"
	case KindObstacle:
		return "obstacle"
	default:
		return "unknown"
	}
}

// Entity is a boid or an obstacle owned by a World.
// A boid's fields are written only by its own step; obstacles never query neighbors.
type Entity struct {
	ID   uint64
	Kind Kind

	Position     geometry.Vector3
	Velocity     geometry.Vector3
	Acceleration geometry.Vector3

	// Radius is the physical radius of the entity.
	Radius float64
	// VisionRadius overrides Weights.VisionRadius for this boid when positive.
	VisionRadius float64

	// Neighbors is the number of peers and obstacles seen during the last step.
	Neighbors int
}

// NewBoid creates a boid with the default physical radius of 1.
func NewBoid(pos, vel geometry.Vector3) *Entity {
	return &Entity{
		Kind:     KindBoid,
		Position: pos,
		Velocity: vel,
		Radius:   1,
	}
}

// NewObstacle creates a static obstacle sphere.
func NewObstacle(pos geometry.Vector3, radius float64) *Entity {
	return &Entity{
		Kind:     KindObstacle,
		Position: pos,
		Radius:   radius,
	}
}

// DistanceTo gives the cartesian distance from this Entity and the other
func (e *Entity) DistanceTo(other *Entity) float64 {
	return e.Position.DistanceTo(other.Position)
}

// DistanceSquaredTo gives squared magnitude of the vector from this Entity and the other
func (e *Entity) DistanceSquaredTo(other *Entity) float64 {
	return e.Position.DistanceSquaredTo(other.Position)
}

func (e *Entity) vision(w Weights) float64 {
	if e.VisionRadius > 0 {
		return e.VisionRadius
	}
	return w.VisionRadius
}

// EntityState is the read-only view of an entity handed to collaborators.
type EntityState struct {
	ID        uint64           `json:"id"`
	Kind      Kind             `json:"kind"`
	Position  geometry.Vector3 `json:"position"`
	Velocity  geometry.Vector3 `json:"velocity"`
	Radius    float64          `json:"radius"`
	Neighbors int              `json:"neighbors"`
}

// State copies the entity into its snapshot form.
func (e *Entity) State() EntityState {
	return EntityState{
		ID:        e.ID,
		Kind:      e.Kind,
		Position:  e.Position,
		Velocity:  e.Velocity,
		Radius:    e.Radius,
		Neighbors: e.Neighbors,
	}
}
