package simulation

import (
	"math"
	"testing"

	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/geometry"
)

func testEnv(w Weights) Environment {
	cfg := DefaultConfig()
	return Environment{
		Weights:      w,
		BoundsRadius: cfg.BoundsRadius,
		Physics:      cfg.Physics,
	}
}

func TestComputeAcceleration_Separation(t *testing.T) {
	// Me at origin, friend at (1,0,0): pushed toward negative X only.
	env := testEnv(Weights{VisionRadius: 10, SeparationWeight: 1})
	me := NewBoid(geometry.Zero, geometry.Zero)
	friend := NewBoid(geometry.Vector3{X: 1}, geometry.Zero)

	acc := ComputeAcceleration(me, []*Entity{me, friend}, env)

	if acc.X >= 0 {
		t.Errorf("Expected negative ax (separation), got %f", acc.X)
	}
	if acc.Y != 0 || acc.Z != 0 {
		t.Errorf("Expected no lateral acceleration, got %v", acc)
	}
}

func TestComputeAcceleration_CohesionInverseSquare(t *testing.T) {
	// The center is the sum of the peer positions over (peers+1), self excluded,
	// and the pull is weight / |center - me|^2 along the direction to it.
	env := testEnv(Weights{VisionRadius: 100, CohesionWeight: 1})

	tests := []struct {
		name    string
		me      geometry.Vector3
		friends []geometry.Vector3
		want    geometry.Vector3
	}{
		{
			name:    "me at origin, friend at 10",
			friends: []geometry.Vector3{{X: 10}},
			want:    geometry.Vector3{X: 1.0 / 25},
		},
		{
			name:    "me at origin, friend at 40",
			friends: []geometry.Vector3{{X: 40}},
			want:    geometry.Vector3{X: 1.0 / 400},
		},
		{
			// center (55,0,0) lies behind me: the pull points away from the friend
			name:    "away from origin, friend ahead",
			me:      geometry.Vector3{X: 100},
			friends: []geometry.Vector3{{X: 110}},
			want:    geometry.Vector3{X: -1.0 / (45 * 45)},
		},
		{
			name:    "away from origin, friend behind",
			me:      geometry.Vector3{X: 100},
			friends: []geometry.Vector3{{X: 90}},
			want:    geometry.Vector3{X: -1.0 / (55 * 55)},
		},
		{
			// center (0,0,20) is 10 below me
			name:    "two friends level with me",
			me:      geometry.Vector3{Z: 30},
			friends: []geometry.Vector3{{X: 10, Z: 30}, {X: -10, Z: 30}},
			want:    geometry.Vector3{Z: -1.0 / 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			me := NewBoid(tt.me, geometry.Zero)
			var neighbors []*Entity
			for _, p := range tt.friends {
				neighbors = append(neighbors, NewBoid(p, geometry.Zero))
			}

			acc := ComputeAcceleration(me, neighbors, env)
			if math.Abs(acc.X-tt.want.X) > 1e-12 || math.Abs(acc.Y-tt.want.Y) > 1e-12 || math.Abs(acc.Z-tt.want.Z) > 1e-12 {
				t.Errorf("cohesion = (%g, %g, %g); want (%g, %g, %g)",
					acc.X, acc.Y, acc.Z, tt.want.X, tt.want.Y, tt.want.Z)
			}
		})
	}
}

func TestComputeAcceleration_Alignment(t *testing.T) {
	env := testEnv(Weights{VisionRadius: 20, AlignmentWeight: 1})
	me := NewBoid(geometry.Zero, geometry.Zero)
	friend := NewBoid(geometry.Vector3{X: 5}, geometry.Vector3{Y: 3})

	acc := ComputeAcceleration(me, []*Entity{friend}, env)

	if !acc.Eq(geometry.Vector3{Y: 1}) {
		t.Errorf("Expected unit alignment along +Y, got %v", acc)
	}
}

func TestComputeAcceleration_CloseNeighborsStayFinite(t *testing.T) {
	env := testEnv(DefaultConfig().Weights)
	me := NewBoid(geometry.Zero, geometry.Vector3{X: 1})

	tests := []struct {
		name   string
		friend geometry.Vector3
	}{
		{"very close", geometry.Vector3{X: 1e-12}},
		{"close on a diagonal", geometry.Vector3{X: 1e-9, Y: -1e-9, Z: 1e-9}},
		{"coincident", geometry.Zero},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := ComputeAcceleration(me, []*Entity{NewBoid(tt.friend, geometry.Zero)}, env)
			if !acc.IsFinite() {
				t.Fatalf("acceleration is not finite: %v", acc)
			}
		})
	}

	// without cohesion the closest peer dominates and pushes away
	env.Weights.CohesionWeight = 0
	acc := ComputeAcceleration(me, []*Entity{NewBoid(geometry.Vector3{X: 1e-12}, geometry.Zero)}, env)
	if acc.X >= 0 {
		t.Errorf("Expected negative repulsion, got %v", acc)
	}
}

func TestComputeAcceleration_Obstacle(t *testing.T) {
	env := testEnv(Weights{VisionRadius: 200, CollideWeight: 2})
	me := NewBoid(geometry.Zero, geometry.Zero)
	rock := NewObstacle(geometry.Vector3{X: 10}, 5)

	// obstacles alone still repel, without cohesion toward them
	acc := ComputeAcceleration(me, []*Entity{rock}, env)
	if !acc.Eq(geometry.Vector3{X: -2}) {
		t.Errorf("obstacle acceleration = %v; want (-2, 0, 0)", acc)
	}

	// inside the shell the push is still finite
	inside := NewObstacle(geometry.Vector3{X: 1}, 5)
	if acc := ComputeAcceleration(me, []*Entity{inside}, env); !acc.IsFinite() || acc.X >= 0 {
		t.Errorf("acceleration inside obstacle = %v; want finite and negative X", acc)
	}
}

func TestComputeAcceleration_ObstacleHeadingBias(t *testing.T) {
	env := testEnv(Weights{VisionRadius: 200, CollideWeight: 1})
	me := NewBoid(geometry.Zero, geometry.Vector3{Y: 150})
	rock := NewObstacle(geometry.Vector3{X: 10}, 5)

	acc := ComputeAcceleration(me, []*Entity{rock}, env)

	// normal (-150, 0, 0) plus heading (0, 150, 0): pushed back and along the heading
	want := geometry.Vector3{X: -1, Y: 1}.Normalize()
	if !acc.Eq(want) {
		t.Errorf("biased obstacle acceleration = %v; want %v", acc, want)
	}
}

func TestComputeAcceleration_NoNeighbors(t *testing.T) {
	env := testEnv(DefaultConfig().Weights)
	me := NewBoid(geometry.Vector3{X: 100}, geometry.Vector3{X: 5})

	if acc := ComputeAcceleration(me, nil, env); acc != geometry.Zero {
		t.Errorf("lonely boid inside bounds accelerates: %v", acc)
	}
	if acc := ComputeAcceleration(me, []*Entity{me}, env); acc != geometry.Zero {
		t.Errorf("boid counted itself as a neighbor: %v", acc)
	}
}

func TestBoundaryAcceleration(t *testing.T) {
	for _, policy := range []string{BoundaryLogarithmic, BoundaryQuadratic} {
		t.Run(policy, func(t *testing.T) {
			env := testEnv(Weights{})
			env.Physics.BoundaryPolicy = policy

			if acc := BoundaryAcceleration(geometry.Vector3{X: 2499}, env); acc != geometry.Zero {
				t.Errorf("inside bounds got %v", acc)
			}

			previous := 0.0
			for _, r := range []float64{2500.5, 2501, 2600, 5000, 1e5} {
				pos := geometry.Vector3{X: r, Y: r / 2, Z: -r}.Normalize().Mul(r)
				acc := BoundaryAcceleration(pos, env)
				if acc.Dot(pos) >= 0 {
					t.Errorf("at radius %v acceleration %v does not point toward the origin", r, acc)
				}
				if acc.Len() <= previous {
					t.Errorf("at radius %v magnitude %v did not increase past %v", r, acc.Len(), previous)
				}
				previous = acc.Len()
			}
		})
	}

	env := testEnv(Weights{})
	acc := BoundaryAcceleration(geometry.Vector3{X: 3000}, env)
	if want := -100 * math.Log(501); math.Abs(acc.X-want) > 1e-9 {
		t.Errorf("logarithmic term = %v; want %v", acc.X, want)
	}
}

func TestExplicitEuler_ClampsVelocity(t *testing.T) {
	maxSpeed := geometry.Vector3{X: 200, Y: 100, Z: 50}
	pos, vel := ExplicitEuler{}.Integrate(
		geometry.Zero,
		geometry.Vector3{X: 10},
		geometry.Vector3{X: 1e12, Y: -1e12, Z: 30},
		0.01,
		maxSpeed,
	)

	if !vel.Eq(geometry.Vector3{X: 200, Y: -100, Z: 0.3}) {
		t.Errorf("velocity = %v; want (200, -100, 0.3)", vel)
	}
	if !pos.Eq(vel.Mul(0.01)) {
		t.Errorf("position = %v; want velocity*dt %v", pos, vel.Mul(0.01))
	}
}
