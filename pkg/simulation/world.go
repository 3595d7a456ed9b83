package simulation

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/geometry"
	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/octree"
)

var (
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrDuplicateEntity = errors.New("entity already in world")
	// ErrNonFiniteMotion reports a step whose result is not finite; the entity keeps its pre-step state.
	ErrNonFiniteMotion = errors.New("non-finite motion")
)

// World owns the entities, the containment sphere, the behavior weights and
// the spatial index of the current step.
// It is not safe for concurrent use: callers step it from a single goroutine
// and change weights or bounds only between steps.
type World struct {
	entities []*Entity
	byID     map[uint64]int
	nextID   uint64

	boundsRadius float64
	weights      Weights
	physics      Physics
	maxDepth     int
	workers      int

	integrator Integrator
	index      *octree.Tree[*Entity]
	next       []motion

	logger *zap.Logger
}

// NewWorld creates an empty world from the world, weights and physics sections of cfg.
// A nil logger disables logging.
func NewWorld(cfg *Config, logger *zap.Logger) *World {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &World{
		byID:         make(map[uint64]int),
		nextID:       1,
		boundsRadius: cfg.BoundsRadius,
		weights:      cfg.Weights,
		physics:      cfg.Physics,
		maxDepth:     cfg.OctreeMaxDepth,
		workers:      workers,
		integrator:   ExplicitEuler{},
		logger:       logger,
	}
}

// Add assigns an ID to e and appends it to the world.
// Adding an entity that is already part of the world fails with ErrDuplicateEntity.
func (w *World) Add(e *Entity) (uint64, error) {
	if i, ok := w.byID[e.ID]; ok && w.entities[i] == e {
		return 0, fmt.Errorf("%w: %d", ErrDuplicateEntity, e.ID)
	}
	e.ID = w.nextID
	w.nextID++
	w.byID[e.ID] = len(w.entities)
	w.entities = append(w.entities, e)
	return e.ID, nil
}

// Remove deletes the entity with the given ID, keeping the order of the others.
func (w *World) Remove(id uint64) error {
	i, ok := w.byID[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	w.entities = append(w.entities[:i], w.entities[i+1:]...)
	delete(w.byID, id)
	for j := i; j < len(w.entities); j++ {
		w.byID[w.entities[j].ID] = j
	}
	return nil
}

// Get returns the entity with the given ID.
func (w *World) Get(id uint64) (*Entity, error) {
	i, ok := w.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	return w.entities[i], nil
}

// Len returns the number of entities.
func (w *World) Len() int {
	return len(w.entities)
}

func (w *World) Weights() Weights {
	return w.weights
}

// SetWeights replaces the behavior weights; they apply from the next step.
func (w *World) SetWeights(weights Weights) {
	w.weights = weights
}

func (w *World) BoundsRadius() float64 {
	return w.boundsRadius
}

// SetBoundsRadius resizes the containment sphere; it applies from the next step.
func (w *World) SetBoundsRadius(r float64) {
	w.boundsRadius = r
}

// SetIntegrator substitutes the integration scheme used by boids.
func (w *World) SetIntegrator(in Integrator) {
	w.integrator = in
}

func (w *World) environment() Environment {
	return Environment{
		Weights:      w.weights,
		BoundsRadius: w.boundsRadius,
		Physics:      w.physics,
	}
}

// Step rebuilds the spatial index from the current positions, then advances
// every entity by dt. All entities read the same pre-step configuration: new
// states are buffered and applied only once every entity has been computed.
// Entities with non-finite positions are left out of the index, are not
// advanced and are reported in the returned error; so are boids whose step
// would produce a non-finite state. The step still completes for the others.
func (w *World) Step(simTime, dt float64) error {
	index, rejected := w.rebuildIndex()
	w.index = index

	if cap(w.next) < len(w.entities) {
		w.next = make([]motion, len(w.entities))
	}
	w.next = w.next[:len(w.entities)]

	env := w.environment()
	var diverged error
	if w.workers > 1 && len(w.entities) > w.workers {
		diverged = w.advanceParallel(env, dt)
	} else {
		diverged = w.advanceRange(env, dt, 0, len(w.entities))
	}
	if diverged != nil {
		w.logger.Warn("entities kept their pre-step state",
			zap.Float64("sim_time", simTime),
			zap.Int("count", len(multierr.Errors(diverged))))
	}

	for i, e := range w.entities {
		w.next[i].apply(e)
	}

	w.logger.Debug("world step",
		zap.Float64("sim_time", simTime),
		zap.Float64("dt", dt),
		zap.Int("entities", len(w.entities)),
		zap.Int("indexed", index.Len()))
	return multierr.Append(rejected, diverged)
}

// rebuildIndex builds a fresh octree covering the bounds sphere.
func (w *World) rebuildIndex() (*octree.Tree[*Entity], error) {
	index := octree.New[*Entity](geometry.Zero, w.boundsRadius, w.maxDepth)
	var errs error
	for _, e := range w.entities {
		if err := index.Insert(e.Position, e); err != nil {
			w.logger.Warn("entity rejected from index",
				zap.Uint64("id", e.ID),
				zap.Stringer("position", e.Position),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("entity %d: %w", e.ID, err))
		}
	}
	return index, errs
}

// advanceParallel splits the entity phase in contiguous chunks, one goroutine each.
func (w *World) advanceParallel(env Environment, dt float64) error {
	chunk := (len(w.entities) + w.workers - 1) / w.workers
	errs := make([]error, (len(w.entities)+chunk-1)/chunk)
	var wg sync.WaitGroup
	for c := range errs {
		start := c * chunk
		end := min(start+chunk, len(w.entities))
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[c] = w.advanceRange(env, dt, start, end)
		}()
	}
	wg.Wait()
	return multierr.Combine(errs...)
}

// advanceRange computes the next state of entities [start, end) into w.next.
// It only reads entities and the index, so disjoint ranges may run concurrently.
// A boid whose integrated state is not finite keeps its pre-step state and is reported.
func (w *World) advanceRange(env Environment, dt float64, start, end int) error {
	var (
		neighbors []*Entity
		errs      error
	)
	for i := start; i < end; i++ {
		e := w.entities[i]
		if !e.Position.IsFinite() {
			w.next[i] = motion{skip: true}
			continue
		}

		switch e.Kind {
		case KindBoid:
			neighbors = w.neighbors(neighbors[:0], e, env.Weights)
			acc := ComputeAcceleration(e, neighbors, env)
			pos, vel := w.integrator.Integrate(e.Position, e.Velocity, acc, dt, env.Physics.MaxSpeed)
			if !pos.IsFinite() || !vel.IsFinite() {
				w.next[i] = motion{skip: true}
				errs = multierr.Append(errs, fmt.Errorf("entity %d: %w", e.ID, ErrNonFiniteMotion))
				continue
			}
			w.next[i] = motion{position: pos, velocity: vel, acceleration: acc, neighbors: len(neighbors)}
		default:
			// obstacles drift with their own velocity and feel no forces
			w.next[i] = motion{
				position:  e.Position.Add(e.Velocity.Mul(dt)),
				velocity:  e.Velocity,
				neighbors: e.Neighbors,
			}
		}
	}
	return errs
}

// neighbors appends the entities within the vision radius of e, e excluded.
func (w *World) neighbors(dst []*Entity, e *Entity, weights Weights) []*Entity {
	found := w.index.SearchInto(dst, e.Position, e.vision(weights))
	for i, other := range found {
		if other == e {
			return append(found[:i], found[i+1:]...)
		}
	}
	return found
}

// Neighbors returns the entities the given entity sees in the current index.
// It returns nil before the first step.
func (w *World) Neighbors(id uint64) ([]*Entity, error) {
	e, err := w.Get(id)
	if err != nil {
		return nil, err
	}
	if w.index == nil {
		return nil, nil
	}
	return w.neighbors(nil, e, w.weights), nil
}

// Snapshot copies every entity into its read-only form, in insertion order.
func (w *World) Snapshot() []EntityState {
	out := make([]EntityState, len(w.entities))
	for i, e := range w.entities {
		out[i] = e.State()
	}
	return out
}

// Nodes enumerates the nodes of the current index for debug overlays.
func (w *World) Nodes() []octree.NodeInfo {
	if w.index == nil {
		return nil
	}
	return w.index.Nodes()
}
