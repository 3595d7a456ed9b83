package simulation

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/lao-tseu-is-alive/go-flock-simulation/pkg/geometry"
)

//go:embed config.schema.json
var configSchema string

// ErrInvalidConfig is wrapped by every error reported by Config.Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Boundary containment policies.
const (
	BoundaryLogarithmic = "logarithmic"
	BoundaryQuadratic   = "quadratic"
)

// Weights are the flocking behavior weights. They can be changed between steps.
type Weights struct {
	VisionRadius     float64 `json:"visionRadius" yaml:"visionRadius"`
	CohesionWeight   float64 `json:"cohesionWeight" yaml:"cohesionWeight"`
	SeparationWeight float64 `json:"separationWeight" yaml:"separationWeight"`
	AlignmentWeight  float64 `json:"alignmentWeight" yaml:"alignmentWeight"`
	CollideWeight    float64 `json:"collideWeight" yaml:"collideWeight"`
}

// Physics holds the integration and containment constants.
type Physics struct {
	MaxSpeed            geometry.Vector3 `json:"maxSpeed" yaml:"maxSpeed"` // per-axis velocity limit
	BoundaryStrength    float64          `json:"boundaryStrength" yaml:"boundaryStrength"`
	BoundaryPolicy      string           `json:"boundaryPolicy" yaml:"boundaryPolicy"`
	ObstacleHeadingBias float64          `json:"obstacleHeadingBias" yaml:"obstacleHeadingBias"` // weight of the surface normal against the current heading
}

// PopulationConfig describes the initial entities created by Populate.
type PopulationConfig struct {
	Boids               int     `json:"boids" yaml:"boids"`
	SpawnExtent         float64 `json:"spawnExtent" yaml:"spawnExtent"`
	InitialSpeed        float64 `json:"initialSpeed" yaml:"initialSpeed"`
	BoidRadius          float64 `json:"boidRadius" yaml:"boidRadius"`
	Obstacles           int     `json:"obstacles" yaml:"obstacles"`
	ObstacleExtent      float64 `json:"obstacleExtent" yaml:"obstacleExtent"`
	ObstacleMinRadius   float64 `json:"obstacleMinRadius" yaml:"obstacleMinRadius"`
	ObstacleRadiusRange float64 `json:"obstacleRadiusRange" yaml:"obstacleRadiusRange"`
}

type Config struct {
	// World
	BoundsRadius   float64 `json:"boundsRadius" yaml:"boundsRadius"`
	OctreeMaxDepth int     `json:"octreeMaxDepth" yaml:"octreeMaxDepth"`

	// Fixed-step driver
	StepSize        float64 `json:"stepSize" yaml:"stepSize"`
	MaxCatchUpSteps int     `json:"maxCatchUpSteps" yaml:"maxCatchUpSteps"`
	Workers         int     `json:"workers" yaml:"workers"` // >1 runs the entity phase in parallel

	Seed uint64 `json:"seed" yaml:"seed"`

	Weights    Weights          `json:"weights" yaml:"weights"`
	Physics    Physics          `json:"physics" yaml:"physics"`
	Population PopulationConfig `json:"population" yaml:"population"`
}

func DefaultConfig() *Config {
	return &Config{
		BoundsRadius:    2500,
		OctreeMaxDepth:  3,
		StepSize:        0.05,
		MaxCatchUpSteps: 10,
		Workers:         1,
		Seed:            1,
		Weights: Weights{
			VisionRadius:     200,
			CohesionWeight:   20,
			SeparationWeight: 20,
			AlignmentWeight:  20,
			CollideWeight:    20,
		},
		Physics: Physics{
			MaxSpeed:            geometry.Splat(200),
			BoundaryStrength:    100,
			BoundaryPolicy:      BoundaryLogarithmic,
			ObstacleHeadingBias: 15,
		},
		Population: PopulationConfig{
			Boids:               500,
			SpawnExtent:         1500,
			InitialSpeed:        10,
			BoidRadius:          1,
			Obstacles:           25,
			ObstacleExtent:      2000,
			ObstacleMinRadius:   100,
			ObstacleRadiusRange: 250,
		},
	}
}

// LoadConfig reads a JSON or YAML (.yaml, .yml) file, validates it against the
// embedded schema and overlays it onto DefaultConfig. Fields absent from the
// file keep their default value.
func LoadConfig(configFile string) (*Config, error) {
	sch, err := jsonschema.CompileString("config.schema.json", configSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	b, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(configFile)) {
	case ".yaml", ".yml":
		if b, err = yamlToJSON(b); err != nil {
			return nil, fmt.Errorf("failed to decode config yaml: %w", err)
		}
	}

	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("failed to decode config json: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON so that both formats share
// the same schema validation path.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// Validate checks the cross-field constraints the schema cannot express and
// returns every violation found.
func (c *Config) Validate() error {
	var err error
	invalid := func(format string, args ...interface{}) {
		err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, args...)...))
	}

	if c.BoundsRadius <= 0 {
		invalid("boundsRadius must be positive, got %v", c.BoundsRadius)
	}
	if c.OctreeMaxDepth < 0 || c.OctreeMaxDepth > 16 {
		invalid("octreeMaxDepth must be in [0, 16], got %d", c.OctreeMaxDepth)
	}
	if !(c.StepSize > 0) || math.IsInf(c.StepSize, 0) {
		invalid("stepSize must be positive and finite, got %v", c.StepSize)
	}
	if c.MaxCatchUpSteps < 1 {
		invalid("maxCatchUpSteps must be at least 1, got %d", c.MaxCatchUpSteps)
	}
	if c.Workers < 1 {
		invalid("workers must be at least 1, got %d", c.Workers)
	}

	w := c.Weights
	if w.VisionRadius < 0 || w.CohesionWeight < 0 || w.SeparationWeight < 0 || w.AlignmentWeight < 0 || w.CollideWeight < 0 {
		invalid("weights must not be negative: %+v", w)
	}

	p := c.Physics
	if p.MaxSpeed.X <= 0 || p.MaxSpeed.Y <= 0 || p.MaxSpeed.Z <= 0 {
		invalid("physics.maxSpeed must be positive on every axis, got %v", p.MaxSpeed)
	}
	if p.BoundaryStrength < 0 {
		invalid("physics.boundaryStrength must not be negative, got %v", p.BoundaryStrength)
	}
	switch p.BoundaryPolicy {
	case BoundaryLogarithmic, BoundaryQuadratic:
	default:
		invalid("unknown physics.boundaryPolicy %q", p.BoundaryPolicy)
	}

	pop := c.Population
	if pop.Boids < 0 || pop.Obstacles < 0 {
		invalid("population counts must not be negative: boids=%d obstacles=%d", pop.Boids, pop.Obstacles)
	}
	if pop.ObstacleMinRadius < 0 || pop.ObstacleRadiusRange < 0 || pop.BoidRadius < 0 {
		invalid("population radii must not be negative")
	}
	return err
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
