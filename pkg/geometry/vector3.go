package geometry

import (
	"fmt"
	"math"
)

// Epsilon Precision constant used for approximate float64 comparisons.
const (
	Epsilon = 1e-9
)

// Vector3 represents a 3D vector or point in cartesian space.
// Fields are public because they are plain data: v := Vector3{1, 2, 3}
// Every method uses a value receiver and returns a new value, so a Vector3
// can be shared freely between entities without aliasing.
type Vector3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Zero is the origin.
var Zero = Vector3{}

// NewVector creates a new Vector3.
func NewVector(x, y, z float64) Vector3 {
	return Vector3{X: x, Y: y, Z: z}
}

// Splat returns a vector with the same value on every axis.
func Splat(s float64) Vector3 {
	return Vector3{s, s, s}
}

// String implements the fmt.Stringer interface.
func (v Vector3) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", v.X, v.Y, v.Z)
}

// ---------------------------------------------------------------------
// Arithmetic Operations
// ---------------------------------------------------------------------

// Add adds two vectors and returns the result.
func (v Vector3) Add(other Vector3) Vector3 {
	return Vector3{v.X + other.X, v.Y + other.Y, v.Z + other.Z}
}

// Sub subtracts the other vector from the current vector.
func (v Vector3) Sub(other Vector3) Vector3 {
	return Vector3{v.X - other.X, v.Y - other.Y, v.Z - other.Z}
}

// Mul scales the vector by a scalar value.
func (v Vector3) Mul(scalar float64) Vector3 {
	return Vector3{v.X * scalar, v.Y * scalar, v.Z * scalar}
}

// Div scales the vector by 1/scalar.
// A zero scalar is treated as 1, the same substitution Normalize uses.
func (v Vector3) Div(scalar float64) Vector3 {
	if scalar == 0 {
		return v
	}
	return Vector3{v.X / scalar, v.Y / scalar, v.Z / scalar}
}

// Neg returns the opposite vector.
func (v Vector3) Neg() Vector3 {
	return Vector3{-v.X, -v.Y, -v.Z}
}

// ---------------------------------------------------------------------
// Vector Products
// ---------------------------------------------------------------------

// Dot calculates the dot product of two vectors.
func (v Vector3) Dot(other Vector3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Cross calculates the cross product v × other.
func (v Vector3) Cross(other Vector3) Vector3 {
	return Vector3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

// ---------------------------------------------------------------------
// Magnitude and Normalization
// ---------------------------------------------------------------------

// LenSqr calculates the squared magnitude of the vector.
// Use it for comparisons, it avoids the square root.
func (v Vector3) LenSqr() float64 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

// Len calculates the magnitude (length) of the vector.
func (v Vector3) Len() float64 {
	return math.Sqrt(v.LenSqr())
}

// Normalize returns a unit vector in the same direction.
// A zero magnitude is replaced by 1, so the zero vector normalizes to itself
// instead of producing NaN components.
func (v Vector3) Normalize() Vector3 {
	m := v.Len()
	if m == 0 {
		m = 1
	}
	return Vector3{v.X / m, v.Y / m, v.Z / m}
}

// Clamp limits each component to the symmetric range [-max, +max] of the matching axis.
func (v Vector3) Clamp(max Vector3) Vector3 {
	return Vector3{
		X: clampAbs(v.X, max.X),
		Y: clampAbs(v.Y, max.Y),
		Z: clampAbs(v.Z, max.Z),
	}
}

func clampAbs(value, limit float64) float64 {
	return math.Max(math.Min(value, limit), -limit)
}

// ---------------------------------------------------------------------
// Geometric Utilities
// ---------------------------------------------------------------------

// DistanceTo calculates the Euclidean distance to another vector.
func (v Vector3) DistanceTo(other Vector3) float64 {
	return v.Sub(other).Len()
}

// DistanceSquaredTo calculates the squared Euclidean distance to another vector.
func (v Vector3) DistanceSquaredTo(other Vector3) float64 {
	return v.Sub(other).LenSqr()
}

// Lerp (Linear Interpolate) calculates a point between v and target based on t [0, 1].
func (v Vector3) Lerp(target Vector3, t float64) Vector3 {
	return v.Add(target.Sub(v).Mul(t))
}

// IsFinite reports whether no component is NaN or infinite.
func (v Vector3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ---------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------

// Eq checks if two vectors are approximately equal using the Epsilon constant.
func (v Vector3) Eq(other Vector3) bool {
	return math.Abs(v.X-other.X) <= Epsilon &&
		math.Abs(v.Y-other.Y) <= Epsilon &&
		math.Abs(v.Z-other.Z) <= Epsilon
}
