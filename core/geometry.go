package core

import "math"

// Vec3 is a cartesian position in metres.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// ClosestIndex returns the index of the candidate nearest to target, or -1
// when there are no candidates. Ties go to the lower index.
func ClosestIndex(target Vec3, candidates []Vec3) int {
	best := -1
	bestDist := math.Inf(1)
	for i, c := range candidates {
		if d := target.DistanceTo(c); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}
