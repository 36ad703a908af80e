// Package geometry holds the 2D measurements used on detector keypoints.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Point is a position in frame pixels.
type Point = r2.Vec

// Distance returns the Euclidean distance between p1 and p2.
func Distance(p1, p2 Point) float64 {
	return r2.Norm(r2.Sub(p1, p2))
}

// Midpoint returns the point halfway between p1 and p2.
func Midpoint(p1, p2 Point) Point {
	return r2.Scale(0.5, r2.Add(p1, p2))
}

// Degenerate reports whether either ray of the angle at vertex has zero length.
func Degenerate(p1, vertex, p3 Point) bool {
	return r2.Norm(r2.Sub(p1, vertex)) == 0 || r2.Norm(r2.Sub(p3, vertex)) == 0
}

// AngleAtVertex returns the angle in degrees, in [0,180], between the rays
// vertex->p1 and vertex->p3. It returns 0 when either ray has zero length;
// use Degenerate to tell that case apart from a real zero angle.
func AngleAtVertex(p1, vertex, p3 Point) float64 {
	v1 := r2.Sub(p1, vertex)
	v2 := r2.Sub(p3, vertex)

	mag1 := r2.Norm(v1)
	mag2 := r2.Norm(v2)
	if mag1 == 0 || mag2 == 0 {
		return 0
	}

	cos := r2.Dot(v1, v2) / (mag1 * mag2)
	// Rounding can push the ratio just past ±1.
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}
