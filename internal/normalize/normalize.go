// Package normalize rescales detected keypoints into a canonical frame that
// does not depend on how far the subject stands from the camera.
package normalize

import (
	"math"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/geometry"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/landmark"
)

const (
	// DefaultReferenceShoulderWidth is the shoulder width, in pixels, of a subject at canonical scale.
	DefaultReferenceShoulderWidth = 200.0
	// DefaultReferenceBodyHeight is the shoulder-to-hip height, in pixels, at canonical scale.
	DefaultReferenceBodyHeight = 400.0
)

// Normalizer holds the reference body proportions. It is safe to share.
type Normalizer struct {
	ReferenceShoulderWidth float64
	ReferenceBodyHeight    float64
}

// New returns a Normalizer using the default reference proportions.
func New() Normalizer {
	return Normalizer{
		ReferenceShoulderWidth: DefaultReferenceShoulderWidth,
		ReferenceBodyHeight:    DefaultReferenceBodyHeight,
	}
}

// Result is the output of Normalize.
// When Normalized is false Keypoints is the untouched input.
type Result struct {
	Keypoints     landmark.Set
	Normalized    bool
	ShoulderWidth float64
	BodyHeight    float64
	ShoulderRatio float64
	HeightRatio   float64
	Scale         float64
	Center        geometry.Point
}

// Normalize recenters the body on the shoulder midpoint, placed at the frame
// center, and divides every offset by the average of the shoulder and body
// height ratios. Each output Z is the depth estimate for that keypoint.
func (n Normalizer) Normalize(set landmark.Set, width, height int) Result {
	if !set.Complete() {
		return Result{Keypoints: set}
	}

	ls := set.At(landmark.LeftShoulder).Point()
	rs := set.At(landmark.RightShoulder).Point()
	lh := set.At(landmark.LeftHip).Point()
	rh := set.At(landmark.RightHip).Point()

	shoulderWidth := geometry.Distance(ls, rs)
	center := geometry.Midpoint(ls, rs)
	bodyHeight := geometry.Distance(center, geometry.Midpoint(lh, rh))

	shoulderRatio := ratio(shoulderWidth, n.ReferenceShoulderWidth)
	heightRatio := ratio(bodyHeight, n.ReferenceBodyHeight)

	scale := (shoulderRatio + heightRatio) / 2
	if scale == 0 {
		scale = 1
	}

	halfW := float64(width) / 2
	halfH := float64(height) / 2

	out := make(landmark.Set, len(set))
	for i, k := range set {
		z := EstimateDepth(k.Visibility, shoulderRatio)
		if k.HasDepth {
			z = clamp01(k.Z)
		}
		out[i] = landmark.Keypoint{
			Index:      k.Index,
			X:          (k.X-center.X)/scale + halfW,
			Y:          (k.Y-center.Y)/scale + halfH,
			Z:          z,
			Visibility: k.Visibility,
			HasDepth:   k.HasDepth,
		}
	}

	return Result{
		Keypoints:     out,
		Normalized:    true,
		ShoulderWidth: shoulderWidth,
		BodyHeight:    bodyHeight,
		ShoulderRatio: shoulderRatio,
		HeightRatio:   heightRatio,
		Scale:         scale,
		Center:        center,
	}
}

// ratio falls back to 1 for a collapsed measurement or a zero reference.
func ratio(measured, reference float64) float64 {
	if measured <= 0 || reference == 0 {
		return 1.0
	}
	return measured / reference
}

// EstimateDepth is a heuristic depth proxy for sources that report only a
// 2D position and a visibility score. It is not a physical depth: a small
// shoulder ratio (subject far away) inflates the estimate, capped at 1.
func EstimateDepth(visibility, shoulderRatio float64) float64 {
	distanceFactor := 1.0
	if shoulderRatio > 0 {
		distanceFactor = 1.0 / shoulderRatio
	}
	return clamp01(visibility * distanceFactor)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
