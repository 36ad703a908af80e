package types

import (
	"fmt"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/landmark"
)

// DetectorFrame matches the JSON structure coming back from the pose detector.
// Each keypoint is an [index, x, y, visibility] tuple with an optional fifth
// element carrying true depth.
type DetectorFrame struct {
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Keypoints [][]float64 `json:"keypoints"`
}

// ErrorResult captures the error object returned by the detector on failure
type ErrorResult struct {
	Error string `json:"error"`
}

// KeypointSet converts the raw tuples into keypoints ordered by position.
func (f DetectorFrame) KeypointSet() (landmark.Set, error) {
	set := make(landmark.Set, 0, len(f.Keypoints))
	for i, tuple := range f.Keypoints {
		if len(tuple) < 4 {
			return nil, fmt.Errorf("keypoint %d: expected at least 4 values, got %d", i, len(tuple))
		}
		idx := landmark.Landmark(int(tuple[0]))
		if !idx.Valid() || float64(idx) != tuple[0] {
			return nil, fmt.Errorf("keypoint %d: invalid landmark index %v", i, tuple[0])
		}
		k := landmark.Keypoint{
			Index:      idx,
			X:          tuple[1],
			Y:          tuple[2],
			Visibility: tuple[3],
		}
		if len(tuple) >= 5 {
			k.Z = tuple[4]
			k.HasDepth = true
		}
		set = append(set, k)
	}
	return set, nil
}

// NewDetectorFrame is the inverse of KeypointSet, used by recorders and tests.
func NewDetectorFrame(width, height int, set landmark.Set) DetectorFrame {
	f := DetectorFrame{Width: width, Height: height, Keypoints: make([][]float64, len(set))}
	for i, k := range set {
		tuple := []float64{float64(k.Index), k.X, k.Y, k.Visibility}
		if k.HasDepth {
			tuple = append(tuple, k.Z)
		}
		f.Keypoints[i] = tuple
	}
	return f
}
