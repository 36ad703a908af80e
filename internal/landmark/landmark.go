package landmark

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"
)

// Landmark identifies one of the fixed body keypoints by its detector index.
type Landmark int

const (
	Nose Landmark = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	LeftIndex
	LeftThumb
	RightPinky
	RightIndex
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	LeftFootIndex
	RightHeel
	RightFootIndex

	// Count is the number of landmarks in a complete body.
	Count = int(RightFootIndex) + 1
)

// ErrIncomplete is returned when a keypoint set does not hold exactly Count points.
var ErrIncomplete = errors.New("incomplete keypoint set")

var names = [Count]string{
	"nose", "left_eye_inner", "left_eye", "left_eye_outer", "right_eye_inner",
	"right_eye", "right_eye_outer", "left_ear", "right_ear", "mouth_left",
	"mouth_right", "left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_pinky", "left_index", "left_thumb",
	"right_pinky", "right_index", "right_thumb", "left_hip", "right_hip",
	"left_knee", "right_knee", "left_ankle", "right_ankle", "left_heel",
	"left_foot_index", "right_heel", "right_foot_index",
}

var byName = func() map[string]Landmark {
	m := make(map[string]Landmark, Count)
	for i, n := range names {
		m[n] = Landmark(i)
	}
	return m
}()

// String returns the wire name of the landmark, e.g. "left_shoulder".
func (l Landmark) String() string {
	if !l.Valid() {
		return fmt.Sprintf("landmark(%d)", int(l))
	}
	return names[l]
}

// Valid reports whether l is within the fixed landmark table.
func (l Landmark) Valid() bool {
	return l >= 0 && int(l) < Count
}

// Parse maps a wire name back to its landmark.
func Parse(name string) (Landmark, error) {
	l, ok := byName[name]
	if !ok {
		return 0, fmt.Errorf("unknown landmark %q", name)
	}
	return l, nil
}

// Names returns the landmark names in index order.
func Names() []string {
	out := make([]string, Count)
	copy(out, names[:])
	return out
}

// Keypoint is a single detected landmark position in frame pixels.
// Z holds true depth only when HasDepth is set; after normalization it holds
// the depth estimate in [0,1].
type Keypoint struct {
	Index      Landmark
	X          float64
	Y          float64
	Z          float64
	Visibility float64
	HasDepth   bool
}

// Point returns the 2D position of the keypoint.
func (k Keypoint) Point() r2.Vec {
	return r2.Vec{X: k.X, Y: k.Y}
}

// Set is the ordered list of keypoints reported for one frame.
type Set []Keypoint

// Complete reports whether the set holds exactly Count keypoints in index order.
func (s Set) Complete() bool {
	return s.Validate() == nil
}

// Validate returns ErrIncomplete for short or oversized sets and an error
// for sets whose positions do not match their landmark indices.
func (s Set) Validate() error {
	if len(s) != Count {
		return fmt.Errorf("%w: got %d keypoints, want %d", ErrIncomplete, len(s), Count)
	}
	for i, k := range s {
		if int(k.Index) != i {
			return fmt.Errorf("keypoint at position %d has index %d", i, int(k.Index))
		}
	}
	return nil
}

// At returns the keypoint for l. It panics if the set is not complete.
func (s Set) At(l Landmark) Keypoint {
	return s[l]
}

// Visibilities returns the detector visibility scores in index order.
func (s Set) Visibilities() []float64 {
	out := make([]float64, len(s))
	for i, k := range s {
		out[i] = k.Visibility
	}
	return out
}
