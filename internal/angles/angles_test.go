package angles

import (
	"testing"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/landmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tPose builds a body with level shoulders and arms stretched out sideways,
// so the elbows are collinear with the shoulders.
func tPose() landmark.Set {
	s := make(landmark.Set, landmark.Count)
	for i := range s {
		s[i] = landmark.Keypoint{Index: landmark.Landmark(i), X: 200, Y: 50, Visibility: 0.9}
	}
	put := func(l landmark.Landmark, x, y float64) {
		s[l].X, s[l].Y = x, y
	}
	put(landmark.LeftShoulder, 100, 100)
	put(landmark.RightShoulder, 300, 100)
	put(landmark.LeftElbow, 0, 100)
	put(landmark.RightElbow, 400, 100)
	put(landmark.LeftWrist, 0, 0) // forearm raised: 90 degree elbow
	put(landmark.RightWrist, 500, 100)
	put(landmark.LeftHip, 120, 300)
	put(landmark.RightHip, 280, 300)
	put(landmark.LeftKnee, 120, 400)
	put(landmark.RightKnee, 280, 400)
	put(landmark.LeftAnkle, 120, 500)
	put(landmark.RightAnkle, 380, 400)
	return s
}

func TestJointNames(t *testing.T) {
	want := []string{
		"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
		"left_hip", "right_hip", "left_knee", "right_knee",
	}
	var got []string
	for _, j := range All() {
		got = append(got, j.String())
	}
	assert.Equal(t, want, got)
}

func TestExtract(t *testing.T) {
	got := Extract(tPose())
	require.Len(t, got, 8)

	want := map[Joint]float64{
		LeftShoulder:  180,
		RightShoulder: 180,
		LeftElbow:     90,
		RightElbow:    180,
		LeftHip:       90,
		RightHip:      90,
		LeftKnee:      180,
		RightKnee:     90,
	}
	for j, deg := range want {
		a, ok := got[j]
		require.True(t, ok, "missing %s", j)
		assert.Equal(t, j, a.Joint)
		assert.InDelta(t, deg, a.Degrees, 1e-9, "%s", j)
		assert.False(t, a.Degenerate, "%s", j)
	}
}

func TestExtractIncomplete(t *testing.T) {
	for _, n := range []int{0, 1, 32} {
		got := Extract(tPose()[:n])
		assert.NotNil(t, got)
		assert.Empty(t, got, "set of %d points", n)
	}
}

func TestExtractDegenerate(t *testing.T) {
	s := tPose()
	// Wrist on top of the elbow: the ray has no length.
	s[landmark.RightWrist].X, s[landmark.RightWrist].Y = s[landmark.RightElbow].X, s[landmark.RightElbow].Y

	got := Extract(s)
	elbow := got[RightElbow]
	assert.Zero(t, elbow.Degrees)
	assert.True(t, elbow.Degenerate)

	// A genuine zero angle is not flagged.
	s = tPose()
	s[landmark.LeftWrist].X, s[landmark.LeftWrist].Y = 200, 100
	got = Extract(s)
	assert.InDelta(t, 0, got[LeftElbow].Degrees, 1e-9)
	assert.False(t, got[LeftElbow].Degenerate)
}
