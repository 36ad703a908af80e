package frame

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/angles"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/landmark"
)

func canonicalKeypoints() landmark.Set {
	s := make(landmark.Set, landmark.Count)
	for i := range s {
		s[i] = landmark.Keypoint{
			Index:      landmark.Landmark(i),
			X:          123.456789 + float64(i),
			Y:          98.7654321 + float64(i)*3,
			Z:          0.123456789,
			Visibility: 0.87654321,
		}
	}
	return s
}

func sampleAngles() map[angles.Joint]angles.Angle {
	out := map[angles.Joint]angles.Angle{}
	for i, j := range angles.All() {
		out[j] = angles.Angle{Joint: j, Degrees: 10.26 + float64(i)*20.01}
	}
	return out
}

func TestEncodeNotDetected(t *testing.T) {
	rec := Build(Input{Timestamp: 42, Width: 640, Height: 480}, Options{})
	data, err := Encode(rec)
	require.NoError(t, err)
	assert.Equal(t,
		`{"timestamp":42,"frame_size":{"width":640,"height":480},"body_tracking":{"detected":false}}`,
		string(data))
}

func TestEncodeDetected(t *testing.T) {
	rec := Build(Input{
		Timestamp: 7,
		Width:     640,
		Height:    480,
		Detected:  true,
		Keypoints: canonicalKeypoints(),
		Angles:    sampleAngles(),
	}, Options{})

	data, err := Encode(rec)
	require.NoError(t, err)

	assert.False(t, bytes.ContainsAny(data, " \n\t"), "encoding must be compact")
	s := string(data)
	assert.True(t, strings.HasPrefix(s, `{"timestamp":7,"frame_size":{"width":640,"height":480},"body_tracking":{"detected":true,"landmarks":{"nose":{`))
	assert.Contains(t, s, `"angles":{"left_shoulder":10.3,"right_shoulder":30.3,`)
	assert.Contains(t, s, `"body_metrics":{"landmark_count":33,"confidence":0.8765}`)

	// Landmarks stay in index order.
	last := -1
	for _, name := range landmark.Names() {
		pos := strings.Index(s, `"`+name+`":{`)
		require.Greater(t, pos, last, "landmark %s out of order", name)
		last = pos
	}
}

func TestBuildCoordinates(t *testing.T) {
	kps := canonicalKeypoints()
	kps[landmark.Nose].X, kps[landmark.Nose].Y = 320, 120

	rec := Build(Input{Width: 640, Height: 480, Detected: true, Keypoints: kps, Angles: sampleAngles()}, Options{})
	nose := rec.BodyTracking.Landmarks.Get(landmark.Nose)
	assert.Equal(t, 0.5, nose.X)
	assert.Equal(t, 0.75, nose.Y, "y is flipped to a bottom-left origin")
	assert.Equal(t, 0.1235, nose.Z)
	assert.Equal(t, 0.1235, nose.Visibility, "visibility repeats the depth estimate by default")

	rec = Build(Input{Width: 640, Height: 480, Detected: true, Keypoints: kps}, Options{RawVisibility: true})
	assert.Equal(t, 0.8765, rec.BodyTracking.Landmarks.Get(landmark.Nose).Visibility)
	assert.Zero(t, rec.BodyTracking.Angles.LeftKnee, "missing angles encode as 0")
}

func TestRoundTrip(t *testing.T) {
	kps := canonicalKeypoints()
	ang := sampleAngles()
	rec := Build(Input{Timestamp: 99, Width: 640, Height: 480, Detected: true, Keypoints: kps, Angles: ang}, Options{})

	data, err := Encode(rec)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)

	if diff := cmp.Diff(rec, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	// Decoded numbers equal the rounded source values, not the raw floats.
	for _, k := range kps {
		p := got.BodyTracking.Landmarks.Get(k.Index)
		assert.Equal(t, Round(k.X/640, 4), p.X)
		assert.Equal(t, Round(1-k.Y/480, 4), p.Y)
		assert.Equal(t, Round(k.Z, 4), p.Z)
		assert.NotEqual(t, k.Z, p.Z)
	}
	for _, j := range angles.All() {
		v, err := got.BodyTracking.Angles.ByName(j.String())
		require.NoError(t, err)
		assert.Equal(t, Round(ang[j].Degrees, 1), v)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"timestamp":"x"}`,
		`{"timestamp":1,"frame_size":{"width":1,"height":1},"body_tracking":{"detected":true}}`,
	} {
		_, err := Decode([]byte(in))
		assert.True(t, errors.Is(err, ErrMalformed), "input %q: %v", in, err)
	}
}

func TestDecodeIgnoresUnknownLandmarks(t *testing.T) {
	in := `{"timestamp":1,"frame_size":{"width":2,"height":2},"body_tracking":{"detected":true,` +
		`"landmarks":{"tail":{"x":1},"left_wrist":{"x":0.25,"y":0.5,"z":0.75,"visibility":1}},"angles":{"left_elbow":12.5}}}`
	rec, err := Decode([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, Point{X: 0.25, Y: 0.5, Z: 0.75, Visibility: 1}, rec.BodyTracking.Landmarks.Get(landmark.LeftWrist))
	assert.Equal(t, 12.5, rec.BodyTracking.Angles.LeftElbow)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.1235, Round(0.12345678, 4))
	assert.Equal(t, 179.9, Round(179.94, 1))
	assert.Equal(t, 180.0, Round(179.96, 1))
	assert.Equal(t, -0.5, Round(-0.49999, 1))
}

func TestAnglesByNameUnknown(t *testing.T) {
	_, err := (&Angles{}).ByName("neck")
	assert.Error(t, err)
}
