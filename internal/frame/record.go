// Package frame builds the per-frame body tracking record sent to consumers
// and owns its JSON wire encoding.
package frame

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/landmark"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is one frame of body tracking output.
type Record struct {
	Timestamp    int64        `json:"timestamp"`
	FrameSize    FrameSize    `json:"frame_size"`
	BodyTracking BodyTracking `json:"body_tracking"`
}

// FrameSize is the pixel size of the source frame.
type FrameSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BodyTracking carries the detection flag and, when detected, the body data.
type BodyTracking struct {
	Detected    bool         `json:"detected"`
	Landmarks   *Landmarks   `json:"landmarks,omitempty"`
	Angles      *Angles      `json:"angles,omitempty"`
	BodyMetrics *BodyMetrics `json:"body_metrics,omitempty"`
}

// Point is a landmark in consumer coordinates, every field in [0,1] for
// bodies inside the frame. Y grows upwards.
type Point struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// Landmarks holds one Point per landmark, indexed by landmark.Landmark.
// It encodes as an object keyed by landmark name, in index order.
type Landmarks [landmark.Count]Point

// Get returns the point of landmark l.
func (l *Landmarks) Get(lm landmark.Landmark) Point {
	return l[lm]
}

// MarshalJSON writes the landmarks in index order rather than sorted by name.
func (l Landmarks) MarshalJSON() ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	stream.WriteObjectStart()
	for i := range l {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(landmark.Landmark(i).String())
		stream.WriteVal(l[i])
	}
	stream.WriteObjectEnd()

	if stream.Error != nil {
		return nil, stream.Error
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

// UnmarshalJSON accepts the landmark object in any key order. Unknown names
// are ignored so newer producers stay readable.
func (l *Landmarks) UnmarshalJSON(data []byte) error {
	var raw map[string]Point
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for name, p := range raw {
		lm, err := landmark.Parse(name)
		if err != nil {
			continue
		}
		l[lm] = p
	}
	return nil
}

// Angles holds the joint angles in degrees.
type Angles struct {
	LeftShoulder  float64 `json:"left_shoulder"`
	RightShoulder float64 `json:"right_shoulder"`
	LeftElbow     float64 `json:"left_elbow"`
	RightElbow    float64 `json:"right_elbow"`
	LeftHip       float64 `json:"left_hip"`
	RightHip      float64 `json:"right_hip"`
	LeftKnee      float64 `json:"left_knee"`
	RightKnee     float64 `json:"right_knee"`
}

// ByName returns the angle for a joint wire name such as "left_elbow".
func (a *Angles) ByName(name string) (float64, error) {
	switch name {
	case "left_shoulder":
		return a.LeftShoulder, nil
	case "right_shoulder":
		return a.RightShoulder, nil
	case "left_elbow":
		return a.LeftElbow, nil
	case "right_elbow":
		return a.RightElbow, nil
	case "left_hip":
		return a.LeftHip, nil
	case "right_hip":
		return a.RightHip, nil
	case "left_knee":
		return a.LeftKnee, nil
	case "right_knee":
		return a.RightKnee, nil
	}
	return 0, fmt.Errorf("unknown joint %q", name)
}

// BodyMetrics summarizes the detection.
type BodyMetrics struct {
	LandmarkCount int     `json:"landmark_count"`
	Confidence    float64 `json:"confidence"`
}
