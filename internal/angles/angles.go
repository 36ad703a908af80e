// Package angles derives the named joint angles of a detected body.
package angles

import (
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/geometry"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/landmark"
)

// Joint identifies one of the eight measured joints.
type Joint int

const (
	LeftShoulder Joint = iota
	RightShoulder
	LeftElbow
	RightElbow
	LeftHip
	RightHip
	LeftKnee
	RightKnee

	jointCount
)

// Definition describes the vertex and the two ray endpoints of a joint angle.
type Definition struct {
	Joint  Joint
	Vertex landmark.Landmark
	A      landmark.Landmark
	B      landmark.Landmark
}

// Definitions lists every joint in wire order.
var Definitions = [jointCount]Definition{
	{LeftShoulder, landmark.LeftShoulder, landmark.RightShoulder, landmark.LeftElbow},
	{RightShoulder, landmark.RightShoulder, landmark.LeftShoulder, landmark.RightElbow},
	{LeftElbow, landmark.LeftElbow, landmark.LeftShoulder, landmark.LeftWrist},
	{RightElbow, landmark.RightElbow, landmark.RightShoulder, landmark.RightWrist},
	{LeftHip, landmark.LeftHip, landmark.RightHip, landmark.LeftKnee},
	{RightHip, landmark.RightHip, landmark.LeftHip, landmark.RightKnee},
	{LeftKnee, landmark.LeftKnee, landmark.LeftHip, landmark.LeftAnkle},
	{RightKnee, landmark.RightKnee, landmark.RightHip, landmark.RightAnkle},
}

// String returns the wire name of the joint. Joint names match the
// landmark name of their vertex.
func (j Joint) String() string {
	if j < 0 || j >= jointCount {
		return "joint(?)"
	}
	return Definitions[j].Vertex.String()
}

// All returns the joints in wire order.
func All() []Joint {
	out := make([]Joint, jointCount)
	for i := range out {
		out[i] = Joint(i)
	}
	return out
}

// Angle is a measured joint angle in degrees.
// Degenerate is set when one of the rays had zero length; Degrees is 0 then
// and must not be read as a real measurement.
type Angle struct {
	Joint      Joint
	Degrees    float64
	Degenerate bool
}

// Extract computes all joint angles of a complete keypoint set.
// Incomplete sets yield an empty map; absence is the signal, not an error.
func Extract(set landmark.Set) map[Joint]Angle {
	out := make(map[Joint]Angle, jointCount)
	if !set.Complete() {
		return out
	}

	for _, d := range Definitions {
		a := set.At(d.A).Point()
		v := set.At(d.Vertex).Point()
		b := set.At(d.B).Point()
		out[d.Joint] = Angle{
			Joint:      d.Joint,
			Degrees:    geometry.AngleAtVertex(a, v, b),
			Degenerate: geometry.Degenerate(a, v, b),
		}
	}
	return out
}
