package frame

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/angles"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/landmark"
)

const (
	coordinatePlaces = 4
	anglePlaces      = 1
)

// ErrMalformed is returned by Decode for datagrams that are not a record.
var ErrMalformed = errors.New("malformed frame record")

// Options tunes how records are built.
type Options struct {
	// RawVisibility exports the detector visibility in the visibility field.
	// By default the field repeats the depth estimate, which is what existing
	// consumers were built against.
	RawVisibility bool
}

// Input is everything the encoder needs for one frame.
type Input struct {
	Timestamp int64
	Width     int
	Height    int
	Detected  bool
	// Keypoints are canonical-frame keypoints with Z set to the depth estimate.
	Keypoints landmark.Set
	Angles    map[angles.Joint]angles.Angle
}

// Build assembles the record for in. Numeric body fields are rounded to
// bound payload size: coordinates and scores to 4 places, angles to 1.
func Build(in Input, opts Options) Record {
	rec := Record{
		Timestamp: in.Timestamp,
		FrameSize: FrameSize{Width: in.Width, Height: in.Height},
	}
	if !in.Detected {
		return rec
	}

	lms := &Landmarks{}
	for _, k := range in.Keypoints {
		if !k.Index.Valid() {
			continue
		}
		vis := k.Z
		if opts.RawVisibility {
			vis = k.Visibility
		}
		lms[k.Index] = Point{
			X:          Round(fraction(k.X, in.Width), coordinatePlaces),
			Y:          Round(1.0-fraction(k.Y, in.Height), coordinatePlaces),
			Z:          Round(k.Z, coordinatePlaces),
			Visibility: Round(vis, coordinatePlaces),
		}
	}

	deg := func(j angles.Joint) float64 {
		return Round(in.Angles[j].Degrees, anglePlaces)
	}

	confidence := 0.0
	if len(in.Keypoints) > 0 {
		confidence = Round(stat.Mean(in.Keypoints.Visibilities(), nil), coordinatePlaces)
	}

	rec.BodyTracking = BodyTracking{
		Detected:  true,
		Landmarks: lms,
		Angles: &Angles{
			LeftShoulder:  deg(angles.LeftShoulder),
			RightShoulder: deg(angles.RightShoulder),
			LeftElbow:     deg(angles.LeftElbow),
			RightElbow:    deg(angles.RightElbow),
			LeftHip:       deg(angles.LeftHip),
			RightHip:      deg(angles.RightHip),
			LeftKnee:      deg(angles.LeftKnee),
			RightKnee:     deg(angles.RightKnee),
		},
		BodyMetrics: &BodyMetrics{
			LandmarkCount: len(in.Keypoints),
			Confidence:    confidence,
		},
	}
	return rec
}

// Encode serializes rec as compact JSON.
func Encode(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", rec.Timestamp, err)
	}
	return data, nil
}

// Decode parses one datagram back into a record.
func Decode(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	bt := rec.BodyTracking
	if bt.Detected && (bt.Landmarks == nil || bt.Angles == nil) {
		return Record{}, fmt.Errorf("%w: detected record without landmarks or angles", ErrMalformed)
	}
	return rec, nil
}

// Round rounds v to the given number of decimal places, half away from zero.
func Round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func fraction(v float64, size int) float64 {
	if size <= 0 {
		return 0
	}
	return v / float64(size)
}
