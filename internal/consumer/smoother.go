package consumer

import "github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/frame"

// DefaultSmoothingFactor weights the previous position.
const DefaultSmoothingFactor = 0.8

// Smoother applies exponential smoothing to landmark positions across
// frames: next = prev*factor + cur*(1-factor). Visibility is passed through.
// Losing the body resets the history.
type Smoother struct {
	Factor float64
	prev   *frame.Landmarks
}

func NewSmoother(factor float64) *Smoother {
	return &Smoother{Factor: factor}
}

// Apply returns rec with smoothed landmarks. rec itself is not modified.
func (s *Smoother) Apply(rec frame.Record) frame.Record {
	bt := rec.BodyTracking
	if !bt.Detected || bt.Landmarks == nil {
		s.Reset()
		return rec
	}

	cur := *bt.Landmarks
	if s.prev == nil {
		s.prev = &cur
		return rec
	}

	f := s.Factor
	out := cur
	for i := range out {
		p := s.prev[i]
		out[i].X = p.X*f + cur[i].X*(1-f)
		out[i].Y = p.Y*f + cur[i].Y*(1-f)
		out[i].Z = p.Z*f + cur[i].Z*(1-f)
	}
	s.prev = &out

	smoothed := out
	rec.BodyTracking.Landmarks = &smoothed
	return rec
}

// Reset forgets the previous frame.
func (s *Smoother) Reset() { s.prev = nil }
