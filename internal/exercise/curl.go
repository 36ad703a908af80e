// Package exercise counts exercise repetitions from streamed joint angles.
package exercise

import (
	"time"

	"gonum.org/v1/gonum/floats"
)

const (
	DefaultMinAngle            = 38.0
	DefaultMaxAngle            = 150.0
	DefaultCooldown            = 500 * time.Millisecond
	DefaultCalibrationDuration = 5 * time.Second

	// calibrationMargin trims each end of the observed range.
	calibrationMargin = 0.2
	milestoneEvery    = 10
)

type Arm int

const (
	Left Arm = iota
	Right
)

func (a Arm) String() string {
	if a == Left {
		return "left"
	}
	return "right"
}

type Direction string

const (
	Down Direction = "down"
	Up   Direction = "up"
)

// Rep is one counted repetition.
type Rep struct {
	Arm   Arm
	Count int // for this arm
	Total int
	At    time.Time
	// Milestone is set on every tenth total repetition.
	Milestone bool
}

type armState struct {
	dir   Direction
	count int
	last  time.Time
}

// CurlCounter counts biceps curls per arm from elbow angles. An arm in the
// down state counts a rep when the elbow closes to Min degrees and flips to
// up; it flips back once the elbow opens to Max. Both transitions restart
// the cooldown, during which the arm is ignored.
type CurlCounter struct {
	Min      float64
	Max      float64
	Cooldown time.Duration
	UseLeft  bool
	UseRight bool

	arms [2]armState

	calibrating  bool
	calibStart   time.Time
	calibLength  time.Duration
	leftSamples  []float64
	rightSamples []float64
}

func NewCurlCounter() *CurlCounter {
	c := &CurlCounter{
		Min:      DefaultMinAngle,
		Max:      DefaultMaxAngle,
		Cooldown: DefaultCooldown,
		UseLeft:  true,
		UseRight: true,
	}
	c.Reset()
	return c
}

// Reset zeroes the counts and puts both arms down.
func (c *CurlCounter) Reset() {
	for i := range c.arms {
		c.arms[i] = armState{dir: Down}
	}
}

func (c *CurlCounter) Total() int { return c.arms[Left].count + c.arms[Right].count }

func (c *CurlCounter) Count(a Arm) int { return c.arms[a].count }

func (c *CurlCounter) Direction(a Arm) Direction { return c.arms[a].dir }

// StartCalibration collects elbow angles for d, after which the thresholds
// are derived from the observed left arm range.
func (c *CurlCounter) StartCalibration(now time.Time, d time.Duration) {
	c.calibrating = true
	c.calibStart = now
	c.calibLength = d
	c.leftSamples = c.leftSamples[:0]
	c.rightSamples = c.rightSamples[:0]
}

func (c *CurlCounter) Calibrating() bool { return c.calibrating }

// Update feeds one frame of elbow angles observed at now. It returns the
// reps counted on this frame and whether a calibration just finished.
func (c *CurlCounter) Update(now time.Time, leftElbow, rightElbow float64) ([]Rep, bool) {
	if c.calibrating {
		c.leftSamples = append(c.leftSamples, leftElbow)
		c.rightSamples = append(c.rightSamples, rightElbow)
		if now.Sub(c.calibStart) >= c.calibLength {
			c.finishCalibration()
			return nil, true
		}
		return nil, false
	}

	var reps []Rep
	if c.UseLeft {
		if rep, ok := c.step(Left, now, leftElbow); ok {
			reps = append(reps, rep)
		}
	}
	if c.UseRight {
		if rep, ok := c.step(Right, now, rightElbow); ok {
			reps = append(reps, rep)
		}
	}
	return reps, false
}

func (c *CurlCounter) step(a Arm, now time.Time, angle float64) (Rep, bool) {
	s := &c.arms[a]
	if !s.last.IsZero() && now.Sub(s.last) < c.Cooldown {
		return Rep{}, false
	}

	switch {
	case s.dir == Down && angle <= c.Min:
		s.dir = Up
		s.count++
		s.last = now
		total := c.Total()
		return Rep{Arm: a, Count: s.count, Total: total, At: now, Milestone: total%milestoneEvery == 0}, true
	case s.dir == Up && angle >= c.Max:
		s.dir = Down
		s.last = now
	}
	return Rep{}, false
}

func (c *CurlCounter) finishCalibration() {
	c.calibrating = false
	if len(c.leftSamples) == 0 {
		return
	}
	lo, hi := floats.Min(c.leftSamples), floats.Max(c.leftSamples)
	span := hi - lo
	c.Min = lo + span*calibrationMargin
	c.Max = hi - span*calibrationMargin
}
