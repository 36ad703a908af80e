// Package report loads recorded sessions and charts their joint angles.
package report

import (
	"bufio"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/angles"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/frame"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxLine = 4 * 1024 * 1024

// Processor turns a detector frame into a wire record.
type Processor func(types.DetectorFrame) frame.Record

// lineKind tells wire records apart from detector frames.
type lineKind struct {
	BodyTracking *struct{} `json:"body_tracking"`
}

// LoadRecords reads a recording line by line. Lines holding wire records
// (listen --record) are decoded as is; detector frames (stream --record)
// are run through process. Malformed lines are counted and skipped.
func LoadRecords(path string, process Processor) ([]frame.Record, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLine)

	var (
		out     []frame.Record
		skipped int
	)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var p lineKind
		if err := json.Unmarshal(line, &p); err != nil {
			skipped++
			continue
		}
		if p.BodyTracking != nil {
			rec, err := frame.Decode(line)
			if err != nil {
				skipped++
				continue
			}
			out = append(out, rec)
			continue
		}
		if process == nil {
			skipped++
			continue
		}
		var df types.DetectorFrame
		if err := json.Unmarshal(line, &df); err != nil {
			skipped++
			continue
		}
		out = append(out, process(df))
	}
	return out, skipped, sc.Err()
}

// Series is one joint's angle over time.
type Series struct {
	Joint  angles.Joint
	Points plotter.XYs
}

// AngleSeries extracts every joint angle from the detected records. X is
// seconds since the first record, or the frame index when timestamps do
// not advance.
func AngleSeries(recs []frame.Record, joints []angles.Joint) []Series {
	useTime := timestampsAdvance(recs)
	out := make([]Series, len(joints))
	for i, j := range joints {
		out[i].Joint = j
	}
	if len(recs) == 0 {
		return out
	}
	t0 := recs[0].Timestamp

	for idx, rec := range recs {
		bt := rec.BodyTracking
		if !bt.Detected || bt.Angles == nil {
			continue
		}
		x := float64(idx)
		if useTime {
			x = float64(rec.Timestamp-t0) / 1e9
		}
		for i, j := range joints {
			deg, err := bt.Angles.ByName(j.String())
			if err != nil {
				continue
			}
			out[i].Points = append(out[i].Points, plotter.XY{X: x, Y: deg})
		}
	}
	return out
}

func timestampsAdvance(recs []frame.Record) bool {
	if len(recs) < 2 {
		return false
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Timestamp <= recs[i-1].Timestamp {
			return false
		}
	}
	return true
}

// RenderAngles draws the series into a PNG (or any format plot.Save
// infers from the file extension).
func RenderAngles(series []Series, title, path string, useTime bool) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Frame"
	if useTime {
		p.X.Label.Text = "Time (s)"
	}
	p.Y.Label.Text = "Angle (°)"
	p.Y.Min, p.Y.Max = 0, 180
	p.Add(plotter.NewGrid())

	drawn := 0
	for i, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		line, err := plotter.NewLine(s.Points)
		if err != nil {
			return fmt.Errorf("plot %s: %w", s.Joint, err)
		}
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(i / len(plotutil.DefaultColors))
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.Joint.String(), line)
		drawn++
	}
	if drawn == 0 {
		return fmt.Errorf("no detected frames to plot")
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}

// UsesTime reports whether AngleSeries plotted recs against time.
func UsesTime(recs []frame.Record) bool { return timestampsAdvance(recs) }
