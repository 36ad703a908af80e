package types

import (
	"testing"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/landmark"
)

func TestKeypointSet(t *testing.T) {
	tests := []struct {
		name    string
		frame   DetectorFrame
		wantLen int
		wantErr bool
	}{
		{
			name:    "Empty",
			frame:   DetectorFrame{Width: 640, Height: 480},
			wantLen: 0,
		},
		{
			name: "Two points",
			frame: DetectorFrame{Keypoints: [][]float64{
				{0, 10, 20, 0.9},
				{1, 11, 21, 0.8, 0.25},
			}},
			wantLen: 2,
		},
		{
			name:    "Short tuple",
			frame:   DetectorFrame{Keypoints: [][]float64{{0, 10, 20}}},
			wantErr: true,
		},
		{
			name:    "Index out of range",
			frame:   DetectorFrame{Keypoints: [][]float64{{33, 1, 1, 1}}},
			wantErr: true,
		},
		{
			name:    "Fractional index",
			frame:   DetectorFrame{Keypoints: [][]float64{{1.5, 1, 1, 1}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := tt.frame.KeypointSet()
			if (err != nil) != tt.wantErr {
				t.Fatalf("KeypointSet() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(set) != tt.wantLen {
				t.Errorf("KeypointSet() len = %d, want %d", len(set), tt.wantLen)
			}
		})
	}
}

func TestKeypointSetDepth(t *testing.T) {
	f := DetectorFrame{Keypoints: [][]float64{{0, 10, 20, 0.9}, {1, 11, 21, 0.8, 0.25}}}
	set, err := f.KeypointSet()
	if err != nil {
		t.Fatal(err)
	}
	if set[0].HasDepth {
		t.Error("4-tuple must not carry depth")
	}
	if !set[1].HasDepth || set[1].Z != 0.25 {
		t.Errorf("5-tuple depth not parsed: %+v", set[1])
	}
	if set[1].Index != landmark.LeftEyeInner || set[1].Visibility != 0.8 {
		t.Errorf("unexpected keypoint %+v", set[1])
	}

	back := NewDetectorFrame(640, 480, set)
	if len(back.Keypoints[0]) != 4 || len(back.Keypoints[1]) != 5 {
		t.Errorf("NewDetectorFrame tuple sizes = %d,%d", len(back.Keypoints[0]), len(back.Keypoints[1]))
	}
}
