package telemetry

import (
	"math"
	"testing"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty slice", []float64{}, 0.5, 0},
		{"single element", []float64{5.0}, 0.5, 5.0},
		{"p0", []float64{1, 2, 3, 4, 5}, 0.0, 1.0},
		{"p100", []float64{1, 2, 3, 4, 5}, 1.0, 5.0},
		{"p50 odd", []float64{1, 2, 3, 4, 5}, 0.5, 3.0},
		{"p50 even", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"p10", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.1, 1.9},
		{"p90", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.9, 9.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentile(tt.sorted, tt.p)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("Percentile(%v, %v) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}

func TestComputeStats(t *testing.T) {
	values := []float64{400, 380, 420, 440, 360, 460, 340, 480, 320, 500}
	mean, p10, p50, p90 := ComputeStats(values)

	if math.Abs(mean-410) > 0.001 {
		t.Errorf("mean = %v, want 410", mean)
	}
	if math.Abs(p10-338) > 0.01 {
		t.Errorf("p10 = %v, want 338", p10)
	}
	if math.Abs(p50-410) > 0.01 {
		t.Errorf("p50 = %v, want 410", p50)
	}
	if math.Abs(p90-482) > 0.01 {
		t.Errorf("p90 = %v, want 482", p90)
	}
	// Input must stay unsorted
	if values[0] != 400 {
		t.Error("ComputeStats sorted its input")
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	mean, p10, p50, p90 := ComputeStats([]float64{})

	if mean != 0 || p10 != 0 || p50 != 0 || p90 != 0 {
		t.Error("empty slice should return all zeros")
	}
}
