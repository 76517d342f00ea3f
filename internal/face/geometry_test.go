package face

import (
	"math"
	"testing"
)

func TestComputeIoU(t *testing.T) {
	tests := []struct {
		name     string
		bbox1    []float64
		bbox2    []float64
		expected float64
	}{
		{
			name:     "identical boxes",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{0, 0, 10, 10},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{20, 20, 30, 30},
			expected: 0.0,
		},
		{
			name:     "partial overlap",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{5, 5, 15, 15},
			expected: 25.0 / 175.0, // intersection=25, union=100+100-25=175
		},
		{
			name:     "invalid bbox1",
			bbox1:    []float64{0, 0, 10},
			bbox2:    []float64{0, 0, 10, 10},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComputeIoU(tt.bbox1, tt.bbox2)
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("ComputeIoU(%v, %v) = %v, want %v", tt.bbox1, tt.bbox2, result, tt.expected)
			}
		})
	}
}

func TestPrimary(t *testing.T) {
	tests := []struct {
		name    string
		samples []Sample
		want    int
	}{
		{"no faces", nil, -1},
		{"single face", []Sample{{Bounds: Bounds{Width: 10, Height: 10}}}, 0},
		{
			"largest wins",
			[]Sample{
				{Bounds: Bounds{Width: 10, Height: 10}},
				{Bounds: Bounds{Width: 120, Height: 130}},
				{Bounds: Bounds{Width: 50, Height: 50}},
			},
			1,
		},
		{
			"first wins on tie",
			[]Sample{
				{Bounds: Bounds{Width: 20, Height: 20}},
				{Bounds: Bounds{Width: 20, Height: 20}},
			},
			0,
		},
		{"degenerate box", []Sample{{Bounds: Bounds{Width: -5, Height: 10}}}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Primary(tt.samples); got != tt.want {
				t.Errorf("Primary() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBounds_Expand(t *testing.T) {
	b := Bounds{X: 100, Y: 100, Width: 100, Height: 100}

	got := b.Expand(0.2, 1000, 1000)
	want := Bounds{X: 80, Y: 80, Width: 140, Height: 140}
	if got != want {
		t.Errorf("Expand() = %+v, want %+v", got, want)
	}

	// Clamped at frame edges.
	edge := Bounds{X: 0, Y: 0, Width: 50, Height: 50}.Expand(0.5, 60, 60)
	if edge.X != 0 || edge.Y != 0 || edge.Width != 60 || edge.Height != 60 {
		t.Errorf("Expand() at edge = %+v", edge)
	}
}

func TestCornersToBounds(t *testing.T) {
	got := CornersToBounds([]float64{10, 20, 110, 220})
	want := Bounds{X: 10, Y: 20, Width: 100, Height: 200}
	if got != want {
		t.Errorf("CornersToBounds() = %+v, want %+v", got, want)
	}
	if CornersToBounds([]float64{1, 2}) != (Bounds{}) {
		t.Error("expected zero bounds for invalid input")
	}
}

func TestSameSubject(t *testing.T) {
	a := Sample{Bounds: Bounds{X: 100, Y: 100, Width: 200, Height: 200}}
	shifted := Sample{Bounds: Bounds{X: 130, Y: 110, Width: 200, Height: 200}}
	elsewhere := Sample{Bounds: Bounds{X: 600, Y: 100, Width: 200, Height: 200}}

	if !SameSubject(a, shifted) {
		t.Error("expected slightly shifted face to be the same subject")
	}
	if SameSubject(a, elsewhere) {
		t.Error("expected distant face to be a different subject")
	}
}
