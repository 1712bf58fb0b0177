package embedding

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		got, err := CosineSimilarity(tt.a, tt.b)
		if err != nil {
			t.Fatalf("%s: CosineSimilarity: %v", tt.name, err)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: CosineSimilarity = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	if _, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); err == nil {
		t.Error("CosineSimilarity with mismatched dims succeeded")
	}
}

func TestFindTopK(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{0, 1},        // orthogonal
		{1, 0},        // identical
		{0.9, 0.1},    // close
		{-1, 0},       // opposite
		{0.5, 0.5, 1}, // wrong dimension, skipped
	}

	results := FindTopK(query, corpus, 2)
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Index != 1 {
		t.Errorf("top result index = %d, want 1", results[0].Index)
	}
	if results[1].Index != 2 {
		t.Errorf("second result index = %d, want 2", results[1].Index)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Error("results not sorted by descending similarity")
	}
}

func TestFindTopK_DefaultsK(t *testing.T) {
	corpus := make([][]float32, 3)
	for i := range corpus {
		corpus[i] = []float32{1, float32(i)}
	}
	results := FindTopK([]float32{1, 1}, corpus, 0)
	if len(results) != 3 {
		t.Errorf("len(results) = %d, want all 3 with defaulted k", len(results))
	}
}
