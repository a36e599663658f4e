package openai

import (
	"context"
	"testing"
)

func TestFitDimensions(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		dim  int
		want []float32
	}{
		{name: "truncate", in: []float64{1, 2, 3}, dim: 2, want: []float32{1, 2}},
		{name: "pad", in: []float64{1}, dim: 3, want: []float32{1, 0, 0}},
		{name: "native", in: []float64{1, 2}, dim: 0, want: []float32{1, 2}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := fitDimensions(tc.in, tc.dim)
			if len(got) != len(tc.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got[%d] = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestGenerateEmbeddingBlankInput(t *testing.T) {
	c := NewGraphOpenAIClient(NewGraphOpenAIClientParams{EmbedDim: 8})
	vec, err := c.GenerateEmbedding(context.Background(), []byte("   "))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("expected zero vector of length 8, got %d", len(vec))
	}
}

func TestUnconfiguredClients(t *testing.T) {
	c := NewGraphOpenAIClient(NewGraphOpenAIClientParams{EmbedDim: 8})
	if _, err := c.GenerateEmbedding(context.Background(), []byte("fever")); err == nil {
		t.Fatalf("expected error without embedding key")
	}
	var out struct{ Entities []string }
	if err := c.GenerateCompletionWithFormat(context.Background(), "n", "d", "p", &out); err == nil {
		t.Fatalf("expected error without chat key")
	}
}
