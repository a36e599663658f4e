package ollama

import (
	"context"
	"testing"
)

func TestFitDimensions(t *testing.T) {
	got := fitDimensions([]float32{1, 2, 3}, 2)
	if len(got) != 2 || got[1] != 2 {
		t.Fatalf("unexpected truncation: %v", got)
	}
	got = fitDimensions([]float32{1}, 3)
	if len(got) != 3 || got[0] != 1 || got[2] != 0 {
		t.Fatalf("unexpected padding: %v", got)
	}
}

func TestGenerateEmbeddingBlankInput(t *testing.T) {
	c, err := NewGraphOllamaClient(NewGraphOllamaClientParams{EmbedDim: 4})
	if err != nil {
		t.Fatalf("NewGraphOllamaClient() error = %v", err)
	}
	vec, err := c.GenerateEmbedding(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("expected zero vector of length 4, got %d", len(vec))
	}
}

func TestGenerateCompletionRejectsNonPointer(t *testing.T) {
	c, err := NewGraphOllamaClient(NewGraphOllamaClientParams{})
	if err != nil {
		t.Fatalf("NewGraphOllamaClient() error = %v", err)
	}
	var out struct{}
	if err := c.GenerateCompletionWithFormat(context.Background(), "n", "d", "p", out); err == nil {
		t.Fatalf("expected error for non-pointer output")
	}
}

func TestNewGraphOllamaClientBadURL(t *testing.T) {
	if _, err := NewGraphOllamaClient(NewGraphOllamaClientParams{BaseURL: "://bad"}); err == nil {
		t.Fatalf("expected url parse error")
	}
}
