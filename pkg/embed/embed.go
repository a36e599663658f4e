package embed

import (
	"context"
	"errors"
	"strings"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/ai"

	"golang.org/x/sync/errgroup"
)

// Embedder produces a fixed-length vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// AIEmbedder adapts an ai.GraphAIClient to Embedder.
type AIEmbedder struct {
	client ai.GraphAIClient
}

func NewAIEmbedder(client ai.GraphAIClient) *AIEmbedder {
	return &AIEmbedder{client: client}
}

func (e *AIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.client == nil {
		return nil, errors.New("no embedding client configured")
	}
	return e.client.GenerateEmbedding(ctx, []byte(text))
}

// EmbedAll embeds texts with at most parallel requests in flight. The
// result is aligned with texts; the first error cancels the rest.
func EmbedAll(ctx context.Context, e Embedder, texts []string, parallel int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	if parallel <= 0 {
		parallel = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		g.Go(func() error {
			vec, err := e.Embed(gctx, text)
			if err != nil {
				return err
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
