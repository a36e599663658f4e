package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateEmbedding creates a vector embedding for input using the
// configured embedding model. Blank input yields a zero vector without a
// request.
func (c *GraphOllamaClient) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	if len(strings.TrimSpace(string(input))) == 0 {
		return make([]float32, c.embedDim), nil
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(rCtx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: string(input),
	})
	if err != nil {
		return nil, err
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if len(res.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding response from model %s", c.embeddingModel)
	}
	return fitDimensions(res.Embeddings[0], c.embedDim), nil
}

func fitDimensions(v []float32, dim int) []float32 {
	if dim <= 0 {
		dim = len(v)
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}
