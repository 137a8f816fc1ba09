package ai

import "context"

// BoundEmbedder pairs the OpenAI-compatible client with one embedding model
// config. The vector index holds exactly one of these for its lifetime.
type BoundEmbedder struct {
	client *OpenAICompatibleClient
	cfg    EmbeddingConfig
}

func NewBoundEmbedder(client *OpenAICompatibleClient, cfg EmbeddingConfig) *BoundEmbedder {
	return &BoundEmbedder{client: client, cfg: cfg}
}

func (b *BoundEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return b.client.Embed(ctx, b.cfg, text)
}

func (b *BoundEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return b.client.EmbedBatch(ctx, b.cfg, texts)
}
