package retrieval

import (
	"context"
	"fmt"

	"contentforge/internal/embedding"
	"contentforge/internal/logging"
	"contentforge/internal/store"
)

// ChunkSource provides embedded chunks and document labels. The SQLite
// store satisfies it.
type ChunkSource interface {
	ChunksByDocuments(ctx context.Context, docIDs []string) ([]store.Chunk, error)
	DocumentNames(ctx context.Context, docIDs []string) (map[string]string, error)
}

// ChunkSearcher scores stored chunk embeddings against a query embedding
// with cosine similarity.
type ChunkSearcher struct {
	source ChunkSource
	engine embedding.Engine
}

// NewChunkSearcher builds a searcher over the given source and engine.
func NewChunkSearcher(source ChunkSource, engine embedding.Engine) *ChunkSearcher {
	return &ChunkSearcher{source: source, engine: engine}
}

// Search embeds the query, ranks every chunk of the given documents and
// returns those above minScore, best first, at most topK.
func (cs *ChunkSearcher) Search(ctx context.Context, docIDs []string, query string, topK int, minScore float64) ([]ScoredChunk, error) {
	log := logging.Get(logging.CategoryRetrieval)

	queryVec, err := cs.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	chunks, err := cs.source.ChunksByDocuments(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	corpus := make([][]float32, len(chunks))
	for i, ch := range chunks {
		corpus[i] = ch.Embedding
	}

	names, err := cs.source.DocumentNames(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load document names: %w", err)
	}

	ranked := embedding.FindTopK(queryVec, corpus, topK)
	var results []ScoredChunk
	for _, r := range ranked {
		if r.Similarity < minScore {
			continue
		}
		ch := chunks[r.Index]
		results = append(results, ScoredChunk{
			DocumentID: ch.DocumentID,
			Filename:   names[ch.DocumentID],
			Index:      ch.Index,
			Content:    ch.Content,
			Similarity: r.Similarity,
		})
	}

	log.Debug("chunk search docs=%d candidates=%d kept=%d", len(docIDs), len(chunks), len(results))
	return results, nil
}
