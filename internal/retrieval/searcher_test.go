package retrieval

import (
	"context"
	"testing"

	"contentforge/internal/store"
)

type fakeChunkSource struct {
	chunks []store.Chunk
	names  map[string]string
}

func (f *fakeChunkSource) ChunksByDocuments(ctx context.Context, docIDs []string) ([]store.Chunk, error) {
	return f.chunks, nil
}

func (f *fakeChunkSource) DocumentNames(ctx context.Context, docIDs []string) (map[string]string, error) {
	return f.names, nil
}

type fakeEngine struct {
	vec []float32
}

func (f *fakeEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func (f *fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeEngine) Dimensions() int { return len(f.vec) }
func (f *fakeEngine) Name() string    { return "fake" }

func TestChunkSearcher_FiltersByScore(t *testing.T) {
	source := &fakeChunkSource{
		chunks: []store.Chunk{
			{DocumentID: "d1", Index: 0, Content: "aligned", Embedding: []float32{1, 0}},
			{DocumentID: "d1", Index: 1, Content: "orthogonal", Embedding: []float32{0, 1}},
			{DocumentID: "d2", Index: 0, Content: "close", Embedding: []float32{0.95, 0.05}},
		},
		names: map[string]string{"d1": "uno.pdf", "d2": "dos.pdf"},
	}
	searcher := NewChunkSearcher(source, &fakeEngine{vec: []float32{1, 0}})

	results, err := searcher.Search(context.Background(), []string{"d1", "d2"}, "query", 10, 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 above threshold", len(results))
	}
	if results[0].Content != "aligned" {
		t.Errorf("top result = %q", results[0].Content)
	}
	if results[0].Filename != "uno.pdf" {
		t.Errorf("Filename = %q", results[0].Filename)
	}
	for _, r := range results {
		if r.Similarity < 0.7 {
			t.Errorf("result below threshold: %+v", r)
		}
	}
}

func TestChunkSearcher_RespectsTopK(t *testing.T) {
	source := &fakeChunkSource{
		chunks: []store.Chunk{
			{DocumentID: "d1", Index: 0, Content: "a", Embedding: []float32{1, 0}},
			{DocumentID: "d1", Index: 1, Content: "b", Embedding: []float32{0.99, 0.01}},
			{DocumentID: "d1", Index: 2, Content: "c", Embedding: []float32{0.98, 0.02}},
		},
		names: map[string]string{"d1": "uno.pdf"},
	}
	searcher := NewChunkSearcher(source, &fakeEngine{vec: []float32{1, 0}})

	results, err := searcher.Search(context.Background(), []string{"d1"}, "query", 2, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}
}

func TestChunkSearcher_EmptyCorpus(t *testing.T) {
	searcher := NewChunkSearcher(&fakeChunkSource{}, &fakeEngine{vec: []float32{1, 0}})
	results, err := searcher.Search(context.Background(), []string{"d1"}, "query", 10, 0.7)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}
}
