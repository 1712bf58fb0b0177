// Package retrieval builds the document grounding block for a step: full
// mode concatenates whole documents, rag mode selects embedded chunks by
// similarity. Mode selection is explicit per step; a retrieval failure is
// surfaced as an error and never silently downgraded to the other mode.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"contentforge/internal/campaign"
	"contentforge/internal/flow"
	"contentforge/internal/llm"
	"contentforge/internal/logging"
)

// Error wraps a grounding collaborator failure with the mode in effect.
// An empty result set in rag mode is not an Error; only a failed
// collaborator is.
type Error struct {
	Mode flow.RetrievalMode
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrieval failed in %s mode: %v", e.Mode, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ScoredChunk is one retrieved chunk with its similarity score.
type ScoredChunk struct {
	DocumentID string
	Filename   string
	Index      int
	Content    string
	Similarity float64
}

// Searcher finds chunks relevant to a query within a set of documents.
type Searcher interface {
	Search(ctx context.Context, docIDs []string, query string, topK int, minScore float64) ([]ScoredChunk, error)
}

// Payload is the grounding block handed to the executor.
type Payload struct {
	Context       string
	Mode          flow.RetrievalMode
	DocumentsUsed []string
	ChunksUsed    int
	TokenEstimate int
}

// Selector assembles grounding payloads.
type Selector struct {
	docs     campaign.DocumentStore
	searcher Searcher
}

// NewSelector builds a selector. searcher may be nil when no rag-mode
// steps exist; a rag step without a searcher fails with an Error.
func NewSelector(docs campaign.DocumentStore, searcher Searcher) *Selector {
	return &Selector{docs: docs, searcher: searcher}
}

// Build assembles the grounding context for a step. In full mode every
// base document's complete text is fetched concurrently and wrapped in
// document markers, in input order. In rag mode the resolved prompt is
// the retrieval query.
func (s *Selector) Build(ctx context.Context, step *flow.Step, query string) (*Payload, error) {
	log := logging.Get(logging.CategoryRetrieval)

	if len(step.BaseDocIDs) == 0 {
		return &Payload{Mode: step.Mode()}, nil
	}

	switch step.Mode() {
	case flow.RetrievalRAG:
		return s.buildRAG(ctx, step, query)
	default:
		payload, err := s.buildFull(ctx, step)
		if err != nil {
			log.Error("full retrieval failed step=%s: %v", step.ID, err)
			return nil, err
		}
		log.Info("full retrieval step=%s docs=%d tokens=%d", step.ID, len(payload.DocumentsUsed), payload.TokenEstimate)
		return payload, nil
	}
}

func (s *Selector) buildFull(ctx context.Context, step *flow.Step) (*Payload, error) {
	docs := make([]*campaign.Document, len(step.BaseDocIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, docID := range step.BaseDocIDs {
		g.Go(func() error {
			doc, err := s.docs.FetchFullText(gctx, docID)
			if err != nil {
				return fmt.Errorf("document %s: %w", docID, err)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &Error{Mode: flow.RetrievalFull, Err: err}
	}

	var sb strings.Builder
	payload := &Payload{Mode: flow.RetrievalFull}
	for _, doc := range docs {
		sb.WriteString(fmt.Sprintf("\n--- START DOCUMENT: %s (%s) ---\n", doc.Filename, doc.Category))
		sb.WriteString(doc.Content)
		sb.WriteString("\n--- END DOCUMENT ---\n")
		payload.DocumentsUsed = append(payload.DocumentsUsed, doc.ID)
		if doc.TokenCount > 0 {
			payload.TokenEstimate += doc.TokenCount
		} else {
			payload.TokenEstimate += llm.EstimateTokens(doc.Content)
		}
	}
	payload.Context = sb.String()
	return payload, nil
}

func (s *Selector) buildRAG(ctx context.Context, step *flow.Step, query string) (*Payload, error) {
	log := logging.Get(logging.CategoryRetrieval)

	if s.searcher == nil {
		return nil, &Error{Mode: flow.RetrievalRAG, Err: fmt.Errorf("no chunk searcher configured")}
	}

	rag := step.EffectiveRAG()
	chunks, err := s.searcher.Search(ctx, step.BaseDocIDs, query, rag.TopK, rag.MinScore)
	if err != nil {
		log.Error("rag retrieval failed step=%s: %v", step.ID, err)
		return nil, &Error{Mode: flow.RetrievalRAG, Err: err}
	}

	payload := &Payload{Mode: flow.RetrievalRAG, ChunksUsed: len(chunks)}
	if len(chunks) == 0 {
		// No chunk cleared the similarity bar. Valid: the step runs with
		// an empty grounding block.
		log.Warn("rag retrieval step=%s returned no chunks above %.2f", step.ID, rag.MinScore)
		return payload, nil
	}

	var sb strings.Builder
	seen := make(map[string]bool)
	for _, ch := range chunks {
		label := ch.Filename
		if label == "" {
			label = ch.DocumentID
		}
		sb.WriteString(fmt.Sprintf("\n--- START RELEVANT EXCERPT: %s (fragment %d, similarity %.2f) ---\n", label, ch.Index, ch.Similarity))
		sb.WriteString(ch.Content)
		sb.WriteString("\n--- END RELEVANT EXCERPT ---\n")
		payload.TokenEstimate += llm.EstimateTokens(ch.Content)
		if !seen[ch.DocumentID] {
			seen[ch.DocumentID] = true
			payload.DocumentsUsed = append(payload.DocumentsUsed, ch.DocumentID)
		}
	}
	payload.Context = sb.String()

	log.Info("rag retrieval step=%s chunks=%d docs=%d tokens=%d", step.ID, len(chunks), len(payload.DocumentsUsed), payload.TokenEstimate)
	return payload, nil
}
