package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"contentforge/internal/campaign"
)

// Chunk is one embedded slice of a document.
type Chunk struct {
	DocumentID string
	Index      int
	Content    string
	Embedding  []float32
}

// PutDocument upserts a document with its extracted text.
func (s *SQLiteStore) PutDocument(ctx context.Context, doc *campaign.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags, err := json.Marshal(doc.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, filename, category, tags, content, token_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			filename = excluded.filename,
			category = excluded.category,
			tags = excluded.tags,
			content = excluded.content,
			token_count = excluded.token_count`,
		doc.ID, doc.ProjectID, doc.Filename, doc.Category, string(tags), doc.Content, doc.TokenCount)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// ListDocuments returns a project's documents without their content.
func (s *SQLiteStore) ListDocuments(ctx context.Context, projectID string) ([]campaign.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, filename, category, tags, token_count
		FROM documents WHERE project_id = ? ORDER BY filename`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []campaign.Document
	for rows.Next() {
		var doc campaign.Document
		var tags string
		if err := rows.Scan(&doc.ID, &doc.ProjectID, &doc.Filename, &doc.Category, &tags, &doc.TokenCount); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &doc.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for %s: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// FetchFullText loads one document including its extracted text.
func (s *SQLiteStore) FetchFullText(ctx context.Context, docID string) (*campaign.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc campaign.Document
	var tags string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, filename, category, tags, content, token_count
		FROM documents WHERE id = ?`, docID,
	).Scan(&doc.ID, &doc.ProjectID, &doc.Filename, &doc.Category, &tags, &doc.Content, &doc.TokenCount)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &doc.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags for %s: %w", doc.ID, err)
	}
	return &doc, nil
}

// PutChunks replaces a document's chunk rows.
func (s *SQLiteStore) PutChunks(ctx context.Context, docID string, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", docID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	for _, ch := range chunks {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO chunks (document_id, chunk_index, content, embedding) VALUES (?, ?, ?, ?)",
			docID, ch.Index, ch.Content, encodeEmbedding(ch.Embedding))
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", ch.Index, err)
		}
	}
	return tx.Commit()
}

// ChunksByDocuments loads all chunks for the given documents. The
// retrieval layer scores them against the query embedding in memory.
func (s *SQLiteStore) ChunksByDocuments(ctx context.Context, docIDs []string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunks []Chunk
	for _, docID := range docIDs {
		rows, err := s.db.QueryContext(ctx,
			"SELECT document_id, chunk_index, content, embedding FROM chunks WHERE document_id = ? ORDER BY chunk_index",
			docID)
		if err != nil {
			return nil, fmt.Errorf("failed to load chunks: %w", err)
		}
		for rows.Next() {
			var ch Chunk
			var blob []byte
			if err := rows.Scan(&ch.DocumentID, &ch.Index, &ch.Content, &blob); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan chunk: %w", err)
			}
			ch.Embedding = decodeEmbedding(blob)
			chunks = append(chunks, ch)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return chunks, nil
}

// DocumentNames maps document ids to filenames for labeling retrieved
// chunks.
func (s *SQLiteStore) DocumentNames(ctx context.Context, docIDs []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make(map[string]string, len(docIDs))
	for _, docID := range docIDs {
		var filename string
		err := s.db.QueryRowContext(ctx, "SELECT filename FROM documents WHERE id = ?", docID).Scan(&filename)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load document name: %w", err)
		}
		names[docID] = filename
	}
	return names, nil
}

// encodeEmbedding packs a vector as little-endian float32 bytes, the
// layout sqlite-vec expects.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
