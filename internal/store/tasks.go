package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"contentforge/internal/campaign"
)

// PutTaskHandle upserts an async task handle. Called at dispatch time,
// before the first poll, and again on every state change.
func (s *SQLiteStore) PutTaskHandle(ctx context.Context, h *campaign.AsyncTaskHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to encode task handle: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_handles (campaign_id, interaction_id, status, payload, dispatched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(campaign_id, interaction_id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload`,
		h.CampaignID, h.InteractionID, string(h.Status), string(payload), h.DispatchedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert task handle: %w", err)
	}
	return nil
}

// GetOngoingTask returns the newest PROCESSING handle for a campaign, or
// ErrNotFound when the campaign has nothing in flight.
func (s *SQLiteStore) GetOngoingTask(ctx context.Context, campaignID string) (*campaign.AsyncTaskHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM task_handles
		WHERE campaign_id = ? AND status = ?
		ORDER BY dispatched_at DESC LIMIT 1`,
		campaignID, string(campaign.TaskProcessing),
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task handle: %w", err)
	}

	var h campaign.AsyncTaskHandle
	if err := json.Unmarshal([]byte(payload), &h); err != nil {
		return nil, fmt.Errorf("failed to decode task handle: %w", err)
	}
	return &h, nil
}

// DeleteTaskHandle removes a handle once its task reaches a terminal
// state.
func (s *SQLiteStore) DeleteTaskHandle(ctx context.Context, campaignID, interactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM task_handles WHERE campaign_id = ? AND interaction_id = ?",
		campaignID, interactionID)
	if err != nil {
		return fmt.Errorf("failed to delete task handle: %w", err)
	}
	return nil
}

// InsertLog writes a new execution log row.
func (s *SQLiteStore) InsertLog(ctx context.Context, log *campaign.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to encode execution log: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO execution_logs (id, campaign_id, status, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		log.ID, log.CampaignID, string(log.Status), string(payload), log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert execution log: %w", err)
	}
	return nil
}

// UpdateLog rewrites an existing execution log row.
func (s *SQLiteStore) UpdateLog(ctx context.Context, log *campaign.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to encode execution log: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE execution_logs SET status = ?, payload = ? WHERE id = ?",
		string(log.Status), string(payload), log.ID)
	if err != nil {
		return fmt.Errorf("failed to update execution log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// GetLog loads an execution log row by id.
func (s *SQLiteStore) GetLog(ctx context.Context, id string) (*campaign.ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM execution_logs WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution log: %w", err)
	}

	var log campaign.ExecutionLog
	if err := json.Unmarshal([]byte(payload), &log); err != nil {
		return nil, fmt.Errorf("failed to decode execution log: %w", err)
	}
	return &log, nil
}
