package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"contentforge/internal/campaign"
)

// GetCampaign loads a campaign row and joins in its step outputs.
func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload, status, currentStepID string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload, status, current_step_id FROM campaigns WHERE id = ?", id,
	).Scan(&payload, &status, &currentStepID)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}

	var c campaign.Campaign
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("failed to decode campaign %s: %w", id, err)
	}
	// Columns are authoritative for fields mutated via UpdateCampaignStatus.
	c.Status = status
	c.CurrentStepID = currentStepID

	outputs, err := s.loadStepOutputs(ctx, id)
	if err != nil {
		return nil, err
	}
	c.StepOutputs = outputs
	return &c, nil
}

func (s *SQLiteStore) loadStepOutputs(ctx context.Context, campaignID string) (map[string]campaign.StepOutput, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT step_id, payload, version FROM step_outputs WHERE campaign_id = ?", campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load step outputs: %w", err)
	}
	defer rows.Close()

	outputs := make(map[string]campaign.StepOutput)
	for rows.Next() {
		var stepID, payload string
		var version int64
		if err := rows.Scan(&stepID, &payload, &version); err != nil {
			return nil, fmt.Errorf("failed to scan step output: %w", err)
		}
		var out campaign.StepOutput
		if err := json.Unmarshal([]byte(payload), &out); err != nil {
			return nil, fmt.Errorf("failed to decode step output %s/%s: %w", campaignID, stepID, err)
		}
		out.Version = version
		outputs[stepID] = out
	}
	return outputs, rows.Err()
}

// PutCampaign upserts the campaign row and any step outputs it carries.
// Outputs with Version 0 are written at version 1.
func (s *SQLiteStore) PutCampaign(ctx context.Context, c *campaign.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Step outputs have their own table; keep them out of the row payload.
	trimmed := *c
	trimmed.StepOutputs = nil
	payload, err := json.Marshal(&trimmed)
	if err != nil {
		return fmt.Errorf("failed to encode campaign: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, project_id, payload, status, current_step_id, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			payload = excluded.payload,
			status = excluded.status,
			current_step_id = excluded.current_step_id,
			updated_at = CURRENT_TIMESTAMP`,
		c.ID, c.ProjectID, string(payload), c.Status, c.CurrentStepID)
	if err != nil {
		return fmt.Errorf("failed to upsert campaign: %w", err)
	}

	for stepID, out := range c.StepOutputs {
		version := out.Version
		if version <= 0 {
			version = 1
		}
		out.Version = version
		outPayload, err := json.Marshal(&out)
		if err != nil {
			return fmt.Errorf("failed to encode step output: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_outputs (campaign_id, step_id, payload, version, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(campaign_id, step_id) DO UPDATE SET
				payload = excluded.payload,
				version = excluded.version,
				updated_at = CURRENT_TIMESTAMP`,
			c.ID, stepID, string(outPayload), version)
		if err != nil {
			return fmt.Errorf("failed to upsert step output %s: %w", stepID, err)
		}
	}

	return tx.Commit()
}

// UpdateCampaignStatus writes the status columns without touching the
// payload.
func (s *SQLiteStore) UpdateCampaignStatus(ctx context.Context, id, status, currentStepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE campaigns SET status = ?, current_step_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, currentStepID, id)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
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

// MergeStepOutput upserts one step output key under optimistic
// concurrency. expectVersion must equal the stored version (0 when the
// caller believes the key is absent) or the write is rejected with
// ErrVersionConflict.
func (s *SQLiteStore) MergeStepOutput(ctx context.Context, campaignID, stepID string, out campaign.StepOutput, expectVersion int64) (campaign.StepOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return campaign.StepOutput{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		"SELECT version FROM step_outputs WHERE campaign_id = ? AND step_id = ?",
		campaignID, stepID,
	).Scan(&current)
	if err == sql.ErrNoRows {
		current = 0
	} else if err != nil {
		return campaign.StepOutput{}, fmt.Errorf("failed to read step output version: %w", err)
	}

	if expectVersion != current {
		return campaign.StepOutput{}, campaign.ErrVersionConflict
	}

	out.Version = current + 1
	payload, err := json.Marshal(&out)
	if err != nil {
		return campaign.StepOutput{}, fmt.Errorf("failed to encode step output: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO step_outputs (campaign_id, step_id, payload, version, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(campaign_id, step_id) DO UPDATE SET
			payload = excluded.payload,
			version = excluded.version,
			updated_at = CURRENT_TIMESTAMP`,
		campaignID, stepID, string(payload), out.Version)
	if err != nil {
		return campaign.StepOutput{}, fmt.Errorf("failed to merge step output: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return campaign.StepOutput{}, err
	}
	return out, nil
}

// GetProject loads a project by id.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*campaign.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM projects WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}

	var p campaign.Project
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("failed to decode project %s: %w", id, err)
	}
	return &p, nil
}

// PutProject upserts a project.
func (s *SQLiteStore) PutProject(ctx context.Context, p *campaign.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode project: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, payload) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, payload = excluded.payload`,
		p.ID, p.Name, string(payload))
	if err != nil {
		return fmt.Errorf("failed to upsert project: %w", err)
	}
	return nil
}
