// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Agent model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/supporthub/livechat-backend/internal/domain"
)

// GetAgent fetches a single agent by ID, or ErrNotFound if missing.
func GetAgent(ctx context.Context, db *gorm.DB, id string) (*domain.Agent, error) {
	var a domain.Agent
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListEligibleAgents returns the active agents of a department whose presence
// is available, in ascending id order. The order is the deterministic
// tie-break the assignment engine scans in; callers still re-check each
// candidate's live active-chat count because presence can be stale.
func ListEligibleAgents(ctx context.Context, db *gorm.DB, departmentID string) ([]domain.Agent, error) {
	var out []domain.Agent
	err := db.WithContext(ctx).
		Where("department_id = ? AND is_active = ? AND status = ?", departmentID, true, domain.AgentAvailable).
		Order("id asc").
		Find(&out).Error
	return out, err
}

// UpdateAgentStatus sets an agent's presence flag. Returns ErrNotFound when
// the agent does not exist.
func UpdateAgentStatus(ctx context.Context, db *gorm.DB, agentID string, status domain.AgentStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.Agent{}).
		Where("id = ?", agentID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountAgentsByStatus returns how many active agents of a department carry
// the given presence flag. Used for queue-status reporting.
func CountAgentsByStatus(ctx context.Context, db *gorm.DB, departmentID string, status domain.AgentStatus) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Agent{}).
		Where("department_id = ? AND is_active = ? AND status = ?", departmentID, true, status).
		Count(&n).Error
	return n, err
}
