// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides read helpers for the Department model.
// Department CRUD itself is managed upstream; the routing core only needs
// lookups.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/supporthub/livechat-backend/internal/domain"
)

// GetDepartment fetches a department by ID, or ErrNotFound if missing.
func GetDepartment(ctx context.Context, db *gorm.DB, id string) (*domain.Department, error) {
	var d domain.Department
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetActiveDepartment fetches a department that is active, or ErrNotFound
// when it is missing or inactive. Transfer targets are validated with this.
func GetActiveDepartment(ctx context.Context, db *gorm.DB, id string) (*domain.Department, error) {
	var d domain.Department
	err := db.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetCustomerCareDepartment returns the active department flagged as the
// default landing department for unrouted chats, or ErrNotFound when none is
// configured. Upstream CRUD guarantees at most one active flag carrier.
func GetCustomerCareDepartment(ctx context.Context, db *gorm.DB) (*domain.Department, error) {
	var d domain.Department
	err := db.WithContext(ctx).
		Where("is_customer_care = ? AND is_active = ?", true, true).
		First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}
