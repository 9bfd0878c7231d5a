/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/friendsincode/slotbook/internal/bookerr"
	"github.com/friendsincode/slotbook/internal/models"
	"github.com/friendsincode/slotbook/internal/slots"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Resource loads one instrument.
func (s *Store) Resource(ctx context.Context, id string) (*models.Resource, error) {
	var res models.Resource
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&res).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bookerr.Newf(bookerr.CodeNotFound, "resource %s not found", id).With("resource", id)
		}
		return nil, fmt.Errorf("get resource: %w", err)
	}
	return &res, nil
}

// ListResources returns instruments ordered by id.
func (s *Store) ListResources(ctx context.Context, visibleOnly bool) ([]models.Resource, error) {
	q := s.db.WithContext(ctx).Model(&models.Resource{})
	if visibleOnly {
		q = q.Where("visible = ?", true)
	}
	var out []models.Resource
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return out, nil
}

// Grid returns the weekday slot grid of a resource, falling back to the
// installation default.
func (s *Store) Grid(ctx context.Context, resourceID string) (slots.Grid, error) {
	res, err := s.Resource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	return res.SlotGrid.OrDefault(), nil
}

// AdvanceDays returns how many days ahead a resource may be booked.
func (s *Store) AdvanceDays(ctx context.Context, resourceID string) (int, error) {
	res, err := s.Resource(ctx, resourceID)
	if err != nil {
		return 0, err
	}
	return res.AdvanceDays, nil
}

// SaveResource inserts or replaces an instrument. A custom grid must validate.
func (s *Store) SaveResource(ctx context.Context, res *models.Resource) error {
	if len(res.SlotGrid) > 0 {
		if err := res.SlotGrid.Validate(); err != nil {
			return fmt.Errorf("resource %s grid: %w", res.ID, err)
		}
	}
	if res.Status == "" {
		res.Status = models.ResourceOperational
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(res).Error; err != nil {
		return fmt.Errorf("save resource: %w", err)
	}
	return nil
}

// StaffEmails lists the addresses of active staff, used as approval recipients.
func (s *Store) StaffEmails(ctx context.Context) ([]string, error) {
	var emails []string
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("role IN ? AND suspended = ?", []models.Role{models.RoleStaff, models.RoleElevated}, false).
		Order("email ASC").
		Pluck("email", &emails).Error
	if err != nil {
		return nil, fmt.Errorf("staff emails: %w", err)
	}
	return emails, nil
}

// UserByEmail loads a user.
func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).Take(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bookerr.Newf(bookerr.CodeNotFound, "user %s not found", email)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// SaveUser inserts or updates a user keyed by email.
func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	u.Role = models.NormalizeRole(string(u.Role))
	if u.ID == "" {
		if existing, err := s.UserByEmail(ctx, u.Email); err == nil {
			u.ID = existing.ID
		} else {
			u.ID = uuid.NewString()
		}
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(u).Error; err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// ClientMayBook reports whether an active client has access to a resource.
func (s *Store) ClientMayBook(ctx context.Context, clientID, resourceID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.ClientResourceAccess{}).
		Joins("JOIN clients ON clients.id = client_resource_access.client_id").
		Where("client_resource_access.client_id = ? AND client_resource_access.resource_id = ? AND clients.active = ?",
			clientID, resourceID, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("client access: %w", err)
	}
	return count > 0, nil
}

// SaveClient inserts or replaces a client.
func (s *Store) SaveClient(ctx context.Context, c *models.Client) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(c).Error; err != nil {
		return fmt.Errorf("save client: %w", err)
	}
	return nil
}

// GrantClientAccess allows a client to book a resource.
func (s *Store) GrantClientAccess(ctx context.Context, clientID, resourceID string) error {
	row := models.ClientResourceAccess{ClientID: clientID, ResourceID: resourceID}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("grant client access: %w", err)
	}
	return nil
}
