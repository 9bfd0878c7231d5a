/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/slotbook/internal/models"
)

// API key constants
const (
	APIKeyPrefix      = "sb_"
	APIKeyRandomBytes = 24 // 192 bits
)

// ErrAPIKeyNotFound is returned when an API key doesn't exist.
var ErrAPIKeyNotFound = errors.New("api key not found")

// ErrAPIKeyExpired is returned when an API key has expired.
var ErrAPIKeyExpired = errors.New("api key expired")

// ErrAPIKeyRevoked is returned when an API key has been revoked.
var ErrAPIKeyRevoked = errors.New("api key revoked")

// ErrUserNotFound is returned when the user for an API key doesn't exist.
var ErrUserNotFound = errors.New("user not found")

// ErrUserSuspended is returned for keys of suspended users.
var ErrUserSuspended = errors.New("user account suspended")

func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey creates a new API key for a user.
// Returns the plaintext key (to show to user once) and the model to store.
func GenerateAPIKey(userID, name string, expiresIn time.Duration) (string, *models.APIKey, error) {
	randomBytes := make([]byte, APIKeyRandomBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", nil, fmt.Errorf("generate api key: %w", err)
	}

	plaintextKey := APIKeyPrefix + hex.EncodeToString(randomBytes)

	apiKey := &models.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   hashKey(plaintextKey),
		KeyPrefix: plaintextKey[:11], // "sb_" + first 8 hex chars
		ExpiresAt: time.Now().Add(expiresIn),
	}

	return plaintextKey, apiKey, nil
}

// CreateAPIKey generates and stores a key for a user.
func CreateAPIKey(ctx context.Context, db *gorm.DB, userID, name string, expiresIn time.Duration) (string, *models.APIKey, error) {
	plaintext, key, err := GenerateAPIKey(userID, name, expiresIn)
	if err != nil {
		return "", nil, err
	}
	if err := db.WithContext(ctx).Create(key).Error; err != nil {
		return "", nil, fmt.Errorf("store api key: %w", err)
	}
	return plaintext, key, nil
}

// ValidateAPIKey resolves an API key to the claims of its user and stamps
// LastUsedAt.
func ValidateAPIKey(ctx context.Context, db *gorm.DB, plaintextKey string, now time.Time) (*Claims, error) {
	var apiKey models.APIKey
	err := db.WithContext(ctx).Where("key_hash = ?", hashKey(plaintextKey)).First(&apiKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	if apiKey.IsRevoked() {
		return nil, ErrAPIKeyRevoked
	}
	if apiKey.IsExpired(now) {
		return nil, ErrAPIKeyExpired
	}

	var user models.User
	err = db.WithContext(ctx).First(&user, "id = ?", apiKey.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key user: %w", err)
	}
	if user.Suspended {
		return nil, ErrUserSuspended
	}

	// Best effort; a failed stamp does not reject the request.
	_ = db.WithContext(ctx).Model(&apiKey).UpdateColumn("last_used_at", now.UTC())

	return &Claims{
		Email: user.Email,
		Role:  string(user.Role),
	}, nil
}

// RevokeAPIKey revokes an API key. Only the owner can revoke their own keys.
func RevokeAPIKey(ctx context.Context, db *gorm.DB, keyID, userID string) error {
	result := db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ? AND user_id = ? AND revoked_at IS NULL", keyID, userID).
		Update("revoked_at", time.Now().UTC())

	if result.Error != nil {
		return fmt.Errorf("revoke api key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// ListAPIKeys returns all API keys for a user (without the hash).
func ListAPIKeys(ctx context.Context, db *gorm.DB, userID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}
