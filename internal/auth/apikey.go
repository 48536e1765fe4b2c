/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/models"
)

// Keys look like hp_<48 hex chars>. Only the SHA-256 of the full key is
// stored; the short prefix survives for display in key listings.
const (
	apiKeyPrefix  = "hp_"
	apiKeyRandLen = 24
)

var (
	ErrAPIKeyNotFound = errors.New("api key not found")
	ErrAPIKeyExpired  = errors.New("api key expired")
	ErrAPIKeyRevoked  = errors.New("api key revoked")
	ErrUserNotFound   = errors.New("user not found")
)

func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey mints a key for userID. The plaintext is returned exactly
// once alongside the storable model; it cannot be recovered afterwards.
func GenerateAPIKey(userID, name string, expiresIn time.Duration) (string, *models.APIKey, error) {
	raw := make([]byte, apiKeyRandLen)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	plaintext := apiKeyPrefix + hex.EncodeToString(raw)

	apiKey := &models.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   hashKey(plaintext),
		KeyPrefix: plaintext[:len(apiKeyPrefix)+8],
		ExpiresAt: time.Now().Add(expiresIn),
	}
	return plaintext, apiKey, nil
}

// ValidateAPIKey resolves a presented key to the owner's claims, rejecting
// revoked, expired, and unknown keys. LastUsedAt is updated asynchronously
// so the hot path stays read-only.
func ValidateAPIKey(db *gorm.DB, plaintext string) (*Claims, error) {
	var apiKey models.APIKey
	result := db.Where("key_hash = ?", hashKey(plaintext)).First(&apiKey)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrAPIKeyNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}

	switch {
	case apiKey.IsRevoked():
		return nil, ErrAPIKeyRevoked
	case apiKey.IsExpired():
		return nil, ErrAPIKeyExpired
	}

	var user models.User
	result = db.First(&user, "id = ?", apiKey.UserID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}

	go db.Model(&apiKey).Update("last_used_at", time.Now())

	return &Claims{
		UserID: user.ID,
		Roles:  []string{string(user.Role)},
	}, nil
}

// RevokeAPIKey soft-deletes a key. Scoped to the owning user.
func RevokeAPIKey(db *gorm.DB, keyID, userID string) error {
	result := db.Model(&models.APIKey{}).
		Where("id = ? AND user_id = ?", keyID, userID).
		Update("revoked_at", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// ListAPIKeys returns the user's keys, newest first. Hashes ride along but
// are never exposed by the API layer.
func ListAPIKeys(db *gorm.DB, userID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}

// DeleteAPIKey removes a key permanently. RevokeAPIKey is the soft variant.
func DeleteAPIKey(db *gorm.DB, keyID, userID string) error {
	result := db.Where("id = ? AND user_id = ?", keyID, userID).
		Delete(&models.APIKey{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}
