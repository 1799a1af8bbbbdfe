package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const adminKeyHashCost = bcrypt.DefaultCost

// HashAdminKey returns a salted bcrypt hash for an admin key, suitable for
// the ADMIN_KEY_HASH environment variable.
func HashAdminKey(adminKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), adminKeyHashCost)
	if err != nil {
		return "", fmt.Errorf("hash admin key: %w", err)
	}
	return string(hash), nil
}

// AdminKeyMatchesHash compares an admin key against a stored hash.
// Legacy hex SHA-256 hashes remain supported.
func AdminKeyMatchesHash(expectedHash, adminKey string) bool {
	if err := bcrypt.CompareHashAndPassword([]byte(expectedHash), []byte(adminKey)); err == nil {
		return true
	}

	return legacyAdminKeyMatchesHash(expectedHash, adminKey)
}

func legacyAdminKeyMatchesHash(expectedHash, adminKey string) bool {
	expectedBytes, err := hex.DecodeString(expectedHash)
	if err != nil {
		return false
	}

	actual := sha256.Sum256([]byte(adminKey))
	if len(expectedBytes) != len(actual) {
		return false
	}

	return subtle.ConstantTimeCompare(expectedBytes, actual[:]) == 1
}

// AdminKeyValidator is a [TokenValidator] backed by a single stored admin
// key hash. An empty hash rejects every token, so deployments without
// ADMIN_KEY_HASH have the admin surface disabled.
type AdminKeyValidator struct {
	keyHash string
}

// NewAdminKeyValidator builds a validator for the given stored hash.
func NewAdminKeyValidator(keyHash string) *AdminKeyValidator {
	return &AdminKeyValidator{keyHash: keyHash}
}

// ValidateToken implements [TokenValidator].
func (v *AdminKeyValidator) ValidateToken(_ context.Context, token string) error {
	if v == nil || v.keyHash == "" {
		return errors.New("admin key not configured")
	}
	if !AdminKeyMatchesHash(v.keyHash, token) {
		return errors.New("invalid admin key")
	}
	return nil
}
