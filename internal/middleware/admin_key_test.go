package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestAdminKeyHashRoundTrip(t *testing.T) {
	hash, err := HashAdminKey("conference-admin")
	if err != nil {
		t.Fatalf("HashAdminKey() error = %v", err)
	}

	if !AdminKeyMatchesHash(hash, "conference-admin") {
		t.Fatal("bcrypt hash should match its own key")
	}
	if AdminKeyMatchesHash(hash, "other-key") {
		t.Fatal("bcrypt hash matched the wrong key")
	}
}

func TestAdminKeyLegacySHA256(t *testing.T) {
	sum := sha256.Sum256([]byte("legacy-key"))
	legacyHash := hex.EncodeToString(sum[:])

	if !AdminKeyMatchesHash(legacyHash, "legacy-key") {
		t.Fatal("legacy SHA-256 hash should match")
	}
	if AdminKeyMatchesHash(legacyHash, "other-key") {
		t.Fatal("legacy hash matched the wrong key")
	}
}

func TestAdminKeyMatchesHashMalformed(t *testing.T) {
	if AdminKeyMatchesHash("not-a-hash", "anything") {
		t.Fatal("malformed hash should never match")
	}
	if AdminKeyMatchesHash("", "anything") {
		t.Fatal("empty hash should never match")
	}
}

func TestAdminKeyValidator(t *testing.T) {
	ctx := context.Background()

	if err := NewAdminKeyValidator("").ValidateToken(ctx, "anything"); err == nil {
		t.Fatal("validator without a configured hash should reject everything")
	}

	hash, err := HashAdminKey("open-sesame")
	if err != nil {
		t.Fatalf("HashAdminKey() error = %v", err)
	}
	validator := NewAdminKeyValidator(hash)

	if err := validator.ValidateToken(ctx, "open-sesame"); err != nil {
		t.Fatalf("ValidateToken(correct) error = %v", err)
	}
	if err := validator.ValidateToken(ctx, "wrong"); err == nil {
		t.Fatal("ValidateToken(wrong) should fail")
	}
}
