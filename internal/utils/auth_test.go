package utils

import (
	"testing"

	"github.com/xelth-com/mixstationgo/internal/config"
	"github.com/xelth-com/mixstationgo/internal/models"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("shift-pass")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPasswordHash("shift-pass", hash) {
		t.Error("correct password rejected")
	}
	if CheckPasswordHash("wrong", hash) {
		t.Error("wrong password accepted")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret"}
	user := &models.UserAuth{ID: "u-1", Username: "alice", Role: "operator"}

	access, refresh, err := GenerateTokens(user, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if access == "" || refresh == "" {
		t.Fatal("empty tokens")
	}

	claims, err := ValidateToken(access, cfg.JWTSecret)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims["username"] != "alice" || claims["role"] != "operator" {
		t.Errorf("claims = %v", claims)
	}

	if _, err := ValidateToken(access, "other-secret"); err == nil {
		t.Error("token accepted with wrong secret")
	}
}
