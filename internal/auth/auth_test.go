// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// USERS TESTS
// =============================================================================

func TestParseUsers(t *testing.T) {
	u := ParseUsers("alice:wonder, bob:b:u:i:l:d ,broken,:nouser,nopass:, ,carol:c")

	tests := []struct {
		user, pass string
		want       bool
	}{
		{"alice", "wonder", true},
		{"bob", "b:u:i:l:d", true},
		{"carol", "c", true},
		{"alice", "WONDER", false},
		{"broken", "", false},
		{"nopass", "", false},
		{"", "nouser", false},
		{"mallory", "wonder", false},
	}

	for _, tc := range tests {
		if got := u.Validate(tc.user, tc.pass); got != tc.want {
			t.Errorf("Validate(%q, %q) = %v, want %v", tc.user, tc.pass, got, tc.want)
		}
	}
	if u.Len() != 3 {
		t.Errorf("Len() = %d, want 3", u.Len())
	}
	if got := strings.Join(u.Names(), ","); got != "alice,bob,carol" {
		t.Errorf("Names() = %q, want 'alice,bob,carol'", got)
	}
}

func TestParseUsers_Empty(t *testing.T) {
	u := ParseUsers("")
	if u.Len() != 0 {
		t.Errorf("Len() = %d, want 0", u.Len())
	}
	if u.Validate("", "") {
		t.Error("empty credentials should never validate")
	}
}

func TestUsers_Replace(t *testing.T) {
	u := ParseUsers("alice:one")
	u.Replace("alice:two")

	if u.Validate("alice", "one") {
		t.Error("old password still valid after Replace")
	}
	if !u.Validate("alice", "two") {
		t.Error("new password not valid after Replace")
	}
}

// =============================================================================
// TOKEN TESTS
// =============================================================================

func TestUsers_BcryptPasswords(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}
	u := ParseUsers("alice:" + string(hash) + ",bob:plain")

	if !u.Validate("alice", "s3cret") {
		t.Error("Validate(alice, s3cret) = false, want true")
	}
	if u.Validate("alice", string(hash)) {
		t.Error("Validate(alice, <hash>) = true, want false")
	}
	if !u.Validate("bob", "plain") {
		t.Error("Validate(bob, plain) = false, want true")
	}
	if u.Validate("bob", "plai") {
		t.Error("Validate(bob, plai) = true, want false")
	}
}

func TestTokens_IssueAndParse(t *testing.T) {
	tokens := NewTokens("s3cret", time.Hour)

	signed, err := tokens.Issue("alice")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := tokens.Parse(signed)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Username != "alice" {
		t.Errorf("Username = %q, want 'alice'", claims.Username)
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > time.Hour {
		t.Errorf("ExpiresAt = %v, want within an hour", claims.ExpiresAt)
	}
}

func TestTokens_Expired(t *testing.T) {
	tokens := NewTokens("s3cret", time.Minute)
	tokens.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	signed, err := tokens.Issue("alice")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tokens.now = time.Now
	if _, err := tokens.Parse(signed); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Parse() error = %v, want ErrTokenExpired", err)
	}
}

func TestTokens_Rejects(t *testing.T) {
	tokens := NewTokens("s3cret", time.Hour)
	other := NewTokens("different", time.Hour)
	forged, _ := other.Issue("alice")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Username: "alice"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"empty", ""},
		{"wrong secret", forged},
		{"alg none", unsigned},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tokens.Parse(tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Parse() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokens_NoSecret(t *testing.T) {
	tokens := NewTokens("", 0)
	if _, err := tokens.Issue("alice"); !errors.Is(err, ErrNoSecret) {
		t.Errorf("Issue() error = %v, want ErrNoSecret", err)
	}
	if tokens.TTL() != DefaultTokenTTL {
		t.Errorf("TTL() = %v, want %v", tokens.TTL(), DefaultTokenTTL)
	}
}
