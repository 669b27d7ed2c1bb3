// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"crypto/subtle"
	"log"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// USERS
// =============================================================================

// Users is a username to password table. A password may be given as a bcrypt
// hash ($2a$, $2b$ or $2y$ prefix) instead of plain text. The zero value has
// no users.
type Users struct {
	mu    sync.RWMutex
	creds map[string]string
}

// ParseUsers parses "user:pass,user:pass". Malformed pairs are logged and
// skipped. The password may itself contain colons.
func ParseUsers(spec string) *Users {
	u := &Users{}
	u.Replace(spec)
	return u
}

// Replace swaps the user table for the one parsed from spec.
func (u *Users) Replace(spec string) {
	creds := make(map[string]string)
	for i, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, pass, ok := strings.Cut(pair, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || pass == "" {
			log.Printf("AUTH_USER_SKIPPED | index=%d reason=malformed", i)
			continue
		}
		creds[name] = pass
	}

	u.mu.Lock()
	u.creds = creds
	u.mu.Unlock()
}

// Validate reports whether the pair matches a configured user.
func (u *Users) Validate(username, password string) bool {
	if username == "" || password == "" {
		return false
	}
	u.mu.RLock()
	want, ok := u.creds[username]
	u.mu.RUnlock()
	if !ok {
		return false
	}
	if isBcryptHash(want) {
		return bcrypt.CompareHashAndPassword([]byte(want), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(password)) == 1
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}

// Len returns the number of users.
func (u *Users) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.creds)
}

// Names returns the sorted usernames.
func (u *Users) Names() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	names := make([]string, 0, len(u.creds))
	for name := range u.creds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
