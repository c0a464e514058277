// Package session holds the process-wide credentials and gates protected routes on them.
package session

import (
	"sync"
	"time"

	"spotiknob/internal/core"
)

// TokenStore is the single owner of the current credentials. Set, Clear,
// ClearIf and Expire are the only mutation points; readers never observe a partial write.
type TokenStore struct {
	mutex   sync.RWMutex
	creds   core.Credentials
	present bool
}

// NewTokenStore creates an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// Set replaces the held credentials. An incomplete credential set leaves the store absent.
func (s *TokenStore) Set(creds core.Credentials) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !creds.Complete() {
		s.creds = core.Credentials{}
		s.present = false
		return
	}

	s.creds = creds
	s.present = true
}

// Get returns the held credentials and whether any are present.
func (s *TokenStore) Get() (core.Credentials, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.creds, s.present
}

// Clear resets the store to absent.
func (s *TokenStore) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.creds = core.Credentials{}
	s.present = false
}

// ClearIf resets the store only while it still holds refreshToken, so a
// failure against an old token never discards credentials set since.
func (s *TokenStore) ClearIf(refreshToken string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.present || s.creds.RefreshToken != refreshToken {
		return false
	}
	s.creds = core.Credentials{}
	s.present = false
	return true
}

// Expire marks the held access token as stale without discarding the refresh token.
func (s *TokenStore) Expire(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.present && now.Before(s.creds.ExpiresAt) {
		s.creds.ExpiresAt = now
	}
}

// IsStale reports whether no usable access token is held at now.
func (s *TokenStore) IsStale(now time.Time) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return !s.present || s.creds.StaleAt(now)
}

// State classifies the store contents at now.
func (s *TokenStore) State(now time.Time) core.SessionState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	switch {
	case !s.present:
		return core.StateUnauthenticated
	case s.creds.StaleAt(now):
		return core.StateExpired
	default:
		return core.StateAuthenticated
	}
}
