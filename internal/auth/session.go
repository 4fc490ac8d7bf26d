package auth

import (
	"time"

	"github.com/mj-trademark/portal/internal/shared/types"
)

// SessionConfig defines session lifetimes.
type SessionConfig struct {
	DefaultTTL  time.Duration // 30 days
	RememberTTL time.Duration // 90 days with rememberMe
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		DefaultTTL:  30 * 24 * time.Hour,
		RememberTTL: 90 * 24 * time.Hour,
	}
}

// TTL returns the lifetime of a new session.
func (c SessionConfig) TTL(rememberMe bool) time.Duration {
	if rememberMe {
		return c.RememberTTL
	}
	return c.DefaultTTL
}

// Session represents an active user session.
type Session struct {
	ID        types.ID  `json:"id"`
	UserID    types.ID  `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewSession opens a session for userID starting at now.
func NewSession(cfg SessionConfig, userID types.ID, rememberMe bool, ip, userAgent string, now time.Time) *Session {
	return &Session{
		ID:        types.NewID(),
		UserID:    userID,
		ExpiresAt: now.Add(cfg.TTL(rememberMe)),
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: now,
	}
}

// IsExpired checks if the session has expired at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Identity is what the session middleware stores in the request context.
type Identity struct {
	SessionID types.ID
	Principal Principal
	Name      string
	Email     string
}
