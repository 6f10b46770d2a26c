// Package auth holds the signed-in session and the account service that
// issues its tokens.
package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the signed-in user as seen by the scan pipeline. It is
// created at sign-in, cleared at sign-out and never modified in between.
type Session struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SessionFromToken rebuilds a session from a token issued by a backend
// whose secret is not known locally. The signature is not checked; the
// backend verifies it on every request.
func SessionFromToken(token string) (Session, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return Session{}, ErrInvalidToken
	}

	s := Session{UserID: claims.UserID, Email: claims.Email, Token: token}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return s, nil
}

// Holder keeps the current session. It is safe for concurrent use and
// satisfies the owner and token sources of the scanner and remote gateway.
type Holder struct {
	mu      sync.RWMutex
	session *Session
	now     func() time.Time
}

// NewHolder creates a Holder with no session.
func NewHolder() *Holder {
	return &Holder{now: time.Now}
}

// SignIn replaces the current session.
func (h *Holder) SignIn(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = &s
}

// SignOut clears the current session.
func (h *Holder) SignOut() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = nil
}

// Current returns the session, if one is active and unexpired.
func (h *Holder) Current() (Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.session == nil || h.session.Expired(h.now()) {
		return Session{}, false
	}
	return *h.session, true
}

// OwnerID returns the signed-in user's id, or "".
func (h *Holder) OwnerID() string {
	s, _ := h.Current()
	return s.UserID
}

// Token returns the signed-in user's bearer token, or "".
func (h *Holder) Token() string {
	s, _ := h.Current()
	return s.Token
}
