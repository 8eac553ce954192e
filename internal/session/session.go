// Package session holds the authenticated identity produced by login.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoSession       = errors.New("no session: run login first")
	ErrSessionExpired  = errors.New("session expired: run login again")
	ErrSubjectMismatch = errors.New("session token belongs to another user")
)

// Session is the user id and bearer token of a prior login. It is a value;
// components copy it and never change it.
type Session struct {
	UserID   int    `json:"user_id"`
	Token    string `json:"access_token"`
	Username string `json:"username,omitempty"`
}

// Valid reports whether the session can authorize requests at now. Opaque
// tokens are accepted as-is; JWTs are checked for expiry and subject.
func (s Session) Valid(now time.Time) error {
	if s.UserID <= 0 || s.Token == "" {
		return ErrNoSession
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.Token, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return ErrSessionExpired
	}
	if claims.Subject != "" {
		if sub, err := strconv.Atoi(claims.Subject); err == nil && sub != s.UserID {
			return ErrSubjectMismatch
		}
	}
	return nil
}

// Store persists the session between CLI invocations.
type Store struct {
	path string
}

// NewStore returns a file-backed store at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads and validates the stored session.
func (s *Store) Load() (Session, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if err := sess.Valid(time.Now()); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Save writes the session with owner-only permissions.
func (s *Store) Save(sess Session) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Clear removes the stored session. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
