package tome

import (
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

type UserIdentity struct {
	UserId int64  `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// client-held record of authenticated identity plus optional access token.
// a session with identity but no usable token is degraded:
// valid for identity display, invalid for authenticated calls
type Session struct {
	User        UserIdentity
	AccessToken string
}

func (self *Session) Degraded() bool {
	return !self.TokenUsable()
}

func (self *Session) TokenUsable() bool {
	if self.AccessToken == "" {
		return false
	}
	if expireTime, err := self.ExpiresAt(); err == nil && !expireTime.IsZero() {
		return time.Now().Before(expireTime)
	}
	return true
}

// reads the exp claim without verifying the signature.
// verification is the backend's job; the client only needs to know
// whether sending the token is worthwhile
func (self *Session) ExpiresAt() (time.Time, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(self.AccessToken, gojwt.MapClaims{})
	if err != nil {
		return time.Time{}, err
	}

	claims := token.Claims.(gojwt.MapClaims)
	if exp, ok := claims["exp"]; ok {
		if expFloat, ok := exp.(float64); ok {
			return time.Unix(int64(expFloat), 0), nil
		}
	}
	return time.Time{}, nil
}

// single source of truth for credentials. no other component caches a token.
// each `Set`/`Clear` starts a new session generation, which resets
// the one-shot auth diagnostic and the refresh supervisor's attempt state
type SessionStore struct {
	mutex sync.Mutex

	session    *Session
	generation int

	// one diagnostic per session generation for 401/403
	authErrorReported bool
}

func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

func (self *SessionStore) Get() *Session {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.session == nil {
		return nil
	}
	sessionCopy := *self.session
	return &sessionCopy
}

func (self *SessionStore) Set(session *Session) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	sessionCopy := *session
	self.session = &sessionCopy
	self.generation += 1
	self.authErrorReported = false
}

func (self *SessionStore) Clear() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.session = nil
	self.generation += 1
	self.authErrorReported = false
}

func (self *SessionStore) Generation() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.generation
}

// returns true the first time per session generation,
// so the auth diagnostic fires once and repeats are suppressed
func (self *SessionStore) ReportAuthError() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.authErrorReported {
		return false
	}
	self.authErrorReported = true
	return true
}
