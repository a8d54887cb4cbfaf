package vfs

import (
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
)

// ErrBadCredentials is the only authentication failure callers ever see.
// Internally an unknown username and a wrong password are logged as
// different events, but the caller gets the same error after the same delay
// for both, so the failure shape cannot be used to enumerate usernames.
var ErrBadCredentials = errors.New("vfs: invalid username or password")

// authFailureDelay is how long every failed authentication attempt is held
// before the failure is reported. Package variable rather than a constant so
// the tests do not take 1.5 seconds per assertion.
var authFailureDelay = 1500 * time.Millisecond

// Authenticate checks a presented username and password pair against the
// store. Success returns the matched user immediately; any failure sleeps
// for the fixed delay first. The sleep blocks only the calling session's
// goroutine, the store itself is untouched and stays fully concurrent.
func (s *Store) Authenticate(username string, password string) (*User, error) {
	u, ok := s.users[username]
	if !ok {
		log.WithFields(log.Fields{"subsystem": "vfs", "username": username}).Debug("authentication failed: unknown username")
		time.Sleep(authFailureDelay)
		return nil, ErrBadCredentials
	}
	if !u.passwordMatches(password) {
		log.WithFields(log.Fields{"subsystem": "vfs", "username": username}).Debug("authentication failed: password mismatch")
		time.Sleep(authFailureDelay)
		return nil, ErrBadCredentials
	}
	return u, nil
}
