package vfs

import (
	"testing"
	"time"

	. "github.com/franela/goblin"
	"golang.org/x/crypto/bcrypt"
)

func newTestStore() *Store {
	digest, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return NewStore([]*User{
		NewUser("alice", "secret", nil),
		NewUser("bob", string(digest), nil),
		NewUser("carol", "  padded  ", nil),
	})
}

func TestStore_Authenticate(t *testing.T) {
	g := Goblin(t)

	old := authFailureDelay
	authFailureDelay = 50 * time.Millisecond
	defer func() { authFailureDelay = old }()

	s := newTestStore()

	g.Describe("Authenticate", func() {
		g.It("returns the user on a correct plaintext password", func() {
			u, err := s.Authenticate("alice", "secret")
			g.Assert(err).IsNil()
			g.Assert(u.Name).Equal("alice")
		})

		g.It("verifies against a bcrypt digest", func() {
			u, err := s.Authenticate("bob", "hunter2")
			g.Assert(err).IsNil()
			g.Assert(u.Name).Equal("bob")
		})

		g.It("trims surrounding whitespace for plaintext comparison", func() {
			u, err := s.Authenticate("carol", "padded")
			g.Assert(err).IsNil()
			g.Assert(u.Name).Equal("carol")
		})

		g.It("rejects an empty password", func() {
			_, err := s.Authenticate("alice", "")
			g.Assert(err).Equal(ErrBadCredentials)
		})

		g.It("delays and reports the same error for unknown users and bad passwords", func() {
			start := time.Now()
			_, unknownErr := s.Authenticate("mallory", "whatever")
			unknownElapsed := time.Since(start)

			start = time.Now()
			_, badPassErr := s.Authenticate("alice", "wrong")
			badPassElapsed := time.Since(start)

			g.Assert(unknownErr).Equal(ErrBadCredentials)
			g.Assert(badPassErr).Equal(ErrBadCredentials)
			g.Assert(unknownElapsed >= authFailureDelay).IsTrue()
			g.Assert(badPassElapsed >= authFailureDelay).IsTrue()
		})

		g.It("does not delay a successful login", func() {
			start := time.Now()
			_, err := s.Authenticate("alice", "secret")
			g.Assert(err).IsNil()
			g.Assert(time.Since(start) < authFailureDelay).IsTrue()
		})
	})
}

func TestStore_Get(t *testing.T) {
	g := Goblin(t)
	s := newTestStore()

	g.Describe("Get", func() {
		g.It("finds configured users", func() {
			u, ok := s.Get("alice")
			g.Assert(ok).IsTrue()
			g.Assert(u.Name).Equal("alice")
			g.Assert(s.Len()).Equal(3)
		})

		g.It("misses unknown users", func() {
			_, ok := s.Get("mallory")
			g.Assert(ok).IsFalse()
		})
	})
}
