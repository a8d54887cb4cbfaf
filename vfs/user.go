package vfs

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Mount binds a name in a user's virtual namespace to a real directory on
// the underlying filesystem. The path is absolute and fixed at configuration
// load time; it is never mutated once the mount has been constructed.
type Mount struct {
	Name     string
	Path     string
	ReadOnly bool
}

// User is a single configured identity. A user owns an independent set of
// mounts keyed by name; a user with no mounts is valid and simply exposes an
// empty virtual root. Users are built once at startup and shared read-only
// across every session, so none of the fields may be modified after New
// returns.
type User struct {
	Name     string
	Password string

	mounts map[string]*Mount
	// Mount names in configuration order, used when listing the virtual root.
	order []string
}

// NewUser builds a user from its mount set. Mount names must already be
// unique; the config loader enforces that before calling in here.
func NewUser(name string, password string, mounts []*Mount) *User {
	u := &User{
		Name:     name,
		Password: password,
		mounts:   make(map[string]*Mount, len(mounts)),
		order:    make([]string, 0, len(mounts)),
	}
	for _, m := range mounts {
		u.mounts[m.Name] = m
		u.order = append(u.order, m.Name)
	}
	return u
}

// Mount returns the mount bound to the given name, if one exists.
func (u *User) Mount(name string) (*Mount, bool) {
	m, ok := u.mounts[name]
	return m, ok
}

// Mounts returns the user's mounts in configuration order.
func (u *User) Mounts() []*Mount {
	out := make([]*Mount, 0, len(u.order))
	for _, name := range u.order {
		out = append(out, u.mounts[name])
	}
	return out
}

// passwordMatches compares a presented plaintext password against the stored
// credential. Credentials stored as a bcrypt digest are verified against the
// digest; anything else is compared directly with surrounding whitespace
// trimmed from both sides.
func (u *User) passwordMatches(presented string) bool {
	if presented == "" {
		return false
	}
	if strings.HasPrefix(u.Password, "$2a$") || strings.HasPrefix(u.Password, "$2b$") || strings.HasPrefix(u.Password, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(presented)) == nil
	}
	return strings.TrimSpace(u.Password) == strings.TrimSpace(presented)
}

// Store is the process-wide identity table. It is constructed once from the
// configuration, never written to afterwards, and handed by reference to
// every concurrent session.
type Store struct {
	users map[string]*User
}

// NewStore builds the identity table from a slice of users.
func NewStore(users []*User) *Store {
	s := &Store{users: make(map[string]*User, len(users))}
	for _, u := range users {
		s.users[u.Name] = u
	}
	return s
}

// Get returns the user with the given name, if one is configured.
func (s *Store) Get(name string) (*User, bool) {
	u, ok := s.users[name]
	return u, ok
}

// Len returns the number of configured users.
func (s *Store) Len() int {
	return len(s.users)
}
