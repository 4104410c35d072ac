// Package userstore is the production backing for internal/xtreamapi's
// UserStore interface: loads and persists api_proxy.yml, hashes
// passwords with bcrypt, and tracks live connection counts through
// internal/sharedstate so a user's max_connections can actually be
// enforced end to end instead of only by a test double.
//
// Ported in spirit from yourflock-roost's server/services/auth
// (handlers_login.go/handlers_register.go) for the bcrypt cost and
// timing-safe-compare-even-on-miss pattern, and from ManuGH-xg2g's
// internal/jobs/write_unix.go for atomic YAML persistence via
// google/renameio/v2.
package userstore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/xtreamrelay/xtreamrelay/internal/model"
	"github.com/xtreamrelay/xtreamrelay/internal/sharedstate"
)

// bcryptCost matches yourflock-roost's handlers_register.go: cost 12.
const bcryptCost = 12

// file is api_proxy.yml's on-disk shape: one entry per downstream
// credential, each bound to the target (lineup) name it is served
// from.
type file struct {
	Users []fileUser `yaml:"users"`
}

type fileUser struct {
	model.Credential `yaml:",inline"`
	Target           string `yaml:"target"`
}

// Store is the mutable, persisted set of downstream credentials for one
// deployment, guarded by a mutex since the admin API and the scheduler
// can both touch it concurrently.
type Store struct {
	path string
	reg  *sharedstate.Registry

	mu    sync.RWMutex
	users map[string]*fileUser // keyed by username
}

// Open loads path if it exists, or starts from an empty store (a fresh
// deployment with no users provisioned yet is not an error).
func Open(path string, reg *sharedstate.Registry) (*Store, error) {
	s := &Store{path: path, reg: reg, users: make(map[string]*fileUser)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("userstore: read %s: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("userstore: parse %s: %w", path, err)
	}
	for i := range f.Users {
		u := f.Users[i]
		u.ProxyMode = model.ParseProxyMode(u.ProxyModeRaw)
		s.users[u.Username] = &u
	}
	return s, nil
}

// persist atomically rewrites the backing YAML file (renameio fsyncs
// the temp file and renames over the original, so a crash mid-write
// never leaves a truncated api_proxy.yml behind).
func (s *Store) persist() error {
	f := file{Users: make([]fileUser, 0, len(s.users))}
	for _, u := range s.users {
		f.Users = append(f.Users, *u)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("userstore: marshal: %w", err)
	}
	pending, err := renameio.NewPendingFile(s.path)
	if err != nil {
		return fmt.Errorf("userstore: create pending file: %w", err)
	}
	defer pending.Cleanup()
	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("userstore: write: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("userstore: replace: %w", err)
	}
	return nil
}

// Authenticate reports whether username/password identify an active
// credential. The bcrypt comparison always runs, even when the
// username is unknown, to keep the failure path constant-time
// (mirrors handlers_login.go's "perform bcrypt comparison even on
// user-not-found" note).
func (s *Store) Authenticate(username, password string) (*model.Credential, bool) {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()

	hash := "$2a$12$invalidinvalidinvalideuJ8q8q8q8q8q8q8q8q8q8q8q8q8q8q8"
	if ok {
		hash = u.PasswordHash
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if !ok || err != nil {
		return nil, false
	}
	if !u.Credential.Active(time.Now()) {
		return nil, false
	}
	cred := u.Credential
	return &cred, true
}

// TargetName reports which configured target serves username, or "" if
// the user is unknown.
func (s *Store) TargetName(username string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[username]; ok {
		return u.Target
	}
	return ""
}

// ActiveConnections reports username's current live connection count
// through the shared connection Registry (in-process map or Redis,
// depending on deployment).
func (s *Store) ActiveConnections(username string) int {
	return s.reg.ActiveConnections(context.Background(), username)
}

// Acquire enforces username's max_connections against the shared
// Registry: it increments first, then backs the increment out and
// reports false if that push over the limit.
// max_connections <= 0 means unlimited.
func (s *Store) Acquire(username string) bool {
	cred, ok := s.Credential(username)
	if !ok {
		return false
	}
	ctx := context.Background()
	n, err := s.reg.Acquire(ctx, username)
	if err != nil {
		return false
	}
	if cred.MaxConnections > 0 && n > int64(cred.MaxConnections) {
		s.reg.Release(ctx, username)
		return false
	}
	return true
}

// Release gives back one connection slot acquired via Acquire.
func (s *Store) Release(username string) {
	s.reg.Release(context.Background(), username)
}

// AddUser hashes password, stores the credential under username bound
// to targetName, and persists the store.
func (s *Store) AddUser(username, password, targetName string, maxConnections int, bouquet *model.Bouquet) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("userstore: hash password: %w", err)
	}

	s.mu.Lock()
	s.users[username] = &fileUser{
		Credential: model.Credential{
			Username:       username,
			PasswordHash:   string(hash),
			ProxyMode:      model.ProxyReverse,
			ProxyModeRaw:   model.ProxyReverse.String(),
			Bouquet:        bouquet,
			MaxConnections: maxConnections,
			Status:         model.StatusActive,
			CreatedAt:      time.Now(),
		},
		Target: targetName,
	}
	s.mu.Unlock()

	return s.persist()
}

// RemoveUser deletes username and persists the store. A no-op (not an
// error) if the user doesn't exist.
func (s *Store) RemoveUser(username string) error {
	s.mu.Lock()
	delete(s.users, username)
	s.mu.Unlock()
	return s.persist()
}

// Credential returns a copy of username's stored credential, if any.
func (s *Store) Credential(username string) (model.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return model.Credential{}, false
	}
	return u.Credential, true
}
