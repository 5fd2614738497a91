// Package storetest provides an in-memory domain.Store with fault injection
// for component tests.
package storetest

import (
	"context"
	"errors"
	"sync"

	"github.com/tutu-network/talpay/internal/domain"
)

// ErrInjected is returned by Commit while a fault is armed.
var ErrInjected = errors.New("injected store fault")

// Store records every committed changeset.
type Store struct {
	mu      sync.Mutex
	commits []domain.Changeset
	failAt  int // commit number (1-based) that fails; 0 = never
	failAll bool
	calls   int
}

// New returns an empty store.
func New() *Store { return &Store{} }

// Load returns an empty snapshot.
func (s *Store) Load(context.Context) (*domain.Snapshot, error) {
	return &domain.Snapshot{}, nil
}

// Commit records cs unless a fault is armed.
func (s *Store) Commit(_ context.Context, cs *domain.Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failAll || s.calls == s.failAt {
		return ErrInjected
	}
	s.commits = append(s.commits, *cs)
	return nil
}

// FailNext makes the next Commit fail once.
func (s *Store) FailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt = s.calls + 1
}

// FailAll makes every Commit fail until Heal.
func (s *Store) FailAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = true
}

// Heal disarms every fault.
func (s *Store) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = false
	s.failAt = 0
}

// Commits returns the successful changesets in order.
func (s *Store) Commits() []domain.Changeset {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Changeset, len(s.commits))
	copy(out, s.commits)
	return out
}

// Last returns the most recent successful changeset.
func (s *Store) Last() domain.Changeset {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.commits) == 0 {
		return domain.Changeset{}
	}
	return s.commits[len(s.commits)-1]
}
