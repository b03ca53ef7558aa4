// Package locking provides per-entity exclusive locks.
//
// Granularity is one key per entity (e.g. "case:<id>"); holders of
// different keys never contend. The scheduler relies on the non-blocking
// contract: a contended key returns ErrLocked immediately so a sweep can
// skip the entity and pick it up on the next trigger.
package locking

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLocked reports that another holder currently owns the key.
// It is retryable at the caller's discretion.
var ErrLocked = errors.New("locking: entity is locked")

// Locking executes fn while exclusively holding key.
// fn's error is returned unchanged; the lock is always released.
type Locking interface {
	WithExclusiveLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// CaseKey and SessionKey build the conventional keys for the two entity
// kinds this core locks.
func CaseKey(caseID string) string       { return "case:" + caseID }
func SessionKey(sessionID string) string { return "agent_session:" + sessionID }

// Memory is a process-local Locking backed by a mutex map. It is the
// default for tests and single-process deployments.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{locks: map[string]*sync.Mutex{}}
}

func (m *Memory) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

func (m *Memory) WithExclusiveLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if key == "" {
		return fmt.Errorf("locking: key is required")
	}
	l := m.lockFor(key)
	if !l.TryLock() {
		return fmt.Errorf("%w: %s", ErrLocked, key)
	}
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
