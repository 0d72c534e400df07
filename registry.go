package jogarm

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// session is a running jog pipeline bound to one arm.
type session interface {
	Close() error
}

type sessionEntry struct {
	session   session
	configKey string
	refCount  int64 // Atomic reference counter
}

// SessionRegistry makes sure each arm is driven by at most one jog pipeline.
// Services that ask for the same arm with an identical configuration share
// the pipeline; a different configuration is a conflict.
type SessionRegistry struct {
	entries map[string]*sessionEntry // arm name -> entry
	mu      sync.Mutex
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		entries: make(map[string]*sessionEntry),
	}
}

var sharedSessions = NewSessionRegistry()

// Acquire returns the pipeline for armName, creating it with start when none exists.
func (r *SessionRegistry) Acquire(armName string, cfg *Config, start func() (session, error)) (session, error) {
	key, err := configKey(cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[armName]; exists {
		if entry.configKey != key {
			currentRefCount := atomic.LoadInt64(&entry.refCount)
			return nil, fmt.Errorf("conflict: arm %q is already jogged with a different config (refCount: %d)", armName, currentRefCount)
		}
		atomic.AddInt64(&entry.refCount, 1)
		return entry.session, nil
	}

	s, err := start()
	if err != nil {
		return nil, err
	}
	r.entries[armName] = &sessionEntry{session: s, configKey: key, refCount: 1}
	return s, nil
}

// Release drops one reference and closes the pipeline with the last one.
func (r *SessionRegistry) Release(armName string) error {
	r.mu.Lock()
	entry, exists := r.entries[armName]
	if !exists {
		r.mu.Unlock()
		return nil
	}
	if atomic.AddInt64(&entry.refCount, -1) > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, armName)
	r.mu.Unlock()

	return entry.session.Close()
}

// Status returns the reference count for armName and whether a pipeline exists.
func (r *SessionRegistry) Status(armName string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, exists := r.entries[armName]
	if !exists {
		return 0, false
	}
	return atomic.LoadInt64(&entry.refCount), true
}

func configKey(cfg *Config) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint config: %w", err)
	}
	return string(b), nil
}
