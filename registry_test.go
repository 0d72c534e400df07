package jogarm

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeSession counts how often it was closed
type fakeSession struct {
	closed atomic.Int64
}

func (s *fakeSession) Close() error {
	s.closed.Add(1)
	return nil
}

func startFake(s *fakeSession, starts *int64) func() (session, error) {
	return func() (session, error) {
		atomic.AddInt64(starts, 1)
		return s, nil
	}
}

// TestRegistryCreation tests basic registry creation and initialization
func TestRegistryCreation(t *testing.T) {
	registry := NewSessionRegistry()

	if registry == nil {
		t.Fatal("NewSessionRegistry returned nil")
	}
	if registry.entries == nil {
		t.Fatal("Registry entries map not initialized")
	}
	if len(registry.entries) != 0 {
		t.Fatal("Registry should start empty")
	}
}

// TestSharedSession tests that identical configs share one pipeline
func TestSharedSession(t *testing.T) {
	registry := NewSessionRegistry()
	cfg := testConfig()
	fake := &fakeSession{}
	var starts int64

	s1, err := registry.Acquire("arm1", cfg, startFake(fake, &starts))
	if err != nil {
		t.Fatalf("Failed to acquire session: %v", err)
	}
	s2, err := registry.Acquire("arm1", testConfig(), startFake(&fakeSession{}, &starts))
	if err != nil {
		t.Fatalf("Failed to acquire shared session: %v", err)
	}
	if s1 != s2 {
		t.Fatal("Expected the same session for an identical config")
	}
	if starts != 1 {
		t.Fatalf("Expected the pipeline to start once, started %d times", starts)
	}

	refCount, exists := registry.Status("arm1")
	if !exists || refCount != 2 {
		t.Fatalf("Expected refCount 2, got %d (exists=%v)", refCount, exists)
	}

	// First release keeps the pipeline running
	if err := registry.Release("arm1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if fake.closed.Load() != 0 {
		t.Fatal("Session closed while still referenced")
	}

	// Last release closes it
	if err := registry.Release("arm1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if fake.closed.Load() != 1 {
		t.Fatalf("Expected session to be closed once, closed %d times", fake.closed.Load())
	}
	if _, exists := registry.Status("arm1"); exists {
		t.Fatal("Registry entry should be removed after the last release")
	}
}

// TestConfigConflict tests that a second config for the same arm is rejected
func TestConfigConflict(t *testing.T) {
	registry := NewSessionRegistry()
	var starts int64

	if _, err := registry.Acquire("arm1", testConfig(), startFake(&fakeSession{}, &starts)); err != nil {
		t.Fatalf("Failed to acquire session: %v", err)
	}

	other := testConfig()
	other.PubPeriod = 0.02
	if _, err := registry.Acquire("arm1", other, startFake(&fakeSession{}, &starts)); err == nil {
		t.Fatal("Expected a conflict for a different config on the same arm")
	}

	// A different arm is independent
	if _, err := registry.Acquire("arm2", other, startFake(&fakeSession{}, &starts)); err != nil {
		t.Fatalf("Failed to acquire session for a second arm: %v", err)
	}
	if starts != 2 {
		t.Fatalf("Expected 2 pipelines, got %d", starts)
	}
}

// TestStartFailure tests that a failed start leaves no entry behind
func TestStartFailure(t *testing.T) {
	registry := NewSessionRegistry()

	_, err := registry.Acquire("arm1", testConfig(), func() (session, error) {
		return nil, fmt.Errorf("mock arm error")
	})
	if err == nil {
		t.Fatal("Expected start error to be returned")
	}
	if _, exists := registry.Status("arm1"); exists {
		t.Fatal("Failed start should not register a session")
	}

	// Releasing an unknown arm is a no-op
	if err := registry.Release("arm1"); err != nil {
		t.Fatalf("Release of unknown arm failed: %v", err)
	}
}

// TestConcurrentRegistryAccess tests thread safety
func TestConcurrentRegistryAccess(t *testing.T) {
	registry := NewSessionRegistry()
	fake := &fakeSession{}
	var starts int64
	const numGoroutines = 10

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := registry.Acquire("arm1", testConfig(), startFake(fake, &starts)); err != nil {
				t.Errorf("Acquire failed: %v", err)
			}
			registry.Status("arm1")
		}()
	}
	wg.Wait()

	if starts != 1 {
		t.Fatalf("Expected a single pipeline start, got %d", starts)
	}
	refCount, _ := registry.Status("arm1")
	if refCount != numGoroutines {
		t.Fatalf("Expected refCount %d, got %d", numGoroutines, refCount)
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			registry.Release("arm1")
		}()
	}
	wg.Wait()

	if fake.closed.Load() != 1 {
		t.Fatalf("Expected session closed exactly once, got %d", fake.closed.Load())
	}
}
