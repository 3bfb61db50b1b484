package common

import (
	"errors"
	"testing"

	"gigescrow/storage"
)

func TestSwitchTransitions(t *testing.T) {
	s := NewSwitch(nil)
	if err := Guard(s); err != nil {
		t.Fatalf("expected running switch, got %v", err)
	}
	if err := GuardSuspended(s); !errors.Is(err, ErrModuleRunning) {
		t.Fatalf("expected ErrModuleRunning, got %v", err)
	}
	if err := s.Resume(); !errors.Is(err, ErrModuleRunning) {
		t.Fatalf("resume while running: %v", err)
	}
	if err := s.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := s.Pause(); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("double pause: %v", err)
	}
	if err := Guard(s); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := GuardSuspended(s); err != nil {
		t.Fatalf("expected suspended, got %v", err)
	}
}

func TestSwitchPersistsState(t *testing.T) {
	db := storage.NewMemDB()
	s := NewSwitch(db)
	if err := s.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !NewSwitch(db).IsSuspended() {
		t.Fatalf("expected reopened switch to be suspended")
	}
	if err := s.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !NewSwitch(db).IsRunning() {
		t.Fatalf("expected reopened switch to be running")
	}
}

func TestGuardNilView(t *testing.T) {
	if err := Guard(nil); err != nil {
		t.Fatalf("nil view should pass: %v", err)
	}
}
