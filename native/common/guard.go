package common

import (
	"errors"
	"sync"

	"gigescrow/storage"
)

var (
	// ErrModulePaused is returned when a running-only operation is attempted
	// while the switch is suspended.
	ErrModulePaused = errors.New("module paused")
	// ErrModuleRunning is returned when a suspended-only operation is attempted
	// while the switch is running.
	ErrModuleRunning = errors.New("module running")
)

const pauseKey = "system/pause"

// PauseView exposes the operational state of the system.
type PauseView interface {
	IsRunning() bool
	IsSuspended() bool
}

// Guard returns ErrModulePaused unless the view reports the system running.
// A nil view is treated as running.
func Guard(p PauseView) error {
	if p == nil {
		return nil
	}
	if !p.IsRunning() {
		return ErrModulePaused
	}
	return nil
}

// GuardSuspended returns ErrModuleRunning unless the system is suspended.
func GuardSuspended(p PauseView) error {
	if p == nil || !p.IsSuspended() {
		return ErrModuleRunning
	}
	return nil
}

// Switch is the operational kill switch. The state survives restarts when a
// database is attached.
type Switch struct {
	mu     sync.RWMutex
	paused bool
	db     storage.Database
}

// NewSwitch returns a running switch. When db already holds a pause marker the
// switch starts suspended.
func NewSwitch(db storage.Database) *Switch {
	s := &Switch{db: db}
	if db != nil {
		if value, err := db.Get([]byte(pauseKey)); err == nil && len(value) == 1 && value[0] == 1 {
			s.paused = true
		}
	}
	return s
}

func (s *Switch) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.paused
}

func (s *Switch) IsSuspended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// Pause suspends the system. Pausing twice returns ErrModulePaused.
func (s *Switch) Pause() error {
	return s.set(true)
}

// Resume returns the system to running. Resuming a running system returns
// ErrModuleRunning.
func (s *Switch) Resume() error {
	return s.set(false)
}

func (s *Switch) set(paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == paused {
		if paused {
			return ErrModulePaused
		}
		return ErrModuleRunning
	}
	if s.db != nil {
		value := []byte{0}
		if paused {
			value = []byte{1}
		}
		if err := s.db.Put([]byte(pauseKey), value); err != nil {
			return err
		}
	}
	s.paused = paused
	return nil
}
