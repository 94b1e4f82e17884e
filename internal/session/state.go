// Package session holds process-wide state shared by every task, currently
// the verified autocut installation path.
package session

import (
	"fmt"
	"strings"
	"sync/atomic"

	"autocut-desktop/internal/domain"
)

// ErrNotConfigured is returned when a task needs the installation path but
// no installation has been verified yet.
var ErrNotConfigured = fmt.Errorf("%w: autocut installation path is not set, run check-autocut first", domain.ErrConfiguration)

// State is safe for concurrent use. Writers replace the whole value, so a
// reader sees either the old or the new path.
type State struct {
	installPath atomic.Pointer[string]
}

// New creates an empty session.
func New() *State {
	return &State{}
}

// InstallPath returns the verified installation path and whether one is set.
func (s *State) InstallPath() (string, bool) {
	p := s.installPath.Load()
	if p == nil || *p == "" {
		return "", false
	}
	return *p, true
}

// RequireInstallPath returns the path or ErrNotConfigured.
func (s *State) RequireInstallPath() (string, error) {
	path, ok := s.InstallPath()
	if !ok {
		return "", ErrNotConfigured
	}
	return path, nil
}

// SetInstallPath records a freshly verified installation path.
// Blank paths are ignored.
func (s *State) SetInstallPath(path string) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return
	}
	s.installPath.Store(&trimmed)
}
