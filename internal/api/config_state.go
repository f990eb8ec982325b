package api

import (
	"fmt"
	"sync"

	"github.com/sairen/sairen-os/internal/config"
)

// ConfigState guards the live configuration document with a read-write
// lock so the HTTP handlers can serve concurrent GETs while a POST
// validates and swaps in a new revision. Persistence to disk happens
// synchronously inside Update so a crash right after a 200 response
// can never lose the change.
type ConfigState struct {
	mu   sync.RWMutex
	cfg  config.Config
	path string
}

// NewConfigState wraps an already-loaded configuration for live
// inspection and update through the API. path is where Update persists
// accepted revisions; an empty path disables persistence (tests).
func NewConfigState(cfg config.Config, path string) *ConfigState {
	return &ConfigState{cfg: cfg, path: path}
}

// Get returns the current configuration.
func (s *ConfigState) Get() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update validates next, persists it (if a path was configured), and
// swaps it in as current. On validation or write failure the
// previously-held configuration is left untouched.
func (s *ConfigState) Update(next config.Config) error {
	if errs := config.Validate(next); len(errs) > 0 {
		return fmt.Errorf("invalid config: %v", errs)
	}
	if s.path != "" {
		if err := config.Save(s.path, next); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.cfg = next
	s.mu.Unlock()
	return nil
}

// UpdateCampaign applies a campaign switch without touching any other
// section, re-validating the merged document before committing.
func (s *ConfigState) UpdateCampaign(campaign config.Campaign) error {
	s.mu.RLock()
	next := s.cfg
	s.mu.RUnlock()
	next.Campaign = campaign
	return s.Update(next)
}
