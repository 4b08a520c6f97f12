package jsonstore

import (
	"context"
	"errors"
	"time"

	"moxie_companion/internal/auth"
)

// SettingsFile is the document holding non-secret companion settings
const SettingsFile = "settings.json"

// Settings are persisted user choices. Provider API keys are never stored.
type Settings struct {
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	ChildID     string    `json:"child_id,omitempty"`
	PINHash     string    `json:"pin_hash,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LoadSettings returns the saved settings, or empty settings when none exist
func (s *Store) LoadSettings() (*Settings, error) {
	var settings Settings
	if err := s.Load(SettingsFile, &settings); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Settings{}, nil
		}
		return nil, err
	}
	return &settings, nil
}

// SaveSettings stamps and stores settings
func (s *Store) SaveSettings(settings *Settings) error {
	settings.UpdatedAt = time.Now().UTC()
	return s.Save(SettingsFile, settings)
}

// UpdateSettings applies fn to the current settings and saves the result
func (s *Store) UpdateSettings(fn func(*Settings)) error {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	settings, err := s.LoadSettings()
	if err != nil {
		return err
	}
	fn(settings)
	return s.SaveSettings(settings)
}

// PINHash returns the stored parent PIN hash
func (s *Store) PINHash(ctx context.Context) (string, error) {
	settings, err := s.LoadSettings()
	if err != nil {
		return "", err
	}
	if settings.PINHash == "" {
		return "", auth.ErrPINNotSet
	}
	return settings.PINHash, nil
}

// SetPINHash stores a new parent PIN hash
func (s *Store) SetPINHash(hash string) error {
	return s.UpdateSettings(func(settings *Settings) {
		settings.PINHash = hash
	})
}

var _ auth.PINStore = (*Store)(nil)
