// Package profile holds the user's name preference and relationship role,
// persisted as individual keys in local storage.
package profile

import (
	"strings"

	"github.com/comigor/sally-go/internal/storage"
)

// Name modes.
const (
	ModeFirst  = "first"
	ModeFull   = "full"
	ModeCustom = "custom"
)

// Persisted storage keys.
const (
	keyName     = "sally_name"
	keyNameMode = "sally_name_mode"
	keyNickname = "sally_nickname"
	keyRole     = "sally_role"
	keyAura     = "sally_aura"
	keyTheme    = "sally_theme"
)

// DefaultRole is the relationship role used before the user picks one.
const DefaultRole = "Sister"

// NamePreference is the shape sent to the backend as userNamePreference.
type NamePreference struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Profile is the user's naming preference.
type Profile struct {
	Name     string
	Mode     string
	Nickname string
}

// PreferredName derives the display name per the configured mode: the first
// name by default, the full name in "full" mode, and the nickname in
// "custom" mode with the first name as fallback.
func (p Profile) PreferredName() string {
	full := strings.TrimSpace(p.Name)
	switch p.Mode {
	case ModeCustom:
		if nick := strings.TrimSpace(p.Nickname); nick != "" {
			return nick
		}
		return firstWord(full)
	case ModeFull:
		return full
	default:
		return firstWord(full)
	}
}

// Preference builds the outbound name preference payload.
func (p Profile) Preference() NamePreference {
	mode := p.Mode
	if mode == "" {
		mode = ModeFirst
	}
	return NamePreference{Type: mode, Name: p.PreferredName()}
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

// Manager loads and saves the profile, role and appearance keys.
type Manager struct {
	kv *storage.Store
}

// NewManager wraps the given store.
func NewManager(kv *storage.Store) *Manager {
	return &Manager{kv: kv}
}

// Profile returns the persisted profile, empty fields when unset.
func (m *Manager) Profile() Profile {
	name, _ := m.kv.Get(keyName)
	mode, ok := m.kv.Get(keyNameMode)
	if !ok {
		mode = ModeFirst
	}
	nick, _ := m.kv.Get(keyNickname)
	return Profile{Name: name, Mode: mode, Nickname: nick}
}

// SaveProfile persists the profile fields.
func (m *Manager) SaveProfile(p Profile) {
	m.kv.Set(keyName, p.Name)
	mode := p.Mode
	if mode == "" {
		mode = ModeFirst
	}
	m.kv.Set(keyNameMode, mode)
	m.kv.Set(keyNickname, p.Nickname)
}

// Role returns the persisted relationship role.
func (m *Manager) Role() string {
	if role, ok := m.kv.Get(keyRole); ok && role != "" {
		return role
	}
	return DefaultRole
}

// SetRole persists the relationship role.
func (m *Manager) SetRole(role string) {
	m.kv.Set(keyRole, role)
}

// Aura and Theme are opaque appearance choices kept only so the persisted
// key set round-trips; nothing in this module interprets them.

func (m *Manager) Aura() string {
	if v, ok := m.kv.Get(keyAura); ok {
		return v
	}
	return "default"
}

func (m *Manager) SetAura(v string) { m.kv.Set(keyAura, v) }

func (m *Manager) Theme() string {
	if v, ok := m.kv.Get(keyTheme); ok {
		return v
	}
	return "light"
}

func (m *Manager) SetTheme(v string) { m.kv.Set(keyTheme, v) }
