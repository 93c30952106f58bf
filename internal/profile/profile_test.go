package profile

import (
	"testing"

	"github.com/comigor/sally-go/internal/storage"
)

func TestPreferredName(t *testing.T) {
	cases := []struct {
		name string
		p    Profile
		want string
	}{
		{"first mode takes first word", Profile{Name: "Ada Lovelace", Mode: ModeFirst}, "Ada"},
		{"default mode is first", Profile{Name: "Ada Lovelace"}, "Ada"},
		{"full mode keeps whole name", Profile{Name: "Ada Lovelace", Mode: ModeFull}, "Ada Lovelace"},
		{"custom mode uses nickname", Profile{Name: "Ada Lovelace", Mode: ModeCustom, Nickname: "Addy"}, "Addy"},
		{"custom without nickname falls back to first name", Profile{Name: "Ada Lovelace", Mode: ModeCustom}, "Ada"},
		{"whitespace trimmed", Profile{Name: "  Ada Lovelace  ", Mode: ModeFull}, "Ada Lovelace"},
		{"empty name yields empty", Profile{Mode: ModeFirst}, ""},
	}
	for _, tc := range cases {
		if got := tc.p.PreferredName(); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestPreference_DefaultsModeToFirst(t *testing.T) {
	pref := Profile{Name: "Ada Lovelace"}.Preference()
	if pref.Type != ModeFirst || pref.Name != "Ada" {
		t.Fatalf("unexpected preference: %+v", pref)
	}
}

func TestManagerRoundTrip(t *testing.T) {
	kv := storage.New("")
	defer kv.Close()
	m := NewManager(kv)

	if got := m.Role(); got != DefaultRole {
		t.Fatalf("default role: got %q", got)
	}

	m.SaveProfile(Profile{Name: "Ada Lovelace", Mode: ModeCustom, Nickname: "Addy"})
	m.SetRole("Friend")
	m.SetAura("vivid")
	m.SetTheme("dark")

	p := m.Profile()
	if p.Name != "Ada Lovelace" || p.Mode != ModeCustom || p.Nickname != "Addy" {
		t.Fatalf("profile round trip failed: %+v", p)
	}
	if m.Role() != "Friend" || m.Aura() != "vivid" || m.Theme() != "dark" {
		t.Fatalf("scalar keys round trip failed")
	}
}
