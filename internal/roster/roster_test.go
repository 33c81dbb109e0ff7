package roster_test

import (
	"os"
	"path/filepath"
	"testing"

	"shiftwatch/internal/roster"
)

const sampleRoster = `{
  "members": [
    {"name": "Alice Nguyen", "title": "Chief", "squad": 34, "groupme_name": "Alice N"},
    {"name": "Bob Ferris", "title": "Member", "squad": 42, "groupme_name": "BobF"},
    {"name": "Carla Ortiz", "title": "Member", "squad": 54, "groupme_name": "Carla"}
  ]
}`

func writeRoster(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	return path
}

func TestLoadAndLookup(t *testing.T) {
	r, err := roster.Load(writeRoster(t, sampleRoster))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(r.Members()); got != 3 {
		t.Fatalf("members = %d, want 3", got)
	}

	member, ok := r.MemberByName("bobf")
	if !ok {
		t.Fatal("expected case-insensitive lookup to find BobF")
	}
	if member.Name != "Bob Ferris" || member.Squad != 42 {
		t.Fatalf("unexpected member: %+v", member)
	}

	if !r.IsAuthorized("  Alice N  ") {
		t.Fatal("expected trimmed lookup to authorize Alice N")
	}
	if r.IsAuthorized("Mallory") {
		t.Fatal("unexpected authorization for unknown name")
	}

	squad, ok := r.SquadFor("Carla")
	if !ok || squad != 54 {
		t.Fatalf("SquadFor(Carla) = %d, %v; want 54, true", squad, ok)
	}
	title, ok := r.TitleFor("Alice N")
	if !ok || title != roster.TitleChief {
		t.Fatalf("TitleFor(Alice N) = %q, %v; want Chief, true", title, ok)
	}
	if _, ok := r.SquadFor(""); ok {
		t.Fatal("empty name should not resolve")
	}
}

func TestLoadRejectsInvalidMembers(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown squad", `{"members": [{"name": "X", "title": "Member", "squad": 99, "groupme_name": "X"}]}`},
		{"unknown title", `{"members": [{"name": "X", "title": "Captain", "squad": 34, "groupme_name": "X"}]}`},
		{"missing chat name", `{"members": [{"name": "X", "title": "Member", "squad": 34, "groupme_name": ""}]}`},
		{"missing name", `{"members": [{"name": "", "title": "Member", "squad": 34, "groupme_name": "X"}]}`},
		{"malformed json", `{"members": [`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := roster.Load(writeRoster(t, tc.body)); err == nil {
				t.Fatal("expected load error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := roster.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing roster file")
	}
	if _, err := roster.Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestValidSquad(t *testing.T) {
	for _, squad := range []int{34, 35, 42, 43, 54} {
		if !roster.ValidSquad(squad) {
			t.Errorf("ValidSquad(%d) = false, want true", squad)
		}
	}
	for _, squad := range []int{0, 1, 36, 55, -34} {
		if roster.ValidSquad(squad) {
			t.Errorf("ValidSquad(%d) = true, want false", squad)
		}
	}
}
