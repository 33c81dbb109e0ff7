// Package roster loads the squad member roster and answers authorization
// and squad-membership questions for incoming chat messages.
package roster

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"shiftwatch/internal/services"
)

// Squads is the closed set of squad numbers the service coordinates.
var Squads = map[int]struct{}{
	34: {},
	35: {},
	42: {},
	43: {},
	54: {},
}

// ValidSquad reports whether squad is one of the known squad numbers.
func ValidSquad(squad int) bool {
	_, ok := Squads[squad]
	return ok
}

// Titles recognized for roster members.
const (
	TitleChief  = "Chief"
	TitleMember = "Member"
)

// Member is one roster entry. ChatName is the display name the member uses
// in the group chat and is the key used for lookups.
type Member struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	Squad    int    `json:"squad"`
	ChatName string `json:"groupme_name"`
}

// Roster holds the loaded member list.
type Roster struct {
	path    string
	members []Member
}

type rosterFile struct {
	Members []Member `json:"members"`
}

// Load reads and validates the roster JSON file at path.
func Load(path string) (*Roster, error) {
	if strings.TrimSpace(path) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "roster", "load", "roster path is required", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "roster", "load", fmt.Sprintf("read roster file %s", path), err)
	}
	var file rosterFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "roster", "load", "decode roster file", err)
	}
	for i, member := range file.Members {
		if err := validateMember(member); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "roster", "load", fmt.Sprintf("member %d invalid", i), err)
		}
	}
	return &Roster{path: path, members: file.Members}, nil
}

func validateMember(member Member) error {
	if strings.TrimSpace(member.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(member.ChatName) == "" {
		return fmt.Errorf("chat name is required for %q", member.Name)
	}
	if member.Title != TitleChief && member.Title != TitleMember {
		return fmt.Errorf("unknown title %q for %q", member.Title, member.Name)
	}
	if !ValidSquad(member.Squad) {
		return fmt.Errorf("unknown squad %d for %q", member.Squad, member.Name)
	}
	return nil
}

// Path returns the source file the roster was loaded from.
func (r *Roster) Path() string {
	return r.path
}

// Members returns a copy of the roster entries.
func (r *Roster) Members() []Member {
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

// MemberByName looks up a member by chat display name, case-insensitively.
func (r *Roster) MemberByName(name string) (Member, bool) {
	lowered := strings.ToLower(strings.TrimSpace(name))
	if lowered == "" {
		return Member{}, false
	}
	for _, member := range r.members {
		if strings.ToLower(member.ChatName) == lowered {
			return member, true
		}
	}
	return Member{}, false
}

// IsAuthorized reports whether the chat display name belongs to a roster
// member.
func (r *Roster) IsAuthorized(name string) bool {
	_, ok := r.MemberByName(name)
	return ok
}

// SquadFor returns the squad number for the named member, or false when the
// name is not on the roster.
func (r *Roster) SquadFor(name string) (int, bool) {
	member, ok := r.MemberByName(name)
	if !ok {
		return 0, false
	}
	return member.Squad, true
}

// TitleFor returns the title for the named member, or false when the name is
// not on the roster.
func (r *Roster) TitleFor(name string) (string, bool) {
	member, ok := r.MemberByName(name)
	if !ok {
		return "", false
	}
	return member.Title, true
}
