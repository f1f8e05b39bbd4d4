package models

// Party is one connected, named participant.
type Party struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"userName"`
}

// RosterEntry is the per-party element of a roster update on the wire.
type RosterEntry struct {
	UserName string `json:"userName"`
}

// Roster is the ordered list of registered parties, in registration order.
type Roster []Party

// Entries returns the wire form of the roster.
func (r Roster) Entries() []RosterEntry {
	entries := make([]RosterEntry, 0, len(r))
	for _, p := range r {
		entries = append(entries, RosterEntry{UserName: p.DisplayName})
	}
	return entries
}

// Names returns the display names in roster order.
func (r Roster) Names() []string {
	names := make([]string, 0, len(r))
	for _, p := range r {
		names = append(names, p.DisplayName)
	}
	return names
}

// Contains reports whether a party with the given display name is present.
func Contains(entries []RosterEntry, name string) bool {
	for _, e := range entries {
		if e.UserName == name {
			return true
		}
	}
	return false
}
