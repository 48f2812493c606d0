package models

// Participant is a roster entry for one connection in a room.
type Participant struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Self is the joiner's own roster entry, echoed back on join.
type Self struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Roster maps connection ID to participant.
type Roster map[string]Participant

// Clone returns a copy of the roster.
func (r Roster) Clone() Roster {
	out := make(Roster, len(r))
	for id, p := range r {
		out[id] = p
	}
	return out
}
