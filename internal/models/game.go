package models

// TeamID identifies one of the two fixed teams in a game. TeamNone marks a
// connection that has not been assigned yet.
type TeamID int

const (
	TeamNone TeamID = 0
	TeamOne  TeamID = 1
	TeamTwo  TeamID = 2
)

// Other returns the opposing team, or TeamNone if t is not a real team.
func (t TeamID) Other() TeamID {
	switch t {
	case TeamOne:
		return TeamTwo
	case TeamTwo:
		return TeamOne
	default:
		return TeamNone
	}
}

// Valid reports whether t is one of the two playable teams.
func (t TeamID) Valid() bool {
	return t == TeamOne || t == TeamTwo
}

// Role is a word's hidden assignment for one team.
type Role string

const (
	RoleAgent     Role = "agent"
	RoleBystander Role = "bystander"
	RoleAssassin  Role = "assassin"
	RoleDecoy     Role = "decoy"
)

// WordState holds the full per-word record: an independent role and reveal
// flag for each team. A word may be agent-for-team-one and
// bystander-for-team-two at the same time. Reveal flags are monotonic; they
// only reset when the whole game is replaced.
type WordState struct {
	RoleTeamOne     Role `json:"roleTeamOne"`
	RoleTeamTwo     Role `json:"roleTeamTwo"`
	RevealedTeamOne bool `json:"revealedTeamOne"`
	RevealedTeamTwo bool `json:"revealedTeamTwo"`
}

// RoleFor returns the word's role as seen by the given team.
func (w WordState) RoleFor(t TeamID) Role {
	if t == TeamTwo {
		return w.RoleTeamTwo
	}
	return w.RoleTeamOne
}

// RevealedFor returns the word's reveal flag for the given team.
func (w WordState) RevealedFor(t TeamID) bool {
	if t == TeamTwo {
		return w.RevealedTeamTwo
	}
	return w.RevealedTeamOne
}

// Reveal returns a copy of the state with the given team's flag set.
func (w WordState) Reveal(t TeamID) WordState {
	if t == TeamTwo {
		w.RevealedTeamTwo = true
	} else {
		w.RevealedTeamOne = true
	}
	return w
}

// WordView is the per-team projection of a word: only that team's own role
// and reveal flag. The opposing team's unrevealed assignments never appear
// in a view.
type WordView struct {
	Word     string `json:"word"`
	Role     Role   `json:"role"`
	Revealed bool   `json:"revealed"`
}

// Turn is the active clue record. A game with no Turn persisted is Idle.
// GuessesLeft is derived from the clue number when the turn is installed and
// lives only inside this record.
type Turn struct {
	Team        TeamID `json:"team"`
	Word        string `json:"word"`
	Number      int    `json:"number"`
	GuessesLeft int    `json:"guessesLeft"`
}
