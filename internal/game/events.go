package game

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/jason-s-yu/cluewords/internal/models"
)

// EventType enumerates the outbound socket message types.
type EventType string

const (
	EventPlayerJoined  EventType = "playerJoined"
	EventPlayerLeft    EventType = "playerLeft"
	EventPlayerChanged EventType = "playerChanged"
	EventTeamChanged   EventType = "teamChanged"
	EventWords         EventType = "words"
	EventTurns         EventType = "turns"
	EventClueGiven     EventType = "clueGiven"
	EventGuess         EventType = "guess"
)

// Event is the outbound message envelope: { gameId, type, payload }.
type Event struct {
	GameID  string      `json:"gameId"`
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// PlayerPayload identifies a player binding in join/leave/change events.
type PlayerPayload struct {
	PlayerID uuid.UUID     `json:"playerId"`
	Name     string        `json:"name"`
	Team     models.TeamID `json:"team,omitempty"`
}

// CluePayload announces a new clue window.
type CluePayload struct {
	PlayerGivingClue models.TeamID `json:"playerGivingClue"`
	Word             string        `json:"word"`
	Number           int           `json:"number"`
}

// GuessPayload reports a resolved guess. Role is the guessed word's role for
// the guessing team only; the opposing team's assignment is never included.
type GuessPayload struct {
	PlayerID    uuid.UUID     `json:"playerId"`
	Name        string        `json:"name"`
	Team        models.TeamID `json:"team"`
	Word        string        `json:"word"`
	Role        models.Role   `json:"role"`
	AgentsLeft  int           `json:"agentsLeft"`
	GuessesLeft int           `json:"guessesLeft"`
}

// TurnsPayload carries the remaining turn budget. It is sent whenever the
// budget moves; the active clue itself travels in clueGiven.
type TurnsPayload struct {
	TurnsLeft int `json:"turnsLeft"`
}

// WordsPayload is a per-team projection of the word table.
type WordsPayload struct {
	Team  models.TeamID     `json:"team"`
	Words []models.WordView `json:"words"`
}

// Message is the inbound envelope: { gameId, type, payload }.
type Message struct {
	GameID  string         `json:"gameId"`
	Type    string         `json:"type"`
	Payload MessagePayload `json:"payload"`
}

// MessagePayload is the union of per-type inbound fields. Identity fields
// (name, account, token) may ride along on any message type and feed the
// session reconciler.
type MessagePayload struct {
	Name    string        `json:"name,omitempty"`
	Account string        `json:"account,omitempty"`
	Token   string        `json:"token,omitempty"`
	Word    string        `json:"word,omitempty"`
	Number  int           `json:"number,omitempty"`
	Team    models.TeamID `json:"team,omitempty"`
}

// Anchors extracts the identity fields from the payload.
func (p MessagePayload) Anchors() models.Anchors {
	return models.Anchors{Name: p.Name, Account: p.Account, Token: p.Token}
}

// HasIdentity reports whether the payload carries any identity field at all.
func (p MessagePayload) HasIdentity() bool {
	return p.Name != "" || p.Account != "" || p.Token != ""
}

// ParseMessage unmarshals an inbound frame. A malformed frame is dropped by
// the caller; the protocol has no error-response message type.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	err := json.Unmarshal(data, &msg)
	return msg, err
}
