package models

import "github.com/google/uuid"

// Anchors are the identifying fields a client may supply on any message.
// Account and Token are stable anchors; a player carrying at least one of
// them survives disconnects. Name alone is not an anchor.
type Anchors struct {
	Name    string `json:"name,omitempty"`
	Account string `json:"account,omitempty"`
	Token   string `json:"token,omitempty"`
}

// Durable reports whether the anchor set can re-identify a player across
// connections.
func (a Anchors) Durable() bool {
	return a.Account != "" || a.Token != ""
}

// Player is the durable identity a connection resolves to. It is created on
// first sight of a name/anchor set and persists independent of any socket.
type Player struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Account string    `json:"account,omitempty"`
	Token   string    `json:"token,omitempty"`
}

// Durable reports whether the player holds at least one stable anchor.
func (p *Player) Durable() bool {
	return p.Account != "" || p.Token != ""
}
