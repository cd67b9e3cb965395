package game

import (
	"context"

	"github.com/google/uuid"

	"github.com/jason-s-yu/cluewords/internal/models"
)

// Sender writes one outbound frame to a client. The websocket handler wraps
// *websocket.Conn; tests substitute an in-memory recorder.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// Connection is the ephemeral binding of a live socket to a game, player,
// and team. It is rebuilt on every connect and discarded on disconnect,
// never persisted. Fields are mutated only under the game's exclusive
// section in the engine.
type Connection struct {
	ID     uuid.UUID
	GameID string

	PlayerID uuid.UUID
	Name     string
	Account  string
	Token    string
	Team     models.TeamID

	sender Sender
	closed bool
}

// NewConnection wraps a sender into an unbound connection for a game.
func NewConnection(gameID string, sender Sender) *Connection {
	return &Connection{ID: uuid.New(), GameID: gameID, sender: sender}
}

// Bound reports whether the connection has resolved to a player.
func (c *Connection) Bound() bool {
	return c.PlayerID != uuid.Nil
}

// Durable reports whether the current binding carries a stable anchor, so
// team membership should outlive the socket.
func (c *Connection) Durable() bool {
	return c.Account != "" || c.Token != ""
}

// MarkClosed flags the connection so in-flight broadcasts skip it.
func (c *Connection) MarkClosed() {
	c.closed = true
}

// Open reports whether the connection is still live.
func (c *Connection) Open() bool {
	return !c.closed
}

// Send writes raw bytes through the underlying sender.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	return c.sender.Send(ctx, data)
}
