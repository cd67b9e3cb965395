// Package identity resolves transient connections to durable players.
// A player is keyed by stable anchors (account id, device token); a player
// with no anchor only lives as long as its connection.
package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/jason-s-yu/cluewords/internal/models"
)

// ErrNotFound is returned by lookups that match no player.
var ErrNotFound = errors.New("identity: player not found")

// Repo stores durable player records, anchor reverse lookups, and the
// player -> games membership set.
type Repo interface {
	// Resolve returns the player matching any supplied stable anchor,
	// attaching newly seen anchors to the existing record rather than
	// duplicating it. With no matching anchor it creates a fresh player.
	// Reports whether a new player was created.
	Resolve(ctx context.Context, anchors models.Anchors) (*models.Player, bool, error)

	// Find is Resolve without the create: it returns ErrNotFound when no
	// stable anchor matches.
	Find(ctx context.Context, anchors models.Anchors) (*models.Player, error)

	// Get fetches a player by id.
	Get(ctx context.Context, id uuid.UUID) (*models.Player, error)

	// Rename updates the player's display name.
	Rename(ctx context.Context, id uuid.UUID, name string) error

	// AddGame and RemoveGame maintain the player's game membership set.
	AddGame(ctx context.Context, id uuid.UUID, gameID string) error
	RemoveGame(ctx context.Context, id uuid.UUID, gameID string) error

	// Games lists the game ids the player belongs to.
	Games(ctx context.Context, id uuid.UUID) ([]string, error)

	// Delete removes the player record entirely. Used for players with no
	// stable anchor once their connection goes away.
	Delete(ctx context.Context, id uuid.UUID) error
}

// anchor key prefixes keep account ids and device tokens from colliding in
// the reverse lookup table.
const (
	accountPrefix = "acct:"
	tokenPrefix   = "tok:"
)

func anchorKeys(a models.Anchors) []string {
	var keys []string
	if a.Account != "" {
		keys = append(keys, accountPrefix+a.Account)
	}
	if a.Token != "" {
		keys = append(keys, tokenPrefix+a.Token)
	}
	return keys
}
