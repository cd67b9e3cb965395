// Package store is the persistence port for per-game state. Business rules
// are written once against the Store interface; the Redis backend serves
// production and the Memory backend serves tests and local development.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/jason-s-yu/cluewords/internal/models"
)

// ErrNotFound is returned when an operation references a game, word, or
// membership that does not exist. Callers generally treat it as a no-op.
var ErrNotFound = errors.New("store: not found")

// GuessResult reports the outcome of RecordGuess.
type GuessResult struct {
	Role models.Role

	// AlreadyRevealed is true when the word was revealed for the guessing
	// team before this call. The call mutated nothing in that case.
	AlreadyRevealed bool

	// AgentsLeft is the guessing team's revealed-agent count after the call.
	AgentsLeft int
}

// Store owns the authoritative per-game record. Each operation is keyed by
// game id and is individually atomic; read-modify-write sequences that span
// several operations must be serialized per game by the caller.
type Store interface {
	// EnsureGame returns without change if the game exists, otherwise
	// persists a fresh record with the given word table and turn budget.
	// Safe to call concurrently for the same id. Reports whether it created
	// the game.
	EnsureGame(ctx context.Context, gameID string, words map[string]models.WordState, turnsLeft int) (bool, error)

	// ReplaceGame installs a fresh word table, clears the turn record, and
	// resets the counters, preserving team membership and device tokens.
	ReplaceGame(ctx context.Context, gameID string, words map[string]models.WordState, turnsLeft int) error

	// GameExists probes for the game without creating it.
	GameExists(ctx context.Context, gameID string) (bool, error)

	// AddToTeam adds the player to the desired team, or to the team with
	// fewer members when desired is TeamNone, associating the device token
	// for notification routing. Re-adding to the same team is a no-op.
	// Returns the assigned team.
	AddToTeam(ctx context.Context, gameID string, playerID uuid.UUID, token string, desired models.TeamID) (models.TeamID, error)

	// RemoveFromTeam drops the membership and token association. No-op if
	// the player is not a member.
	RemoveFromTeam(ctx context.Context, gameID string, playerID uuid.UUID, team models.TeamID, token string) error

	// TeamOf returns the player's current team, or TeamNone with ok=false.
	TeamOf(ctx context.Context, gameID string, playerID uuid.UUID) (models.TeamID, bool, error)

	// TeamTokens lists the device tokens registered for a team.
	TeamTokens(ctx context.Context, gameID string, team models.TeamID) ([]string, error)

	// RecordGuess reveals the word for the guessing team and recomputes that
	// team's agentsLeft. Idempotent against duplicate guesses; never touches
	// the opposing team's reveal flag. ErrNotFound if the word is unknown.
	RecordGuess(ctx context.Context, gameID string, team models.TeamID, word string) (GuessResult, error)

	// SetTurn installs the turn record. ClearTurn removes it. Turn reads it,
	// with ok=false when the game is idle.
	SetTurn(ctx context.Context, gameID string, turn models.Turn) error
	ClearTurn(ctx context.Context, gameID string) error
	Turn(ctx context.Context, gameID string) (models.Turn, bool, error)

	// DecrementGuesses lowers the active turn's guess budget by one and
	// returns the new value.
	DecrementGuesses(ctx context.Context, gameID string) (int, error)

	// DecrementTurnsLeft lowers the game's turn budget by one and returns
	// the new value.
	DecrementTurnsLeft(ctx context.Context, gameID string) (int, error)

	// TurnsLeft returns the game's remaining turn budget.
	TurnsLeft(ctx context.Context, gameID string) (int, error)

	// AgentsLeft returns the number of words revealed to the team whose role
	// for that team is agent. Starts at zero and grows with each agent
	// reveal; resets only with the whole game.
	AgentsLeft(ctx context.Context, gameID string, team models.TeamID) (int, error)

	// WordsView returns the word table projected to the team's own roles and
	// reveal flags. The opposing team's unrevealed roles never appear here.
	WordsView(ctx context.Context, gameID string, team models.TeamID) ([]models.WordView, error)
}

// countAgents returns the number of words revealed for the team whose role
// for that team is agent. A fresh table yields zero.
func countAgents(words map[string]models.WordState, team models.TeamID) int {
	n := 0
	for _, w := range words {
		if w.RoleFor(team) == models.RoleAgent && w.RevealedFor(team) {
			n++
		}
	}
	return n
}
