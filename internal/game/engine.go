// Package game holds the session and game-state engine: the connection
// registry, session reconciler, turn state machine, and broadcast/notify
// dispatcher, all written against the store and identity ports.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/cluewords/internal/identity"
	"github.com/jason-s-yu/cluewords/internal/models"
	"github.com/jason-s-yu/cluewords/internal/notify"
	"github.com/jason-s-yu/cluewords/internal/store"
)

// bonusGuesses is the fixed rule constant: a clue's guess budget is the
// stated number plus one.
const bonusGuesses = 1

// Engine serializes all per-game mutations behind a keyed mutex so that two
// concurrent messages for the same game never interleave between a state
// read and the write that depends on it. Store operations are individually
// atomic; the exclusive section covers the multi-step sequences.
type Engine struct {
	log      *logrus.Logger
	store    store.Store
	players  identity.Repo
	registry *Registry
	dispatch *Dispatcher

	// Policy and WordList may be swapped before the first Join.
	Policy   RolePolicy
	WordList []string

	rngMu sync.Mutex
	rng   *rand.Rand

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine wires the engine over its collaborators.
func NewEngine(log *logrus.Logger, st store.Store, players identity.Repo, notifier notify.Notifier) *Engine {
	registry := NewRegistry()
	return &Engine{
		log:      log,
		store:    st,
		players:  players,
		registry: registry,
		dispatch: NewDispatcher(log, registry, notifier, st),
		Policy:   DefaultPolicy,
		WordList: defaultWordList,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Registry exposes the live-connection registry for transport-level
// concerns such as the liveness pinger.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// lockFor returns the game's exclusive-section mutex, creating it on first
// reference. Locks are kept for the process lifetime; a stale entry is a
// single mutex, not a leaked game.
func (e *Engine) lockFor(gameID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.locks[gameID]
	if !ok {
		m = &sync.Mutex{}
		e.locks[gameID] = m
	}
	return m
}

func (e *Engine) deal() map[string]models.WordState {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.Policy.Deal(e.rng, e.WordList)
}

// Join registers a new socket for a game. If this is the first connection
// observed for the game it also ensures the game record exists, and it
// replays the current roster to the newcomer before anyone can address it.
func (e *Engine) Join(ctx context.Context, gameID string, sender Sender) (*Connection, error) {
	mu := e.lockFor(gameID)
	mu.Lock()
	defer mu.Unlock()

	conn := NewConnection(gameID, sender)
	existed, roster := e.registry.Join(gameID, conn)
	if !existed {
		if _, err := e.store.EnsureGame(ctx, gameID, e.deal(), e.Policy.StartingTurns); err != nil {
			e.registry.Leave(conn)
			return nil, fmt.Errorf("ensure game %s: %w", gameID, err)
		}
	}

	for _, other := range roster {
		if !other.Bound() {
			continue
		}
		e.dispatch.Unicast(ctx, conn, Event{
			GameID: gameID,
			Type:   EventPlayerJoined,
			Payload: PlayerPayload{
				PlayerID: other.PlayerID,
				Name:     other.Name,
				Team:     other.Team,
			},
		})
	}
	return conn, nil
}

// Leave runs the disconnect cleanup path: the connection drops out of the
// live set, and a binding with no stable anchor takes its team membership
// and player record with it. A durable binding keeps both for a later
// reconnect under the same anchor.
func (e *Engine) Leave(ctx context.Context, conn *Connection) {
	mu := e.lockFor(conn.GameID)
	mu.Lock()
	defer mu.Unlock()

	conn.MarkClosed()
	e.registry.Leave(conn)

	if !conn.Bound() {
		return
	}

	if !conn.Durable() {
		if err := e.store.RemoveFromTeam(ctx, conn.GameID, conn.PlayerID, conn.Team, conn.Token); err != nil {
			e.log.Warnf("cleanup: remove %s from team in game %s: %v", conn.PlayerID, conn.GameID, err)
		}
		if err := e.players.RemoveGame(ctx, conn.PlayerID, conn.GameID); err != nil {
			e.log.Warnf("cleanup: drop membership for %s: %v", conn.PlayerID, err)
		}
		if err := e.players.Delete(ctx, conn.PlayerID); err != nil {
			e.log.Warnf("cleanup: delete ephemeral player %s: %v", conn.PlayerID, err)
		}
	}

	e.dispatch.Broadcast(ctx, Event{
		GameID: conn.GameID,
		Type:   EventPlayerLeft,
		Payload: PlayerPayload{
			PlayerID: conn.PlayerID,
			Name:     conn.Name,
			Team:     conn.Team,
		},
	})
}

// Handle processes one inbound message under the game's exclusive section.
// Unknown types and unresolvable references are no-ops; only store failures
// surface as errors.
func (e *Engine) Handle(ctx context.Context, conn *Connection, msg Message) error {
	if msg.GameID != "" && msg.GameID != conn.GameID {
		e.log.Warnf("message for game %s on a connection bound to %s; dropping", msg.GameID, conn.GameID)
		return nil
	}

	mu := e.lockFor(conn.GameID)
	mu.Lock()
	defer mu.Unlock()

	// Implicit identity change: any message whose identity fields drift from
	// the connection's binding runs the reconciler first, unless the message
	// itself is an identity-change request (handled below, once).
	if msg.Type != "changePlayer" && msg.Payload.HasIdentity() && e.identityDiffers(conn, msg.Payload.Anchors()) {
		if err := e.applyIdentity(ctx, conn, msg.Payload.Anchors()); err != nil {
			return err
		}
	}

	switch msg.Type {
	case "words":
		return e.handleWords(ctx, conn)
	case "guess":
		return e.handleGuess(ctx, conn, msg.Payload.Word)
	case "changePlayer":
		return e.applyIdentity(ctx, conn, msg.Payload.Anchors())
	case "changeTeam":
		return e.handleChangeTeam(ctx, conn, msg.Payload.Team)
	case "giveClue":
		return e.handleGiveClue(ctx, conn, msg.Payload.Word, msg.Payload.Number)
	case "endTurn":
		return e.handleEndTurn(ctx, conn)
	case "startNewGame":
		return e.handleStartNewGame(ctx, conn)
	default:
		e.log.Warnf("unknown message type %q in game %s; dropping", msg.Type, conn.GameID)
		return nil
	}
}

func (e *Engine) identityDiffers(conn *Connection, a models.Anchors) bool {
	if a.Name != "" && a.Name != conn.Name {
		return true
	}
	if a.Account != "" && a.Account != conn.Account {
		return true
	}
	if a.Token != "" && a.Token != conn.Token {
		return true
	}
	return false
}

// applyIdentity is the session reconciler: it resolves the supplied anchors
// to a durable player, detects rebinds and team changes, and emits exactly
// the events the change implies. Resolving to the connection's current
// player is a no-op.
func (e *Engine) applyIdentity(ctx context.Context, conn *Connection, anchors models.Anchors) error {
	if !e.identityDiffers(conn, anchors) {
		return nil
	}

	// A bound connection supplying only a new display name is a rename of
	// the current player, not a new identity.
	if !anchors.Durable() && conn.Bound() {
		if anchors.Name == "" || anchors.Name == conn.Name {
			return nil
		}
		if err := e.players.Rename(ctx, conn.PlayerID, anchors.Name); err != nil {
			return fmt.Errorf("rename player %s: %w", conn.PlayerID, err)
		}
		conn.Name = anchors.Name
		e.dispatch.Broadcast(ctx, Event{
			GameID:  conn.GameID,
			Type:    EventPlayerChanged,
			Payload: PlayerPayload{PlayerID: conn.PlayerID, Name: conn.Name, Team: conn.Team},
		})
		return nil
	}

	player, _, err := e.players.Resolve(ctx, anchors)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}

	if conn.Bound() && conn.PlayerID == player.ID {
		// Same durable player: at most a rename, already persisted by
		// Resolve. No join/leave events.
		renamed := anchors.Name != "" && anchors.Name != conn.Name
		conn.Name = player.Name
		conn.Account = player.Account
		conn.Token = player.Token
		if renamed {
			e.dispatch.Broadcast(ctx, Event{
				GameID:  conn.GameID,
				Type:    EventPlayerChanged,
				Payload: PlayerPayload{PlayerID: conn.PlayerID, Name: conn.Name, Team: conn.Team},
			})
		}
		return nil
	}

	// The connection is switching players. The previous binding leaves, and
	// an ephemeral previous binding is cleaned up entirely.
	if conn.Bound() {
		e.dispatch.Broadcast(ctx, Event{
			GameID:  conn.GameID,
			Type:    EventPlayerLeft,
			Payload: PlayerPayload{PlayerID: conn.PlayerID, Name: conn.Name, Team: conn.Team},
		})
		if !conn.Durable() {
			if err := e.store.RemoveFromTeam(ctx, conn.GameID, conn.PlayerID, conn.Team, conn.Token); err != nil {
				e.log.Warnf("rebind: remove %s from team in game %s: %v", conn.PlayerID, conn.GameID, err)
			}
			if err := e.players.RemoveGame(ctx, conn.PlayerID, conn.GameID); err != nil {
				e.log.Warnf("rebind: drop membership for %s: %v", conn.PlayerID, err)
			}
			if err := e.players.Delete(ctx, conn.PlayerID); err != nil {
				e.log.Warnf("rebind: delete ephemeral player %s: %v", conn.PlayerID, err)
			}
		}
	}

	prevTeam := conn.Team
	conn.PlayerID = player.ID
	conn.Name = player.Name
	conn.Account = player.Account
	conn.Token = player.Token

	team, hasTeam, err := e.store.TeamOf(ctx, conn.GameID, player.ID)
	if err != nil {
		return fmt.Errorf("team lookup: %w", err)
	}

	if hasTeam && prevTeam.Valid() && team != prevTeam {
		// The resolved player already belongs to the other team in this
		// game: the rebind doubles as a team change. The current device
		// token still needs to follow the player to its team's token set.
		conn.Team = team
		if _, err := e.store.AddToTeam(ctx, conn.GameID, player.ID, conn.Token, team); err != nil {
			return fmt.Errorf("refresh membership: %w", err)
		}
		e.dispatch.Broadcast(ctx, Event{
			GameID:  conn.GameID,
			Type:    EventTeamChanged,
			Payload: PlayerPayload{PlayerID: conn.PlayerID, Name: conn.Name, Team: conn.Team},
		})
		return nil
	}

	if hasTeam {
		conn.Team = team
		// Re-associate the device token with the existing membership.
		if _, err := e.store.AddToTeam(ctx, conn.GameID, player.ID, conn.Token, team); err != nil {
			return fmt.Errorf("refresh membership: %w", err)
		}
	} else {
		assigned, err := e.store.AddToTeam(ctx, conn.GameID, player.ID, conn.Token, prevTeam)
		if err != nil {
			return fmt.Errorf("assign team: %w", err)
		}
		conn.Team = assigned
	}
	if err := e.players.AddGame(ctx, player.ID, conn.GameID); err != nil {
		return fmt.Errorf("record membership: %w", err)
	}

	e.dispatch.Broadcast(ctx, Event{
		GameID:  conn.GameID,
		Type:    EventPlayerJoined,
		Payload: PlayerPayload{PlayerID: conn.PlayerID, Name: conn.Name, Team: conn.Team},
	})
	return nil
}

func (e *Engine) handleWords(ctx context.Context, conn *Connection) error {
	if !conn.Team.Valid() {
		return nil
	}
	views, err := e.store.WordsView(ctx, conn.GameID, conn.Team)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("words view: %w", err)
	}
	e.dispatch.Unicast(ctx, conn, Event{
		GameID:  conn.GameID,
		Type:    EventWords,
		Payload: WordsPayload{Team: conn.Team, Words: views},
	})
	return nil
}

func (e *Engine) handleGiveClue(ctx context.Context, conn *Connection, word string, number int) error {
	if !conn.Bound() || !conn.Team.Valid() || word == "" || number < 0 {
		return nil
	}

	turn, active, err := e.store.Turn(ctx, conn.GameID)
	if err != nil {
		return fmt.Errorf("read turn: %w", err)
	}
	if active && turn.Team != conn.Team {
		// Another team's clue window is open; rejected.
		return nil
	}
	// Re-issuing while the same team's clue is active overwrites it
	// (last-writer-wins).

	next := models.Turn{
		Team:        conn.Team,
		Word:        word,
		Number:      number,
		GuessesLeft: number + bonusGuesses,
	}
	if err := e.store.SetTurn(ctx, conn.GameID, next); err != nil {
		return fmt.Errorf("set turn: %w", err)
	}

	e.dispatch.Broadcast(ctx, Event{
		GameID:  conn.GameID,
		Type:    EventClueGiven,
		Payload: CluePayload{PlayerGivingClue: conn.Team, Word: word, Number: number},
	})
	e.dispatch.NotifyOthers(conn.GameID, conn.Team, conn.Name,
		fmt.Sprintf("gave the clue %q (%d)", word, number))
	return nil
}

func (e *Engine) handleGuess(ctx context.Context, conn *Connection, word string) error {
	if !conn.Bound() || !conn.Team.Valid() || word == "" {
		return nil
	}

	_, active, err := e.store.Turn(ctx, conn.GameID)
	if err != nil {
		return fmt.Errorf("read turn: %w", err)
	}
	if !active {
		// Guesses are only meaningful inside a clue window.
		return nil
	}

	res, err := e.store.RecordGuess(ctx, conn.GameID, conn.Team, word)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("record guess: %w", err)
	}
	if res.AlreadyRevealed {
		// Duplicate guess: no counters move, no events fire.
		return nil
	}

	left, err := e.store.DecrementGuesses(ctx, conn.GameID)
	if err != nil {
		return fmt.Errorf("decrement guesses: %w", err)
	}

	e.dispatch.Broadcast(ctx, Event{
		GameID: conn.GameID,
		Type:   EventGuess,
		Payload: GuessPayload{
			PlayerID:    conn.PlayerID,
			Name:        conn.Name,
			Team:        conn.Team,
			Word:        word,
			Role:        res.Role,
			AgentsLeft:  res.AgentsLeft,
			GuessesLeft: left,
		},
	})

	// A wrong guess ends the turn immediately regardless of budget; an
	// exhausted budget ends it too.
	if left <= 0 || res.Role != models.RoleAgent {
		if err := e.finishTurn(ctx, conn.GameID); err != nil {
			return err
		}
	}

	e.dispatch.NotifyOthers(conn.GameID, conn.Team, conn.Name,
		fmt.Sprintf("guessed %q (%s)", word, res.Role))
	return nil
}

func (e *Engine) handleEndTurn(ctx context.Context, conn *Connection) error {
	if !conn.Bound() {
		return nil
	}
	// An explicit end always spends a turn, even from Idle: that models a
	// team passing.
	if err := e.finishTurn(ctx, conn.GameID); err != nil {
		return err
	}
	e.dispatch.NotifyOthers(conn.GameID, conn.Team, conn.Name, "ended the turn")
	return nil
}

// finishTurn clears the turn record, spends one turn from the budget, and
// broadcasts the new turn state. Ordered so a failure between steps leaves
// a resumable state: a cleared turn with an unspent counter is still Idle.
func (e *Engine) finishTurn(ctx context.Context, gameID string) error {
	if err := e.store.ClearTurn(ctx, gameID); err != nil {
		return fmt.Errorf("clear turn: %w", err)
	}
	left, err := e.store.DecrementTurnsLeft(ctx, gameID)
	if err != nil {
		return fmt.Errorf("decrement turns: %w", err)
	}
	e.dispatch.Broadcast(ctx, Event{
		GameID:  gameID,
		Type:    EventTurns,
		Payload: TurnsPayload{TurnsLeft: left},
	})
	return nil
}

func (e *Engine) handleChangeTeam(ctx context.Context, conn *Connection, desired models.TeamID) error {
	if !conn.Bound() || !desired.Valid() {
		return nil
	}

	current, hasTeam, err := e.store.TeamOf(ctx, conn.GameID, conn.PlayerID)
	if err != nil {
		return fmt.Errorf("team lookup: %w", err)
	}
	if hasTeam && current == desired {
		// Already there; repeated requests stay silent.
		conn.Team = desired
		return nil
	}
	if hasTeam {
		if err := e.store.RemoveFromTeam(ctx, conn.GameID, conn.PlayerID, current, conn.Token); err != nil {
			return fmt.Errorf("leave team: %w", err)
		}
	}
	if _, err := e.store.AddToTeam(ctx, conn.GameID, conn.PlayerID, conn.Token, desired); err != nil {
		return fmt.Errorf("join team: %w", err)
	}
	conn.Team = desired

	e.dispatch.Broadcast(ctx, Event{
		GameID:  conn.GameID,
		Type:    EventPlayerJoined,
		Payload: PlayerPayload{PlayerID: conn.PlayerID, Name: conn.Name, Team: conn.Team},
	})
	e.dispatch.NotifyOthers(conn.GameID, conn.Team, conn.Name, "switched teams")
	return nil
}

func (e *Engine) handleStartNewGame(ctx context.Context, conn *Connection) error {
	if !conn.Bound() {
		return nil
	}
	if err := e.store.ReplaceGame(ctx, conn.GameID, e.deal(), e.Policy.StartingTurns); err != nil {
		return fmt.Errorf("replace game: %w", err)
	}

	// Word views are per-team projections, so each connection gets its own.
	for _, c := range e.registry.Connections(conn.GameID) {
		if !c.Team.Valid() {
			continue
		}
		views, err := e.store.WordsView(ctx, conn.GameID, c.Team)
		if err != nil {
			e.log.Warnf("words view for %s after reset: %v", conn.GameID, err)
			continue
		}
		e.dispatch.Unicast(ctx, c, Event{
			GameID:  conn.GameID,
			Type:    EventWords,
			Payload: WordsPayload{Team: c.Team, Words: views},
		})
	}
	e.dispatch.Broadcast(ctx, Event{
		GameID:  conn.GameID,
		Type:    EventTurns,
		Payload: TurnsPayload{TurnsLeft: e.Policy.StartingTurns},
	})
	e.dispatch.NotifyOthers(conn.GameID, conn.Team, conn.Name, "started a new game")
	return nil
}
