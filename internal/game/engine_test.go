package game

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/cluewords/internal/identity"
	"github.com/jason-s-yu/cluewords/internal/models"
	"github.com/jason-s-yu/cluewords/internal/notify"
	"github.com/jason-s-yu/cluewords/internal/store"
)

// recordedEvent is an outbound frame decoded far enough to assert on.
type recordedEvent struct {
	GameID  string          `json:"gameId"`
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// fakeSender collects events instead of writing them to a socket.
type fakeSender struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeSender) Send(_ context.Context, data []byte) error {
	var ev recordedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSender) byType(t EventType) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedEvent
	for _, ev := range f.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeSender) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

func decodePayload[T any](t *testing.T, ev recordedEvent) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(ev.Payload, &v))
	return v
}

func newTestEngine(t *testing.T) (*Engine, *store.Memory, *identity.Memory) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	st := store.NewMemory()
	players := identity.NewMemory()
	return NewEngine(logger, st, players, notify.Noop{}), st, players
}

// testBoard is a small fixed word table with distinct roles per team.
func testBoard() map[string]models.WordState {
	return map[string]models.WordState{
		"robot":   {RoleTeamOne: models.RoleAgent, RoleTeamTwo: models.RoleBystander},
		"android": {RoleTeamOne: models.RoleBystander, RoleTeamTwo: models.RoleAgent},
		"beacon":  {RoleTeamOne: models.RoleAgent, RoleTeamTwo: models.RoleAgent},
		"cipher":  {RoleTeamOne: models.RoleBystander, RoleTeamTwo: models.RoleAgent},
		"shadow":  {RoleTeamOne: models.RoleAssassin, RoleTeamTwo: models.RoleBystander},
		"lantern": {RoleTeamOne: models.RoleDecoy, RoleTeamTwo: models.RoleDecoy},
	}
}

func seedGame(t *testing.T, st *store.Memory, gameID string, turnsLeft int) {
	t.Helper()
	created, err := st.EnsureGame(context.Background(), gameID, testBoard(), turnsLeft)
	require.NoError(t, err)
	require.True(t, created)
}

// joinAs joins a socket and binds it to a named player via changePlayer.
func joinAs(t *testing.T, eng *Engine, gameID, name string, anchors models.Anchors) (*Connection, *fakeSender) {
	t.Helper()
	ctx := context.Background()
	fs := &fakeSender{}
	conn, err := eng.Join(ctx, gameID, fs)
	require.NoError(t, err)

	anchors.Name = name
	payload := MessagePayload{Name: anchors.Name, Account: anchors.Account, Token: anchors.Token}
	require.NoError(t, eng.Handle(ctx, conn, Message{GameID: gameID, Type: "changePlayer", Payload: payload}))
	require.True(t, conn.Bound())
	return conn, fs
}

func TestJoinAssignsSmallerTeam(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)

	ada, _ := joinAs(t, eng, "ABCD", "Ada", models.Anchors{})
	grace, _ := joinAs(t, eng, "ABCD", "Grace", models.Anchors{})

	assert.Equal(t, models.TeamOne, ada.Team)
	assert.Equal(t, models.TeamTwo, grace.Team)
}

func TestRosterReplayOnJoin(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)

	ada, _ := joinAs(t, eng, "ABCD", "Ada", models.Anchors{})

	fs := &fakeSender{}
	_, err := eng.Join(context.Background(), "ABCD", fs)
	require.NoError(t, err)

	joined := fs.byType(EventPlayerJoined)
	require.Len(t, joined, 1)
	p := decodePayload[PlayerPayload](t, joined[0])
	assert.Equal(t, ada.PlayerID, p.PlayerID)
	assert.Equal(t, "Ada", p.Name)
}

// TestClueAndGuessScenario follows the two-player flow end to end: a clue
// with number 2 opens a window of 3 guesses; three agent guesses consume
// the window, end the turn automatically, and spend exactly one turn.
func TestClueAndGuessScenario(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)
	ctx := context.Background()

	ada, adaFS := joinAs(t, eng, "ABCD", "Ada", models.Anchors{})
	grace, graceFS := joinAs(t, eng, "ABCD", "Grace", models.Anchors{})
	require.Equal(t, models.TeamOne, ada.Team)
	require.Equal(t, models.TeamTwo, grace.Team)
	adaFS.clear()
	graceFS.clear()

	require.NoError(t, eng.Handle(ctx, ada, Message{Type: "giveClue", Payload: MessagePayload{Word: "robot", Number: 2}}))

	turn, active, err := st.Turn(ctx, "ABCD")
	require.NoError(t, err)
	require.True(t, active)
	assert.Equal(t, models.TeamOne, turn.Team)
	assert.Equal(t, "robot", turn.Word)
	assert.Equal(t, 3, turn.GuessesLeft)

	clues := graceFS.byType(EventClueGiven)
	require.Len(t, clues, 1)
	clue := decodePayload[CluePayload](t, clues[0])
	assert.Equal(t, models.TeamOne, clue.PlayerGivingClue)
	assert.Equal(t, "robot", clue.Word)
	assert.Equal(t, 2, clue.Number)

	// Three agent-for-team-two guesses exhaust the budget.
	for _, word := range []string{"android", "beacon", "cipher"} {
		require.NoError(t, eng.Handle(ctx, grace, Message{Type: "guess", Payload: MessagePayload{Word: word}}))
	}

	_, active, err = st.Turn(ctx, "ABCD")
	require.NoError(t, err)
	assert.False(t, active, "turn should auto-end when the budget is spent")

	left, err := st.TurnsLeft(ctx, "ABCD")
	require.NoError(t, err)
	assert.Equal(t, 8, left, "auto-end should spend exactly one turn")

	guesses := adaFS.byType(EventGuess)
	require.Len(t, guesses, 3)
	last := decodePayload[GuessPayload](t, guesses[2])
	assert.Equal(t, models.RoleAgent, last.Role)
	assert.Equal(t, 0, last.GuessesLeft)
	assert.Equal(t, 3, last.AgentsLeft, "three agents revealed for team two")
}

func TestWrongGuessEndsTurnImmediately(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)
	ctx := context.Background()

	ada, _ := joinAs(t, eng, "ABCD", "Ada", models.Anchors{})
	grace, _ := joinAs(t, eng, "ABCD", "Grace", models.Anchors{})

	require.NoError(t, eng.Handle(ctx, ada, Message{Type: "giveClue", Payload: MessagePayload{Word: "metal", Number: 3}}))

	// "robot" is a bystander for team two: the turn ends with budget left.
	require.NoError(t, eng.Handle(ctx, grace, Message{Type: "guess", Payload: MessagePayload{Word: "robot"}}))

	_, active, err := st.Turn(ctx, "ABCD")
	require.NoError(t, err)
	assert.False(t, active)

	left, err := st.TurnsLeft(ctx, "ABCD")
	require.NoError(t, err)
	assert.Equal(t, 8, left)
}

func TestDuplicateGuessIsSilentNoop(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)
	ctx := context.Background()

	ada, adaFS := joinAs(t, eng, "ABCD", "Ada", models.Anchors{})
	grace, _ := joinAs(t, eng, "ABCD", "Grace", models.Anchors{})

	require.NoError(t, eng.Handle(ctx, ada, Message{Type: "giveClue", Payload: MessagePayload{Word: "metal", Number: 3}}))
	require.NoError(t, eng.Handle(ctx, grace, Message{Type: "guess", Payload: MessagePayload{Word: "android"}}))
	adaFS.clear()

	require.NoError(t, eng.Handle(ctx, grace, Message{Type: "guess", Payload: MessagePayload{Word: "android"}}))

	assert.Empty(t, adaFS.byType(EventGuess), "duplicate guess must not broadcast")

	turn, active, err := st.Turn(ctx, "ABCD")
	require.NoError(t, err)
	require.True(t, active)
	assert.Equal(t, 3, turn.GuessesLeft, "duplicate guess must not spend budget")

	agents, err := st.AgentsLeft(ctx, "ABCD", models.TeamTwo)
	require.NoError(t, err)
	assert.Equal(t, 1, agents, "only the first reveal counts")
}

func TestGiveClueRejectedWhileOtherTeamActive(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)
	ctx := context.Background()

	ada, _ := joinAs(t, eng, "ABCD", "Ada", models.Anchors{})
	grace, _ := joinAs(t, eng, "ABCD", "Grace", models.Anchors{})

	require.NoError(t, eng.Handle(ctx, ada, Message{Type: "giveClue", Payload: MessagePayload{Word: "metal", Number: 2}}))
	require.NoError(t, eng.Handle(ctx, grace, Message{Type: "giveClue", Payload: MessagePayload{Word: "animal", Number: 1}}))

	turn, active, err := st.Turn(ctx, "ABCD")
	require.NoError(t, err)
	require.True(t, active)
	assert.Equal(t, models.TeamOne, turn.Team, "other team's clue must not displace the active one")
	assert.Equal(t, "metal", turn.Word)
}

func TestGiveClueSameTeamOverwrites(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)
	ctx := context.Background()

	ada, _ := joinAs(t, eng, "ABCD", "Ada", models.Anchors{})

	require.NoError(t, eng.Handle(ctx, ada, Message{Type: "giveClue", Payload: MessagePayload{Word: "metal", Number: 2}}))
	require.NoError(t, eng.Handle(ctx, ada, Message{Type: "giveClue", Payload: MessagePayload{Word: "machine", Number: 4}}))

	turn, active, err := st.Turn(ctx, "ABCD")
	require.NoError(t, err)
	require.True(t, active)
	assert.Equal(t, "machine", turn.Word)
	assert.Equal(t, 5, turn.GuessesLeft)
}

func TestEndTurnFromIdleSpendsATurn(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)
	ctx := context.Background()

	ada, adaFS := joinAs(t, eng, "ABCD", "Ada", models.Anchors{})
	adaFS.clear()

	require.NoError(t, eng.Handle(ctx, ada, Message{Type: "endTurn"}))

	left, err := st.TurnsLeft(ctx, "ABCD")
	require.NoError(t, err)
	assert.Equal(t, 8, left, "an idle end-turn models a pass and still spends a turn")

	turns := adaFS.byType(EventTurns)
	require.Len(t, turns, 1)
	assert.Equal(t, 8, decodePayload[TurnsPayload](t, turns[0]).TurnsLeft)
}

func TestChangeTeamTwiceBroadcastsOnce(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)
	ctx := context.Background()

	ada, _ := joinAs(t, eng, "ABCD", "Ada", models.Anchors{})
	_, watcherFS := joinAs(t, eng, "ABCD", "Grace", models.Anchors{})
	watcherFS.clear()

	require.NoError(t, eng.Handle(ctx, ada, Message{Type: "changeTeam", Payload: MessagePayload{Team: models.TeamTwo}}))
	require.NoError(t, eng.Handle(ctx, ada, Message{Type: "changeTeam", Payload: MessagePayload{Team: models.TeamTwo}}))

	joined := watcherFS.byType(EventPlayerJoined)
	require.Len(t, joined, 1)
	p := decodePayload[PlayerPayload](t, joined[0])
	assert.Equal(t, models.TeamTwo, p.Team)

	team, ok, err := st.TeamOf(ctx, "ABCD", ada.PlayerID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.TeamTwo, team)
}

func TestDisconnectEphemeralRemovesMembership(t *testing.T) {
	eng, st, players := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)
	ctx := context.Background()

	ada, _ := joinAs(t, eng, "ABCD", "Ada", models.Anchors{})
	playerID := ada.PlayerID

	eng.Leave(ctx, ada)

	_, ok, err := st.TeamOf(ctx, "ABCD", playerID)
	require.NoError(t, err)
	assert.False(t, ok, "ephemeral player's membership should not survive disconnect")

	_, err = players.Get(ctx, playerID)
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestDisconnectDurablePreservesMembership(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)
	ctx := context.Background()

	ada, _ := joinAs(t, eng, "ABCD", "Ada", models.Anchors{Account: "ada@example.com"})
	playerID := ada.PlayerID
	team := ada.Team

	eng.Leave(ctx, ada)

	got, ok, err := st.TeamOf(ctx, "ABCD", playerID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, team, got)

	// Reconnecting under the same anchor resolves to the same player and
	// the same team.
	again, _ := joinAs(t, eng, "ABCD", "Ada", models.Anchors{Account: "ada@example.com"})
	assert.Equal(t, playerID, again.PlayerID)
	assert.Equal(t, team, again.Team)
}

func TestImplicitIdentityChangeOnGuess(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	ada, _ := joinAs(t, eng, "ABCD", "Ada", models.Anchors{Account: "ada@example.com"})
	_, watcherFS := joinAs(t, eng, "ABCD", "Grace", models.Anchors{})
	oldID := ada.PlayerID
	watcherFS.clear()

	// A guess arriving with a different account anchor rebinds the
	// connection before the guess is processed.
	require.NoError(t, eng.Handle(ctx, ada, Message{
		Type:    "guess",
		Payload: MessagePayload{Word: "nope", Name: "Brin", Account: "brin@example.com"},
	}))

	assert.NotEqual(t, oldID, ada.PlayerID)
	assert.Equal(t, "Brin", ada.Name)

	left := watcherFS.byType(EventPlayerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, oldID, decodePayload[PlayerPayload](t, left[0]).PlayerID)

	joined := watcherFS.byType(EventPlayerJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, ada.PlayerID, decodePayload[PlayerPayload](t, joined[0]).PlayerID)
}

func TestRebindTeamChangeCarriesDeviceToken(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)
	ctx := context.Background()

	// Ada holds team one durably, then disconnects.
	ada, _ := joinAs(t, eng, "ABCD", "Ada", models.Anchors{Account: "ada@example.com", Token: "tok-old"})
	require.Equal(t, models.TeamOne, ada.Team)
	eng.Leave(ctx, ada)

	// A new socket binds ephemerally and lands on team two, then supplies
	// Ada's account with a fresh device token. The rebind doubles as a team
	// change back to team one.
	conn, fs := joinAs(t, eng, "ABCD", "Eve", models.Anchors{})
	require.Equal(t, models.TeamTwo, conn.Team)
	fs.clear()

	require.NoError(t, eng.Handle(ctx, conn, Message{
		Type:    "changePlayer",
		Payload: MessagePayload{Name: "Ada", Account: "ada@example.com", Token: "tok-new"},
	}))

	assert.Equal(t, ada.PlayerID, conn.PlayerID)
	assert.Equal(t, models.TeamOne, conn.Team)

	changed := fs.byType(EventTeamChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, models.TeamOne, decodePayload[PlayerPayload](t, changed[0]).Team)

	// The new token is routed with team one, not left behind.
	tokens, err := st.TeamTokens(ctx, "ABCD", models.TeamOne)
	require.NoError(t, err)
	assert.Contains(t, tokens, "tok-new")
}

func TestSameIdentityIsNoop(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	ada, _ := joinAs(t, eng, "ABCD", "Ada", models.Anchors{Account: "ada@example.com"})
	_, watcherFS := joinAs(t, eng, "ABCD", "Grace", models.Anchors{})
	watcherFS.clear()

	require.NoError(t, eng.Handle(ctx, ada, Message{
		Type:    "changePlayer",
		Payload: MessagePayload{Name: "Ada", Account: "ada@example.com"},
	}))

	assert.Empty(t, watcherFS.events, "re-supplying the current identity must not emit events")
}

func TestRenameBroadcastsPlayerChanged(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	ada, _ := joinAs(t, eng, "ABCD", "Ada", models.Anchors{})
	_, watcherFS := joinAs(t, eng, "ABCD", "Grace", models.Anchors{})
	watcherFS.clear()

	require.NoError(t, eng.Handle(ctx, ada, Message{
		Type:    "changePlayer",
		Payload: MessagePayload{Name: "Countess"},
	}))

	changed := watcherFS.byType(EventPlayerChanged)
	require.Len(t, changed, 1)
	p := decodePayload[PlayerPayload](t, changed[0])
	assert.Equal(t, "Countess", p.Name)
	assert.Equal(t, ada.PlayerID, p.PlayerID)
	assert.Empty(t, watcherFS.byType(EventPlayerJoined))
	assert.Empty(t, watcherFS.byType(EventPlayerLeft))
}

func TestStartNewGameResetsBoardKeepsTeams(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)
	ctx := context.Background()

	ada, adaFS := joinAs(t, eng, "ABCD", "Ada", models.Anchors{Token: "device-1"})
	grace, _ := joinAs(t, eng, "ABCD", "Grace", models.Anchors{})

	require.NoError(t, eng.Handle(ctx, ada, Message{Type: "giveClue", Payload: MessagePayload{Word: "metal", Number: 2}}))
	require.NoError(t, eng.Handle(ctx, grace, Message{Type: "guess", Payload: MessagePayload{Word: "android"}}))
	adaFS.clear()

	require.NoError(t, eng.Handle(ctx, ada, Message{Type: "startNewGame"}))

	_, active, err := st.Turn(ctx, "ABCD")
	require.NoError(t, err)
	assert.False(t, active)

	left, err := st.TurnsLeft(ctx, "ABCD")
	require.NoError(t, err)
	assert.Equal(t, eng.Policy.StartingTurns, left)

	views, err := st.WordsView(ctx, "ABCD", models.TeamTwo)
	require.NoError(t, err)
	for _, v := range views {
		assert.False(t, v.Revealed, "replacement must reset every reveal flag")
	}

	// Memberships and tokens survive the replacement.
	team, ok, err := st.TeamOf(ctx, "ABCD", ada.PlayerID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.TeamOne, team)

	tokens, err := st.TeamTokens(ctx, "ABCD", models.TeamOne)
	require.NoError(t, err)
	assert.Contains(t, tokens, "device-1")

	// Each connection received its own filtered view.
	words := adaFS.byType(EventWords)
	require.Len(t, words, 1)
	wp := decodePayload[WordsPayload](t, words[0])
	assert.Equal(t, models.TeamOne, wp.Team)
}

func TestWordsRequestReturnsOwnProjection(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)
	ctx := context.Background()

	ada, adaFS := joinAs(t, eng, "ABCD", "Ada", models.Anchors{})
	adaFS.clear()

	require.NoError(t, eng.Handle(ctx, ada, Message{Type: "words"}))

	words := adaFS.byType(EventWords)
	require.Len(t, words, 1)
	wp := decodePayload[WordsPayload](t, words[0])
	assert.Equal(t, models.TeamOne, wp.Team)
	require.Len(t, wp.Words, len(testBoard()))
	for _, v := range wp.Words {
		expected := testBoard()[v.Word]
		assert.Equal(t, expected.RoleFor(models.TeamOne), v.Role,
			"view must carry the requesting team's role, never the opponent's")
	}
}

func TestGuessWithoutActiveClueIsNoop(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)
	ctx := context.Background()

	grace, _ := joinAs(t, eng, "ABCD", "Grace", models.Anchors{})

	require.NoError(t, eng.Handle(ctx, grace, Message{Type: "guess", Payload: MessagePayload{Word: "android"}}))

	agents, err := st.AgentsLeft(ctx, "ABCD", grace.Team)
	require.NoError(t, err)
	assert.Equal(t, 0, agents, "guessing outside a clue window must not reveal")
}

func TestUnknownWordGuessIsNoop(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)
	ctx := context.Background()

	ada, _ := joinAs(t, eng, "ABCD", "Ada", models.Anchors{})
	grace, _ := joinAs(t, eng, "ABCD", "Grace", models.Anchors{})

	require.NoError(t, eng.Handle(ctx, ada, Message{Type: "giveClue", Payload: MessagePayload{Word: "metal", Number: 1}}))
	require.NoError(t, eng.Handle(ctx, grace, Message{Type: "guess", Payload: MessagePayload{Word: "zeppelin"}}))

	turn, active, err := st.Turn(ctx, "ABCD")
	require.NoError(t, err)
	require.True(t, active)
	assert.Equal(t, 2, turn.GuessesLeft, "unknown word must not spend budget")
}

func TestMismatchedGameIDIsDropped(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedGame(t, st, "ABCD", 9)
	ctx := context.Background()

	ada, _ := joinAs(t, eng, "ABCD", "Ada", models.Anchors{})

	require.NoError(t, eng.Handle(ctx, ada, Message{GameID: "WXYZ", Type: "endTurn"}))

	left, err := st.TurnsLeft(ctx, "ABCD")
	require.NoError(t, err)
	assert.Equal(t, 9, left)
}
