package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jason-s-yu/cluewords/internal/models"
)

// Memory is the in-process Store backend used by tests and local runs.
// It mirrors the Redis backend's semantics, including the per-field
// atomicity model.
type Memory struct {
	mu    sync.Mutex
	games map[string]*memGame
}

type memGame struct {
	words      map[string]models.WordState
	turn       *models.Turn
	turnsLeft  int
	agentsLeft map[models.TeamID]int
	members    map[models.TeamID]map[uuid.UUID]struct{}
	tokens     map[models.TeamID]map[string]struct{}
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{games: make(map[string]*memGame)}
}

func newMemGame(words map[string]models.WordState, turnsLeft int) *memGame {
	g := &memGame{
		words:     make(map[string]models.WordState, len(words)),
		turnsLeft: turnsLeft,
		agentsLeft: map[models.TeamID]int{
			models.TeamOne: countAgents(words, models.TeamOne),
			models.TeamTwo: countAgents(words, models.TeamTwo),
		},
		members: map[models.TeamID]map[uuid.UUID]struct{}{
			models.TeamOne: {},
			models.TeamTwo: {},
		},
		tokens: map[models.TeamID]map[string]struct{}{
			models.TeamOne: {},
			models.TeamTwo: {},
		},
	}
	for w, st := range words {
		g.words[w] = st
	}
	return g
}

func (s *Memory) EnsureGame(_ context.Context, gameID string, words map[string]models.WordState, turnsLeft int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[gameID]; ok {
		return false, nil
	}
	s.games[gameID] = newMemGame(words, turnsLeft)
	return true, nil
}

func (s *Memory) ReplaceGame(_ context.Context, gameID string, words map[string]models.WordState, turnsLeft int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := newMemGame(words, turnsLeft)
	if old, ok := s.games[gameID]; ok {
		fresh.members = old.members
		fresh.tokens = old.tokens
	}
	s.games[gameID] = fresh
	return nil
}

func (s *Memory) GameExists(_ context.Context, gameID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.games[gameID]
	return ok, nil
}

func (s *Memory) AddToTeam(_ context.Context, gameID string, playerID uuid.UUID, token string, desired models.TeamID) (models.TeamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return models.TeamNone, ErrNotFound
	}

	for _, team := range []models.TeamID{models.TeamOne, models.TeamTwo} {
		if _, member := g.members[team][playerID]; member {
			if desired == models.TeamNone || desired == team {
				if token != "" {
					g.tokens[team][token] = struct{}{}
				}
				return team, nil
			}
		}
	}

	team := desired
	if team == models.TeamNone {
		team = models.TeamOne
		if len(g.members[models.TeamTwo]) < len(g.members[models.TeamOne]) {
			team = models.TeamTwo
		}
	}
	g.members[team][playerID] = struct{}{}
	if token != "" {
		g.tokens[team][token] = struct{}{}
	}
	return team, nil
}

func (s *Memory) RemoveFromTeam(_ context.Context, gameID string, playerID uuid.UUID, team models.TeamID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok || !team.Valid() {
		return nil
	}
	delete(g.members[team], playerID)
	if token != "" {
		delete(g.tokens[team], token)
	}
	return nil
}

func (s *Memory) TeamOf(_ context.Context, gameID string, playerID uuid.UUID) (models.TeamID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return models.TeamNone, false, nil
	}
	for _, team := range []models.TeamID{models.TeamOne, models.TeamTwo} {
		if _, member := g.members[team][playerID]; member {
			return team, true, nil
		}
	}
	return models.TeamNone, false, nil
}

func (s *Memory) TeamTokens(_ context.Context, gameID string, team models.TeamID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return nil, nil
	}
	tokens := make([]string, 0, len(g.tokens[team]))
	for tok := range g.tokens[team] {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return tokens, nil
}

func (s *Memory) RecordGuess(_ context.Context, gameID string, team models.TeamID, word string) (GuessResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return GuessResult{}, ErrNotFound
	}
	st, ok := g.words[word]
	if !ok {
		return GuessResult{}, ErrNotFound
	}
	role := st.RoleFor(team)
	if st.RevealedFor(team) {
		return GuessResult{Role: role, AlreadyRevealed: true, AgentsLeft: g.agentsLeft[team]}, nil
	}
	g.words[word] = st.Reveal(team)
	if role == models.RoleAgent {
		g.agentsLeft[team]++
	}
	return GuessResult{Role: role, AgentsLeft: g.agentsLeft[team]}, nil
}

func (s *Memory) SetTurn(_ context.Context, gameID string, turn models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return ErrNotFound
	}
	g.turn = &turn
	return nil
}

func (s *Memory) ClearTurn(_ context.Context, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.games[gameID]; ok {
		g.turn = nil
	}
	return nil
}

func (s *Memory) Turn(_ context.Context, gameID string) (models.Turn, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok || g.turn == nil {
		return models.Turn{}, false, nil
	}
	return *g.turn, true, nil
}

func (s *Memory) DecrementGuesses(_ context.Context, gameID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok || g.turn == nil {
		return 0, ErrNotFound
	}
	g.turn.GuessesLeft--
	return g.turn.GuessesLeft, nil
}

func (s *Memory) DecrementTurnsLeft(_ context.Context, gameID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return 0, ErrNotFound
	}
	g.turnsLeft--
	return g.turnsLeft, nil
}

func (s *Memory) TurnsLeft(_ context.Context, gameID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return 0, ErrNotFound
	}
	return g.turnsLeft, nil
}

func (s *Memory) AgentsLeft(_ context.Context, gameID string, team models.TeamID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return 0, ErrNotFound
	}
	return g.agentsLeft[team], nil
}

func (s *Memory) WordsView(_ context.Context, gameID string, team models.TeamID) ([]models.WordView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return nil, ErrNotFound
	}
	views := make([]models.WordView, 0, len(g.words))
	for word, st := range g.words {
		views = append(views, models.WordView{
			Word:     word,
			Role:     st.RoleFor(team),
			Revealed: st.RevealedFor(team),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Word < views[j].Word })
	return views, nil
}
