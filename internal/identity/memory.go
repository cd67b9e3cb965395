package identity

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jason-s-yu/cluewords/internal/models"
)

// Memory is the in-process Repo backend used by tests.
type Memory struct {
	mu      sync.Mutex
	players map[uuid.UUID]*models.Player
	anchors map[string]uuid.UUID
	games   map[uuid.UUID]map[string]struct{}
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		players: make(map[uuid.UUID]*models.Player),
		anchors: make(map[string]uuid.UUID),
		games:   make(map[uuid.UUID]map[string]struct{}),
	}
}

func (m *Memory) Resolve(_ context.Context, anchors models.Anchors) (*models.Player, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var player *models.Player
	for _, key := range anchorKeys(anchors) {
		if id, ok := m.anchors[key]; ok {
			player = m.players[id]
			break
		}
	}

	created := false
	if player == nil {
		player = &models.Player{ID: uuid.New(), Name: anchors.Name}
		m.players[player.ID] = player
		m.games[player.ID] = make(map[string]struct{})
		created = true
	}

	for _, key := range anchorKeys(anchors) {
		m.anchors[key] = player.ID
	}
	if anchors.Account != "" {
		player.Account = anchors.Account
	}
	if anchors.Token != "" {
		player.Token = anchors.Token
	}
	if anchors.Name != "" {
		player.Name = anchors.Name
	}

	cp := *player
	return &cp, created, nil
}

func (m *Memory) Find(_ context.Context, anchors models.Anchors) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range anchorKeys(anchors) {
		if id, ok := m.anchors[key]; ok {
			cp := *m.players[id]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) Rename(_ context.Context, id uuid.UUID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.players[id]; ok {
		p.Name = name
	}
	return nil
}

func (m *Memory) AddGame(_ context.Context, id uuid.UUID, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.games[id] == nil {
		m.games[id] = make(map[string]struct{})
	}
	m.games[id][gameID] = struct{}{}
	return nil
}

func (m *Memory) RemoveGame(_ context.Context, id uuid.UUID, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.games[id], gameID)
	return nil
}

func (m *Memory) Games(_ context.Context, id uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	games := make([]string, 0, len(m.games[id]))
	for g := range m.games[id] {
		games = append(games, g)
	}
	sort.Strings(games)
	return games, nil
}

func (m *Memory) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.players, id)
	delete(m.games, id)
	for key, pid := range m.anchors {
		if pid == id {
			delete(m.anchors, key)
		}
	}
	return nil
}
