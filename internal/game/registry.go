package game

import "sync"

// Registry tracks the live connections per game id. It owns only the
// bookkeeping: join returns the roster for the caller to replay and leave
// returns the remaining count. The registry itself never broadcasts.
type Registry struct {
	mu    sync.Mutex
	conns map[string]map[*Connection]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[*Connection]struct{})}
}

// Join adds the connection to the game's live set. It reports whether the
// game's set already existed (so the caller can trigger game creation) and
// returns the other live connections for roster replay, captured before the
// new connection is added.
func (r *Registry) Join(gameID string, c *Connection) (existed bool, roster []*Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[gameID]
	if !ok {
		set = make(map[*Connection]struct{})
		r.conns[gameID] = set
	}
	for other := range set {
		if other != c && other.Open() {
			roster = append(roster, other)
		}
	}
	set[c] = struct{}{}
	return ok, roster
}

// Leave removes the connection from its game's set and returns the new live
// count. Removing an unknown connection is a no-op.
func (r *Registry) Leave(c *Connection) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[c.GameID]
	if !ok {
		return 0
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.conns, c.GameID)
		return 0
	}
	return len(set)
}

// Connections snapshots the live, open connections for a game.
func (r *Registry) Connections(gameID string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.conns[gameID]
	out := make([]*Connection, 0, len(set))
	for c := range set {
		if c.Open() {
			out = append(out, c)
		}
	}
	return out
}
