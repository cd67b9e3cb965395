package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/cluewords/internal/auth"
	"github.com/jason-s-yu/cluewords/internal/identity"
	"github.com/jason-s-yu/cluewords/internal/models"
	"github.com/jason-s-yu/cluewords/internal/store"
)

// API is the thin HTTP surface next to the socket: session issuance, game
// listing for an identity, existence probes, and explicit leave. It reads
// and writes the same store and repository the engine uses.
type API struct {
	Log     *logrus.Logger
	Store   store.Store
	Players identity.Repo
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// accountFromRequest extracts the caller's account anchor from a bearer
// token or session cookie.
func accountFromRequest(r *http.Request) (string, error) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else if c, err := r.Cookie("session"); err == nil {
		token = c.Value
	}
	if token == "" {
		return "", errors.New("missing session token")
	}
	return auth.AuthenticateJWT(token)
}

// SessionHandler issues a session token for an account anchor.
// POST /session {"account": "..."} -> {"token": "..."}
func (a *API) SessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Account string `json:"account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Account == "" {
		http.Error(w, "missing account", http.StatusBadRequest)
		return
	}
	token, err := auth.CreateJWT(body.Account)
	if err != nil {
		a.Log.Errorf("failed to create session token: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "session", Value: token, Path: "/", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// ListGamesHandler returns the games the authenticated identity belongs to.
// GET /games -> {"games": [...]}
func (a *API) ListGamesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	account, err := accountFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	player, err := a.Players.Find(r.Context(), models.Anchors{Account: account})
	if errors.Is(err, identity.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string][]string{"games": {}})
		return
	}
	if err != nil {
		a.Log.Errorf("player lookup failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	games, err := a.Players.Games(r.Context(), player.ID)
	if err != nil {
		a.Log.Errorf("game listing failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if games == nil {
		games = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"games": games})
}

// GameExistsHandler probes for a game without creating it.
// GET /games/{id} -> {"exists": bool}
func (a *API) GameExistsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	gameID := gameIDFromPath(r.URL.Path)
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}
	exists, err := a.Store.GameExists(r.Context(), gameID)
	if err != nil {
		a.Log.Errorf("existence probe failed for %s: %v", gameID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// LeaveGameHandler removes the authenticated identity's membership from a
// game. POST /games/{id}/leave
func (a *API) LeaveGameHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	account, err := accountFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	gameID := gameIDFromPath(strings.TrimSuffix(r.URL.Path, "/leave"))
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	player, err := a.Players.Find(r.Context(), models.Anchors{Account: account})
	if errors.Is(err, identity.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		a.Log.Errorf("player lookup failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	team, hasTeam, err := a.Store.TeamOf(r.Context(), gameID, player.ID)
	if err != nil {
		a.Log.Errorf("team lookup failed for %s: %v", gameID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if hasTeam {
		if err := a.Store.RemoveFromTeam(r.Context(), gameID, player.ID, team, player.Token); err != nil {
			a.Log.Errorf("leave failed for %s: %v", gameID, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	if err := a.Players.RemoveGame(r.Context(), player.ID, gameID); err != nil {
		a.Log.Errorf("membership cleanup failed for %s: %v", gameID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// gameIDFromPath pulls the id segment out of /games/{id}[...]. Room codes
// are case-insensitive.
func gameIDFromPath(path string) string {
	trimmed := strings.TrimPrefix(path, "/games/")
	if trimmed == path {
		return ""
	}
	if idx := strings.Index(trimmed, "/"); idx != -1 {
		trimmed = trimmed[:idx]
	}
	return strings.ToUpper(trimmed)
}
