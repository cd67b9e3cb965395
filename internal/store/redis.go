package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/cluewords/internal/models"
)

// Redis key layout, all scoped per game id:
//
//	game:{id}          hash: created, turnsLeft, agentsLeftTeam1, agentsLeftTeam2
//	game:{id}:words    hash: word -> WordState JSON
//	game:{id}:turn     hash: team, word, number, guessesLeft
//	game:{id}:team:{n}:members  set of player ids
//	game:{id}:team:{n}:tokens   set of device tokens
//
// Field-level operations (HSet, HIncrBy, SAdd, SRem) are individually atomic;
// multi-step sequences are serialized per game by the engine.

// Redis is the durable Store backend.
type Redis struct {
	rdb *redis.Client
	log *logrus.Logger
}

// ConnectRedis dials Redis using REDIS_ADDR and REDIS_DB, retrying with
// exponential backoff before giving up. A dead store at startup is fatal to
// the caller; a dead store mid-flight surfaces as errors on each operation.
func ConnectRedis(log *logrus.Logger) (*Redis, error) {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 6; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		lastErr = rdb.Ping(ctx).Err()
		cancel()
		if lastErr == nil {
			log.Infof("connected to redis at %s (db %d)", addr, dbIdx)
			return &Redis{rdb: rdb, log: log}, nil
		}
		log.Warnf("redis ping failed (attempt %d): %v; retrying in %s", attempt+1, lastErr, backoff)
		time.Sleep(backoff)
		backoff *= 2
	}
	return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, lastErr)
}

// Client exposes the underlying Redis client so collaborators (the
// notification queue) can share one connection pool.
func (s *Redis) Client() *redis.Client {
	return s.rdb
}

func gameKey(id string) string  { return "game:" + id }
func wordsKey(id string) string { return "game:" + id + ":words" }
func turnKey(id string) string  { return "game:" + id + ":turn" }
func membersKey(id string, t models.TeamID) string {
	return fmt.Sprintf("game:%s:team:%d:members", id, t)
}
func tokensKey(id string, t models.TeamID) string {
	return fmt.Sprintf("game:%s:team:%d:tokens", id, t)
}

func agentsField(t models.TeamID) string {
	if t == models.TeamTwo {
		return "agentsLeftTeam2"
	}
	return "agentsLeftTeam1"
}

func (s *Redis) EnsureGame(ctx context.Context, gameID string, words map[string]models.WordState, turnsLeft int) (bool, error) {
	// HSetNX on the created marker makes concurrent creation idempotent:
	// exactly one caller wins and writes the initial record.
	created, err := s.rdb.HSetNX(ctx, gameKey(gameID), "created", time.Now().Unix()).Result()
	if err != nil {
		return false, fmt.Errorf("ensure game %s: %w", gameID, err)
	}
	if !created {
		return false, nil
	}
	if err := s.writeFreshState(ctx, gameID, words, turnsLeft); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Redis) ReplaceGame(ctx context.Context, gameID string, words map[string]models.WordState, turnsLeft int) error {
	// Team member and token sets are deliberately left alone.
	if err := s.rdb.Del(ctx, wordsKey(gameID), turnKey(gameID)).Err(); err != nil {
		return fmt.Errorf("replace game %s: %w", gameID, err)
	}
	return s.writeFreshState(ctx, gameID, words, turnsLeft)
}

func (s *Redis) writeFreshState(ctx context.Context, gameID string, words map[string]models.WordState, turnsLeft int) error {
	fields := make([]interface{}, 0, len(words)*2)
	for word, st := range words {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshal word state: %w", err)
		}
		fields = append(fields, word, data)
	}
	if len(fields) > 0 {
		if err := s.rdb.HSet(ctx, wordsKey(gameID), fields...).Err(); err != nil {
			return fmt.Errorf("write word table for %s: %w", gameID, err)
		}
	}
	err := s.rdb.HSet(ctx, gameKey(gameID),
		"turnsLeft", turnsLeft,
		agentsField(models.TeamOne), countAgents(words, models.TeamOne),
		agentsField(models.TeamTwo), countAgents(words, models.TeamTwo),
	).Err()
	if err != nil {
		return fmt.Errorf("write counters for %s: %w", gameID, err)
	}
	return nil
}

func (s *Redis) GameExists(ctx context.Context, gameID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, gameKey(gameID)).Result()
	if err != nil {
		return false, fmt.Errorf("probe game %s: %w", gameID, err)
	}
	return n > 0, nil
}

func (s *Redis) AddToTeam(ctx context.Context, gameID string, playerID uuid.UUID, token string, desired models.TeamID) (models.TeamID, error) {
	current, ok, err := s.TeamOf(ctx, gameID, playerID)
	if err != nil {
		return models.TeamNone, err
	}
	if ok && (desired == models.TeamNone || desired == current) {
		// Re-adding to the same team is a membership no-op, but a fresh
		// device token still gets registered for notification routing.
		if token != "" {
			if err := s.rdb.SAdd(ctx, tokensKey(gameID, current), token).Err(); err != nil {
				return models.TeamNone, fmt.Errorf("register device token: %w", err)
			}
		}
		return current, nil
	}

	team := desired
	if team == models.TeamNone {
		one, err := s.rdb.SCard(ctx, membersKey(gameID, models.TeamOne)).Result()
		if err != nil {
			return models.TeamNone, fmt.Errorf("count team one for %s: %w", gameID, err)
		}
		two, err := s.rdb.SCard(ctx, membersKey(gameID, models.TeamTwo)).Result()
		if err != nil {
			return models.TeamNone, fmt.Errorf("count team two for %s: %w", gameID, err)
		}
		team = models.TeamOne
		if two < one {
			team = models.TeamTwo
		}
	}

	if err := s.rdb.SAdd(ctx, membersKey(gameID, team), playerID.String()).Err(); err != nil {
		return models.TeamNone, fmt.Errorf("add player to team: %w", err)
	}
	if token != "" {
		if err := s.rdb.SAdd(ctx, tokensKey(gameID, team), token).Err(); err != nil {
			return models.TeamNone, fmt.Errorf("register device token: %w", err)
		}
	}
	return team, nil
}

func (s *Redis) RemoveFromTeam(ctx context.Context, gameID string, playerID uuid.UUID, team models.TeamID, token string) error {
	if !team.Valid() {
		return nil
	}
	if err := s.rdb.SRem(ctx, membersKey(gameID, team), playerID.String()).Err(); err != nil {
		return fmt.Errorf("remove player from team: %w", err)
	}
	if token != "" {
		if err := s.rdb.SRem(ctx, tokensKey(gameID, team), token).Err(); err != nil {
			return fmt.Errorf("drop device token: %w", err)
		}
	}
	return nil
}

func (s *Redis) TeamOf(ctx context.Context, gameID string, playerID uuid.UUID) (models.TeamID, bool, error) {
	for _, team := range []models.TeamID{models.TeamOne, models.TeamTwo} {
		member, err := s.rdb.SIsMember(ctx, membersKey(gameID, team), playerID.String()).Result()
		if err != nil {
			return models.TeamNone, false, fmt.Errorf("team lookup for %s: %w", gameID, err)
		}
		if member {
			return team, true, nil
		}
	}
	return models.TeamNone, false, nil
}

func (s *Redis) TeamTokens(ctx context.Context, gameID string, team models.TeamID) ([]string, error) {
	tokens, err := s.rdb.SMembers(ctx, tokensKey(gameID, team)).Result()
	if err != nil {
		return nil, fmt.Errorf("list tokens for %s: %w", gameID, err)
	}
	return tokens, nil
}

func (s *Redis) RecordGuess(ctx context.Context, gameID string, team models.TeamID, word string) (GuessResult, error) {
	raw, err := s.rdb.HGet(ctx, wordsKey(gameID), word).Result()
	if err == redis.Nil {
		return GuessResult{}, ErrNotFound
	}
	if err != nil {
		return GuessResult{}, fmt.Errorf("read word %q in %s: %w", word, gameID, err)
	}
	var st models.WordState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return GuessResult{}, fmt.Errorf("decode word %q in %s: %w", word, gameID, err)
	}

	role := st.RoleFor(team)
	if st.RevealedFor(team) {
		agents, err := s.AgentsLeft(ctx, gameID, team)
		if err != nil {
			return GuessResult{}, err
		}
		return GuessResult{Role: role, AlreadyRevealed: true, AgentsLeft: agents}, nil
	}

	st = st.Reveal(team)
	data, err := json.Marshal(st)
	if err != nil {
		return GuessResult{}, fmt.Errorf("encode word %q: %w", word, err)
	}
	if err := s.rdb.HSet(ctx, wordsKey(gameID), word, data).Err(); err != nil {
		return GuessResult{}, fmt.Errorf("reveal word %q in %s: %w", word, gameID, err)
	}

	var agents int64
	if role == models.RoleAgent {
		agents, err = s.rdb.HIncrBy(ctx, gameKey(gameID), agentsField(team), 1).Result()
		if err != nil {
			return GuessResult{}, fmt.Errorf("count agent reveal for %s: %w", gameID, err)
		}
	} else {
		n, err := s.AgentsLeft(ctx, gameID, team)
		if err != nil {
			return GuessResult{}, err
		}
		agents = int64(n)
	}
	return GuessResult{Role: role, AgentsLeft: int(agents)}, nil
}

func (s *Redis) SetTurn(ctx context.Context, gameID string, turn models.Turn) error {
	err := s.rdb.HSet(ctx, turnKey(gameID),
		"team", int(turn.Team),
		"word", turn.Word,
		"number", turn.Number,
		"guessesLeft", turn.GuessesLeft,
	).Err()
	if err != nil {
		return fmt.Errorf("set turn for %s: %w", gameID, err)
	}
	return nil
}

func (s *Redis) ClearTurn(ctx context.Context, gameID string) error {
	if err := s.rdb.Del(ctx, turnKey(gameID)).Err(); err != nil {
		return fmt.Errorf("clear turn for %s: %w", gameID, err)
	}
	return nil
}

func (s *Redis) Turn(ctx context.Context, gameID string) (models.Turn, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, turnKey(gameID)).Result()
	if err != nil {
		return models.Turn{}, false, fmt.Errorf("read turn for %s: %w", gameID, err)
	}
	if len(fields) == 0 {
		return models.Turn{}, false, nil
	}
	team, _ := strconv.Atoi(fields["team"])
	number, _ := strconv.Atoi(fields["number"])
	guesses, _ := strconv.Atoi(fields["guessesLeft"])
	return models.Turn{
		Team:        models.TeamID(team),
		Word:        fields["word"],
		Number:      number,
		GuessesLeft: guesses,
	}, true, nil
}

func (s *Redis) DecrementGuesses(ctx context.Context, gameID string) (int, error) {
	n, err := s.rdb.HIncrBy(ctx, turnKey(gameID), "guessesLeft", -1).Result()
	if err != nil {
		return 0, fmt.Errorf("decrement guesses for %s: %w", gameID, err)
	}
	return int(n), nil
}

func (s *Redis) DecrementTurnsLeft(ctx context.Context, gameID string) (int, error) {
	n, err := s.rdb.HIncrBy(ctx, gameKey(gameID), "turnsLeft", -1).Result()
	if err != nil {
		return 0, fmt.Errorf("decrement turns for %s: %w", gameID, err)
	}
	return int(n), nil
}

func (s *Redis) TurnsLeft(ctx context.Context, gameID string) (int, error) {
	raw, err := s.rdb.HGet(ctx, gameKey(gameID), "turnsLeft").Result()
	if err == redis.Nil {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read turns for %s: %w", gameID, err)
	}
	n, _ := strconv.Atoi(raw)
	return n, nil
}

func (s *Redis) AgentsLeft(ctx context.Context, gameID string, team models.TeamID) (int, error) {
	raw, err := s.rdb.HGet(ctx, gameKey(gameID), agentsField(team)).Result()
	if err == redis.Nil {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read agents for %s: %w", gameID, err)
	}
	n, _ := strconv.Atoi(raw)
	return n, nil
}

func (s *Redis) WordsView(ctx context.Context, gameID string, team models.TeamID) ([]models.WordView, error) {
	raw, err := s.rdb.HGetAll(ctx, wordsKey(gameID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read words for %s: %w", gameID, err)
	}
	views := make([]models.WordView, 0, len(raw))
	for word, data := range raw {
		var st models.WordState
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return nil, fmt.Errorf("decode word %q in %s: %w", word, gameID, err)
		}
		views = append(views, models.WordView{
			Word:     word,
			Role:     st.RoleFor(team),
			Revealed: st.RevealedFor(team),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Word < views[j].Word })
	return views, nil
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
