package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/cluewords/internal/models"
)

// Postgres is the durable Repo backend.
//
// Schema:
//
//	players        (id uuid primary key, name text not null,
//	                account text not null default '', token text not null default '')
//	player_anchors (anchor text primary key, player_id uuid references players)
//	player_games   (player_id uuid, game_id text, primary key (player_id, game_id))
type Postgres struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
}

// ConnectPostgres builds the pool from POSTGRES_USER, POSTGRES_PASSWORD,
// PG_HOST, PG_PORT, and PG_DATABASE, retrying with backoff before failing.
func ConnectPostgres(log *logrus.Logger) (*Postgres, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("PG_HOST"),
		os.Getenv("PG_PORT"),
		os.Getenv("PG_DATABASE"),
	)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 6; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		lastErr = pool.Ping(ctx)
		cancel()
		if lastErr == nil {
			log.Infof("connected to postgres at %s:%s", os.Getenv("PG_HOST"), os.Getenv("PG_PORT"))
			return &Postgres{pool: pool, log: log}, nil
		}
		log.Warnf("postgres ping failed (attempt %d): %v; retrying in %s", attempt+1, lastErr, backoff)
		time.Sleep(backoff)
		backoff *= 2
	}
	pool.Close()
	return nil, fmt.Errorf("failed to connect to postgres: %w", lastErr)
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Resolve(ctx context.Context, anchors models.Anchors) (*models.Player, bool, error) {
	var player *models.Player
	created := false

	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		// Account anchors take precedence over device tokens when both are
		// supplied and point at different records.
		for _, key := range anchorKeys(anchors) {
			var id uuid.UUID
			err := tx.QueryRow(ctx, `SELECT player_id FROM player_anchors WHERE anchor=$1`, key).Scan(&id)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("anchor lookup: %w", err)
			}
			found, err := getPlayer(ctx, tx, id)
			if err != nil {
				return err
			}
			player = found
			break
		}

		if player == nil {
			id, err := uuid.NewRandom()
			if err != nil {
				return fmt.Errorf("generate player id: %w", err)
			}
			player = &models.Player{ID: id, Name: anchors.Name}
			created = true
			_, err = tx.Exec(ctx,
				`INSERT INTO players (id, name, account, token) VALUES ($1, $2, $3, $4)`,
				player.ID, player.Name, anchors.Account, anchors.Token,
			)
			if err != nil {
				return fmt.Errorf("insert player: %w", err)
			}
		}

		// Attach all supplied anchors to the resolved record so future
		// lookups by either anchor converge on the same player.
		for _, key := range anchorKeys(anchors) {
			_, err := tx.Exec(ctx,
				`INSERT INTO player_anchors (anchor, player_id) VALUES ($1, $2)
				 ON CONFLICT (anchor) DO UPDATE SET player_id=$2`,
				key, player.ID,
			)
			if err != nil {
				return fmt.Errorf("attach anchor: %w", err)
			}
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
		_, err := tx.Exec(ctx,
			`UPDATE players SET name=$2, account=$3, token=$4 WHERE id=$1`,
			player.ID, player.Name, player.Account, player.Token,
		)
		if err != nil {
			return fmt.Errorf("update player: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return player, created, nil
}

func (p *Postgres) Find(ctx context.Context, anchors models.Anchors) (*models.Player, error) {
	for _, key := range anchorKeys(anchors) {
		var id uuid.UUID
		err := p.pool.QueryRow(ctx, `SELECT player_id FROM player_anchors WHERE anchor=$1`, key).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("anchor lookup: %w", err)
		}
		return p.Get(ctx, id)
	}
	return nil, ErrNotFound
}

func getPlayer(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, id uuid.UUID) (*models.Player, error) {
	var u models.Player
	err := q.QueryRow(ctx,
		`SELECT id, name, account, token FROM players WHERE id=$1`, id,
	).Scan(&u.ID, &u.Name, &u.Account, &u.Token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch player: %w", err)
	}
	return &u, nil
}

func (p *Postgres) Get(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	return getPlayer(ctx, p.pool, id)
}

func (p *Postgres) Rename(ctx context.Context, id uuid.UUID, name string) error {
	_, err := p.pool.Exec(ctx, `UPDATE players SET name=$2 WHERE id=$1`, id, name)
	if err != nil {
		return fmt.Errorf("rename player: %w", err)
	}
	return nil
}

func (p *Postgres) AddGame(ctx context.Context, id uuid.UUID, gameID string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO player_games (player_id, game_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		id, gameID,
	)
	if err != nil {
		return fmt.Errorf("add game membership: %w", err)
	}
	return nil
}

func (p *Postgres) RemoveGame(ctx context.Context, id uuid.UUID, gameID string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM player_games WHERE player_id=$1 AND game_id=$2`, id, gameID,
	)
	if err != nil {
		return fmt.Errorf("remove game membership: %w", err)
	}
	return nil
}

func (p *Postgres) Games(ctx context.Context, id uuid.UUID) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT game_id FROM player_games WHERE player_id=$1 ORDER BY game_id`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var games []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scan game id: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

func (p *Postgres) Delete(ctx context.Context, id uuid.UUID) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM player_anchors WHERE player_id=$1`, id); err != nil {
			return fmt.Errorf("delete anchors: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM player_games WHERE player_id=$1`, id); err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM players WHERE id=$1`, id); err != nil {
			return fmt.Errorf("delete player: %w", err)
		}
		return nil
	})
}
