package handlers

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/cluewords/internal/game"
	"github.com/jason-s-yu/cluewords/internal/middleware"
)

// wsSender adapts a websocket connection to the engine's Sender port.
type wsSender struct {
	c *websocket.Conn
}

func (s wsSender) Send(ctx context.Context, data []byte) error {
	return s.c.Write(ctx, websocket.MessageText, data)
}

// pingInterval is the liveness check period, overridable via PING_INTERVAL.
func pingInterval() time.Duration {
	if v := os.Getenv("PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 30 * time.Second
}

// GameWSHandler upgrades the HTTP connection to WebSocket for a game. The
// game id comes from the URL path (/game/ws/{game_id}); identity arrives
// later through message payloads and the session reconciler.
func GameWSHandler(logger *logrus.Logger, eng *game.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/game/ws/"), "/")
		if len(pathParts) < 1 || pathParts[0] == "" {
			http.Error(w, "Missing game_id in path (/game/ws/{game_id})", http.StatusBadRequest)
			return
		}
		gameID := strings.ToUpper(pathParts[0])

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"game"},
			OriginPatterns: []string{"*"}, // Adjust for production security.
		})
		if err != nil {
			logger.Warnf("websocket accept error for game %s: %v", gameID, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "game" {
			c.Close(BadSubprotocolError, "client must speak the game subprotocol")
			return
		}
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		conn, err := eng.Join(r.Context(), gameID, wsSender{c})
		if err != nil {
			logger.Errorf("join failed for game %s: %v", gameID, err)
			c.Close(websocket.StatusInternalError, "game state unavailable")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go livenessPinger(ctx, c, cancel, logger, gameID)

		readErr := readMessages(ctx, c, eng, conn, logger)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, readErr)

		// Cleanup uses a fresh context: the request context is already done
		// when the client initiated the close.
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
		eng.Leave(cleanupCtx, conn)
		cleanupCancel()
	}
}

// livenessPinger pings the connection on a fixed interval. A peer that does
// not answer before the next tick is forcibly closed, which drives the
// normal disconnect cleanup through the read loop.
func livenessPinger(ctx context.Context, c *websocket.Conn, cancel context.CancelFunc, logger *logrus.Logger, gameID string) {
	interval := pingInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, interval)
			err := c.Ping(pingCtx)
			pingCancel()
			if err != nil {
				logger.Infof("liveness ping failed for game %s: %v; closing connection", gameID, err)
				c.Close(websocket.StatusPolicyViolation, "liveness ping unanswered")
				cancel()
				return
			}
		}
	}
}

// readMessages reads frames until the connection closes. Malformed frames
// are dropped with the connection kept open; store failures drop only the
// in-flight request.
func readMessages(ctx context.Context, c *websocket.Conn, eng *game.Engine, conn *game.Connection, logger *logrus.Logger) error {
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			return err
		}
		if msgType != websocket.MessageText {
			logger.Warnf("non-text frame on game %s connection; ignoring", conn.GameID)
			continue
		}

		msg, err := game.ParseMessage(data)
		if err != nil {
			logger.Warnf("invalid JSON on game %s connection: %v", conn.GameID, err)
			continue
		}

		if err := eng.Handle(ctx, conn, msg); err != nil {
			logger.Errorf("failed to handle %s for game %s: %v", msg.Type, conn.GameID, err)
		}
	}
}
