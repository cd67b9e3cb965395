// cmd/server/main.go
package main

import (
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/cluewords/internal/auth"
	"github.com/jason-s-yu/cluewords/internal/game"
	"github.com/jason-s-yu/cluewords/internal/handlers"
	"github.com/jason-s-yu/cluewords/internal/identity"
	"github.com/jason-s-yu/cluewords/internal/middleware"
	"github.com/jason-s-yu/cluewords/internal/notify"
	"github.com/jason-s-yu/cluewords/internal/store"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	if err := auth.Init(); err != nil {
		log.Fatalf("auth init failed: %v", err)
	}

	st, err := store.ConnectRedis(logger)
	if err != nil {
		log.Fatalf("redis connect failed: %v", err)
	}

	players, err := identity.ConnectPostgres(logger)
	if err != nil {
		log.Fatalf("postgres connect failed: %v", err)
	}
	defer players.Close()

	notifier := notify.NewQueue(st.Client(), logger)
	eng := game.NewEngine(logger, st, players, notifier)

	api := &handlers.API{Log: logger, Store: st, Players: players}

	mux := http.NewServeMux()
	mux.Handle("/game/ws/", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.GameWSHandler(logger, eng),
	)))
	mux.Handle("/session", middleware.LogMiddleware(logger)(http.HandlerFunc(api.SessionHandler)))
	mux.Handle("/games", middleware.LogMiddleware(logger)(http.HandlerFunc(api.ListGamesHandler)))
	mux.Handle("/games/", middleware.LogMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			api.LeaveGameHandler(w, r)
			return
		}
		api.GameExistsHandler(w, r)
	})))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
