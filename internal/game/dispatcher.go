package game

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/cluewords/internal/models"
	"github.com/jason-s-yu/cluewords/internal/notify"
	"github.com/jason-s-yu/cluewords/internal/store"
)

const writeTimeout = 3 * time.Second

// Dispatcher fans state deltas out to a game's live connections and hands
// off-device notifications to the notify collaborator. Socket write errors
// close nothing here; the connection's own read loop detects the failure.
type Dispatcher struct {
	log      *logrus.Logger
	registry *Registry
	notifier notify.Notifier
	store    store.Store
}

// NewDispatcher wires the dispatcher over the registry and notifier.
func NewDispatcher(log *logrus.Logger, registry *Registry, notifier notify.Notifier, st store.Store) *Dispatcher {
	return &Dispatcher{log: log, registry: registry, notifier: notifier, store: st}
}

// Broadcast sends the event to every live, open connection of the game.
func (d *Dispatcher) Broadcast(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		d.log.Errorf("failed to marshal %s event for game %s: %v", ev.Type, ev.GameID, err)
		return
	}
	for _, c := range d.registry.Connections(ev.GameID) {
		d.write(ctx, c, data, ev.Type)
	}
}

// Unicast sends the event to a single connection.
func (d *Dispatcher) Unicast(ctx context.Context, c *Connection, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		d.log.Errorf("failed to marshal %s event for game %s: %v", ev.Type, ev.GameID, err)
		return
	}
	d.write(ctx, c, data, ev.Type)
}

func (d *Dispatcher) write(ctx context.Context, c *Connection, data []byte, typ EventType) {
	if !c.Open() {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.Send(writeCtx, data); err != nil {
		d.log.Warnf("failed to write %s event to connection %s in game %s: %v", typ, c.ID, c.GameID, err)
	}
}

// NotifyOthers pushes a best-effort notification to the device tokens of
// the team opposite the acting team. It runs detached: failure never rolls
// back or delays the broadcast that preceded it.
func (d *Dispatcher) NotifyOthers(gameID string, acting models.TeamID, title, body string) {
	target := acting.Other()
	if target == models.TeamNone {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		tokens, err := d.store.TeamTokens(ctx, gameID, target)
		if err != nil {
			d.log.Warnf("failed to load tokens for game %s team %d: %v", gameID, target, err)
			return
		}
		n := notify.Notification{Title: title, Body: body, Topic: "cluewords", Badge: 1, Sound: "default"}
		n.Custom.GameID = gameID
		d.notifier.Send(ctx, tokens, n)
	}()
}
