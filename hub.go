package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// WSMessage represents a message from the client
type WSMessage struct {
	Action   string `json:"action"`
	TargetID *int   `json:"target_id,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// Inbound message budget per connection
const (
	clientMessageRate  = 10
	clientMessageBurst = 20
)

// Client represents one websocket connection
type Client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex // Serialize writes to WebSocket (required by gorilla/websocket)
	limiter *rate.Limiter
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(clientMessageRate), clientMessageBurst),
	}
}

func (c *Client) send(message []byte) error {
	LogWSMessage("OUT", c.id, string(message))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// ParticipantView is a participant as the browser sees it
type ParticipantView struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Role      Role    `json:"role,omitempty"`
	Faction   Faction `json:"faction,omitempty"`
	Alive     bool    `json:"alive"`
	Human     bool    `json:"human"`
	Suspicion float64 `json:"suspicion"`
	Ready     bool    `json:"ready"`
}

// SnapshotView is the JSON envelope pushed to every client after a state change
type SnapshotView struct {
	Type           string            `json:"type"`
	MatchID        string            `json:"match_id,omitempty"`
	Phase          Phase             `json:"phase"`
	Round          int               `json:"round"`
	Busy           bool              `json:"busy"`
	Winner         *Faction          `json:"winner,omitempty"`
	LastEliminated *int              `json:"last_eliminated,omitempty"`
	Selection      *int              `json:"selection,omitempty"`
	Multiplayer    bool              `json:"multiplayer"`
	LobbyCode      string            `json:"lobby_code,omitempty"`
	Participants   []ParticipantView `json:"participants"`
	Log            []LogEntry        `json:"log"`
}

// newSnapshotView hides every role except the human's own. All roles are
// shown once the match is over. In the lobby nobody has a role yet.
func newSnapshotView(snap MatchSnapshot) SnapshotView {
	s := snap.State
	view := SnapshotView{
		Type:           "state",
		MatchID:        s.MatchID,
		Phase:          s.Phase,
		Round:          s.Round,
		Busy:           snap.Busy,
		Winner:         s.Winner,
		LastEliminated: s.LastEliminated,
		Selection:      s.Selection,
		Multiplayer:    s.Multiplayer,
		LobbyCode:      s.LobbyCode,
		Participants:   make([]ParticipantView, 0, len(s.Participants)),
		Log:            s.Log,
	}
	for _, p := range s.Participants {
		pv := ParticipantView{
			ID:        p.ID,
			Name:      p.Name,
			Alive:     p.Alive,
			Human:     p.Human,
			Suspicion: p.Suspicion,
			Ready:     p.Ready,
		}
		visible := s.Phase == PhaseGameOver || (p.Human && s.Phase != PhaseLobby)
		if visible {
			pv.Role = p.Role
			pv.Faction = p.Faction
		}
		view.Participants = append(view.Participants, pv)
	}
	if view.Log == nil {
		view.Log = []LogEntry{}
	}
	return view
}

// WebSocket hub for broadcasting updates to all connected clients
type Hub struct {
	clients    map[*websocket.Conn]*Client
	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func newHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn, 64),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

var hub = newHub()

// start launches the hub goroutine
func (h *Hub) start() {
	h.wg.Add(1)
	go h.run()
}

// stop cancels in-flight transitions, signals the hub goroutine to exit and waits for it
func (h *Hub) stop() {
	h.cancel()
	close(h.done)
	h.wg.Wait()
}

// clientCount returns the number of connected clients
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish broadcasts a snapshot to every connected client
func (h *Hub) Publish(snap MatchSnapshot) {
	buf, err := json.Marshal(newSnapshotView(snap))
	if err != nil {
		logError("Hub.Publish: json.Marshal", err)
		return
	}
	select {
	case h.broadcast <- buf:
	case <-h.done:
	}
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected (%s). Total: %d", client.id, total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if client, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				DebugLog("hub.unregister", "Client %s disconnected", client.id)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total: %d", total)

		case message := <-h.broadcast:
			h.mu.Lock()
			for conn, client := range h.clients {
				if err := client.send(message); err != nil {
					log.Printf("WebSocket write error: %v", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Capture globals at entry to avoid race conditions in parallel tests
	currentHub := hub
	currentTable := table

	var upgrader = websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := newClient(conn)
	DebugLog("handleWebSocket", "WebSocket upgraded for client %s", client.id)
	currentHub.register <- client

	// New clients start from the current state
	if snap, err := currentTable.Snapshot(); err == nil {
		if buf, err := json.Marshal(newSnapshotView(snap)); err == nil {
			client.send(buf)
		}
	}

	// Handle messages and disconnection
	go func() {
		defer func() {
			currentHub.unregister <- conn
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if !client.limiter.Allow() {
				DebugLog("handleWebSocket", "Client %s over message budget, dropping", client.id)
				continue
			}
			handleWSMessage(currentHub, currentTable, client, message)
		}
	}()
}

func handleWSMessage(h *Hub, t *Table, client *Client, message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("WebSocket unmarshal error for client %s: %v", client.id, err)
		return
	}

	LogWSMessage("IN", client.id, msg.Action)

	switch msg.Action {
	case "open_lobby":
		handleWSOpenLobby(t, client, msg)
	case "toggle_ready":
		handleWSToggleReady(t, client)
	case "start_game":
		handleWSStartGame(t, client)
	case "new_game":
		handleWSNewGame(t, client)
	case "select_target":
		handleWSSelectTarget(t, client, msg)
	case "advance":
		handleWSAdvance(h, t, client)
	default:
		log.Printf("Unknown action: %s from client %s", msg.Action, client.id)
	}
}

func handleWSSelectTarget(t *Table, client *Client, msg WSMessage) {
	if msg.TargetID == nil {
		sendErrorToast(client, "No target selected")
		return
	}
	match, err := t.Match()
	if err != nil {
		sendErrorToast(client, "No match in progress")
		return
	}
	switch err := match.Select(*msg.TargetID); {
	case err == nil:
	case errors.Is(err, ErrBusy):
		sendToast(client, "info", "Transition in progress")
	case errors.Is(err, ErrInvalidTarget):
		sendErrorToast(client, "Invalid target")
	case errors.Is(err, ErrGameOver):
		sendToast(client, "info", "The match is over")
	default:
		logError("handleWSSelectTarget", err)
		sendErrorToast(client, "Failed to record selection")
	}
}

// handleWSAdvance runs the transition off the read loop so a second advance
// arriving during narration is answered with ErrBusy instead of queueing.
func handleWSAdvance(h *Hub, t *Table, client *Client) {
	match, err := t.Match()
	if err != nil {
		sendErrorToast(client, "No match in progress")
		return
	}
	go func() {
		switch err := match.Advance(h.ctx); {
		case err == nil:
		case errors.Is(err, ErrBusy):
			sendToast(client, "info", "Transition in progress")
		case errors.Is(err, ErrGameOver):
			sendToast(client, "info", "The match is over")
		default:
			logError("handleWSAdvance", err)
			sendErrorToast(client, "Failed to advance")
		}
	}()
}
