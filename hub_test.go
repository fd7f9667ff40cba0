package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"strings"
	"testing"
)

// ============================================================================
// Snapshot view
// ============================================================================

func TestViewHidesRolesDuringPlay(t *testing.T) {
	state := newTestState(PhaseVoting, standardRoles...)
	view := newSnapshotView(MatchSnapshot{State: state})

	for _, p := range view.Participants {
		if p.Human && p.Role != RoleVillager {
			t.Errorf("The human should see their own role, got %q", p.Role)
		}
		if !p.Human && (p.Role != "" || p.Faction != "") {
			t.Errorf("Role of %s leaked during play", p.Name)
		}
	}

	buf, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(buf), `"Mafia"`) {
		t.Errorf("Serialized view mentions a hidden role: %s", buf)
	}
}

func TestViewRevealsRolesAtGameOver(t *testing.T) {
	state := newTestState(PhaseGameOver, standardRoles...)
	view := newSnapshotView(MatchSnapshot{State: state})

	for i, p := range view.Participants {
		if p.Role != standardRoles[i] {
			t.Errorf("Seat %d: expected %s, got %q", i, standardRoles[i], p.Role)
		}
	}
}

func TestViewHidesRolesInLobby(t *testing.T) {
	state := newTestState(PhaseLobby, standardRoles...)
	view := newSnapshotView(MatchSnapshot{State: state})

	for _, p := range view.Participants {
		if p.Role != "" {
			t.Errorf("Lobby should show no roles, %s has %q", p.Name, p.Role)
		}
	}
	if view.Log == nil {
		t.Errorf("Log should serialize as an empty array")
	}
}

// ============================================================================
// Websocket flow
// ============================================================================

func TestWebSocketPlaysOneRound(t *testing.T) {
	narrator := &stubNarrator{lines: []DialogueLine{
		{ParticipantID: 2, Text: "Someone on this grid is lying."},
		{ParticipantID: 4, Text: "Trust the data."},
	}}
	decider := &scriptedDecider{
		eliminate: []int{6},
		votes:     map[int]int{1: 5, 2: 5, 3: 5, 4: 5, 5: 1, 6: 5},
	}
	ctx := newTestContext(t, TableOptions{Decider: decider, Narrator: narrator})
	client := ctx.dial()

	ctx.logger.Debug("=== Opening local lobby ===")
	client.send(map[string]any{"action": "open_lobby", "mode": "local"})
	lobby := client.waitForPhase(PhaseLobby)
	if len(lobby.Participants) != 7 {
		t.Fatalf("Expected 7 seats in the lobby, got %d", len(lobby.Participants))
	}

	ctx.logger.Debug("=== Starting game ===")
	client.send(map[string]any{"action": "start_game"})
	reveal := client.waitForPhase(PhaseRoleReveal)
	if reveal.MatchID == "" {
		t.Fatalf("Expected a match id")
	}
	hidden := 0
	for _, p := range reveal.Participants {
		if p.Role == "" {
			hidden++
		}
	}
	if hidden != 6 {
		t.Errorf("Expected 6 hidden roles, got %d", hidden)
	}

	for _, phase := range []Phase{PhaseNightAction, PhaseDaySummary, PhaseDiscussion} {
		ctx.logger.Debug("=== Advancing to %s ===", phase)
		client.send(map[string]any{"action": "advance"})
		client.waitForPhase(phase)
	}

	discussion, err := ctx.table.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if chat := logKinds(discussion.State, LogChat); len(chat) == 0 {
		t.Errorf("Expected narrated chat lines during discussion")
	}

	client.send(map[string]any{"action": "advance"})
	client.waitForPhase(PhaseVoting)

	client.send(map[string]any{"action": "select_target", "target_id": 5})
	client.waitFor("selection", func(e envelope) bool {
		return e.Type == "state" && e.Selection != nil && *e.Selection == 5
	})

	client.send(map[string]any{"action": "advance"})
	elimination := client.waitForPhase(PhaseElimination)
	for _, p := range elimination.Participants {
		if p.ID == 5 && p.Alive {
			t.Errorf("Participant 5 should have been ejected")
		}
	}

	ctx.logger.LogDB("after voting")
	entries, err := loadLog(reveal.MatchID)
	if err != nil {
		t.Fatalf("loadLog: %v", err)
	}
	if len(entries) != len(elimination.Log) {
		t.Errorf("Stored log has %d entries, client saw %d", len(entries), len(elimination.Log))
	}
}

func TestWebSocketToasts(t *testing.T) {
	ctx := newTestContext(t, TableOptions{Decider: &scriptedDecider{}})
	client := ctx.dial()

	client.send(map[string]any{"action": "advance"})
	client.waitForToast("No match in progress")

	client.send(map[string]any{"action": "open_lobby", "mode": "staged"})
	staged := client.waitForPhase(PhaseLobby)
	if !staged.Multiplayer || staged.LobbyCode == "" {
		t.Fatalf("Expected a staged lobby with a sector code")
	}

	client.send(map[string]any{"action": "start_game"})
	toast := client.waitForToast("Role count must match")
	if toast.Level != "error" {
		t.Errorf("Expected an error toast, got %q", toast.Level)
	}

	client.send(map[string]any{"action": "open_lobby", "mode": "local"})
	client.waitForPhase(PhaseLobby)
	client.send(map[string]any{"action": "toggle_ready"})
	client.waitFor("human not ready", func(e envelope) bool {
		return e.Type == "state" && len(e.Participants) == 7 && !e.Participants[0].Ready
	})
	client.send(map[string]any{"action": "start_game"})
	client.waitForToast("Waiting for every participant")

	client.send(map[string]any{"action": "toggle_ready"})
	client.send(map[string]any{"action": "start_game"})
	client.waitForPhase(PhaseRoleReveal)

	client.send(map[string]any{"action": "select_target"})
	client.waitForToast("No target selected")
}

func TestLateClientReceivesCurrentState(t *testing.T) {
	ctx := newTestContext(t, TableOptions{Decider: &scriptedDecider{}})
	if err := ctx.table.OpenLobby(LobbyLocal); err != nil {
		t.Fatalf("OpenLobby: %v", err)
	}

	client := ctx.dial()
	env := client.waitForPhase(PhaseLobby)
	if len(env.Participants) != 7 {
		t.Errorf("Expected the lobby roster on connect, got %d seats", len(env.Participants))
	}
}

// ============================================================================
// HTTP routes
// ============================================================================

func newLoggingClient(ctx *TestContext) *http.Client {
	return &http.Client{Transport: &LoggingRoundTripper{
		Transport: http.DefaultTransport,
		Logger:    ctx.logger.AppLogger,
	}}
}

func TestStateRoute(t *testing.T) {
	ctx := newTestContext(t, TableOptions{Decider: &scriptedDecider{}})
	client := newLoggingClient(ctx)

	resp, err := client.Get(ctx.baseURL + "/state")
	if err != nil {
		t.Fatalf("GET /state: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 before any lobby, got %d", resp.StatusCode)
	}

	if err := ctx.table.OpenLobby(LobbyLocal); err != nil {
		t.Fatalf("OpenLobby: %v", err)
	}
	if err := ctx.table.StartGame(); err != nil {
		t.Fatalf("StartGame: %v", err)
	}

	resp, err = client.Get(ctx.baseURL + "/state")
	if err != nil {
		t.Fatalf("GET /state: %v", err)
	}
	defer resp.Body.Close()
	var view SnapshotView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if view.Type != "state" || view.Phase != PhaseRoleReveal || len(view.Participants) != 7 {
		t.Errorf("Unexpected state view %+v", view)
	}
}

func TestGameHistoryRoute(t *testing.T) {
	ctx := newTestContext(t, TableOptions{Decider: &scriptedDecider{}})
	if err := ctx.table.OpenLobby(LobbyLocal); err != nil {
		t.Fatalf("OpenLobby: %v", err)
	}
	if err := ctx.table.StartGame(); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	m, _ := ctx.table.Match()
	if err := m.Advance(ctx.hub.ctx); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	resp, err := http.Get(ctx.baseURL + "/game/history")
	if err != nil {
		t.Fatalf("GET /game/history: %v", err)
	}
	defer resp.Body.Close()
	var entries []LogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(entries) != len(m.State().Log) {
		t.Errorf("Expected %d history entries, got %d", len(m.State().Log), len(entries))
	}

	resp2, err := http.Get(ctx.baseURL + "/game/history?match=unknown")
	if err != nil {
		t.Fatalf("GET /game/history: %v", err)
	}
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("Expected an empty history for an unknown match, got %s", body)
	}
}

func TestLobbyQRRoute(t *testing.T) {
	ctx := newTestContext(t, TableOptions{Decider: &scriptedDecider{}})

	resp, err := http.Get(ctx.baseURL + "/lobby/qr.png")
	if err != nil {
		t.Fatalf("GET /lobby/qr.png: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 without a staged lobby, got %d", resp.StatusCode)
	}

	if err := ctx.table.OpenLobby(LobbyStaged); err != nil {
		t.Fatalf("OpenLobby: %v", err)
	}
	resp, err = http.Get(ctx.baseURL + "/lobby/qr.png")
	if err != nil {
		t.Fatalf("GET /lobby/qr.png: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %q", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("QR response is not a PNG: %v", err)
	}
}

func TestIndexRoute(t *testing.T) {
	ctx := newTestContext(t, TableOptions{Decider: &scriptedDecider{}, HumanName: "Nova"})

	resp, err := http.Get(ctx.baseURL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "Nova") {
		t.Errorf("Expected the page shell with the human name, got %d", resp.StatusCode)
	}

	resp2, err := http.Get(ctx.baseURL + "/nowhere")
	if err != nil {
		t.Fatalf("GET /nowhere: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown path, got %d", resp2.StatusCode)
	}
}
