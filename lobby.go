package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	mrand "math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotReady = errors.New("not every participant is ready")
	ErrNoMatch  = errors.New("no match in progress")
)

// LobbyMode selects how the roster is staged
type LobbyMode string

const (
	LobbyLocal  LobbyMode = "local"
	LobbyStaged LobbyMode = "staged"
)

const (
	localLobbyNotice = "SINGLE_PLAYER_MODE: AI_ADVERSARIES_LOADED."
	sectorCodeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	sectorCodeLen    = 6
)

// TableOptions configures every match the table starts
type TableOptions struct {
	HumanName        string
	Seed             uint64
	Decider          Decider
	Narrator         Narrator
	NarrationTimeout time.Duration
	RevealMinDelay   time.Duration
	RevealMaxDelay   time.Duration
	MaxDialogueLines int
}

// Table stages the roster and owns the current match. Before a match starts
// it holds the lobby state; afterwards every game action goes to the Match.
type Table struct {
	mu         sync.Mutex
	opts       TableOptions
	rng        *mrand.Rand
	mode       LobbyMode
	lobby      *GameState
	match      *Match
	publishers []Publisher
}

func newTable(opts TableOptions, publishers ...Publisher) *Table {
	if opts.HumanName == "" {
		opts.HumanName = ParticipantNames[0]
	}
	return &Table{opts: opts, rng: newRand(opts.Seed), publishers: publishers}
}

// Snapshot returns the state presentation should show right now
func (t *Table) Snapshot() (MatchSnapshot, error) {
	t.mu.Lock()
	match, lobby := t.match, t.lobby
	t.mu.Unlock()

	switch {
	case match != nil:
		return MatchSnapshot{State: match.State(), Busy: match.Busy()}, nil
	case lobby != nil:
		return MatchSnapshot{State: lobby.Clone()}, nil
	default:
		return MatchSnapshot{}, ErrNoMatch
	}
}

// OpenLobby stages a fresh roster. It is refused while a match is still running.
func (t *Table) OpenLobby(mode LobbyMode) error {
	t.mu.Lock()
	if t.match != nil && t.match.State().Phase != PhaseGameOver {
		t.mu.Unlock()
		return fmt.Errorf("%w: match still running", ErrWrongPhase)
	}

	var state GameState
	switch mode {
	case LobbyLocal:
		state = GameState{
			Phase:        PhaseLobby,
			Round:        1,
			Participants: newRoster(t.rng, t.opts.HumanName, true),
		}
		state.appendLog(LogInfo, localLobbyNotice, "")
	case LobbyStaged:
		code, err := generateSectorCode()
		if err != nil {
			t.mu.Unlock()
			return fmt.Errorf("sector code: %w", err)
		}
		state = GameState{
			Phase:       PhaseLobby,
			Round:       1,
			Multiplayer: true,
			LobbyCode:   code,
			Participants: []Participant{{
				ID:      0,
				Name:    t.opts.HumanName,
				Role:    RoleVillager,
				Faction: FactionTown,
				Alive:   true,
				Human:   true,
			}},
		}
		state.appendLog(LogInfo, fmt.Sprintf("SECTOR_%s ESTABLISHED. AWAITING PEERS.", code), "")
	default:
		t.mu.Unlock()
		return fmt.Errorf("unknown lobby mode %q", mode)
	}

	t.mode = mode
	t.match = nil
	t.lobby = &state
	snap := MatchSnapshot{State: state.Clone()}
	t.mu.Unlock()

	log.Printf("Lobby opened (%s) with %d participants", mode, len(state.Participants))
	t.publish(snap)
	return nil
}

// ToggleReady flips the human's ready flag in the lobby
func (t *Table) ToggleReady() error {
	t.mu.Lock()
	if t.lobby == nil {
		started := t.match != nil
		t.mu.Unlock()
		if started {
			return fmt.Errorf("%w: ready only applies in the lobby", ErrWrongPhase)
		}
		return ErrNoMatch
	}
	next := t.lobby.Clone()
	human := next.human()
	if human == nil {
		t.mu.Unlock()
		return ErrNoMatch
	}
	human.Ready = !human.Ready
	ready := human.Ready
	t.lobby = &next
	snap := MatchSnapshot{State: next.Clone()}
	t.mu.Unlock()

	DebugLog("Table.ToggleReady", "Human ready=%v", ready)
	t.publish(snap)
	return nil
}

// StartGame assigns roles to the staged roster and hands it to a new Match.
// The roster must match the role multiset in size and everyone must be ready.
func (t *Table) StartGame() error {
	t.mu.Lock()
	if t.lobby == nil {
		started := t.match != nil
		t.mu.Unlock()
		if started {
			return fmt.Errorf("%w: match already started", ErrWrongPhase)
		}
		return ErrNoMatch
	}
	lobby := t.lobby.Clone()

	if len(lobby.Participants) != len(InitialRoles) {
		t.mu.Unlock()
		log.Printf("Cannot start: %d participants for %d roles", len(lobby.Participants), len(InitialRoles))
		return fmt.Errorf("%w: %d participants, %d roles", ErrRoleCountMismatch, len(lobby.Participants), len(InitialRoles))
	}
	for _, p := range lobby.Participants {
		if !p.Ready {
			t.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotReady, p.Name)
		}
	}

	participants, err := assignRoles(t.rng, lobby.Participants, InitialRoles)
	if err != nil {
		t.mu.Unlock()
		return err
	}

	state := lobby
	state.MatchID = uuid.NewString()
	// Lobby notices were written before the match had an id
	for i := range state.Log {
		state.Log[i].ID = logEntryID(state.MatchID, i)
	}
	state.Participants = participants
	state.Phase = PhaseRoleReveal
	state.Round = 1

	// Each match gets its own stream so the table's rng is never shared
	matchRng := mrand.New(mrand.NewPCG(t.rng.Uint64(), t.rng.Uint64()))
	match := newMatch(state, MatchOptions{
		Decider:          t.opts.Decider,
		Narrator:         t.opts.Narrator,
		NarrationTimeout: t.opts.NarrationTimeout,
		RevealMinDelay:   t.opts.RevealMinDelay,
		RevealMaxDelay:   t.opts.RevealMaxDelay,
		MaxDialogueLines: t.opts.MaxDialogueLines,
		Rand:             matchRng,
	}, t.publishers...)

	t.match = match
	t.lobby = nil
	t.mu.Unlock()

	log.Printf("Match %s started", state.MatchID)
	DebugLog("Table.StartGame", "Roles assigned: %s", describeRoles(participants))
	match.announce()
	return nil
}

// NewGame re-stages the previous lobby mode once the match is over
func (t *Table) NewGame() error {
	t.mu.Lock()
	match, mode := t.match, t.mode
	t.mu.Unlock()

	if match == nil {
		return ErrNoMatch
	}
	if match.State().Phase != PhaseGameOver {
		return fmt.Errorf("%w: match still running", ErrWrongPhase)
	}
	if mode == "" {
		mode = LobbyLocal
	}
	return t.OpenLobby(mode)
}

// Match returns the running match, or ErrNoMatch
func (t *Table) Match() (*Match, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.match == nil {
		return nil, ErrNoMatch
	}
	return t.match, nil
}

func (t *Table) publish(snap MatchSnapshot) {
	for _, p := range t.publishers {
		p.Publish(snap)
	}
}

// generateSectorCode returns an uppercase base36 lobby code using crypto/rand
func generateSectorCode() (string, error) {
	code := make([]byte, sectorCodeLen)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(sectorCodeChars))))
		if err != nil {
			return "", err
		}
		code[i] = sectorCodeChars[n.Int64()]
	}
	return string(code), nil
}

func describeRoles(participants []Participant) string {
	parts := make([]string, 0, len(participants))
	for _, p := range participants {
		parts = append(parts, fmt.Sprintf("%s=%s", p.Name, p.Role))
	}
	return strings.Join(parts, ", ")
}

func handleWSOpenLobby(t *Table, client *Client, msg WSMessage) {
	mode := LobbyMode(msg.Mode)
	if mode == "" {
		mode = LobbyLocal
	}
	if err := t.OpenLobby(mode); err != nil {
		logError("handleWSOpenLobby", err)
		sendErrorToast(client, "Cannot open lobby: "+err.Error())
	}
}

func handleWSToggleReady(t *Table, client *Client) {
	if err := t.ToggleReady(); err != nil {
		logError("handleWSToggleReady", err)
		sendErrorToast(client, "Cannot change ready state")
	}
}

func handleWSStartGame(t *Table, client *Client) {
	err := t.StartGame()
	switch {
	case err == nil:
	case errors.Is(err, ErrRoleCountMismatch):
		sendErrorToast(client, "Role count must match participant count")
	case errors.Is(err, ErrNotReady):
		sendErrorToast(client, "Waiting for every participant to be ready")
	default:
		logError("handleWSStartGame", err)
		sendErrorToast(client, "Failed to start game")
	}
}

func handleWSNewGame(t *Table, client *Client) {
	if err := t.NewGame(); err != nil {
		logError("handleWSNewGame", err)
		sendErrorToast(client, "Cannot start a new game yet")
	}
}
