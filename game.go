package main

import (
	"errors"
	"strconv"

	"github.com/google/uuid"
)

// Phase is a step of the round cycle
type Phase string

const (
	PhaseLobby       Phase = "Lobby"
	PhaseRoleReveal  Phase = "RoleReveal"
	PhaseNightAction Phase = "NightAction"
	PhaseDaySummary  Phase = "DaySummary"
	PhaseDiscussion  Phase = "Discussion"
	PhaseVoting      Phase = "Voting"
	PhaseElimination Phase = "Elimination"
	PhaseGameOver    Phase = "GameOver"
)

// Participant is one seat at the table
type Participant struct {
	ID        int     `json:"id" db:"participant_id"`
	Name      string  `json:"name" db:"name"`
	Role      Role    `json:"role" db:"role"`
	Faction   Faction `json:"faction" db:"faction"`
	Alive     bool    `json:"alive" db:"is_alive"`
	Human     bool    `json:"human" db:"is_human"`
	Suspicion float64 `json:"suspicion" db:"suspicion"`
	Ready     bool    `json:"ready" db:"is_ready"`
}

// NightActions holds at most one target per night power.
// A nil target means nobody has chosen yet.
type NightActions struct {
	Eliminate   *int `json:"eliminate,omitempty"`
	Protect     *int `json:"protect,omitempty"`
	Investigate *int `json:"investigate,omitempty"`
}

// LogKind tags a RoundLog entry
type LogKind string

const (
	LogInfo          LogKind = "info"
	LogChat          LogKind = "chat"
	LogSystem        LogKind = "system"
	LogNightReport   LogKind = "night-report"
	LogSave          LogKind = "save"
	LogInvestigation LogKind = "scan"
)

// LogEntry is one line of the match transcript
type LogEntry struct {
	ID     string  `json:"id" db:"entry_id"`
	Round  int     `json:"round" db:"round"`
	Kind   LogKind `json:"kind" db:"kind"`
	Text   string  `json:"text" db:"text"`
	Sender string  `json:"sender,omitempty" db:"sender"`
}

// InvestigationResult is what the Detective learned during the night.
// It is kept on the state but never delivered to the investigator.
type InvestigationResult struct {
	Round       int  `json:"round"`
	DetectiveID int  `json:"detective_id"`
	TargetID    int  `json:"target_id"`
	IsMafia     bool `json:"is_mafia"`
}

// GameState is the aggregate root of one match.
// Reducer steps never mutate a GameState in place; they work on a Clone.
type GameState struct {
	MatchID        string               `json:"match_id"`
	Participants   []Participant        `json:"participants"`
	Phase          Phase                `json:"phase"`
	Round          int                  `json:"round"`
	Night          NightActions         `json:"night"`
	Log            []LogEntry           `json:"log"`
	Winner         *Faction             `json:"winner,omitempty"`
	LastEliminated *int                 `json:"last_eliminated,omitempty"`
	Selection      *int                 `json:"selection,omitempty"`
	Investigation  *InvestigationResult `json:"-"`
	RolesRevealed  bool                 `json:"roles_revealed"`
	Multiplayer    bool                 `json:"multiplayer"`
	LobbyCode      string               `json:"lobby_code,omitempty"`
}

var (
	ErrGameOver      = errors.New("game is over")
	ErrInvalidTarget = errors.New("invalid target")
	ErrWrongPhase    = errors.New("action not allowed in this phase")
)

// Clone returns a deep copy whose slices and pointers are not shared with s
func (s GameState) Clone() GameState {
	c := s
	c.Participants = make([]Participant, len(s.Participants))
	copy(c.Participants, s.Participants)
	c.Log = make([]LogEntry, len(s.Log))
	copy(c.Log, s.Log)
	c.Night = NightActions{
		Eliminate:   cloneID(s.Night.Eliminate),
		Protect:     cloneID(s.Night.Protect),
		Investigate: cloneID(s.Night.Investigate),
	}
	c.LastEliminated = cloneID(s.LastEliminated)
	c.Selection = cloneID(s.Selection)
	if s.Winner != nil {
		w := *s.Winner
		c.Winner = &w
	}
	if s.Investigation != nil {
		inv := *s.Investigation
		c.Investigation = &inv
	}
	return c
}

func cloneID(id *int) *int {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func intPtr(v int) *int {
	return &v
}

// logNamespace scopes log entry ids so they never collide with other uuids
var logNamespace = uuid.MustParse("6f1c2a9e-4b7d-4e35-9a60-3d8f5c2e7b14")

// logEntryID is derived from the match and the entry's position, so replaying
// the same match yields the same ids.
func logEntryID(matchID string, seq int) string {
	return uuid.NewSHA1(logNamespace, []byte(matchID+"/"+strconv.Itoa(seq))).String()
}

// appendLog adds an entry to the transcript. The log is append-only.
func (s *GameState) appendLog(kind LogKind, text, sender string) {
	s.Log = append(s.Log, LogEntry{
		ID:     logEntryID(s.MatchID, len(s.Log)),
		Round:  s.Round,
		Kind:   kind,
		Text:   text,
		Sender: sender,
	})
}

// participant returns a pointer into the state's own participant slice
func (s *GameState) participant(id int) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i]
		}
	}
	return nil
}

// human returns the human seat, or nil if the roster has none
func (s *GameState) human() *Participant {
	for i := range s.Participants {
		if s.Participants[i].Human {
			return &s.Participants[i]
		}
	}
	return nil
}

// living returns a copy of the participants still alive, in seat order
func (s GameState) living() []Participant {
	var alive []Participant
	for _, p := range s.Participants {
		if p.Alive {
			alive = append(alive, p)
		}
	}
	return alive
}

// livingWithRole returns the first living participant holding role
func (s GameState) livingWithRole(role Role) (Participant, bool) {
	for _, p := range s.Participants {
		if p.Alive && p.Role == role {
			return p, true
		}
	}
	return Participant{}, false
}

// eliminate clears liveness and resets suspicion
func (s *GameState) eliminate(id int) bool {
	p := s.participant(id)
	if p == nil || !p.Alive {
		return false
	}
	p.Alive = false
	p.Suspicion = 0
	s.LastEliminated = intPtr(id)
	return true
}

func clampSuspicion(v float64) float64 {
	return min(100, max(0, v))
}
