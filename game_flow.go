package main

import (
	"fmt"
	"log"
	"strings"
)

// Action is an input to the phase machine
type Action interface {
	actionName() string
}

// ActionAdvance asks for the next phase transition
type ActionAdvance struct{}

// ActionSelect is the human's target selection
type ActionSelect struct {
	TargetID int
}

// ActionNarrate appends a finished batch of dialogue during Discussion
type ActionNarrate struct {
	Lines []DialogueLine
}

func (ActionAdvance) actionName() string { return "advance" }
func (ActionSelect) actionName() string { return "select" }
func (ActionNarrate) actionName() string { return "narrate" }

const (
	nightNotice      = "City power grid cycling... NIGHT PHASE ACTIVE."
	debateNotice     = "NEURAL DEBATE MODE ENGAGED."
	voteNotice       = "CITIZEN VOTE PROTOCOL INITIATED."
	noDialogueNotice = "No dialogue intercepted this cycle."
)

// Reduce applies one action to state and returns the replacement state.
// The input state is never modified.
func Reduce(state GameState, action Action, decider Decider) (GameState, error) {
	switch a := action.(type) {
	case ActionAdvance:
		return advance(state, decider)
	case ActionSelect:
		return selectTarget(state, a.TargetID)
	case ActionNarrate:
		return narrate(state, a.Lines)
	default:
		return state, fmt.Errorf("unknown action %T", action)
	}
}

func advance(state GameState, decider Decider) (GameState, error) {
	next := state.Clone()

	switch state.Phase {
	case PhaseRoleReveal:
		next.RolesRevealed = true
		next.Phase = PhaseNightAction
		next.appendLog(LogSystem, nightNotice, "")

	case PhaseNightAction:
		var outcome NightOutcome
		next, outcome = resolveNight(state, decider)
		next.Selection = nil
		narrateNight(&next, outcome)
		next.Phase = PhaseDaySummary
		if outcome.Eliminated != nil {
			if winner, over := checkWinConditions(next.Participants); over {
				endGame(&next, winner)
			}
		}

	case PhaseDaySummary:
		next.Phase = PhaseDiscussion
		next.appendLog(LogSystem, debateNotice, "")

	case PhaseDiscussion:
		next.Phase = PhaseVoting
		next.appendLog(LogSystem, voteNotice, "")

	case PhaseVoting:
		var outcome VoteOutcome
		next, outcome = resolveVotes(state, decider)
		narrateVote(&next, outcome)
		next.Phase = PhaseElimination

	case PhaseElimination:
		if winner, over := checkWinConditions(next.Participants); over {
			endGame(&next, winner)
			break
		}
		transitionToNight(&next)

	case PhaseGameOver:
		return state, ErrGameOver

	default:
		return state, fmt.Errorf("%w: cannot advance from %s", ErrWrongPhase, state.Phase)
	}

	DebugLog("advance", "Round %d: %s -> %s", state.Round, state.Phase, next.Phase)
	return next, nil
}

// selectTarget records the human's pick. Only NightAction and Voting accept one;
// every other phase ignores it.
func selectTarget(state GameState, targetID int) (GameState, error) {
	if state.Phase == PhaseGameOver {
		return state, ErrGameOver
	}
	if state.Phase != PhaseNightAction && state.Phase != PhaseVoting {
		DebugLog("selectTarget", "Ignoring selection of %d during %s", targetID, state.Phase)
		return state, nil
	}

	next := state.Clone()
	human := next.human()
	if human == nil || !human.Alive {
		return state, nil
	}
	target := next.participant(targetID)
	if target == nil || !target.Alive || target.ID == human.ID {
		return state, fmt.Errorf("%w: participant %d", ErrInvalidTarget, targetID)
	}

	next.Selection = intPtr(targetID)
	if state.Phase == PhaseNightAction {
		switch human.Role {
		case RoleMafia:
			next.Night.Eliminate = intPtr(targetID)
		case RoleDoctor:
			next.Night.Protect = intPtr(targetID)
		case RoleDetective:
			next.Night.Investigate = intPtr(targetID)
		}
	}
	return next, nil
}

// narrate appends dialogue lines attributed to living automated participants.
// Lines from anyone else are dropped.
func narrate(state GameState, lines []DialogueLine) (GameState, error) {
	if state.Phase == PhaseGameOver {
		return state, ErrGameOver
	}
	if state.Phase != PhaseDiscussion {
		return state, fmt.Errorf("%w: narration during %s", ErrWrongPhase, state.Phase)
	}
	next := state.Clone()
	if len(lines) == 0 {
		next.appendLog(LogInfo, noDialogueNotice, "")
		return next, nil
	}
	for _, line := range lines {
		p := next.participant(line.ParticipantID)
		text := strings.TrimSpace(line.Text)
		if p == nil || !p.Alive || p.Human || text == "" {
			DebugLog("narrate", "Dropping line for participant %d", line.ParticipantID)
			continue
		}
		next.appendLog(LogChat, text, p.Name)
	}
	return next, nil
}

// transitionToNight moves the match to the next night
func transitionToNight(state *GameState) {
	log.Printf("Day %d ended, transitioning to night %d", state.Round, state.Round+1)
	state.Round++
	state.Phase = PhaseNightAction
	state.Night = NightActions{}
	state.appendLog(LogSystem, nightNotice, "")
}

// checkWinConditions decides whether the survivors end the match.
// Mafia extinction is checked before parity so 0 vs 0 is a Town win.
func checkWinConditions(participants []Participant) (Faction, bool) {
	var mafiaCount, townCount int
	for _, p := range participants {
		if !p.Alive {
			continue
		}
		if p.Faction == FactionMafia {
			mafiaCount++
		} else {
			townCount++
		}
	}

	log.Printf("Win check: %d mafia, %d town alive", mafiaCount, townCount)

	if mafiaCount == 0 {
		return FactionTown, true
	}
	if mafiaCount >= townCount {
		return FactionMafia, true
	}
	return "", false
}

// endGame marks the match as finished with a winner
func endGame(state *GameState, winner Faction) {
	state.Phase = PhaseGameOver
	state.Winner = &winner
	state.Night = NightActions{}
	state.Selection = nil
	state.appendLog(LogSystem, fmt.Sprintf("GAME OVER. %s PREVAILS.", strings.ToUpper(string(winner))), "")
	log.Printf("Match %s finished, winner: %s", state.MatchID, winner)
}
