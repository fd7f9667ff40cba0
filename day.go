package main

import (
	"log"
	"sort"
)

// Ballot is one participant's elimination vote
type Ballot struct {
	VoterID  int
	TargetID int
}

// VoteCount is one row of the tally
type VoteCount struct {
	TargetID int
	Votes    int
}

// VoteOutcome is the result of one round of voting
type VoteOutcome struct {
	Ballots  []Ballot
	Tally    []VoteCount
	Ejected  *int
	TopVotes int
}

// collectBallots gathers the human's vote (if any) followed by one vote per
// living automated participant, in seat order. Self-votes are allowed.
func collectBallots(state GameState, decider Decider) []Ballot {
	living := state.living()
	var ballots []Ballot

	if h := state.human(); h != nil && h.Alive && state.Selection != nil {
		if t := state.participant(*state.Selection); t != nil && t.Alive {
			ballots = append(ballots, Ballot{VoterID: h.ID, TargetID: t.ID})
		}
	}

	for _, voter := range living {
		if voter.Human {
			continue
		}
		if id, ok := decider.ChooseVoteTarget(voter, living); ok {
			ballots = append(ballots, Ballot{VoterID: voter.ID, TargetID: id})
		}
	}
	return ballots
}

// tallyVotes counts ballots per target, ordered by ascending participant id
func tallyVotes(ballots []Ballot) []VoteCount {
	counts := make(map[int]int)
	for _, b := range ballots {
		counts[b.TargetID]++
	}
	tally := make([]VoteCount, 0, len(counts))
	for id, n := range counts {
		tally = append(tally, VoteCount{TargetID: id, Votes: n})
	}
	sort.Slice(tally, func(i, j int) bool { return tally[i].TargetID < tally[j].TargetID })
	return tally
}

// leadingTarget walks the tally once. The first entry to reach the maximum keeps
// the lead unless a strictly greater count appears later. An empty tally has no leader.
func leadingTarget(tally []VoteCount) (int, int, bool) {
	var leader, top int
	found := false
	for _, vc := range tally {
		if !found || vc.Votes > top {
			leader, top, found = vc.TargetID, vc.Votes, true
		}
	}
	return leader, top, found
}

// resolveVotes runs one round of voting and ejects the leader, if any
func resolveVotes(state GameState, decider Decider) (GameState, VoteOutcome) {
	next := state.Clone()
	outcome := VoteOutcome{Ballots: collectBallots(state, decider)}
	outcome.Tally = tallyVotes(outcome.Ballots)

	log.Printf("Day %d vote: %d ballots over %d targets", state.Round, len(outcome.Ballots), len(outcome.Tally))

	leader, top, ok := leadingTarget(outcome.Tally)
	if !ok {
		log.Printf("Day %d vote: empty tally, no ejection", state.Round)
		next.LastEliminated = nil
		next.Selection = nil
		return next, outcome
	}

	outcome.TopVotes = top
	next.LastEliminated = nil
	if next.eliminate(leader) {
		outcome.Ejected = intPtr(leader)
		DebugLog("resolveVotes", "Participant %d ejected with %d votes", leader, top)
	}
	next.Selection = nil
	return next, outcome
}

// narrateVote appends the ejection notice
func narrateVote(state *GameState, outcome VoteOutcome) {
	switch {
	case len(outcome.Tally) == 0:
		state.appendLog(LogInfo, "No ejection. The vote was empty.", "")
		return
	case outcome.Ejected == nil:
		// A decider voted for someone who is not a living participant
		state.appendLog(LogInfo, "No ejection. The vote fell on no living target.", "")
		return
	}
	if p := state.participant(*outcome.Ejected); p != nil {
		state.appendLog(LogInfo, p.Name+" ejected.", "")
	}
}
