package main

import (
	"math/rand/v2"
	"sync"
)

// Decider makes the choices of automated participants.
// Each method gets the candidate pool and returns a target id, or false when
// it declines (an empty pool always declines).
type Decider interface {
	ChooseEliminateTarget(candidates []Participant) (int, bool)
	ChooseProtectTarget(doctor Participant, candidates []Participant) (int, bool)
	ChooseInvestigateTarget(detective Participant, candidates []Participant) (int, bool)
	ChooseVoteTarget(voter Participant, candidates []Participant) (int, bool)
}

// randomDecider picks uniformly at random from the pool it is given
type randomDecider struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newRandomDecider(rng *rand.Rand) *randomDecider {
	return &randomDecider{rng: rng}
}

func (d *randomDecider) pick(candidates []Participant) (int, bool) {
	if len(candidates) == 0 {
		return 0, false
	}
	d.mu.Lock()
	i := d.rng.IntN(len(candidates))
	d.mu.Unlock()
	return candidates[i].ID, true
}

func (d *randomDecider) ChooseEliminateTarget(candidates []Participant) (int, bool) {
	return d.pick(candidates)
}

func (d *randomDecider) ChooseProtectTarget(_ Participant, candidates []Participant) (int, bool) {
	return d.pick(candidates)
}

func (d *randomDecider) ChooseInvestigateTarget(_ Participant, candidates []Participant) (int, bool) {
	return d.pick(candidates)
}

func (d *randomDecider) ChooseVoteTarget(_ Participant, candidates []Participant) (int, bool) {
	return d.pick(candidates)
}
