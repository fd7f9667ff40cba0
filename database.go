package main

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
)

var db *sqlx.DB

type matchRow struct {
	MatchID string `db:"match_id"`
	Phase   string `db:"phase"`
	Round   int    `db:"round"`
	Winner  string `db:"winner"`
}

func initDB() error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS game (
		match_id TEXT PRIMARY KEY,
		phase TEXT NOT NULL DEFAULT 'Lobby',
		round INTEGER NOT NULL DEFAULT 1,
		winner TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS participant (
		match_id TEXT NOT NULL,
		participant_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		faction TEXT NOT NULL,
		is_alive INTEGER NOT NULL DEFAULT 1,
		is_human INTEGER NOT NULL DEFAULT 0,
		suspicion REAL NOT NULL DEFAULT 0,
		is_ready INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (match_id) REFERENCES game(match_id),
		UNIQUE(match_id, participant_id)
	);
	CREATE TABLE IF NOT EXISTS round_log (
		match_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		entry_id TEXT NOT NULL UNIQUE,
		round INTEGER NOT NULL,
		kind TEXT NOT NULL,
		text TEXT NOT NULL,
		sender TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (match_id) REFERENCES game(match_id),
		UNIQUE(match_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_round_log_lookup ON round_log(match_id, round);
	`
	_, err := db.Exec(schema)
	if err != nil {
		log.Printf("initDB error: %v", err)
		return err
	}
	log.Printf("Database initialized successfully")
	return nil
}

// saveState writes one snapshot of the match in a single transaction.
// Log entries are append-only, so only entries past the stored count are inserted.
func saveState(state GameState) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	winner := ""
	if state.Winner != nil {
		winner = string(*state.Winner)
	}
	_, err = tx.Exec(`
		INSERT INTO game (match_id, phase, round, winner) VALUES (?, ?, ?, ?)
		ON CONFLICT(match_id) DO UPDATE SET phase = excluded.phase, round = excluded.round, winner = excluded.winner`,
		state.MatchID, string(state.Phase), state.Round, winner)
	if err != nil {
		return fmt.Errorf("upsert match: %w", err)
	}

	for _, p := range state.Participants {
		_, err = tx.Exec(`
			INSERT INTO participant (match_id, participant_id, name, role, faction, is_alive, is_human, suspicion, is_ready)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(match_id, participant_id) DO UPDATE SET
				name = excluded.name, role = excluded.role, faction = excluded.faction,
				is_alive = excluded.is_alive, suspicion = excluded.suspicion, is_ready = excluded.is_ready`,
			state.MatchID, p.ID, p.Name, string(p.Role), string(p.Faction), p.Alive, p.Human, p.Suspicion, p.Ready)
		if err != nil {
			return fmt.Errorf("upsert participant %d: %w", p.ID, err)
		}
	}

	var stored int
	if err := tx.Get(&stored, "SELECT COUNT(*) FROM round_log WHERE match_id = ?", state.MatchID); err != nil {
		return fmt.Errorf("count log: %w", err)
	}
	for seq := stored; seq < len(state.Log); seq++ {
		e := state.Log[seq]
		_, err = tx.Exec(`
			INSERT INTO round_log (match_id, seq, entry_id, round, kind, text, sender)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			state.MatchID, seq, e.ID, e.Round, string(e.Kind), e.Text, e.Sender)
		if err != nil {
			return fmt.Errorf("insert log entry %d: %w", seq, err)
		}
	}

	return tx.Commit()
}

// loadState reads a match back from the database
func loadState(matchID string) (GameState, error) {
	var m matchRow
	if err := db.Get(&m, "SELECT match_id, phase, round, winner FROM game WHERE match_id = ?", matchID); err != nil {
		return GameState{}, fmt.Errorf("get match %s: %w", matchID, err)
	}

	state := GameState{MatchID: m.MatchID, Phase: Phase(m.Phase), Round: m.Round}
	if m.Winner != "" {
		w := Faction(m.Winner)
		state.Winner = &w
	}

	err := db.Select(&state.Participants, `
		SELECT participant_id, name, role, faction, is_alive, is_human, suspicion, is_ready
		FROM participant
		WHERE match_id = ?
		ORDER BY participant_id`, matchID)
	if err != nil {
		return GameState{}, fmt.Errorf("select participants: %w", err)
	}

	entries, err := loadLog(matchID)
	if err != nil {
		return GameState{}, err
	}
	state.Log = entries
	return state, nil
}

// loadLog returns the transcript of a match in append order
func loadLog(matchID string) ([]LogEntry, error) {
	var entries []LogEntry
	err := db.Select(&entries, `
		SELECT entry_id, round, kind, text, sender
		FROM round_log
		WHERE match_id = ?
		ORDER BY seq ASC`, matchID)
	if err != nil {
		return nil, fmt.Errorf("select round log: %w", err)
	}
	return entries, nil
}

// storePublisher records every published snapshot
type storePublisher struct{}

func (storePublisher) Publish(snap MatchSnapshot) {
	state := snap.State
	if db == nil || state.MatchID == "" {
		return
	}
	if err := saveState(state); err != nil {
		logError("storePublisher: saveState", err)
		return
	}
	LogDBState(fmt.Sprintf("after %s round %d", state.Phase, state.Round))
}
