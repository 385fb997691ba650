// Package tournament realizes schedules and drives matches to completion.
//
// The schedule is built eagerly from the configuration so the seed of every
// match is inspectable before anything runs. Bracket events are the one
// exception: later elimination rounds depend on winners, so their matches
// are appended round by round as results arrive.
package tournament

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/tourneylab/tourney/game"
	"github.com/tourneylab/tourney/seed"
)

// Event formats.
const (
	FormatRoundRobin = "round_robin"
	FormatBracket    = "bracket"
	FormatExplicit   = "explicit"
)

// Event describes one scheduled game type.
type Event struct {
	Name   string
	Format string
	Rounds int
	Weight float64

	// Participants are agent names. Sorted before matchup enumeration so
	// the realized schedule is independent of configuration map order.
	Participants []string

	// TableSize is the seat count per match. Two produces pairwise
	// matchups under round_robin; larger sizes seat every participant at
	// one table per round.
	TableSize int

	// Matchups lists explicit seatings, used when Format is "explicit".
	Matchups [][]string

	// NewEngine constructs a fresh engine for one match. The runner calls
	// Reset with the match seed before the first turn.
	NewEngine func() (game.Engine, error)
}

// Match is one scheduled pairing with its derived seed.
type Match struct {
	ID    string
	Event string
	Round int
	Index int
	Seed  int64

	// Agents in seat order: Agents[i] plays the engine's i-th seat.
	Agents []string
}

// MatchID derives the stable identifier for a pairing. The hash covers the
// event, the round, and the sorted participant set, so seat rotation does
// not change the identity of a matchup.
func MatchID(event string, round int, agents []string) string {
	sorted := append([]string(nil), agents...)
	sort.Strings(sorted)
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", event, round, strings.Join(sorted, ","))))
	return event + "-" + hex.EncodeToString(h[:4])
}

func validateEvent(ev Event) error {
	switch ev.Format {
	case FormatRoundRobin, FormatBracket, FormatExplicit:
	default:
		return fmt.Errorf("event %s: unknown format %q", ev.Name, ev.Format)
	}
	if strings.Contains(ev.Name, "-") {
		return fmt.Errorf("event %s: event names must not contain %q", ev.Name, "-")
	}
	if ev.NewEngine == nil {
		return fmt.Errorf("event %s: no engine constructor", ev.Name)
	}
	if ev.Format == FormatExplicit {
		if len(ev.Matchups) == 0 {
			return fmt.Errorf("event %s: explicit format needs matchups", ev.Name)
		}
		return nil
	}
	if len(ev.Participants) < 2 {
		return fmt.Errorf("event %s: needs at least two participants", ev.Name)
	}
	if ev.TableSize > 2 && len(ev.Participants) != ev.TableSize {
		return fmt.Errorf("event %s: table size %d does not seat %d participants",
			ev.Name, ev.TableSize, len(ev.Participants))
	}
	return nil
}

// BuildSchedule enumerates every match of the non-bracket events. Events
// are processed in name order and participants in sorted order, so the
// realized schedule depends only on the configuration content.
func BuildSchedule(mgr *seed.Manager, events []Event) ([]Match, error) {
	sorted := append([]Event(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var schedule []Match
	for _, ev := range sorted {
		if err := validateEvent(ev); err != nil {
			return nil, err
		}
		if ev.Format == FormatBracket {
			continue
		}
		rounds := ev.Rounds
		if rounds <= 0 {
			rounds = 1
		}
		for round := 1; round <= rounds; round++ {
			for idx, agents := range matchupsFor(ev, round) {
				schedule = append(schedule, Match{
					ID:     MatchID(ev.Name, round, agents),
					Event:  ev.Name,
					Round:  round,
					Index:  idx,
					Seed:   mgr.MatchSeed(ev.Name, round, idx),
					Agents: agents,
				})
			}
		}
	}
	return schedule, nil
}

func matchupsFor(ev Event, round int) [][]string {
	if ev.Format == FormatExplicit {
		return ev.Matchups
	}
	participants := append([]string(nil), ev.Participants...)
	sort.Strings(participants)

	if ev.TableSize > 2 {
		// One full table per round; seats rotate so position advantage
		// averages out across rounds.
		rotated := rotate(participants, round-1)
		return [][]string{rotated}
	}

	var matchups [][]string
	for i := 0; i < len(participants); i++ {
		for j := i + 1; j < len(participants); j++ {
			pair := []string{participants[i], participants[j]}
			if round%2 == 0 {
				pair[0], pair[1] = pair[1], pair[0]
			}
			matchups = append(matchups, pair)
		}
	}
	return matchups
}

func rotate(s []string, n int) []string {
	if len(s) == 0 {
		return s
	}
	n %= len(s)
	out := make([]string, 0, len(s))
	out = append(out, s[n:]...)
	out = append(out, s[:n]...)
	return out
}

// BracketRound pairs the surviving players of an elimination round in
// seeding order. With an odd field the last player receives a bye and is
// returned in byes.
func BracketRound(mgr *seed.Manager, ev Event, round int, players []string) (matches []Match, byes []string) {
	for i := 0; i+1 < len(players); i += 2 {
		agents := []string{players[i], players[i+1]}
		matches = append(matches, Match{
			ID:     MatchID(ev.Name, round, agents),
			Event:  ev.Name,
			Round:  round,
			Index:  i / 2,
			Seed:   mgr.MatchSeed(ev.Name, round, i/2),
			Agents: agents,
		})
	}
	if len(players)%2 == 1 {
		byes = append(byes, players[len(players)-1])
	}
	return matches, byes
}
