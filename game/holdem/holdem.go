// Package holdem implements pot-limit Texas Hold'em for two to nine seats.
//
// The engine satisfies the game.Engine contract: deterministic under a
// fixed seed, panics on internal contract breaches, and conserves chips
// across every settlement path including forfeits and eliminations.
package holdem

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/tourneylab/tourney/game"
)

const version = "holdem-1.0"

const (
	streetPreflop  = "preflop"
	streetFlop     = "flop"
	streetTurn     = "turn"
	streetRiver    = "river"
	streetComplete = "complete"
)

var actionSchema = []byte(`{
	"type": "object",
	"properties": {
		"reasoning": {"type": "string"},
		"action": {"type": "string", "enum": ["fold", "call", "raise"]},
		"amount": {"type": "integer", "minimum": 0}
	},
	"required": ["action"]
}`)

// BlindLevel raises the blinds starting at a given hand number.
type BlindLevel struct {
	Hand  int
	Small int
	Big   int
}

// Options configures one match. Zero values select the defaults.
type Options struct {
	Players       int // seats, 2 to 9; default 2
	HandsPerMatch int // default 100
	StartingStack int // default 200
	SmallBlind    int // default 1
	BigBlind      int // default 2
	BlindSchedule []BlindLevel // optional escalation, ascending by Hand
}

// Holdem is one match of pot-limit hold'em. Not safe for concurrent use.
type Holdem struct {
	opts  Options
	seats []string
	rng   *rand.Rand

	stacks     map[string]int
	dead       map[string]bool
	handNum    int
	terminal   bool
	highlights []int
	potHistory []int

	// Per-hand state, rebuilt by startHand.
	deck            []string
	board           []string
	hole            map[string][]string
	dealt           map[string]bool
	folded          map[string]bool
	allIn           map[string]bool
	invested        map[string]int
	streetBet       map[string]int
	street          string
	currentBet      int
	lastRaise       int
	acted           map[string]bool
	actorIdx        int
	postflopStart   int
	smallBlind      int
	bigBlind        int
	lastAggressor   string
	handStartStacks map[string]int
}

var _ game.Engine = (*Holdem)(nil)

// New builds an engine for the given options. Call Reset before play.
func New(opts Options) (*Holdem, error) {
	if opts.Players == 0 {
		opts.Players = 2
	}
	if opts.Players < 2 || opts.Players > 9 {
		return nil, fmt.Errorf("holdem: players must be 2 to 9, got %d", opts.Players)
	}
	if opts.HandsPerMatch <= 0 {
		opts.HandsPerMatch = 100
	}
	if opts.StartingStack <= 0 {
		opts.StartingStack = 200
	}
	if opts.SmallBlind <= 0 {
		opts.SmallBlind = 1
	}
	if opts.BigBlind <= 0 {
		opts.BigBlind = 2 * opts.SmallBlind
	}
	seats := make([]string, opts.Players)
	for i := range seats {
		seats[i] = "player_" + string(rune('a'+i))
	}
	return &Holdem{opts: opts, seats: seats}, nil
}

// Reset starts a fresh match seeded for deterministic shuffles.
func (h *Holdem) Reset(seed int64) {
	h.rng = rand.New(rand.NewSource(seed))
	h.stacks = make(map[string]int, len(h.seats))
	for _, s := range h.seats {
		h.stacks[s] = h.opts.StartingStack
	}
	h.dead = make(map[string]bool)
	h.handNum = 0
	h.terminal = false
	h.highlights = nil
	h.potHistory = nil
	h.startHand()
}

// Seats returns the seat identifiers in play order.
func (h *Holdem) Seats() []string { return h.seats }

// Version identifies the rules implementation.
func (h *Holdem) Version() string { return version }

// HandNumber returns the 1-based current hand.
func (h *Holdem) HandNumber() int { return h.handNum }

// Phase returns the current street.
func (h *Holdem) Phase() string { return h.street }

// IsTerminal reports whether the match is over.
func (h *Holdem) IsTerminal() bool { return h.terminal }

// ActionSchema returns the JSON Schema for poker actions.
func (h *Holdem) ActionSchema() []byte { return actionSchema }

// HighlightHands lists hands flagged for replay, ascending.
func (h *Holdem) HighlightHands() []int { return h.highlights }

// CurrentPlayer returns the seat to act, or "" once terminal.
func (h *Holdem) CurrentPlayer() string {
	if h.terminal {
		return ""
	}
	return h.seats[h.actorIdx]
}

// Scores returns each seat's chips including chips committed to the current
// pot, so the total is conserved even mid-hand.
func (h *Holdem) Scores() map[string]float64 {
	out := make(map[string]float64, len(h.seats))
	for _, s := range h.seats {
		out[s] = float64(h.stacks[s] + h.invested[s])
	}
	return out
}

// StateSnapshot reports the table state for telemetry.
func (h *Holdem) StateSnapshot() map[string]any {
	stacks := make(map[string]any, len(h.seats))
	invested := make(map[string]any, len(h.seats))
	for _, s := range h.seats {
		stacks[s] = h.stacks[s]
		invested[s] = h.invested[s]
	}
	return map[string]any{
		"hand_number": h.handNum,
		"street":      h.street,
		"board":       append([]string(nil), h.board...),
		"pot":         h.potTotal(),
		"current_bet": h.currentBet,
		"stacks":      stacks,
		"invested":    invested,
	}
}

// --- hand lifecycle ---

func (h *Holdem) startHand() {
	h.handNum++
	if h.handNum > h.opts.HandsPerMatch || h.playableCount() < 2 {
		h.terminal = true
		h.street = streetComplete
		h.handNum--
		return
	}

	h.smallBlind, h.bigBlind = h.opts.SmallBlind, h.opts.BigBlind
	for _, lvl := range h.opts.BlindSchedule {
		if lvl.Hand <= h.handNum {
			h.smallBlind, h.bigBlind = lvl.Small, lvl.Big
		}
	}

	h.board = nil
	h.hole = make(map[string][]string)
	h.dealt = make(map[string]bool)
	h.folded = make(map[string]bool)
	h.allIn = make(map[string]bool)
	h.invested = make(map[string]int)
	h.streetBet = make(map[string]int)
	h.acted = make(map[string]bool)
	h.street = streetPreflop
	h.lastAggressor = ""
	h.handStartStacks = make(map[string]int, len(h.seats))
	for _, s := range h.seats {
		h.handStartStacks[s] = h.stacks[s]
	}

	// Seats with chips rotate blinds; eliminated seats still post and are
	// auto-folded until broke, but are never dealt in.
	ring := h.chipRing()
	dpos := (h.handNum - 1) % len(ring)
	var sbIdx, bbIdx, firstIdx int
	if len(ring) == 2 {
		// Heads-up: the dealer posts the small blind and opens preflop.
		sbIdx = ring[dpos]
		bbIdx = ring[(dpos+1)%2]
		firstIdx = sbIdx
		h.postflopStart = bbIdx
	} else {
		sbIdx = ring[(dpos+1)%len(ring)]
		bbIdx = ring[(dpos+2)%len(ring)]
		firstIdx = ring[(dpos+3)%len(ring)]
		h.postflopStart = sbIdx
	}

	for _, i := range ring {
		seat := h.seats[i]
		if !h.dead[seat] {
			h.dealt[seat] = true
		}
	}
	h.pay(h.seats[sbIdx], h.smallBlind)
	h.pay(h.seats[bbIdx], h.bigBlind)
	h.currentBet = h.bigBlind
	h.lastRaise = h.bigBlind

	h.deck = newDeck()
	h.rng.Shuffle(len(h.deck), func(i, j int) { h.deck[i], h.deck[j] = h.deck[j], h.deck[i] })
	for _, i := range ring {
		seat := h.seats[i]
		if h.dealt[seat] {
			h.hole[seat] = []string{h.draw(), h.draw()}
		}
	}
	for _, s := range h.seats {
		if h.dead[s] {
			h.folded[s] = true
		}
	}

	if h.unfoldedCount() <= 1 {
		h.settleFoldWin()
		h.startHand()
		return
	}
	if idx := h.nextCanAct(firstIdx); idx >= 0 {
		h.actorIdx = idx
	} else {
		h.advanceStreet()
	}
}

func (h *Holdem) chipRing() []int {
	ring := make([]int, 0, len(h.seats))
	for i, s := range h.seats {
		if h.stacks[s] > 0 {
			ring = append(ring, i)
		}
	}
	return ring
}

func (h *Holdem) playableCount() int {
	n := 0
	for _, s := range h.seats {
		if !h.dead[s] && h.stacks[s] > 0 {
			n++
		}
	}
	return n
}

func (h *Holdem) draw() string {
	c := h.deck[0]
	h.deck = h.deck[1:]
	return c
}

func (h *Holdem) burn() { h.deck = h.deck[1:] }

func (h *Holdem) pay(seat string, amount int) {
	if amount > h.stacks[seat] {
		amount = h.stacks[seat]
	}
	h.stacks[seat] -= amount
	h.streetBet[seat] += amount
	h.invested[seat] += amount
	if h.stacks[seat] == 0 {
		h.allIn[seat] = true
	}
}

func (h *Holdem) potTotal() int {
	pot := 0
	for _, amt := range h.invested {
		pot += amt
	}
	return pot
}

func (h *Holdem) canAct(seat string) bool {
	return h.dealt[seat] && !h.folded[seat] && !h.allIn[seat]
}

func (h *Holdem) unfoldedCount() int {
	n := 0
	for _, s := range h.seats {
		if h.dealt[s] && !h.folded[s] {
			n++
		}
	}
	return n
}

func (h *Holdem) actableCount() int {
	n := 0
	for _, s := range h.seats {
		if h.canAct(s) {
			n++
		}
	}
	return n
}

// nextCanAct scans the seat ring starting at from (inclusive) and returns
// the first seat index able to act, or -1.
func (h *Holdem) nextCanAct(from int) int {
	for i := 0; i < len(h.seats); i++ {
		idx := (from + i) % len(h.seats)
		if h.canAct(h.seats[idx]) {
			return idx
		}
	}
	return -1
}

func (h *Holdem) streetSettled() bool {
	for _, s := range h.seats {
		if !h.canAct(s) {
			continue
		}
		if !h.acted[s] || h.streetBet[s] != h.currentBet {
			return false
		}
	}
	return true
}

func (h *Holdem) afterAction() {
	if h.unfoldedCount() <= 1 {
		h.settleFoldWin()
		h.startHand()
		return
	}
	if h.streetSettled() {
		h.advanceStreet()
		return
	}
	h.actorIdx = h.nextCanAct(h.actorIdx + 1)
}

func (h *Holdem) advanceStreet() {
	for {
		switch h.street {
		case streetPreflop:
			h.street = streetFlop
			h.burn()
			h.board = append(h.board, h.draw(), h.draw(), h.draw())
		case streetFlop:
			h.street = streetTurn
			h.burn()
			h.board = append(h.board, h.draw())
		case streetTurn:
			h.street = streetRiver
			h.burn()
			h.board = append(h.board, h.draw())
		case streetRiver:
			h.settleShowdown()
			h.startHand()
			return
		}
		for _, s := range h.seats {
			h.streetBet[s] = 0
		}
		h.currentBet = 0
		h.lastRaise = h.bigBlind
		h.acted = make(map[string]bool)
		h.lastAggressor = ""

		// With at most one seat able to act and no bet outstanding, the
		// board runs out to showdown.
		if h.actableCount() > 1 {
			h.actorIdx = h.nextCanAct(h.postflopStart)
			return
		}
	}
}

func (h *Holdem) settleFoldWin() {
	winner := ""
	for _, s := range h.seats {
		if h.dealt[s] && !h.folded[s] {
			winner = s
		}
	}
	pot := h.potTotal()
	if winner == "" {
		// Every dealt seat was eliminated mid-hand; the pot goes back to
		// contributors' stacks to conserve chips.
		for _, s := range h.seats {
			h.stacks[s] += h.invested[s]
			h.invested[s] = 0
		}
		return
	}
	h.stacks[winner] += pot
	riverBluff := h.street == streetRiver && h.lastAggressor == winner && h.currentBet > 0
	h.finishHand(pot, map[string]bool{winner: true}, false, riverBluff)
}

func (h *Holdem) settleShowdown() {
	pots := buildSidePots(h.seats, h.invested, h.folded)
	scores := make(map[string]int)
	sawAllIn := false
	for _, s := range h.seats {
		if h.dealt[s] && !h.folded[s] {
			scores[s] = bestFive(append(append([]string(nil), h.hole[s]...), h.board...))
			if h.allIn[s] {
				sawAllIn = true
			}
		}
	}
	won := distributePots(pots, scores)
	winners := make(map[string]bool)
	for seat, amt := range won {
		h.stacks[seat] += amt
		if amt > 0 {
			winners[seat] = true
		}
	}
	h.finishHand(h.potTotal(), winners, sawAllIn, false)
}

func (h *Holdem) finishHand(pot int, winners map[string]bool, allInShowdown, riverBluff bool) {
	notable := allInShowdown || riverBluff

	if n := len(h.potHistory); n > 0 && !notable {
		avg := 0
		for _, p := range h.potHistory {
			avg += p
		}
		avg /= n
		if pot > 3*avg {
			notable = true
		}
	}

	// Comeback: heads-up, the trailing player wins a pot worth over a fifth
	// of the chips in play.
	if !notable && h.playableCount() == 2 {
		total := 0
		for _, s := range h.seats {
			total += h.handStartStacks[s] + h.invested[s]
		}
		for seat := range winners {
			if h.trailingAtHandStart(seat) && pot*5 > total {
				notable = true
			}
		}
	}

	h.potHistory = append(h.potHistory, pot)
	if notable {
		h.highlights = append(h.highlights, h.handNum)
	}
	for _, s := range h.seats {
		h.invested[s] = 0
	}
}

func (h *Holdem) trailingAtHandStart(seat string) bool {
	for _, other := range h.seats {
		if other != seat && h.handStartStacks[other] > h.handStartStacks[seat] {
			return true
		}
	}
	return false
}

// --- actions ---

// Prompt renders the seat's decision prompt from current state.
func (h *Holdem) Prompt(seat string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pot-Limit Texas Hold'em - Hand %d/%d - Street: %s\n", h.handNum, h.opts.HandsPerMatch, h.street)
	fmt.Fprintf(&b, "Your seat: %s\n", seat)
	fmt.Fprintf(&b, "Your hole cards: %s\n", strings.Join(h.hole[seat], " "))
	if len(h.board) > 0 {
		fmt.Fprintf(&b, "Board: %s\n", strings.Join(h.board, " "))
	}
	fmt.Fprintf(&b, "Pot: %d\n", h.potTotal())
	fmt.Fprintf(&b, "Your stack: %d\n", h.stacks[seat])
	fmt.Fprintf(&b, "Amount to call: %d\n", h.toCall(seat))
	if minTo, maxTo, ok := h.raiseBounds(seat); ok {
		fmt.Fprintf(&b, "Minimum raise to: %d\n", minTo)
		fmt.Fprintf(&b, "Maximum raise to: %d\n", maxTo)
	}
	fmt.Fprintf(&b, "Blinds: %d/%d\n", h.smallBlind, h.bigBlind)
	stacks := make([]string, 0, len(h.seats))
	for _, s := range h.seats {
		stacks = append(stacks, fmt.Sprintf("%s=%d", s, h.stacks[s]))
	}
	fmt.Fprintf(&b, "All stacks: %s\n", strings.Join(stacks, ", "))
	b.WriteString("\nRespond with ONLY a JSON object: ")
	b.WriteString(`{"reasoning": "<short>", "action": "fold|call|raise", "amount": <raise-to total, integer, raise only>}`)
	return b.String()
}

// RetryPrompt quotes the rejection reason ahead of a fresh prompt.
func (h *Holdem) RetryPrompt(seat, reason string) string {
	return "Your last action was invalid: " + reason + "\n\n" + h.Prompt(seat)
}

func (h *Holdem) toCall(seat string) int {
	due := h.currentBet - h.streetBet[seat]
	if due > h.stacks[seat] {
		due = h.stacks[seat]
	}
	if due < 0 {
		due = 0
	}
	return due
}

// raiseBounds returns the legal raise-to range for the seat. ok is false
// when raising is unavailable (calling already requires the whole stack).
func (h *Holdem) raiseBounds(seat string) (minTo, maxTo int, ok bool) {
	stack := h.stacks[seat]
	due := h.currentBet - h.streetBet[seat]
	if due >= stack {
		return 0, 0, false
	}
	// Pot limit: the raise may add at most the pot after the call.
	maxTo = h.currentBet + h.potTotal() + due
	if allInTo := h.streetBet[seat] + stack; maxTo > allInTo {
		maxTo = allInTo
	}
	minTo = h.currentBet + h.lastRaise
	if minTo > maxTo {
		minTo = maxTo
	}
	if maxTo <= h.currentBet {
		return 0, 0, false
	}
	return minTo, maxTo, true
}

func intAmount(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// ValidateAction checks a parsed action without mutating state.
func (h *Holdem) ValidateAction(seat string, action map[string]any) game.ValidationResult {
	if reason := h.validate(seat, action); reason != "" {
		return game.ValidationResult{Reason: reason}
	}
	return game.ValidationResult{Legal: true}
}

func (h *Holdem) validate(seat string, action map[string]any) string {
	if h.terminal {
		return "match is over"
	}
	if seat != h.CurrentPlayer() {
		return "not your turn"
	}
	act, _ := action["action"].(string)
	switch act {
	case "fold", "call":
		return ""
	case "raise":
		minTo, maxTo, ok := h.raiseBounds(seat)
		if !ok {
			return "raising is not available here"
		}
		amt, isInt := intAmount(action["amount"])
		if !isInt {
			return "raise requires an integer amount"
		}
		if amt < minTo || amt > maxTo {
			return fmt.Sprintf("raise amount %d outside allowed range %d to %d", amt, minTo, maxTo)
		}
		return ""
	default:
		return fmt.Sprintf("unknown action %q", act)
	}
}

// ApplyAction applies a validated action and advances the hand. Applying an
// action that fails validation is a contract breach and panics.
func (h *Holdem) ApplyAction(seat string, action map[string]any) {
	if reason := h.validate(seat, action); reason != "" {
		panic("holdem: apply of invalid action: " + reason)
	}
	act, _ := action["action"].(string)
	switch act {
	case "fold":
		h.folded[seat] = true
		h.acted[seat] = true
	case "call":
		h.pay(seat, h.toCall(seat))
		h.acted[seat] = true
	case "raise":
		amt, _ := intAmount(action["amount"])
		h.lastRaise = amt - h.currentBet
		h.currentBet = amt
		h.pay(seat, amt-h.streetBet[seat])
		h.lastAggressor = seat
		// A raise reopens the action for everyone else.
		h.acted = map[string]bool{seat: true}
	}
	h.afterAction()
}

// ForfeitTurn applies the default action: check when free, fold otherwise.
// It never fails, even off-turn or post-terminal.
func (h *Holdem) ForfeitTurn(seat string) {
	if h.terminal || seat != h.CurrentPlayer() {
		return
	}
	if h.toCall(seat) == 0 {
		h.pay(seat, 0)
		h.acted[seat] = true
	} else {
		h.folded[seat] = true
		h.acted[seat] = true
	}
	h.afterAction()
}

// EliminatePlayer removes the seat from further play. The seat keeps
// posting blinds until broke but is folded out of every hand.
func (h *Holdem) EliminatePlayer(seat string) {
	h.dead[seat] = true
	if h.terminal {
		return
	}
	wasActor := seat == h.CurrentPlayer()
	if h.dealt[seat] && !h.folded[seat] {
		h.folded[seat] = true
		h.acted[seat] = true
	}
	if wasActor {
		h.afterAction()
	} else if h.unfoldedCount() <= 1 {
		h.settleFoldWin()
		h.startHand()
	}
}

// AwardForfeitWins settles a match forfeit: the forfeiting seat's chips and
// the live pot are split among the remaining seats, and the match ends.
func (h *Holdem) AwardForfeitWins(seat string) {
	pool := h.stacks[seat] + h.invested[seat]
	for _, s := range h.seats {
		if s == seat {
			continue
		}
		pool += h.invested[s]
		h.invested[s] = 0
	}
	h.stacks[seat] = 0
	h.invested[seat] = 0

	var remaining []string
	for _, s := range h.seats {
		if s != seat && !h.dead[s] {
			remaining = append(remaining, s)
		}
	}
	sort.Strings(remaining)
	if len(remaining) > 0 {
		share := pool / len(remaining)
		for _, s := range remaining {
			h.stacks[s] += share
		}
		h.stacks[remaining[0]] += pool % len(remaining)
	}
	h.terminal = true
	h.street = streetComplete
}
