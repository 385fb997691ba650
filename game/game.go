// Package game defines the engine contract the tournament core consumes.
//
// Engines own the rules of one event. The core never inspects game state
// beyond this interface: it asks who moves, fetches prompts, validates and
// applies actions, and reads scores. Engines signal internal errors (rule
// bugs, impossible states) by panicking; the match runner recovers and
// finalizes the match as an engine error.
package game

// ValidationResult is an engine's verdict on a proposed action.
type ValidationResult struct {
	Legal  bool
	Reason string // set when illegal, quoted back to the agent on retry
}

// Engine drives one match of one event. Implementations must be
// deterministic under a fixed seed and any sequence of validated actions,
// and need not be safe for concurrent use: each match runner owns its
// engine.
type Engine interface {
	// Reset initializes a fresh match from the seed. All randomness must
	// derive from it.
	Reset(seed int64)

	// Seats returns the seat identifiers in play order.
	Seats() []string

	// CurrentPlayer returns the seat that must act now. Undefined once
	// IsTerminal reports true.
	CurrentPlayer() string

	// Prompt renders the seat's decision prompt from current state.
	Prompt(seat string) string

	// RetryPrompt renders the prompt again with the rejection reason from
	// the failed attempt.
	RetryPrompt(seat, reason string) string

	// ActionSchema returns the JSON Schema that actions must satisfy.
	ActionSchema() []byte

	// ValidateAction checks a parsed action without mutating state.
	ValidateAction(seat string, action map[string]any) ValidationResult

	// ApplyAction applies a validated action. Calling it with an action
	// that did not pass ValidateAction is a contract breach.
	ApplyAction(seat string, action map[string]any)

	// ForfeitTurn applies the engine's default action for the seat (check
	// if free, otherwise fold or pass). It always succeeds, conserves
	// score, and advances the state.
	ForfeitTurn(seat string)

	// EliminatePlayer removes the seat from further play. Its remaining
	// stake is redistributed per the event's rules.
	EliminatePlayer(seat string)

	// AwardForfeitWins settles the match after seat forfeits it,
	// transferring the forfeiter's stake to the remaining players.
	AwardForfeitWins(seat string)

	// IsTerminal reports whether the match is over.
	IsTerminal() bool

	// Scores returns the current score per seat. After termination the sum
	// must equal the sum of initial stakes.
	Scores() map[string]float64

	// StateSnapshot returns a JSON-serializable view of the current state
	// for telemetry.
	StateSnapshot() map[string]any

	// HighlightHands lists the hands worth replaying, in order.
	HighlightHands() []int

	// HandNumber and Phase locate the current decision for telemetry.
	// Events without hands or phases return 0 and "".
	HandNumber() int
	Phase() string

	// Version identifies the rules implementation recorded in telemetry.
	Version() string
}
