// Package referee tracks fidelity violations and turns them into rulings.
//
// The referee is pure bookkeeping: it never talks to engines or adapters.
// The match loop reports violations; the referee answers with the ruling
// that keeps the match moving (retry, forfeit the turn, eliminate the seat,
// or forfeit the match).
package referee

// ViolationKind identifies one category of protocol breach.
type ViolationKind string

const (
	MalformedJSON    ViolationKind = "malformed_json"
	IllegalMove      ViolationKind = "illegal_move"
	Timeout          ViolationKind = "timeout"
	EmptyResponse    ViolationKind = "empty_response"
	InjectionAttempt ViolationKind = "injection_attempt"
)

// Severity weights per kind, accumulated in the fidelity report.
var severities = map[ViolationKind]int{
	MalformedJSON:    2,
	IllegalMove:      1,
	Timeout:          2,
	EmptyResponse:    2,
	InjectionAttempt: 3,
}

// Severity returns the weight assigned to the kind.
func Severity(kind ViolationKind) int { return severities[kind] }

// Ruling is the referee's decision after a reported violation.
type Ruling string

const (
	// RulingRetry grants the seat its one in-turn retry. The caller must
	// call ConsumeRetry before re-asking; an unheeded RulingRetry leaves the
	// retry budget intact.
	RulingRetry Ruling = "retry"

	// RulingForfeitTurn ends the turn with the engine's forfeit action.
	RulingForfeitTurn Ruling = "forfeit_turn"

	// RulingEliminate removes the seat from a match with three or more
	// active players.
	RulingEliminate Ruling = "eliminate_player"

	// RulingForfeitMatch ends a two-player match in the opponent's favor.
	RulingForfeitMatch Ruling = "forfeit_match"
)

// Violation is one recorded breach.
type Violation struct {
	Kind     ViolationKind `json:"kind" bson:"kind"`
	Severity int           `json:"severity" bson:"severity"`
	Details  string        `json:"details" bson:"details"`
}

// Options tunes escalation. Zero values select the defaults.
type Options struct {
	// MatchForfeitThreshold is the count of strike-eligible turn forfeits
	// that forfeits the match. Defaults to 3.
	MatchForfeitThreshold int

	// StrikeKinds are the violation kinds whose turn forfeits count toward
	// the match forfeit threshold. Defaults to timeout and empty_response.
	StrikeKinds []ViolationKind

	// DisableScaling turns off the +1 threshold headroom per seat above
	// six. Crowded tables otherwise get extra slack because random noise
	// produces more forfeits.
	DisableScaling bool
}

type seatState struct {
	violations     []Violation
	turnViolations int
	retryUsed      bool
	retriesUsed    int
	turnForfeits   int
	strikes        int
	eliminated     bool

	// Consecutive identical violations, for stuck-loop detection.
	lastKey string
	lastRun int
}

// Referee arbitrates one match. Not safe for concurrent use; each match
// runner owns its referee.
type Referee struct {
	seats       []string
	threshold   int
	strikeKinds map[ViolationKind]bool
	state       map[string]*seatState
	active      int
	forfeited   bool
	forfeitedBy string
}

// New builds a referee for the given seats.
func New(seats []string, opts Options) *Referee {
	threshold := opts.MatchForfeitThreshold
	if threshold <= 0 {
		threshold = 3
	}
	if !opts.DisableScaling && len(seats) > 6 {
		threshold += len(seats) - 6
	}
	kinds := opts.StrikeKinds
	if kinds == nil {
		kinds = []ViolationKind{Timeout, EmptyResponse}
	}
	strikeKinds := make(map[ViolationKind]bool, len(kinds))
	for _, k := range kinds {
		strikeKinds[k] = true
	}
	state := make(map[string]*seatState, len(seats))
	for _, s := range seats {
		state[s] = &seatState{}
	}
	return &Referee{
		seats:       seats,
		threshold:   threshold,
		strikeKinds: strikeKinds,
		state:       state,
		active:      len(seats),
	}
}

// NewTurn resets every seat's per-turn retry budget and violation counter.
func (r *Referee) NewTurn() {
	for _, st := range r.state {
		st.retryUsed = false
		st.turnViolations = 0
	}
}

// ConsumeRetry spends the seat's single in-turn retry. Callers invoke it
// just before re-asking the agent.
func (r *Referee) ConsumeRetry(seat string) {
	st := r.state[seat]
	st.retryUsed = true
	st.retriesUsed++
}

// RecordViolation registers a breach and rules on it. The first violation of
// a turn earns the seat a retry offer; every further one forfeits the turn.
// A strike-eligible forfeit that reaches the threshold escalates to match
// forfeit (heads-up) or elimination (three or more active players).
func (r *Referee) RecordViolation(seat string, kind ViolationKind, details string) Ruling {
	st := r.state[seat]
	r.append(st, kind, details)
	st.turnViolations++
	if st.turnViolations == 1 && !st.retryUsed {
		return RulingRetry
	}
	st.turnForfeits++
	if !r.strikeKinds[kind] {
		return RulingForfeitTurn
	}
	st.strikes++
	if st.strikes < r.threshold {
		return RulingForfeitTurn
	}
	return r.forfeit(seat)
}

// ForceMatchForfeit ends the seat's participation immediately, bypassing the
// strike budget. Used when a seat is stuck repeating the same violation.
func (r *Referee) ForceMatchForfeit(seat string) Ruling {
	return r.forfeit(seat)
}

func (r *Referee) forfeit(seat string) Ruling {
	r.forfeited = true
	r.forfeitedBy = seat
	if r.active > 2 {
		r.state[seat].eliminated = true
		r.active--
		return RulingEliminate
	}
	return RulingForfeitMatch
}

func (r *Referee) append(st *seatState, kind ViolationKind, details string) {
	st.violations = append(st.violations, Violation{
		Kind:     kind,
		Severity: severities[kind],
		Details:  details,
	})
	key := string(kind) + "\x00" + details
	if key == st.lastKey {
		st.lastRun++
	} else {
		st.lastKey = key
		st.lastRun = 1
	}
}

// StuckInLoop reports whether the seat's last three violations were
// identical in kind and details.
func (r *Referee) StuckInLoop(seat string) bool {
	return r.state[seat].lastRun >= 3
}

// Strikes returns the seat's strike-eligible turn-forfeit count.
func (r *Referee) Strikes(seat string) int { return r.state[seat].strikes }

// StrikeLimit returns the match forfeit threshold in effect.
func (r *Referee) StrikeLimit() int { return r.threshold }

// MatchForfeited reports whether a seat has forfeited the match or been
// eliminated by ruling.
func (r *Referee) MatchForfeited() bool { return r.forfeited }

// ForfeitedBy returns the most recent forfeiting seat, or "" when none.
func (r *Referee) ForfeitedBy() string { return r.forfeitedBy }

// SeatReport aggregates one seat's fidelity record.
type SeatReport struct {
	TotalViolations   int  `json:"total_violations" bson:"total_violations"`
	MalformedJSON     int  `json:"malformed_json" bson:"malformed_json"`
	IllegalMove       int  `json:"illegal_move" bson:"illegal_move"`
	Timeout           int  `json:"timeout" bson:"timeout"`
	EmptyResponse     int  `json:"empty_response" bson:"empty_response"`
	InjectionAttempts int  `json:"injection_attempts" bson:"injection_attempts"`
	TotalSeverity     int  `json:"total_severity" bson:"total_severity"`
	RetriesUsed       int  `json:"retries_used" bson:"retries_used"`
	TurnForfeits      int  `json:"turn_forfeits" bson:"turn_forfeits"`
	ForfeitedMatch    bool `json:"forfeited_match" bson:"forfeited_match"`
}

// Report describes the whole match. Every seat appears, clean seats with a
// zero entry.
type Report struct {
	Seats          map[string]SeatReport `json:"seats" bson:"seats"`
	MatchForfeited bool                  `json:"_match_forfeited" bson:"_match_forfeited"`
	ForfeitedBy    string                `json:"_match_forfeited_by,omitempty" bson:"_match_forfeited_by,omitempty"`
}

// Report builds the final fidelity report.
func (r *Referee) Report() Report {
	seats := make(map[string]SeatReport, len(r.seats))
	for _, seat := range r.seats {
		st := r.state[seat]
		rep := SeatReport{
			TotalViolations: len(st.violations),
			RetriesUsed:     st.retriesUsed,
			TurnForfeits:    st.turnForfeits,
			ForfeitedMatch:  st.eliminated || (r.forfeited && r.forfeitedBy == seat),
		}
		for _, v := range st.violations {
			rep.TotalSeverity += v.Severity
			switch v.Kind {
			case MalformedJSON:
				rep.MalformedJSON++
			case IllegalMove:
				rep.IllegalMove++
			case Timeout:
				rep.Timeout++
			case EmptyResponse:
				rep.EmptyResponse++
			case InjectionAttempt:
				rep.InjectionAttempts++
			}
		}
		seats[seat] = rep
	}
	return Report{
		Seats:          seats,
		MatchForfeited: r.forfeited,
		ForfeitedBy:    r.forfeitedBy,
	}
}
