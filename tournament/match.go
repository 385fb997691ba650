package tournament

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"goa.design/clue/log"

	"github.com/tourneylab/tourney/adapter"
	"github.com/tourneylab/tourney/game"
	"github.com/tourneylab/tourney/parse"
	"github.com/tourneylab/tourney/referee"
	"github.com/tourneylab/tourney/sanitize"
	"github.com/tourneylab/tourney/telemetry"
)

// promptVersion stamps every turn record so prompt-format changes are
// visible across stored runs.
const promptVersion = "1.0"

// ErrEngineFailure marks a match aborted by an engine panic. The summary
// carries ruling "engine_error"; the orchestrator counts it and moves on.
var ErrEngineFailure = errors.New("engine failure")

// SeatBinding ties an engine seat to its agent.
type SeatBinding struct {
	AgentName   string
	Adapter     adapter.Adapter
	MaxTokens   int
	Temperature float64

	// ShotClock is the wall-clock budget for one turn, covering the
	// initial query and the optional retry.
	ShotClock time.Duration
}

// Runner drives one match to completion. It owns its engine, referee, and
// logger exclusively; nothing here is safe for concurrent use.
type Runner struct {
	match   Match
	engine  game.Engine
	ref     *referee.Referee
	logger  *telemetry.Logger
	parser  *parse.ActionParser
	seats   map[string]SeatBinding
	turn    int
	started time.Time
	summary telemetry.MatchSummary
}

// NewRunner builds the runner for one scheduled match. seats maps engine
// seat IDs to their bindings and must cover every engine seat.
func NewRunner(m Match, engine game.Engine, ref *referee.Referee, logger *telemetry.Logger, seats map[string]SeatBinding) (*Runner, error) {
	parser, err := parse.NewActionParser(engine.ActionSchema())
	if err != nil {
		return nil, fmt.Errorf("match %s: action schema: %w", m.ID, err)
	}
	for _, seat := range engine.Seats() {
		if _, ok := seats[seat]; !ok {
			return nil, fmt.Errorf("match %s: seat %s has no agent", m.ID, seat)
		}
	}
	return &Runner{
		match:  m,
		engine: engine,
		ref:    ref,
		logger: logger,
		parser: parser,
		seats:  seats,
	}, nil
}

// Summary returns the match summary written by Run.
func (r *Runner) Summary() telemetry.MatchSummary { return r.summary }

type turnOutcome int

const (
	outcomeApplied turnOutcome = iota
	outcomeForfeitTurn
	outcomeEliminated
	outcomeMatchForfeit
)

// Run executes the match loop and always finalizes telemetry before
// returning. Engine panics are recovered into an engine_error summary and
// reported as ErrEngineFailure; only file-sink failures and cancellation
// propagate as themselves.
func (r *Runner) Run(ctx context.Context) (err error) {
	r.started = time.Now()
	initial := scoreTotal(r.engine.Scores())

	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf(ctx, fmt.Errorf("%v", rec), "match %s: engine failure", r.match.ID)
			detail := fmt.Sprintf("%v\n%s", rec, debug.Stack())
			if ferr := r.finalize(ctx, telemetry.RulingEngineError, detail); ferr != nil {
				err = ferr
				return
			}
			err = ErrEngineFailure
		}
	}()

	forfeitedBy := ""
	for !r.engine.IsTerminal() {
		r.ref.NewTurn()
		seat := r.engine.CurrentPlayer()
		action, outcome, aerr := r.attemptTurn(ctx, seat)
		if aerr != nil {
			if ctx.Err() != nil {
				if ferr := r.finalize(ctx, telemetry.RulingAborted, ctx.Err().Error()); ferr != nil {
					return ferr
				}
			}
			return aerr
		}
		switch outcome {
		case outcomeApplied:
			r.engine.ApplyAction(seat, action)
		case outcomeForfeitTurn:
			r.engine.ForfeitTurn(seat)
		case outcomeEliminated:
			r.engine.EliminatePlayer(seat)
		case outcomeMatchForfeit:
			forfeitedBy = seat
			r.engine.AwardForfeitWins(seat)
		}
		// Cancellation is checked between turns only; in-flight queries
		// are bounded by the shot clock.
		if cerr := ctx.Err(); cerr != nil {
			if ferr := r.finalize(ctx, telemetry.RulingAborted, cerr.Error()); ferr != nil {
				return ferr
			}
			return cerr
		}
	}

	ruling := telemetry.RulingCompleted
	if forfeitedBy != "" {
		ruling = telemetry.ForfeitRuling(forfeitedBy)
	}
	if total := scoreTotal(r.engine.Scores()); total != initial {
		log.Warnf(ctx, "match %s: score total drifted from %v to %v", r.match.ID, initial, total)
	}
	return r.finalize(ctx, ruling, "")
}

// attemptTurn runs the query/parse/validate protocol for one turn,
// emitting one turn record per decision attempt. At most two adapter
// queries happen per turn.
func (r *Runner) attemptTurn(ctx context.Context, seat string) (map[string]any, turnOutcome, error) {
	b := r.seats[seat]
	deadline := time.Now().Add(b.ShotClock)
	prompt := r.engine.Prompt(seat)

	for {
		resp, qerr := b.Adapter.Query(ctx, adapter.Request{
			Messages:    []adapter.Message{{Role: "user", Content: prompt}},
			MaxTokens:   b.MaxTokens,
			Temperature: b.Temperature,
			Timeout:     time.Until(deadline),
		})

		rec := r.newRecord(seat, b, prompt)
		if resp != nil {
			rec.RawOutput = resp.RawText
			rec.ReasoningOutput = resp.ReasoningText
			rec.ModelVersion = resp.ModelVersion
			rec.InputTokens = resp.InputTokens
			rec.OutputTokens = resp.OutputTokens
			rec.LatencyMS = resp.LatencyMS
		}

		var (
			kind    referee.ViolationKind
			details string
			retryAs string
		)
		if qerr != nil {
			kind, details = classifyAdapterError(qerr)
		} else {
			res := r.parser.Parse(sanitize.Text(resp.RawText))
			switch {
			case !res.Success:
				kind, details = referee.MalformedJSON, res.Err
				retryAs = res.Err
			default:
				rec.ParsedAction = res.Action
				rec.ParseSuccess = true
				if v := r.engine.ValidateAction(seat, res.Action); !v.Legal {
					kind, details = referee.IllegalMove, v.Reason
					retryAs = v.Reason
					rec.ValidationResult = v.Reason
				} else {
					rec.ValidationResult = "legal"
					rec.Ruling = "applied"
					if res.InjectionDetected {
						// Annotate but proceed; the ruling is deliberately
						// ignored so the retry budget stays intact.
						_ = r.ref.RecordViolation(seat, referee.InjectionAttempt, "injection heuristics matched")
						rec.Violation = string(referee.InjectionAttempt)
					}
					rec.Strikes = r.ref.Strikes(seat)
					if err := r.logger.LogTurn(ctx, rec); err != nil {
						return nil, 0, err
					}
					return res.Action, outcomeApplied, nil
				}
			}
		}

		ruling := r.ref.RecordViolation(seat, kind, details)
		if r.ref.StuckInLoop(seat) {
			ruling = r.ref.ForceMatchForfeit(seat)
		}
		rec.Violation = string(kind)
		rec.ViolationDetails = details
		rec.Ruling = string(ruling)
		rec.Strikes = r.ref.Strikes(seat)
		rec.ShotClockExceeded = !time.Now().Before(deadline)
		if err := r.logger.LogTurn(ctx, rec); err != nil {
			return nil, 0, err
		}

		switch ruling {
		case referee.RulingRetry:
			if time.Now().Before(deadline) {
				r.ref.ConsumeRetry(seat)
				if retryAs != "" {
					prompt = r.engine.RetryPrompt(seat, retryAs)
				}
				continue
			}
			// Budget spent: the retry is skipped and the turn forfeits.
			return r.forfeitExpiredTurn(ctx, seat, b)
		case referee.RulingForfeitTurn:
			return nil, outcomeForfeitTurn, nil
		case referee.RulingEliminate:
			return nil, outcomeEliminated, nil
		default:
			return nil, outcomeMatchForfeit, nil
		}
	}
}

// forfeitExpiredTurn records the skipped second attempt when the shot
// clock ran out between attempts.
func (r *Runner) forfeitExpiredTurn(ctx context.Context, seat string, b SeatBinding) (map[string]any, turnOutcome, error) {
	ruling := r.ref.RecordViolation(seat, referee.Timeout, "shot clock expired")
	if r.ref.StuckInLoop(seat) {
		ruling = r.ref.ForceMatchForfeit(seat)
	}
	rec := r.newRecord(seat, b, "")
	rec.Violation = string(referee.Timeout)
	rec.ViolationDetails = "shot clock expired"
	rec.Ruling = string(ruling)
	rec.Strikes = r.ref.Strikes(seat)
	rec.ShotClockExceeded = true
	if err := r.logger.LogTurn(ctx, rec); err != nil {
		return nil, 0, err
	}
	switch ruling {
	case referee.RulingForfeitTurn:
		return nil, outcomeForfeitTurn, nil
	case referee.RulingEliminate:
		return nil, outcomeEliminated, nil
	default:
		return nil, outcomeMatchForfeit, nil
	}
}

func (r *Runner) newRecord(seat string, b SeatBinding, prompt string) telemetry.TurnRecord {
	r.turn++
	return telemetry.TurnRecord{
		TurnNumber:    r.turn,
		HandNumber:    r.engine.HandNumber(),
		Street:        r.engine.Phase(),
		SeatID:        seat,
		ModelID:       b.Adapter.ModelID(),
		Prompt:        prompt,
		PromptChars:   len(prompt),
		StateSnapshot: r.engine.StateSnapshot(),
		ShotClockMS:   b.ShotClock.Milliseconds(),
		StrikeLimit:   r.ref.StrikeLimit(),
		EngineVersion: r.engine.Version(),
		PromptVersion: promptVersion,
	}
}

func (r *Runner) finalize(ctx context.Context, ruling, errDetail string) error {
	models := make(map[string]string, len(r.seats))
	for seat, b := range r.seats {
		models[seat] = b.Adapter.ModelID()
	}
	r.summary = telemetry.MatchSummary{
		Event:          r.match.Event,
		FinalScores:    safeScores(r.engine),
		FidelityReport: r.ref.Report(),
		Ruling:         ruling,
		ErrorDetail:    errDetail,
		PlayerModels:   models,
		HighlightHands: safeHighlights(r.engine),
		EngineVersion:  r.engine.Version(),
		DurationMS:     time.Since(r.started).Milliseconds(),
	}
	return r.logger.FinalizeMatch(ctx, r.summary)
}

// classifyAdapterError maps the uniform adapter error onto a violation.
// Rate limits and API errors group with timeouts: from the referee's side
// they are indistinguishable from an unresponsive agent.
func classifyAdapterError(err error) (referee.ViolationKind, string) {
	if errors.Is(err, adapter.ErrEmptyCompletion) {
		return referee.EmptyResponse, "empty completion"
	}
	return referee.Timeout, err.Error()
}

// safeScores survives an engine left in a broken state by a panic.
func safeScores(e game.Engine) (scores map[string]float64) {
	defer func() { _ = recover() }()
	return e.Scores()
}

func safeHighlights(e game.Engine) (hands []int) {
	defer func() { _ = recover() }()
	return e.HighlightHands()
}

func scoreTotal(scores map[string]float64) float64 {
	total := 0.0
	for _, v := range scores {
		total += v
	}
	return total
}
