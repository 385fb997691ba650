package tournament

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourneylab/tourney/adapter"
	"github.com/tourneylab/tourney/game"
	"github.com/tourneylab/tourney/game/holdem"
	"github.com/tourneylab/tourney/referee"
	"github.com/tourneylab/tourney/telemetry"
)

type countingAdapter struct {
	adapter.Adapter
	calls atomic.Int64
}

func (c *countingAdapter) Query(ctx context.Context, req adapter.Request) (*adapter.Response, error) {
	c.calls.Add(1)
	return c.Adapter.Query(ctx, req)
}

func offline(model string, strategy adapter.Strategy) adapter.Adapter {
	return adapter.NewOffline(model, strategy)
}

func mustStrategy(t *testing.T, name string) adapter.Strategy {
	t.Helper()
	s, err := adapter.StrategyFor(name)
	require.NoError(t, err)
	return s
}

// runHeadsUp drives one heads-up holdem match and returns the summary plus
// the decoded records of the durable log.
func runHeadsUp(t *testing.T, a, b adapter.Adapter, hands int, clock time.Duration) (telemetry.MatchSummary, []telemetry.TurnRecord, error) {
	t.Helper()
	dir := t.TempDir()
	engine, err := holdem.New(holdem.Options{HandsPerMatch: hands})
	require.NoError(t, err)
	engine.Reset(42)

	m := Match{ID: "holdem-test01", Event: "holdem", Agents: []string{"agent_a", "agent_b"}}
	logger, err := telemetry.NewLogger(dir, m.ID, nil, nil)
	require.NoError(t, err)

	ref := referee.New(engine.Seats(), referee.Options{})
	seats := map[string]SeatBinding{
		"player_a": {AgentName: "agent_a", Adapter: a, MaxTokens: 256, ShotClock: clock},
		"player_b": {AgentName: "agent_b", Adapter: b, MaxTokens: 256, ShotClock: clock},
	}
	runner, err := NewRunner(m, engine, ref, logger, seats)
	require.NoError(t, err)

	ctx := context.Background()
	runErr := runner.Run(ctx)
	require.NoError(t, logger.Close(ctx))

	records, sum := readMatchLog(t, filepath.Join(dir, m.ID+".log"))
	assert.Equal(t, runner.Summary().Ruling, sum.Ruling)
	return sum, records, runErr
}

func readMatchLog(t *testing.T, path string) ([]telemetry.TurnRecord, telemetry.MatchSummary) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.NotEmpty(t, lines)

	var records []telemetry.TurnRecord
	for _, line := range lines[:len(lines)-1] {
		var rec telemetry.TurnRecord
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		require.Equal(t, telemetry.RecordTypeTurn, rec.RecordType)
		records = append(records, rec)
	}

	var sum telemetry.MatchSummary
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &sum))
	require.Equal(t, telemetry.RecordTypeMatchSummary, sum.RecordType,
		"the final log line must be the match summary")
	return records, sum
}

func scoresTotal(scores map[string]float64) float64 {
	total := 0.0
	for _, v := range scores {
		total += v
	}
	return total
}

func TestCleanHeadsUpMatch(t *testing.T) {
	a := &countingAdapter{Adapter: offline("caller-a", mustStrategy(t, "always_call"))}
	b := &countingAdapter{Adapter: offline("caller-b", mustStrategy(t, "always_call"))}

	sum, records, err := runHeadsUp(t, a, b, 100, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, telemetry.RulingCompleted, sum.Ruling)
	assert.Equal(t, 400.0, scoresTotal(sum.FinalScores))
	for seat, rep := range sum.FidelityReport.Seats {
		assert.Zero(t, rep.TotalViolations, "seat %s must be clean", seat)
	}
	assert.False(t, sum.FidelityReport.MatchForfeited)

	// One record per betting decision, one query per record.
	assert.EqualValues(t, len(records), a.calls.Load()+b.calls.Load())
	for i, rec := range records {
		assert.Equal(t, i+1, rec.TurnNumber, "turn numbers count every attempt")
		assert.True(t, rec.ParseSuccess)
		assert.Equal(t, "applied", rec.Ruling)
	}
}

func TestGarbageAgentForfeitsTurnsButMatchCompletes(t *testing.T) {
	const hands = 8
	garbage := offline("garbage", mustStrategy(t, "garbage"))
	caller := offline("caller", mustStrategy(t, "always_call"))

	sum, _, err := runHeadsUp(t, garbage, caller, hands, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 400.0, scoresTotal(sum.FinalScores))
	rep := sum.FidelityReport.Seats["player_a"]
	assert.GreaterOrEqual(t, rep.MalformedJSON, hands,
		"the garbage cycle is mostly unparseable")
	assert.Positive(t, rep.TurnForfeits)
	assert.False(t, sum.FidelityReport.MatchForfeited,
		"malformed output is not strike-eligible by default")
}

func TestInjectionFlagsWithoutBlocking(t *testing.T) {
	injector := offline("injector", mustStrategy(t, "injector"))
	caller := offline("caller", mustStrategy(t, "always_call"))

	sum, records, err := runHeadsUp(t, injector, caller, 10, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, telemetry.RulingCompleted, sum.Ruling)
	assert.Equal(t, 400.0, scoresTotal(sum.FinalScores))

	rep := sum.FidelityReport.Seats["player_a"]
	assert.Positive(t, rep.InjectionAttempts)
	assert.Zero(t, rep.MalformedJSON)
	assert.Zero(t, rep.IllegalMove)
	assert.Zero(t, rep.TurnForfeits, "annotation must not burn the retry budget")

	injections := 0
	for _, rec := range records {
		if rec.SeatID == "player_a" {
			assert.True(t, rec.ParseSuccess, "the embedded action still parses")
			if rec.Violation == string(referee.InjectionAttempt) {
				injections++
			}
		}
	}
	assert.Equal(t, rep.InjectionAttempts, injections)
}

func TestShotClockForfeitsMatch(t *testing.T) {
	sleeper := offline("sleeper", adapter.Sleeper(500*time.Millisecond))
	caller := offline("caller", mustStrategy(t, "always_call"))

	sum, records, err := runHeadsUp(t, sleeper, caller, 100, 30*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, telemetry.ForfeitRuling("player_a"), sum.Ruling)
	assert.True(t, sum.FidelityReport.MatchForfeited)
	assert.Equal(t, "player_a", sum.FidelityReport.ForfeitedBy)

	rep := sum.FidelityReport.Seats["player_a"]
	assert.GreaterOrEqual(t, rep.Timeout, 3)
	assert.True(t, rep.ForfeitedMatch)

	// The opponent collects every chip.
	assert.Equal(t, 400.0, sum.FinalScores["player_b"])
	assert.Zero(t, sum.FinalScores["player_a"])

	sawSkip := false
	for _, rec := range records {
		if rec.SeatID == "player_a" && rec.ViolationDetails == "shot clock expired" {
			sawSkip = true
			assert.True(t, rec.ShotClockExceeded)
		}
	}
	assert.True(t, sawSkip, "the skipped retry is still recorded")
}

func TestStuckLoopEliminatesAfterThreeIdenticalOutputs(t *testing.T) {
	stuck := &countingAdapter{Adapter: offline("stuck", func(string) string { return "THIS IS NOT JSON" })}
	caller := offline("caller", mustStrategy(t, "always_call"))

	sum, records, err := runHeadsUp(t, stuck, caller, 100, time.Minute)
	require.NoError(t, err)

	assert.True(t, sum.FidelityReport.MatchForfeited)
	assert.Equal(t, "player_a", sum.FidelityReport.ForfeitedBy)
	assert.Equal(t, telemetry.ForfeitRuling("player_a"), sum.Ruling)

	// Attempt, consumed retry, then the third identical violation trips the
	// loop detector regardless of the strike budget.
	assert.EqualValues(t, 3, stuck.calls.Load())
	assert.Equal(t, 3, sum.FidelityReport.Seats["player_a"].MalformedJSON)

	var rulings []string
	for _, rec := range records {
		if rec.SeatID == "player_a" {
			rulings = append(rulings, rec.Ruling)
		}
	}
	require.Len(t, rulings, 3)
	assert.Equal(t, string(referee.RulingRetry), rulings[0])
	assert.Equal(t, string(referee.RulingForfeitTurn), rulings[1])
	assert.Equal(t, string(referee.RulingForfeitMatch), rulings[2])
}

func TestRetryAfterIllegalMoveSucceeds(t *testing.T) {
	// The very first output raises beyond the cap; every later one calls.
	var n atomic.Int64
	flaky := offline("flaky", func(string) string {
		if n.Add(1) == 1 {
			return `{"action": "raise", "amount": 999999}`
		}
		return `{"action": "call"}`
	})
	caller := offline("caller", mustStrategy(t, "always_call"))

	sum, records, err := runHeadsUp(t, flaky, caller, 3, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, telemetry.RulingCompleted, sum.Ruling)
	rep := sum.FidelityReport.Seats["player_a"]
	assert.Positive(t, rep.IllegalMove)
	assert.Positive(t, rep.RetriesUsed)

	sawRetryPair := false
	for i := 1; i < len(records); i++ {
		if records[i-1].Ruling == string(referee.RulingRetry) &&
			records[i].Ruling == "applied" &&
			records[i].SeatID == records[i-1].SeatID {
			sawRetryPair = true
		}
	}
	assert.True(t, sawRetryPair, "an offered retry should recover the turn")
}

// crashEngine panics after a fixed number of applied actions.
type crashEngine struct {
	applied  int
	crashAt  int
	terminal bool
}

func (e *crashEngine) Reset(int64)      {}
func (e *crashEngine) Seats() []string  { return []string{"player_a", "player_b"} }
func (e *crashEngine) CurrentPlayer() string {
	return e.Seats()[e.applied%2]
}
func (e *crashEngine) Prompt(string) string              { return "Pick an action." }
func (e *crashEngine) RetryPrompt(_, reason string) string { return "Invalid: " + reason }
func (e *crashEngine) ActionSchema() []byte {
	return []byte(`{"type":"object","properties":{"action":{"type":"string"}},"required":["action"]}`)
}
func (e *crashEngine) ValidateAction(string, map[string]any) game.ValidationResult {
	return game.ValidationResult{Legal: true}
}
func (e *crashEngine) ApplyAction(string, map[string]any) {
	e.applied++
	if e.applied >= e.crashAt {
		panic("impossible state: duplicate card dealt")
	}
}
func (e *crashEngine) ForfeitTurn(string)     {}
func (e *crashEngine) EliminatePlayer(string) {}
func (e *crashEngine) AwardForfeitWins(string) {
	e.terminal = true
}
func (e *crashEngine) IsTerminal() bool { return e.terminal }
func (e *crashEngine) Scores() map[string]float64 {
	return map[string]float64{"player_a": 1, "player_b": 1}
}
func (e *crashEngine) StateSnapshot() map[string]any { return map[string]any{"applied": e.applied} }
func (e *crashEngine) HighlightHands() []int         { return nil }
func (e *crashEngine) HandNumber() int               { return e.applied + 1 }
func (e *crashEngine) Phase() string                 { return "main" }
func (e *crashEngine) Version() string               { return "crash-0.1" }

func TestEngineCrashFinalizesWithEngineError(t *testing.T) {
	dir := t.TempDir()
	engine := &crashEngine{crashAt: 17}
	m := Match{ID: "crash-t17", Event: "crash", Agents: []string{"a", "b"}}

	logger, err := telemetry.NewLogger(dir, m.ID, nil, nil)
	require.NoError(t, err)
	ref := referee.New(engine.Seats(), referee.Options{})
	caller := offline("caller", mustStrategy(t, "always_call"))
	seats := map[string]SeatBinding{
		"player_a": {AgentName: "a", Adapter: caller, MaxTokens: 64, ShotClock: time.Minute},
		"player_b": {AgentName: "b", Adapter: caller, MaxTokens: 64, ShotClock: time.Minute},
	}
	runner, err := NewRunner(m, engine, ref, logger, seats)
	require.NoError(t, err)

	ctx := context.Background()
	runErr := runner.Run(ctx)
	require.ErrorIs(t, runErr, ErrEngineFailure)
	require.NoError(t, logger.Close(ctx))

	records, sum := readMatchLog(t, filepath.Join(dir, m.ID+".log"))
	assert.Len(t, records, 17, "every turn before the crash is on disk")
	assert.Equal(t, telemetry.RulingEngineError, sum.Ruling)
	assert.Contains(t, sum.ErrorDetail, "impossible state")
	assert.Contains(t, sum.ErrorDetail, "goroutine", "the stack trace is captured")
}

func TestCancellationStillFinalizes(t *testing.T) {
	dir := t.TempDir()
	engine, err := holdem.New(holdem.Options{HandsPerMatch: 100})
	require.NoError(t, err)
	engine.Reset(42)

	m := Match{ID: "holdem-cancel", Event: "holdem", Agents: []string{"a", "b"}}
	logger, err := telemetry.NewLogger(dir, m.ID, nil, nil)
	require.NoError(t, err)
	ref := referee.New(engine.Seats(), referee.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	turns := 0
	counted := offline("caller", func(string) string {
		turns++
		if turns == 5 {
			cancel()
		}
		return `{"action": "call"}`
	})
	seats := map[string]SeatBinding{
		"player_a": {AgentName: "a", Adapter: counted, MaxTokens: 64, ShotClock: time.Minute},
		"player_b": {AgentName: "b", Adapter: counted, MaxTokens: 64, ShotClock: time.Minute},
	}
	runner, err := NewRunner(m, engine, ref, logger, seats)
	require.NoError(t, err)

	runErr := runner.Run(ctx)
	require.ErrorIs(t, runErr, context.Canceled)
	require.NoError(t, logger.Close(context.Background()))

	_, sum := readMatchLog(t, filepath.Join(dir, m.ID+".log"))
	assert.Equal(t, telemetry.RulingAborted, sum.Ruling)
}

func TestDeterministicRunsProduceIdenticalLogs(t *testing.T) {
	normalize := func(records []telemetry.TurnRecord) []telemetry.TurnRecord {
		out := append([]telemetry.TurnRecord(nil), records...)
		for i := range out {
			out[i].Timestamp = time.Time{}
			out[i].LatencyMS = 0
		}
		return out
	}

	run := func() ([]telemetry.TurnRecord, telemetry.MatchSummary) {
		a := offline("heuristic", mustStrategy(t, "simple_heuristic"))
		b := offline("caller", mustStrategy(t, "always_call"))
		sum, records, err := runHeadsUp(t, a, b, 20, time.Minute)
		require.NoError(t, err)
		return normalize(records), sum
	}

	rec1, sum1 := run()
	rec2, sum2 := run()
	assert.Equal(t, rec1, rec2, "turn records differ only in timing fields")
	assert.Equal(t, sum1.FinalScores, sum2.FinalScores)
	assert.Equal(t, sum1.FidelityReport, sum2.FidelityReport)
	assert.Equal(t, sum1.Ruling, sum2.Ruling)
}
