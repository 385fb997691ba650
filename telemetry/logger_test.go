package telemetry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestLoggerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l, err := NewLogger(dir, "holdem-abc123", nil, nil)
	require.NoError(t, err)

	require.NoError(t, l.LogTurn(ctx, TurnRecord{
		TurnNumber: 1,
		HandNumber: 1,
		SeatID:     "player_a",
		ModelID:    "offline:always_call",
		RawOutput:  `{"action": "call"}`,
	}))
	require.NoError(t, l.LogTurn(ctx, TurnRecord{TurnNumber: 2, HandNumber: 1, SeatID: "player_b"}))
	assert.Equal(t, 2, l.Turns())

	require.NoError(t, l.FinalizeMatch(ctx, MatchSummary{
		Event:       "holdem",
		FinalScores: map[string]float64{"player_a": 400, "player_b": 0},
		Ruling:      RulingCompleted,
	}))
	require.NoError(t, l.Close(ctx))

	lines := readLines(t, filepath.Join(dir, "holdem-abc123.log"))
	require.Len(t, lines, 3)

	var turn TurnRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &turn))
	assert.Equal(t, RecordTypeTurn, turn.RecordType)
	assert.Equal(t, FileSchemaVersion, turn.SchemaVersion)
	assert.Equal(t, "holdem-abc123", turn.MatchID)
	assert.False(t, turn.Timestamp.IsZero())

	var sum MatchSummary
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &sum))
	assert.Equal(t, RecordTypeMatchSummary, sum.RecordType)
	assert.Equal(t, RulingCompleted, sum.Ruling)
	assert.Equal(t, "holdem-abc123", sum.MatchID)
}

func TestFinalizeMatchIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l, err := NewLogger(dir, "m1", nil, nil)
	require.NoError(t, err)
	require.NoError(t, l.FinalizeMatch(ctx, MatchSummary{Ruling: RulingCompleted}))
	require.NoError(t, l.FinalizeMatch(ctx, MatchSummary{Ruling: RulingEngineError}))
	require.NoError(t, l.Close(ctx))

	lines := readLines(t, filepath.Join(dir, "m1.log"))
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], RulingCompleted)
}

func TestCloseWithoutFinalizeWritesStub(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l, err := NewLogger(dir, "m2", nil, nil)
	require.NoError(t, err)
	require.NoError(t, l.LogTurn(ctx, TurnRecord{TurnNumber: 1}))
	require.NoError(t, l.Close(ctx))

	lines := readLines(t, filepath.Join(dir, "m2.log"))
	require.Len(t, lines, 2)

	var sum MatchSummary
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &sum))
	assert.Equal(t, RecordTypeMatchSummary, sum.RecordType)
	assert.Equal(t, RulingAborted, sum.Ruling)
}

func TestForfeitRuling(t *testing.T) {
	assert.Equal(t, "forfeited_by:player_b", ForfeitRuling("player_b"))
}

func TestMatchSummaryWinner(t *testing.T) {
	sum := MatchSummary{
		FinalScores:  map[string]float64{"player_a": 400, "player_b": 0},
		PlayerModels: map[string]string{"player_a": "gpt-5", "player_b": "claude-sonnet-4"},
	}
	assert.Equal(t, "gpt-5", sum.Winner())

	sum.FinalScores = map[string]float64{"player_a": 200, "player_b": 200}
	assert.Empty(t, sum.Winner(), "ties have no winner")

	sum.FinalScores = nil
	assert.Empty(t, sum.Winner())
}
