// Package telemetry persists the audit trail of every match.
//
// Two sinks share one facade: a durable per-match JSONL file that is always
// written synchronously, and an optional asynchronous Mongo document sink.
// The file is the authoritative record; the document sink exists for
// queries and aggregation and is allowed to fail.
package telemetry

import (
	"time"

	"github.com/tourneylab/tourney/referee"
)

// Schema versions stamped on every record. The document sink carries its
// own version because its shape (hashed prompts, aggregates) evolved
// independently of the file format.
const (
	FileSchemaVersion = "1.0.0"
	DocSchemaVersion  = "1.1.0"
)

// Record types for the durable log file.
const (
	RecordTypeTurn         = "turn"
	RecordTypeMatchSummary = "match_summary"
)

// Terminal rulings for a match summary.
const (
	RulingCompleted   = "completed"
	RulingEngineError = "engine_error"
	RulingAborted     = "aborted"
)

// ForfeitRuling renders the terminal ruling for a match forfeited by seat.
func ForfeitRuling(seat string) string { return "forfeited_by:" + seat }

// TurnRecord captures one model decision attempt, including retries and
// forfeits. The logger stamps RecordType, SchemaVersion, MatchID and
// Timestamp.
type TurnRecord struct {
	RecordType    string    `json:"record_type" bson:"record_type"`
	SchemaVersion string    `json:"schema_version" bson:"schema_version"`
	MatchID       string    `json:"match_id" bson:"match_id"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`

	TurnNumber   int    `json:"turn_number" bson:"turn_number"`
	HandNumber   int    `json:"hand_number" bson:"hand_number"`
	Street       string `json:"street" bson:"street"`
	SeatID       string `json:"seat_id" bson:"seat_id"`
	ModelID      string `json:"model_id" bson:"model_id"`
	ModelVersion string `json:"model_version,omitempty" bson:"model_version,omitempty"`

	// Prompt is verbatim in the file sink. The document sink replaces it
	// with PromptHash and PromptChars unless prompt storage is enabled.
	Prompt      string `json:"prompt,omitempty" bson:"prompt,omitempty"`
	PromptHash  string `json:"prompt_hash,omitempty" bson:"prompt_hash,omitempty"`
	PromptChars int    `json:"prompt_chars,omitempty" bson:"prompt_chars,omitempty"`

	RawOutput        string         `json:"raw_output" bson:"raw_output"`
	ReasoningOutput  string         `json:"reasoning_output,omitempty" bson:"reasoning_output,omitempty"`
	ParsedAction     map[string]any `json:"parsed_action,omitempty" bson:"parsed_action,omitempty"`
	ParseSuccess     bool           `json:"parse_success" bson:"parse_success"`
	ValidationResult string         `json:"validation_result,omitempty" bson:"validation_result,omitempty"`
	Violation        string         `json:"violation,omitempty" bson:"violation,omitempty"`
	ViolationDetails string         `json:"violation_details,omitempty" bson:"violation_details,omitempty"`
	Ruling           string         `json:"ruling,omitempty" bson:"ruling,omitempty"`

	StateSnapshot map[string]any `json:"state_snapshot,omitempty" bson:"state_snapshot,omitempty"`

	InputTokens       int   `json:"input_tokens" bson:"input_tokens"`
	OutputTokens      int   `json:"output_tokens" bson:"output_tokens"`
	LatencyMS         int64 `json:"latency_ms" bson:"latency_ms"`
	ShotClockMS       int64 `json:"shot_clock_ms" bson:"shot_clock_ms"`
	ShotClockExceeded bool  `json:"shot_clock_exceeded" bson:"shot_clock_exceeded"`

	Strikes     int `json:"strikes" bson:"strikes"`
	StrikeLimit int `json:"strike_limit" bson:"strike_limit"`

	EngineVersion string `json:"engine_version" bson:"engine_version"`
	PromptVersion string `json:"prompt_version" bson:"prompt_version"`
}

// MatchSummary is the terminal record of a match, emitted exactly once.
type MatchSummary struct {
	RecordType    string    `json:"record_type" bson:"record_type"`
	SchemaVersion string    `json:"schema_version" bson:"schema_version"`
	MatchID       string    `json:"match_id" bson:"match_id"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`

	Event          string             `json:"event" bson:"event"`
	FinalScores    map[string]float64 `json:"final_scores" bson:"final_scores"`
	FidelityReport referee.Report     `json:"fidelity_report" bson:"fidelity_report"`
	Ruling         string             `json:"ruling" bson:"ruling"`
	ErrorDetail    string             `json:"error_detail,omitempty" bson:"error_detail,omitempty"`

	// PlayerModels binds each seat to the model that played it.
	PlayerModels   map[string]string `json:"player_models" bson:"player_models"`
	HighlightHands []int             `json:"highlight_hands,omitempty" bson:"highlight_hands,omitempty"`
	EngineVersion  string            `json:"engine_version,omitempty" bson:"engine_version,omitempty"`
	DurationMS     int64             `json:"duration_ms" bson:"duration_ms"`
}

// Winner returns the model of the unique top scorer, or "" on a tie.
func (m *MatchSummary) Winner() string {
	bestSeat := ""
	best := 0.0
	tied := false
	for seat, score := range m.FinalScores {
		switch {
		case bestSeat == "" || score > best:
			bestSeat, best, tied = seat, score, false
		case score == best:
			tied = true
		}
	}
	if bestSeat == "" || tied {
		return ""
	}
	return m.PlayerModels[bestSeat]
}
