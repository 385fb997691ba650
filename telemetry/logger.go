package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"goa.design/clue/log"
)

// Logger is the per-match telemetry facade. Writes to the durable file are
// synchronous and fatal on failure; the document sink and live feed are
// best-effort. One match-driving routine owns each Logger.
type Logger struct {
	matchID   string
	file      *os.File
	sink      *Sink
	live      *LiveFeed
	turns     int
	finalized bool
}

// NewLogger opens (or appends to) the durable log file <dir>/<matchID>.log.
// sink and live may be nil.
func NewLogger(dir, matchID string, sink *Sink, live *LiveFeed) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(dir, matchID+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open match log %s: %w", path, err)
	}
	return &Logger{matchID: matchID, file: f, sink: sink, live: live}, nil
}

// MatchID returns the match this logger is bound to.
func (l *Logger) MatchID() string { return l.matchID }

// Turns returns the number of turn records written so far.
func (l *Logger) Turns() int { return l.turns }

// LogTurn writes the record to the file sink and enqueues it for the
// document sink. A file write failure is returned to the caller: the audit
// trail is non-negotiable and the run must stop.
func (l *Logger) LogTurn(ctx context.Context, rec TurnRecord) error {
	rec.RecordType = RecordTypeTurn
	rec.SchemaVersion = FileSchemaVersion
	rec.MatchID = l.matchID
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if err := l.write(rec); err != nil {
		return err
	}
	l.turns++
	if l.sink != nil {
		l.sink.EnqueueTurn(ctx, rec)
	}
	if l.live != nil {
		l.live.PublishTurn(ctx, rec)
	}
	return nil
}

// FinalizeMatch writes the terminal summary record and enqueues the match
// document. It is idempotent: only the first call writes.
func (l *Logger) FinalizeMatch(ctx context.Context, sum MatchSummary) error {
	if l.finalized {
		return nil
	}
	sum.RecordType = RecordTypeMatchSummary
	sum.SchemaVersion = FileSchemaVersion
	sum.MatchID = l.matchID
	if sum.Timestamp.IsZero() {
		sum.Timestamp = time.Now().UTC()
	}
	if err := l.write(sum); err != nil {
		return err
	}
	l.finalized = true
	if l.sink != nil {
		l.sink.EnqueueMatch(ctx, sum)
	}
	if l.live != nil {
		l.live.PublishSummary(ctx, sum)
	}
	return nil
}

// Close releases the file. If the driving code never reached its own
// finalize (a crash path the runner's recover did not cover), a stub
// summary is emitted first so the log still ends with a match summary.
func (l *Logger) Close(ctx context.Context) error {
	if !l.finalized {
		log.Warnf(ctx, "match %s closed without finalize, writing stub summary", l.matchID)
		if err := l.FinalizeMatch(ctx, MatchSummary{Ruling: RulingAborted}); err != nil {
			l.file.Close()
			return err
		}
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close match log %s: %w", l.matchID, err)
	}
	return nil
}

func (l *Logger) write(rec any) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal telemetry record: %w", err)
	}
	line = append(line, '\n')
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("write match log %s: %w", l.matchID, err)
	}
	return nil
}
