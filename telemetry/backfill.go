package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"
)

// Backfill replays a durable match log file into the document store. The
// unique turn index makes replays idempotent: duplicate key errors from an
// unordered insert mean the records are already present and are not a
// failure. Runs synchronously, bypassing the async queue.
func Backfill(ctx context.Context, s *Sink, path string) error {
	if s.disabled {
		return fmt.Errorf("backfill %s: document sink is disabled", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	defer f.Close()

	var (
		turns   []any
		lineNum int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 16<<20)
	for sc.Scan() {
		lineNum++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var header struct {
			RecordType string `json:"record_type"`
		}
		if err := json.Unmarshal(line, &header); err != nil {
			return fmt.Errorf("backfill %s line %d: %w", path, lineNum, err)
		}
		switch header.RecordType {
		case RecordTypeTurn:
			var rec TurnRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return fmt.Errorf("backfill %s line %d: %w", path, lineNum, err)
			}
			rec.SchemaVersion = DocSchemaVersion
			if !s.opts.StorePrompts && rec.Prompt != "" {
				hashPrompt(&rec, s.opts.PromptSalt)
			}
			turns = append(turns, &rec)
		case RecordTypeMatchSummary:
			var sum MatchSummary
			if err := json.Unmarshal(line, &sum); err != nil {
				return fmt.Errorf("backfill %s line %d: %w", path, lineNum, err)
			}
			if err := flushTurns(ctx, s, &turns); err != nil {
				return fmt.Errorf("backfill %s: %w", path, err)
			}
			s.EnqueueMatchSync(ctx, sum)
		default:
			return fmt.Errorf("backfill %s line %d: unknown record type %q", path, lineNum, header.RecordType)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("backfill %s: %w", path, err)
	}
	if err := flushTurns(ctx, s, &turns); err != nil {
		return fmt.Errorf("backfill %s: %w", path, err)
	}
	log.Infof(ctx, "backfilled %s: %d records", path, lineNum)
	return nil
}

func flushTurns(ctx context.Context, s *Sink, turns *[]any) error {
	if len(*turns) == 0 {
		return nil
	}
	_, err := s.turns.InsertMany(ctx, *turns, options.InsertMany().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return err
	}
	*turns = (*turns)[:0]
	return nil
}
