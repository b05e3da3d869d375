package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"
)

// GapFiller rewrites a completed pass-1 log so that it holds exactly one
// record per day (pass 2).
type GapFiller struct {
	store Store
}

// NewGapFiller creates a new GapFiller.
func NewGapFiller(store Store) *GapFiller {
	return &GapFiller{store: store}
}

// GapFillResult summarizes one pass-2 run.
type GapFillResult struct {
	Log      LogName       `json:"log"`
	Records  int           `json:"records"`
	Inserted int           `json:"inserted"`
	Last     Date          `json:"last"`
	Complete bool          `json:"complete"`
	Elapsed  time.Duration `json:"elapsed"`
}

// FillPath decodes the range from a log file name and fills it.
func (g *GapFiller) FillPath(ctx context.Context, path string) (GapFillResult, error) {
	name, err := ParseLogName(path)
	if err != nil {
		return GapFillResult{}, err
	}
	return g.Fill(ctx, name)
}

// Fill replaces the log with a gapless copy. Nothing is replaced on error.
func (g *GapFiller) Fill(ctx context.Context, name LogName) (GapFillResult, error) {
	started := time.Now()
	var res GapFillResult

	err := g.store.Rewrite(ctx, name, func(src LogReader, dst RecordWriter) error {
		var err error
		res, err = FillGaps(ctx, name, src, dst)
		return err
	})
	res.Log = name
	res.Elapsed = time.Since(started)
	if err != nil {
		return res, fmt.Errorf("gap-fill %s: %w", name, err)
	}

	if !res.Complete {
		log.Printf("WARN: gapfill: %s ends at %s, before %s; resume the harvest to complete it", name, res.Last, name.End)
	}
	log.Printf("INFO: gapfill: %s rewritten with %d record(s), %d inserted", name, res.Records, res.Inserted)
	return res, nil
}

// FillGaps copies src to dst in order, emitting a placeholder for every day
// between name.Start and the last record that src does not hold.
// A first record later than name.Start is a leading gap and is filled like
// any other; only a first record earlier than name.Start, or an empty log,
// fails with ErrStartMismatch.
func FillGaps(ctx context.Context, name LogName, src LogReader, dst RecordWriter) (GapFillResult, error) {
	res := GapFillResult{Log: name}
	cur := NewCursor(name.Start, name.End)
	first := true

	for {
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}

		if first {
			if rec.Date.Before(name.Start) {
				return res, fmt.Errorf("%w: %s, expected %s", ErrStartMismatch, rec.Date, name.Start)
			}
			first = false
		}
		if rec.Date.After(name.End) {
			return res, fmt.Errorf("%w: %s after %s", ErrOutOfRange, rec.Date, name.End)
		}
		if rec.Date.Before(cur.Next) {
			return res, fmt.Errorf("%w: %s repeats or precedes %s", ErrOutOfOrder, rec.Date, cur.Next.AddDays(-1))
		}

		for cur.Next.Before(rec.Date) {
			if err := dst.Append(ctx, Placeholder(cur.Next)); err != nil {
				return res, err
			}
			res.Inserted++
			res.Records++
			cur = cur.Past(cur.Next)
		}

		if err := dst.Append(ctx, rec); err != nil {
			return res, err
		}
		res.Records++
		res.Last = rec.Date
		cur = cur.Past(rec.Date)
	}

	if first {
		return res, fmt.Errorf("%w: log has no records", ErrStartMismatch)
	}
	res.Complete = cur.Done()
	return res, nil
}
