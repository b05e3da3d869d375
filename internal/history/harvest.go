package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"
)

// Harvester drives the page fetcher across successive windows and appends
// every resolved record to the log (pass 1).
type Harvester struct {
	fetcher PageFetcher
	parser  TableParser
	store   Store
}

// NewHarvester creates a new Harvester.
func NewHarvester(fetcher PageFetcher, parser TableParser, store Store) *Harvester {
	return &Harvester{
		fetcher: fetcher,
		parser:  parser,
		store:   store,
	}
}

// HarvestResult summarizes one pass-1 run.
type HarvestResult struct {
	Log          LogName       `json:"log"`
	Windows      int           `json:"windows"`
	Records      int           `json:"records"`
	Placeholders int           `json:"placeholders"`
	Last         Date          `json:"last"`
	Next         Date          `json:"next"`
	Elapsed      time.Duration `json:"elapsed"`
}

// StepResult is the outcome of a single window.
type StepResult struct {
	Cursor       Cursor
	Records      int
	Placeholders int
	Last         Date
}

// Harvest creates the log and fills it from name.Start to name.End.
func (h *Harvester) Harvest(ctx context.Context, name LogName) (HarvestResult, error) {
	if name.End.Before(name.Start) {
		return HarvestResult{Log: name}, fmt.Errorf("%w: end %s precedes start %s", ErrInvalidRange, name.End, name.Start)
	}

	w, err := h.store.Create(ctx, name)
	if err != nil {
		return HarvestResult{Log: name}, fmt.Errorf("initialize log %s: %w", name, err)
	}
	return h.runAndClose(ctx, name, NewCursor(name.Start, name.End), w)
}

// Resume continues an interrupted harvest from the day after the last
// record already in the log.
func (h *Harvester) Resume(ctx context.Context, name LogName) (HarvestResult, error) {
	last, ok, err := LastRecord(ctx, h.store, name)
	if err != nil {
		return HarvestResult{Log: name}, err
	}

	cur := NewCursor(name.Start, name.End)
	if ok {
		if last.Date.Before(name.Start) || last.Date.After(name.End) {
			return HarvestResult{Log: name}, fmt.Errorf("%w: last record %s outside %s", ErrOutOfRange, last.Date, name.Range())
		}
		cur = cur.Past(last.Date)
	}
	if cur.Done() {
		log.Printf("INFO: harvest: %s already complete through %s", name, name.End)
		return HarvestResult{Log: name, Last: last.Date, Next: cur.Next}, nil
	}

	log.Printf("INFO: harvest: resuming %s at %s", name, cur.Next)
	w, err := h.store.Reopen(ctx, name)
	if err != nil {
		return HarvestResult{Log: name}, fmt.Errorf("reopen log %s: %w", name, err)
	}
	return h.runAndClose(ctx, name, cur, w)
}

func (h *Harvester) runAndClose(ctx context.Context, name LogName, cur Cursor, w LogWriter) (HarvestResult, error) {
	res, err := h.Run(ctx, name.Station, cur, w)
	res.Log = name
	if cerr := w.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close log %s: %w", name, cerr)
	}
	return res, err
}

// Run loops Step until the cursor passes its end. Cancellation is honoured
// only between windows so the log always ends on a complete record.
func (h *Harvester) Run(ctx context.Context, station string, cur Cursor, w RecordWriter) (HarvestResult, error) {
	started := time.Now()
	res := HarvestResult{Next: cur.Next}

	for !cur.Done() {
		if err := ctx.Err(); err != nil {
			res.Elapsed = time.Since(started)
			return res, fmt.Errorf("harvest interrupted before %s: %w", cur.Next, err)
		}

		step, err := h.Step(context.WithoutCancel(ctx), station, cur, w)
		res.Windows++
		res.Records += step.Records
		res.Placeholders += step.Placeholders
		if !step.Last.IsZero() {
			res.Last = step.Last
		}
		cur = step.Cursor
		res.Next = cur.Next
		if err != nil {
			res.Elapsed = time.Since(started)
			return res, err
		}
	}

	res.Elapsed = time.Since(started)
	return res, nil
}

// Step fetches the window starting at the cursor and appends what it finds.
// A window with no data yields a placeholder for the cursor day so the next
// window starts one day later. The returned cursor reflects every append
// that succeeded, also when an error is returned.
func (h *Harvester) Step(ctx context.Context, station string, cur Cursor, w RecordWriter) (StepResult, error) {
	res := StepResult{Cursor: cur}
	window := cur.Window()

	page, err := h.fetcher.Fetch(ctx, station, window)
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{Station: station, Window: window, Err: err}
		}
		return res, err
	}

	parsed, err := h.parser.Parse(page)
	if err != nil {
		return res, fmt.Errorf("parse %s %s: %w", station, window, err)
	}

	records, err := inWindow(parsed, window)
	if err != nil {
		return res, fmt.Errorf("parse %s %s: %w", station, window, err)
	}

	if len(records) == 0 {
		ph := Placeholder(cur.Next)
		if err := w.Append(ctx, ph); err != nil {
			return res, fmt.Errorf("append placeholder %s: %w", ph.Date, err)
		}
		log.Printf("INFO: harvest: %s %s empty, placeholder for %s", station, window, ph.Date)
		res.Cursor = cur.Past(ph.Date)
		res.Placeholders = 1
		res.Last = ph.Date
		return res, nil
	}

	for _, rec := range records {
		if err := w.Append(ctx, rec); err != nil {
			return res, fmt.Errorf("append %s: %w", rec.Date, err)
		}
		res.Cursor = res.Cursor.Past(rec.Date)
		res.Records++
		res.Last = rec.Date
	}
	log.Printf("INFO: harvest: %s %s -> %d record(s) through %s", station, window, res.Records, res.Last)
	return res, nil
}

// inWindow checks that records are strictly increasing and start inside the
// window, and drops any the source returned past the window end.
func inWindow(records []DailyRecord, window DateWindow) ([]DailyRecord, error) {
	out := make([]DailyRecord, 0, len(records))
	for i, rec := range records {
		if rec.Date.Before(window.Start) {
			return nil, fmt.Errorf("%w: %s precedes window start %s", ErrOutOfOrder, rec.Date, window.Start)
		}
		if i > 0 && !rec.Date.After(records[i-1].Date) {
			return nil, fmt.Errorf("%w: %s follows %s", ErrOutOfOrder, rec.Date, records[i-1].Date)
		}
		if rec.Date.After(window.End) {
			log.Printf("WARN: harvest: ignoring %s beyond window end %s", rec.Date, window.End)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// LastRecord returns the final record of a log; ok is false for a log that
// holds only its header.
func LastRecord(ctx context.Context, store Store, name LogName) (last DailyRecord, ok bool, err error) {
	r, err := store.Open(ctx, name)
	if err != nil {
		return DailyRecord{}, false, fmt.Errorf("open log %s: %w", name, err)
	}
	defer r.Close()

	for {
		rec, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return last, ok, nil
		}
		if err != nil {
			return DailyRecord{}, false, fmt.Errorf("read log %s: %w", name, err)
		}
		last, ok = rec, true
	}
}
