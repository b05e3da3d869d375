package history

import (
	"context"
	"errors"
	"testing"
)

// fakeSource serves a fixed set of days. With contiguous set it behaves like
// a source that stops at the first day it has no data for, so a window
// starting on a missing day comes back empty.
type fakeSource struct {
	days       map[Date]bool
	contiguous bool
	failAt     Date
	extra      []DailyRecord
	windows    []DateWindow
}

func newFakeSource(t *testing.T, contiguous bool, days ...string) *fakeSource {
	src := &fakeSource{days: make(map[Date]bool), contiguous: contiguous}
	for _, d := range days {
		src.days[mustDate(t, d)] = true
	}
	return src
}

func (s *fakeSource) Fetch(_ context.Context, station string, w DateWindow) (Page, error) {
	s.windows = append(s.windows, w)
	if !s.failAt.IsZero() && w.Start == s.failAt {
		return Page{}, errors.New("connection reset by peer")
	}
	return Page{Station: station, Window: w}, nil
}

func (s *fakeSource) Parse(page Page) ([]DailyRecord, error) {
	var out []DailyRecord
	for d := page.Window.Start; !d.After(page.Window.End); d = d.Next() {
		if !s.days[d] {
			if s.contiguous {
				break
			}
			continue
		}
		out = append(out, observed(d))
	}
	return append(out, s.extra...), nil
}

func observed(d Date) DailyRecord {
	rec := DailyRecord{Date: d}
	rec.Fields[HighTemp] = "70"
	rec.Fields[Events] = "Rain"
	return rec
}

// recordLog is an in-memory RecordWriter that can be told to fail.
type recordLog struct {
	records   []DailyRecord
	failAfter int
}

func (l *recordLog) Append(_ context.Context, rec DailyRecord) error {
	if l.failAfter > 0 && len(l.records) >= l.failAfter {
		return errors.New("disk full")
	}
	l.records = append(l.records, rec)
	return nil
}

func datesOf(records []DailyRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Date.String()
	}
	return out
}

func assertDates(t *testing.T, records []DailyRecord, want ...string) {
	t.Helper()
	got := datesOf(records)
	if len(got) != len(want) {
		t.Fatalf("expected dates %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected dates %v, got %v", want, got)
		}
	}
}

func runHarvest(t *testing.T, src *fakeSource, start, end string, w RecordWriter) (HarvestResult, error) {
	t.Helper()
	h := NewHarvester(src, src, nil)
	return h.Run(context.Background(), "KSFO", NewCursor(mustDate(t, start), mustDate(t, end)), w)
}

func TestHarvestEmptyWindowAdvancesOneDay(t *testing.T) {
	src := newFakeSource(t, true, "2020-01-01", "2020-01-02", "2020-01-04", "2020-01-05")
	out := &recordLog{}

	res, err := runHarvest(t, src, "2020-01-01", "2020-01-05", out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertDates(t, out.records, "2020-01-01", "2020-01-02", "2020-01-03", "2020-01-04", "2020-01-05")
	for i, rec := range out.records {
		if (i == 2) != rec.IsPlaceholder() {
			t.Fatalf("record %s: placeholder=%v", rec.Date, rec.IsPlaceholder())
		}
	}
	if res.Windows != 3 || res.Records != 4 || res.Placeholders != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := src.windows[1].String(); got != "2020-01-03..2020-01-05" {
		t.Fatalf("expected second window to start at the cursor, got %s", got)
	}
}

func TestHarvestDayAbsentFromHistory(t *testing.T) {
	// 01-03 is never served, whatever the window.
	src := newFakeSource(t, true, "2020-01-01", "2020-01-02", "2020-01-04", "2020-01-05")
	out := &recordLog{}

	if _, err := runHarvest(t, src, "2020-01-01", "2020-01-05", out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	placeholders := 0
	for _, rec := range out.records {
		if rec.Date == mustDate(t, "2020-01-03") {
			if !rec.IsPlaceholder() {
				t.Fatalf("expected placeholder for 2020-01-03")
			}
			placeholders++
		}
	}
	if placeholders != 1 {
		t.Fatalf("expected exactly one record for 2020-01-03, got %d", placeholders)
	}
	if len(src.windows) > 5 {
		t.Fatalf("expected at most one fetch per day, got %d", len(src.windows))
	}
}

func TestHarvestTerminalPlaceholder(t *testing.T) {
	src := newFakeSource(t, true, "2020-01-01", "2020-01-02")
	out := &recordLog{}

	res, err := runHarvest(t, src, "2020-01-01", "2020-01-04", out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, out.records, "2020-01-01", "2020-01-02", "2020-01-03", "2020-01-04")
	if !out.records[3].IsPlaceholder() {
		t.Fatalf("expected terminal placeholder for the end date")
	}
	if res.Last.String() != "2020-01-04" || res.Next.String() != "2020-01-05" {
		t.Fatalf("unexpected progress %+v", res)
	}
}

func TestHarvestKeepsGapsWithinPage(t *testing.T) {
	src := newFakeSource(t, false, "2020-01-01", "2020-01-02", "2020-01-04", "2020-01-05")
	out := &recordLog{}

	res, err := runHarvest(t, src, "2020-01-01", "2020-01-05", out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, out.records, "2020-01-01", "2020-01-02", "2020-01-04", "2020-01-05")
	if res.Windows != 1 || res.Placeholders != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestStepReturnsUpdatedCursor(t *testing.T) {
	src := newFakeSource(t, true, "2020-01-01", "2020-01-02")
	h := NewHarvester(src, src, nil)
	out := &recordLog{}
	cur := NewCursor(mustDate(t, "2020-01-01"), mustDate(t, "2020-01-10"))

	step, err := h.Step(context.Background(), "KSFO", cur, out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.Cursor.Next.String() != "2020-01-03" || step.Records != 2 {
		t.Fatalf("unexpected step %+v", step)
	}
	if cur.Next.String() != "2020-01-01" {
		t.Fatalf("input cursor must not change, got %s", cur.Next)
	}
}

func TestHarvestFetchErrorKeepsPrefix(t *testing.T) {
	src := newFakeSource(t, true, "2020-01-01", "2020-01-02", "2020-01-04")
	src.failAt = mustDate(t, "2020-01-03")
	out := &recordLog{}

	res, err := runHarvest(t, src, "2020-01-01", "2020-01-05", out)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Window.Start.String() != "2020-01-03" {
		t.Fatalf("unexpected failing window %s", fe.Window)
	}
	// No placeholder may stand in for a failed fetch.
	assertDates(t, out.records, "2020-01-01", "2020-01-02")
	if res.Next.String() != "2020-01-03" {
		t.Fatalf("expected resume point 2020-01-03, got %s", res.Next)
	}
}

func TestHarvestSinkFailure(t *testing.T) {
	src := newFakeSource(t, true, "2020-01-01", "2020-01-02", "2020-01-03")
	out := &recordLog{failAfter: 2}

	res, err := runHarvest(t, src, "2020-01-01", "2020-01-03", out)
	if err == nil {
		t.Fatalf("expected append error")
	}
	if res.Next.String() != "2020-01-03" || res.Records != 2 {
		t.Fatalf("cursor should reflect the appends that succeeded, got %+v", res)
	}
}

func TestStepRejectsOutOfOrderRows(t *testing.T) {
	cases := map[string][]DailyRecord{
		"before window": {observed(mustDate(t, "2019-12-31"))},
		"repeated day":  {observed(mustDate(t, "2020-01-01")), observed(mustDate(t, "2020-01-01"))},
	}
	for name, extra := range cases {
		src := newFakeSource(t, true)
		src.extra = extra
		out := &recordLog{}

		_, err := runHarvest(t, src, "2020-01-01", "2020-01-02", out)
		if !errors.Is(err, ErrOutOfOrder) {
			t.Fatalf("%s: expected ErrOutOfOrder, got %v", name, err)
		}
		if len(out.records) != 0 {
			t.Fatalf("%s: nothing should be appended, got %v", name, datesOf(out.records))
		}
	}
}

func TestStepDropsRowsPastWindow(t *testing.T) {
	src := newFakeSource(t, true, "2020-01-01")
	src.extra = []DailyRecord{observed(mustDate(t, "2020-01-09"))}
	out := &recordLog{}

	if _, err := runHarvest(t, src, "2020-01-01", "2020-01-01", out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, out.records, "2020-01-01")
}

func TestRunStopsBetweenWindows(t *testing.T) {
	src := newFakeSource(t, true, "2020-01-01")
	out := &recordLog{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := NewHarvester(src, src, nil)
	_, err := h.Run(ctx, "KSFO", NewCursor(mustDate(t, "2020-01-01"), mustDate(t, "2020-01-02")), out)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(src.windows) != 0 {
		t.Fatalf("expected no fetch after cancellation, got %d", len(src.windows))
	}
}
