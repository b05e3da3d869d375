package history

import (
	"context"
	"errors"
	"io"
	"testing"
)

type sliceReader struct {
	records []DailyRecord
}

func (r *sliceReader) Next(context.Context) (DailyRecord, error) {
	if len(r.records) == 0 {
		return DailyRecord{}, io.EOF
	}
	rec := r.records[0]
	r.records = r.records[1:]
	return rec, nil
}

func (r *sliceReader) Close() error { return nil }

func readerOf(t *testing.T, dates ...string) *sliceReader {
	r := &sliceReader{}
	for _, d := range dates {
		r.records = append(r.records, observed(mustDate(t, d)))
	}
	return r
}

func TestFillGapsInsertsMissingDay(t *testing.T) {
	name, err := ParseLogName("KSFO_2019-06-01_2019-06-03.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := &recordLog{}

	res, err := FillGaps(context.Background(), name, readerOf(t, "2019-06-01", "2019-06-03"), out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, out.records, "2019-06-01", "2019-06-02", "2019-06-03")
	if !out.records[1].IsPlaceholder() || out.records[0].IsPlaceholder() || out.records[2].IsPlaceholder() {
		t.Fatalf("only 2019-06-02 should be a placeholder")
	}
	if res.Inserted != 1 || res.Records != 3 || !res.Complete {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestFillGapsIsIdempotent(t *testing.T) {
	name, _ := ParseLogName("KSFO_2019-06-01_2019-06-03.csv")
	first := &recordLog{}
	if _, err := FillGaps(context.Background(), name, readerOf(t, "2019-06-01", "2019-06-03"), first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := &recordLog{}
	res, err := FillGaps(context.Background(), name, &sliceReader{records: append([]DailyRecord(nil), first.records...)}, second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Inserted != 0 {
		t.Fatalf("expected no insertions on a gapless log, got %d", res.Inserted)
	}
	if len(second.records) != len(first.records) {
		t.Fatalf("expected %d records, got %d", len(first.records), len(second.records))
	}
	for i := range first.records {
		if first.records[i] != second.records[i] {
			t.Fatalf("record %d changed: %+v vs %+v", i, first.records[i], second.records[i])
		}
	}
}

func TestFillGapsLeadingGap(t *testing.T) {
	name, _ := ParseLogName("KSFO_2019-06-01_2019-06-03.csv")
	out := &recordLog{}

	if _, err := FillGaps(context.Background(), name, readerOf(t, "2019-06-02", "2019-06-03"), out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDates(t, out.records, "2019-06-01", "2019-06-02", "2019-06-03")
}

func TestFillGapsIncompleteLog(t *testing.T) {
	name, _ := ParseLogName("KSFO_2019-06-01_2019-06-05.csv")
	out := &recordLog{}

	res, err := FillGaps(context.Background(), name, readerOf(t, "2019-06-01", "2019-06-03"), out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Nothing is invented past the last record.
	assertDates(t, out.records, "2019-06-01", "2019-06-02", "2019-06-03")
	if res.Complete {
		t.Fatalf("log ending before its end date must not be reported complete")
	}
}

func TestFillGapsErrors(t *testing.T) {
	name, _ := ParseLogName("KSFO_2019-06-01_2019-06-03.csv")

	cases := []struct {
		desc  string
		dates []string
		want  error
	}{
		{"starts early", []string{"2019-05-31", "2019-06-01"}, ErrStartMismatch},
		{"empty log", nil, ErrStartMismatch},
		{"past end", []string{"2019-06-01", "2019-06-04"}, ErrOutOfRange},
		{"duplicate", []string{"2019-06-01", "2019-06-02", "2019-06-02"}, ErrOutOfOrder},
		{"backwards", []string{"2019-06-02", "2019-06-01"}, ErrOutOfOrder},
	}
	for _, tc := range cases {
		_, err := FillGaps(context.Background(), name, readerOf(t, tc.dates...), &recordLog{})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.desc, tc.want, err)
		}
	}
}
