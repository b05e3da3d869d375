package history

import (
	"fmt"
	"strings"
)

// Field indexes into DailyRecord.Fields. The order is the column order of
// every log and never changes.
const (
	HighTemp = iota
	AvgTemp
	LowTemp
	HighDewPoint
	AvgDewPoint
	LowDewPoint
	HighHumidity
	AvgHumidity
	LowHumidity
	HighPressure
	AvgPressure
	LowPressure
	HighVisibility
	AvgVisibility
	LowVisibility
	HighWind
	AvgWind
	LowWind
	TotalPrecip
	Events

	// FieldCount is the number of measurement columns following the date.
	FieldCount
)

// Columns is the log header: the date column followed by the measurements.
var Columns = [FieldCount + 1]string{
	"date",
	"high_temp_f", "avg_temp_f", "low_temp_f",
	"high_dew_point_f", "avg_dew_point_f", "low_dew_point_f",
	"high_humidity_pct", "avg_humidity_pct", "low_humidity_pct",
	"high_sea_level_pressure_in", "avg_sea_level_pressure_in", "low_sea_level_pressure_in",
	"high_visibility_mi", "avg_visibility_mi", "low_visibility_mi",
	"high_wind_mph", "avg_wind_mph", "low_wind_mph",
	"total_precip_in",
	"events",
}

// Header returns a copy of Columns as a slice.
func Header() []string {
	h := make([]string, len(Columns))
	copy(h, Columns[:])
	return h
}

// DailyRecord is one calendar day of observations for a station.
// Unavailable measurements are the empty string.
type DailyRecord struct {
	Date   Date              `json:"date"`
	Fields [FieldCount]string `json:"fields"`
}

// Placeholder returns a record for a day the source had no data for.
func Placeholder(d Date) DailyRecord {
	return DailyRecord{Date: d}
}

// IsPlaceholder reports whether every measurement is empty.
func (r DailyRecord) IsPlaceholder() bool {
	for _, f := range r.Fields {
		if f != "" {
			return false
		}
	}
	return true
}

// Row flattens the record into log column order.
func (r DailyRecord) Row() []string {
	row := make([]string, 0, FieldCount+1)
	row = append(row, r.Date.String())
	return append(row, r.Fields[:]...)
}

// RecordFromRow is the inverse of Row.
func RecordFromRow(row []string) (DailyRecord, error) {
	if len(row) != FieldCount+1 {
		return DailyRecord{}, fmt.Errorf("expected %d columns, got %d", FieldCount+1, len(row))
	}
	d, err := ParseDate(strings.TrimSpace(row[0]))
	if err != nil {
		return DailyRecord{}, err
	}
	rec := DailyRecord{Date: d}
	copy(rec.Fields[:], row[1:])
	return rec, nil
}

// DateWindow is the range of days requested in one fetch. End is inclusive.
type DateWindow struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Contains reports whether d falls inside the window.
func (w DateWindow) Contains(d Date) bool {
	return !d.Before(w.Start) && !d.After(w.End)
}

func (w DateWindow) String() string {
	return w.Start.String() + ".." + w.End.String()
}

// Cursor is the harvest progress: the next day expected in the log and the
// last day requested.
type Cursor struct {
	Next Date
	End  Date
}

// NewCursor starts a cursor at the first requested day.
func NewCursor(start, end Date) Cursor {
	return Cursor{Next: start, End: end}
}

// Done reports whether every requested day has been written.
func (c Cursor) Done() bool {
	return c.Next.After(c.End)
}

// Window is the fetch window from the cursor to the requested end.
func (c Cursor) Window() DateWindow {
	return DateWindow{Start: c.Next, End: c.End}
}

// Past returns the cursor positioned on the day after d.
func (c Cursor) Past(d Date) Cursor {
	c.Next = d.Next()
	return c
}

// Page is the raw content returned for one window.
type Page struct {
	Station string
	Window  DateWindow
	Body    []byte
}
