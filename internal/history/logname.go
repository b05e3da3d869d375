package history

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultExt is the extension used for logs when none is given.
const DefaultExt = "csv"

// LogName identifies a log. Its string form {STATION}_{start}_{end}.{ext} is
// parsed back by the gap-fill pass to recover the requested range, so every
// field must survive the round trip.
type LogName struct {
	Station string
	Start   Date
	End     Date
	Ext     string
}

// NewLogName validates a harvest request and returns the log it writes to.
func NewLogName(station string, start, end Date) (LogName, error) {
	station = strings.ToUpper(strings.TrimSpace(station))
	if err := CheckStation(station); err != nil {
		return LogName{}, err
	}
	if end.Before(start) {
		return LogName{}, fmt.Errorf("%w: end %s precedes start %s", ErrInvalidRange, end, start)
	}
	return LogName{Station: station, Start: start, End: end, Ext: DefaultExt}, nil
}

// CheckStation rejects identifiers that cannot round-trip through a log name.
func CheckStation(station string) error {
	if station == "" {
		return fmt.Errorf("%w: identifier is empty", ErrInvalidStation)
	}
	if strings.ContainsAny(station, "_./\\ ") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidStation, station)
	}
	return nil
}

// ParseLogName decomposes a file name (a directory prefix is ignored).
func ParseLogName(path string) (LogName, error) {
	base := filepath.Base(path)
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 || dot == len(base)-1 {
		return LogName{}, fmt.Errorf("%w: %q has no extension", ErrBadLogName, base)
	}
	stem, ext := base[:dot], base[dot+1:]

	parts := strings.Split(stem, "_")
	if len(parts) != 3 {
		return LogName{}, fmt.Errorf("%w: %q is not STATION_START_END", ErrBadLogName, base)
	}
	start, err := ParseDate(parts[1])
	if err != nil {
		return LogName{}, fmt.Errorf("%w: start token: %v", ErrBadLogName, err)
	}
	end, err := ParseDate(parts[2])
	if err != nil {
		return LogName{}, fmt.Errorf("%w: end token: %v", ErrBadLogName, err)
	}

	if err := CheckStation(parts[0]); err != nil {
		return LogName{}, fmt.Errorf("%w: %v", ErrBadLogName, err)
	}
	if end.Before(start) {
		return LogName{}, fmt.Errorf("%w: end %s precedes start %s", ErrBadLogName, end, start)
	}
	return LogName{Station: parts[0], Start: start, End: end, Ext: ext}, nil
}

// Range is the window covering the whole log.
func (n LogName) Range() DateWindow {
	return DateWindow{Start: n.Start, End: n.End}
}

// Stem is the file name without extension. It is also the key used by
// stores that do not deal in files.
func (n LogName) Stem() string {
	return fmt.Sprintf("%s_%s_%s", n.Station, n.Start, n.End)
}

func (n LogName) String() string {
	ext := n.Ext
	if ext == "" {
		ext = DefaultExt
	}
	return n.Stem() + "." + ext
}
