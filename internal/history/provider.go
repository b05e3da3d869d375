package history

import (
	"context"
)

// PageFetcher retrieves the source page for one station and window.
// Implementations own timeouts; any error is treated as a transient
// retrieval failure and ends the run.
type PageFetcher interface {
	Fetch(ctx context.Context, station string, window DateWindow) (Page, error)
}

// TableParser turns a fetched page into dated records in source order.
// An empty result means the source has no data for the window.
type TableParser interface {
	Parse(page Page) ([]DailyRecord, error)
}

// RecordWriter appends complete records to the end of a log.
type RecordWriter interface {
	Append(ctx context.Context, rec DailyRecord) error
}

// LogWriter is a RecordWriter holding the log open until Close.
type LogWriter interface {
	RecordWriter
	Close() error
}

// LogReader streams a log in stored order. Next returns io.EOF after the
// last record.
type LogReader interface {
	Next(ctx context.Context) (DailyRecord, error)
	Close() error
}

// Store is the contract every log backend (files, PostgreSQL, memory) must
// satisfy. Logs are append-only; corrections go through Rewrite.
type Store interface {
	// Create initializes an empty log holding only the schema header,
	// replacing any previous log of the same name.
	Create(ctx context.Context, name LogName) (LogWriter, error)

	// Reopen opens an existing log for appending.
	Reopen(ctx context.Context, name LogName) (LogWriter, error)

	// Open reads an existing log from the start.
	Open(ctx context.Context, name LogName) (LogReader, error)

	// Rewrite materializes a replacement log by running transform over the
	// current contents and swaps it in only if transform succeeds.
	Rewrite(ctx context.Context, name LogName, transform func(src LogReader, dst RecordWriter) error) error
}
