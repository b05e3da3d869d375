package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"
)

var (
	// ErrLocked is returned when another writer holds the log.
	ErrLocked = errors.New("log is locked by another writer")

	errWriterClosed     = errors.New("log writer is closed")
	errMissingHeader    = errors.New("log has no header")
	errUnexpectedHeader = errors.New("log header does not match schema")
)

// acquireLock creates lockPath exclusively. A lock older than ttl is
// considered stale and replaced.
func acquireLock(lockPath string, ttl time.Duration) error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, `{"pid":%d,"time":%d}`+"\n", os.Getpid(), time.Now().Unix())
			return f.Close()
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lock %s: %w", lockPath, err)
		}

		fi, statErr := os.Stat(lockPath)
		if statErr != nil {
			continue
		}
		if age := time.Since(fi.ModTime()); age < ttl {
			return fmt.Errorf("%w: %s (age %s)", ErrLocked, lockPath, age.Round(time.Second))
		}
		log.Printf("WARN: store: removing stale lock %s", lockPath)
		_ = os.Remove(lockPath)
	}
	return fmt.Errorf("%w: %s", ErrLocked, lockPath)
}

func releaseLock(lockPath string) {
	if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARN: store: release lock %s: %v", lockPath, err)
	}
}
