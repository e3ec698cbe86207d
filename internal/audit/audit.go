// Package audit keeps a record of every user removed from a group. Records go
// to an append-only text log, to PostgreSQL, or to both.
package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TimeLayout is the timestamp layout of the text log.
const TimeLayout = "2006-01-02 15:04:05"

// KickRecord describes one removal.
type KickRecord struct {
	GroupID     string
	UserID      string
	ContentType string // "text" or "image"
	Reason      string
	At          time.Time
}

// Recorder persists kick records.
type Recorder interface {
	RecordKick(ctx context.Context, rec KickRecord) error
}

// FormatLine renders rec as a single log line with its timestamp in loc.
func FormatLine(rec KickRecord, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return fmt.Sprintf("[%s] user %s kicked from group %s, reason: %s",
		rec.At.In(loc).Format(TimeLayout), rec.UserID, rec.GroupID, rec.Reason)
}

// FileLog appends one line per kick to a text file.
type FileLog struct {
	mu   sync.Mutex
	path string
	loc  *time.Location
}

// NewFileLog creates a log at path. The parent directory is created on the
// first write.
func NewFileLog(path string, loc *time.Location) *FileLog {
	if loc == nil {
		loc = time.Local
	}
	return &FileLog{path: path, loc: loc}
}

// RecordKick appends the record.
func (l *FileLog) RecordKick(_ context.Context, rec KickRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("audit: create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open log: %w", err)
	}
	if _, err := f.WriteString(FormatLine(rec, l.loc) + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("audit: append: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("audit: close log: %w", err)
	}
	return nil
}

// Multi fans a record out to several recorders. Every recorder is tried; the
// errors are joined.
type Multi []Recorder

func (m Multi) RecordKick(ctx context.Context, rec KickRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordKick(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
