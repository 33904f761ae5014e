package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ActivityEntry records one remote sync outcome (push, pull, drain, migration).
type ActivityEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Action      string    `json:"action"`
	Entity      string    `json:"entity,omitempty"`
	Partition   string    `json:"partition,omitempty"`
	OperationID string    `json:"operation_id,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	Queued      bool      `json:"queued,omitempty"`
}

// ActivityLog writes sync outcomes to the console and/or a JSON-lines file.
type ActivityLog struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console io.Writer
}

var defaultActivity = &ActivityLog{enabled: true}

// Activity returns the process-wide activity log
func Activity() *ActivityLog {
	return defaultActivity
}

// SetOutput sets the JSON-lines file
func (l *ActivityLog) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole sets the human-readable destination; nil disables it.
func (l *ActivityLog) SetConsole(w io.Writer) {
	l.mu.Lock()
	l.console = w
	l.mu.Unlock()
}

// SetEnabled turns recording on or off
func (l *ActivityLog) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

// Log writes an activity entry
func (l *ActivityLog) Log(entry *ActivityEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if l.console != nil {
		status := "ok"
		if !entry.Success {
			status = "fail"
		}
		queued := ""
		if entry.Queued {
			queued = " [queued]"
		}
		attempts := ""
		if entry.Attempts > 1 {
			attempts = fmt.Sprintf(" [attempts:%d]", entry.Attempts)
		}
		fmt.Fprintf(l.console, "[sync] %s %s %s %dms%s%s\n",
			status, entry.Action, entry.Entity, entry.DurationMs, attempts, queued)
		if entry.Error != "" {
			fmt.Fprintf(l.console, "[sync]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the activity file
func (l *ActivityLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
