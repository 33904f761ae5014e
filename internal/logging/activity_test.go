package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestActivityLog_ConsoleAndFile(t *testing.T) {
	l := &ActivityLog{enabled: true}
	defer l.Close()

	var console bytes.Buffer
	l.SetConsole(&console)

	path := filepath.Join(t.TempDir(), "activity.jsonl")
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("SetOutput failed: %v", err)
	}

	l.Log(&ActivityEntry{Action: "push", Entity: "cart", Success: false, Error: "boom", Attempts: 3, Queued: true})

	out := console.String()
	if !strings.Contains(out, "fail push cart") || !strings.Contains(out, "[attempts:3]") || !strings.Contains(out, "[queued]") {
		t.Fatalf("unexpected console output: %q", out)
	}

	l.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entry ActivityEntry
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("activity file is not JSON lines: %v", err)
	}
	if entry.Error != "boom" || entry.Timestamp.IsZero() {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestActivityLog_Disabled(t *testing.T) {
	l := &ActivityLog{}
	var console bytes.Buffer
	l.SetConsole(&console)

	l.Log(&ActivityEntry{Action: "pull", Success: true})
	if console.Len() != 0 {
		t.Fatalf("disabled log wrote %q", console.String())
	}
}
