package chat

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestTranscriptLogger(t *testing.T, global bool) (*FileTranscriptLogger, TranscriptConfig) {
	t.Helper()
	dir := t.TempDir()
	cfg := TranscriptConfig{
		Dir:           filepath.Join(dir, "sessions"),
		GlobalEnabled: global,
		GlobalPath:    filepath.Join(dir, "all.ndjson"),
		QueueSize:     64,
	}
	l, err := NewFileTranscriptLogger(cfg)
	if err != nil {
		t.Fatalf("NewFileTranscriptLogger failed: %v", err)
	}
	return l, cfg
}

func readNDJSON(t *testing.T, path string) []TranscriptEvent {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var events []TranscriptEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev TranscriptEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("bad NDJSON line %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}

func TestTranscriptWritesPerSessionFile(t *testing.T) {
	t.Parallel()

	l, cfg := newTestTranscriptLogger(t, false)
	l.Log(TranscriptEvent{SessionID: "sess-1", Direction: "user", EventType: "chat_user_message", Content: "Hola"})
	l.Log(TranscriptEvent{
		SessionID: "sess-1", Direction: "assistant", EventType: "chat_assistant_message",
		Content: "Bienvenido", Meta: map[string]any{"degraded": false},
	})
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events := readNDJSON(t, filepath.Join(cfg.Dir, "sess-1.ndjson"))
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Direction != "user" || events[0].Content != "Hola" {
		t.Errorf("first event %+v", events[0])
	}
	if events[1].Direction != "assistant" || events[1].Content != "Bienvenido" {
		t.Errorf("second event %+v", events[1])
	}
	if events[0].Timestamp == "" {
		t.Error("missing timestamp should be filled in")
	}
	if _, err := time.Parse(time.RFC3339Nano, events[0].Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339Nano: %v", events[0].Timestamp, err)
	}
}

func TestTranscriptSeparatesSessions(t *testing.T) {
	t.Parallel()

	l, cfg := newTestTranscriptLogger(t, false)
	l.Log(TranscriptEvent{SessionID: "sess-a", Direction: "user", Content: "de a"})
	l.Log(TranscriptEvent{SessionID: "sess-b", Direction: "user", Content: "de b"})
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	a := readNDJSON(t, filepath.Join(cfg.Dir, "sess-a.ndjson"))
	b := readNDJSON(t, filepath.Join(cfg.Dir, "sess-b.ndjson"))
	if len(a) != 1 || a[0].Content != "de a" {
		t.Errorf("sess-a events %+v", a)
	}
	if len(b) != 1 || b[0].Content != "de b" {
		t.Errorf("sess-b events %+v", b)
	}
}

func TestTranscriptGlobalStream(t *testing.T) {
	t.Parallel()

	l, cfg := newTestTranscriptLogger(t, true)
	l.Log(TranscriptEvent{SessionID: "sess-a", Direction: "user", Content: "uno"})
	l.Log(TranscriptEvent{SessionID: "sess-b", Direction: "user", Content: "dos"})
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events := readNDJSON(t, cfg.GlobalPath)
	if len(events) != 2 {
		t.Fatalf("expected 2 events in global stream, got %d", len(events))
	}
}

func TestTranscriptCloseDrainsQueue(t *testing.T) {
	t.Parallel()

	l, cfg := newTestTranscriptLogger(t, false)
	const n = 50
	for i := 0; i < n; i++ {
		l.Log(TranscriptEvent{SessionID: "sess-1", Direction: "user", Content: "msg"})
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events := readNDJSON(t, filepath.Join(cfg.Dir, "sess-1.ndjson"))
	if len(events) != n {
		t.Errorf("expected %d events after Close, got %d", n, len(events))
	}
}

func TestSanitizeFileName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"sess-1", "sess-1"},
		{"a.b_c-D9", "a.b_c-D9"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"id con espacios", "id_con_espacios"},
		{"", "unknown"},
	}
	for _, tc := range cases {
		if got := sanitizeFileName(tc.in); got != tc.want {
			t.Errorf("sanitizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if strings.ContainsAny(sanitizeFileName("x/y\\z:*?"), `/\:*?`) {
		t.Error("sanitized name still contains path separators")
	}
}
