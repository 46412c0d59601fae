package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TranscriptEvent is one NDJSON line in a conversation transcript.
type TranscriptEvent struct {
	Timestamp string         `json:"ts"`
	SessionID string         `json:"session_id"`
	Direction string         `json:"direction"` // "user" or "assistant"
	EventType string         `json:"event_type"`
	Content   string         `json:"content"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// TranscriptLogger records conversation events for observability.
type TranscriptLogger interface {
	Log(event TranscriptEvent)
	Close() error
}

// NoopTranscriptLogger discards all events.
type NoopTranscriptLogger struct{}

func (NoopTranscriptLogger) Log(TranscriptEvent) {}
func (NoopTranscriptLogger) Close() error        { return nil }

// TranscriptConfig configures file-based transcript logging.
type TranscriptConfig struct {
	Dir           string // per-session files: Dir/<session_id>.ndjson
	GlobalEnabled bool
	GlobalPath    string // single combined NDJSON stream
	QueueSize     int
}

// FileTranscriptLogger writes events asynchronously to per-session NDJSON
// files, plus an optional combined file. Log never blocks the request path;
// events are dropped (and counted) when the queue is full.
type FileTranscriptLogger struct {
	cfg     TranscriptConfig
	queue   chan TranscriptEvent
	done    chan struct{}
	dropped int64
	mu      sync.Mutex
}

// NewFileTranscriptLogger creates the logger and starts its writer goroutine.
func NewFileTranscriptLogger(cfg TranscriptConfig) (*FileTranscriptLogger, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("transcript dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global transcript dir: %w", err)
		}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}

	l := &FileTranscriptLogger{
		cfg:   cfg,
		queue: make(chan TranscriptEvent, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues an event, filling in the timestamp when absent.
func (l *FileTranscriptLogger) Log(event TranscriptEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case l.queue <- event:
	default:
		l.mu.Lock()
		l.dropped++
		n := l.dropped
		l.mu.Unlock()
		if n%100 == 1 {
			slog.Warn("Transcript queue full, dropping events", "dropped_total", n)
		}
	}
}

// Close drains the queue and stops the writer.
func (l *FileTranscriptLogger) Close() error {
	close(l.queue)
	<-l.done
	return nil
}

func (l *FileTranscriptLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		l.write(event)
	}
}

func (l *FileTranscriptLogger) write(event TranscriptEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		slog.Warn("Failed to marshal transcript event", "error", err)
		return
	}
	line = append(line, '\n')

	path := filepath.Join(l.cfg.Dir, sanitizeFileName(event.SessionID)+".ndjson")
	if err := appendFile(path, line); err != nil {
		slog.Warn("Failed to write transcript", "path", path, "error", err)
	}
	if l.cfg.GlobalEnabled {
		if err := appendFile(l.cfg.GlobalPath, line); err != nil {
			slog.Warn("Failed to write global transcript", "path", l.cfg.GlobalPath, "error", err)
		}
	}
}

func appendFile(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(line)
	return err
}

// sanitizeFileName keeps session-derived file names inside the transcript
// directory.
func sanitizeFileName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "unknown"
	}
	return string(out)
}
