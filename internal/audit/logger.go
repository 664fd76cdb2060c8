package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Logger is an async, buffered audit event writer.
type Logger struct {
	config  Config
	output  io.WriteCloser
	slogger *slog.Logger
	buffer  chan *Event
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewLogger constructs a Logger from config. A disabled logger discards
// every event cheaply.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}
	if config.BufferSize == 0 {
		config.BufferSize = 512
	}
	if config.MaxFieldSize == 0 {
		config.MaxFieldSize = 2048
	}

	var output io.WriteCloser
	switch {
	case config.Output == "" || config.Output == "stdout":
		output = os.Stdout
	case config.Output == "stderr":
		output = os.Stderr
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", config.Output)
	}

	l := &Logger{
		config: config,
		output: output,
		buffer: make(chan *Event, config.BufferSize),
		done:   make(chan struct{}),
	}

	var handler slog.Handler
	if config.Format == FormatLogfmt {
		handler = slog.NewTextHandler(output, nil)
	} else {
		handler = slog.NewJSONHandler(output, nil)
	}
	l.slogger = slog.New(handler).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.buffer:
			l.write(e)
		case <-l.done:
			for {
				select {
				case e := <-l.buffer:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(e *Event) {
	attrs := []any{"id", e.ID, "type", string(e.Type), "session_id", e.SessionID}
	if e.Tool != "" {
		attrs = append(attrs, "tool", e.Tool)
	}
	if e.Error != "" {
		attrs = append(attrs, "error", Redact(truncate(e.Error, l.config.MaxFieldSize)))
	}
	if len(e.Details) > 0 {
		raw, _ := json.Marshal(e.Details)
		attrs = append(attrs, "details", Redact(truncate(string(raw), l.config.MaxFieldSize)))
	}
	switch e.Level {
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	default:
		l.slogger.Info("audit", attrs...)
	}
}

// Close flushes pending events and releases the output handle.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// Record enqueues an audit event. It never blocks the caller: a full
// buffer drops the event rather than stalling a tool invocation.
func (l *Logger) Record(eventType EventType, sessionID, tool string, details map[string]any, err error) {
	if !l.config.Enabled {
		return
	}
	e := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Level:     LevelInfo,
		SessionID: sessionID,
		Tool:      tool,
		Details:   details,
	}
	if err != nil {
		e.Level = LevelError
		e.Error = err.Error()
	}
	select {
	case l.buffer <- e:
	default:
	}
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// secretPatterns matches common credential shapes so they never reach a
// log line or a persisted chat transcript.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]+`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{16,}`),
	regexp.MustCompile(`(?i)key-[a-zA-Z0-9]{16,}`),
	regexp.MustCompile(`://[^/@\s]+:[^/@\s]+@`), // basic-auth userinfo in a URL
}

// Redact replaces recognizable secret shapes in s with a fixed placeholder.
func Redact(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllString(s, "[redacted]")
	}
	return s
}
