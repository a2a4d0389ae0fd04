package studio

import (
	"container/ring"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mostlygeek/genstudio/event"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// logDataEvent carries written log bytes to OnLogData subscribers.
type logDataEvent struct {
	data []byte
}

func (logDataEvent) Type() uint32 { return 0x30 }

// LogMonitor writes level filtered log lines to an output and keeps a
// ring of recent writes for late subscribers.
type LogMonitor struct {
	mu      sync.Mutex
	buffer  *ring.Ring
	stdout  io.Writer
	level   LogLevel
	prefix  string
	events  *event.Dispatcher
	timeNow func() time.Time
}

const logHistorySize = 10 * 1024

func NewLogMonitor() *LogMonitor {
	return NewLogMonitorWriter(os.Stdout)
}

func NewLogMonitorWriter(stdout io.Writer) *LogMonitor {
	return &LogMonitor{
		buffer:  ring.New(logHistorySize),
		stdout:  stdout,
		level:   LevelInfo,
		events:  event.NewDispatcher(),
		timeNow: time.Now,
	}
}

func (w *LogMonitor) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	w.mu.Lock()
	n, err := w.stdout.Write(p)
	if err != nil {
		w.mu.Unlock()
		return n, err
	}
	data := make([]byte, len(p))
	copy(data, p)
	w.buffer.Value = data
	w.buffer = w.buffer.Next()
	w.mu.Unlock()

	event.Publish(w.events, logDataEvent{data: data})
	return n, nil
}

// GetHistory returns the retained log writes, oldest first.
func (w *LogMonitor) GetHistory() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()

	var history []byte
	w.buffer.Do(func(p any) {
		if content, ok := p.([]byte); ok {
			history = append(history, content...)
		}
	})
	return history
}

// OnLogData subscribes to every write. Call the returned func to stop.
func (w *LogMonitor) OnLogData(callback func(data []byte)) context.CancelFunc {
	return event.Subscribe(w.events, func(e logDataEvent) {
		callback(e.data)
	})
}

func (w *LogMonitor) SetLogLevel(level LogLevel) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.level = level
}

func (w *LogMonitor) SetPrefix(prefix string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prefix = prefix
}

func (w *LogMonitor) log(level LogLevel, msg string) {
	w.mu.Lock()
	if level < w.level {
		w.mu.Unlock()
		return
	}
	prefix := w.prefix
	now := w.timeNow()
	w.mu.Unlock()

	if prefix != "" {
		prefix += " "
	}
	line := fmt.Sprintf("%s[%s] %s%s\n", now.Format(time.RFC3339), level, prefix, msg)
	w.Write([]byte(line))
}

func (w *LogMonitor) Debug(msg string) { w.log(LevelDebug, msg) }
func (w *LogMonitor) Info(msg string)  { w.log(LevelInfo, msg) }
func (w *LogMonitor) Warn(msg string)  { w.log(LevelWarn, msg) }
func (w *LogMonitor) Error(msg string) { w.log(LevelError, msg) }

func (w *LogMonitor) Debugf(format string, args ...any) {
	w.log(LevelDebug, fmt.Sprintf(format, args...))
}

func (w *LogMonitor) Infof(format string, args ...any) {
	w.log(LevelInfo, fmt.Sprintf(format, args...))
}

func (w *LogMonitor) Warnf(format string, args ...any) {
	w.log(LevelWarn, fmt.Sprintf(format, args...))
}

func (w *LogMonitor) Errorf(format string, args ...any) {
	w.log(LevelError, fmt.Sprintf(format, args...))
}
