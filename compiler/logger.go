package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
)

const (
	defaultLogLines      = 1000
	defaultBatchSize     = 10
	defaultFlushInterval = 100 * time.Millisecond
)

// Logger is a log.Handler keeping the last lines in memory. Lines are also
// appended to a file in the background and offered on Chan without
// blocking.
type Logger struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	head     int
	count    int

	filePath string
	file     *os.File
	fileCh   chan string
	ch       chan string
	done     chan struct{}
	closed   bool
}

// NewLogger returns a Logger for capacity lines. An empty filePath keeps
// the log in memory only.
func NewLogger(filePath string, capacity int) *Logger {
	if capacity <= 0 {
		capacity = defaultLogLines
	}

	l := &Logger{
		lines:    make([]string, capacity),
		capacity: capacity,
		filePath: filePath,
		fileCh:   make(chan string, 100),
		ch:       make(chan string, 100),
		done:     make(chan struct{}),
	}

	if err := l.openFile(); err != nil {
		l.Write(fmt.Sprintf("log file disabled: %v", err))
	}

	go l.writer()

	return l
}

func (l *Logger) openFile() error {
	if l.filePath == "" {
		return nil
	}
	if dir := filepath.Dir(l.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// HandleLog implements log.Handler.
func (l *Logger) HandleLog(e *log.Entry) error {
	l.Write(Format(e))
	return nil
}

// Format renders an entry on one line, fields sorted by name.
func Format(e *log.Entry) string {
	var sb strings.Builder
	sb.WriteString(e.Timestamp.Format("15:04:05"))
	fmt.Fprintf(&sb, " %-5s %s", strings.ToUpper(e.Level.String()), e.Message)

	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, " %s=%v", name, e.Fields[name])
	}
	return sb.String()
}

func (l *Logger) Write(msg string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	l.lines[l.head] = msg
	l.head = (l.head + 1) % l.capacity
	if l.count < l.capacity {
		l.count++
	}

	if l.file != nil {
		select {
		case l.fileCh <- msg:
		default:
		}
	}
	select {
	case l.ch <- msg:
	default:
	}
}

// ReadAll returns the kept lines, oldest first.
func (l *Logger) ReadAll() string {
	if l == nil {
		return ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := 0
	if l.count >= l.capacity {
		start = l.head
	}

	var sb strings.Builder
	for i := 0; i < l.count; i++ {
		sb.WriteString(l.lines[(start+i)%l.capacity])
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Chan delivers new lines. Lines are dropped while nobody reads.
func (l *Logger) Chan() <-chan string {
	if l == nil {
		return nil
	}
	return l.ch
}

func (l *Logger) writer() {
	defer close(l.done)

	batch := make([]string, 0, defaultBatchSize)
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 || l.file == nil {
			batch = batch[:0]
			return
		}
		for _, msg := range batch {
			l.file.WriteString(msg + "\n")
		}
		batch = batch[:0]
	}

	for {
		select {
		case msg, ok := <-l.fileCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, msg)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close flushes pending lines to the file and closes it.
func (l *Logger) Close() {
	if l == nil {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.fileCh)
	close(l.ch)
	l.mu.Unlock()

	<-l.done
	if l.file != nil {
		l.file.Close()
	}
}
