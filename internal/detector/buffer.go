package detector

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// DefaultBufferSize is the number of lines kept by a LineBuffer.
const DefaultBufferSize = 10000

// LineBuffer is a fixed-size ring of log lines pushed by receivers.
// Safe for concurrent use.
type LineBuffer struct {
	mu    sync.RWMutex
	lines []string
	next  int
	full  bool
	total int64
}

// NewLineBuffer creates a buffer holding at most size lines.
func NewLineBuffer(size int) *LineBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &LineBuffer{lines: make([]string, size)}
}

// Push appends a line, evicting the oldest once full.
func (b *LineBuffer) Push(line string) {
	if line == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
	b.total++
}

// Snapshot returns the buffered lines oldest first.
func (b *LineBuffer) Snapshot() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full {
		out := make([]string, b.next)
		copy(out, b.lines[:b.next])
		return out
	}

	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)
	out = append(out, b.lines[:b.next]...)
	return out
}

// Len returns the number of buffered lines.
func (b *LineBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return len(b.lines)
	}
	return b.next
}

// Total returns the number of lines ever pushed.
func (b *LineBuffer) Total() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// BufferDetector scans the lines currently held by a LineBuffer.
type BufferDetector struct {
	buf    *LineBuffer
	parser *Parser
	logger *slog.Logger
	now    func() time.Time
}

// NewBufferDetector creates a detector over buf.
func NewBufferDetector(buf *LineBuffer, parser *Parser, logger *slog.Logger) *BufferDetector {
	if parser == nil {
		parser = NewParser(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BufferDetector{
		buf:    buf,
		parser: parser,
		logger: logger,
		now:    time.Now,
	}
}

// Detect scans a snapshot of the buffer.
func (d *BufferDetector) Detect(ctx context.Context, thresholdMs float64) iter.Seq[models.SlowOperation] {
	return func(yield func(models.SlowOperation) bool) {
		for _, line := range d.buf.Snapshot() {
			if ctx.Err() != nil {
				return
			}
			if !emitLine(line, d.parser, thresholdMs, models.SourceOTLP, d.now, yield) {
				return
			}
		}
	}
}
