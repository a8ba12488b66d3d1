// Package detector finds slow store operations in logs and other timing
// sources.
package detector

import (
	"bufio"
	"context"
	"io"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sergeeey/TERAG111-sub002/internal/patterns"
	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// maxLineSize bounds a single scanned log line.
const maxLineSize = 4 * 1024 * 1024

// Detector yields slow operations from a source. Every call re-reads the
// source from the beginning; no position is kept between calls.
type Detector interface {
	Detect(ctx context.Context, thresholdMs float64) iter.Seq[models.SlowOperation]
}

// Parser extracts duration and operation text from a log line.
type Parser struct {
	p *patterns.Compiled
}

// NewParser creates a parser. A nil patterns value uses the defaults.
func NewParser(p *patterns.Compiled) *Parser {
	if p == nil {
		p = patterns.Default()
	}
	return &Parser{p: p}
}

// ParsedLine is the result of a successful ParseLine.
type ParsedLine struct {
	DurationMs    float64
	OperationText string
	// ObservedAt is zero when the line carries no recognizable timestamp.
	ObservedAt time.Time
}

// ParseLine finds the first millisecond duration on the line and requires an
// operation keyword somewhere after it. The operation text is everything
// after the duration token, trimmed.
func (p *Parser) ParseLine(line string) (ParsedLine, bool) {
	var parsed ParsedLine

	offset := 0
	if loc := p.p.Timestamp.FindStringSubmatchIndex(line); len(loc) >= 4 && loc[2] >= 0 {
		parsed.ObservedAt = p.parseTimestamp(line[loc[2]:loc[3]])
		offset = loc[1]
	}

	rest := line[offset:]
	loc := p.p.Duration.FindStringSubmatchIndex(rest)
	if loc == nil || loc[2] < 0 {
		return ParsedLine{}, false
	}

	ms, err := strconv.ParseFloat(rest[loc[2]:loc[3]], 64)
	if err != nil || ms < 0 {
		return ParsedLine{}, false
	}

	tail := rest[loc[1]:]
	if !p.p.Keywords.MatchString(tail) {
		return ParsedLine{}, false
	}

	parsed.DurationMs = ms
	parsed.OperationText = strings.TrimSpace(tail)
	return parsed, true
}

// HasKeyword reports whether text contains a recognized operation keyword.
func (p *Parser) HasKeyword(text string) bool {
	return p.p.Keywords.MatchString(text)
}

func (p *Parser) parseTimestamp(s string) time.Time {
	for _, layout := range p.p.Layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// scanLines emits a record for every line at or above the threshold. Read
// errors end the scan quietly.
func scanLines(
	ctx context.Context,
	r io.Reader,
	parser *Parser,
	thresholdMs float64,
	source string,
	now func() time.Time,
	logger *slog.Logger,
	yield func(models.SlowOperation) bool,
) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if !emitLine(scanner.Text(), parser, thresholdMs, source, now, yield) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug("log scan stopped", "source", source, "error", err)
	}
}

// emitLine returns false when the consumer asked to stop.
func emitLine(
	line string,
	parser *Parser,
	thresholdMs float64,
	source string,
	now func() time.Time,
	yield func(models.SlowOperation) bool,
) bool {
	parsed, ok := parser.ParseLine(line)
	if !ok || parsed.DurationMs < thresholdMs {
		return true
	}

	observed := parsed.ObservedAt
	if observed.IsZero() {
		observed = now()
	}

	return yield(models.SlowOperation{
		OperationText: parsed.OperationText,
		DurationMs:    parsed.DurationMs,
		ObservedAt:    observed,
		Source:        source,
	})
}

// Collect drains a detection sequence into a slice.
func Collect(seq iter.Seq[models.SlowOperation]) []models.SlowOperation {
	out := []models.SlowOperation{}
	for rec := range seq {
		out = append(out, rec)
	}
	return out
}
