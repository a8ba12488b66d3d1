package detector

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"time"

	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// DefaultLogPath is the conventional Neo4j query log location.
const DefaultLogPath = "/var/log/neo4j/query.log"

// FileDetector scrapes a log file.
type FileDetector struct {
	path   string
	parser *Parser
	logger *slog.Logger
	now    func() time.Time
}

// NewFileDetector creates a detector over the log file at path.
func NewFileDetector(path string, parser *Parser, logger *slog.Logger) *FileDetector {
	if path == "" {
		path = DefaultLogPath
	}
	if parser == nil {
		parser = NewParser(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileDetector{
		path:   path,
		parser: parser,
		logger: logger,
		now:    time.Now,
	}
}

// Path returns the scanned file path.
func (d *FileDetector) Path() string {
	return d.path
}

// Detect scans the whole file. A missing or unreadable file yields nothing.
func (d *FileDetector) Detect(ctx context.Context, thresholdMs float64) iter.Seq[models.SlowOperation] {
	return func(yield func(models.SlowOperation) bool) {
		f, err := os.Open(d.path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				d.logger.Debug("log source unreadable", "path", d.path, "error", err)
			}
			return
		}
		defer f.Close()

		scanLines(ctx, f, d.parser, thresholdMs, models.SourceLog, d.now, d.logger, yield)
	}
}
