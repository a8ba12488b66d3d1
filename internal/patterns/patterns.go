// Package patterns holds the regular expressions used to pull slow operations
// out of unstructured store logs.
package patterns

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults used when no patterns file is configured.
var (
	DefaultDuration  = `(\d+(?:\.\d+)?)\s*ms\b`
	DefaultTimestamp = `^\s*(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?)`
	DefaultKeywords  = []string{"MATCH", "CREATE", "MERGE", "DELETE"}
	DefaultLayouts   = []string{
		"2006-01-02 15:04:05.000-0700",
		"2006-01-02 15:04:05-0700",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05.000-0700",
	}
)

// Config is the on-disk patterns file.
type Config struct {
	Duration         string   `yaml:"duration"`
	Timestamp        string   `yaml:"timestamp"`
	Keywords         []string `yaml:"keywords"`
	TimestampLayouts []string `yaml:"timestamp_layouts"`
}

// Compiled is a patterns configuration ready for matching.
type Compiled struct {
	// Duration must capture the millisecond value in group 1.
	Duration  *regexp.Regexp
	Timestamp *regexp.Regexp
	Keywords  *regexp.Regexp
	Layouts   []string
}

// Load reads and compiles a YAML patterns file. Empty fields fall back to
// the defaults.
func Load(path string) (*Compiled, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading patterns file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing patterns YAML: %w", err)
	}

	return Compile(cfg)
}

// Compile turns a Config into matchers.
func Compile(cfg Config) (*Compiled, error) {
	if cfg.Duration == "" {
		cfg.Duration = DefaultDuration
	}
	if cfg.Timestamp == "" {
		cfg.Timestamp = DefaultTimestamp
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = DefaultKeywords
	}
	if len(cfg.TimestampLayouts) == 0 {
		cfg.TimestampLayouts = DefaultLayouts
	}

	duration, err := regexp.Compile(cfg.Duration)
	if err != nil {
		return nil, fmt.Errorf("compiling duration pattern: %w", err)
	}
	if duration.NumSubexp() < 1 {
		return nil, errors.New("duration pattern must capture the value in group 1")
	}

	timestamp, err := regexp.Compile(cfg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("compiling timestamp pattern: %w", err)
	}

	quoted := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(kw))
	}
	if len(quoted) == 0 {
		return nil, errors.New("at least one operation keyword is required")
	}
	keywords := regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)

	return &Compiled{
		Duration:  duration,
		Timestamp: timestamp,
		Keywords:  keywords,
		Layouts:   cfg.TimestampLayouts,
	}, nil
}

// Default returns the compiled default patterns.
func Default() *Compiled {
	c, err := Compile(Config{})
	if err != nil {
		panic(err)
	}
	return c
}
