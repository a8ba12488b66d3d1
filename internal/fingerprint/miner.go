// Package fingerprint groups slow operations into query shapes.
//
// Literals are masked first, then the remaining token sequences are clustered
// with a fixed-depth parse tree in the style of Drain (He et al., ICWS'17):
//   - Layer 1: group by token count
//   - Layer 2: group by first token (the leading clause keyword)
//   - Leaf: shapes whose tokens agree above the similarity threshold
//
// Differing tokens within a shape are generalized to "<*>". Each shape keeps
// the number of matching operations and their total and maximum duration, so
// callers can see where the most time goes.
package fingerprint

import (
	"hash/fnv"
	"iter"
	"sort"
	"strconv"
	"sync"

	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// Wildcard replaces tokens that vary within a shape.
const Wildcard = "<*>"

// Config holds miner settings.
type Config struct {
	// Number of independently locked shards
	Shards int

	// Maximum depth of the parse tree
	MaxDepth int

	// Maximum first-token children per length node before falling back to a wildcard child
	MaxChildren int

	// Maximum shapes across all shards; the least recently matched are evicted
	MaxShapes int

	// Fraction of tokens (0.0-1.0) that must agree for an operation to join a shape
	SimThreshold float64
}

// DefaultConfig returns defaults suited to query logs.
func DefaultConfig() Config {
	return Config{
		Shards:       4,
		MaxDepth:     4,
		MaxChildren:  100,
		MaxShapes:    1000,
		SimThreshold: 0.8,
	}
}

// Shape is an aggregated query shape.
type Shape struct {
	Template string  `json:"template"`
	Count    int64   `json:"count"`
	TotalMs  float64 `json:"total_ms"`
	MaxMs    float64 `json:"max_ms"`
	Example  string  `json:"example"`
}

type cluster struct {
	tokens   []string
	count    int64
	totalMs  float64
	maxMs    float64
	example  string
	lastUsed uint64
	leaf     *node
}

type node struct {
	children map[string]*node
	wildcard *node
	clusters []*cluster
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

type shard struct {
	mu       sync.Mutex
	root     *node
	clusters []*cluster
	tick     uint64
	cfg      Config
	limit    int
}

// Miner clusters operations into shapes. It is safe for concurrent use.
type Miner struct {
	shards []*shard
}

// New creates a miner. Non-positive settings fall back to the defaults.
func New(cfg Config) *Miner {
	def := DefaultConfig()
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.MaxDepth < 2 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MaxChildren <= 0 {
		cfg.MaxChildren = def.MaxChildren
	}
	if cfg.MaxShapes <= 0 {
		cfg.MaxShapes = def.MaxShapes
	}
	if cfg.SimThreshold <= 0 || cfg.SimThreshold > 1 {
		cfg.SimThreshold = def.SimThreshold
	}

	limit := cfg.MaxShapes / cfg.Shards
	if limit < 1 {
		limit = 1
	}

	m := &Miner{shards: make([]*shard, cfg.Shards)}
	for i := range m.shards {
		m.shards[i] = &shard{root: newNode(), cfg: cfg, limit: limit}
	}
	return m
}

// selectShard routes by first token and token count so similar operations
// always meet in the same shard.
func (m *Miner) selectShard(tokens []string) *shard {
	if len(m.shards) == 1 {
		return m.shards[0]
	}

	h := fnv.New32a()
	h.Write([]byte(tokens[0]))
	h.Write([]byte(strconv.Itoa(len(tokens))))
	return m.shards[int(h.Sum32()%uint32(len(m.shards)))]
}

// Add records op and returns the template of the shape it joined. Operations
// without any tokens are ignored and return "".
func (m *Miner) Add(op models.SlowOperation) string {
	tokens := tokenize(op.OperationText)
	if len(tokens) == 0 {
		return ""
	}
	return m.selectShard(tokens).add(tokens, op)
}

// Shapes returns every shape ordered by total duration, largest first.
func (m *Miner) Shapes() []Shape {
	var shapes []Shape
	for _, s := range m.shards {
		s.mu.Lock()
		for _, c := range s.clusters {
			shapes = append(shapes, Shape{
				Template: render(c.tokens),
				Count:    c.count,
				TotalMs:  c.totalMs,
				MaxMs:    c.maxMs,
				Example:  c.example,
			})
		}
		s.mu.Unlock()
	}

	sort.Slice(shapes, func(i, j int) bool {
		if shapes[i].TotalMs != shapes[j].TotalMs {
			return shapes[i].TotalMs > shapes[j].TotalMs
		}
		return shapes[i].Template < shapes[j].Template
	})
	return shapes
}

// Summarize clusters every operation in seq with a fresh miner.
func Summarize(seq iter.Seq[models.SlowOperation], cfg Config) []Shape {
	m := New(cfg)
	for op := range seq {
		m.Add(op)
	}
	return m.Shapes()
}

func (s *shard) add(tokens []string, op models.SlowOperation) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick++
	leaf := s.descend(tokens)

	if best := s.bestCluster(leaf.clusters, tokens); best != nil {
		generalize(best.tokens, tokens)
		best.count++
		best.totalMs += op.DurationMs
		if op.DurationMs > best.maxMs {
			best.maxMs = op.DurationMs
		}
		best.lastUsed = s.tick
		return render(best.tokens)
	}

	c := &cluster{
		tokens:   append([]string(nil), tokens...),
		count:    1,
		totalMs:  op.DurationMs,
		maxMs:    op.DurationMs,
		example:  op.OperationText,
		lastUsed: s.tick,
		leaf:     leaf,
	}
	leaf.clusters = append(leaf.clusters, c)
	s.clusters = append(s.clusters, c)

	if len(s.clusters) > s.limit {
		s.evict()
	}
	return render(c.tokens)
}

// descend walks, creating as needed, the path for tokens and returns its leaf.
func (s *shard) descend(tokens []string) *node {
	current := s.root

	// Layer 1: token count
	lenKey := strconv.Itoa(len(tokens))
	next, ok := current.children[lenKey]
	if !ok {
		next = newNode()
		current.children[lenKey] = next
	}
	current = next

	// Layer 2: first token
	first := tokens[0]
	switch next, ok := current.children[first]; {
	case ok:
		current = next
	case len(current.children) < s.cfg.MaxChildren:
		next = newNode()
		current.children[first] = next
		current = next
	default:
		if current.wildcard == nil {
			current.wildcard = newNode()
		}
		current = current.wildcard
	}

	// Remaining layers go straight to the leaf
	for depth := 2; depth < s.cfg.MaxDepth && depth < len(tokens); depth++ {
		if current.wildcard == nil {
			current.wildcard = newNode()
		}
		current = current.wildcard
	}
	return current
}

func (s *shard) bestCluster(clusters []*cluster, tokens []string) *cluster {
	var best *cluster
	bestScore := 0.0

	for _, c := range clusters {
		score := similarity(c.tokens, tokens)
		if score >= s.cfg.SimThreshold && score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best
}

// evict drops the least recently matched cluster.
func (s *shard) evict() {
	oldest := 0
	for i, c := range s.clusters {
		if c.lastUsed < s.clusters[oldest].lastUsed {
			oldest = i
		}
	}

	victim := s.clusters[oldest]
	s.clusters = append(s.clusters[:oldest], s.clusters[oldest+1:]...)

	leaf := victim.leaf
	for i, c := range leaf.clusters {
		if c == victim {
			leaf.clusters = append(leaf.clusters[:i], leaf.clusters[i+1:]...)
			break
		}
	}
}

// similarity is the fraction of positions where the tokens agree.
func similarity(a, b []string) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	matched := 0
	for i := range a {
		if a[i] == b[i] || a[i] == Wildcard {
			matched++
		}
	}
	return float64(matched) / float64(len(a))
}

// generalize widens template in place to also cover tokens.
func generalize(template, tokens []string) {
	for i := range template {
		if template[i] != tokens[i] {
			template[i] = Wildcard
		}
	}
}
