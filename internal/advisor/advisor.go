// Package advisor derives index suggestions from slow operation text.
//
// Only a narrow single-hop shape is recognized: one labeled node pattern with
// exactly one equality or containment filter on one of its properties, either
// inline ({prop: value}) on a MATCH or MERGE pattern, or in the WHERE clause.
// Everything else is reported as Unrecognized with a reason. The advisor does
// no I/O.
//
// Log lines often wrap the statement in metadata (Neo4j query.log prints
// timings, session details and parameters around it); only the statement,
// from its first clause keyword up to a trailing " - {params}" or
// " - runtime=" field, is analyzed.
package advisor

import (
	"regexp"
	"strings"

	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// Result is either Recognized or Unrecognized.
type Result interface {
	isResult()
}

// Recognized is an operation with a single label/property filter.
type Recognized struct {
	Variable string
	Label    string
	Property string
	Operator string
}

// Unrecognized is an operation outside the supported shape.
type Unrecognized struct {
	Reason Reason
}

func (Recognized) isResult()   {}
func (Unrecognized) isResult() {}

// Reason explains why an operation was not recognized.
type Reason string

const (
	ReasonEmpty             Reason = "empty operation"
	ReasonNoLabeledNode     Reason = "no labeled node pattern"
	ReasonMultipleNodes     Reason = "more than one labeled node pattern"
	ReasonMultipleLabels    Reason = "node pattern has more than one label"
	ReasonMultiHop          Reason = "relationship traversal"
	ReasonAggregate         Reason = "aggregate operation"
	ReasonNoFilter          Reason = "no property filter"
	ReasonMultipleFilters   Reason = "more than one property filter"
	ReasonUnsupportedFilter Reason = "filter is not an equality or containment"
)

const identifier = `[A-Za-z_][A-Za-z0-9_]*`

var (
	stringLiteral = regexp.MustCompile(`'(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"`)
	labeledNode   = regexp.MustCompile(`\(\s*(` + identifier + `)?\s*((?::\s*` + identifier + `\s*)+)(\{[^}]*\})?\s*\)`)
	mapKey        = regexp.MustCompile(`(` + identifier + `)\s*:`)
	aggregate     = regexp.MustCompile(`(?i)\b(?:count|sum|avg|min|max|collect|stdev|stdevp|percentilecont|percentiledisc)\s*\(`)
	whereClause   = regexp.MustCompile(`(?is)\bWHERE\b(.*?)(?:\b(?:RETURN|WITH|ORDER|SKIP|LIMIT|SET|DELETE|DETACH|REMOVE|MERGE|CREATE|UNWIND|CALL|OPTIONAL|MATCH|FOREACH|UNION)\b|$)`)
	boolOperator  = regexp.MustCompile(`(?i)\b(?:AND|OR|XOR|NOT)\b`)
	stringOps     = regexp.MustCompile(`(?i)\b(STARTS|ENDS)\s+WITH\b`)
	propertyTest  = regexp.MustCompile(`(?is)^\s*(` + identifier + `)\.(` + identifier + `)\s*(=|\bIN\b|\bCONTAINS\b|\bSTARTS_WITH\b|\bENDS_WITH\b)\s*(.*?)\s*$`)
	relationship  = []string{")-", "-(", "<-", "->", "]-", "-["}
	spaces        = regexp.MustCompile(`\s+`)

	statementStart = regexp.MustCompile(`(?i)\b(?:OPTIONAL\s+MATCH|MATCH|MERGE|CREATE|UNWIND)\b`)
	statementEnd   = regexp.MustCompile(`\s-\s+(?:\{|runtime=)`)
	patternClause  = regexp.MustCompile(`(?i)\b(MATCH|MERGE|CREATE)\b`)
)

// Analyze classifies an operation.
func Analyze(operation string) Result {
	if strings.TrimSpace(operation) == "" {
		return Unrecognized{Reason: ReasonEmpty}
	}

	// Literal values must not influence structure detection.
	text := stringLiteral.ReplaceAllString(operation, "''")
	// STARTS WITH / ENDS WITH would otherwise end the WHERE clause at WITH.
	text = stringOps.ReplaceAllString(text, "${1}_WITH")
	text = statement(text)

	compact := spaces.ReplaceAllString(text, "")
	for _, marker := range relationship {
		if strings.Contains(compact, marker) {
			return Unrecognized{Reason: ReasonMultiHop}
		}
	}

	if aggregate.MatchString(text) {
		return Unrecognized{Reason: ReasonAggregate}
	}

	nodes := labeledNode.FindAllStringSubmatchIndex(text, -1)
	switch {
	case len(nodes) == 0:
		return Unrecognized{Reason: ReasonNoLabeledNode}
	case len(nodes) > 1:
		return Unrecognized{Reason: ReasonMultipleNodes}
	}

	node := nodes[0]
	variable := group(text, node, 1)
	labels := splitLabels(group(text, node, 2))
	if len(labels) != 1 {
		return Unrecognized{Reason: ReasonMultipleLabels}
	}

	var filters []Recognized

	// Inline keys only look a node up under MATCH or MERGE; under CREATE they
	// are values being written.
	if inline := group(text, node, 3); inline != "" && isLookup(text[:node[0]]) {
		for _, key := range mapKey.FindAllStringSubmatch(inline, -1) {
			filters = append(filters, Recognized{Variable: variable, Label: labels[0], Property: key[1], Operator: "="})
		}
	}

	if m := whereClause.FindStringSubmatch(text); m != nil {
		clause := strings.TrimSpace(m[1])
		if clause != "" {
			f, reason, ok := parseWhere(clause, variable)
			if !ok {
				return Unrecognized{Reason: reason}
			}
			f.Label = labels[0]
			filters = append(filters, f)
		}
	}

	switch {
	case len(filters) == 0:
		return Unrecognized{Reason: ReasonNoFilter}
	case len(filters) > 1:
		return Unrecognized{Reason: ReasonMultipleFilters}
	}
	return filters[0]
}

// statement cuts the Cypher statement out of a log line.
func statement(text string) string {
	if loc := statementStart.FindStringIndex(text); loc != nil {
		text = text[loc[0]:]
	}
	if loc := statementEnd.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	return text
}

// isLookup reports whether the last pattern clause in prefix is MATCH or MERGE.
func isLookup(prefix string) bool {
	clauses := patternClause.FindAllString(prefix, -1)
	if len(clauses) == 0 {
		return false
	}
	last := strings.ToUpper(clauses[len(clauses)-1])
	return last == "MATCH" || last == "MERGE"
}

func group(text string, loc []int, n int) string {
	if loc[2*n] < 0 {
		return ""
	}
	return text[loc[2*n]:loc[2*n+1]]
}

func parseWhere(clause, variable string) (Recognized, Reason, bool) {
	if boolOperator.MatchString(clause) {
		return Recognized{}, ReasonMultipleFilters, false
	}

	m := propertyTest.FindStringSubmatch(clause)
	if m == nil || variable == "" || m[1] != variable {
		return Recognized{}, ReasonUnsupportedFilter, false
	}

	operand := m[4]
	if operand == "" || strings.HasPrefix(operand, "~") {
		return Recognized{}, ReasonUnsupportedFilter, false
	}

	return Recognized{
		Variable: variable,
		Property: m[2],
		Operator: strings.ToUpper(strings.ReplaceAll(m[3], "_", " ")),
	}, "", true
}

func splitLabels(s string) []string {
	var labels []string
	for _, part := range strings.Split(s, ":") {
		if part = strings.TrimSpace(part); part != "" {
			labels = append(labels, part)
		}
	}
	return labels
}

// Suggest derives an index suggestion for a slow operation. The second
// return value is false when the operation is not recognized.
func Suggest(rec models.SlowOperation) (models.Suggestion, bool) {
	r, ok := Analyze(rec.OperationText).(Recognized)
	if !ok {
		return models.Suggestion{}, false
	}
	return models.NewSuggestion(r.Label, r.Property, rec.OperationText), true
}
