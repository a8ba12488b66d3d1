package advisor

import (
	"testing"
	"time"

	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

func TestAnalyzeRecognized(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		label    string
		property string
		operator string
	}{
		{
			name:     "where equality",
			op:       "MATCH (n:Client) WHERE n.phone = '+77001234567' RETURN n",
			label:    "Client",
			property: "phone",
			operator: "=",
		},
		{
			name:     "inline property map",
			op:       "MATCH (c:Customer {email: $email}) RETURN c",
			label:    "Customer",
			property: "email",
			operator: "=",
		},
		{
			name:     "contains filter",
			op:       "match (p:Product) where p.title CONTAINS 'lamp' return p limit 10",
			label:    "Product",
			property: "title",
			operator: "CONTAINS",
		},
		{
			name:     "starts with filter",
			op:       "MATCH (a:Account) WHERE a.iban STARTS WITH 'KZ' RETURN a",
			label:    "Account",
			property: "iban",
			operator: "STARTS WITH",
		},
		{
			name:     "in list",
			op:       "MATCH (o:Order) WHERE o.status IN ['open', 'held'] RETURN o",
			label:    "Order",
			property: "status",
			operator: "IN",
		},
		{
			name:     "merge with inline key",
			op:       "MERGE (t:Tag {name: 'go'}) RETURN t",
			label:    "Tag",
			property: "name",
			operator: "=",
		},
		{
			name:     "match then delete",
			op:       "MATCH (s:Session) WHERE s.token = $t DETACH DELETE s",
			label:    "Session",
			property: "token",
			operator: "=",
		},
		{
			name: "neo4j query log line",
			op: "2024-01-15 10:30:45.123+0000 INFO  id:42 - 150 ms: (planning: 0, waiting: 0) - 5 B - 0 page hits, 0 page faults - " +
				"bolt-session\tbolt\tneo4j-java/5.0\t\tclient/127.0.0.1:5000\tserver/127.0.0.1:7687>\tneo4j - neo4j - " +
				"MATCH (n:Client) WHERE n.phone = $p RETURN n - {p: '+77001234567'} - runtime=pipelined - {}",
			label:    "Client",
			property: "phone",
			operator: "=",
		},
		{
			name:     "tail of neo4j line without params",
			op:       ": 0 B - bolt-session - MATCH (o:Order {number: $n}) RETURN o - runtime=slotted - {}",
			label:    "Order",
			property: "number",
			operator: "=",
		},
		{
			name:     "optional match inline key",
			op:       "OPTIONAL MATCH (u:User {login: $l}) RETURN u",
			label:    "User",
			property: "login",
			operator: "=",
		},
		{
			name:     "dash inside literal",
			op:       "MATCH (n:Client) WHERE n.phone = '+7-700-123-45-67' RETURN n",
			label:    "Client",
			property: "phone",
			operator: "=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Analyze(tt.op).(Recognized)
			if !ok {
				t.Fatalf("Analyze(%q) = %#v, want Recognized", tt.op, Analyze(tt.op))
			}
			if got.Label != tt.label || got.Property != tt.property || got.Operator != tt.operator {
				t.Errorf("Analyze() = %+v, want label=%s property=%s operator=%s",
					got, tt.label, tt.property, tt.operator)
			}
		})
	}
}

func TestAnalyzeUnrecognized(t *testing.T) {
	tests := []struct {
		name   string
		op     string
		reason Reason
	}{
		{"empty", "   ", ReasonEmpty},
		{"multi hop", "MATCH (a:Person)-[:KNOWS]->(b:Person) WHERE a.name = 'x' RETURN b", ReasonMultiHop},
		{"incoming relationship", "MATCH (a:Person)<-[:OWNS]-(c) RETURN a", ReasonMultiHop},
		{"aggregate", "MATCH (n:Client) WHERE n.city = 'Almaty' RETURN count(n)", ReasonAggregate},
		{"no label", "MATCH (n) WHERE n.id = 1 RETURN n", ReasonNoLabeledNode},
		{"two nodes", "MATCH (a:A), (b:B) WHERE a.x = b.y RETURN a", ReasonMultipleNodes},
		{"two labels", "MATCH (n:Client:Vip) WHERE n.phone = '1' RETURN n", ReasonMultipleLabels},
		{"no filter", "MATCH (n:Client) RETURN n", ReasonNoFilter},
		{"create only", "CREATE (n:Order)", ReasonNoFilter},
		{"create with map", "CREATE (n:Order {id: 42})", ReasonNoFilter},
		{"create with map and return", "CREATE (n:Order {id: $id}) RETURN n", ReasonNoFilter},
		{"neo4j line without filter", "id:7 - 300 ms: (planning: 1, waiting: 0) - 5 B - MATCH (n:Client) RETURN n - {} - runtime=pipelined - {}", ReasonNoFilter},
		{"neo4j line with traversal", "id:8 - 300 ms: 0 B - MATCH (a:Person)-[:KNOWS]->(b) WHERE a.name = $n RETURN b - {n: 'x'} - runtime=pipelined - {}", ReasonMultiHop},
		{"and filter", "MATCH (n:Client) WHERE n.phone = '1' AND n.city = 'x' RETURN n", ReasonMultipleFilters},
		{"inline and where", "MATCH (n:Client {city: 'x'}) WHERE n.phone = '1' RETURN n", ReasonMultipleFilters},
		{"two inline keys", "MATCH (n:Client {city: 'x', phone: '1'}) RETURN n", ReasonMultipleFilters},
		{"range filter", "MATCH (n:Client) WHERE n.age > 30 RETURN n", ReasonUnsupportedFilter},
		{"regex filter", "MATCH (n:Client) WHERE n.name =~ 'A.*' RETURN n", ReasonUnsupportedFilter},
		{"other variable", "MATCH (n:Client) WHERE m.phone = '1' RETURN n", ReasonUnsupportedFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Analyze(tt.op).(Unrecognized)
			if !ok {
				t.Fatalf("Analyze(%q) = %#v, want Unrecognized", tt.op, Analyze(tt.op))
			}
			if got.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.reason)
			}
		})
	}
}

func TestSuggestScenario(t *testing.T) {
	op := "MATCH (n:Client) WHERE n.phone = '+77001234567' RETURN n"
	rec := models.SlowOperation{
		OperationText: op,
		DurationMs:    150.2,
		ObservedAt:    time.Now(),
		Source:        models.SourceLog,
	}

	s, ok := Suggest(rec)
	if !ok {
		t.Fatal("expected a suggestion")
	}
	if s.TargetLabel != "Client" || s.TargetProperty != "phone" {
		t.Errorf("target = %s.%s, want Client.phone", s.TargetLabel, s.TargetProperty)
	}
	if s.CanonicalKey != "Client.phone" {
		t.Errorf("CanonicalKey = %q, want Client.phone", s.CanonicalKey)
	}
	if s.Rationale != op {
		t.Errorf("Rationale = %q, want the operation text verbatim", s.Rationale)
	}
	if s.Applied {
		t.Error("new suggestion must not be marked applied")
	}
}

func TestSuggestSameTargetSameKey(t *testing.T) {
	a, okA := Suggest(models.SlowOperation{OperationText: "MATCH (n:Client) WHERE n.phone = '1' RETURN n"})
	b, okB := Suggest(models.SlowOperation{OperationText: "MATCH (c:Client {phone: $p}) RETURN c.name"})
	if !okA || !okB {
		t.Fatal("expected both operations to be recognized")
	}
	if a.CanonicalKey != b.CanonicalKey {
		t.Errorf("keys differ: %q vs %q", a.CanonicalKey, b.CanonicalKey)
	}
}

func TestSuggestUnrecognized(t *testing.T) {
	if _, ok := Suggest(models.SlowOperation{OperationText: "MATCH (a)-[r]->(b) RETURN r"}); ok {
		t.Fatal("expected no suggestion for traversal")
	}
}
