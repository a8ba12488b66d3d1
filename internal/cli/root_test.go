package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

func writeQueryLog(t *testing.T) string {
	t.Helper()

	lines := []string{
		"2024-01-15T10:30:45.123Z 1500ms MATCH (c:Client {phone: $p}) RETURN c",
		"2024-01-15T10:30:46.000Z 50ms MATCH (o:Order) WHERE o.id = 1 RETURN o",
		"2024-01-15T10:30:47.000Z 2200ms MATCH (a)-[:KNOWS]->(b) RETURN b",
	}
	path := filepath.Join(t.TempDir(), "query.log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	missing := filepath.Join(t.TempDir(), "none.yaml")
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", missing}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDetectCommand(t *testing.T) {
	logPath := writeQueryLog(t)

	out, err := execute(t, "--log-path", logPath, "detect", "--threshold", "1000")
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if !strings.Contains(out, "Client {phone") || !strings.Contains(out, "KNOWS") {
		t.Errorf("missing slow operations in output:\n%s", out)
	}
	if strings.Contains(out, "Order") {
		t.Errorf("fast operation listed:\n%s", out)
	}

	if _, err := execute(t, "--log-path", logPath, "detect", "--threshold", "-1"); err == nil {
		t.Error("expected error for negative threshold")
	}
}

func TestShapesCommand(t *testing.T) {
	logPath := writeQueryLog(t)

	out, err := execute(t, "--log-path", logPath, "shapes", "--threshold", "0")
	if err != nil {
		t.Fatalf("shapes failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 shapes, got:\n%s", out)
	}
	if !strings.Contains(lines[0], "KNOWS") {
		t.Errorf("expected the slowest shape first, got %q", lines[0])
	}
	if !strings.Contains(out, "WHERE o.id = ?") {
		t.Errorf("literal not masked:\n%s", out)
	}
}

func TestRunCommandJSON(t *testing.T) {
	logPath := writeQueryLog(t)

	out, err := execute(t, "--log-path", logPath, "--json", "run", "--threshold", "1000")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var report models.RunReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if !report.DryRun {
		t.Error("expected dry run by default")
	}
	if report.DetectedCount != 2 || len(report.Suggested) != 1 || report.Suggested[0].CanonicalKey != "Client.phone" {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestRunCommandLiveWithoutGraphStore(t *testing.T) {
	logPath := writeQueryLog(t)

	out, err := execute(t, "--log-path", logPath, "run", "--threshold", "1000", "--live")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out, "live") || !strings.Contains(out, "failed: 1") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestAdviseCommand(t *testing.T) {
	out, err := execute(t, "advise", "MATCH (c:Client) WHERE c.phone = $p RETURN c")
	if err != nil {
		t.Fatalf("advise failed: %v", err)
	}
	if !strings.Contains(out, "idx_client_phone") {
		t.Errorf("unexpected output: %s", out)
	}

	out, err = execute(t, "advise", "MATCH (n) RETURN count(n)")
	if err != nil {
		t.Fatalf("advise failed: %v", err)
	}
	if !strings.HasPrefix(out, "No suggestion:") {
		t.Errorf("unexpected output: %s", out)
	}

	if _, err := execute(t, "advise"); err == nil {
		t.Error("expected error without an operation")
	}
}

func TestBreakerAndLedgerCommands(t *testing.T) {
	out, err := execute(t, "breaker")
	if err != nil {
		t.Fatalf("breaker failed: %v", err)
	}
	if !strings.HasPrefix(out, "index-apply: CLOSED") {
		t.Errorf("unexpected output: %s", out)
	}

	out, err = execute(t, "ledger")
	if err != nil {
		t.Fatalf("ledger failed: %v", err)
	}
	if !strings.Contains(out, "Ledger is empty.") {
		t.Errorf("unexpected output: %s", out)
	}

	out, err = execute(t, "runs")
	if err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	if !strings.Contains(out, "No runs recorded.") {
		t.Errorf("unexpected output: %s", out)
	}
}
