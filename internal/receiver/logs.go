package receiver

import (
	"strconv"
	"strings"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
)

// Attribute keys used by the Neo4j structured query log.
const (
	attrElapsedMs = "elapsedTimeMs"
	attrQuery     = "query"
)

// LineSink receives rendered log lines.
type LineSink interface {
	Push(line string)
}

// extractLines renders every log record in req as a query log line. Records
// that carry neither a string body nor the structured query fields are
// dropped.
func extractLines(req *collogspb.ExportLogsServiceRequest) []string {
	var lines []string
	for _, rl := range req.GetResourceLogs() {
		for _, sl := range rl.GetScopeLogs() {
			for _, rec := range sl.GetLogRecords() {
				if line, ok := renderRecord(rec); ok {
					lines = append(lines, line)
				}
			}
		}
	}
	return lines
}

// renderRecord turns one record into "<timestamp> <ms>ms <query>" when the
// structured fields are present, falling back to a string body.
func renderRecord(rec *logspb.LogRecord) (string, bool) {
	fields := make(map[string]*commonpb.AnyValue)
	if kv := rec.GetBody().GetKvlistValue(); kv != nil {
		for _, f := range kv.GetValues() {
			fields[f.GetKey()] = f.GetValue()
		}
	}
	// Attributes win over body fields.
	for _, f := range rec.GetAttributes() {
		fields[f.GetKey()] = f.GetValue()
	}

	elapsed, hasElapsed := numericValue(fields[attrElapsedMs])
	query := strings.TrimSpace(fields[attrQuery].GetStringValue())

	if hasElapsed && query != "" {
		var b strings.Builder
		if ts := recordTime(rec); !ts.IsZero() {
			b.WriteString(ts.UTC().Format(time.RFC3339Nano))
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatFloat(elapsed, 'f', -1, 64))
		b.WriteString("ms ")
		b.WriteString(strings.Join(strings.Fields(query), " "))
		return b.String(), true
	}

	if body := strings.TrimSpace(rec.GetBody().GetStringValue()); body != "" {
		return body, true
	}
	return "", false
}

func recordTime(rec *logspb.LogRecord) time.Time {
	if ns := rec.GetTimeUnixNano(); ns != 0 {
		return time.Unix(0, int64(ns))
	}
	if ns := rec.GetObservedTimeUnixNano(); ns != 0 {
		return time.Unix(0, int64(ns))
	}
	return time.Time{}
}

func numericValue(v *commonpb.AnyValue) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_IntValue:
		return float64(val.IntValue), true
	case *commonpb.AnyValue_DoubleValue:
		return val.DoubleValue, true
	case *commonpb.AnyValue_StringValue:
		f, err := strconv.ParseFloat(strings.TrimSpace(val.StringValue), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
