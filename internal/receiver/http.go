// Package receiver implements OTLP HTTP and gRPC logs endpoints that feed
// query log lines to the slow-operation detector.
package receiver

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// maxBodySize caps decompressed request bodies.
const maxBodySize = 32 << 20

// decompressGzip decompresses gzip-encoded data
func decompressGzip(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// HTTPReceiver handles OTLP HTTP requests.
type HTTPReceiver struct {
	sink   LineSink
	logger *slog.Logger
	server *http.Server
}

// NewHTTPReceiver creates a new HTTP receiver.
func NewHTTPReceiver(addr string, sink LineSink, logger *slog.Logger) *HTTPReceiver {
	if logger == nil {
		logger = slog.Default()
	}

	r := &HTTPReceiver{
		sink:   sink,
		logger: logger,
	}

	r.server = &http.Server{
		Addr:    addr,
		Handler: r.Handler(),
	}

	return r
}

// Handler returns the receiver's routes.
func (r *HTTPReceiver) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/logs", r.handleLogs)
	mux.HandleFunc("/health", r.handleHealth)
	return mux
}

// Start starts the HTTP server.
func (r *HTTPReceiver) Start() error {
	return r.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (r *HTTPReceiver) Shutdown(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}

// handleLogs handles OTLP logs export requests.
func (r *HTTPReceiver) handleLogs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer req.Body.Close()

	// Handle compression
	var reader io.Reader = req.Body
	if req.Header.Get("Content-Encoding") == "gzip" {
		gz, err := decompressGzip(req.Body)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to decompress: %v", err), http.StatusBadRequest)
			return
		}
		defer gz.Close()
		reader = gz
	}

	// Read request body
	body, err := io.ReadAll(io.LimitReader(reader, maxBodySize))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read body: %v", err), http.StatusBadRequest)
		return
	}

	// Parse request - try protobuf first, then JSON
	var exportReq collogspb.ExportLogsServiceRequest
	if err := proto.Unmarshal(body, &exportReq); err != nil {
		unmarshaler := protojson.UnmarshalOptions{DiscardUnknown: true}
		if jsonErr := unmarshaler.Unmarshal(body, &exportReq); jsonErr != nil {
			r.logger.Debug("failed to parse logs request",
				"protobuf_error", err,
				"json_error", jsonErr,
				"body_length", len(body),
			)
			http.Error(w, fmt.Sprintf("Failed to parse request: protobuf error: %v, json error: %v", err, jsonErr), http.StatusBadRequest)
			return
		}
	}

	lines := extractLines(&exportReq)
	for _, line := range lines {
		r.sink.Push(line)
	}
	r.logger.Debug("received logs", "transport", "http", "lines", len(lines))

	// Return success response (always protobuf for OTLP)
	resp := &collogspb.ExportLogsServiceResponse{}
	r.writeResponse(w, resp)
}

// handleHealth handles health check requests.
func (r *HTTPReceiver) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeResponse writes a protobuf response.
// OTLP always uses protobuf for responses.
func (r *HTTPReceiver) writeResponse(w http.ResponseWriter, resp proto.Message) {
	respBytes, err := proto.Marshal(resp)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, bytes.NewReader(respBytes))
}
