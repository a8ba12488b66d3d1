package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

// Health statuses.
const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// HealthResponse reports whether the optimizer is alive and doing work.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`

	Breaker    models.BreakerSnapshot `json:"breaker"`
	LedgerSize int                    `json:"ledger_size"`
	LastRun    *RunSummary            `json:"last_run,omitempty"`

	// StorageError is set when the store could not be read.
	StorageError string `json:"storage_error,omitempty"`

	Goroutines int    `json:"goroutines"`
	HeapMB     uint64 `json:"heap_mb"`
}

// RunSummary is the part of the latest run report shown by the health check.
type RunSummary struct {
	ID         string    `json:"id"`
	DryRun     bool      `json:"dry_run"`
	FinishedAt time.Time `json:"finished_at"`
	Age        string    `json:"age"`
	Applied    int       `json:"applied"`
	Failed     int       `json:"failed"`
}

var startTime = time.Now()

// Version is reported by the health endpoint.
var Version = "0.1.0"

// HandleHealth reports breaker state, ledger size and the latest run.
// A tripped breaker degrades the status; an unreadable store makes the
// service unavailable.
// GET /api/v1/health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	resp := HealthResponse{
		Status:     StatusOK,
		Timestamp:  now,
		Version:    Version,
		Uptime:     time.Since(startTime).Round(time.Second).String(),
		Breaker:    s.optimizer.Breaker().Snapshot(),
		Goroutines: runtime.NumGoroutine(),
		HeapMB:     m.HeapAlloc / 1024 / 1024,
	}

	if resp.Breaker.State == models.BreakerOpen {
		resp.Status = StatusDegraded
	}

	entries, err := s.store.ListLedger(ctx)
	if err == nil {
		resp.LedgerSize = len(entries)

		var runs []*models.RunReport
		runs, err = s.store.ListRuns(ctx, 1)
		if err == nil && len(runs) > 0 {
			last := runs[0]
			resp.LastRun = &RunSummary{
				ID:         last.ID,
				DryRun:     last.DryRun,
				FinishedAt: last.FinishedAt,
				Age:        now.Sub(last.FinishedAt).Round(time.Second).String(),
				Applied:    len(last.Applied),
				Failed:     last.Failed,
			}
		}
	}

	status := http.StatusOK
	if err != nil {
		s.logger.Warn("health check could not read storage", "error", err)
		resp.Status = StatusUnavailable
		resp.StorageError = err.Error()
		status = http.StatusServiceUnavailable
	}

	s.respondJSON(w, status, resp)
}
