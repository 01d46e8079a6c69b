package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/oppsync/internal/batch"
	"github.com/hyperengineering/oppsync/internal/outbound"
	"github.com/hyperengineering/oppsync/internal/store"
	"github.com/hyperengineering/oppsync/internal/trigger"
	"github.com/hyperengineering/oppsync/internal/types"
)

// JobHistory is the persisted record of finished jobs.
// Implemented by SQLiteStore.
type JobHistory interface {
	ListJobs(ctx context.Context, name string, limit int) ([]types.JobReport, error)
	GetJob(ctx context.Context, id string) (*types.JobReport, error)
}

// Handler implements the API handlers
type Handler struct {
	svc     *trigger.Service
	history JobHistory
	apiKey  string
	version string
}

// NewHandler creates a Handler. history may be nil, in which case only
// jobs still held by the runner are visible.
func NewHandler(svc *trigger.Service, history JobHistory, apiKey, version string) *Handler {
	return &Handler{
		svc:     svc,
		history: history,
		apiKey:  apiKey,
		version: version,
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Jobs:    h.svc.Scheduler.Names(),
		Running: h.svc.Runner.Running(),
	})
}

// maxPushBytes bounds a pushed notification body.
const maxPushBytes = 4 << 20

// Push handles POST /api/v1/push/{job}. SOAP deliveries are answered with
// a notificationsResponse whose Ack is true only when every record's job
// succeeded; JSON deliveries get the per-record results.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	jobName := chi.URLParam(r, "job")
	contentType := r.Header.Get("Content-Type")

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("Payload exceeds %d bytes", maxPushBytes))
			return
		}
		WriteProblem(w, r, http.StatusBadRequest, "Unreadable request body")
		return
	}
	format := outbound.Detect(payload, contentType)

	results, err := h.svc.Pusher.Push(r.Context(), jobName, payload, contentType)
	if err != nil {
		slog.Warn("push rejected",
			"component", "api",
			"job", jobName,
			"format", format,
			"error", err,
		)
		if format == outbound.FormatSOAP {
			status, detail := statusFor(err)
			writeXML(w, status, outbound.Fault(detail))
			return
		}
		MapError(w, r, err)
		return
	}

	if format == outbound.FormatSOAP {
		writeXML(w, http.StatusOK, outbound.Ack(trigger.Succeeded(results)))
		return
	}
	writeJSON(w, http.StatusOK, types.PushResponse{Job: jobName, Results: results})
}

// ListJobs handles GET /api/v1/jobs. Jobs still held by the runner are
// merged with the persisted history, newest first.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	limit := store.DefaultJobListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteProblem(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	byID := make(map[string]types.JobReport)
	if h.history != nil {
		persisted, err := h.history.ListJobs(r.Context(), name, limit)
		if err != nil {
			MapError(w, r, err)
			return
		}
		for _, rep := range persisted {
			byID[rep.ID] = rep
		}
	}
	for _, job := range h.svc.Runner.Jobs() {
		if name != "" && job.Name() != name {
			continue
		}
		rep := job.Snapshot()
		rep.Outcomes = nil
		byID[rep.ID] = rep
	}

	jobs := make([]types.JobReport, 0, len(byID))
	for _, rep := range byID {
		jobs = append(jobs, rep)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].StartedAt.Equal(jobs[j].StartedAt) {
			return jobs[i].StartedAt.After(jobs[j].StartedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	writeJSON(w, http.StatusOK, types.JobListResponse{Jobs: jobs})
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if job, err := h.svc.Runner.Job(id); err == nil {
		writeJSON(w, http.StatusOK, job.Snapshot())
		return
	}
	if h.history == nil {
		MapError(w, r, batch.ErrJobNotFound)
		return
	}
	rep, err := h.history.GetJob(r.Context(), id)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Poll handles POST /api/v1/jobs/{name}/poll. Without ?wait the job is
// returned as soon as it starts (202). With ?wait=<duration> the handler
// waits up to that long and answers 200 once the job is terminal.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	var wait time.Duration
	if v := r.URL.Query().Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			WriteProblem(w, r, http.StatusBadRequest, "wait must be a non-negative duration")
			return
		}
		wait = d
	}

	p, err := h.svc.Scheduler.Poller(chi.URLParam(r, "name"))
	if err != nil {
		MapError(w, r, err)
		return
	}
	job, err := p.PollOnce(r.Context())
	if err != nil {
		MapError(w, r, err)
		return
	}

	if wait > 0 {
		if _, err := job.AwaitTermination(r.Context(), wait); err == nil {
			writeJSON(w, http.StatusOK, job.Snapshot())
			return
		}
	}
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

// GetWatermark handles GET /api/v1/watermarks/{name}.
func (h *Handler) GetWatermark(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.svc.Scheduler.Poller(name); err != nil {
		MapError(w, r, err)
		return
	}
	ts, err := h.svc.Watermarks.Get(r.Context(), name)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.WatermarkResponse{Job: name, Watermark: ts})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}

func writeXML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
