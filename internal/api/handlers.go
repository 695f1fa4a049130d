package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/pkg/httputil"
	"github.com/ignite/inboxbench/internal/reconciler"
	"github.com/ignite/inboxbench/internal/report"
	"github.com/ignite/inboxbench/internal/snapshot"
)

// Runs is the part of the reconciler the API drives.
type Runs interface {
	Workspaces() []string
	Latest(workspace string) (*reconciler.RunResult, bool)
	Start(workspace string) (string, error)
}

// Handlers contains the HTTP handlers
type Handlers struct {
	runs    Runs
	store   snapshot.Store
	archive report.Archive
	started time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(runs Runs, store snapshot.Store, archive report.Archive) *Handlers {
	return &Handlers{runs: runs, store: store, archive: archive, started: time.Now()}
}

type workspaceHealth struct {
	LastRunID  string    `json:"last_run_id,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Errors     int       `json:"errors"`
}

// HealthCheck reports liveness and the outcome of each workspace's last run.
// A workspace whose last run had errors marks the service degraded.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	workspaces := make(map[string]workspaceHealth)
	for _, ws := range h.runs.Workspaces() {
		var wh workspaceHealth
		if res, ok := h.runs.Latest(ws); ok {
			wh = workspaceHealth{LastRunID: res.RunID, FinishedAt: res.FinishedAt, Errors: len(res.Errors)}
			if len(res.Errors) > 0 {
				status = "degraded"
			}
		}
		workspaces[ws] = wh
	}

	httputil.OK(w, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(h.started).Round(time.Second).String(),
		"workspaces": workspaces,
	})
}

// TriggerRun starts a reconciliation in the background.
func (h *Handlers) TriggerRun(w http.ResponseWriter, r *http.Request) {
	ws := chi.URLParam(r, "workspace")
	runID, err := h.runs.Start(ws)
	switch {
	case errors.Is(err, reconciler.ErrUnknownWorkspace):
		httputil.NotFound(w, "unknown workspace "+ws)
		return
	case errors.Is(err, reconciler.ErrRunInProgress):
		httputil.Conflict(w, "a run is already in progress for "+ws)
		return
	case err != nil:
		httputil.InternalError(w, r, err)
		return
	}
	httputil.Accepted(w, map[string]string{"run_id": runID, "workspace": ws})
}

// LatestRun returns the last finished run for a workspace.
func (h *Handlers) LatestRun(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	res, ok := h.runs.Latest(ws)
	if !ok {
		httputil.NotFound(w, "no run has finished for "+ws)
		return
	}
	httputil.OK(w, res)
}

// LatestReport serves the archived HTML report.
func (h *Handlers) LatestReport(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if h.archive == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "unavailable", "report archive is not configured")
		return
	}
	page, err := h.archive.Latest(r.Context(), ws)
	if errors.Is(err, report.ErrNoReport) {
		httputil.NotFound(w, "no report for "+ws)
		return
	}
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.HTML(w, http.StatusOK, page)
}

// ListAccounts lists snapshot rows, optionally filtered by ?status=.
func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok || !h.requireStore(w) {
		return
	}
	status, err := parseStatus(r.URL.Query().Get("status"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	rows, err := h.store.ListByStatus(r.Context(), ws, status)
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	if rows == nil {
		rows = []domain.SnapshotRow{}
	}
	httputil.OK(w, map[string]interface{}{
		"workspace": ws,
		"status":    status,
		"count":     len(rows),
		"accounts":  rows,
	})
}

// SendingVolume returns the persisted daily capacity of SENDING accounts.
func (h *Handlers) SendingVolume(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok || !h.requireStore(w) {
		return
	}
	volume, err := h.store.SendingVolume(r.Context(), ws)
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"workspace": ws, "sending_volume": volume})
}

func (h *Handlers) workspace(w http.ResponseWriter, r *http.Request) (string, bool) {
	ws := chi.URLParam(r, "workspace")
	for _, name := range h.runs.Workspaces() {
		if name == ws {
			return ws, true
		}
	}
	httputil.NotFound(w, "unknown workspace "+ws)
	return "", false
}

func (h *Handlers) requireStore(w http.ResponseWriter) bool {
	if h.store == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "unavailable", "state store is not configured")
		return false
	}
	return true
}

var knownStatuses = []domain.Status{
	domain.StatusWarming,
	domain.StatusSick,
	domain.StatusBench,
	domain.StatusSending,
	domain.StatusUnknown,
}

func parseStatus(raw string) (domain.Status, error) {
	if raw == "" {
		return "", nil
	}
	s := domain.Status(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range knownStatuses {
		if s == known {
			return s, nil
		}
	}
	return "", errors.New("status must be one of WARMING, SICK, BENCH, SENDING, UNKNOWN")
}
