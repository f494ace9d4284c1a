// File: internal/server/handlers.go
package server

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiprobe/internal/history"
	"github.com/xkilldash9x/uiprobe/internal/reporting"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxRunsLimit = 500

// Response is the envelope of every API answer.
type Response struct {
	Status string `json:"status"` // "success" or "error"
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RunDetail is one run with its per-pair results.
type RunDetail struct {
	Run     history.Run      `json:"run"`
	Results []history.Result `json:"results"`
}

// ReportEntry names a report.json found beneath the served directory. Dir is empty for
// the root report and the target slug otherwise.
type ReportEntry struct {
	Dir  string `json:"dir"`
	HTML string `json:"html"`
}

// Handlers implements the HTTP API over a report directory and the run history.
type Handlers struct {
	fs   afero.Fs
	dir  string
	runs HistoryReader
	log  *zap.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(fs afero.Fs, dir string, runs HistoryReader, logger *zap.Logger) *Handlers {
	return &Handlers{fs: fs, dir: dir, runs: runs, log: logger.Named("handlers")}
}

// RegisterRoutes mounts the API and the static report files.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/reports", h.HandleListReports)
		r.Get("/reports/{dir}", h.HandleGetReport)
		r.Get("/report", h.HandleGetReport)
		r.Get("/runs", h.HandleListRuns)
		r.Get("/runs/{runID}", h.HandleGetRun)
	})

	r.Get("/", h.HandleIndex)
	files := http.FileServer(afero.NewHttpFs(h.fs).Dir(h.dir))
	r.Handle("/*", files)
}

// HandleHealthCheck confirms the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleIndex redirects to the HTML report when the directory holds one, and to the
// report listing otherwise.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if ok, _ := afero.Exists(h.fs, filepath.Join(h.dir, reporting.HTMLFile)); ok {
		http.Redirect(w, r, "/"+reporting.HTMLFile, http.StatusFound)
		return
	}
	http.Redirect(w, r, "/api/v1/reports", http.StatusFound)
}

// HandleListReports finds report.json at the root and in each target subdirectory.
func (h *Handlers) HandleListReports(w http.ResponseWriter, _ *http.Request) {
	entries := []ReportEntry{}
	if ok, _ := afero.Exists(h.fs, filepath.Join(h.dir, reporting.JSONFile)); ok {
		entries = append(entries, ReportEntry{HTML: "/" + reporting.HTMLFile})
	}
	infos, err := afero.ReadDir(h.fs, h.dir)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("cannot read report directory: %v", err))
		return
	}
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		if ok, _ := afero.Exists(h.fs, filepath.Join(h.dir, info.Name(), reporting.JSONFile)); ok {
			entries = append(entries, ReportEntry{
				Dir:  info.Name(),
				HTML: "/" + path.Join(info.Name(), reporting.HTMLFile),
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Dir < entries[j].Dir })
	h.respondWithSuccess(w, http.StatusOK, entries)
}

var safeDir = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// HandleGetReport returns a decoded report.json, from the root or from {dir}.
func (h *Handlers) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	dir := h.dir
	if sub := chi.URLParam(r, "dir"); sub != "" {
		if !safeDir.MatchString(sub) || sub == "." || sub == ".." {
			h.respondWithError(w, http.StatusBadRequest, "invalid report directory")
			return
		}
		dir = filepath.Join(h.dir, sub)
	}
	file := filepath.Join(dir, reporting.JSONFile)
	if ok, _ := afero.Exists(h.fs, file); !ok {
		h.respondWithError(w, http.StatusNotFound, "report not found")
		return
	}
	report, err := reporting.ReadJSON(h.fs, file)
	if err != nil {
		h.log.Error("Failed to read report.", zap.String("file", file), zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "report is unreadable")
		return
	}
	h.respondWithSuccess(w, http.StatusOK, report)
}

// HandleListRuns lists recorded runs, newest first. Query: target, limit.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRunsLimit {
			h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxRunsLimit))
			return
		}
		limit = n
	}
	runs, err := h.runs.List(r.Context(), r.URL.Query().Get("target"), limit)
	if err != nil {
		h.log.Error("Failed to list runs.", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "internal error listing runs")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	h.respondWithSuccess(w, http.StatusOK, runs)
}

// HandleGetRun returns one run and its results.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}
	runID := chi.URLParam(r, "runID")
	run, results, err := h.runs.Get(r.Context(), runID)
	if errors.Is(err, history.ErrNotFound) {
		h.respondWithError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return
	}
	if err != nil {
		h.log.Error("Failed to load run.", zap.String("run_id", runID), zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "internal error loading run")
		return
	}
	h.respondWithSuccess(w, http.StatusOK, RunDetail{Run: run, Results: results})
}

func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respond(w, statusCode, Response{Status: "error", Error: message})
}

func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data any) {
	h.respond(w, statusCode, Response{Status: "success", Data: data})
}

func (h *Handlers) respond(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
