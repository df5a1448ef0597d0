package web

import (
	"database/sql"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/hpungsan/docwatch/internal/errors"
	"github.com/hpungsan/docwatch/internal/ops"
	"github.com/hpungsan/docwatch/internal/report"
	"github.com/hpungsan/docwatch/internal/watch"
)

// dashboardRuns is the number of recent runs shown on the dashboard.
const dashboardRuns = 20

// Handlers contains HTTP route handlers for the status server.
type Handlers struct {
	db             *sql.DB
	watcher        StatusSource
	renderer       *Renderer
	logger         *slog.Logger
	allowedOrigins []string
}

// DashboardData is the template data for the dashboard page.
type DashboardData struct {
	PageData
	Status     *watch.Status
	Runs       *ops.ListOutput
	RunsFailed string
}

// RunPageData is the template data for the run detail page.
type RunPageData struct {
	PageData
	Run          *ops.FetchOutput
	RenderedHTML template.HTML
}

// HandleDashboard handles GET /: watcher status and recent runs.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	data := DashboardData{
		PageData: PageData{Title: "docwatch", Version: h.renderer.version},
	}
	if h.watcher != nil {
		status := h.watcher.Status()
		data.Status = &status
	}
	if h.db != nil {
		runs, err := ops.List(r.Context(), h.db, ops.ListInput{
			Collection: h.defaultCollection(r),
			Limit:      dashboardRuns,
		})
		if err != nil {
			h.logger.Warn("list runs for dashboard", "error", err)
			data.RunsFailed = err.Error()
		} else {
			data.Runs = runs
		}
	}
	h.renderer.renderPage(w, "dashboard", data)
}

// HandleStatus handles GET /status: watcher status as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.watcher == nil {
		h.renderer.renderError(w, r, errUnavailable("watcher is not running"))
		return
	}
	renderJSON(w, http.StatusOK, h.watcher.Status())
}

// HandleRuns handles GET /runs: paginated run history as JSON.
func (h *Handlers) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.renderer.renderError(w, withJSON(r), errUnavailable("run history is not available"))
		return
	}

	result, err := ops.List(r.Context(), h.db, ops.ListInput{
		Collection: h.defaultCollection(r),
		Status:     r.URL.Query().Get("status"),
		Limit:      parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset:     parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderer.renderError(w, withJSON(r), err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleRunDetail handles GET /runs/{id}: a rendered run report, or JSON on request.
func (h *Handlers) HandleRunDetail(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.renderer.renderError(w, r, errUnavailable("run history is not available"))
		return
	}

	id := r.PathValue("id")
	run, err := ops.Fetch(r.Context(), h.db, ops.FetchInput{ID: id, IncludeReport: true})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, run)
		return
	}

	h.renderer.renderPage(w, "run", RunPageData{
		PageData: PageData{
			Title:   "Run " + run.ID,
			Version: h.renderer.version,
		},
		Run:          run,
		RenderedHTML: report.RenderMarkdown(run.Report),
	})
}

// defaultCollection returns the collection query parameter. Without one, the
// watcher's own collection is used; "all" lists every collection.
func (h *Handlers) defaultCollection(r *http.Request) string {
	collection := strings.TrimSpace(r.URL.Query().Get("collection"))
	switch {
	case collection == "all":
		return ""
	case collection != "":
		return collection
	case h.watcher != nil:
		return h.watcher.Status().Collection
	default:
		return ""
	}
}

func errUnavailable(msg string) *errors.WatchError {
	return &errors.WatchError{
		Code:    errors.ErrUnexpected,
		Status:  http.StatusServiceUnavailable,
		Message: msg,
	}
}

// withJSON marks r as wanting a JSON error body.
func withJSON(r *http.Request) *http.Request {
	if wantsJSON(r) {
		return r
	}
	clone := r.Clone(r.Context())
	clone.Header.Set("Accept", "application/json")
	return clone
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
