package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fleet-dashboard/internal/auth"
	"fleet-dashboard/internal/fleet/aggregation"
	"fleet-dashboard/internal/fleet/application"
	"fleet-dashboard/internal/fleet/domain"
	"fleet-dashboard/internal/fleet/infrastructure/upstream"
)

const apiPrefix = "/api/v1/"

// Dashboard is the application surface served over HTTP.
type Dashboard interface {
	Fleet() (application.FleetView, error)
	Grouping() (application.GroupingView, error)
	Trailers(filter aggregation.TrailerFilter) (application.TrailersView, error)
	Actions() (application.ActionsView, error)
	Compare(ctx context.Context, sel application.CompareSelection) (application.CompareView, error)
	Sources() (application.SourcesView, error)
	Acknowledge(ctx context.Context, key string) error
	AssignTrailer(ctx context.Context, siteID, jobSiteID string) error
	RenameJobSite(ctx context.Context, jobSiteID, name string) error
}

// ExportObserver records report exports.
type ExportObserver interface {
	ObserveExport(format, result string, duration time.Duration)
}

// HandlerOption customizes the handler.
type HandlerOption func(*Handler)

// WithExportObserver installs an export observer.
func WithExportObserver(observer ExportObserver) HandlerOption {
	return func(h *Handler) {
		h.exports = observer
	}
}

// WithHandlerLogger assigns a logger.
func WithHandlerLogger(logger zerolog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// Handler provides dashboard HTTP endpoints.
type Handler struct {
	dashboard Dashboard
	exports   ExportObserver
	logger    zerolog.Logger
	now       func() time.Time
}

// NewHandler constructs a handler.
func NewHandler(dashboard Dashboard, opts ...HandlerOption) (*Handler, error) {
	if dashboard == nil {
		return nil, errors.New("fleet handler: nil dashboard")
	}
	h := &Handler{dashboard: dashboard, logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP handles /api/v1/ routes except the stream.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, apiPrefix)
	switch {
	case path == "fleet":
		h.get(w, r, func() (any, error) { return h.dashboard.Fleet() })
	case path == "jobsites":
		h.get(w, r, func() (any, error) { return h.dashboard.Grouping() })
	case path == "trailers":
		h.get(w, r, func() (any, error) { return h.dashboard.Trailers(parseFilter(r)) })
	case path == "actions":
		h.get(w, r, func() (any, error) { return h.dashboard.Actions() })
	case path == "sources":
		h.get(w, r, func() (any, error) { return h.dashboard.Sources() })
	case path == "compare":
		h.get(w, r, func() (any, error) { return h.handleCompare(r) })
	case strings.HasPrefix(path, "reports/"):
		h.handleReport(w, r, strings.TrimPrefix(path, "reports/"))
	case strings.HasPrefix(path, "actions/"):
		h.handleActionWrite(w, r, strings.TrimPrefix(path, "actions/"))
	case strings.HasPrefix(path, "trailers/"):
		h.handleTrailerWrite(w, r, strings.TrimPrefix(path, "trailers/"))
	case strings.HasPrefix(path, "jobsites/"):
		h.handleJobSiteWrite(w, r, strings.TrimPrefix(path, "jobsites/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, view func() (any, error)) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := view()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func parseFilter(r *http.Request) aggregation.TrailerFilter {
	query := r.URL.Query()
	filter := aggregation.TrailerFilter{
		Query: query.Get("q"),
		Sort:  query.Get("sort"),
	}
	if status := query.Get("status"); status != "" {
		filter.Status = domain.ParseStatus(status)
	}
	if strings.HasPrefix(filter.Sort, "-") {
		filter.Sort = strings.TrimPrefix(filter.Sort, "-")
		filter.Desc = true
	}
	if order := query.Get("order"); strings.EqualFold(order, "desc") {
		filter.Desc = true
	}
	return filter
}

func (h *Handler) handleCompare(r *http.Request) (application.CompareView, error) {
	query := r.URL.Query()
	days, err := strconv.Atoi(query.Get("days"))
	if err != nil {
		return application.CompareView{}, application.ErrInvalidWindow
	}
	var sites []string
	for _, value := range query["site"] {
		for _, id := range strings.Split(value, ",") {
			if id = strings.TrimSpace(id); id != "" {
				sites = append(sites, id)
			}
		}
	}
	return h.dashboard.Compare(r.Context(), application.CompareSelection{
		SiteIDs: sites,
		Days:    days,
		Metric:  query.Get("metric"),
	})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var (
		format      string
		contentType string
		build       func(FleetReport) ([]byte, error)
	)
	switch name {
	case "fleet.xlsx":
		format, contentType, build = "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", BuildFleetXLSX
	case "fleet.pdf":
		format, contentType, build = "pdf", "application/pdf", BuildFleetPDF
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	start := time.Now()
	grouping, err := h.dashboard.Grouping()
	if err != nil {
		h.observeExport(format, err, start)
		h.respondError(w, r, err)
		return
	}
	fleet, err := h.dashboard.Fleet()
	if err != nil {
		h.observeExport(format, err, start)
		h.respondError(w, r, err)
		return
	}
	payload, err := build(FleetReport{
		GeneratedAt: h.now(),
		KPIs:        fleet.KPIs,
		Grouping:    grouping.Grouping,
	})
	h.observeExport(format, err, start)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	_, _ = w.Write(payload)
}

func (h *Handler) observeExport(format string, err error, start time.Time) {
	if h.exports == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	h.exports.ObserveExport(format, result, time.Since(start))
}

// handleActionWrite handles POST /api/v1/actions/{key}/ack.
func (h *Handler) handleActionWrite(w http.ResponseWriter, r *http.Request, rest string) {
	key, action, ok := splitResource(rest)
	if !ok || action != "ack" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.logger.Info().Str("action", key).Str("subject", auth.SubjectFromContext(r.Context())).Msg("acknowledging action item")
	if err := h.dashboard.Acknowledge(r.Context(), key); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTrailerWrite handles POST /api/v1/trailers/{site_id}/jobsite.
func (h *Handler) handleTrailerWrite(w http.ResponseWriter, r *http.Request, rest string) {
	siteID, action, ok := splitResource(rest)
	if !ok || action != "jobsite" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		JobSiteID string `json:"job_site_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.dashboard.AssignTrailer(r.Context(), siteID, strings.TrimSpace(req.JobSiteID)); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleJobSiteWrite handles POST /api/v1/jobsites/{id}/rename.
func (h *Handler) handleJobSiteWrite(w http.ResponseWriter, r *http.Request, rest string) {
	id, action, ok := splitResource(rest)
	if !ok || action != "rename" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if err := h.dashboard.RenameJobSite(r.Context(), id, name); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func splitResource(rest string) (id, action string, ok bool) {
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var statusErr *upstream.StatusError
	switch {
	case errors.Is(err, application.ErrInvalidSelection),
		errors.Is(err, application.ErrInvalidWindow),
		errors.Is(err, application.ErrInvalidMetric):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, application.ErrNotStarted):
		http.Error(w, "dashboard not ready", http.StatusServiceUnavailable)
	case errors.Is(err, upstream.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.As(err, &statusErr):
		h.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("upstream rejected request")
		http.Error(w, "upstream error", http.StatusBadGateway)
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
