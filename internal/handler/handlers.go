// Package handler provides the HTTP handlers for the dualmount node.
package handler

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/corebank/dualmount/internal/errors"
	"github.com/corebank/dualmount/internal/health"
	"github.com/corebank/dualmount/internal/model"
	"github.com/corebank/dualmount/internal/service"
	"github.com/corebank/dualmount/internal/stats"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	coordinator *service.CoordinatorService
	router      *service.RoutingService
	validator   *service.ValidationService
	backfill    *service.BackfillService
	monitor     *health.Monitor
	stats       *stats.Stats
	scenarios   []model.Scenario
	nodeID      string
	account     string
	startedAt   time.Time
	logger      *zap.Logger
}

// Deps carries the wiring for NewHandlers.
type Deps struct {
	Coordinator *service.CoordinatorService
	Router      *service.RoutingService
	Validator   *service.ValidationService
	Backfill    *service.BackfillService
	Monitor     *health.Monitor
	Stats       *stats.Stats
	Scenarios   []model.Scenario
	NodeID      string
	Account     string
	Logger      *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		coordinator: deps.Coordinator,
		router:      deps.Router,
		validator:   deps.Validator,
		backfill:    deps.Backfill,
		monitor:     deps.Monitor,
		stats:       deps.Stats,
		scenarios:   deps.Scenarios,
		nodeID:      deps.NodeID,
		account:     deps.Account,
		startedAt:   time.Now(),
		logger:      logger,
	}
}

// Index handles GET / requests.
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"service":        "dualmount",
		"node_id":        h.nodeID,
		"account":        h.account,
		"uptime_seconds": time.Since(h.startedAt).Seconds(),
		"endpoints": map[string]string{
			"GET /":             "service index",
			"GET /health":       "per-target health",
			"POST /write":       "coordinated dual write",
			"GET /read":         "routed read",
			"GET /list":         "list files on a target",
			"GET /stats":        "runtime counters",
			"POST /test":        "consistency validation suite",
			"POST /write/batch": "batch write",
			"POST /sync":        "backfill local files to shared",
		},
	})
}

// Health handles GET /health requests. Any unhealthy target degrades the
// whole node to 503 so the peer's probes see it.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	roles := make(map[string]model.Role)
	for _, target := range h.monitor.Targets() {
		roles[target.ID] = target.Role
	}

	allHealthy := true
	targets := make(map[string]interface{})
	for id, rec := range h.monitor.Snapshot() {
		if !rec.Healthy {
			allHealthy = false
		}
		entry := map[string]interface{}{
			"healthy":    rec.Healthy,
			"role":       string(roles[id]),
			"latency_ms": durationMs(rec.ProbeLatency),
		}
		if !rec.CheckedAt.IsZero() {
			entry["checked_at"] = rec.CheckedAt.UTC().Format(time.RFC3339)
		}
		if rec.Err != "" {
			entry["error"] = rec.Err
		}
		targets[id] = entry
	}

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, status, map[string]interface{}{
		"healthy":        allHealthy,
		"account":        h.account,
		"targets":        targets,
		"uptime_seconds": time.Since(h.startedAt).Seconds(),
	})
}

type writeRequestBody struct {
	Filename string         `json:"filename"`
	Content  *string        `json:"content"`
	Metadata model.Metadata `json:"metadata"`
	Policy   string         `json:"policy"`
}

// Write handles POST /write requests. Target-level failures are reported in
// a 200 body; only malformed input earns a 4xx.
func (h *Handlers) Write(w http.ResponseWriter, r *http.Request) {
	var body writeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, errors.InvalidArgument("invalid JSON body", err))
		return
	}

	if body.Content == nil {
		h.respondError(w, errors.InvalidArgument("content is required (may be empty)", nil))
		return
	}

	policy, err := model.ParsePolicy(body.Policy)
	if err != nil {
		h.respondError(w, errors.InvalidArgument("invalid write policy", err))
		return
	}

	req := &model.WriteRequest{
		Key:         body.Filename,
		Content:     []byte(*body.Content),
		Metadata:    h.stampMetadata(body.Metadata),
		RequestedAt: time.Now(),
	}

	agg, err := h.coordinator.Write(r.Context(), req, policy)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success":    agg.OverallSuccess,
		"filename":   agg.Key,
		"policy":     string(agg.Policy),
		"elapsed_ms": durationMs(agg.Elapsed),
		"per_target": perTargetView(agg.PerTarget),
	})
}

// Read handles GET /read requests.
func (h *Handlers) Read(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	role := model.Role(r.URL.Query().Get("target"))

	start := time.Now()
	res, err := h.router.Read(r.Context(), filename, role)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"filename":      res.Key,
		"content":       string(res.Content),
		"source_target": res.SourceTarget,
		"bytes_read":    res.BytesRead,
		"read_time_ms":  durationMs(time.Since(start)),
	})
}

// List handles GET /list requests.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("path")
	role := model.Role(r.URL.Query().Get("target"))

	start := time.Now()
	files, err := h.router.List(r.Context(), prefix, role)
	if err != nil {
		h.respondError(w, err)
		return
	}

	view := make([]map[string]interface{}, 0, len(files))
	for _, f := range files {
		view = append(view, map[string]interface{}{
			"name":       f.Name,
			"size_bytes": f.Size,
			"modified":   f.ModTime.UTC().Format(time.RFC3339),
			"dir":        f.Dir,
		})
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"files":        view,
		"total":        len(view),
		"list_time_ms": durationMs(time.Since(start)),
	})
}

// Stats handles GET /stats requests.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"node_id": h.nodeID,
		"account": h.account,
		"stats":   h.stats.Snapshot(),
	})
}

type testRequestBody struct {
	Scenarios []string `json:"scenarios"`
}

type scenarioReportView struct {
	Scenario    string  `json:"scenario"`
	WriterRole  string  `json:"writer_role"`
	ReaderRole  string  `json:"reader_role"`
	State       string  `json:"state"`
	Key         string  `json:"key,omitempty"`
	Passed      bool    `json:"passed"`
	Attempts    int     `json:"attempts"`
	WriteMs     float64 `json:"write_ms"`
	FirstReadMs float64 `json:"first_read_ms"`
	Error       string  `json:"error,omitempty"`
}

// RunTests handles POST /test requests. An optional body selects a subset of
// the configured scenarios by name.
func (h *Handlers) RunTests(w http.ResponseWriter, r *http.Request) {
	var body testRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		h.respondError(w, errors.InvalidArgument("invalid JSON body", err))
		return
	}

	selected := h.scenarios
	if len(body.Scenarios) > 0 {
		var picked []model.Scenario
		for _, name := range body.Scenarios {
			sc, ok := h.findScenario(name)
			if !ok {
				h.respondError(w, errors.InvalidArgument(fmt.Sprintf("unknown scenario %q", name), nil))
				return
			}
			picked = append(picked, sc)
		}
		selected = picked
	}

	reports := h.validator.RunSuite(r.Context(), selected)

	overall := true
	views := make([]scenarioReportView, 0, len(reports))
	for _, rep := range reports {
		if !rep.Passed {
			overall = false
		}
		views = append(views, scenarioReportView{
			Scenario:    rep.Scenario.Name,
			WriterRole:  string(rep.Scenario.WriterRole),
			ReaderRole:  string(rep.Scenario.ReaderRole),
			State:       string(rep.State),
			Key:         rep.Key,
			Passed:      rep.Passed,
			Attempts:    rep.Attempts,
			WriteMs:     durationMs(rep.WriteLatency),
			FirstReadMs: durationMs(rep.FirstReadLatency),
			Error:       rep.Err,
		})
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"overall_success": overall,
		"total":           len(views),
		"reports":         views,
	})
}

type batchItemBody struct {
	Filename string         `json:"filename"`
	Content  *string        `json:"content"`
	Metadata model.Metadata `json:"metadata"`
}

type batchRequestBody struct {
	Items  []batchItemBody `json:"items"`
	Policy string          `json:"policy"`
}

// WriteBatch handles POST /write/batch requests.
func (h *Handlers) WriteBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, errors.InvalidArgument("invalid JSON body", err))
		return
	}

	policy, err := model.ParsePolicy(body.Policy)
	if err != nil {
		h.respondError(w, errors.InvalidArgument("invalid write policy", err))
		return
	}

	items := make([]model.BatchItem, 0, len(body.Items))
	for _, item := range body.Items {
		// A nil content stays nil so the coordinator rejects the item
		// individually without failing the batch.
		var content []byte
		if item.Content != nil {
			content = []byte(*item.Content)
		}
		items = append(items, model.BatchItem{
			Key:      item.Filename,
			Content:  content,
			Metadata: h.stampMetadata(item.Metadata),
		})
	}

	result, err := h.coordinator.WriteBatch(r.Context(), items, policy)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success":            result.Failed == 0,
		"total":              result.Total,
		"succeeded":          result.Succeeded,
		"failed":             result.Failed,
		"errors":             stringList(result.Errors),
		"elapsed_ms":         durationMs(result.Elapsed),
		"throughput_per_sec": result.Throughput,
	})
}

// Sync handles POST /sync requests, copying local files missing from the
// shared targets.
func (h *Handlers) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.backfill.Run(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success":    len(result.Errors) == 0,
		"scanned":    result.Scanned,
		"synced":     result.Synced,
		"errors":     stringList(result.Errors),
		"elapsed_ms": durationMs(result.Elapsed),
	})
}

// stampMetadata tags caller metadata with the write provenance fields,
// overriding caller-supplied values for the reserved keys.
func (h *Handlers) stampMetadata(md model.Metadata) model.Metadata {
	md = md.Set("written_by", h.account)
	md = md.Set("written_at", time.Now().UTC().Format(time.RFC3339))
	md = md.Set("file_id", uuid.New().String())
	return md
}

func (h *Handlers) findScenario(name string) (model.Scenario, bool) {
	for _, sc := range h.scenarios {
		if sc.Name == name {
			return sc, true
		}
	}
	return model.Scenario{}, false
}

// respondError renders the error envelope for request-level failures;
// target-level failures stay inside 200 bodies.
func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := errors.ErrCodeInternal

	var ce *errors.CoordError
	if stderrors.As(err, &ce) {
		status = ce.HTTPStatus()
		code = ce.Code
	}

	h.writeJSONResponse(w, status, map[string]interface{}{
		"success": false,
		"error":   err.Error(),
		"code":    string(code),
	})
}

// writeJSONResponse writes a JSON response to the HTTP response writer.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func perTargetView(attempts map[string]model.WriteAttempt) map[string]interface{} {
	view := make(map[string]interface{}, len(attempts))
	for id, attempt := range attempts {
		entry := map[string]interface{}{
			"outcome":       string(attempt.Outcome),
			"attempts":      attempt.Attempt,
			"duration_ms":   durationMs(attempt.Duration),
			"bytes_written": attempt.BytesWritten,
		}
		if attempt.Err != "" {
			entry["error"] = attempt.Err
		}
		view[id] = entry
	}
	return view
}

func stringList(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
