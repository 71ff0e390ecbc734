package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Mschirtzinger/tasksync/internal/app"
	"github.com/Mschirtzinger/tasksync/internal/core"
	"github.com/Mschirtzinger/tasksync/internal/ledger"
)

const maxBodySize = 16 << 20

// SyncTaskContext holds the per-request sync options.
type SyncTaskContext struct {
	RequestUser   string `json:"request_user"`
	DaysToDueDate *int   `json:"days_to_due_date"`
}

// SyncTaskRequest is the body of POST /sync-task.
type SyncTaskRequest struct {
	ConfluencePageURLs []string        `json:"confluence_page_urls" binding:"required,min=1"`
	Context            SyncTaskContext `json:"context"`
}

// SyncProjectRequest is the body of POST /sync-project.
type SyncProjectRequest struct {
	ProjectPageURL string `json:"project_page_url" binding:"required"`
	ProjectKey     string `json:"project_key" binding:"required"`
	RequestUser    string `json:"request_user"`
}

// undoByID is the alternative body of POST /undo-sync-task.
type undoByID struct {
	SyncRequestID string `json:"sync_request_id"`
}

// statusFor maps an operation error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Printf("ERROR: %s %s request=%s: %v", c.Request.Method, c.Request.URL.Path, requestIDOf(c), err)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"request_id":  requestIDOf(c),
		"detail":      err.Error(),
		"reason_code": core.ReasonCode(err),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	h := s.app.Health()
	c.JSON(http.StatusOK, gin.H{"status": h.Status, "detail": "Application is alive."})
}

func (s *Server) handleReady(c *gin.Context) {
	r := s.app.Ready(c.Request.Context())
	status := http.StatusOK
	if !r.Ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, r)
}

func (s *Server) handleSync(c *gin.Context) {
	var req SyncTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	s.logger.Printf("Sync request %s from %s with %d URLs", requestIDOf(c), userOrUnknown(req.Context.RequestUser), len(req.ConfluencePageURLs))

	report, err := s.app.Sync(c.Request.Context(), app.SyncRequest{
		RequestID:     requestIDOf(c),
		RequestUser:   req.Context.RequestUser,
		URLs:          req.ConfluencePageURLs,
		DaysToDueDate: req.Context.DaysToDueDate,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id":     report.RequestID,
		"overall_status": report.Status,
		"results":        report.Entries,
		"problems":       report.Problems,
	})
}

// handleUndo accepts either a ledger (a JSON array of records, as returned
// by /sync-task) or {"sync_request_id": "..."} naming a stored run.
func (s *Server) handleUndo(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
	if err != nil {
		abort(c, http.StatusBadRequest, "cannot read request body")
		return
	}

	req := app.UndoRequest{RequestID: requestIDOf(c)}
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '{':
		var byID undoByID
		if err := json.Unmarshal(trimmed, &byID); err != nil || byID.SyncRequestID == "" {
			abort(c, http.StatusBadRequest, "expected a ledger array or {\"sync_request_id\": ...}")
			return
		}
		req.SyncRequestID = byID.SyncRequestID
	default:
		l, err := ledger.Decode[ledger.Record](bytes.NewReader(trimmed), ledger.FormatJSON)
		if err != nil {
			abort(c, http.StatusBadRequest, err.Error())
			return
		}
		if len(l) == 0 {
			abort(c, http.StatusBadRequest, "ledger is empty")
			return
		}
		req.Ledger = l
	}

	report, err := s.app.Undo(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id":     report.RequestID,
		"overall_status": report.Status,
		"detail":         undoDetail(report.Entries),
		"results":        report.Entries,
	})
}

func undoDetail(entries []ledger.UndoRecord) string {
	counts := make(map[string]int)
	for _, u := range entries {
		counts[u.Status]++
	}
	return "undo finished: " + strconv.Itoa(counts[ledger.StatusSuccess]) + " reverted, " +
		strconv.Itoa(counts[ledger.StatusPartial]) + " partial, " +
		strconv.Itoa(counts[ledger.StatusFailure]) + " failed, " +
		strconv.Itoa(counts[ledger.StatusSkipped]) + " skipped"
}

func (s *Server) handleSyncProject(c *gin.Context) {
	var req SyncProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	s.logger.Printf("Project sync request %s from %s for %s", requestIDOf(c), userOrUnknown(req.RequestUser), req.ProjectKey)

	report, err := s.app.SyncProject(c.Request.Context(), app.ProjectRequest{
		RequestID:    requestIDOf(c),
		RequestUser:  req.RequestUser,
		RootIssueKey: req.ProjectKey,
		RootDocument: req.ProjectPageURL,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id":     report.RequestID,
		"overall_status": report.Status,
		"results":        report.Pages,
	})
}

type runSummary struct {
	RequestID   string `json:"request_id"`
	Kind        string `json:"kind"`
	CreatedAt   string `json:"created_at"`
	RequestUser string `json:"request_user,omitempty"`
	Status      string `json:"overall_status"`
	Entries     int    `json:"entries"`
}

func (s *Server) handleListRuns(c *gin.Context) {
	store := s.app.Store()
	if store == nil {
		s.fail(c, app.ErrNoStore)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := store.ListRunsContext(c.Request.Context(), ledger.ListRunsFilter{
		Kind:  c.Query("kind"),
		Limit: limit,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]runSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, runSummary{
			RequestID:   r.RequestID,
			Kind:        r.Kind,
			CreatedAt:   r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			RequestUser: r.RequestUser,
			Status:      r.Status,
			Entries:     r.Entries,
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

// handleGetRun returns the stored report of one run as it was produced.
func (s *Server) handleGetRun(c *gin.Context) {
	store := s.app.Store()
	if store == nil {
		s.fail(c, app.ErrNoStore)
		return
	}
	run, err := store.GetRunContext(c.Request.Context(), c.Param("id"))
	if errors.Is(err, core.ErrNotFound) {
		abort(c, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("X-Run-Kind", run.Kind)
	c.Data(http.StatusOK, "application/json; charset=utf-8", run.Payload)
}

func userOrUnknown(u string) string {
	if u = strings.TrimSpace(u); u == "" {
		return "unknown_user"
	}
	return u
}
