package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"linkscan/crawler"
	"linkscan/models"
)

type startScanRequest struct {
	Site           string `json:"site"`
	IncludeMenus   *bool  `json:"includeMenus"`
	IncludeWidgets *bool  `json:"includeWidgets"`
}

// scanView adds the fields that are derived on read.
type scanView struct {
	models.Scan
	DurationSeconds *int64 `json:"durationSeconds"`
}

type page[T any] struct {
	Items   []T `json:"items"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
}

// view overlays live counters when the engine is running the scan.
func (s *Server) view(scan *models.Scan) scanView {
	if p, ok := s.engine.Progress(scan.ID); ok {
		scan.TotalLinks = p.TotalLinks
		scan.ProcessedLinks = p.ProcessedLinks
		scan.Truncated = p.Truncated
		scan.SkippedLinks = p.SkippedLinks
	}
	return scanView{Scan: *scan, DurationSeconds: scan.DurationSeconds()}
}

func (s *Server) startScan(c *gin.Context) {
	var req startScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	defaults, err := s.settings.GetScanDefaults(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	start := crawler.StartRequest{
		Site:           req.Site,
		IncludeMenus:   defaults.IncludeMenus,
		IncludeWidgets: defaults.IncludeWidgets,
	}
	if req.IncludeMenus != nil {
		start.IncludeMenus = *req.IncludeMenus
	}
	if req.IncludeWidgets != nil {
		start.IncludeWidgets = *req.IncludeWidgets
	}

	scan, err := s.engine.Start(c.Request.Context(), start)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.view(scan))
}

func (s *Server) listScans(c *gin.Context) {
	pageNum, ok := intQuery(c, "page", 1)
	if !ok {
		return
	}
	perPage, ok := intQuery(c, "perPage", models.DefaultScansPerPage)
	if !ok {
		return
	}
	status := models.ScanStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		badRequest(c, "unknown status")
		return
	}

	f := models.ScanFilter{Status: status, Page: pageNum, PerPage: perPage}
	f.Normalize()
	scans, total, err := s.scans.ListScans(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]scanView, 0, len(scans))
	for i := range scans {
		items = append(items, s.view(&scans[i]))
	}
	c.JSON(http.StatusOK, page[scanView]{Items: items, Total: total, Page: f.Page, PerPage: f.PerPage})
}

func (s *Server) getScan(c *gin.Context) {
	scan, err := s.scans.GetScan(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(scan))
}

func (s *Server) clearScans(c *gin.Context) {
	n, err := s.scans.ClearScans(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (s *Server) deleteScan(c *gin.Context) {
	id := c.Param("id")
	if s.engine.IsRunning(id) {
		c.JSON(http.StatusConflict, errorResponse{Error: "scan is still running, cancel it first"})
		return
	}
	if err := s.scans.DeleteScan(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) cancelScan(c *gin.Context) {
	id := c.Param("id")
	cancelled, err := s.engine.Cancel(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	scan, err := s.scans.GetScan(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled, "scan": s.view(scan)})
}

func (s *Server) listLinks(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.scans.GetScan(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	pageNum, ok := intQuery(c, "page", 1)
	if !ok {
		return
	}
	perPage, ok := intQuery(c, "perPage", models.DefaultLinksPerPage)
	if !ok {
		return
	}
	grouped, ok := boolQuery(c, "grouped", true)
	if !ok {
		return
	}

	linkType := models.LinkType(c.Query("type"))
	if linkType != "" && !linkType.Valid() {
		badRequest(c, "unknown type")
		return
	}
	status := models.LinkStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		badRequest(c, "unknown status")
		return
	}

	q := models.LinkQuery{
		Type:    linkType,
		Status:  status,
		Search:  c.Query("search"),
		SortBy:  c.Query("sortBy"),
		SortDir: models.SortDir(c.Query("sortDir")),
		Page:    pageNum,
		PerPage: perPage,
		Grouped: grouped,
	}
	q.Normalize()

	if grouped {
		links, total, err := s.scans.ListLinks(c.Request.Context(), id, q)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, page[models.ScanLink]{Items: links, Total: total, Page: q.Page, PerPage: q.PerPage})
		return
	}

	occurrences, total, err := s.scans.ListLinkOccurrences(c.Request.Context(), id, q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page[models.LinkOccurrence]{Items: occurrences, Total: total, Page: q.Page, PerPage: q.PerPage})
}

func (s *Server) scanReport(c *gin.Context) {
	renderer, err := s.reports.Renderer(c.Query("format"), c.GetHeader("Accept"))
	if err != nil {
		respondError(c, err)
		return
	}
	report, err := s.reports.Build(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := renderer.Render(&buf, report); err != nil {
		respondError(c, fmt.Errorf("render report: %w", err))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="scan-%s.%s"`, report.Scan.ID, renderer.Extension()))
	c.Data(http.StatusOK, renderer.ContentType(), buf.Bytes())
}

// scanEvents streams progress snapshots as server-sent events until the scan
// is terminal or the client goes away.
func (s *Server) scanEvents(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if _, err := s.scans.GetScan(ctx, id); err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ticker := time.NewTicker(s.eventInterval)
	defer ticker.Stop()
	done := s.engine.Done(id)

	c.Stream(func(w io.Writer) bool {
		scan, err := s.scans.GetScan(ctx, id)
		if err != nil {
			s.logger.Debug("event stream ended", zap.String("scan_id", id), zap.Error(err))
			return false
		}
		if scan.Status.IsTerminal() {
			c.SSEvent("done", s.view(scan))
			return false
		}
		c.SSEvent("progress", s.view(scan))

		select {
		case <-ctx.Done():
			return false
		case <-done:
			// once more for the final snapshot
			done = nil
		case <-ticker.C:
		}
		return true
	})
}
