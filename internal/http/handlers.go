package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"ledgersheet/internal/core"
	"ledgersheet/internal/export"
	"ledgersheet/internal/log"
	"ledgersheet/internal/services"
)

type writeResponse struct {
	Message string   `json:"message"`
	Dataset string   `json:"dataset"`
	File    string   `json:"file"`
	Rows    int      `json:"rows"`
	Columns []string `json:"columns"`
}

func newWriteResponse(message string, res services.WriteResult) writeResponse {
	return writeResponse{
		Message: message,
		Dataset: res.Dataset,
		File:    res.Path,
		Rows:    res.Rows,
		Columns: res.Columns,
	}
}

type chartEntry struct {
	Column string `json:"column"`
	Image  string `json:"image"`
}

type inlineChartsResponse struct {
	Message string       `json:"message"`
	Dataset string       `json:"dataset"`
	Charts  []chartEntry `json:"charts"`
}

type directoryChartsResponse struct {
	Message   string   `json:"message"`
	Dataset   string   `json:"dataset"`
	Directory string   `json:"directory"`
	Files     []string `json:"files"`
}

// limitBody caps the request body at the configured upload size. Requests
// that declare a larger Content-Length are rejected before reading.
func (s *Server) limitBody(w http.ResponseWriter, r *http.Request, op string) bool {
	if r.ContentLength > s.maxBody {
		s.fail(w, r, op, &http.MaxBytesError{Limit: s.maxBody})
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	return true
}

func (s *Server) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	if !s.limitBody(w, r, log.OpImport) {
		return
	}
	if err := r.ParseMultipartForm(s.maxBody); err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			err = core.Validationf("invalid multipart form: %v", err)
		}
		s.fail(w, r, log.OpImport, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		s.fail(w, r, log.OpImport, core.Validationf("no file part in request"))
		return
	}
	if err != nil {
		s.fail(w, r, log.OpImport, core.Validationf("read uploaded file: %v", err))
		return
	}
	defer file.Close()

	res, err := s.svc.ImportCSV(r.Context(), header.Filename, file)
	if err != nil {
		s.fail(w, r, log.OpImport, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.imports, 1)
	NewResponse().JSON(newWriteResponse("CSV imported successfully", res)).Write(w)
}

func (s *Server) handleAddExpenses(w http.ResponseWriter, r *http.Request) {
	if !s.limitBody(w, r, log.OpAppend) {
		return
	}
	body, err := DecodeJSONObject(r)
	if err != nil {
		s.fail(w, r, log.OpAppend, err)
		return
	}
	batch, err := ParseExpenseBatch(body)
	if err != nil {
		s.fail(w, r, log.OpAppend, err)
		return
	}
	res, err := s.svc.AddExpenses(r.Context(), batch)
	if err != nil {
		s.fail(w, r, log.OpAppend, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.rowsAppended, int64(len(batch.Items)))
	NewResponse().JSON(newWriteResponse("Expenses added successfully", res)).Write(w)
}

func (s *Server) handleAddColumnRow(w http.ResponseWriter, r *http.Request) {
	if !s.limitBody(w, r, log.OpAddColumn) {
		return
	}
	body, err := DecodeJSONObject(r)
	if err != nil {
		s.fail(w, r, log.OpAddColumn, err)
		return
	}
	req, err := ParseColumnRow(body)
	if err != nil {
		s.fail(w, r, log.OpAddColumn, err)
		return
	}
	res, err := s.svc.AddColumnRow(r.Context(), req)
	if err != nil {
		s.fail(w, r, log.OpAddColumn, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.columnsAdded, 1)
	NewResponse().JSON(newWriteResponse("Column and row added successfully", res)).Write(w)
}

func (s *Server) handleGenerateCharts(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.GenerateCharts(r.Context(), DatasetParam(r.URL.Query()))
	if err != nil {
		s.fail(w, r, log.OpRender, err)
		return
	}

	if res.Mode == services.ChartsDirectory {
		atomic.AddInt64(&s.appMetrics.chartsRendered, int64(len(res.Files)))
		NewResponse().JSON(directoryChartsResponse{
			Message:   "Charts generated successfully",
			Dataset:   res.Dataset,
			Directory: res.Directory,
			Files:     res.Files,
		}).Write(w)
		return
	}

	charts := make([]chartEntry, len(res.Images))
	for i, img := range res.Images {
		charts[i] = chartEntry{Column: img.Column, Image: img.Base64()}
	}
	atomic.AddInt64(&s.appMetrics.chartsRendered, int64(len(charts)))
	NewResponse().JSON(inlineChartsResponse{
		Message: "Charts generated successfully",
		Dataset: res.Dataset,
		Charts:  charts,
	}).Write(w)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	data, name, err := s.svc.Spreadsheet(r.Context(), DatasetParam(r.URL.Query()))
	if err != nil {
		s.fail(w, r, log.OpExport, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.downloads, 1)
	NewResponse().Attachment(name, export.ContentTypeXLSX, data).Write(w)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	html, err := s.svc.HTMLView(r.Context(), DatasetParam(q), ColumnsParam(q))
	if err != nil {
		s.fail(w, r, log.OpExport, err)
		return
	}
	NewResponse().BodyHTML(html).Write(w)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	ref, err := s.svc.Publish(r.Context(), DatasetParam(r.URL.Query()))
	if err != nil {
		s.fail(w, r, log.OpPublish, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.publishes, 1)
	NewResponse().JSON(map[string]string{
		"message": "Dataset published successfully",
		"ref":     ref,
	}).Write(w)
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	}).Write(w)
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if err := s.svc.Ready(ctx); err != nil {
		checks["output_dir"] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["output_dir"] = "ok"
	}

	if s.svc.PublishEnabled() {
		checks["sheets"] = "configured"
	} else {
		checks["sheets"] = "not_configured"
	}

	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	NewResponse().Status(httpStatus).JSON(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	securityMetrics := s.securityDetector.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	traceMetrics := s.traceMiddleware.GetMetrics()

	counters := []struct {
		name, help string
		value      int64
	}{
		{"http_requests_total", "Total number of HTTP requests", traceMetrics.TotalRequests},
		{"http_server_errors_total", "Total number of 5xx responses", traceMetrics.ServerErrors},
		{"expense_rows_appended_total", "Total expense rows appended", atomic.LoadInt64(&s.appMetrics.rowsAppended)},
		{"csv_imports_total", "Total CSV imports", atomic.LoadInt64(&s.appMetrics.imports)},
		{"column_rows_added_total", "Total add-column-row operations", atomic.LoadInt64(&s.appMetrics.columnsAdded)},
		{"charts_rendered_total", "Total charts rendered", atomic.LoadInt64(&s.appMetrics.chartsRendered)},
		{"spreadsheet_downloads_total", "Total spreadsheet downloads", atomic.LoadInt64(&s.appMetrics.downloads)},
		{"sheets_publishes_total", "Total datasets published to Google Sheets", atomic.LoadInt64(&s.appMetrics.publishes)},
		{"rate_limit_hits_total", "Total rate limit hits", rateLimitMetrics.TotalHits},
		{"suspicious_requests_total", "Total suspicious requests detected", securityMetrics.SuspiciousRequests},
	}

	w.WriteHeader(http.StatusOK)
	for _, c := range counters {
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(w, "%s %d\n\n", c.name, c.value)
	}

	fmt.Fprintf(w, "# HELP active_rate_limit_clients Currently tracked rate limit clients\n")
	fmt.Fprintf(w, "# TYPE active_rate_limit_clients gauge\n")
	fmt.Fprintf(w, "active_rate_limit_clients %d\n\n", rateLimitMetrics.ClientCount)

	fmt.Fprintf(w, "# HELP http_request_duration_avg_microseconds Average request duration\n")
	fmt.Fprintf(w, "# TYPE http_request_duration_avg_microseconds gauge\n")
	fmt.Fprintf(w, "http_request_duration_avg_microseconds %d\n\n", traceMetrics.AverageResponseTime)

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n", time.Since(s.appMetrics.uptime).Seconds())
}
