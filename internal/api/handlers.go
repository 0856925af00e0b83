package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/monitor"
)

// maxLogLimit caps the limit query parameter of /logs.
const maxLogLimit = 1000

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// StatusResponse summarizes the store.
type StatusResponse struct {
	Records     int64                `json:"records"`
	Alerts      int64                `json:"alerts"`
	Matches     int64                `json:"matches"`
	RecordLinks repository.LinkStats `json:"record_links"`
	AlertLinks  repository.LinkStats `json:"alert_links"`
	Since       time.Time            `json:"since"`
	Operations  map[string]int64     `json:"operations"` // operation log entries per code name since Since
	Disk        []monitor.Usage      `json:"disk,omitempty"`
}

// LogEntry is one operation log entry.
type LogEntry struct {
	ID        uint      `json:"id"`
	Code      int       `json:"code"`
	Name      string    `json:"name"`
	Failure   bool      `json:"failure"`
	OriginID  *uint     `json:"origin_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// handleError logs err under a fresh correlation id and responds with it.
func (s *Server) handleError(c echo.Context, err error, message string, code int) error {
	resp := ErrorResponse{
		Error:         message,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
	if err != nil {
		resp.Error = logger.RedactSensitiveData(err.Error())
	}

	s.log.Error("API error",
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("path", c.Path()),
		logger.String("message", message),
		logger.Error(err))
	return c.JSON(code, resp)
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        s.build.GetVersion(),
		"build_date":     s.build.GetBuildDate(),
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": uptime.Seconds(),
	})
}

// getStatus handles GET /api/v1/status?since=<duration|RFC3339>.
func (s *Server) getStatus(c echo.Context) error {
	since, err := s.parseSince(c.QueryParam("since"), DefaultStatusWindow)
	if err != nil {
		return s.handleError(c, err, "invalid since parameter", http.StatusBadRequest)
	}

	ctx := c.Request().Context()
	resp := StatusResponse{Since: since, Operations: map[string]int64{}}

	if resp.Records, err = s.store.Records.Count(ctx); err != nil {
		return s.handleError(c, err, "failed to count records", http.StatusInternalServerError)
	}
	if resp.Alerts, err = s.store.Alerts.Count(ctx); err != nil {
		return s.handleError(c, err, "failed to count alerts", http.StatusInternalServerError)
	}
	if resp.Matches, err = s.store.Matches.Count(ctx); err != nil {
		return s.handleError(c, err, "failed to count matches", http.StatusInternalServerError)
	}
	if resp.RecordLinks, err = s.store.Links.Stats(ctx); err != nil {
		return s.handleError(c, err, "failed to read record link state", http.StatusInternalServerError)
	}
	if resp.AlertLinks, err = s.store.AlertLinks.Stats(ctx); err != nil {
		return s.handleError(c, err, "failed to read alert link state", http.StatusInternalServerError)
	}

	counts, err := s.store.OpLog.CountByCode(ctx, since)
	if err != nil {
		return s.handleError(c, err, "failed to count operations", http.StatusInternalServerError)
	}
	for code, n := range counts {
		resp.Operations[code.String()] = n
	}

	if len(s.diskPaths) > 0 {
		// disk figures are best effort
		if resp.Disk, err = monitor.DiskUsage(s.diskPaths, s.log); err != nil {
			s.log.Warn("disk usage unavailable", logger.Error(err))
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// getLogs handles GET /api/v1/logs?code=60&code=69&since=1h&limit=50.
func (s *Server) getLogs(c echo.Context) error {
	var filter repository.LogFilter

	for _, raw := range c.QueryParams()["code"] {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return s.handleError(c, err, "invalid code parameter", http.StatusBadRequest)
		}
		filter.Codes = append(filter.Codes, entities.LogCode(code))
	}

	if raw := c.QueryParam("since"); raw != "" {
		since, err := s.parseSince(raw, 0)
		if err != nil {
			return s.handleError(c, err, "invalid since parameter", http.StatusBadRequest)
		}
		filter.Since = since
	}

	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return s.handleError(c, err, "limit must be a positive integer", http.StatusBadRequest)
		}
		filter.Limit = min(limit, maxLogLimit)
	}

	entries, err := s.store.OpLog.Recent(c.Request().Context(), filter)
	if err != nil {
		return s.handleError(c, err, "failed to read operation log", http.StatusInternalServerError)
	}

	out := make([]LogEntry, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		out = append(out, LogEntry{
			ID:        e.ID,
			Code:      int(e.Code),
			Name:      e.Code.String(),
			Failure:   e.Code.IsFailure(),
			OriginID:  e.OriginID,
			Message:   e.Message,
			CreatedAt: e.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// parseSince accepts a Go duration looking back from now or an RFC 3339
// timestamp. An empty value means now minus fallback.
func (s *Server) parseSince(raw string, fallback time.Duration) (time.Time, error) {
	if raw == "" {
		return s.now().Add(-fallback).UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return s.now().Add(-d).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
