// SPDX-License-Identifier: Apache-2.0
// Package api exposes the HTTP+JSON boundary consumed by the web layer:
// metric queries and recording, health, alerts, logs, errors, breaker
// state and the load-balancer status probe.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ishan-parihar/ai-town-sub000/pkg/alerting"
	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
	townerr "github.com/ishan-parihar/ai-town-sub000/pkg/errors"
	"github.com/ishan-parihar/ai-town-sub000/pkg/errorreport"
	"github.com/ishan-parihar/ai-town-sub000/pkg/health"
	"github.com/ishan-parihar/ai-town-sub000/pkg/logstore"
	"github.com/ishan-parihar/ai-town-sub000/pkg/metrics"
	"github.com/ishan-parihar/ai-town-sub000/pkg/notify"
	"github.com/ishan-parihar/ai-town-sub000/pkg/resilience"
)

// Server routes monitoring API requests to the owning components.
type Server struct {
	Metrics  *metrics.Store
	Health   *health.Runner
	Alerts   *alerting.Engine
	Notify   *notify.Dispatcher
	Errors   *errorreport.Store
	Logs     *logstore.Store
	Breakers *resilience.Registry

	// Production hides internal error detail from responses.
	Production bool

	Clock  core.Clock
	Logger *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now()
}

// ServeHTTP dispatches on the first path segment.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segments := normalizePath(r.URL.Path)
	if len(segments) == 0 {
		http.NotFound(w, r)
		return
	}
	switch segments[0] {
	case "metrics":
		s.handleMetrics(w, r, segments)
	case "health":
		s.handleHealth(w, r, segments)
	case "alerts":
		s.handleAlerts(w, r, segments)
	case "alerting":
		s.handleAlerting(w, r, segments)
	case "logs":
		s.handleLogs(w, r, segments)
	case "errors":
		s.handleErrors(w, r, segments)
	case "circuit-breakers":
		s.handleBreakers(w, r, segments)
	case "status":
		s.handleStatus(w, r, segments)
	default:
		http.NotFound(w, r)
	}
}

// handleMetrics serves GET /metrics and POST /metrics/:name.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request, segments []string) {
	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		s.getMetrics(w, r)
	case len(segments) == 2 && r.Method == http.MethodPost:
		s.postMetric(w, r, segments[1])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("metric")
	if name == "" {
		s.writeJSON(w, http.StatusOK, s.metricsOverview())
		return
	}

	limit := 0
	history := s.Metrics.History(name, limit)
	if rangeStr := r.URL.Query().Get("timeRange"); rangeStr != "" {
		d, err := time.ParseDuration(rangeStr)
		if err != nil {
			s.writeError(w, townerr.New(townerr.CodeInvalidInput, "timeRange must be a duration like 15m or 1h", err))
			return
		}
		cutoff := s.now().Add(-d).UnixMilli()
		filtered := history[:0]
		for _, sample := range history {
			if sample.Timestamp.Millis() >= cutoff {
				filtered = append(filtered, sample)
			}
		}
		history = filtered
	}

	type point struct {
		Timestamp core.UnixMillis `json:"timestamp"`
		Value     float64         `json:"value"`
		Unit      string          `json:"unit,omitempty"`
	}
	points := make([]point, 0, len(history))
	for _, sample := range history {
		points = append(points, point{Timestamp: sample.Timestamp, Value: sample.Value, Unit: sample.Unit})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"metric":  name,
		"history": points,
	})
}

// metricsOverview assembles the dashboard view from the well-known
// metric names.
func (s *Server) metricsOverview() map[string]interface{} {
	latest := func(name string) interface{} {
		v, ok := s.Metrics.Latest(name)
		if !ok {
			return nil
		}
		return v
	}
	return map[string]interface{}{
		"cpu":    latest("system.cpu.usage"),
		"memory": latest("system.memory.usage"),
		"disk":   latest("system.disk.usage"),
		"requests": map[string]interface{}{
			"responseTime": latest("api.response.time"),
			"rate":         latest("api.request.rate"),
			"errorRate":    latest("api.error.rate"),
		},
		"database": map[string]interface{}{
			"queryTime":   latest("db.query.time"),
			"connections": latest("db.connections"),
		},
		"cache": map[string]interface{}{
			"hitRate": latest("cache.hit.rate"),
			"size":    latest("cache.size"),
		},
	}
}

func (s *Server) postMetric(w http.ResponseWriter, r *http.Request, name string) {
	var body struct {
		Value json.RawMessage   `json:"value"`
		Unit  string            `json:"unit"`
		Tags  map[string]string `json:"tags"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	var value float64
	if err := json.Unmarshal(body.Value, &value); err != nil {
		s.writeError(w, townerr.New(townerr.CodeInvalidInput, "metric value must be a number", err))
		return
	}

	s.Metrics.Record(name, value, body.Unit, body.Tags)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":  name,
		"value": value,
		"unit":  body.Unit,
		"tags":  body.Tags,
	})
}

// handleHealth serves GET /health, GET /health/:service and
// POST /health/:service/check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, segments []string) {
	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  s.Health.Overall(),
			"checks":  s.Health.Snapshot(),
			"summary": s.Health.Summarize(),
		})
	case len(segments) == 2 && r.Method == http.MethodGet:
		check, ok := s.Health.Get(segments[1])
		if !ok {
			s.writeError(w, townerr.New(townerr.CodeNotFound, fmt.Sprintf("no health record for %q", segments[1]), nil))
			return
		}
		s.writeJSON(w, http.StatusOK, check)
	case len(segments) == 3 && segments[2] == "check" && r.Method == http.MethodPost:
		check, ok := s.Health.CheckOne(r.Context(), segments[1])
		if !ok {
			s.writeError(w, townerr.New(townerr.CodeNotFound, fmt.Sprintf("no dependency registered as %q", segments[1]), nil))
			return
		}
		s.writeJSON(w, http.StatusOK, check)
	default:
		http.NotFound(w, r)
	}
}

// handleAlerts serves GET /alerts and POST /alerts/:id/resolve.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request, segments []string) {
	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		filter, err := alertFilter(r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		alerts := s.Alerts.List(filter)
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"alerts":     alerts,
			"statistics": s.Alerts.Stats(),
			"total":      len(alerts),
		})
	case len(segments) == 3 && segments[2] == "resolve" && r.Method == http.MethodPost:
		if err := s.Alerts.Resolve(segments[1]); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"message": "alert resolved"})
	default:
		http.NotFound(w, r)
	}
}

func alertFilter(r *http.Request) (alerting.ListFilter, error) {
	var filter alerting.ListFilter
	q := r.URL.Query()
	if v := q.Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			return filter, townerr.New(townerr.CodeInvalidInput, "resolved must be true or false", err)
		}
		filter.Resolved = &resolved
	}
	if v := q.Get("severity"); v != "" {
		severity := alerting.Severity(v)
		if !alerting.ValidSeverity(severity) {
			return filter, townerr.New(townerr.CodeInvalidInput, fmt.Sprintf("unknown severity %q", v), nil)
		}
		filter.Severity = severity
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, townerr.New(townerr.CodeInvalidInput, "limit must be a non-negative integer", err)
		}
		filter.Limit = limit
	}
	return filter, nil
}

// handleAlerting serves POST /alerting/test-channel.
func (s *Server) handleAlerting(w http.ResponseWriter, r *http.Request, segments []string) {
	if len(segments) != 2 || segments[1] != "test-channel" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var body struct {
		Channel string `json:"channel"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if body.Channel == "" {
		s.writeError(w, townerr.New(townerr.CodeInvalidInput, "channel is required", nil))
		return
	}
	if err := s.Notify.TestChannel(r.Context(), body.Channel); err != nil {
		if townerr.CodeOf(err) == townerr.CodeNotFound {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"channel": body.Channel,
			"success": false,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"channel": body.Channel,
		"success": true,
	})
}

// handleLogs serves GET /logs.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request, segments []string) {
	if len(segments) != 1 || r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	query := logstore.Query{
		Level:   q.Get("level"),
		Service: q.Get("service"),
	}
	if v := q.Get("startTime"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, townerr.New(townerr.CodeInvalidInput, "startTime must be epoch milliseconds", err))
			return
		}
		query.Since = time.UnixMilli(ms)
	}
	if v := q.Get("endTime"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, townerr.New(townerr.CodeInvalidInput, "endTime must be epoch milliseconds", err))
			return
		}
		query.Until = time.UnixMilli(ms)
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, townerr.New(townerr.CodeInvalidInput, "limit must be a non-negative integer", err))
			return
		}
		query.Limit = limit
	}

	entries, err := s.Logs.Recent(r.Context(), query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []logstore.Entry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  entries,
		"total": len(entries),
	})
}

// handleErrors serves GET /errors and POST /errors/:id/resolve.
func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request, segments []string) {
	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		var filter errorreport.ListFilter
		q := r.URL.Query()
		filter.Service = q.Get("service")
		if v := q.Get("resolved"); v != "" {
			resolved, err := strconv.ParseBool(v)
			if err != nil {
				s.writeError(w, townerr.New(townerr.CodeInvalidInput, "resolved must be true or false", err))
				return
			}
			filter.Resolved = &resolved
		}
		if v := q.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 0 {
				s.writeError(w, townerr.New(townerr.CodeInvalidInput, "limit must be a non-negative integer", err))
				return
			}
			filter.Limit = limit
		}
		reports := s.Errors.List(filter)
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"errors": reports,
			"total":  len(reports),
		})
	case len(segments) == 3 && segments[2] == "resolve" && r.Method == http.MethodPost:
		if err := s.Errors.Resolve(segments[1]); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"message": "error report resolved"})
	default:
		http.NotFound(w, r)
	}
}

// handleBreakers serves GET /circuit-breakers.
func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request, segments []string) {
	if len(segments) != 1 || r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, s.Breakers.Snapshots())
}

// handleStatus serves GET /status: 200 when aggregate health is
// healthy, 503 otherwise.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, segments []string) {
	if len(segments) != 1 || r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	overall := s.Health.Overall()
	healthy := overall == health.StatusHealthy
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status":  overall,
		"healthy": healthy,
	})
}

func decodeBody(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return townerr.New(townerr.CodeInvalidInput, "read request body", err)
	}
	if len(body) == 0 {
		return townerr.New(townerr.CodeInvalidInput, "request body is required", nil)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return townerr.New(townerr.CodeInvalidInput, "malformed JSON body", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger().Error("api.write_response", slog.String("error", err.Error()))
	}
}

// writeError maps a TownError to its HTTP status. In production,
// internal errors collapse to an opaque message.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	te := townerr.AsTownError(err)
	code := te.StatusCode
	if code == 0 {
		code = http.StatusInternalServerError
	}
	message := te.Message
	if s.Production && code == http.StatusInternalServerError {
		message = "internal error"
	}
	s.writeJSON(w, code, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    te.Code,
			"message": message,
		},
	})
}

// normalizePath splits the URL path into non-empty segments.
func normalizePath(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	segments := parts[:0]
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}
