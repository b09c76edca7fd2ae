// SPDX-License-Identifier: Apache-2.0
// Package errorreport tracks recurring failures as deduplicated
// reports, promoting critical ones into alerts.
package errorreport

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/ishan-parihar/ai-town-sub000/pkg/alerting"
	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
	townerr "github.com/ishan-parihar/ai-town-sub000/pkg/errors"
	"github.com/ishan-parihar/ai-town-sub000/pkg/telemetry"
)

// Context describes where an error happened.
type Context struct {
	Service   string                 `json:"service"`
	Operation string                 `json:"operation"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Report is one deduplicated error record. Identity is a hash of
// (service, operation, kind, message); repeated occurrences bump the
// counter instead of creating duplicates.
type Report struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	Message        string          `json:"message"`
	Context        Context         `json:"context"`
	Timestamp      core.UnixMillis `json:"timestamp"`
	Occurrences    int             `json:"occurrences"`
	LastOccurrence core.UnixMillis `json:"lastOccurrence"`
	Resolved       bool            `json:"resolved"`
}

// criticalServices and criticalOperations classify errors that warrant
// an immediate critical alert regardless of occurrence count.
var (
	criticalServices   = map[string]bool{"database": true, "auth": true, "payment": true}
	criticalOperations = map[string]bool{"startup": true, "shutdown": true, "security": true}

	// criticalSignatures are well-known message fragments that indicate
	// infrastructure-level failure.
	criticalSignatures = []string{
		"connection refused",
		"connection reset",
		"no such host",
		"out of memory",
	}
)

// StoreConfig configures a Store. Zero values get defaults.
type StoreConfig struct {
	// MaxReports bounds retained reports; oldest resolved first, then
	// oldest unresolved. Defaults to 500.
	MaxReports int

	Clock   core.Clock
	Logger  *slog.Logger
	Metrics *telemetry.CoreMetrics
}

// Store keeps deduplicated error reports in memory.
type Store struct {
	maxReports int
	clock      core.Clock
	logger     *slog.Logger
	metrics    *telemetry.CoreMetrics

	mu     sync.Mutex
	byID   map[string]*Report
	order  []string // insertion order, for eviction
	raiser alerting.Raiser
}

// NewStore builds an empty Store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.MaxReports <= 0 {
		cfg.MaxReports = 500
	}
	if cfg.Clock == nil {
		cfg.Clock = core.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		maxReports: cfg.MaxReports,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		byID:       make(map[string]*Report),
	}
}

// SetRaiser wires the alert gateway for critical errors.
func (s *Store) SetRaiser(r alerting.Raiser) {
	s.mu.Lock()
	s.raiser = r
	s.mu.Unlock()
}

// Handle records one error occurrence and returns its report. The same
// (service, operation, kind, message) tuple always maps to the same
// report; its occurrence counter and lastOccurrence advance instead of
// a duplicate appearing. Critical errors raise an alert immediately.
func (s *Store) Handle(err error, ctx Context) Report {
	kind := kindOf(err)
	message := ""
	if err != nil {
		message = err.Error()
	}
	id := reportID(ctx.Service, ctx.Operation, kind, message)
	now := core.UnixMillis(s.clock.Now())

	s.mu.Lock()
	report, exists := s.byID[id]
	if exists {
		report.Occurrences++
		report.LastOccurrence = now
	} else {
		report = &Report{
			ID:             id,
			Kind:           kind,
			Message:        message,
			Context:        ctx,
			Timestamp:      now,
			Occurrences:    1,
			LastOccurrence: now,
		}
		s.byID[id] = report
		s.order = append(s.order, id)
		s.evictLocked()
	}
	snapshot := *report
	raiser := s.raiser
	s.mu.Unlock()

	s.logger.Error("error.handled",
		slog.String("reportId", snapshot.ID),
		slog.String("service", ctx.Service),
		slog.String("operation", ctx.Operation),
		slog.String("kind", kind),
		slog.Int("occurrences", snapshot.Occurrences),
		slog.String("error", message))
	s.metrics.RecordErrorReport(context.Background(), ctx.Service, kind)

	if isCritical(ctx, message) && raiser != nil {
		raiser.CreateAlert("error", alerting.SeverityCritical,
			fmt.Sprintf("Critical error in %s", ctx.Service),
			message, "error-handler",
			map[string]interface{}{
				"reportId":    snapshot.ID,
				"service":     ctx.Service,
				"operation":   ctx.Operation,
				"occurrences": snapshot.Occurrences,
			})
	}
	return snapshot
}

// evictLocked drops the oldest reports past the retention cap. Must be
// called under lock.
func (s *Store) evictLocked() {
	for len(s.order) > s.maxReports {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.byID, oldest)
	}
}

// Resolve marks a report resolved. Resolving an already-resolved report
// is a no-op; an unknown id is NOT_FOUND.
func (s *Store) Resolve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.byID[id]
	if !ok {
		return townerr.New(townerr.CodeNotFound, fmt.Sprintf("error report %q not found", id), nil)
	}
	report.Resolved = true
	return nil
}

// Get returns one report by id.
func (s *Store) Get(id string) (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.byID[id]
	if !ok {
		return Report{}, false
	}
	return *report, true
}

// ListFilter narrows List results. A nil Resolved keeps both.
type ListFilter struct {
	Resolved *bool
	Service  string
	Limit    int
}

// List returns matching reports, most recent occurrence first.
func (s *Store) List(filter ListFilter) []Report {
	s.mu.Lock()
	out := make([]Report, 0, len(s.byID))
	for _, report := range s.byID {
		if filter.Resolved != nil && report.Resolved != *filter.Resolved {
			continue
		}
		if filter.Service != "" && report.Context.Service != filter.Service {
			continue
		}
		out = append(out, *report)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastOccurrence.Millis() > out[j].LastOccurrence.Millis()
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// Count returns total and unresolved report counts.
func (s *Store) Count() (total, unresolved int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total = len(s.byID)
	for _, report := range s.byID {
		if !report.Resolved {
			unresolved++
		}
	}
	return total, unresolved
}

// HandlePanic funnels a recovered panic value into the store. Use in a
// deferred recover at goroutine boundaries.
func (s *Store) HandlePanic(recovered interface{}, ctx Context) {
	if recovered == nil {
		return
	}
	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", recovered)
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]interface{}{}
	}
	ctx.Metadata["stack"] = string(debug.Stack())
	s.Handle(err, ctx)
}

// Go runs fn on a new goroutine with panics funneled into the store
// instead of crashing the process.
func (s *Store) Go(ctx Context, fn func()) {
	go func() {
		defer func() {
			s.HandlePanic(recover(), ctx)
		}()
		fn()
	}()
}

// reportID derives the stable dedup identity.
func reportID(service, operation, kind, message string) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s", service, operation, kind, message)
	return fmt.Sprintf("err-%016x", h.Sum64())
}

// kindOf classifies an error for identity purposes: the code for our
// own errors, the bare type otherwise.
func kindOf(err error) string {
	if err == nil {
		return "nil"
	}
	if code := townerr.CodeOf(err); code != townerr.CodeInternal {
		return string(code)
	}
	if _, ok := err.(*townerr.TownError); ok {
		return string(townerr.CodeInternal)
	}
	return fmt.Sprintf("%T", err)
}

func isCritical(ctx Context, message string) bool {
	if criticalServices[strings.ToLower(ctx.Service)] {
		return true
	}
	if criticalOperations[strings.ToLower(ctx.Operation)] {
		return true
	}
	lower := strings.ToLower(message)
	for _, sig := range criticalSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
