// SPDX-License-Identifier: Apache-2.0
// Package health runs registered dependency probes on a timer and keeps
// one current HealthCheck record per dependency.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
)

// Status is the health state of a dependency.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Result is what a probe reports back.
type Result struct {
	Status  Status
	Message string
	Details map[string]interface{}
}

// Check is the current health record for one dependency. Exactly one live
// record exists per name; every probe cycle overwrites it.
type Check struct {
	Name           string                 `json:"name"`
	Status         Status                 `json:"status"`
	Message        string                 `json:"message,omitempty"`
	Timestamp      core.UnixMillis        `json:"timestamp"`
	ResponseTimeMs int64                  `json:"responseTimeMs"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// Summary aggregates the current records for the API surface.
type Summary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
}

// Checker probes one dependency. The context carries the per-dependency
// timeout; implementations should honor it.
type Checker interface {
	Check(ctx context.Context) Result
}

// CheckerFunc wraps a function as a Checker.
type CheckerFunc func(ctx context.Context) Result

// Check calls the function.
func (f CheckerFunc) Check(ctx context.Context) Result { return f(ctx) }

// Dependency is a registered probe target.
type Dependency struct {
	// Name identifies the dependency; also the key for health records.
	Name string

	// Type classifies the dependency ("database", "api", "cache", ...).
	// Database dependencies escalate probe failures to critical alerts.
	Type string

	// Timeout bounds one probe execution. Zero uses the runner default.
	Timeout time.Duration

	// Checker is the probe capability supplied by the dependency owner.
	Checker Checker
}

// HTTPChecker probes an HTTP endpoint with a GET request. A 2xx response
// is healthy, any other status is degraded, a transport error is
// unhealthy.
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

// Check performs the GET.
func (c *HTTPChecker) Check(ctx context.Context) Result {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return Result{Status: StatusUnhealthy, Message: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Status: StatusUnhealthy, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Status: StatusHealthy, Details: map[string]interface{}{"statusCode": resp.StatusCode}}
	}
	return Result{
		Status:  StatusDegraded,
		Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		Details: map[string]interface{}{"statusCode": resp.StatusCode},
	}
}

// GRPCChecker probes a gRPC server implementing the standard health
// protocol (grpc.health.v1.Health/Check).
type GRPCChecker struct {
	// Target is the dial target, e.g. "localhost:9090".
	Target string

	// Service is the service name to query; empty checks the server
	// overall.
	Service string
}

// Check dials the target and queries the health service.
func (c *GRPCChecker) Check(ctx context.Context) Result {
	conn, err := grpc.NewClient(c.Target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return Result{Status: StatusUnhealthy, Message: err.Error()}
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: c.Service})
	if err != nil {
		return Result{Status: StatusUnhealthy, Message: err.Error()}
	}
	switch resp.GetStatus() {
	case healthpb.HealthCheckResponse_SERVING:
		return Result{Status: StatusHealthy}
	case healthpb.HealthCheckResponse_NOT_SERVING:
		return Result{Status: StatusUnhealthy, Message: "service not serving"}
	default:
		return Result{Status: StatusDegraded, Message: resp.GetStatus().String()}
	}
}

// SQLChecker probes a database handle with PingContext.
type SQLChecker struct {
	DB *sql.DB
}

// Check pings the database.
func (c *SQLChecker) Check(ctx context.Context) Result {
	if c.DB == nil {
		return Result{Status: StatusUnhealthy, Message: "no database handle"}
	}
	if err := c.DB.PingContext(ctx); err != nil {
		return Result{Status: StatusUnhealthy, Message: err.Error()}
	}
	stats := c.DB.Stats()
	return Result{Status: StatusHealthy, Details: map[string]interface{}{
		"openConnections": stats.OpenConnections,
		"inUse":           stats.InUse,
	}}
}
