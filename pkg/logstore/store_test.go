// SPDX-License-Identifier: Apache-2.0
package logstore

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func mustOpen(t *testing.T, maxRows int) *Store {
	t.Helper()
	s, err := Open(maxRows)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndRecent(t *testing.T) {
	s := mustOpen(t, 100)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	for i, level := range []string{"INFO", "WARN", "ERROR"} {
		if err := s.Append(ctx, base.Add(time.Duration(i)*time.Second), level, "townmon", "msg", ""); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := s.Recent(ctx, Query{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Level != "error" {
		t.Fatalf("first entry = %+v, want newest first", entries[0])
	}
	if entries[0].Timestamp.Millis() != base.Add(2*time.Second).UnixMilli() {
		t.Fatalf("timestamp = %d", entries[0].Timestamp.Millis())
	}
}

func TestQueryFilters(t *testing.T) {
	s := mustOpen(t, 100)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	_ = s.Append(ctx, base, "info", "goals", "created", "")
	_ = s.Append(ctx, base.Add(time.Minute), "error", "goals", "failed", "")
	_ = s.Append(ctx, base.Add(2*time.Minute), "error", "insights", "failed", "")

	entries, _ := s.Recent(ctx, Query{Level: "ERROR"})
	if len(entries) != 2 {
		t.Fatalf("level filter = %d entries, want 2", len(entries))
	}

	entries, _ = s.Recent(ctx, Query{Service: "goals"})
	if len(entries) != 2 {
		t.Fatalf("service filter = %d entries, want 2", len(entries))
	}

	entries, _ = s.Recent(ctx, Query{Since: base.Add(30 * time.Second), Until: base.Add(90 * time.Second)})
	if len(entries) != 1 || entries[0].Message != "failed" || entries[0].Service != "goals" {
		t.Fatalf("range filter = %+v", entries)
	}

	entries, _ = s.Recent(ctx, Query{Limit: 1})
	if len(entries) != 1 {
		t.Fatalf("limit = %d entries, want 1", len(entries))
	}
}

func TestRetentionTrim(t *testing.T) {
	s := mustOpen(t, 5)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_ = s.Append(ctx, time.Now(), "info", "townmon", "m", "")
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 5 {
		t.Fatalf("count = %d, want 5", n)
	}
}

func TestHandlerFeedsStore(t *testing.T) {
	s := mustOpen(t, 100)
	logger := slog.New(NewHandler(s, slog.LevelInfo, "townmon"))

	logger.Debug("dropped")
	logger.Info("alert created", slog.String("alertId", "a1"))
	logger.With(slog.String("service", "goals")).Warn("slow query")

	entries, err := s.Recent(context.Background(), Query{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 (debug filtered)", len(entries))
	}
	if entries[1].Service != "townmon" || entries[1].Attrs == "" {
		t.Fatalf("info entry = %+v", entries[1])
	}
	if entries[0].Service != "goals" {
		t.Fatalf("warn entry = %+v, service attr not honored", entries[0])
	}
}
