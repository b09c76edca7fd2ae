// SPDX-License-Identifier: Apache-2.0
package logstore

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Handler is a slog.Handler that mirrors records into a Store. It is
// meant to run alongside the main console handler, not replace it.
type Handler struct {
	store   *Store
	level   slog.Level
	service string
	attrs   []slog.Attr
}

// NewHandler builds a Handler. service labels entries with no service
// attribute of their own.
func NewHandler(store *Store, level slog.Level, service string) *Handler {
	return &Handler{store: store, level: level, service: service}
}

// Enabled reports whether the record level passes the handler floor.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle inserts the record. Storage failures are swallowed: the log
// mirror must never break the caller's logging path.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	service := h.service
	attrs := map[string]interface{}{}
	for _, a := range h.attrs {
		if a.Key == "service" {
			service = a.Value.String()
			continue
		}
		attrs[a.Key] = a.Value.Any()
	}
	record.Attrs(func(a slog.Attr) bool {
		if a.Key == "service" {
			service = a.Value.String()
			return true
		}
		attrs[a.Key] = a.Value.Any()
		return true
	})

	encoded := ""
	if len(attrs) > 0 {
		if b, err := json.Marshal(attrs); err == nil {
			encoded = string(b)
		}
	}
	_ = h.store.Append(ctx, record.Time, record.Level.String(), service, record.Message, encoded)
	return nil
}

// WithAttrs returns a handler carrying the extra attrs.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

// WithGroup returns the handler unchanged; grouped attrs are flattened.
func (h *Handler) WithGroup(name string) slog.Handler { return h }
