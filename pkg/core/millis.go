// SPDX-License-Identifier: Apache-2.0

package core

import (
	"strconv"
	"time"
)

// UnixMillis is a time.Time that marshals to epoch milliseconds on the
// wire. Every timestamp crossing the HTTP boundary uses this type.
type UnixMillis time.Time

// Millis wraps a time.Time.
func Millis(t time.Time) UnixMillis { return UnixMillis(t) }

// Time returns the underlying time.Time.
func (m UnixMillis) Time() time.Time { return time.Time(m) }

// Millis returns the epoch millisecond count, 0 for the zero time.
func (m UnixMillis) Millis() int64 {
	if m.IsZero() {
		return 0
	}
	return time.Time(m).UnixMilli()
}

// IsZero reports whether the timestamp is unset.
func (m UnixMillis) IsZero() bool { return time.Time(m).IsZero() }

// MarshalJSON encodes the timestamp as an integer millisecond count.
// The zero time encodes as 0.
func (m UnixMillis) MarshalJSON() ([]byte, error) {
	if m.IsZero() {
		return []byte("0"), nil
	}
	return strconv.AppendInt(nil, time.Time(m).UnixMilli(), 10), nil
}

// UnmarshalJSON decodes an integer millisecond count.
func (m *UnixMillis) UnmarshalJSON(data []byte) error {
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	if ms == 0 {
		*m = UnixMillis(time.Time{})
		return nil
	}
	*m = UnixMillis(time.UnixMilli(ms).UTC())
	return nil
}
