// SPDX-License-Identifier: Apache-2.0

package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestManualClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	if !clock.Now().Equal(start) {
		t.Errorf("expected start time, got %v", clock.Now())
	}

	clock.Advance(5 * time.Second)
	if !clock.Now().Equal(start.Add(5 * time.Second)) {
		t.Errorf("expected time advanced by 5s, got %v", clock.Now())
	}
}

func TestManualTickerFires(t *testing.T) {
	clock := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(time.Second)

	clock.Advance(3 * time.Second)

	fired := 0
	for {
		select {
		case <-ticker.C():
			fired++
			continue
		default:
		}
		break
	}
	if fired != 3 {
		t.Errorf("expected 3 ticks after advancing 3s, got %d", fired)
	}
}

func TestManualTickerStop(t *testing.T) {
	clock := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()

	clock.Advance(5 * time.Second)

	select {
	case <-ticker.C():
		t.Errorf("expected no ticks after Stop")
	default:
	}
}

func TestRealClockTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatalf("expected tick within a second")
	}
	ticker.Stop()
	ticker.Stop() // idempotent
}

func TestUnixMillisRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	data, err := json.Marshal(Millis(ts))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "1773480413000" {
		t.Errorf("expected epoch millis, got %s", data)
	}

	var decoded UnixMillis
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Time().Equal(ts) {
		t.Errorf("expected %v, got %v", ts, decoded.Time())
	}
}

func TestUnixMillisMillis(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	if got := Millis(ts).Millis(); got != 1773480413000 {
		t.Errorf("expected 1773480413000, got %d", got)
	}
	if got := (UnixMillis{}).Millis(); got != 0 {
		t.Errorf("expected 0 for zero time, got %d", got)
	}
}

func TestUnixMillisZero(t *testing.T) {
	data, err := json.Marshal(UnixMillis{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "0" {
		t.Errorf("expected 0 for zero time, got %s", data)
	}
}
