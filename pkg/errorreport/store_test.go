// SPDX-License-Identifier: Apache-2.0
package errorreport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ishan-parihar/ai-town-sub000/pkg/alerting"
	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
	townerr "github.com/ishan-parihar/ai-town-sub000/pkg/errors"
)

type fakeRaiser struct {
	mu     sync.Mutex
	alerts []alerting.Alert
}

func (f *fakeRaiser) CreateAlert(alertType string, severity alerting.Severity, title, message, source string, metadata map[string]interface{}) alerting.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := alerting.Alert{Type: alertType, Severity: severity, Title: title, Message: message, Source: source, Metadata: metadata}
	f.alerts = append(f.alerts, a)
	return a
}

func (f *fakeRaiser) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func newTestStore() (*Store, *core.ManualClock) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	return NewStore(StoreConfig{Clock: clock}), clock
}

func TestHandleDeduplicatesByIdentity(t *testing.T) {
	s, clock := newTestStore()
	ctx := Context{Service: "goals", Operation: "create"}
	err := errors.New("write failed")

	first := s.Handle(err, ctx)
	clock.Advance(time.Minute)
	for i := 0; i < 4; i++ {
		s.Handle(err, ctx)
	}

	got, ok := s.Get(first.ID)
	if !ok {
		t.Fatal("report not found by id")
	}
	if got.Occurrences != 5 {
		t.Fatalf("occurrences = %d, want 5", got.Occurrences)
	}
	if got.LastOccurrence.Millis() <= first.Timestamp.Millis() {
		t.Fatal("lastOccurrence did not advance")
	}
	if total, _ := s.Count(); total != 1 {
		t.Fatalf("total reports = %d, want 1", total)
	}
}

func TestDistinctTuplesGetDistinctReports(t *testing.T) {
	s, _ := newTestStore()
	err := errors.New("write failed")

	a := s.Handle(err, Context{Service: "goals", Operation: "create"})
	b := s.Handle(err, Context{Service: "goals", Operation: "update"})
	c := s.Handle(errors.New("read failed"), Context{Service: "goals", Operation: "create"})

	if a.ID == b.ID || a.ID == c.ID || b.ID == c.ID {
		t.Fatalf("ids not distinct: %s %s %s", a.ID, b.ID, c.ID)
	}
}

func TestCriticalClassificationRaisesAlert(t *testing.T) {
	cases := []struct {
		name     string
		ctx      Context
		err      error
		critical bool
	}{
		{"database service", Context{Service: "database", Operation: "query"}, errors.New("slow"), true},
		{"auth service", Context{Service: "auth", Operation: "login"}, errors.New("bad token"), true},
		{"startup operation", Context{Service: "goals", Operation: "startup"}, errors.New("missing config"), true},
		{"connection refused", Context{Service: "goals", Operation: "sync"}, errors.New("dial tcp: connection refused"), true},
		{"ordinary error", Context{Service: "goals", Operation: "create"}, errors.New("validation failed"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestStore()
			raiser := &fakeRaiser{}
			s.SetRaiser(raiser)

			s.Handle(tc.err, tc.ctx)

			want := 0
			if tc.critical {
				want = 1
			}
			if raiser.count() != want {
				t.Fatalf("alerts = %d, want %d", raiser.count(), want)
			}
			if tc.critical {
				a := raiser.alerts[0]
				if a.Severity != alerting.SeverityCritical || a.Source != "error-handler" {
					t.Fatalf("alert = %+v", a)
				}
			}
		})
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	s, _ := newTestStore()
	report := s.Handle(errors.New("x"), Context{Service: "goals", Operation: "create"})

	if err := s.Resolve(report.ID); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if err := s.Resolve(report.ID); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	got, _ := s.Get(report.ID)
	if !got.Resolved {
		t.Fatal("report not resolved")
	}

	err := s.Resolve("err-missing")
	if townerr.CodeOf(err) != townerr.CodeNotFound {
		t.Fatalf("unknown id error = %v", err)
	}
}

func TestRetentionBound(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	s := NewStore(StoreConfig{MaxReports: 3, Clock: clock})

	ids := make([]string, 5)
	for i := 0; i < 5; i++ {
		r := s.Handle(errors.New("e"), Context{Service: "svc", Operation: string(rune('a' + i))})
		ids[i] = r.ID
	}

	if total, _ := s.Count(); total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if _, ok := s.Get(ids[0]); ok {
		t.Fatal("oldest report survived eviction")
	}
	if _, ok := s.Get(ids[4]); !ok {
		t.Fatal("newest report was evicted")
	}
}

func TestListFilters(t *testing.T) {
	s, clock := newTestStore()
	a := s.Handle(errors.New("one"), Context{Service: "goals", Operation: "create"})
	clock.Advance(time.Second)
	s.Handle(errors.New("two"), Context{Service: "insights", Operation: "create"})
	_ = s.Resolve(a.ID)

	unresolved := false
	list := s.List(ListFilter{Resolved: &unresolved})
	if len(list) != 1 || list[0].Message != "two" {
		t.Fatalf("unresolved list = %+v", list)
	}

	list = s.List(ListFilter{Service: "goals"})
	if len(list) != 1 || list[0].ID != a.ID {
		t.Fatalf("service list = %+v", list)
	}

	list = s.List(ListFilter{})
	if len(list) != 2 || list[0].Message != "two" {
		t.Fatalf("order = %+v, want most recent first", list)
	}
}

func TestTownErrorKindUsesCode(t *testing.T) {
	s, _ := newTestStore()
	err := townerr.New(townerr.CodeProbeTimeout, "probe timed out", nil)

	report := s.Handle(err, Context{Service: "health", Operation: "probe"})
	if report.Kind != string(townerr.CodeProbeTimeout) {
		t.Fatalf("kind = %q", report.Kind)
	}
}

func TestHandlePanicAndGo(t *testing.T) {
	s, _ := newTestStore()

	func() {
		defer func() {
			s.HandlePanic(recover(), Context{Service: "goals", Operation: "render"})
		}()
		panic("boom")
	}()

	list := s.List(ListFilter{})
	if len(list) != 1 || list[0].Occurrences != 1 {
		t.Fatalf("reports after panic = %+v", list)
	}
	if _, ok := list[0].Context.Metadata["stack"]; !ok {
		t.Fatal("panic report is missing the stack")
	}

	done := make(chan struct{})
	s.Go(Context{Service: "goals", Operation: "background"}, func() {
		defer close(done)
		panic(errors.New("goroutine boom"))
	})
	<-done
	// HandlePanic runs in the deferred recover after fn returns; give it
	// a moment to land.
	deadline := time.Now().Add(time.Second)
	for {
		if total, _ := s.Count(); total == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("goroutine panic never became a report")
		}
		time.Sleep(time.Millisecond)
	}
}
