package observability

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRecordRunConcurrent(t *testing.T) {
	rs := NewRunStats()
	var wg sync.WaitGroup
	numGoroutines := 10
	runsPerGoroutine := 50

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < runsPerGoroutine; j++ {
				rs.RecordRun("Fake01", time.Millisecond, nil)
				rs.RecordRun("Fake02", time.Millisecond, errors.New("boom"))
				rs.RecordSkip("Fake03")
			}
		}()
	}
	wg.Wait()

	want := int64(numGoroutines * runsPerGoroutine)
	sum := rs.Summary()
	if sum.Succeeded != want || sum.Failed != want || sum.Skipped != want {
		t.Errorf("summary = %+v, want %d of each outcome", sum, want)
	}
	if sum.Started != 2*want {
		t.Errorf("started = %d, want %d", sum.Started, 2*want)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	rs := NewRunStats()
	rs.RecordRun("Fake01", 2*time.Second, errors.New("chain 3 failed"))

	s, ok := rs.Get("Fake01")
	if !ok {
		t.Fatal("Fake01 not recorded")
	}
	if s.LastError != "chain 3 failed" {
		t.Errorf("LastError = %q", s.LastError)
	}
	s.Outcomes[OutcomeFailed] = 100

	again, _ := rs.Get("Fake01")
	if again.Outcomes[OutcomeFailed] != 1 {
		t.Error("mutating a copy changed the tracker")
	}

	rs.RecordRun("Fake01", time.Second, nil)
	again, _ = rs.Get("Fake01")
	if again.LastError != "" || again.Total != 3*time.Second || again.Last != time.Second {
		t.Errorf("after success: %+v", again)
	}

	if _, ok := rs.Get("Missing"); ok {
		t.Error("unexpected stats for an unknown model")
	}
}

func TestModels_SlowestFirst(t *testing.T) {
	rs := NewRunStats()
	rs.RecordRun("Fast", time.Second, nil)
	rs.RecordRun("Slow", time.Minute, nil)
	rs.RecordSkip("Skipped")

	models := rs.Models()
	if len(models) != 3 {
		t.Fatalf("got %d models", len(models))
	}
	if models[0].Model != "Slow" || models[1].Model != "Fast" || models[2].Model != "Skipped" {
		t.Errorf("order = %s, %s, %s", models[0].Model, models[1].Model, models[2].Model)
	}
}
