package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisterDuplicate(t *testing.T) {
	s := New(0)
	noop := func(context.Context) error { return nil }
	if err := s.Register("a", time.Second, noop); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := s.Register("a", time.Second, noop); err == nil {
		t.Fatal("duplicate register should fail")
	}
}

func TestAddDependencyValidation(t *testing.T) {
	s := New(0)
	noop := func(context.Context) error { return nil }
	s.Register("a", time.Second, noop)
	s.Register("b", time.Second, noop)
	s.Register("c", time.Second, noop)

	if err := s.AddDependency("a", "missing"); err == nil {
		t.Error("unknown task should fail")
	}
	if err := s.AddDependency("a", "b"); err != nil {
		t.Errorf("valid dependency failed: %v", err)
	}
	if err := s.AddDependency("b", "c"); err != nil {
		t.Errorf("valid dependency failed: %v", err)
	}
	if err := s.AddDependency("c", "a"); err == nil {
		t.Error("cycle should be rejected")
	}
	// The rejected edge must not have been kept.
	if err := s.AddDependency("a", "c"); err != nil {
		t.Errorf("re-adding a safe edge failed: %v", err)
	}
}

func TestDueTasksTopologicalOrder(t *testing.T) {
	s := New(0)
	noop := func(context.Context) error { return nil }
	// Register in reverse order so topo sort has to reorder.
	s.Register("c", time.Second, noop)
	s.Register("b", time.Second, noop)
	s.Register("a", time.Second, noop)
	s.AddDependency("a", "b")
	s.AddDependency("b", "c")

	due := s.dueTasks(time.Now())
	if len(due) != 3 {
		t.Fatalf("expected 3 due tasks, got %d", len(due))
	}
	if due[0].name != "a" || due[1].name != "b" || due[2].name != "c" {
		t.Errorf("order = %s %s %s, want a b c", due[0].name, due[1].name, due[2].name)
	}
}

func TestDueTasksRespectsInterval(t *testing.T) {
	s := New(0)
	noop := func(context.Context) error { return nil }
	s.Register("fresh", time.Hour, noop)
	s.runTask(context.Background(), s.tasks["fresh"])

	if due := s.dueTasks(time.Now()); len(due) != 0 {
		t.Fatalf("recently-run task should not be due, got %d", len(due))
	}
}

func TestDueTasksDebounce(t *testing.T) {
	s := New(time.Hour)
	noop := func(context.Context) error { return nil }
	s.Register("chatty", time.Millisecond, noop)
	s.runTask(context.Background(), s.tasks["chatty"])
	s.Kick("chatty")

	if due := s.dueTasks(time.Now().Add(time.Second)); len(due) != 0 {
		t.Fatalf("kicked task inside debounce window should wait, got %d due", len(due))
	}
	if due := s.dueTasks(time.Now().Add(2 * time.Hour)); len(due) != 1 {
		t.Fatalf("task past debounce window should run, got %d due", len(due))
	}
}

func TestRunExecutesAndRecordsMetrics(t *testing.T) {
	s := New(0)
	var runs atomic.Int64
	s.Register("counter", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Register("flaky", 10*time.Millisecond, func(context.Context) error {
		return errors.New("boom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if runs.Load() < 2 {
		t.Errorf("expected repeated runs, got %d", runs.Load())
	}

	metrics := s.Metrics()
	counter := metrics["counter"]
	if counter.Runs < 2 || counter.LastRun.IsZero() {
		t.Errorf("counter metrics incomplete: %+v", counter)
	}
	flaky := metrics["flaky"]
	if flaky.Failures == 0 || flaky.LastError != "boom" {
		t.Errorf("failure not recorded: %+v", flaky)
	}
}

func TestFailedTaskDoesNotBlockDependent(t *testing.T) {
	s := New(0)
	var depRuns atomic.Int64
	s.Register("broken", 10*time.Millisecond, func(context.Context) error {
		return errors.New("always fails")
	})
	s.Register("dependent", 10*time.Millisecond, func(context.Context) error {
		depRuns.Add(1)
		return nil
	})
	s.AddDependency("broken", "dependent")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if depRuns.Load() == 0 {
		t.Fatal("dependent should still run after its dependency fails")
	}
}

func TestKickRunsEarly(t *testing.T) {
	s := New(0)
	var runs atomic.Int64
	s.Register("slow", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Kick("slow")
	}()
	s.Run(ctx)

	if runs.Load() < 2 {
		t.Fatalf("kick should trigger an early run, got %d runs", runs.Load())
	}
}

func TestMetricsIncrementalMean(t *testing.T) {
	s := New(0)
	delay := 5 * time.Millisecond
	s.Register("timed", time.Hour, func(context.Context) error {
		time.Sleep(delay)
		return nil
	})

	s.runTask(context.Background(), s.tasks["timed"])
	s.runTask(context.Background(), s.tasks["timed"])

	m := s.Metrics()["timed"]
	if m.Runs != 2 {
		t.Fatalf("runs = %d, want 2", m.Runs)
	}
	if m.AvgDuration < delay {
		t.Errorf("avg duration %v should be at least %v", m.AvgDuration, delay)
	}
}
