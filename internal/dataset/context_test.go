package dataset

import (
	"context"
	"testing"
)

func TestTaskContextCallbackOrder(t *testing.T) {
	tc := NewTaskContext(context.Background(), "job1", "stage1", 3, 0)

	var order []int
	tc.OnComplete(func() { order = append(order, 1) })
	tc.OnComplete(func() { order = append(order, 2) })
	tc.OnComplete(func() { order = append(order, 3) })

	tc.Complete()

	if len(order) != 3 {
		t.Fatalf("expected 3 callbacks, got %d", len(order))
	}
	for i, v := range order {
		if v != i+1 {
			t.Errorf("callback %d fired out of order: got %d", i, v)
		}
	}
}

func TestTaskContextCompleteIsIdempotent(t *testing.T) {
	tc := NewTaskContext(context.Background(), "job1", "stage1", 0, 1)

	count := 0
	tc.OnComplete(func() { count++ })

	tc.Complete()
	tc.Complete()

	if count != 1 {
		t.Errorf("callback fired %d times, want 1", count)
	}
}

func TestTaskContextLateRegistrationFiresImmediately(t *testing.T) {
	tc := NewTaskContext(context.Background(), "job1", "stage1", 0, 0)
	tc.Complete()

	fired := false
	tc.OnComplete(func() { fired = true })

	if !fired {
		t.Error("callback registered after completion should fire immediately")
	}
}

func TestTaskContextNilContextDefaults(t *testing.T) {
	tc := NewTaskContext(nil, "job1", "stage1", 0, 0)
	if tc.Context() == nil {
		t.Fatal("Context() returned nil")
	}
	select {
	case <-tc.Context().Done():
		t.Error("default context should not be done")
	default:
	}
}
