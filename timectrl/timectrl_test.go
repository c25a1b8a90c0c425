package timectrl

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTimeControllerSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, Accelerated)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
	if got := tc.Elapsed(); got != 42*time.Second {
		t.Fatalf("Elapsed() = %v, want 42s", got)
	}
}

func TestTimeControllerAdvanceNotifiesListeners(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 100*time.Millisecond, Accelerated)

	var seen []time.Time
	tc.AddListener(func(now time.Time) { seen = append(seen, now) })

	for i := 0; i < 3; i++ {
		tc.Advance()
	}

	if len(seen) != 3 {
		t.Fatalf("listener calls = %d, want 3", len(seen))
	}
	if want := start.Add(300 * time.Millisecond); !seen[2].Equal(want) {
		t.Fatalf("last notification = %v, want %v", seen[2], want)
	}
	if tc.Steps() != 3 {
		t.Fatalf("Steps() = %d, want 3", tc.Steps())
	}
}

func TestTimeControllerVariableStep(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, Accelerated)

	tc.Advance()
	if err := tc.SetTick(250 * time.Millisecond); err != nil {
		t.Fatalf("SetTick: %v", err)
	}
	tc.Advance()

	if got := tc.Elapsed(); got != 1250*time.Millisecond {
		t.Fatalf("Elapsed() = %v, want 1.25s", got)
	}
	if got := tc.Step(); got != 0.25 {
		t.Fatalf("Step() = %v, want 0.25", got)
	}
	if err := tc.SetTick(0); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("SetTick(0) error = %v, want ErrInvalidStep", err)
	}
}

func TestTimeControllerPauseBlocksWait(t *testing.T) {
	tc := NewTimeController(time.Now(), time.Millisecond, Accelerated)
	tc.Pause()
	if !tc.Paused() {
		t.Fatalf("Paused() = false after Pause")
	}

	done := make(chan error, 1)
	go func() { done <- tc.Wait(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("Wait returned while paused: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	tc.Resume()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait after Resume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after Resume")
	}
}

func TestTimeControllerWaitHonoursContext(t *testing.T) {
	tc := NewTimeController(time.Now(), time.Millisecond, Accelerated)
	tc.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tc.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestTimeControllerRealTimePacing(t *testing.T) {
	tc := NewTimeController(time.Now(), 15*time.Millisecond, RealTime)

	begin := time.Now()
	for i := 0; i < 3; i++ {
		if err := tc.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		tc.Advance()
	}
	if err := tc.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if elapsed := time.Since(begin); elapsed < 45*time.Millisecond {
		t.Fatalf("real-time pacing finished in %v, want >= 45ms", elapsed)
	}
}
