package resilience

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestSingleFlight_CollapsesConcurrentCalls(t *testing.T) {
	t.Parallel()

	var g SingleFlight
	var executions atomic.Int64
	release := make(chan struct{})

	const callers = 10
	var wg sync.WaitGroup
	var shared atomic.Int64
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err, wasShared := g.Do("key", func() (any, error) {
				executions.Add(1)
				<-release
				return 42, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if v.(int) != 42 {
				t.Errorf("unexpected value %v", v)
			}
			if wasShared {
				shared.Add(1)
			}
		}()
	}

	close(release)
	wg.Wait()

	if got := executions.Load(); got < 1 || got > callers {
		t.Fatalf("unexpected execution count %d", got)
	}
	if executions.Load()+shared.Load() != callers {
		t.Fatalf("every caller is either an executor or shared: exec=%d shared=%d", executions.Load(), shared.Load())
	}
}

func TestSingleFlight_ErrorsAreShared(t *testing.T) {
	t.Parallel()

	var g SingleFlight
	wantErr := errors.New("load failed")

	_, err, _ := g.Do("key", func() (any, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the loader error, got %v", err)
	}
}

func TestSingleFlight_KeyIsReusableAfterCompletion(t *testing.T) {
	t.Parallel()

	var g SingleFlight
	var executions atomic.Int64

	for i := 0; i < 3; i++ {
		if _, err, _ := g.Do("key", func() (any, error) {
			executions.Add(1)
			return nil, nil
		}); err != nil {
			t.Fatalf("do %d: %v", i, err)
		}
	}
	if executions.Load() != 3 {
		t.Fatalf("sequential calls must each execute, got %d", executions.Load())
	}
}

func TestSingleFlight_DistinctKeysRunIndependently(t *testing.T) {
	t.Parallel()

	var g SingleFlight
	a, _, _ := g.Do("a", func() (any, error) { return "a", nil })
	b, _, _ := g.Do("b", func() (any, error) { return "b", nil })
	if a.(string) != "a" || b.(string) != "b" {
		t.Fatalf("distinct keys must not share results: %v %v", a, b)
	}
}
