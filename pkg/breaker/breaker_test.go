package breaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errNetwork = errors.New("network error")

func TestBreakerInitialState(t *testing.T) {
	b := New("facebook", nil)

	if b.State() != StateClosed {
		t.Errorf("expected initial state to be closed, got %s", b.State())
	}
	if b.Name() != "facebook" {
		t.Errorf("expected name facebook, got %s", b.Name())
	}

	stats := b.Stats()
	if stats.TotalRequests != 0 {
		t.Errorf("expected 0 total requests, got %d", stats.TotalRequests)
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	b := New("vungle", &Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Second,
	})

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errNetwork })
	}

	if b.State() != StateOpen {
		t.Fatalf("expected state to be open after 3 failures, got %s", b.State())
	}

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("expected fn not to run while open")
	}

	if stats := b.Stats(); stats.TotalRejected != 1 {
		t.Errorf("expected 1 rejected, got %d", stats.TotalRejected)
	}
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	errNoFill := errors.New("no fill")
	b := New("nend", &Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		IsFailure: func(err error) bool {
			return !errors.Is(err, errNoFill)
		},
	})

	for i := 0; i < 5; i++ {
		err := b.Execute(func() error { return errNoFill })
		if !errors.Is(err, errNoFill) {
			t.Fatalf("expected errNoFill to be returned, got %v", err)
		}
	}

	if b.State() != StateClosed {
		t.Errorf("expected no-fill errors to keep breaker closed, got %s", b.State())
	}
	if stats := b.Stats(); stats.TotalFailures != 0 {
		t.Errorf("expected 0 failures, got %d", stats.TotalFailures)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := New("yahoo", &Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
	})

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errNetwork })
	}
	if b.State() != StateOpen {
		t.Fatalf("expected state to be open, got %s", b.State())
	}

	time.Sleep(60 * time.Millisecond)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Errorf("expected probe to succeed, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected state to be closed after successful probe, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailure(t *testing.T) {
	b := New("yandex", &Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	})

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errNetwork })
	}

	time.Sleep(60 * time.Millisecond)

	_ = b.Execute(func() error { return errNetwork })

	if b.State() != StateOpen {
		t.Errorf("expected state to be open after failed probe, got %s", b.State())
	}
}

func TestBreakerResetAndForceOpen(t *testing.T) {
	b := New("sample", nil)

	b.ForceOpen()
	if !b.IsOpen() {
		t.Fatal("expected breaker to be open after ForceOpen")
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("expected closed after reset, got %s", b.State())
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Errorf("expected no error after reset, got %v", err)
	}
}

func TestBreakerMaxConcurrent(t *testing.T) {
	b := New("facebook", &Config{
		FailureThreshold: 100,
		SuccessThreshold: 2,
		Timeout:          time.Second,
		MaxConcurrent:    2,
	})

	var wg sync.WaitGroup
	var rejected int64
	started := make(chan struct{})
	release := make(chan struct{})

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(func() error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}

	<-started
	<-started

	for i := 0; i < 5; i++ {
		if err := b.Execute(func() error { return nil }); errors.Is(err, ErrTooManyConcurrent) {
			atomic.AddInt64(&rejected, 1)
		}
	}

	close(release)
	wg.Wait()

	if rejected != 5 {
		t.Errorf("expected 5 rejections, got %d", rejected)
	}
}

func TestBreakerOnStateChange(t *testing.T) {
	var changes []string
	var mu sync.Mutex

	b := New("vungle", &Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		OnStateChange: func(name, from, to string) {
			mu.Lock()
			changes = append(changes, name+":"+from+"->"+to)
			mu.Unlock()
		},
	})

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errNetwork })
	}
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || changes[0] != "vungle:closed->open" {
		t.Errorf("expected vungle:closed->open, got %v", changes)
	}
}

func TestGroup(t *testing.T) {
	g := NewGroup(&Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second})

	fb := g.Get("facebook")
	if fb != g.Get("facebook") {
		t.Error("expected the same breaker for repeated Get")
	}

	_ = fb.Execute(func() error { return errNetwork })
	_ = g.Get("nend").Execute(func() error { return nil })

	stats := g.Stats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 breakers, got %d", len(stats))
	}
	if stats[0].Name != "facebook" || stats[0].State != StateOpen {
		t.Errorf("expected facebook open first, got %+v", stats[0])
	}
	if stats[1].Name != "nend" || stats[1].State != StateClosed {
		t.Errorf("expected nend closed second, got %+v", stats[1])
	}

	g.Close()
}
