package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeProber struct {
	err error
}

func (f *fakeProber) Ping(context.Context) error { return f.err }

func TestCheckTransitions(t *testing.T) {
	prober := &fakeProber{err: errors.New("down")}
	m := New(prober, "", time.Minute)

	var fired int
	m.OnReconnect(func(context.Context) { fired++ })

	ctx := context.Background()

	if m.Check(ctx) {
		t.Fatal("Check() = true while prober fails")
	}
	st := m.State()
	if st.IsOnline || st.ConsecutiveFailures != 1 || st.LastFailure == nil {
		t.Fatalf("state after failure = %+v", st)
	}

	m.Check(ctx)
	if got := m.State().ConsecutiveFailures; got != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", got)
	}
	if fired != 0 {
		t.Fatal("callback fired while still offline")
	}

	prober.err = nil
	if !m.Check(ctx) {
		t.Fatal("Check() = false after prober recovered")
	}
	st = m.State()
	if !st.IsOnline || st.ConsecutiveSuccesses != 1 || st.ConsecutiveFailures != 0 {
		t.Fatalf("state after recovery = %+v", st)
	}
	if fired != 1 {
		t.Errorf("callbacks fired %d times, want 1", fired)
	}

	// Staying online does not re-fire
	m.Check(ctx)
	if fired != 1 {
		t.Errorf("callback re-fired while staying online: %d", fired)
	}
}

func TestCheckNoCallbackOnFirstProbe(t *testing.T) {
	m := New(&fakeProber{}, "", time.Minute)

	var fired int
	m.OnReconnect(func(context.Context) { fired++ })

	if !m.Check(context.Background()) {
		t.Fatal("Check() = false with healthy prober")
	}
	if fired != 0 {
		t.Error("callback fired on the initial probe")
	}
}

func TestHealthURLFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New(&fakeProber{err: errors.New("broker down")}, srv.URL, time.Minute)
	if !m.Check(context.Background()) {
		t.Error("health endpoint should count as connectivity")
	}
}

func TestHealthURLFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := New(&fakeProber{err: errors.New("broker down")}, srv.URL, time.Minute)
	if m.Check(context.Background()) {
		t.Error("non-2xx health response should not count as connectivity")
	}
}

func TestWaitOnline(t *testing.T) {
	prober := &fakeProber{err: errors.New("down")}
	m := New(prober, "", 10*time.Millisecond)

	go func() {
		time.Sleep(25 * time.Millisecond)
		prober.err = nil
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !m.WaitOnline(ctx) {
		t.Fatal("WaitOnline() = false, want true after prober recovers")
	}
}

func TestWaitOnlineCancelled(t *testing.T) {
	m := New(&fakeProber{err: errors.New("down")}, "", 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if m.WaitOnline(ctx) {
		t.Fatal("WaitOnline() = true with a permanently failing prober")
	}
}
