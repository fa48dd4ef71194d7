package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClient is a scriptable Client.
type fakeClient struct {
	info func(ctx context.Context, call int32) (State, int64, error)
	sw   func(ctx context.Context, power OnOff) (int64, error)

	infoCalls   atomic.Int32
	switchCalls atomic.Int32

	mu        sync.Mutex
	lastPower OnOff
	lastID    string
}

func (f *fakeClient) Info(ctx context.Context, deviceID string) (State, int64, error) {
	n := f.infoCalls.Add(1)
	f.mu.Lock()
	f.lastID = deviceID
	f.mu.Unlock()
	if f.info == nil {
		return DefaultState(), int64(n), nil
	}
	return f.info(ctx, n)
}

func (f *fakeClient) Switch(ctx context.Context, deviceID string, power OnOff) (int64, error) {
	f.switchCalls.Add(1)
	f.mu.Lock()
	f.lastID, f.lastPower = deviceID, power
	f.mu.Unlock()
	if f.sw == nil {
		return 1, nil
	}
	return f.sw(ctx, power)
}

// recordingObserver captures ObserveState calls.
type recordingObserver struct {
	mu    sync.Mutex
	calls []observation
}

type observation struct {
	accessoryID string
	power       OnOff
	reachable   bool
}

func (o *recordingObserver) ObserveState(accessoryID string, state State, reachable bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, observation{accessoryID, state.Power, reachable})
}

func (o *recordingObserver) snapshot() []observation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observation(nil), o.calls...)
}

func newTestController(t *testing.T, client Client, mutate func(*Options)) *Controller {
	t.Helper()

	opts := Options{
		AccessoryID: "acc-1",
		DeviceID:    "100123abc",
		Name:        "Porch light",
		Host:        "10.0.0.5",
		Port:        8081,
		Client:      client,
	}
	if mutate != nil {
		mutate(&opts)
	}

	c, err := NewController(opts)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func onState(power OnOff) State {
	s := DefaultState()
	s.Power = power
	s.RawDeviceID = "100123abc"
	return s
}

func TestNewController_Validation(t *testing.T) {
	if _, err := NewController(Options{Client: &fakeClient{}}); err == nil {
		t.Error("NewController() without device id: expected error")
	}
	if _, err := NewController(Options{DeviceID: "x"}); err == nil {
		t.Error("NewController() without client: expected error")
	}
}

func TestNewController_Defaults(t *testing.T) {
	c := newTestController(t, &fakeClient{}, nil)

	if c.interval != DefaultPollInterval {
		t.Errorf("interval = %v, want %v", c.interval, DefaultPollInterval)
	}
	if c.unreachableAfter != DefaultUnreachableAfter {
		t.Errorf("unreachableAfter = %d, want %d", c.unreachableAfter, DefaultUnreachableAfter)
	}
	if c.Address() != "10.0.0.5:8081" {
		t.Errorf("Address() = %q, want 10.0.0.5:8081", c.Address())
	}
	if !c.Reachable() {
		t.Error("new controller should be reachable")
	}
}

func TestController_HandleGetBeforeFirstPoll(t *testing.T) {
	c := newTestController(t, &fakeClient{}, nil)

	if c.HandleGet() {
		t.Error("HandleGet() = true before any poll, want false (off)")
	}
}

func TestController_PollReconciliation(t *testing.T) {
	client := &fakeClient{
		info: func(_ context.Context, call int32) (State, int64, error) {
			if call == 1 {
				return onState(On), 1, nil
			}
			return onState(Off), 2, nil
		},
	}
	c := newTestController(t, client, nil)
	ctx := context.Background()

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() R1 error = %v", err)
	}
	if !c.HandleGet() {
		t.Fatal("HandleGet() = false after R1 (on)")
	}

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() R2 error = %v", err)
	}
	if c.HandleGet() {
		t.Error("HandleGet() = true after R2 (off), want R2's value")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.lastID != "100123abc" {
		t.Errorf("info deviceid = %q, want 100123abc", client.lastID)
	}
}

func TestController_HandleSetFailureLeavesCache(t *testing.T) {
	client := &fakeClient{
		info: func(context.Context, int32) (State, int64, error) { return onState(On), 1, nil },
		sw: func(context.Context, OnOff) (int64, error) {
			return 0, fmt.Errorf("%w: connection refused", ErrTransport)
		},
	}
	c := newTestController(t, client, nil)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	before := c.State()

	err := c.HandleSet(context.Background(), false)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("HandleSet() error = %v, want ErrTransport surfaced", err)
	}
	if c.State() != before {
		t.Errorf("State() = %+v after failed set, want unchanged %+v", c.State(), before)
	}
	if !c.HandleGet() {
		t.Error("HandleGet() flipped after failed set")
	}
}

func TestController_HandleSetSuccessDoesNotTouchCache(t *testing.T) {
	client := &fakeClient{}
	c := newTestController(t, client, nil)

	if err := c.HandleSet(context.Background(), true); err != nil {
		t.Fatalf("HandleSet() error = %v", err)
	}

	client.mu.Lock()
	power, id := client.lastPower, client.lastID
	client.mu.Unlock()
	if power != On || id != "100123abc" {
		t.Errorf("switch request = %q/%q, want on/100123abc", power, id)
	}
	if c.HandleGet() {
		t.Error("HandleGet() = true right after set; the cache must wait for the next poll")
	}
}

func TestController_HandleSetDeviceError(t *testing.T) {
	client := &fakeClient{
		sw: func(context.Context, OnOff) (int64, error) {
			return 3, fmt.Errorf("%w: code 400", ErrDeviceReported)
		},
	}
	c := newTestController(t, client, nil)

	if err := c.HandleSet(context.Background(), true); !errors.Is(err, ErrDeviceReported) {
		t.Errorf("HandleSet() error = %v, want ErrDeviceReported", err)
	}
}

func TestController_PollFailureLeavesCacheUnchanged(t *testing.T) {
	client := &fakeClient{
		info: func(_ context.Context, call int32) (State, int64, error) {
			if call == 1 {
				s := onState(On)
				s.WifiSSID = "home"
				s.SignalStrength = -61
				return s, 1, nil
			}
			return State{}, 0, fmt.Errorf("%w: missing data", ErrMalformedResponse)
		},
	}
	c := newTestController(t, client, nil)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	before, _ := json.Marshal(c.State())

	if err := c.Refresh(context.Background()); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("Refresh() error = %v, want ErrMalformedResponse", err)
	}
	after, _ := json.Marshal(c.State())

	if string(before) != string(after) {
		t.Errorf("cache changed on failed poll:\nbefore %s\nafter  %s", before, after)
	}
}

func TestController_StaleResponseDiscarded(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})

	client := &fakeClient{
		info: func(_ context.Context, call int32) (State, int64, error) {
			if call == 1 {
				close(firstStarted)
				<-releaseFirst
				return onState(On), 10, nil
			}
			return onState(Off), 11, nil
		},
	}
	c := newTestController(t, client, nil)

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()
	<-firstStarted

	// The second poll is issued later and completes first.
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh() error = %v", err)
	}
	close(releaseFirst)
	if err := <-done; err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}

	if c.HandleGet() {
		t.Error("HandleGet() = true: an older poll response overwrote a newer one")
	}
	if c.cache.Ticket() != 2 {
		t.Errorf("applied ticket = %d, want 2", c.cache.Ticket())
	}
}

func TestController_PollLoop(t *testing.T) {
	client := &fakeClient{
		info: func(context.Context, int32) (State, int64, error) { return onState(On), 1, nil },
	}
	c := newTestController(t, client, func(o *Options) { o.Interval = 10 * time.Millisecond })

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// Second Start is a no-op.
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	waitFor(t, "first poll", func() bool { return c.HandleGet() })
	waitFor(t, "several polls", func() bool { return client.infoCalls.Load() >= 3 })

	c.Stop()
	calls := client.infoCalls.Load()
	time.Sleep(50 * time.Millisecond)
	if got := client.infoCalls.Load(); got != calls {
		t.Errorf("polls continued after Stop: %d -> %d", calls, got)
	}
}

func TestController_PollOnStart(t *testing.T) {
	client := &fakeClient{
		info: func(context.Context, int32) (State, int64, error) { return onState(On), 1, nil },
	}
	c := newTestController(t, client, func(o *Options) {
		o.Interval = time.Hour
		o.PollOnStart = true
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "immediate poll", func() bool { return c.HandleGet() })
}

func TestController_StopCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	client := &fakeClient{
		info: func(ctx context.Context, call int32) (State, int64, error) {
			if call == 1 {
				close(started)
			}
			<-ctx.Done()
			return State{}, 0, fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
		},
	}
	c := newTestController(t, client, func(o *Options) {
		o.Interval = time.Hour
		o.PollOnStart = true
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-started

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return while a poll was in flight")
	}

	if !c.Reachable() {
		t.Error("cancelled poll should not count as a failure")
	}
	if err := c.HandleSet(context.Background(), true); !errors.Is(err, ErrStopped) {
		t.Errorf("HandleSet() after Stop error = %v, want ErrStopped", err)
	}
	if err := c.Refresh(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Refresh() after Stop error = %v, want ErrStopped", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start() after Stop error = %v, want ErrStopped", err)
	}
}

func TestController_ParentCancelStopsLoop(t *testing.T) {
	client := &fakeClient{}
	c := newTestController(t, client, func(o *Options) { o.Interval = 10 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "first poll", func() bool { return client.infoCalls.Load() >= 1 })

	cancel()
	waitFor(t, "controller context cancelled", func() bool { return c.ctx.Err() != nil })
}

func TestController_Reachability(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	client := &fakeClient{
		info: func(context.Context, int32) (State, int64, error) {
			if failing.Load() {
				return State{}, 0, fmt.Errorf("%w: timeout", ErrTransport)
			}
			return onState(On), 5, nil
		},
	}
	observer := &recordingObserver{}
	c := newTestController(t, client, func(o *Options) {
		o.UnreachableAfter = 2
		o.Observers = []StateObserver{observer}
	})
	ctx := context.Background()

	_ = c.Refresh(ctx)
	if !c.Reachable() {
		t.Fatal("unreachable after a single failure, threshold is 2")
	}
	_ = c.Refresh(ctx)
	_ = c.Refresh(ctx)
	if c.Reachable() {
		t.Fatal("still reachable after 3 consecutive failures")
	}
	if c.HandleGet() {
		t.Error("failures must not change HandleGet")
	}

	failing.Store(false)
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !c.Reachable() {
		t.Error("not reachable after a successful poll")
	}

	want := []observation{
		{"acc-1", Off, false},
		{"acc-1", On, true},
	}
	got := observer.snapshot()
	if len(got) != len(want) {
		t.Fatalf("observations = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("observation[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFromBool(t *testing.T) {
	if FromBool(true) != On || FromBool(false) != Off {
		t.Error("FromBool mapping wrong")
	}
	if !On.Bool() || Off.Bool() || OnOff("").Bool() {
		t.Error("Bool mapping wrong")
	}
	if OnOff("").Valid() || !On.Valid() || !Off.Valid() {
		t.Error("Valid mapping wrong")
	}
}
