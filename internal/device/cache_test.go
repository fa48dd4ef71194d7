package device

import (
	"sync"
	"testing"
)

func TestStateCache_DefaultIsAllOff(t *testing.T) {
	c := NewStateCache()

	got := c.Read()
	if got != DefaultState() {
		t.Errorf("Read() = %+v, want default %+v", got, DefaultState())
	}
	if got.IsOn() {
		t.Error("default snapshot reports on")
	}
	if got.StartupPower != Off || got.PulseMode != Off {
		t.Errorf("default startup/pulse = %q/%q, want off/off", got.StartupPower, got.PulseMode)
	}
	if c.Ticket() != 0 {
		t.Errorf("Ticket() = %d, want 0", c.Ticket())
	}
}

func TestStateCache_DefaultIsNotShared(t *testing.T) {
	s := DefaultState()
	s.Power = On

	if DefaultState().Power != Off {
		t.Error("mutating a returned default leaked into DefaultState")
	}
}

func TestStateCache_WriteReplacesWholesale(t *testing.T) {
	c := NewStateCache()
	c.Write(State{Power: On, WifiSSID: "home", SignalStrength: -50})
	c.Write(State{Power: Off})

	got := c.Read()
	if got.WifiSSID != "" || got.SignalStrength != 0 {
		t.Errorf("Read() = %+v, fields from the first write survived", got)
	}
}

func TestStateCache_Apply(t *testing.T) {
	tests := []struct {
		name      string
		applied   []uint64
		ticket    uint64
		wantStore bool
	}{
		{name: "first ticket", applied: nil, ticket: 1, wantStore: true},
		{name: "newer ticket", applied: []uint64{1}, ticket: 2, wantStore: true},
		{name: "older ticket after newer", applied: []uint64{3}, ticket: 2, wantStore: false},
		{name: "same ticket twice", applied: []uint64{4}, ticket: 4, wantStore: false},
		{name: "gap is fine", applied: []uint64{1}, ticket: 9, wantStore: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewStateCache()
			for _, ticket := range tt.applied {
				c.Apply(ticket, State{Power: Off})
			}

			stored := c.Apply(tt.ticket, State{Power: On})
			if stored != tt.wantStore {
				t.Errorf("Apply(%d) = %v, want %v", tt.ticket, stored, tt.wantStore)
			}
			if c.Read().IsOn() != tt.wantStore {
				t.Errorf("IsOn() = %v after Apply, want %v", c.Read().IsOn(), tt.wantStore)
			}
		})
	}
}

func TestStateCache_WriteKeepsTicket(t *testing.T) {
	c := NewStateCache()
	c.Apply(5, State{Power: On})
	c.Write(State{Power: Off})

	if c.Ticket() != 5 {
		t.Errorf("Ticket() = %d, want 5", c.Ticket())
	}
	if c.Apply(4, State{Power: On}) {
		t.Error("Apply(4) stored after ticket 5 was applied")
	}
}

func TestStateCache_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	c := NewStateCache()
	a := State{Power: On, WifiSSID: "a", SignalStrength: -1, FirmwareVersion: "a"}
	b := State{Power: Off, WifiSSID: "b", SignalStrength: -2, FirmwareVersion: "b"}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= 2000; i++ {
			if i%2 == 0 {
				c.Apply(i, a)
			} else {
				c.Apply(i, b)
			}
		}
		close(stop)
	}()

	for {
		got := c.Read()
		if got != a && got != b && got != DefaultState() {
			t.Fatalf("Read() returned a mixed snapshot: %+v", got)
		}
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
	}
}
