package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Controller defaults.
const (
	// DefaultPollInterval is used when Options.Interval is zero.
	DefaultPollInterval = 15 * time.Second

	// DefaultUnreachableAfter is used when Options.UnreachableAfter is zero.
	DefaultUnreachableAfter = 3
)

// Logger defines the logging interface used by the Controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StateObserver is notified after every applied poll and when a device
// becomes unreachable. Calls happen on poll goroutines and must not block
// for long.
type StateObserver interface {
	ObserveState(accessoryID string, state State, reachable bool)
}

// Options configures a Controller.
type Options struct {
	// AccessoryID is the host-side handle the controller is bound to.
	AccessoryID string

	// DeviceID is the device-reported id sent as "deviceid" on every RPC.
	DeviceID string

	// Name is used in logs only.
	Name string

	// Host and Port are the discovered address of the LAN API.
	Host string
	Port int

	// Client performs the RPCs. Required.
	Client Client

	// Interval between polls. Zero selects DefaultPollInterval.
	Interval time.Duration

	// PollOnStart issues one poll immediately on Start.
	PollOnStart bool

	// UnreachableAfter is how many consecutive poll failures make
	// Reachable return false. Zero selects DefaultUnreachableAfter.
	UnreachableAfter int

	Logger    Logger
	Observers []StateObserver
}

// Controller owns one physical device: it runs the poll loop, serves the
// host's get and set calls, and keeps the StateCache current.
//
// Polling and HandleSet are independent: neither waits for the other.
// Overlapping polls are allowed; each takes a ticket and a response is
// discarded if a later-issued poll has already been applied.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Controller struct {
	accessoryID string
	deviceID    string
	name        string
	host        string
	port        int

	client           Client
	cache            *StateCache
	interval         time.Duration
	pollOnStart      bool
	unreachableAfter int32
	logger           Logger
	observers        []StateObserver

	tickets  atomic.Uint64
	failures atomic.Int32

	ctx      context.Context
	cancel   context.CancelFunc
	started  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewController validates opts and returns an unstarted controller whose
// cache holds DefaultState.
//
// Parameters:
//   - opts: Controller options; DeviceID and Client are required
//
// Returns:
//   - *Controller: Ready to Start
//   - error: If a required option is missing
func NewController(opts Options) (*Controller, error) {
	if opts.DeviceID == "" {
		return nil, errors.New("device: controller requires a device id")
	}
	if opts.Client == nil {
		return nil, errors.New("device: controller requires a client")
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	unreachableAfter := opts.UnreachableAfter
	if unreachableAfter <= 0 {
		unreachableAfter = DefaultUnreachableAfter
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		accessoryID:      opts.AccessoryID,
		deviceID:         opts.DeviceID,
		name:             opts.Name,
		host:             opts.Host,
		port:             opts.Port,
		client:           opts.Client,
		cache:            NewStateCache(),
		interval:         interval,
		pollOnStart:      opts.PollOnStart,
		unreachableAfter: int32(min(unreachableAfter, 1<<20)), // #nosec G115 -- clamped
		logger:           logger,
		observers:        append([]StateObserver(nil), opts.Observers...),
		ctx:              ctx,
		cancel:           cancel,
	}, nil
}

// Start launches the poll loop. The loop ends when Stop is called or parent
// is cancelled. Calling Start again is a no-op.
func (c *Controller) Start(parent context.Context) error {
	if c.ctx.Err() != nil {
		return ErrStopped
	}
	if c.started.Swap(true) {
		return nil
	}

	stopWithParent := context.AfterFunc(parent, c.cancel)

	c.wg.Add(1)
	go func() {
		defer stopWithParent()
		c.run()
	}()

	c.logger.Info("device controller started",
		"accessory_id", c.accessoryID,
		"device_id", c.deviceID,
		"address", c.Address(),
		"interval", c.interval,
	)
	return nil
}

// Stop cancels the poll loop and any in-flight requests, then waits for
// them to finish. Safe to call more than once, and before Start.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
		c.logger.Info("device controller stopped", "accessory_id", c.accessoryID, "device_id", c.deviceID)
	})
}

func (c *Controller) run() {
	defer c.wg.Done()

	if c.pollOnStart {
		c.spawnPoll()
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			// Both channels may be ready at once; never poll after Stop.
			if c.ctx.Err() != nil {
				return
			}
			c.spawnPoll()
		}
	}
}

// spawnPoll runs one poll in its own goroutine so a slow device cannot
// delay the next tick.
func (c *Controller) spawnPoll() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.poll(c.ctx) //nolint:errcheck // Poll failures are logged, never surfaced
	}()
}

// poll fetches the device state and applies it to the cache. On failure
// the cache is left untouched.
func (c *Controller) poll(ctx context.Context) error {
	ticket := c.tickets.Add(1)

	state, seq, err := c.client.Info(ctx, c.deviceID)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		c.recordFailure(err)
		return err
	}

	recovered := c.failures.Swap(0) >= c.unreachableAfter
	if recovered {
		c.logger.Info("device reachable again", "accessory_id", c.accessoryID, "device_id", c.deviceID)
	}

	if !c.cache.Apply(ticket, state) {
		c.logger.Debug("discarding stale poll response",
			"device_id", c.deviceID, "ticket", ticket, "applied", c.cache.Ticket(), "seq", seq)
		return nil
	}

	c.logger.Debug("fetched device state",
		"device_id", c.deviceID, "seq", seq, "power", state.Power, "signal_strength", state.SignalStrength)
	c.notify(state, true)
	return nil
}

func (c *Controller) recordFailure(err error) {
	n := c.failures.Add(1)
	c.logger.Error("poll failed",
		"accessory_id", c.accessoryID,
		"device_id", c.deviceID,
		"address", c.Address(),
		"consecutive_failures", n,
		"error", err,
	)
	if n == c.unreachableAfter {
		c.logger.Warn("device unreachable", "accessory_id", c.accessoryID, "device_id", c.deviceID)
		c.notify(c.cache.Read(), false)
	}
}

func (c *Controller) notify(state State, reachable bool) {
	for _, o := range c.observers {
		o.ObserveState(c.accessoryID, state, reachable)
	}
}

// HandleGet returns the cached power state. It performs no I/O.
func (c *Controller) HandleGet() bool {
	return c.cache.Read().IsOn()
}

// HandleSet sends a switch command and returns its outcome. The cache is
// not updated on success; the next poll reports the device's actual state.
//
// The request is cancelled if either ctx or the controller is stopped.
func (c *Controller) HandleSet(ctx context.Context, on bool) error {
	if c.ctx.Err() != nil {
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(c.ctx, cancel)()

	power := FromBool(on)
	seq, err := c.client.Switch(ctx, c.deviceID, power)
	if err != nil {
		c.logger.Error("switch failed",
			"accessory_id", c.accessoryID, "device_id", c.deviceID, "power", power, "error", err)
		return fmt.Errorf("switching %s %s: %w", c.deviceID, power, err)
	}

	c.logger.Info("switched device",
		"accessory_id", c.accessoryID, "device_id", c.deviceID, "power", power, "seq", seq)
	return nil
}

// Refresh performs one poll now and returns its error, if any.
func (c *Controller) Refresh(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(c.ctx, cancel)()

	return c.poll(ctx)
}

// State returns the cached snapshot.
func (c *Controller) State() State {
	return c.cache.Read()
}

// Reachable reports false once UnreachableAfter consecutive polls failed.
func (c *Controller) Reachable() bool {
	return c.failures.Load() < c.unreachableAfter
}

// AccessoryID returns the host-side handle.
func (c *Controller) AccessoryID() string {
	return c.accessoryID
}

// DeviceID returns the device-reported id.
func (c *Controller) DeviceID() string {
	return c.deviceID
}

// Address returns host:port of the device.
func (c *Controller) Address() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}
