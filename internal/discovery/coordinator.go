package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/sonoff-bridge/internal/accessory"
	"github.com/nerrad567/sonoff-bridge/internal/device"
)

// eventBuffer is the capacity of the channel between browser and
// coordinator.
const eventBuffer = 16

// Logger defines the logging interface used by this package.
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

// HostRegistry is the part of the accessory registry the coordinator needs.
// *accessory.Registry implements it.
type HostRegistry interface {
	RegisterNew(ctx context.Context, a accessory.Accessory) error
	UpdateExisting(ctx context.Context, a accessory.Accessory) error
	SetOnOffHandler(id string, get func() bool, set func(ctx context.Context, on bool) error) error
	ClearOnOffHandler(id string)
}

// DeviceController is the part of a device controller the coordinator and
// the host surfaces use. *device.Controller implements it.
type DeviceController interface {
	Start(ctx context.Context) error
	Stop()
	HandleGet() bool
	HandleSet(ctx context.Context, on bool) error
	Refresh(ctx context.Context) error
	State() device.State
	Reachable() bool
	AccessoryID() string
	Address() string
}

// ControllerFactory builds an unstarted controller for a resolved record.
type ControllerFactory func(rec accessory.Accessory, svc Service) (DeviceController, error)

// binding is a live controller and the endpoint it was built for.
type binding struct {
	ctrl     DeviceController
	endpoint string
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Browser    Browser
	Reconciler *Reconciler
	Registry   HostRegistry
	Factory    ControllerFactory

	// TeardownOnDisappear stops a device's controller when its service
	// disappears. When false, departures are only logged.
	TeardownOnDisappear bool

	Logger Logger
}

// Coordinator consumes discovery events, resolves identities, registers
// them with the host and keeps one controller per device.
//
// Events are handled one at a time in arrival order.
//
// Thread Safety: All methods are safe for concurrent use.
type Coordinator struct {
	browser    Browser
	reconciler *Reconciler
	registry   HostRegistry
	factory    ControllerFactory
	teardown   bool
	logger     Logger

	// handleMu serialises event handling.
	handleMu sync.Mutex

	mu          sync.RWMutex
	controllers map[string]binding // keyed by accessory UUID

	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCoordinator validates opts and returns an unstarted coordinator.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Browser == nil {
		return nil, errors.New("discovery: coordinator requires a browser")
	}
	if opts.Reconciler == nil {
		return nil, errors.New("discovery: coordinator requires a reconciler")
	}
	if opts.Registry == nil {
		return nil, errors.New("discovery: coordinator requires a host registry")
	}
	if opts.Factory == nil {
		return nil, errors.New("discovery: coordinator requires a controller factory")
	}

	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		browser:     opts.Browser,
		reconciler:  opts.Reconciler,
		registry:    opts.Registry,
		factory:     opts.Factory,
		teardown:    opts.TeardownOnDisappear,
		logger:      logger,
		controllers: make(map[string]binding),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins browsing. Events are processed until Stop is called or
// parent is cancelled. Calling Start again is a no-op.
func (c *Coordinator) Start(parent context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		return errors.New("discovery: coordinator stopped")
	}
	if c.started {
		return nil
	}
	c.started = true

	stopWithParent := context.AfterFunc(parent, c.cancel)
	events := make(chan Event, eventBuffer)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		if err := c.browser.Browse(c.ctx, events); err != nil {
			c.logger.Error("discovery browser stopped", "error", err)
		}
	}()
	go func() {
		defer c.wg.Done()
		defer stopWithParent()
		c.consume(events)
	}()

	c.logger.Info("discovery coordinator started", "teardown_on_disappear", c.teardown)
	return nil
}

func (c *Coordinator) consume(events <-chan Event) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-events:
			switch ev.Type {
			case ServiceAppeared:
				_ = c.HandleAppeared(c.ctx, ev.Service) //nolint:errcheck // Logged in HandleAppeared
			case ServiceDisappeared:
				c.HandleDisappeared(ev.Service)
			}
		}
	}
}

// Stop ends browsing and stops every controller. Safe to call more than
// once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		c.wg.Wait()

		c.handleMu.Lock()
		defer c.handleMu.Unlock()

		c.mu.Lock()
		bindings := c.controllers
		c.controllers = make(map[string]binding)
		c.mu.Unlock()

		for id, b := range bindings {
			c.registry.ClearOnOffHandler(id)
			b.ctrl.Stop()
		}
		c.logger.Info("discovery coordinator stopped", "controllers", len(bindings))
	})
}

// HandleAppeared resolves svc, makes exactly one registration call with the
// host and binds a controller to the record.
//
// A live controller is kept when the device reappears at the same
// endpoint; at a new endpoint it is replaced.
//
// Parameters:
//   - ctx: Context for the host registration call
//   - svc: The service that appeared
//
// Returns:
//   - error: Resolution, registration or controller errors (also logged)
func (c *Coordinator) HandleAppeared(ctx context.Context, svc Service) error {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()

	c.logger.Info("mDNS service up", "name", svc.Name, "device_id", svc.DeviceID(), "address", svc.Endpoint())

	res, err := c.reconciler.Resolve(svc)
	if err != nil {
		c.logger.Warn("ignoring service", "name", svc.Name, "error", err)
		return err
	}
	rec := res.Record

	switch res.Outcome {
	case OutcomeNew:
		c.logger.Info("adding new accessory", "uuid", rec.UUID, "name", rec.DisplayName)
		if err := c.registry.RegisterNew(ctx, rec); err != nil {
			c.reconciler.Forget(rec.UUID)
			c.logger.Error("registering accessory failed", "uuid", rec.UUID, "error", err)
			return fmt.Errorf("registering %s: %w", rec.UUID, err)
		}
	case OutcomeRestored:
		c.logger.Info("restoring existing accessory", "uuid", rec.UUID, "name", rec.DisplayName)
		if err := c.registry.UpdateExisting(ctx, rec); err != nil {
			c.logger.Error("updating accessory failed", "uuid", rec.UUID, "error", err)
			return fmt.Errorf("updating %s: %w", rec.UUID, err)
		}
	}

	return c.bind(rec, svc)
}

func (c *Coordinator) bind(rec accessory.Accessory, svc Service) error {
	endpoint := svc.Endpoint()

	c.mu.RLock()
	current, bound := c.controllers[rec.UUID]
	c.mu.RUnlock()

	if bound && current.endpoint == endpoint {
		c.logger.Debug("controller already bound", "uuid", rec.UUID, "address", endpoint)
		return nil
	}

	ctrl, err := c.factory(rec, svc)
	if err != nil {
		c.logger.Error("creating controller failed", "uuid", rec.UUID, "error", err)
		return fmt.Errorf("creating controller for %s: %w", rec.UUID, err)
	}

	if bound {
		c.logger.Info("device moved, replacing controller",
			"uuid", rec.UUID, "old_address", current.endpoint, "new_address", endpoint)
		current.ctrl.Stop()
	}

	if err := ctrl.Start(c.ctx); err != nil {
		c.unbind(rec.UUID)
		return fmt.Errorf("starting controller for %s: %w", rec.UUID, err)
	}
	if err := c.registry.SetOnOffHandler(rec.UUID, ctrl.HandleGet, ctrl.HandleSet); err != nil {
		ctrl.Stop()
		c.unbind(rec.UUID)
		return fmt.Errorf("binding handlers for %s: %w", rec.UUID, err)
	}

	c.mu.Lock()
	c.controllers[rec.UUID] = binding{ctrl: ctrl, endpoint: endpoint}
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) unbind(id string) {
	c.mu.Lock()
	delete(c.controllers, id)
	c.mu.Unlock()
	c.registry.ClearOnOffHandler(id)
}

// HandleDisappeared logs the departure and, when teardown is enabled,
// stops the device's controller. The identity is kept, so a later
// appearance resolves as restored.
func (c *Coordinator) HandleDisappeared(svc Service) {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()

	c.logger.Info("mDNS service down", "name", svc.Name, "device_id", svc.DeviceID(), "address", svc.Endpoint())

	if !c.teardown || svc.DeviceID() == "" {
		return
	}

	id := accessory.GenerateUUID(svc.DeviceID())
	c.mu.Lock()
	b, ok := c.controllers[id]
	delete(c.controllers, id)
	c.mu.Unlock()
	if !ok {
		return
	}

	c.registry.ClearOnOffHandler(id)
	b.ctrl.Stop()
	c.logger.Info("controller torn down", "uuid", id)
}

// Controller returns the live controller bound to accessory id.
func (c *Coordinator) Controller(id string) (DeviceController, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.controllers[id]
	return b.ctrl, ok
}

// ControllerCount returns the number of live controllers.
func (c *Coordinator) ControllerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.controllers)
}
