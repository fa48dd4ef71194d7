package accessory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
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

// Listener is told about every successful registration or update.
type Listener interface {
	AccessoryPublished(a Accessory, isNew bool)
}

// onOffHandler is the capability a controller binds to an accessory.
type onOffHandler struct {
	get func() bool
	set func(ctx context.Context, on bool) error
}

// Registry is the host accessory registry: the persisted set of published
// identities plus the on/off handlers bound to them.
//
// All public methods are thread-safe.
type Registry struct {
	repo   Repository
	logger Logger

	mu        sync.RWMutex
	cache     map[string]*Accessory
	handlers  map[string]onOffHandler
	listeners []Listener
}

// NewRegistry creates a registry on repo. Call Restore before use.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:     repo,
		logger:   noopLogger{},
		cache:    make(map[string]*Accessory),
		handlers: make(map[string]onOffHandler),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddListener registers l for publish notifications.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// Restore loads the stored accessories into the cache and returns them.
// This is the restored-identity set handed to discovery at startup.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - []Accessory: Every previously published accessory
//   - error: If the store cannot be read
func (r *Registry) Restore(ctx context.Context) ([]Accessory, error) {
	stored, err := r.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading accessories: %w", err)
	}

	r.mu.Lock()
	r.cache = make(map[string]*Accessory, len(stored))
	out := make([]Accessory, 0, len(stored))
	for i := range stored {
		a := stored[i]
		r.cache[a.UUID] = a.DeepCopy()
		out = append(out, *a.DeepCopy())
		r.logger.Info("loading accessory from cache", "uuid", a.UUID, "name", a.DisplayName)
	}
	r.mu.Unlock()

	return out, nil
}

// RegisterNew publishes an accessory for the first time.
// Returns ErrAccessoryExists if the UUID is already published.
func (r *Registry) RegisterNew(ctx context.Context, a Accessory) error {
	if err := Validate(&a); err != nil {
		return err
	}

	r.mu.RLock()
	_, known := r.cache[a.UUID]
	r.mu.RUnlock()
	if known {
		return ErrAccessoryExists
	}

	if err := r.repo.Create(ctx, &a); err != nil {
		return fmt.Errorf("registering %s: %w", a.UUID, err)
	}

	r.store(&a)
	r.logger.Info("registered new accessory", "uuid", a.UUID, "name", a.DisplayName, "serial", a.SerialNumber)
	r.publish(a, true)
	return nil
}

// UpdateExisting saves changes to a published accessory.
// Returns ErrAccessoryNotFound if it was never published.
//
// CreatedAt and an empty SerialNumber are taken from the published record;
// callers only ever change what discovery reports.
func (r *Registry) UpdateExisting(ctx context.Context, a Accessory) error {
	if err := Validate(&a); err != nil {
		return err
	}

	r.mu.RLock()
	cached, known := r.cache[a.UUID]
	if known {
		a.CreatedAt = cached.CreatedAt
		if a.SerialNumber == "" {
			a.SerialNumber = cached.SerialNumber
		}
	}
	r.mu.RUnlock()
	if !known {
		return ErrAccessoryNotFound
	}

	if err := r.repo.Update(ctx, &a); err != nil {
		return fmt.Errorf("updating %s: %w", a.UUID, err)
	}

	r.store(&a)
	r.logger.Info("updated existing accessory", "uuid", a.UUID, "name", a.DisplayName,
		"address", fmt.Sprintf("%s:%d", a.Context.Host, a.Context.Port))
	r.publish(a, false)
	return nil
}

func (r *Registry) store(a *Accessory) {
	r.mu.Lock()
	r.cache[a.UUID] = a.DeepCopy()
	r.mu.Unlock()
}

func (r *Registry) publish(a Accessory, isNew bool) {
	r.mu.RLock()
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.RUnlock()

	for _, l := range listeners {
		l.AccessoryPublished(*a.DeepCopy(), isNew)
	}
}

// Get returns a copy of the accessory with the given UUID.
func (r *Registry) Get(id string) (Accessory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.cache[id]
	if !ok {
		return Accessory{}, ErrAccessoryNotFound
	}
	return *a.DeepCopy(), nil
}

// List returns copies of all accessories ordered by display name.
func (r *Registry) List() []Accessory {
	r.mu.RLock()
	out := make([]Accessory, 0, len(r.cache))
	for _, a := range r.cache {
		out = append(out, *a.DeepCopy())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].UUID < out[j].UUID
	})
	return out
}

// SetOnOffHandler binds the get and set callbacks of a controller to an
// accessory, replacing any previous binding.
func (r *Registry) SetOnOffHandler(id string, get func() bool, set func(ctx context.Context, on bool) error) error {
	if get == nil || set == nil {
		return fmt.Errorf("%w: get and set handlers are required", ErrInvalidAccessory)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cache[id]; !ok {
		return ErrAccessoryNotFound
	}
	r.handlers[id] = onOffHandler{get: get, set: set}
	return nil
}

// ClearOnOffHandler removes the binding for id, if any.
func (r *Registry) ClearOnOffHandler(id string) {
	r.mu.Lock()
	delete(r.handlers, id)
	r.mu.Unlock()
}

func (r *Registry) handler(id string) (onOffHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.cache[id]; !ok {
		return onOffHandler{}, ErrAccessoryNotFound
	}
	h, ok := r.handlers[id]
	if !ok {
		return onOffHandler{}, ErrNoHandler
	}
	return h, nil
}

// GetOn returns the bound controller's cached power state.
func (r *Registry) GetOn(id string) (bool, error) {
	h, err := r.handler(id)
	if err != nil {
		return false, err
	}
	return h.get(), nil
}

// SetOn forwards a power command to the bound controller and returns its
// error unchanged.
func (r *Registry) SetOn(ctx context.Context, id string, on bool) error {
	h, err := r.handler(id)
	if err != nil {
		return err
	}
	return h.set(ctx, on)
}
