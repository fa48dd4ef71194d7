package accessory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

// mockRepository is an in-memory Repository for registry tests.
type mockRepository struct {
	mu      sync.Mutex
	records map[string]Accessory
	creates int
	updates int
	listErr error
}

func newMockRepository(seed ...Accessory) *mockRepository {
	m := &mockRepository{records: make(map[string]Accessory)}
	for _, a := range seed {
		m.records[a.UUID] = a
	}
	return m
}

func (m *mockRepository) GetByUUID(_ context.Context, id string) (*Accessory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.records[id]
	if !ok {
		return nil, ErrAccessoryNotFound
	}
	return a.DeepCopy(), nil
}

func (m *mockRepository) List(context.Context) ([]Accessory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]Accessory, 0, len(m.records))
	for _, a := range m.records {
		out = append(out, *a.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

func (m *mockRepository) Create(_ context.Context, a *Accessory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[a.UUID]; ok {
		return ErrAccessoryExists
	}
	m.creates++
	m.records[a.UUID] = *a.DeepCopy()
	return nil
}

func (m *mockRepository) Update(_ context.Context, a *Accessory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[a.UUID]; !ok {
		return ErrAccessoryNotFound
	}
	m.updates++
	m.records[a.UUID] = *a.DeepCopy()
	return nil
}

type publishEvent struct {
	uuid  string
	isNew bool
}

type recordingListener struct {
	mu     sync.Mutex
	events []publishEvent
}

func (l *recordingListener) AccessoryPublished(a Accessory, isNew bool) {
	l.mu.Lock()
	l.events = append(l.events, publishEvent{uuid: a.UUID, isNew: isNew})
	l.mu.Unlock()
}

func TestRegistry_Restore(t *testing.T) {
	stored := New("100123abc", "Porch")
	reg := NewRegistry(newMockRepository(stored))

	restored, err := reg.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(restored) != 1 || restored[0].UUID != stored.UUID {
		t.Fatalf("Restore() = %+v, want the stored accessory", restored)
	}

	got, err := reg.Get(stored.UUID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DisplayName != "Porch" {
		t.Errorf("DisplayName = %q, want Porch", got.DisplayName)
	}
}

func TestRegistry_RestoreError(t *testing.T) {
	repo := newMockRepository()
	repo.listErr = errors.New("disk gone")
	reg := NewRegistry(repo)

	if _, err := reg.Restore(context.Background()); err == nil {
		t.Fatal("Restore() should fail when the store cannot be read")
	}
}

func TestRegistry_RegisterNew(t *testing.T) {
	repo := newMockRepository()
	reg := NewRegistry(repo)
	listener := &recordingListener{}
	reg.AddListener(listener)
	ctx := context.Background()

	a := New("100123abc", "Porch")
	if err := reg.RegisterNew(ctx, a); err != nil {
		t.Fatalf("RegisterNew() error = %v", err)
	}
	if err := reg.RegisterNew(ctx, a); !errors.Is(err, ErrAccessoryExists) {
		t.Errorf("second RegisterNew() error = %v, want ErrAccessoryExists", err)
	}
	if repo.creates != 1 {
		t.Errorf("repository creates = %d, want 1", repo.creates)
	}
	if len(listener.events) != 1 || listener.events[0] != (publishEvent{uuid: a.UUID, isNew: true}) {
		t.Errorf("listener events = %+v", listener.events)
	}
}

func TestRegistry_RegisterNewInvalid(t *testing.T) {
	reg := NewRegistry(newMockRepository())
	a := New("100123abc", "Porch")
	a.UUID = "bogus"

	if err := reg.RegisterNew(context.Background(), a); !errors.Is(err, ErrInvalidAccessory) {
		t.Errorf("RegisterNew() error = %v, want ErrInvalidAccessory", err)
	}
}

func TestRegistry_UpdateExisting(t *testing.T) {
	stored := New("100123abc", "Porch")
	repo := newMockRepository(stored)
	reg := NewRegistry(repo)
	listener := &recordingListener{}
	reg.AddListener(listener)
	ctx := context.Background()

	unknown := New("other", "Other")
	if err := reg.UpdateExisting(ctx, unknown); !errors.Is(err, ErrAccessoryNotFound) {
		t.Errorf("UpdateExisting() before Restore error = %v, want ErrAccessoryNotFound", err)
	}

	if _, err := reg.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	stored.Context.Host = "10.0.0.9"
	if err := reg.UpdateExisting(ctx, stored); err != nil {
		t.Fatalf("UpdateExisting() error = %v", err)
	}
	got, _ := reg.Get(stored.UUID) //nolint:errcheck // checked via fields
	if got.Context.Host != "10.0.0.9" {
		t.Errorf("Host = %q, want 10.0.0.9", got.Context.Host)
	}
	if repo.updates != 1 || repo.creates != 0 {
		t.Errorf("creates/updates = %d/%d, want 0/1", repo.creates, repo.updates)
	}
	if len(listener.events) != 1 || listener.events[0].isNew {
		t.Errorf("listener events = %+v, want one update", listener.events)
	}
}

func TestRegistry_UpdateExistingKeepsPublishedFields(t *testing.T) {
	reg := NewRegistry(newMockRepository())
	ctx := context.Background()

	published := New("100123abc", "Porch")
	published.CreatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := reg.RegisterNew(ctx, published); err != nil {
		t.Fatalf("RegisterNew() error = %v", err)
	}

	// Discovery's copy of the record never saw the store's timestamps.
	moved := New("100123abc", "Porch")
	moved.SerialNumber = ""
	moved.Context.Host = "10.0.0.9"
	if err := reg.UpdateExisting(ctx, moved); err != nil {
		t.Fatalf("UpdateExisting() error = %v", err)
	}

	got, err := reg.Get(published.UUID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.CreatedAt.Equal(published.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, published.CreatedAt)
	}
	if got.SerialNumber != "100123abc" {
		t.Errorf("SerialNumber = %q, want 100123abc", got.SerialNumber)
	}
	if got.Context.Host != "10.0.0.9" {
		t.Errorf("Host = %q, want 10.0.0.9", got.Context.Host)
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	reg := NewRegistry(newMockRepository())
	a := New("100123abc", "Porch")
	a.Context.Addresses = []string{"10.0.0.5"}
	if err := reg.RegisterNew(context.Background(), a); err != nil {
		t.Fatalf("RegisterNew() error = %v", err)
	}

	got, _ := reg.Get(a.UUID) //nolint:errcheck // registered above
	got.Context.Addresses[0] = "mutated"

	again, _ := reg.Get(a.UUID) //nolint:errcheck // registered above
	if again.Context.Addresses[0] != "10.0.0.5" {
		t.Error("Get() leaked internal state")
	}

	if _, err := reg.Get("missing"); !errors.Is(err, ErrAccessoryNotFound) {
		t.Errorf("Get(missing) error = %v", err)
	}
}

func TestRegistry_List(t *testing.T) {
	reg := NewRegistry(newMockRepository())
	ctx := context.Background()
	for _, name := range []string{"Cellar", "Attic", "Bedroom"} {
		if err := reg.RegisterNew(ctx, New("id-"+name, name)); err != nil {
			t.Fatalf("RegisterNew(%s) error = %v", name, err)
		}
	}

	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
	if list[0].DisplayName != "Attic" || list[1].DisplayName != "Bedroom" || list[2].DisplayName != "Cellar" {
		t.Errorf("List() order = %s, %s, %s", list[0].DisplayName, list[1].DisplayName, list[2].DisplayName)
	}
}

func TestRegistry_OnOffHandlers(t *testing.T) {
	reg := NewRegistry(newMockRepository())
	ctx := context.Background()
	a := New("100123abc", "Porch")

	noopSet := func(context.Context, bool) error { return nil }
	if err := reg.SetOnOffHandler(a.UUID, func() bool { return false }, noopSet); !errors.Is(err, ErrAccessoryNotFound) {
		t.Errorf("SetOnOffHandler() on unknown error = %v, want ErrAccessoryNotFound", err)
	}

	if err := reg.RegisterNew(ctx, a); err != nil {
		t.Fatalf("RegisterNew() error = %v", err)
	}

	if _, err := reg.GetOn(a.UUID); !errors.Is(err, ErrNoHandler) {
		t.Errorf("GetOn() without handler error = %v, want ErrNoHandler", err)
	}
	if err := reg.SetOn(ctx, a.UUID, true); !errors.Is(err, ErrNoHandler) {
		t.Errorf("SetOn() without handler error = %v, want ErrNoHandler", err)
	}
	if err := reg.SetOnOffHandler(a.UUID, nil, noopSet); !errors.Is(err, ErrInvalidAccessory) {
		t.Errorf("SetOnOffHandler(nil get) error = %v, want ErrInvalidAccessory", err)
	}

	power := false
	setErr := errors.New("device offline")
	var failNext bool
	err := reg.SetOnOffHandler(a.UUID,
		func() bool { return power },
		func(_ context.Context, on bool) error {
			if failNext {
				return setErr
			}
			power = on
			return nil
		},
	)
	if err != nil {
		t.Fatalf("SetOnOffHandler() error = %v", err)
	}

	if err := reg.SetOn(ctx, a.UUID, true); err != nil {
		t.Fatalf("SetOn() error = %v", err)
	}
	on, err := reg.GetOn(a.UUID)
	if err != nil || !on {
		t.Errorf("GetOn() = %v, %v; want true, nil", on, err)
	}

	failNext = true
	if err := reg.SetOn(ctx, a.UUID, false); !errors.Is(err, setErr) {
		t.Errorf("SetOn() error = %v, want handler error unchanged", err)
	}

	reg.ClearOnOffHandler(a.UUID)
	if _, err := reg.GetOn(a.UUID); !errors.Is(err, ErrNoHandler) {
		t.Errorf("GetOn() after clear error = %v, want ErrNoHandler", err)
	}
}
