package discovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sonoff-bridge/internal/accessory"
)

// Outcome tells whether a resolved identity was seen before.
type Outcome int

// Resolution outcomes.
const (
	OutcomeNew Outcome = iota + 1
	OutcomeRestored
)

// String returns "new" or "restored".
func (o Outcome) String() string {
	switch o {
	case OutcomeNew:
		return "new"
	case OutcomeRestored:
		return "restored"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Identity is the stable identity of one device and where it currently is.
type Identity struct {
	// LogicalID is the device-reported id. It survives address changes.
	LogicalID   string
	DisplayName string
	Host        string
	Port        int
}

// Resolution is the result of matching a service against known records.
type Resolution struct {
	Outcome  Outcome
	Identity Identity

	// Record is the host record to register (OutcomeNew) or update
	// (OutcomeRestored), with its address already set from the service.
	Record accessory.Accessory
}

// Reconciler maps discovered services onto host accessory records. A
// logical id resolves to the same record for the process lifetime, so
// repeated appearances never yield a second record.
//
// Thread Safety: All methods are safe for concurrent use.
type Reconciler struct {
	mu      sync.Mutex
	records map[string]accessory.Accessory // keyed by UUID
}

// NewReconciler seeds the reconciler with the records restored from the
// host store at startup.
func NewReconciler(restored []accessory.Accessory) *Reconciler {
	r := &Reconciler{records: make(map[string]accessory.Accessory, len(restored))}
	for _, a := range restored {
		r.records[a.UUID] = *a.DeepCopy()
	}
	return r
}

// Resolve derives the logical id from svc and looks it up.
//
// A known id yields OutcomeRestored with the stored record's address
// updated to svc. An unknown id yields OutcomeNew with a fresh record whose
// UUID is generated from the id; the record is remembered, so resolving the
// same id again yields OutcomeRestored.
//
// Parameters:
//   - svc: A resolved advertisement
//
// Returns:
//   - Resolution: Outcome, identity and the record to hand to the host
//   - error: ErrMissingDeviceID or ErrNoAddress
func (r *Reconciler) Resolve(svc Service) (Resolution, error) {
	logicalID := svc.DeviceID()
	if logicalID == "" {
		return Resolution{}, fmt.Errorf("%w: %s", ErrMissingDeviceID, svc.Name)
	}
	host := svc.Address()
	if host == "" {
		return Resolution{}, fmt.Errorf("%w: %s", ErrNoAddress, svc.Name)
	}

	handle := accessory.GenerateUUID(logicalID)

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, known := r.records[handle]
	outcome := OutcomeRestored
	if !known {
		outcome = OutcomeNew
		rec = accessory.New(logicalID, svc.Name)
	}
	applyService(&rec, logicalID, svc)
	r.records[handle] = *rec.DeepCopy()

	return Resolution{
		Outcome: outcome,
		Identity: Identity{
			LogicalID:   logicalID,
			DisplayName: rec.DisplayName,
			Host:        host,
			Port:        svc.Port,
		},
		Record: rec,
	}, nil
}

// Forget drops the record for handle so the next appearance resolves as
// new. Used when the host rejected a registration.
func (r *Reconciler) Forget(handle string) {
	r.mu.Lock()
	delete(r.records, handle)
	r.mu.Unlock()
}

// Known reports whether handle has been restored or resolved.
func (r *Reconciler) Known(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[handle]
	return ok
}

func applyService(rec *accessory.Accessory, logicalID string, svc Service) {
	seen := svc.SeenAt
	if seen.IsZero() {
		seen = time.Now()
	}
	seen = seen.UTC()

	rec.Context.DeviceID = logicalID
	rec.Context.ServiceName = svc.Name
	rec.Context.Host = svc.Address()
	rec.Context.Port = svc.Port
	rec.Context.Addresses = append([]string(nil), svc.Addresses...)
	rec.Context.LastSeen = &seen
}
