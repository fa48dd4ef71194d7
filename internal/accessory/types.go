package accessory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Accessory information reported for every BasicR3.
const (
	Manufacturer = "Sonoff"
	Model        = "BasicR3"
)

// namespace seeds the name-based UUIDs. Changing it would orphan every
// stored accessory.
var namespace = uuid.MustParse("5b1f6a0c-3c1e-4d8e-9a55-0f2b7c9d4e11")

// GenerateUUID derives the stable accessory handle from the id a device
// reports in its mDNS TXT record. The same id always yields the same UUID.
func GenerateUUID(logicalID string) string {
	return uuid.NewSHA1(namespace, []byte(logicalID)).String()
}

// Context is the controller-private part of an accessory record.
// It records where the device was last seen so a restart can log address
// changes.
type Context struct {
	DeviceID    string     `json:"device_id"`
	ServiceName string     `json:"service_name,omitempty"`
	Host        string     `json:"host"`
	Port        int        `json:"port"`
	Addresses   []string   `json:"addresses,omitempty"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

// Accessory is a host-side record for one device.
type Accessory struct {
	UUID         string    `json:"uuid"`
	DisplayName  string    `json:"display_name"`
	Manufacturer string    `json:"manufacturer"`
	Model        string    `json:"model"`
	SerialNumber string    `json:"serial_number"`
	Context      Context   `json:"context"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// New builds the record for a newly discovered device.
func New(logicalID, displayName string) Accessory {
	if displayName == "" {
		displayName = logicalID
	}
	return Accessory{
		UUID:         GenerateUUID(logicalID),
		DisplayName:  displayName,
		Manufacturer: Manufacturer,
		Model:        Model,
		SerialNumber: logicalID,
		Context:      Context{DeviceID: logicalID},
	}
}

// LogicalID returns the device-reported id the record was derived from.
func (a *Accessory) LogicalID() string {
	if a.Context.DeviceID != "" {
		return a.Context.DeviceID
	}
	return a.SerialNumber
}

// DeepCopy returns an independent copy; the Addresses slice and LastSeen
// pointer are cloned.
func (a *Accessory) DeepCopy() *Accessory {
	if a == nil {
		return nil
	}
	cpy := *a
	if a.Context.Addresses != nil {
		cpy.Context.Addresses = append([]string(nil), a.Context.Addresses...)
	}
	if a.Context.LastSeen != nil {
		seen := *a.Context.LastSeen
		cpy.Context.LastSeen = &seen
	}
	return &cpy
}

// Validate checks the fields the store relies on.
func Validate(a *Accessory) error {
	if a == nil {
		return fmt.Errorf("%w: nil accessory", ErrInvalidAccessory)
	}
	if _, err := uuid.Parse(a.UUID); err != nil {
		return fmt.Errorf("%w: uuid %q: %w", ErrInvalidAccessory, a.UUID, err)
	}
	if a.DisplayName == "" {
		return fmt.Errorf("%w: display name is required", ErrInvalidAccessory)
	}
	if a.Context.Port < 0 || a.Context.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidAccessory, a.Context.Port)
	}
	return nil
}
