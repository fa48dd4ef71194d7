package accessory

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGenerateUUID_Deterministic(t *testing.T) {
	a := GenerateUUID("100123abc")
	b := GenerateUUID("100123abc")
	c := GenerateUUID("100123abd")

	if a != b {
		t.Errorf("GenerateUUID not deterministic: %s != %s", a, b)
	}
	if a == c {
		t.Error("different ids produced the same UUID")
	}

	parsed, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("GenerateUUID returned invalid UUID %q: %v", a, err)
	}
	if parsed.Version() != 5 {
		t.Errorf("UUID version = %d, want 5 (SHA-1 name based)", parsed.Version())
	}
}

func TestNew(t *testing.T) {
	a := New("100123abc", "eWeLink_100123abc")

	if a.UUID != GenerateUUID("100123abc") {
		t.Errorf("UUID = %s, want generated from logical id", a.UUID)
	}
	if a.Manufacturer != "Sonoff" || a.Model != "BasicR3" || a.SerialNumber != "100123abc" {
		t.Errorf("accessory information = %s/%s/%s", a.Manufacturer, a.Model, a.SerialNumber)
	}
	if a.LogicalID() != "100123abc" {
		t.Errorf("LogicalID() = %q, want 100123abc", a.LogicalID())
	}

	unnamed := New("100123abc", "")
	if unnamed.DisplayName != "100123abc" {
		t.Errorf("DisplayName = %q, want id fallback", unnamed.DisplayName)
	}
}

func TestDeepCopy(t *testing.T) {
	seen := time.Now()
	a := New("100123abc", "Porch")
	a.Context.Addresses = []string{"10.0.0.5"}
	a.Context.LastSeen = &seen

	cpy := a.DeepCopy()
	cpy.Context.Addresses[0] = "10.0.0.9"
	*cpy.Context.LastSeen = seen.Add(time.Hour)

	if a.Context.Addresses[0] != "10.0.0.5" {
		t.Error("DeepCopy shares the Addresses slice")
	}
	if !a.Context.LastSeen.Equal(seen) {
		t.Error("DeepCopy shares the LastSeen pointer")
	}

	var nilAcc *Accessory
	if nilAcc.DeepCopy() != nil {
		t.Error("DeepCopy of nil should be nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(a *Accessory)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Accessory) {}, wantErr: false},
		{name: "bad uuid", mutate: func(a *Accessory) { a.UUID = "not-a-uuid" }, wantErr: true},
		{name: "empty name", mutate: func(a *Accessory) { a.DisplayName = "" }, wantErr: true},
		{name: "bad port", mutate: func(a *Accessory) { a.Context.Port = 70000 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New("100123abc", "Porch")
			tt.mutate(&a)
			err := Validate(&a)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidAccessory) {
				t.Errorf("Validate() error = %v, want ErrInvalidAccessory", err)
			}
		})
	}

	if err := Validate(nil); !errors.Is(err, ErrInvalidAccessory) {
		t.Errorf("Validate(nil) error = %v", err)
	}
}
