package devices

import (
	"strings"
	"sync"
	"time"
)

// RegisterStatus reports the outcome of a registration attempt.
type RegisterStatus string

const (
	// StatusRegistered indicates a new binding was created.
	StatusRegistered RegisterStatus = "registered"
	// StatusAlreadyRegistered indicates the device was already bound to the
	// same account. Registration is idempotent for this case.
	StatusAlreadyRegistered RegisterStatus = "already_registered"
	// StatusFraudConflict indicates the device is bound to a different
	// account. The existing binding is left untouched.
	StatusFraudConflict RegisterStatus = "fraud_conflict"
	// StatusMultipleDevices indicates the account already owns another
	// device.
	StatusMultipleDevices RegisterStatus = "multiple_devices_not_allowed"
)

// VerifyReason explains a negative verification result.
type VerifyReason string

const (
	ReasonVerified      VerifyReason = "verified"
	ReasonNotRegistered VerifyReason = "not_registered"
	ReasonFraudConflict VerifyReason = "fraud_conflict"
)

// Binding pairs a device identifier with the account it belongs to.
type Binding struct {
	DeviceID     string
	AccountID    string
	RegisteredAt time.Time
}

// Registry enforces the one-device-per-account, one-account-per-device
// invariant. Bindings are created once and never mutated; conflicting
// registrations are rejected without touching existing state.
type Registry struct {
	mu       sync.Mutex
	now      func() time.Time
	bindings map[string]*Binding
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		now:      time.Now,
		bindings: make(map[string]*Binding),
	}
}

// SetNow overrides the time source. It is intended for tests.
func (r *Registry) SetNow(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Register binds deviceID to accountID if neither side is already claimed.
// The device map is the single source of truth; the one-device-per-account
// check scans current bindings rather than maintaining a reverse index.
func (r *Registry) Register(accountID, deviceID string) (RegisterStatus, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", ErrAccountRequired
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return "", ErrDeviceRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.bindings[deviceID]; ok {
		if existing.AccountID == accountID {
			return StatusAlreadyRegistered, nil
		}
		return StatusFraudConflict, nil
	}
	for _, binding := range r.bindings {
		if binding.AccountID == accountID {
			return StatusMultipleDevices, nil
		}
	}

	r.bindings[deviceID] = &Binding{
		DeviceID:     deviceID,
		AccountID:    accountID,
		RegisteredAt: r.now().UTC(),
	}
	return StatusRegistered, nil
}

// Verify reports whether deviceID is bound to accountID. An absent binding
// and a binding held by another account are both negative results,
// distinguished by reason.
func (r *Registry) Verify(accountID, deviceID string) (bool, VerifyReason) {
	accountID = strings.TrimSpace(accountID)
	deviceID = strings.TrimSpace(deviceID)

	r.mu.Lock()
	defer r.mu.Unlock()

	binding, ok := r.bindings[deviceID]
	if !ok {
		return false, ReasonNotRegistered
	}
	if binding.AccountID != accountID {
		return false, ReasonFraudConflict
	}
	return true, ReasonVerified
}

// DeviceFor returns the device bound to accountID, if any.
func (r *Registry) DeviceFor(accountID string) (Binding, bool) {
	accountID = strings.TrimSpace(accountID)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, binding := range r.bindings {
		if binding.AccountID == accountID {
			return *binding, true
		}
	}
	return Binding{}, false
}

// Bindings returns a snapshot of all registrations for diagnostics.
func (r *Registry) Bindings() []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]Binding, 0, len(r.bindings))
	for _, binding := range r.bindings {
		snapshot = append(snapshot, *binding)
	}
	return snapshot
}

// Size reports the number of registered devices.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}
