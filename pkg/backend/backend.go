// Package backend abstracts the OEM connected-car cloud behind a typed client
// interface. The gateway never interprets OEM wire formats itself; it switches on the
// error kinds reported here.
package backend

import (
	"context"
	"encoding/json"
	"time"
)

// Operation identifies a backend operation. The gateway groups operations into
// classes for circuit-breaker and cache-TTL purposes; the backend client treats them
// as opaque endpoint selectors.
type Operation string

const (
	OpStatus        Operation = "status"
	OpLocation      Operation = "location"
	OpFuelLevel     Operation = "fuel_level"
	OpChargeState   Operation = "charge_state"
	OpMileage       Operation = "mileage"
	OpCapabilities  Operation = "capabilities"
	OpFlashLights   Operation = "flash_lights"
	OpHonkHorn      Operation = "honk_horn"
	OpLock          Operation = "lock"
	OpUnlock        Operation = "unlock"
	OpClimateStart  Operation = "climate_start"
	OpClimateStop   Operation = "climate_stop"
	OpChargeStart   Operation = "charge_start"
	OpChargeStop    Operation = "charge_stop"
	OpAuthenticate  Operation = "authenticate"
)

// Call describes a single authenticated request to the OEM cloud.
type Call struct {
	Fingerprint string
	Session     string // opaque backend token, never logged
	Operation   Operation
	ResourceID  string
	Params      map[string]interface{}
}

// Token is the result of a successful authentication.
type Token struct {
	Value     string
	ExpiresAt time.Time // zero when the backend did not state a lifetime
}

// AuthRequest carries owner credentials for a fresh authentication.
type AuthRequest struct {
	Owner       string
	Username    string
	Password    string
	Fingerprint string
}

// Client is the opaque vehicle-backend SDK surface consumed by the gateway.
type Client interface {
	// Execute performs the authenticated call and returns the raw success payload.
	// Failures are reported as *Error values carrying a Kind.
	Execute(ctx context.Context, call Call) (json.RawMessage, error)

	// Authenticate establishes a fresh backend session for the owner.
	Authenticate(ctx context.Context, req AuthRequest) (Token, error)
}
