package gateway

import (
	"time"

	"github.com/draiv/vehicle-gateway/pkg/backend"
)

// Operation classes. Each class has its own circuit breaker so a quota hit on
// commands never blocks status polling, and vice versa.
const (
	ClassStatusRead    = "status-read"
	ClassLightSignal   = "light-signal"
	ClassRemoteCommand = "remote-command"
)

// actionSpec describes one entry of the closed action set. Anything outside this
// table is rejected at the validation boundary.
type actionSpec struct {
	operation  backend.Operation
	class      string
	privileged bool
	cacheable  bool
	mutating   bool
}

var actions = map[string]actionSpec{
	"status":       {operation: backend.OpStatus, class: ClassStatusRead, cacheable: true},
	"location":     {operation: backend.OpLocation, class: ClassStatusRead, cacheable: true},
	"fuel_level":   {operation: backend.OpFuelLevel, class: ClassStatusRead, cacheable: true},
	"charge_state": {operation: backend.OpChargeState, class: ClassStatusRead, cacheable: true},
	"mileage":      {operation: backend.OpMileage, class: ClassStatusRead, cacheable: true},
	"capabilities": {operation: backend.OpCapabilities, class: ClassStatusRead, cacheable: true},

	"flash_lights": {operation: backend.OpFlashLights, class: ClassLightSignal},
	"honk_horn":    {operation: backend.OpHonkHorn, class: ClassLightSignal},

	"lock":          {operation: backend.OpLock, class: ClassRemoteCommand, privileged: true, mutating: true},
	"unlock":        {operation: backend.OpUnlock, class: ClassRemoteCommand, privileged: true, mutating: true},
	"climate_start": {operation: backend.OpClimateStart, class: ClassRemoteCommand, privileged: true, mutating: true},
	"climate_stop":  {operation: backend.OpClimateStop, class: ClassRemoteCommand, privileged: true, mutating: true},
	"charge_start":  {operation: backend.OpChargeStart, class: ClassRemoteCommand, privileged: true, mutating: true},
	"charge_stop":   {operation: backend.OpChargeStop, class: ClassRemoteCommand, privileged: true, mutating: true},
}

// IsReadAction reports whether name is a side-effect-free read, servable over GET.
func IsReadAction(name string) bool {
	act, ok := actions[name]
	return ok && act.cacheable
}

// Actions lists the accepted action names, for diagnostics and the CLI.
func Actions() []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	return names
}

func (c Config) ttlFor(op backend.Operation) time.Duration {
	switch op {
	case backend.OpLocation:
		return c.TTL.Location.value()
	case backend.OpCapabilities:
		return c.TTL.Capabilities.value()
	default:
		return c.TTL.Status.value()
	}
}

func (c Config) timeoutFor(class string) time.Duration {
	switch class {
	case ClassRemoteCommand:
		return c.Timeout.Command.value()
	case ClassLightSignal:
		return c.Timeout.LightSignal.value()
	default:
		return c.Timeout.Read.value()
	}
}
