package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes that decision cycles resolve to a
// safe wait. Wrap with fmt.Errorf("...: %w", Err...) and test with errors.Is.
var (
	ErrSensorUnavailable   = errors.New("sensor unavailable")
	ErrAdvisoryUnavailable = errors.New("advisory unavailable")
	ErrBudgetExceeded      = errors.New("advisory budget exceeded")
	ErrHardwareCommand     = errors.New("hardware command failure")
)

// SafetyViolation is returned by the safety gate when a proposed decision
// fails one of the hard checks. It carries the specific check so operators
// can distinguish "no watering needed" from "watering blocked by X".
type SafetyViolation struct {
	Check  string // e.g. "system_disabled", "rate_limit_interval"
	Zone   string
	Reason string
}

func (v *SafetyViolation) Error() string {
	return fmt.Sprintf("safety violation [%s] zone=%s: %s", v.Check, v.Zone, v.Reason)
}

// AsSafetyViolation unwraps err into a *SafetyViolation if it is one.
func AsSafetyViolation(err error) (*SafetyViolation, bool) {
	var v *SafetyViolation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// ConfigurationError marks a zone whose configuration failed validation.
// Fatal to that zone's automation only, never to the process.
type ConfigurationError struct {
	Zone   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error zone=%s: %s", e.Zone, e.Reason)
}
