// Package security provides authorization and access control for inventory counts.
package security

import (
	"fmt"

	"tireshop/internal/core/apperror"
)

// Capability is a per-count permission granted through a user assignment.
type Capability string

const (
	CapabilityCount    Capability = "count"
	CapabilityAdjust   Capability = "adjust"
	CapabilityValidate Capability = "validate"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityCount, CapabilityAdjust, CapabilityValidate:
		return true
	}
	return false
}

// Grant is the set of capabilities one user holds on one count.
type Grant struct {
	Count    bool
	Adjust   bool
	Validate bool
}

// Has checks a single capability.
func (g Grant) Has(c Capability) bool {
	switch c {
	case CapabilityCount:
		return g.Count
	case CapabilityAdjust:
		return g.Adjust
	case CapabilityValidate:
		return g.Validate
	}
	return false
}

// Any reports whether anything was granted.
func (g Grant) Any() bool {
	return g.Count || g.Adjust || g.Validate
}

// NewPermissionDenied builds the error returned for any failed capability check.
func NewPermissionDenied(required ...Capability) *apperror.AppError {
	caps := make([]string, len(required))
	for i, c := range required {
		caps[i] = string(c)
	}
	msg := "override capability required"
	if len(caps) > 0 {
		msg = fmt.Sprintf("capability %v required", caps)
	}
	return apperror.NewForbidden(msg).WithDetail("required", caps)
}
