// Package extension defines compiled-in extensions and initializes them in
// tier order.
//
// Each tier may only observe resources produced before it started:
//
//	ExtensionOnly    nothing but app metadata and limits
//	SimpleState      same, plus results of earlier tiers
//	CapabilityBased  the compiled capability set and the keepalive counter
//	ComplexContext   the bridge and process metadata
package extension

// Tier orders extension initialization.
type Tier int

// Initialization tiers, lowest first.
const (
	ExtensionOnly Tier = iota
	SimpleState
	CapabilityBased
	ComplexContext
)

// Tiers lists every tier in initialization order.
var Tiers = []Tier{ExtensionOnly, SimpleState, CapabilityBased, ComplexContext}

// String returns a string representation of the tier.
func (t Tier) String() string {
	switch t {
	case ExtensionOnly:
		return "extension-only"
	case SimpleState:
		return "simple-state"
	case CapabilityBased:
		return "capability-based"
	case ComplexContext:
		return "complex-context"
	default:
		return "unknown"
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t >= ExtensionOnly && t <= ComplexContext
}
