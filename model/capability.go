// Package model provides capability-based model selection for the benchmark
// pipeline. Instead of hardcoding model names, stages specify capabilities
// (subject, judge) and the registry resolves them to configured endpoints
// with fallback chains.
package model

// Capability represents a semantic capability for model selection.
// Instead of specifying "gpt-4o", pipeline stages specify "subject" or "judge".
type Capability string

const (
	// CapabilitySubject is the model under evaluation. It answers benchmark
	// questions given conversation context.
	CapabilitySubject Capability = "subject"

	// CapabilityJudge grades responses against rubrics and style profiles.
	CapabilityJudge Capability = "judge"

	// CapabilityFast is for smoke runs and fixture-backed tests.
	CapabilityFast Capability = "fast"
)

// StageCapabilities maps pipeline stages to their default capability.
// Used when no explicit capability or model is specified.
var StageCapabilities = map[string]Capability{
	"dispatch": CapabilitySubject,
	"score":    CapabilityJudge,
	"smoke":    CapabilityFast,
}

// CapabilityForStage returns the default capability for a pipeline stage.
// Returns CapabilitySubject as fallback for unknown stages.
func CapabilityForStage(stage string) Capability {
	if cap, ok := StageCapabilities[stage]; ok {
		return cap
	}
	return CapabilitySubject
}

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilitySubject, CapabilityJudge, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	cap := Capability(s)
	if cap.IsValid() {
		return cap
	}
	return ""
}
