// Package model resolves a client-requested model name to the upstream
// model name the proxy forwards.
package model

import "strings"

// DefaultUpstreamModel is returned when neither an explicit map entry nor a
// heuristic matches.
const DefaultUpstreamModel = "claude-4-sonnet"

// Resolve maps a requested model name to an upstream model name.
//
// Priority: (1) an exact entry in modelMap, (2) a fixed-priority substring
// heuristic over the lowercased name, (3) DefaultUpstreamModel. Resolve
// never errors; an unrecognized name simply falls through to the default.
func Resolve(requested string, modelMap map[string]string) string {
	if upstream, ok := modelMap[requested]; ok {
		return upstream
	}

	lower := strings.ToLower(requested)
	switch {
	case strings.Contains(lower, "opus-4-5"), strings.Contains(lower, "4-5-opus"):
		return "claude-opus-4-5"
	case strings.Contains(lower, "4-opus"), strings.Contains(lower, "opus-4"):
		return "claude-4-opus"
	case strings.Contains(lower, "haiku"):
		return "claude-haiku-4-5"
	case strings.Contains(lower, "3-5") && strings.Contains(lower, "sonnet"):
		return "claude-3-5-sonnet"
	default:
		return DefaultUpstreamModel
	}
}
